package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/paygate_server/internal/catalog"
	"github.com/qs3c/paygate_server/internal/pkg/response"
)

type PlanHandler struct {
	catalog *catalog.Catalog
}

func NewPlanHandler(cat *catalog.Catalog) *PlanHandler {
	return &PlanHandler{catalog: cat}
}

// List 套餐目录
// GET /api/v1/plans
func (h *PlanHandler) List(c *gin.Context) {
	plans := h.catalog.List()
	response.SuccessList(c, len(plans), plans)
}
