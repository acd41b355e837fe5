package handler

import (
	"log"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/paygate_server/internal/api/middleware"
	"github.com/qs3c/paygate_server/internal/model/dto"
	"github.com/qs3c/paygate_server/internal/pkg/response"
	"github.com/qs3c/paygate_server/internal/service"
)

type EntitlementHandler struct {
	accessService  *service.AccessService
	paymentService *service.PaymentService
}

func NewEntitlementHandler(accessService *service.AccessService, paymentService *service.PaymentService) *EntitlementHandler {
	return &EntitlementHandler{
		accessService:  accessService,
		paymentService: paymentService,
	}
}

// Get 当前订阅状态
// GET /api/v1/entitlement
func (h *EntitlementHandler) Get(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	snap, err := h.accessService.Entitlement(userID)
	if err != nil {
		log.Printf("Failed to load entitlement for user %d: %v", userID, err)
		response.ServerError(c, "")
		return
	}

	response.Success(c, snap)
}

// CheckAccess 判断能否使用某个功能
// GET /api/v1/access/:feature
func (h *EntitlementHandler) CheckAccess(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)
	feature := strings.TrimSpace(c.Param("feature"))
	if feature == "" {
		response.ParamError(c, "功能 ID 不能为空")
		return
	}

	allowed, err := h.accessService.CheckAccess(userID, feature)
	if err != nil {
		log.Printf("Failed to check access for user %d: %v", userID, err)
		response.ServerError(c, "")
		return
	}

	response.Success(c, dto.AccessResponse{Feature: feature, Allowed: allowed})
}

// Cancel 取消订阅，立即回到免费用户
// DELETE /api/v1/subscription
func (h *EntitlementHandler) Cancel(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	if err := h.paymentService.CancelSubscription(userID); err != nil {
		log.Printf("Failed to cancel subscription for user %d: %v", userID, err)
		response.ServerError(c, "")
		return
	}

	snap, err := h.accessService.Entitlement(userID)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.SuccessWithMessage(c, "订阅已取消", snap)
}
