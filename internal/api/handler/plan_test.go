package handler

import (
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/paygate_server/internal/catalog"
	"github.com/qs3c/paygate_server/internal/pkg/response"
)

func TestPlanHandler_List(t *testing.T) {
	cat, err := catalog.New(nil)
	require.NoError(t, err)

	router := gin.New()
	router.GET("/plans", NewPlanHandler(cat).List)

	resp := parseResponse(t, performRequest(router, "GET", "/plans", nil))
	require.Equal(t, response.CodeSuccess, resp.Code)

	data := dataMap(t, resp)
	assert.Equal(t, float64(4), data["total"])
	items := data["items"].([]interface{})
	assert.Equal(t, "free", items[0].(map[string]interface{})["id"])
}
