package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/paygate_server/internal/pkg/response"
	"github.com/qs3c/paygate_server/internal/service"
)

// RequireFeature 订阅权益检查中间件，未订阅时返回 CodePremiumRequired
func RequireFeature(accessService *service.AccessService, featureID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := GetUserID(c)
		if !ok {
			response.AuthError(c, "")
			c.Abort()
			return
		}

		allowed, err := accessService.CheckAccess(userID, featureID)
		if err != nil {
			response.ServerError(c, "权益检查失败")
			c.Abort()
			return
		}

		if !allowed {
			response.PremiumError(c, "")
			c.Abort()
			return
		}

		c.Next()
	}
}
