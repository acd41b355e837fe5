package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/qs3c/paygate_server/internal/pkg/jwt"
	"github.com/qs3c/paygate_server/internal/pkg/response"
)

const (
	UserIDKey = "userID"

	// wsTokenParam 浏览器无法给 WebSocket 握手加请求头，只在握手时接受 query 中的 token
	wsTokenParam = "token"
)

var (
	errMissingToken = errors.New("请提供认证信息")
	errTokenFormat  = errors.New("认证格式错误")
)

// Auth JWT 认证中间件，通过后把用户 ID 写入上下文
func Auth(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := bearerToken(c)
		if err != nil {
			response.AuthError(c, err.Error())
			c.Abort()
			return
		}

		claims, err := jwt.ParseToken(tokenString, jwtSecret)
		if err != nil {
			if errors.Is(err, jwt.ErrExpiredToken) {
				response.AuthError(c, "登录已过期，请重新登录")
			} else {
				response.AuthError(c, "认证失败")
			}
			c.Abort()
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if websocket.IsWebSocketUpgrade(c.Request) {
			if token := c.Query(wsTokenParam); token != "" {
				return token, nil
			}
		}
		return "", errMissingToken
	}

	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	if tokenString == authHeader || tokenString == "" {
		return "", errTokenFormat
	}
	return tokenString, nil
}

// GetUserID 从上下文获取用户 ID
func GetUserID(c *gin.Context) (int64, bool) {
	userID, exists := c.Get(UserIDKey)
	if !exists {
		return 0, false
	}
	id, ok := userID.(int64)
	return id, ok
}
