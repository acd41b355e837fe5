package api

import (
	"github.com/gin-gonic/gin"

	"github.com/qs3c/paygate_server/config"
	"github.com/qs3c/paygate_server/internal/api/handler"
	"github.com/qs3c/paygate_server/internal/api/middleware"
	"github.com/qs3c/paygate_server/internal/entitlement"
	"github.com/qs3c/paygate_server/internal/service"
)

type Router struct {
	authHandler        *handler.AuthHandler
	planHandler        *handler.PlanHandler
	entitlementHandler *handler.EntitlementHandler
	paymentHandler     *handler.PaymentHandler
	websocketHandler   *handler.WebSocketHandler
	accessService      *service.AccessService
	cfg                *config.Config
}

func NewRouter(
	authHandler *handler.AuthHandler,
	planHandler *handler.PlanHandler,
	entitlementHandler *handler.EntitlementHandler,
	paymentHandler *handler.PaymentHandler,
	websocketHandler *handler.WebSocketHandler,
	accessService *service.AccessService,
	cfg *config.Config,
) *Router {
	return &Router{
		authHandler:        authHandler,
		planHandler:        planHandler,
		entitlementHandler: entitlementHandler,
		paymentHandler:     paymentHandler,
		websocketHandler:   websocketHandler,
		accessService:      accessService,
		cfg:                cfg,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(r.cfg.CORS))

	api := engine.Group("/api/v1")
	{
		// WebSocket，推送支付结果
		api.GET("/ws", middleware.Auth(r.cfg.JWT.Secret), r.websocketHandler.Handle)

		// 公开接口 - 认证
		auth := api.Group("/auth")
		{
			auth.POST("/register", r.authHandler.Register)
			auth.POST("/login", r.authHandler.Login)
		}

		// 公开接口 - 套餐目录
		api.GET("/plans", r.planHandler.List)

		// 网关回调，靠签名认证
		api.POST("/webhooks/paystack", r.paymentHandler.Webhook)

		// 需要认证的接口
		authenticated := api.Group("")
		authenticated.Use(middleware.Auth(r.cfg.JWT.Secret))
		{
			authenticated.GET("/user/profile", r.authHandler.Profile)
			authenticated.PUT("/user/profile", r.authHandler.UpdateProfile)

			// 订阅与权益
			authenticated.GET("/entitlement", r.entitlementHandler.Get)
			authenticated.GET("/access/:feature", r.entitlementHandler.CheckAccess)
			authenticated.DELETE("/subscription", r.entitlementHandler.Cancel)

			// 支付
			payments := authenticated.Group("/payments")
			{
				payments.POST("", r.paymentHandler.Create)
				payments.GET("", r.paymentHandler.List)
				payments.GET("/remote", r.paymentHandler.Remote)
				payments.GET("/:reference", r.paymentHandler.Get)
				payments.POST("/:reference/callback", r.paymentHandler.Callback)
			}

			// 受限内容，免费日或订阅用户可访问
			content := authenticated.Group("/content")
			content.Use(middleware.RequireFeature(r.accessService, entitlement.FeatureGatedContent))
			{
				content.GET("/status", r.entitlementHandler.Get)
			}
		}
	}

	return engine
}
