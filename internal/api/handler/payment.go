package handler

import (
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/paygate_server/internal/api/middleware"
	"github.com/qs3c/paygate_server/internal/catalog"
	"github.com/qs3c/paygate_server/internal/model/dto"
	"github.com/qs3c/paygate_server/internal/payment"
	"github.com/qs3c/paygate_server/internal/pkg/paystack"
	"github.com/qs3c/paygate_server/internal/pkg/response"
	"github.com/qs3c/paygate_server/internal/repository"
	"github.com/qs3c/paygate_server/internal/service"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
	maxWebhookBody      = 1 << 20
)

type PaymentHandler struct {
	paymentService *service.PaymentService
}

func NewPaymentHandler(paymentService *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
	}
}

// Create 发起支付，返回客户端拉起支付界面的参数
// POST /api/v1/payments
func (h *PaymentHandler) Create(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	var req dto.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	checkout, err := h.paymentService.BeginPayment(userID, req.PlanID)
	if err != nil {
		switch {
		case errors.Is(err, catalog.ErrPlanNotFound):
			response.NotFoundError(c, err.Error())
		case errors.Is(err, service.ErrPlanNotPurchasable), errors.Is(err, payment.ErrInvalidRequest):
			response.ParamError(c, err.Error())
		case errors.Is(err, service.ErrUserNotFound):
			response.AuthError(c, err.Error())
		default:
			log.Printf("Failed to begin payment for user %d: %v", userID, err)
			response.ServerError(c, "")
		}
		return
	}

	response.Success(c, dto.CheckoutResponse{
		Reference: checkout.Reference,
		Checkout:  checkout.Request,
	})
}

// List 本地支付流水，新的在前
// GET /api/v1/payments?limit=50
func (h *PaymentHandler) List(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultHistoryLimit)))
	if err != nil || limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	history, err := h.paymentService.History(userID, limit)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.SuccessList(c, len(history), history)
}

// Get 单笔支付状态
// GET /api/v1/payments/:reference
func (h *PaymentHandler) Get(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	row, state, err := h.paymentService.GetPayment(userID, c.Param("reference"))
	if err != nil {
		if errors.Is(err, service.ErrPaymentNotFound) {
			response.NotFoundError(c, err.Error())
			return
		}
		response.ServerError(c, "")
		return
	}

	response.Success(c, dto.PaymentResponse{
		PaymentAttempt: row,
		InFlight:       state != "",
		State:          string(state),
	})
}

// Callback 客户端上报支付界面事件
// POST /api/v1/payments/:reference/callback
func (h *PaymentHandler) Callback(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	var req dto.PaymentCallbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	err := h.paymentService.HandleCallback(userID, c.Param("reference"), req.Event)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrPaymentNotInFlight):
			response.NotFoundError(c, err.Error())
		case errors.Is(err, payment.ErrInvalidRequest):
			response.ParamError(c, err.Error())
		default:
			response.ServerError(c, "")
		}
		return
	}

	response.Success(c, nil)
}

// Remote 远端同步的历史，只用于跨设备展示
// GET /api/v1/payments/remote
func (h *PaymentHandler) Remote(c *gin.Context) {
	userID, _ := middleware.GetUserID(c)

	entries, err := h.paymentService.RemoteHistory(c.Request.Context(), userID)
	if err != nil {
		log.Printf("Failed to load remote history for user %d: %v", userID, err)
		response.ServerError(c, "远端记录暂不可用")
		return
	}

	response.SuccessList(c, len(entries), entries)
}

// Webhook 网关回调。返回非 2xx 时网关会重投
// POST /api/v1/webhooks/paystack
func (h *PaymentHandler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	err = h.paymentService.HandleWebhook(c.Request.Context(), body, c.GetHeader(paystack.SignatureHeader))
	switch {
	case err == nil:
		c.Status(http.StatusOK)
	case errors.Is(err, service.ErrWebhookSignature):
		c.Status(http.StatusUnauthorized)
	case errors.Is(err, paystack.ErrInvalidPayload),
		errors.Is(err, service.ErrPaymentNotFound),
		errors.Is(err, repository.ErrReferenceConflict):
		// 重投也无法处理，直接确认
		log.Printf("Webhook dropped: %v", err)
		c.Status(http.StatusOK)
	default:
		log.Printf("Webhook failed: %v", err)
		c.Status(http.StatusInternalServerError)
	}
}
