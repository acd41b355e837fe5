package dto

import (
	"github.com/qs3c/paygate_server/internal/model"
	"github.com/qs3c/paygate_server/internal/payment"
)

// CreatePaymentRequest 发起支付
type CreatePaymentRequest struct {
	PlanID string `json:"plan_id" binding:"required"`
}

// CheckoutResponse 客户端拉起支付界面所需的参数
type CheckoutResponse struct {
	Reference string                `json:"reference"`
	Checkout  payment.InvokeRequest `json:"checkout"`
}

// PaymentCallbackRequest 客户端上报的支付界面事件
type PaymentCallbackRequest struct {
	Event string `json:"event" binding:"required,oneof=success dismiss"`
}

// PaymentResponse 单笔支付记录，InFlight 表示尝试仍在进行
type PaymentResponse struct {
	*model.PaymentAttempt
	InFlight bool   `json:"in_flight"`
	State    string `json:"state,omitempty"`
}

// AccessResponse 功能访问判断
type AccessResponse struct {
	Feature string `json:"feature"`
	Allowed bool   `json:"allowed"`
}
