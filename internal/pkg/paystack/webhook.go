package paystack

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"

	"github.com/qs3c/paygate_server/internal/payment"
)

// SignatureHeader Paystack 对 webhook 原始 body 做 HMAC-SHA512 后放在该请求头
const SignatureHeader = "x-paystack-signature"

const EventChargeSuccess = "charge.success"

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrInvalidPayload   = errors.New("invalid webhook payload")
)

// Sign 计算 body 的签名（十六进制小写）
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature 常量时间比较签名
func VerifySignature(secret string, body []byte, signature string) error {
	if secret == "" || signature == "" {
		return ErrInvalidSignature
	}
	expected := Sign(secret, body)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(signature)))) {
		return ErrInvalidSignature
	}
	return nil
}

// Event webhook 事件
type Event struct {
	ID           string
	Name         string
	Reference    string
	Verification payment.Verification
}

type rawEvent struct {
	Event string `json:"event"`
	Data  struct {
		ID json.Number `json:"id"`
		transaction
	} `json:"data"`
}

// ParseEvent 解析已通过签名校验的 body
func ParseEvent(body []byte) (*Event, error) {
	var raw rawEvent
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, ErrInvalidPayload
	}
	if raw.Event == "" || raw.Data.Reference == "" {
		return nil, ErrInvalidPayload
	}

	id := raw.Data.ID.String()
	if id == "" {
		id = raw.Data.Reference
	}
	return &Event{
		ID:           raw.Event + ":" + id,
		Name:         raw.Event,
		Reference:    raw.Data.Reference,
		Verification: *raw.Data.verification(),
	}, nil
}

// Confirms 只有 charge.success 且状态为 success 才算确认
func (e *Event) Confirms() bool {
	return e.Name == EventChargeSuccess && e.Verification.Status == payment.VerificationSuccess
}
