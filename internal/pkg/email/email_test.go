package email

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/qs3c/paygate_server/config"
)

func TestService_Enabled(t *testing.T) {
	assert.False(t, NewService(&config.EmailConfig{}).Enabled())
	assert.False(t, NewService(nil).Enabled())
	assert.True(t, NewService(&config.EmailConfig{SMTPHost: "smtp.example.com", From: "noreply@example.com"}).Enabled())
}

func TestRenderReceipt(t *testing.T) {
	expires := time.Date(2026, 4, 14, 8, 0, 0, 0, time.UTC)
	body := renderReceipt(&Receipt{
		To:        "ada@example.com",
		Name:      "<Ada>",
		PlanName:  "Half Yearly",
		Amount:    "2.00",
		Currency:  "NGN",
		Reference: "pg_1_00001_abcdef12",
		ExpiresAt: &expires,
	})

	assert.Contains(t, body, "&lt;Ada&gt;")
	assert.Contains(t, body, "Half Yearly")
	assert.Contains(t, body, "2.00 NGN")
	assert.Contains(t, body, "pg_1_00001_abcdef12")
	assert.Contains(t, body, "2026-04-14 08:00 UTC")
	assert.Contains(t, body, `width: 100%;`)
}

func TestRenderReceipt_Defaults(t *testing.T) {
	body := renderReceipt(&Receipt{To: "bob@example.com", PlanName: "Quarterly"})

	assert.Contains(t, body, "您好，bob@example.com！")
}

func TestSendReceipt_NotConfigured(t *testing.T) {
	err := NewService(&config.EmailConfig{}).SendReceipt(&Receipt{To: "a@example.com"})
	assert.Error(t, err)
}

func TestSendReceipt_InvalidRecipient(t *testing.T) {
	s := NewService(&config.EmailConfig{SMTPHost: "127.0.0.1", SMTPPort: 1, From: "noreply@example.com"})
	assert.Error(t, s.SendReceipt(&Receipt{To: "a@example.com\r\nBcc: x@example.com"}))
	assert.Error(t, s.SendReceipt(&Receipt{}))
}
