package email

import (
	"fmt"
	"html"
	"net/smtp"
	"strings"
	"time"

	"github.com/qs3c/paygate_server/config"
)

type Service struct {
	cfg *config.EmailConfig
}

func NewService(cfg *config.EmailConfig) *Service {
	return &Service{cfg: cfg}
}

// Enabled 未配置 SMTP 时不发送邮件
func (s *Service) Enabled() bool {
	return s != nil && s.cfg != nil && s.cfg.SMTPHost != "" && s.cfg.From != ""
}

// Receipt 支付成功收据
type Receipt struct {
	To        string
	Name      string
	PlanName  string
	Amount    string
	Currency  string
	Reference string
	ExpiresAt *time.Time
}

// SendReceipt 发送支付收据
func (s *Service) SendReceipt(r *Receipt) error {
	subject := "支付成功 - " + r.PlanName
	return s.sendHTML(r.To, subject, renderReceipt(r))
}

func renderReceipt(r *Receipt) string {
	name := r.Name
	if name == "" {
		name = r.To
	}
	expires := "-"
	if r.ExpiresAt != nil {
		expires = r.ExpiresAt.UTC().Format("2006-01-02 15:04 UTC")
	}

	return fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
</head>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
    <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
        <h2 style="color: #2563eb;">支付成功</h2>
        <p>您好，%s！</p>
        <p>您已成功订阅 <strong>%s</strong>，感谢支持。</p>
        <table style="width: 100%%; border-collapse: collapse; margin: 20px 0;">
            <tr><td style="padding: 8px; background-color: #f3f4f6;">金额</td><td style="padding: 8px;">%s %s</td></tr>
            <tr><td style="padding: 8px; background-color: #f3f4f6;">流水号</td><td style="padding: 8px;">%s</td></tr>
            <tr><td style="padding: 8px; background-color: #f3f4f6;">到期时间</td><td style="padding: 8px;">%s</td></tr>
        </table>
        <hr style="border: none; border-top: 1px solid #e5e7eb; margin: 20px 0;">
        <p style="color: #6b7280; font-size: 12px;">此邮件由系统自动发送，请勿回复。</p>
    </div>
</body>
</html>
`, html.EscapeString(name), html.EscapeString(r.PlanName), html.EscapeString(r.Amount),
		html.EscapeString(r.Currency), html.EscapeString(r.Reference), expires)
}

// sendHTML 发送 HTML 邮件
func (s *Service) sendHTML(to, subject, body string) error {
	if !s.Enabled() {
		return fmt.Errorf("email service is not configured")
	}
	if to == "" || strings.ContainsAny(to, "\r\n") {
		return fmt.Errorf("invalid recipient %q", to)
	}

	headers := [][2]string{
		{"From", s.cfg.From},
		{"To", to},
		{"Subject", subject},
		{"MIME-Version", "1.0"},
		{"Content-Type", "text/html; charset=UTF-8"},
	}

	var msg strings.Builder
	for _, h := range headers {
		msg.WriteString(fmt.Sprintf("%s: %s\r\n", h[0], h[1]))
	}
	msg.WriteString("\r\n")
	msg.WriteString(body)

	auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.SMTPHost)
	addr := fmt.Sprintf("%s:%d", s.cfg.SMTPHost, s.cfg.SMTPPort)

	return smtp.SendMail(addr, auth, s.cfg.From, []string{to}, []byte(msg.String()))
}
