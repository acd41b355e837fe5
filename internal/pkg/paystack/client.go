package paystack

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/qs3c/paygate_server/internal/payment"
)

const DefaultBaseURL = "https://api.paystack.co"

// Client Paystack 服务端 API，只用到交易查询
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient secret key 以 Bearer 方式携带
func NewClient(baseURL, secretKey string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: secretKey, TokenType: "Bearer"})
	hc := oauth2.NewClient(context.Background(), ts)
	hc.Timeout = timeout
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
	}
}

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type transaction struct {
	Reference       string `json:"reference"`
	Status          string `json:"status"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	PaidAt          string `json:"paid_at"`
	GatewayResponse string `json:"gateway_response"`
}

// Verify 按 reference 查询交易。交易不存在返回 ErrReferenceNotFound，
// 其余网络错误和非 2xx 都包装为 ErrVerificationTransport
func (c *Client) Verify(ctx context.Context, reference string) (*payment.Verification, error) {
	endpoint := c.baseURL + "/transaction/verify/" + url.PathEscape(reference)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrVerificationTransport, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", payment.ErrVerificationTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", payment.ErrVerificationTransport, err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: status %d: invalid response", payment.ErrVerificationTransport, resp.StatusCode)
	}
	if isReferenceNotFound(resp.StatusCode, &env) {
		return nil, fmt.Errorf("%w: %s", payment.ErrReferenceNotFound, env.Message)
	}
	if resp.StatusCode != http.StatusOK || !env.Status {
		return nil, fmt.Errorf("%w: status %d: %s", payment.ErrVerificationTransport, resp.StatusCode, env.Message)
	}

	var tx transaction
	if err := json.Unmarshal(env.Data, &tx); err != nil {
		return nil, fmt.Errorf("%w: decode transaction: %v", payment.ErrVerificationTransport, err)
	}

	return tx.verification(), nil
}

// isReferenceNotFound 未拉起过支付的 reference，网关返回 400/404 和 "Transaction reference not found"
func isReferenceNotFound(code int, env *envelope) bool {
	if env.Status || (code != http.StatusBadRequest && code != http.StatusNotFound) {
		return false
	}
	return strings.Contains(strings.ToLower(env.Message), "reference not found")
}

func (tx *transaction) verification() *payment.Verification {
	v := &payment.Verification{
		Status:          tx.Status,
		Amount:          tx.Amount,
		Currency:        tx.Currency,
		GatewayResponse: tx.GatewayResponse,
	}
	if tx.PaidAt != "" {
		if t, err := time.Parse(time.RFC3339, tx.PaidAt); err == nil {
			v.PaidAt = &t
		}
	}
	return v
}
