package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"

	"github.com/bothive/backend/internal/config"
)

var (
	// ErrUnavailable means the processor could not be reached or answered 5xx.
	ErrUnavailable = errors.New("payment gateway unavailable")
	// ErrRejected means the processor understood the request and refused it.
	ErrRejected = errors.New("payment gateway rejected request")
)

// Terminal charge states as reported by the processor. A charge in one of
// these states will never become successful, so the journal entry may be
// marked FAILED.
const (
	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusAbandoned = "abandoned"
	StatusReversed  = "reversed"
)

func IsTerminalFailure(gatewayStatus string) bool {
	switch gatewayStatus {
	case StatusFailed, StatusAbandoned, StatusReversed:
		return true
	}
	return false
}

type InitializeResult struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type VerifyResult struct {
	GatewayStatus string `json:"status"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Channel       string `json:"channel"`
}

type MobileChargeResult struct {
	Reference     string `json:"reference"`
	GatewayStatus string `json:"status"`
	DisplayText   string `json:"display_text"`
}

// Gateway is the outbound boundary to the external payment processor. It holds
// no business rules; idempotency and crediting live in the payment service.
type Gateway interface {
	Initialize(ctx context.Context, email string, amount int64, currency string, channels []string, reference string) (*InitializeResult, error)
	Verify(ctx context.Context, reference string) (*VerifyResult, error)
	ChargeMobileMoney(ctx context.Context, email string, amount int64, currency, phone, provider string) (*MobileChargeResult, error)
	CheckStatus(ctx context.Context, reference string) (string, error)
}

type PaystackClient struct {
	baseURL   string
	secretKey string
	client    *http.Client
}

func NewPaystackClient(cfg *config.GatewayConfig) *PaystackClient {
	return &PaystackClient{
		baseURL:   cfg.BaseURL,
		secretKey: cfg.SecretKey,
		client:    &http.Client{Timeout: cfg.CallTimeout},
	}
}

// envelope is the common Paystack response wrapper.
type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (p *PaystackClient) Initialize(ctx context.Context, email string, amount int64, currency string, channels []string, reference string) (*InitializeResult, error) {
	body := map[string]any{
		"email":     email,
		"amount":    amount,
		"currency":  currency,
		"reference": reference,
	}
	if len(channels) > 0 {
		body["channels"] = channels
	}

	var result InitializeResult
	if err := p.post(ctx, "/transaction/initialize", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (p *PaystackClient) Verify(ctx context.Context, reference string) (*VerifyResult, error) {
	var result VerifyResult
	if err := p.get(ctx, "/transaction/verify/"+url.PathEscape(reference), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (p *PaystackClient) ChargeMobileMoney(ctx context.Context, email string, amount int64, currency, phone, provider string) (*MobileChargeResult, error) {
	body := map[string]any{
		"email":    email,
		"amount":   amount,
		"currency": currency,
		"mobile_money": map[string]string{
			"phone":    phone,
			"provider": provider,
		},
	}

	var result MobileChargeResult
	if err := p.post(ctx, "/charge", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (p *PaystackClient) CheckStatus(ctx context.Context, reference string) (string, error) {
	var result struct {
		Status string `json:"status"`
	}
	if err := p.get(ctx, "/charge/"+url.PathEscape(reference), &result); err != nil {
		return "", err
	}
	return result.Status, nil
}

func (p *PaystackClient) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return p.do(req, out)
}

func (p *PaystackClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path, nil)
	if err != nil {
		return err
	}
	return p.do(req, out)
}

func (p *PaystackClient) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+p.secretKey)

	resp, err := p.client.Do(req)
	if err != nil {
		log.Printf("[GATEWAY] Request to %s failed: %v", req.URL.Path, err)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		log.Printf("[GATEWAY] %s returned status %d", req.URL.Path, resp.StatusCode)
		return fmt.Errorf("%w: gateway returned status %d", ErrUnavailable, resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%w: malformed gateway response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode >= http.StatusBadRequest || !env.Status {
		log.Printf("[GATEWAY] %s rejected: %s", req.URL.Path, env.Message)
		return fmt.Errorf("%w: %s", ErrRejected, env.Message)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%w: malformed gateway payload: %v", ErrUnavailable, err)
		}
	}
	return nil
}
