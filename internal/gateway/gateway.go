// Package gateway is the payment gateway adapter: remote order creation,
// HMAC signature verification for payments and webhooks, and a sandbox mode
// that keeps the whole pipeline exercisable without live credentials.
package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Hamdan0407/backend-perfumes-sub000/internal/config"
	"github.com/Hamdan0407/backend-perfumes-sub000/internal/database"
)

const sandboxOrderPrefix = "order_sandbox_"

// SandboxKeyID is returned as the public key in sandbox mode so clients can
// recognize that no real payment gateway is behind the order.
const SandboxKeyID = "rzp_test_sandbox"

type OrderRequest struct {
	Amount        int64 // minor units (paise, cents)
	Currency      string
	Receipt       string // our order number, doubles as the idempotency receipt
	CustomerID    string
	CustomerEmail string
	CustomerPhone string
}

type OrderResponse struct {
	RemoteOrderID string `json:"remote_order_id"`
	KeyID         string `json:"key_id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Sandbox       bool   `json:"sandbox"`
}

type Client struct {
	keyID         string
	keySecret     string
	webhookSecret string
	currency      string
	baseURL       string
	httpClient    *http.Client
	logger        *zap.Logger
}

func NewClient(cfg *config.GatewayConfig, logger *zap.Logger) *Client {
	c := &Client{
		keyID:         cfg.KeyID,
		keySecret:     cfg.KeySecret,
		webhookSecret: cfg.WebhookSecret,
		currency:      cfg.Currency,
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		logger:        logger,
	}
	if c.Sandbox() {
		logger.Warn("payment gateway running in SANDBOX mode: order ids are synthetic, no money moves")
	}
	return c
}

// Sandbox reports whether the adapter is running without usable
// credentials. Placeholder values from a checked-in .env.example count as
// missing.
func (c *Client) Sandbox() bool {
	return isPlaceholder(c.keyID) || isPlaceholder(c.keySecret)
}

func isPlaceholder(s string) bool {
	if s == "" {
		return true
	}
	lower := strings.ToLower(s)
	return strings.Contains(lower, "dummy") ||
		strings.Contains(lower, "placeholder") ||
		strings.Contains(lower, "your_")
}

func (c *Client) Currency() string {
	return c.currency
}

// CreateOrder registers the pending payment with the gateway and returns
// the remote order id the client-side widget needs. In sandbox mode the id
// is generated locally; IsSandboxOrder distinguishes those ids so they are
// never mistaken for charged transactions.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error) {
	if req.Currency == "" {
		req.Currency = c.currency
	}

	if c.Sandbox() {
		remoteOrderID := sandboxOrderPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:14]
		c.logger.Info("sandbox gateway order created",
			zap.String("remote_order_id", remoteOrderID),
			zap.String("receipt", req.Receipt),
			zap.Int64("amount", req.Amount))
		return &OrderResponse{
			RemoteOrderID: remoteOrderID,
			KeyID:         SandboxKeyID,
			Amount:        req.Amount,
			Currency:      req.Currency,
			Sandbox:       true,
		}, nil
	}

	body, err := json.Marshal(map[string]interface{}{
		"amount":   req.Amount,
		"currency": req.Currency,
		"receipt":  req.Receipt,
		"notes": map[string]string{
			"customer_id":    req.CustomerID,
			"customer_email": req.CustomerEmail,
			"customer_phone": req.CustomerPhone,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal gateway order: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build gateway request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(c.keyID, c.keySecret)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Error("gateway order creation failed", zap.String("receipt", req.Receipt), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", database.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", database.ErrGatewayUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error("gateway rejected order",
			zap.String("receipt", req.Receipt),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", respBody))
		return nil, fmt.Errorf("%w: status %d", database.ErrGatewayUnavailable, resp.StatusCode)
	}

	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil || parsed.ID == "" {
		return nil, fmt.Errorf("%w: malformed response", database.ErrGatewayUnavailable)
	}

	c.logger.Info("gateway order created",
		zap.String("remote_order_id", parsed.ID),
		zap.String("receipt", req.Receipt))

	return &OrderResponse{
		RemoteOrderID: parsed.ID,
		KeyID:         c.keyID,
		Amount:        req.Amount,
		Currency:      req.Currency,
	}, nil
}

// IsSandboxOrder reports whether a remote order id was synthesized locally.
func IsSandboxOrder(remoteOrderID string) bool {
	return strings.HasPrefix(remoteOrderID, sandboxOrderPrefix)
}

// VerifyPaymentSignature checks the client-side payment receipt:
// HMAC-SHA256 over "orderId|paymentId" with the key secret, hex encoded,
// compared in constant time. Sandbox orders accept the literal signature
// "sandbox" so local flows can complete; real order ids never do.
func (c *Client) VerifyPaymentSignature(remoteOrderID, remotePaymentID, signature string) error {
	if c.Sandbox() && IsSandboxOrder(remoteOrderID) {
		if signature == "sandbox" {
			return nil
		}
		return database.ErrSignatureInvalid
	}

	expected := c.sign([]byte(remoteOrderID+"|"+remotePaymentID), c.keySecret)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return database.ErrSignatureInvalid
	}
	return nil
}

// VerifyWebhookSignature checks the gateway's webhook signature header:
// HMAC-SHA256 over the raw payload bytes with the webhook secret.
func (c *Client) VerifyWebhookSignature(payload []byte, signatureHeader string) error {
	if signatureHeader == "" {
		return database.ErrSignatureInvalid
	}

	expected := c.sign(payload, c.webhookSecret)
	if !hmac.Equal([]byte(expected), []byte(signatureHeader)) {
		return database.ErrSignatureInvalid
	}
	return nil
}

// SignWebhookPayload produces the signature the gateway would send for a
// payload. Exposed for local tooling and tests driving the webhook path.
func (c *Client) SignWebhookPayload(payload []byte) string {
	return c.sign(payload, c.webhookSecret)
}

// SignPayment produces the client payment signature for an order/payment
// pair, as the gateway's checkout widget would.
func (c *Client) SignPayment(remoteOrderID, remotePaymentID string) string {
	return c.sign([]byte(remoteOrderID+"|"+remotePaymentID), c.keySecret)
}

func (c *Client) sign(data []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}
