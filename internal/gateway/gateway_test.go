package gateway

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Hamdan0407/backend-perfumes-sub000/internal/config"
	"github.com/Hamdan0407/backend-perfumes-sub000/internal/database"
)

func sandboxClient() *Client {
	return NewClient(&config.GatewayConfig{
		KeyID:         "rzp_test_placeholder",
		KeySecret:     "dummy_secret",
		WebhookSecret: "dummy_webhook_secret",
		Currency:      "INR",
		BaseURL:       "https://api.razorpay.com/v1",
		Timeout:       5 * time.Second,
	}, zap.NewNop())
}

func liveClient() *Client {
	return NewClient(&config.GatewayConfig{
		KeyID:         "rzp_live_abc123",
		KeySecret:     "s3cr3t",
		WebhookSecret: "whsec_abc",
		Currency:      "INR",
		BaseURL:       "https://api.razorpay.com/v1",
		Timeout:       5 * time.Second,
	}, zap.NewNop())
}

func TestSandboxDetection(t *testing.T) {
	if !sandboxClient().Sandbox() {
		t.Error("placeholder credentials should put the client in sandbox mode")
	}
	if liveClient().Sandbox() {
		t.Error("real-looking credentials should not be sandbox")
	}
}

func TestSandboxCreateOrder(t *testing.T) {
	c := sandboxClient()

	resp, err := c.CreateOrder(context.Background(), OrderRequest{
		Amount:  12999,
		Receipt: "ORD-20260831-ABCD1234",
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	if !resp.Sandbox {
		t.Error("expected sandbox response")
	}
	if !IsSandboxOrder(resp.RemoteOrderID) {
		t.Errorf("remote order id %q should be recognizable as sandbox", resp.RemoteOrderID)
	}
	if resp.KeyID != SandboxKeyID {
		t.Errorf("key id = %q, want %q", resp.KeyID, SandboxKeyID)
	}
	if resp.Amount != 12999 {
		t.Errorf("amount = %d, want 12999", resp.Amount)
	}
	if resp.Currency != "INR" {
		t.Errorf("currency = %q, want INR", resp.Currency)
	}

	other, err := c.CreateOrder(context.Background(), OrderRequest{Amount: 1, Receipt: "r2"})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if other.RemoteOrderID == resp.RemoteOrderID {
		t.Error("sandbox order ids must be unique")
	}
}

func TestVerifyPaymentSignature(t *testing.T) {
	c := liveClient()

	orderID := "order_Nxyz123"
	paymentID := "pay_Nxyz456"

	sig := c.SignPayment(orderID, paymentID)
	if err := c.VerifyPaymentSignature(orderID, paymentID, sig); err != nil {
		t.Errorf("valid signature rejected: %v", err)
	}

	if err := c.VerifyPaymentSignature(orderID, paymentID, "deadbeef"); !errors.Is(err, database.ErrSignatureInvalid) {
		t.Errorf("forged signature: got %v, want ErrSignatureInvalid", err)
	}

	// Signature over a different payment must not verify.
	otherSig := c.SignPayment(orderID, "pay_other")
	if err := c.VerifyPaymentSignature(orderID, paymentID, otherSig); !errors.Is(err, database.ErrSignatureInvalid) {
		t.Errorf("signature for different payment: got %v, want ErrSignatureInvalid", err)
	}
}

func TestSandboxPaymentSignature(t *testing.T) {
	c := sandboxClient()

	if err := c.VerifyPaymentSignature("order_sandbox_abc123", "pay_local", "sandbox"); err != nil {
		t.Errorf("sandbox order with sandbox signature rejected: %v", err)
	}

	if err := c.VerifyPaymentSignature("order_sandbox_abc123", "pay_local", "wrong"); !errors.Is(err, database.ErrSignatureInvalid) {
		t.Errorf("sandbox order with wrong signature: got %v, want ErrSignatureInvalid", err)
	}

	// The sandbox shortcut must not apply to non-sandbox order ids.
	if err := c.VerifyPaymentSignature("order_real", "pay_local", "sandbox"); !errors.Is(err, database.ErrSignatureInvalid) {
		t.Errorf("real order id with sandbox signature: got %v, want ErrSignatureInvalid", err)
	}
}

func TestVerifyWebhookSignature(t *testing.T) {
	c := liveClient()
	payload := []byte(`{"id":"evt_1","event":"payment.authorized"}`)

	sig := c.SignWebhookPayload(payload)
	if err := c.VerifyWebhookSignature(payload, sig); err != nil {
		t.Errorf("valid webhook signature rejected: %v", err)
	}

	if err := c.VerifyWebhookSignature(payload, ""); !errors.Is(err, database.ErrSignatureInvalid) {
		t.Errorf("missing signature: got %v, want ErrSignatureInvalid", err)
	}

	tampered := []byte(`{"id":"evt_1","event":"payment.captured"}`)
	if err := c.VerifyWebhookSignature(tampered, sig); !errors.Is(err, database.ErrSignatureInvalid) {
		t.Errorf("tampered payload: got %v, want ErrSignatureInvalid", err)
	}
}

func TestIsSandboxOrder(t *testing.T) {
	if !IsSandboxOrder("order_sandbox_0123456789abcd") {
		t.Error("sandbox prefix not recognized")
	}
	if IsSandboxOrder("order_Nxyz123") {
		t.Error("gateway order id misclassified as sandbox")
	}
	if IsSandboxOrder(strings.ToUpper("order_sandbox_x")) {
		t.Error("prefix match must be case sensitive")
	}
}
