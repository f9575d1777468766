package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Hamdan0407/backend-perfumes-sub000/internal/httpapi"
	"github.com/Hamdan0407/backend-perfumes-sub000/internal/models"
	"github.com/Hamdan0407/backend-perfumes-sub000/internal/store"
)

func TestAPIFlow(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	env := newTestEnv(db)

	server := httptest.NewServer(httpapi.NewHandler(env.svc, env.webhooks, zap.NewNop()).Routes())
	defer server.Close()

	product, err := store.CreateProduct(ctx, db, "PRF-API", "Bergamot 50ml", "", decimal.NewFromInt(50), nil, 5)
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}
	env.carts.set(7, models.CartItem{ProductID: product.ID, Quantity: 2})

	do := func(method, path string, body []byte, headers map[string]string) (*http.Response, []byte) {
		t.Helper()
		req, err := http.NewRequest(method, server.URL+path, bytes.NewReader(body))
		if err != nil {
			t.Fatalf("build request: %v", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", method, path, err)
		}
		defer resp.Body.Close()
		var buf bytes.Buffer
		buf.ReadFrom(resp.Body)
		return resp, buf.Bytes()
	}

	userHeaders := map[string]string{"X-User-ID": "7", "Content-Type": "application/json"}

	// Missing auth header.
	resp, _ := do(http.MethodPost, "/api/checkout", []byte(`{}`), nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("checkout without user header: status = %d, want 400", resp.StatusCode)
	}

	// Checkout.
	checkoutBody := []byte(`{
		"shipping_address": "12 Rue des Fleurs",
		"shipping_city": "Lyon",
		"shipping_country": "France",
		"shipping_zip_code": "69001"
	}`)
	resp, body := do(http.MethodPost, "/api/checkout", checkoutBody, userHeaders)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("checkout: status = %d, body = %s", resp.StatusCode, body)
	}

	var placed struct {
		Order struct {
			ID int64 `json:"id"`
		} `json:"order"`
		RemoteOrderID string `json:"remote_order_id"`
		Sandbox       bool   `json:"sandbox"`
	}
	if err := json.Unmarshal(body, &placed); err != nil {
		t.Fatalf("parse checkout response: %v", err)
	}
	if !placed.Sandbox {
		t.Error("expected sandbox checkout result")
	}

	// Webhook with a bad signature is rejected up front.
	payload := webhookPayload("evt_api", "payment.authorized", placed.RemoteOrderID, "pay_api")
	resp, _ = do(http.MethodPost, "/api/payment/webhook", payload, map[string]string{
		"X-Razorpay-Signature": "forged",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("forged webhook: status = %d, want 400", resp.StatusCode)
	}

	// Properly signed webhook confirms the order.
	resp, body = do(http.MethodPost, "/api/payment/webhook", payload, map[string]string{
		"X-Razorpay-Signature": env.gw.SignWebhookPayload(payload),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("webhook: status = %d, body = %s", resp.StatusCode, body)
	}

	// And again: redelivery still returns 200.
	resp, _ = do(http.MethodPost, "/api/payment/webhook", payload, map[string]string{
		"X-Razorpay-Signature": env.gw.SignWebhookPayload(payload),
	})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("webhook redelivery: status = %d, want 200", resp.StatusCode)
	}

	resp, body = do(http.MethodGet, fmt.Sprintf("/api/orders/%d", placed.Order.ID), nil, userHeaders)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get order: status = %d", resp.StatusCode)
	}
	var order models.Order
	if err := json.Unmarshal(body, &order); err != nil {
		t.Fatalf("parse order: %v", err)
	}
	if order.Status != models.OrderStatusConfirmed {
		t.Errorf("status = %s, want CONFIRMED", order.Status)
	}

	// Another user cannot see it.
	resp, _ = do(http.MethodGet, fmt.Sprintf("/api/orders/%d", placed.Order.ID), nil,
		map[string]string{"X-User-ID": "8"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("foreign order: status = %d, want 404", resp.StatusCode)
	}

	// Empty cart after confirmation.
	resp, _ = do(http.MethodPost, "/api/checkout", checkoutBody, userHeaders)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("checkout with empty cart: status = %d, want 400", resp.StatusCode)
	}

	// Stock conflict surfaces as 409 with per-product issues.
	env.carts.set(7, models.CartItem{ProductID: product.ID, Quantity: 50})
	resp, body = do(http.MethodPost, "/api/checkout", checkoutBody, userHeaders)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("oversized checkout: status = %d, want 409, body = %s", resp.StatusCode, body)
	}

	// Admin transition.
	resp, _ = do(http.MethodPost, fmt.Sprintf("/api/admin/orders/%d/status", placed.Order.ID),
		[]byte(`{"status":"PACKED"}`), userHeaders)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("admin status update: status = %d, want 200", resp.StatusCode)
	}
}
