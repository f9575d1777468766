package integration

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/Hamdan0407/backend-perfumes-sub000/internal/checkout"
	"github.com/Hamdan0407/backend-perfumes-sub000/internal/database"
	"github.com/Hamdan0407/backend-perfumes-sub000/internal/gateway"
	"github.com/Hamdan0407/backend-perfumes-sub000/internal/models"
	"github.com/Hamdan0407/backend-perfumes-sub000/internal/store"
)

func TestCheckoutFreezesPrices(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	env := newTestEnv(db)

	discount := decimal.NewFromInt(80)
	product, err := store.CreateProduct(ctx, db, "PRF-001", "Noir 50ml", "Eau de parfum",
		decimal.NewFromInt(100), &discount, 10)
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}

	env.carts.set(1, models.CartItem{ProductID: product.ID, Quantity: 2})

	result, err := env.svc.Checkout(ctx, shippingRequest(1))
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	order := result.Order
	if order.Status != models.OrderStatusPlaced {
		t.Errorf("status = %s, want PLACED", order.Status)
	}
	if !order.Subtotal.Equal(decimal.NewFromInt(160)) {
		t.Errorf("subtotal = %s, want 160 (discount price applies)", order.Subtotal)
	}
	if !order.Tax.Equal(decimal.RequireFromString("28.80")) {
		t.Errorf("tax = %s, want 28.80", order.Tax)
	}
	if !order.Total.Equal(decimal.RequireFromString("198.80")) {
		t.Errorf("total = %s, want 198.80", order.Total)
	}
	if result.Amount != 19880 {
		t.Errorf("gateway amount = %d, want 19880 minor units", result.Amount)
	}
	if !gateway.IsSandboxOrder(result.RemoteOrderID) {
		t.Errorf("remote order id %q should be sandbox", result.RemoteOrderID)
	}

	// Checkout must not touch stock.
	productAfter, err := store.GetProduct(ctx, db, product.ID)
	if err != nil {
		t.Fatalf("Get product: %v", err)
	}
	if productAfter.Stock != 10 {
		t.Errorf("stock = %d, want 10 (deduction happens at confirmation)", productAfter.Stock)
	}

	// A later price change must not leak into the placed order.
	if err := store.SetPrice(ctx, db, product.ID, decimal.NewFromInt(500)); err != nil {
		t.Fatalf("Set price: %v", err)
	}

	reloaded, err := env.svc.GetOrder(ctx, 1, order.ID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	if len(reloaded.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(reloaded.Items))
	}
	if !reloaded.Items[0].UnitPrice.Equal(decimal.NewFromInt(80)) {
		t.Errorf("frozen unit price = %s, want 80", reloaded.Items[0].UnitPrice)
	}
}

func TestCheckoutEmptyCart(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	env := newTestEnv(db)

	_, err := env.svc.Checkout(context.Background(), shippingRequest(1))
	if !errors.Is(err, database.ErrEmptyCart) {
		t.Errorf("got %v, want ErrEmptyCart", err)
	}
}

func TestCheckoutAggregatesStockIssues(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	env := newTestEnv(db)

	low, err := store.CreateProduct(ctx, db, "PRF-LOW", "Low stock", "", decimal.NewFromInt(50), nil, 1)
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}
	inactive, err := store.CreateProduct(ctx, db, "PRF-OFF", "Delisted", "", decimal.NewFromInt(50), nil, 10)
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}
	if err := store.SetActive(ctx, db, inactive.ID, false); err != nil {
		t.Fatalf("Set active: %v", err)
	}

	env.carts.set(1,
		models.CartItem{ProductID: low.ID, Quantity: 3},
		models.CartItem{ProductID: inactive.ID, Quantity: 1},
		models.CartItem{ProductID: 999999, Quantity: 2},
	)

	_, err = env.svc.Checkout(ctx, shippingRequest(1))

	var stockErr *checkout.StockUnavailableError
	if !errors.As(err, &stockErr) {
		t.Fatalf("got %v, want StockUnavailableError", err)
	}
	if len(stockErr.Issues) != 3 {
		t.Errorf("issues = %d, want all 3 problems reported at once", len(stockErr.Issues))
	}

	// Nothing should have been persisted for the failed attempt.
	orders, err := env.svc.ListOrders(ctx, 1, 10)
	if err != nil {
		t.Fatalf("List orders: %v", err)
	}
	if len(orders) != 0 {
		t.Errorf("orders = %d, want 0", len(orders))
	}
}

func TestCheckoutCoupon(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	env := newTestEnv(db)

	product, err := store.CreateProduct(ctx, db, "PRF-CPN", "Amber 100ml", "", decimal.NewFromInt(100), nil, 10)
	if err != nil {
		t.Fatalf("Create product: %v", err)
	}

	env.carts.set(1, models.CartItem{ProductID: product.ID, Quantity: 2})

	req := shippingRequest(1)
	req.CouponCode = "welcome10"

	result, err := env.svc.Checkout(ctx, req)
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	order := result.Order
	if !order.Discount.Equal(decimal.NewFromInt(20)) {
		t.Errorf("discount = %s, want 20", order.Discount)
	}
	if order.CouponCode != "WELCOME10" {
		t.Errorf("coupon code = %q, want WELCOME10", order.CouponCode)
	}
	// 200 + 36 tax + 10 shipping - 20 discount
	if !order.Total.Equal(decimal.NewFromInt(226)) {
		t.Errorf("total = %s, want 226", order.Total)
	}

	// An invalid code must not fail checkout; the order is placed
	// without a discount.
	env.carts.set(2, models.CartItem{ProductID: product.ID, Quantity: 1})
	badReq := shippingRequest(2)
	badReq.CouponCode = "BOGUS"

	placed, err := env.svc.Checkout(ctx, badReq)
	if err != nil {
		t.Fatalf("Checkout with invalid coupon: %v", err)
	}
	if placed.Order.Status != models.OrderStatusPlaced {
		t.Errorf("status = %s, want PLACED", placed.Order.Status)
	}
	if !placed.Order.Discount.IsZero() {
		t.Errorf("discount = %s, want 0", placed.Order.Discount)
	}
	if placed.Order.CouponCode != "" {
		t.Errorf("coupon code = %q, want empty", placed.Order.CouponCode)
	}
	// 100 + 18 tax + 10 shipping, nothing off
	if !placed.Order.Total.Equal(decimal.NewFromInt(128)) {
		t.Errorf("total = %s, want 128", placed.Order.Total)
	}
}
