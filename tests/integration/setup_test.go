package integration

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/Hamdan0407/backend-perfumes-sub000/internal/checkout"
	"github.com/Hamdan0407/backend-perfumes-sub000/internal/config"
	"github.com/Hamdan0407/backend-perfumes-sub000/internal/coupon"
	"github.com/Hamdan0407/backend-perfumes-sub000/internal/gateway"
	"github.com/Hamdan0407/backend-perfumes-sub000/internal/models"
	"github.com/Hamdan0407/backend-perfumes-sub000/internal/webhook"
)

func setupTestDB(t *testing.T) (*sql.DB, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:14-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}

	host, err := postgres.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := postgres.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port())

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Fatalf("Failed to ping database: %v", err)
	}

	if err := runMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		if err := db.Close(); err != nil {
			t.Logf("Failed to close database: %v", err)
		}
		if err := postgres.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	}

	return db, cleanup
}

func runMigrations(db *sql.DB) error {
	migrationDir := "../../migrations"
	files, err := os.ReadDir(migrationDir)
	if err != nil {
		return fmt.Errorf("read migration directory: %w", err)
	}

	var migrationFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".up.sql") {
			migrationFiles = append(migrationFiles, file.Name())
		}
	}

	sort.Strings(migrationFiles)

	for _, filename := range migrationFiles {
		filePath := filepath.Join(migrationDir, filename)
		content, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("read migration file %s: %w", filename, err)
		}

		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("execute migration %s: %w", filename, err)
		}
	}

	return nil
}

// fakeCart is an in-memory stand-in for the Redis cart store.
type fakeCart struct {
	mu    sync.Mutex
	items map[int64][]models.CartItem
}

func newFakeCart() *fakeCart {
	return &fakeCart{items: make(map[int64][]models.CartItem)}
}

func (f *fakeCart) set(userID int64, items ...models.CartItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[userID] = items
}

func (f *fakeCart) Items(ctx context.Context, userID int64) ([]models.CartItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.CartItem, len(f.items[userID]))
	copy(out, f.items[userID])
	return out, nil
}

func (f *fakeCart) Clear(ctx context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.items, userID)
	return nil
}

// fakeNotifier records notification calls instead of publishing to Kafka.
type fakeNotifier struct {
	mu            sync.Mutex
	confirmed     []string
	statusChanged []string
	refunds       []string
}

func (f *fakeNotifier) OrderConfirmed(order *models.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmed = append(f.confirmed, order.OrderNumber)
}

func (f *fakeNotifier) OrderStatusChanged(order *models.Order, note string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusChanged = append(f.statusChanged, order.OrderNumber+":"+order.Status)
}

func (f *fakeNotifier) RefundRequired(order *models.Order, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds = append(f.refunds, order.OrderNumber)
}

func (f *fakeNotifier) confirmedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.confirmed)
}

func (f *fakeNotifier) refundCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.refunds)
}

type testEnv struct {
	svc      *checkout.Service
	carts    *fakeCart
	notifier *fakeNotifier
	gw       *gateway.Client
	webhooks *webhook.Processor
}

// newTestEnv wires the full pipeline against the container database, with
// the gateway in sandbox mode so no network calls happen.
func newTestEnv(db *sql.DB) *testEnv {
	logger := zap.NewNop()

	gw := gateway.NewClient(&config.GatewayConfig{
		KeyID:         "rzp_test_placeholder",
		KeySecret:     "dummy_secret",
		WebhookSecret: "test_webhook_secret",
		Currency:      "INR",
		BaseURL:       "https://api.razorpay.com/v1",
		Timeout:       5 * time.Second,
	}, logger)

	coupons := coupon.NewValidator([]coupon.Rule{
		{
			Code:           "WELCOME10",
			Type:           coupon.DiscountPercent,
			Value:          decimal.NewFromInt(10),
			MinOrderAmount: decimal.NewFromInt(50),
			Active:         true,
		},
	})

	carts := newFakeCart()
	notifier := &fakeNotifier{}

	svc := checkout.NewService(db, carts, gw, coupons, notifier, &config.CheckoutConfig{
		TaxRate:      decimal.RequireFromString("0.18"),
		ShippingCost: decimal.RequireFromString("10.00"),
	}, logger)

	return &testEnv{
		svc:      svc,
		carts:    carts,
		notifier: notifier,
		gw:       gw,
		webhooks: webhook.NewProcessor(db, gw, svc, logger),
	}
}

func shippingRequest(userID int64) checkout.CheckoutRequest {
	return checkout.CheckoutRequest{
		UserID:          userID,
		ShippingAddress: "12 Rue des Fleurs",
		ShippingCity:    "Lyon",
		ShippingCountry: "France",
		ShippingZipCode: "69001",
	}
}
