// Package checkout implements the order pipeline: cart validation with
// price freezing, gateway order registration, idempotent payment
// confirmation with exactly-once stock deduction, and cancellation with
// stock restoration.
package checkout

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Hamdan0407/backend-perfumes-sub000/internal/config"
	"github.com/Hamdan0407/backend-perfumes-sub000/internal/database"
	"github.com/Hamdan0407/backend-perfumes-sub000/internal/gateway"
	"github.com/Hamdan0407/backend-perfumes-sub000/internal/models"
	"github.com/Hamdan0407/backend-perfumes-sub000/internal/notify"
	"github.com/Hamdan0407/backend-perfumes-sub000/internal/store"
)

// CartStore is the slice of the cart layer checkout needs.
type CartStore interface {
	Items(ctx context.Context, userID int64) ([]models.CartItem, error)
	Clear(ctx context.Context, userID int64) error
}

// Gateway is the payment gateway surface checkout depends on.
type Gateway interface {
	CreateOrder(ctx context.Context, req gateway.OrderRequest) (*gateway.OrderResponse, error)
	VerifyPaymentSignature(remoteOrderID, remotePaymentID, signature string) error
	Currency() string
}

// CouponValidator answers what discount a code gives on a subtotal.
type CouponValidator interface {
	Validate(code string, subtotal decimal.Decimal) (decimal.Decimal, error)
}

type Service struct {
	db           *sql.DB
	carts        CartStore
	gateway      Gateway
	coupons      CouponValidator
	notifier     notify.Notifier
	logger       *zap.Logger
	taxRate      decimal.Decimal
	shippingCost decimal.Decimal
}

func NewService(db *sql.DB, carts CartStore, gw Gateway, coupons CouponValidator, notifier notify.Notifier, cfg *config.CheckoutConfig, logger *zap.Logger) *Service {
	return &Service{
		db:           db,
		carts:        carts,
		gateway:      gw,
		coupons:      coupons,
		notifier:     notifier,
		logger:       logger,
		taxRate:      cfg.TaxRate,
		shippingCost: cfg.ShippingCost,
	}
}

type CheckoutRequest struct {
	UserID          int64  `json:"-"`
	CouponCode      string `json:"coupon_code,omitempty"`
	CustomerEmail   string `json:"customer_email,omitempty"`
	ShippingAddress string `json:"shipping_address"`
	ShippingCity    string `json:"shipping_city"`
	ShippingCountry string `json:"shipping_country"`
	ShippingZipCode string `json:"shipping_zip_code"`
	ShippingPhone   string `json:"shipping_phone,omitempty"`
}

// CheckoutResult carries everything the client-side payment widget needs.
type CheckoutResult struct {
	Order         *models.Order `json:"order"`
	RemoteOrderID string        `json:"remote_order_id"`
	KeyID         string        `json:"key_id"`
	Amount        int64         `json:"amount"`
	Currency      string        `json:"currency"`
	Sandbox       bool          `json:"sandbox"`
}

// Checkout validates the user's cart against live stock under row locks,
// freezes unit prices into a PLACED order, and registers the pending
// payment with the gateway. Stock is NOT deducted here; deduction happens
// exactly once at payment confirmation. The product locks are released
// when the order transaction commits, before the gateway round trip, so
// no lock is ever held across a network call.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	items, err := s.carts.Items(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, database.ErrEmptyCart
	}

	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}

	var order *models.Order

	err = database.WithRetry(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		products, err := store.LockProducts(ctx, tx, ids)
		if err != nil {
			return err
		}

		var issues []StockIssue
		orderItems := make([]models.OrderItem, 0, len(items))
		subtotal := decimal.Zero

		for _, item := range items {
			product, ok := products[item.ProductID]
			if !ok {
				issues = append(issues, StockIssue{
					ProductID: item.ProductID,
					Requested: item.Quantity,
					Reason:    reasonNotFound,
				})
				continue
			}
			if !product.Active {
				issues = append(issues, StockIssue{
					ProductID: product.ID,
					Name:      product.Name,
					Requested: item.Quantity,
					Reason:    reasonInactive,
				})
				continue
			}
			if product.Stock < item.Quantity {
				issues = append(issues, StockIssue{
					ProductID: product.ID,
					Name:      product.Name,
					Requested: item.Quantity,
					Available: product.Stock,
					Reason:    reasonInsufficientStock,
				})
				continue
			}

			unitPrice := product.EffectivePrice()
			lineSubtotal := unitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
			subtotal = subtotal.Add(lineSubtotal)
			orderItems = append(orderItems, models.OrderItem{
				ProductID: product.ID,
				Quantity:  item.Quantity,
				UnitPrice: unitPrice,
				Subtotal:  lineSubtotal,
			})
		}

		if len(issues) > 0 {
			return &StockUnavailableError{Issues: issues}
		}

		discount := decimal.Zero
		couponCode := ""
		if code := strings.TrimSpace(req.CouponCode); code != "" {
			// A bad coupon never fails checkout; the order just loses
			// its discount.
			d, couponErr := s.coupons.Validate(code, subtotal)
			if couponErr != nil {
				s.logger.Warn("coupon validation failed",
					zap.String("code", code), zap.Error(couponErr))
			} else {
				discount = d
				couponCode = strings.ToUpper(code)
			}
		}

		tax := subtotal.Mul(s.taxRate).Round(2)
		total := subtotal.Add(tax).Add(s.shippingCost).Sub(discount)

		order = &models.Order{
			UserID:          req.UserID,
			OrderNumber:     generateOrderNumber(),
			Status:          models.OrderStatusPlaced,
			Subtotal:        subtotal,
			Tax:             tax,
			ShippingCost:    s.shippingCost,
			Discount:        discount,
			CouponCode:      couponCode,
			Total:           total,
			ShippingAddress: req.ShippingAddress,
			ShippingCity:    req.ShippingCity,
			ShippingCountry: req.ShippingCountry,
			ShippingZipCode: req.ShippingZipCode,
			ShippingPhone:   req.ShippingPhone,
			Items:           orderItems,
		}

		return store.InsertOrder(ctx, tx, order)
	})
	if err != nil {
		return nil, err
	}

	amount := order.Total.Mul(decimal.NewFromInt(100)).IntPart()

	gwOrder, err := s.gateway.CreateOrder(ctx, gateway.OrderRequest{
		Amount:        amount,
		Currency:      s.gateway.Currency(),
		Receipt:       order.OrderNumber,
		CustomerID:    fmt.Sprintf("%d", order.UserID),
		CustomerEmail: req.CustomerEmail,
		CustomerPhone: req.ShippingPhone,
	})
	if err != nil {
		// No stock was deducted, so cancelling is just a status flip. The
		// order row is kept for auditability rather than deleted.
		s.cancelAfterGatewayFailure(ctx, order)
		return nil, err
	}

	if err := store.SetRemoteOrderID(ctx, s.db, order.ID, gwOrder.RemoteOrderID); err != nil {
		return nil, err
	}
	order.RemoteOrderID = gwOrder.RemoteOrderID

	s.logger.Info("order placed",
		zap.String("order_number", order.OrderNumber),
		zap.Int64("user_id", order.UserID),
		zap.String("remote_order_id", gwOrder.RemoteOrderID),
		zap.String("total", order.Total.StringFixed(2)),
		zap.Bool("sandbox", gwOrder.Sandbox))

	return &CheckoutResult{
		Order:         order,
		RemoteOrderID: gwOrder.RemoteOrderID,
		KeyID:         gwOrder.KeyID,
		Amount:        gwOrder.Amount,
		Currency:      gwOrder.Currency,
		Sandbox:       gwOrder.Sandbox,
	}, nil
}

func (s *Service) cancelAfterGatewayFailure(ctx context.Context, order *models.Order) {
	err := database.WithTransaction(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		return store.UpdateOrderStatus(ctx, tx, order.ID, models.OrderStatusCancelled)
	})
	if err != nil {
		s.logger.Error("cancel order after gateway failure",
			zap.String("order_number", order.OrderNumber), zap.Error(err))
		return
	}
	order.Status = models.OrderStatusCancelled
}

// VerifyAndConfirm is the client-side confirmation entry: it checks the
// payment signature the checkout widget returned, then runs the same
// idempotent confirmation as the webhook path.
func (s *Service) VerifyAndConfirm(ctx context.Context, remoteOrderID, remotePaymentID, signature string) (*models.Order, error) {
	if err := s.gateway.VerifyPaymentSignature(remoteOrderID, remotePaymentID, signature); err != nil {
		return nil, err
	}
	return s.ConfirmPayment(ctx, remoteOrderID, remotePaymentID)
}

// ConfirmPayment is the single confirmation entry for both the webhook
// and the client verify call. It serializes on the order row lock, so
// concurrent deliveries of the same payment line up here; every caller
// after the first finds the order past PLACED and commits a no-op.
// Stock is deducted in the same transaction as the status flip, which is
// what makes the deduction exactly-once.
//
// If stock ran out between checkout and confirmation, the payment has
// already been captured for goods that cannot ship; the order is
// cancelled and a refund notification is emitted. The returned error is
// the per-product shortfall report.
func (s *Service) ConfirmPayment(ctx context.Context, remoteOrderID, remotePaymentID string) (*models.Order, error) {
	if remotePaymentID == "" {
		return nil, database.ErrPaymentIDRequired
	}

	var (
		order       *models.Order
		alreadyDone bool
		shortfall   *StockUnavailableError
	)

	err := database.WithRetry(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		// Reset per attempt; a retried transaction starts from scratch.
		order = nil
		alreadyDone = false
		shortfall = nil

		o, err := store.GetOrderByRemoteOrderIDForUpdate(ctx, tx, remoteOrderID)
		if err != nil {
			return err
		}
		order = o

		if order.Status != models.OrderStatusPlaced {
			alreadyDone = true
			return nil
		}

		ids := make([]int64, 0, len(order.Items))
		for _, item := range order.Items {
			ids = append(ids, item.ProductID)
		}

		products, err := store.LockProducts(ctx, tx, ids)
		if err != nil {
			return err
		}

		var issues []StockIssue
		for _, item := range order.Items {
			product, ok := products[item.ProductID]
			if !ok {
				issues = append(issues, StockIssue{
					ProductID: item.ProductID,
					Requested: item.Quantity,
					Reason:    reasonNotFound,
				})
				continue
			}
			if product.Stock < item.Quantity {
				issues = append(issues, StockIssue{
					ProductID: product.ID,
					Name:      product.Name,
					Requested: item.Quantity,
					Available: product.Stock,
					Reason:    reasonInsufficientStock,
				})
			}
		}

		if len(issues) > 0 {
			shortfall = &StockUnavailableError{Issues: issues}
			order.Status = models.OrderStatusCancelled
			order.RemotePaymentID = remotePaymentID
			return store.SetPaymentConfirmed(ctx, tx, order.ID, models.OrderStatusCancelled, remotePaymentID)
		}

		for _, item := range order.Items {
			if err := store.DecrementStock(ctx, tx, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}

		order.Status = models.OrderStatusConfirmed
		order.RemotePaymentID = remotePaymentID
		return store.SetPaymentConfirmed(ctx, tx, order.ID, models.OrderStatusConfirmed, remotePaymentID)
	})
	if err != nil {
		return nil, err
	}

	if alreadyDone {
		s.logger.Info("payment confirmation replay, no-op",
			zap.String("order_number", order.OrderNumber),
			zap.String("remote_order_id", remoteOrderID),
			zap.String("status", order.Status))
		return order, nil
	}

	if shortfall != nil {
		s.logger.Warn("stock ran out before confirmation, order cancelled pending refund",
			zap.String("order_number", order.OrderNumber),
			zap.String("remote_payment_id", remotePaymentID),
			zap.String("shortfall", shortfall.Error()))
		s.notifier.RefundRequired(order, shortfall.Error())
		return order, shortfall
	}

	// The cart is cleared only after payment succeeds so an abandoned
	// payment leaves it intact. A failure here costs the user a stale
	// cart, never a broken order.
	if err := s.carts.Clear(ctx, order.UserID); err != nil {
		s.logger.Warn("clear cart after confirmation",
			zap.Int64("user_id", order.UserID), zap.Error(err))
	}

	s.notifier.OrderConfirmed(order)

	s.logger.Info("payment confirmed",
		zap.String("order_number", order.OrderNumber),
		zap.String("remote_payment_id", remotePaymentID))

	return order, nil
}

// Cancel is the customer-facing cancellation. Orders that have reached
// fulfilment (PACKED and beyond) can no longer be self-cancelled. Stock
// is restored only when it was deducted, i.e. from CONFIRMED; a PLACED
// order never touched stock. Cancelling an already cancelled or refunded
// order is a no-op.
func (s *Service) Cancel(ctx context.Context, userID, orderID int64) (*models.Order, error) {
	var (
		order       *models.Order
		alreadyDone bool
		refund      bool
	)

	err := database.WithRetry(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		order = nil
		alreadyDone = false
		refund = false

		o, err := store.GetOrderForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if o.UserID != userID {
			return database.ErrOrderNotFound
		}
		order = o

		switch order.Status {
		case models.OrderStatusCancelled, models.OrderStatusRefunded:
			alreadyDone = true
			return nil
		case models.OrderStatusPacked, models.OrderStatusShipped, models.OrderStatusDelivered:
			return database.ErrCancelNotAllowed
		case models.OrderStatusConfirmed:
			if err := s.restoreOrderStock(ctx, tx, order); err != nil {
				return err
			}
			refund = true
		}

		order.Status = models.OrderStatusCancelled
		return store.UpdateOrderStatus(ctx, tx, order.ID, models.OrderStatusCancelled)
	})
	if err != nil {
		return nil, err
	}

	if alreadyDone {
		return order, nil
	}

	s.notifier.OrderStatusChanged(order, "cancelled by customer")
	if refund {
		s.notifier.RefundRequired(order, "paid order cancelled by customer")
	}

	s.logger.Info("order cancelled",
		zap.String("order_number", order.OrderNumber),
		zap.Bool("refund_required", refund))

	return order, nil
}

// stockDeducted reports whether an order in the given status holds
// deducted stock. Only confirmation deducts, and only cancellation or
// refund restores, so every status from CONFIRMED up to DELIVERED does.
func stockDeducted(status string) bool {
	switch status {
	case models.OrderStatusConfirmed, models.OrderStatusPacked,
		models.OrderStatusShipped, models.OrderStatusDelivered:
		return true
	}
	return false
}

// UpdateStatus is the back-office transition. Moving a stock-holding
// order into CANCELLED or REFUNDED restores stock exactly once; the
// CANCELLED to REFUNDED hop does not restore again because CANCELLED no
// longer holds stock. Terminal states only allow that hop.
func (s *Service) UpdateStatus(ctx context.Context, orderID int64, newStatus, note string) (*models.Order, error) {
	if !models.ValidOrderStatus(newStatus) {
		return nil, fmt.Errorf("invalid order status %q", newStatus)
	}

	var (
		order       *models.Order
		alreadyDone bool
		refund      bool
	)

	err := database.WithRetry(ctx, s.db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		order = nil
		alreadyDone = false
		refund = false

		o, err := store.GetOrderForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		order = o

		if order.Status == newStatus {
			alreadyDone = true
			return nil
		}

		switch order.Status {
		case models.OrderStatusCancelled:
			if newStatus != models.OrderStatusRefunded {
				return fmt.Errorf("%w: order is cancelled", database.ErrCancelNotAllowed)
			}
		case models.OrderStatusRefunded:
			return fmt.Errorf("%w: order is refunded", database.ErrCancelNotAllowed)
		}

		terminal := newStatus == models.OrderStatusCancelled || newStatus == models.OrderStatusRefunded
		if terminal && stockDeducted(order.Status) {
			if err := s.restoreOrderStock(ctx, tx, order); err != nil {
				return err
			}
			refund = true
		}

		order.Status = newStatus
		return store.UpdateOrderStatus(ctx, tx, order.ID, newStatus)
	})
	if err != nil {
		return nil, err
	}

	if alreadyDone {
		return order, nil
	}

	s.notifier.OrderStatusChanged(order, note)
	if refund {
		s.notifier.RefundRequired(order, "paid order moved to "+order.Status)
	}

	s.logger.Info("order status updated",
		zap.String("order_number", order.OrderNumber),
		zap.String("status", order.Status))

	return order, nil
}

// restoreOrderStock adds the order's quantities back under the same
// batch locking discipline as every other multi-product path.
func (s *Service) restoreOrderStock(ctx context.Context, tx *sql.Tx, order *models.Order) error {
	ids := make([]int64, 0, len(order.Items))
	for _, item := range order.Items {
		ids = append(ids, item.ProductID)
	}
	if _, err := store.LockProducts(ctx, tx, ids); err != nil {
		return err
	}
	for _, item := range order.Items {
		if err := store.RestoreStock(ctx, tx, item.ProductID, item.Quantity); err != nil {
			return err
		}
	}
	return nil
}

// GetOrder returns the order with its items, scoped to the owning user.
// A zero userID skips the ownership check for back-office callers.
func (s *Service) GetOrder(ctx context.Context, userID, orderID int64) (*models.Order, error) {
	order, err := store.GetOrder(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}
	if userID != 0 && order.UserID != userID {
		return nil, database.ErrOrderNotFound
	}
	return order, nil
}

func (s *Service) ListOrders(ctx context.Context, userID int64, limit int) ([]models.Order, error) {
	return store.ListUserOrders(ctx, s.db, userID, limit)
}

func generateOrderNumber() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return "ORD-" + time.Now().UTC().Format("20060102") + "-" + suffix
}
