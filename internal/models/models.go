package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID            int64            `json:"id"`
	SKU           string           `json:"sku"`
	Name          string           `json:"name"`
	Description   string           `json:"description,omitempty"`
	Price         decimal.Decimal  `json:"price"`
	DiscountPrice *decimal.Decimal `json:"discount_price,omitempty"`
	Stock         int              `json:"stock"`
	Active        bool             `json:"active"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// EffectivePrice is the unit price frozen into an order item at checkout:
// the discount price when one is set, otherwise the list price.
func (p *Product) EffectivePrice() decimal.Decimal {
	if p.DiscountPrice != nil {
		return *p.DiscountPrice
	}
	return p.Price
}

type CartItem struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type Order struct {
	ID              int64           `json:"id"`
	UserID          int64           `json:"user_id"`
	OrderNumber     string          `json:"order_number"`
	Status          string          `json:"status"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Tax             decimal.Decimal `json:"tax"`
	ShippingCost    decimal.Decimal `json:"shipping_cost"`
	Discount        decimal.Decimal `json:"discount"`
	CouponCode      string          `json:"coupon_code,omitempty"`
	Total           decimal.Decimal `json:"total"`
	RemoteOrderID   string          `json:"remote_order_id,omitempty"`
	RemotePaymentID string          `json:"remote_payment_id,omitempty"`
	ShippingAddress string          `json:"shipping_address"`
	ShippingCity    string          `json:"shipping_city"`
	ShippingCountry string          `json:"shipping_country"`
	ShippingZipCode string          `json:"shipping_zip_code"`
	ShippingPhone   string          `json:"shipping_phone,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Items           []OrderItem     `json:"items,omitempty"`
}

// OrderItem freezes the unit price at checkout time. Rows are never updated
// after creation; live product price changes do not touch them.
type OrderItem struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"order_id"`
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	CreatedAt time.Time       `json:"created_at"`
}

// WebhookEvent is the idempotency ledger row for an inbound gateway event.
// A row is created (processed=false) before its handler runs so a crash
// mid-handling leaves a retryable row instead of losing the event.
type WebhookEvent struct {
	ID               int64      `json:"id"`
	EventID          string     `json:"event_id"`
	EventType        string     `json:"event_type"`
	Payload          string     `json:"payload"`
	Processed        bool       `json:"processed"`
	ProcessingResult string     `json:"processing_result,omitempty"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	ProcessedAt      *time.Time `json:"processed_at,omitempty"`
}

// Order lifecycle. PLACED is the pre-payment state; confirmation moves the
// order to CONFIRMED in the same transaction that deducts stock. Stock is
// only ever restored from CONFIRMED, since no other state has deducted it.
const (
	OrderStatusPlaced    = "PLACED"
	OrderStatusConfirmed = "CONFIRMED"
	OrderStatusPacked    = "PACKED"
	OrderStatusShipped   = "SHIPPED"
	OrderStatusDelivered = "DELIVERED"
	OrderStatusCancelled = "CANCELLED"
	OrderStatusRefunded  = "REFUNDED"
)

func ValidOrderStatus(status string) bool {
	switch status {
	case OrderStatusPlaced, OrderStatusConfirmed, OrderStatusPacked,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled,
		OrderStatusRefunded:
		return true
	}
	return false
}
