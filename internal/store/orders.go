package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Hamdan0407/backend-perfumes-sub000/internal/database"
	"github.com/Hamdan0407/backend-perfumes-sub000/internal/models"
)

const orderColumns = `id, user_id, order_number, status, subtotal, tax, shipping_cost, discount,
	coupon_code, total, remote_order_id, remote_payment_id,
	shipping_address, shipping_city, shipping_country, shipping_zip_code, shipping_phone,
	created_at, updated_at`

// InsertOrder persists the order and its items inside the caller's
// transaction and fills in the generated ids. Items carry the frozen unit
// price; nothing ever updates them afterwards.
func InsertOrder(ctx context.Context, tx *sql.Tx, order *models.Order) error {
	err := tx.QueryRowContext(ctx,
		`INSERT INTO orders (user_id, order_number, status, subtotal, tax, shipping_cost, discount,
			coupon_code, total, remote_order_id, remote_payment_id,
			shipping_address, shipping_city, shipping_country, shipping_zip_code, shipping_phone,
			created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, '', '', $10, $11, $12, $13, $14, NOW(), NOW())
		 RETURNING id, created_at, updated_at`,
		order.UserID, order.OrderNumber, order.Status,
		order.Subtotal, order.Tax, order.ShippingCost, order.Discount,
		order.CouponCode, order.Total,
		order.ShippingAddress, order.ShippingCity, order.ShippingCountry,
		order.ShippingZipCode, order.ShippingPhone,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		err := tx.QueryRowContext(ctx,
			`INSERT INTO order_items (order_id, product_id, quantity, unit_price, subtotal, created_at)
			 VALUES ($1, $2, $3, $4, $5, NOW())
			 RETURNING id, created_at`,
			item.OrderID, item.ProductID, item.Quantity, item.UnitPrice, item.Subtotal,
		).Scan(&item.ID, &item.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	order := &models.Order{}
	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.OrderNumber,
		&order.Status,
		&order.Subtotal,
		&order.Tax,
		&order.ShippingCost,
		&order.Discount,
		&order.CouponCode,
		&order.Total,
		&order.RemoteOrderID,
		&order.RemotePaymentID,
		&order.ShippingAddress,
		&order.ShippingCity,
		&order.ShippingCountry,
		&order.ShippingZipCode,
		&order.ShippingPhone,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return order, nil
}

func GetOrder(ctx context.Context, db *sql.DB, id int64) (*models.Order, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)

	order, err := scanOrder(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	items, err := loadOrderItems(ctx, db, id)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return order, nil
}

// GetOrderForUpdate locks the order row inside the caller's transaction.
// Concurrent confirmation and cancellation attempts for the same order
// serialize here; the loser sees the updated status and backs off.
func GetOrderForUpdate(ctx context.Context, tx *sql.Tx, id int64) (*models.Order, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)

	order, err := scanOrder(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("lock order: %w", err)
	}

	items, err := loadOrderItemsTx(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return order, nil
}

// GetOrderByRemoteOrderIDForUpdate is the confirmation entry lookup: both
// the webhook handler and the client verify call resolve the gateway's
// order id to our row under an exclusive lock.
func GetOrderByRemoteOrderIDForUpdate(ctx context.Context, tx *sql.Tx, remoteOrderID string) (*models.Order, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE remote_order_id = $1 FOR UPDATE`, remoteOrderID)

	order, err := scanOrder(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("lock order by remote order id: %w", err)
	}

	items, err := loadOrderItemsTx(ctx, tx, order.ID)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return order, nil
}

func SetRemoteOrderID(ctx context.Context, db *sql.DB, orderID int64, remoteOrderID string) error {
	result, err := db.ExecContext(ctx,
		`UPDATE orders SET remote_order_id = $1, updated_at = NOW() WHERE id = $2`,
		remoteOrderID, orderID)
	if err != nil {
		return fmt.Errorf("set remote order id: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrOrderNotFound
	}
	return nil
}

func UpdateOrderStatus(ctx context.Context, tx *sql.Tx, orderID int64, status string) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2`,
		status, orderID)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrOrderNotFound
	}
	return nil
}

// SetPaymentConfirmed records the remote payment id alongside the status
// flip; both happen in the same transaction as the stock deduction.
func SetPaymentConfirmed(ctx context.Context, tx *sql.Tx, orderID int64, status, remotePaymentID string) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE orders SET status = $1, remote_payment_id = $2, updated_at = NOW() WHERE id = $3`,
		status, remotePaymentID, orderID)
	if err != nil {
		return fmt.Errorf("set payment confirmed: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrOrderNotFound
	}
	return nil
}

func ListUserOrders(ctx context.Context, db *sql.DB, userID int64, limit int) ([]models.Order, error) {
	if limit < 1 || limit > 100 {
		limit = 20
	}

	rows, err := db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

func loadOrderItems(ctx context.Context, db *sql.DB, orderID int64) ([]models.OrderItem, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, order_id, product_id, quantity, unit_price, subtotal, created_at
		 FROM order_items
		 WHERE order_id = $1
		 ORDER BY id`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	return scanOrderItems(rows)
}

func loadOrderItemsTx(ctx context.Context, tx *sql.Tx, orderID int64) ([]models.OrderItem, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, order_id, product_id, quantity, unit_price, subtotal, created_at
		 FROM order_items
		 WHERE order_id = $1
		 ORDER BY id`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	return scanOrderItems(rows)
}

func scanOrderItems(rows *sql.Rows) ([]models.OrderItem, error) {
	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.Quantity,
			&item.UnitPrice,
			&item.Subtotal,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}
