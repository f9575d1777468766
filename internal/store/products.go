package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/Hamdan0407/backend-perfumes-sub000/internal/database"
	"github.com/Hamdan0407/backend-perfumes-sub000/internal/models"
)

const productColumns = `id, sku, name, description, price, discount_price, stock, active, created_at, updated_at`

func scanProduct(row rowScanner) (*models.Product, error) {
	product := &models.Product{}
	var discountPrice decimal.NullDecimal

	err := row.Scan(
		&product.ID,
		&product.SKU,
		&product.Name,
		&product.Description,
		&product.Price,
		&discountPrice,
		&product.Stock,
		&product.Active,
		&product.CreatedAt,
		&product.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if discountPrice.Valid {
		d := discountPrice.Decimal
		product.DiscountPrice = &d
	}

	return product, nil
}

func CreateProduct(ctx context.Context, db *sql.DB, sku, name, description string, price decimal.Decimal, discountPrice *decimal.Decimal, stock int) (*models.Product, error) {
	var discountArg decimal.NullDecimal
	if discountPrice != nil {
		discountArg = decimal.NullDecimal{Decimal: *discountPrice, Valid: true}
	}

	row := db.QueryRowContext(ctx,
		`INSERT INTO products (sku, name, description, price, discount_price, stock, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, TRUE, NOW(), NOW())
		 RETURNING `+productColumns,
		sku, name, description, price, discountArg, stock)

	product, err := scanProduct(row)
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	return product, nil
}

func GetProduct(ctx context.Context, db *sql.DB, id int64) (*models.Product, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, id)

	product, err := scanProduct(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return product, nil
}

// SetPrice updates the live list price. Frozen order item prices are
// unaffected.
func SetPrice(ctx context.Context, db *sql.DB, id int64, price decimal.Decimal) error {
	result, err := db.ExecContext(ctx,
		`UPDATE products SET price = $1, updated_at = NOW() WHERE id = $2`,
		price, id)
	if err != nil {
		return fmt.Errorf("set price: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrProductNotFound
	}
	return nil
}

func SetActive(ctx context.Context, db *sql.DB, id int64, active bool) error {
	result, err := db.ExecContext(ctx,
		`UPDATE products SET active = $1, updated_at = NOW() WHERE id = $2`,
		active, id)
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrProductNotFound
	}
	return nil
}

// LockProducts acquires exclusive row locks on every requested product in a
// single batch, in ascending id order. Every code path that locks more than
// one product must go through here so that two concurrent transactions
// sharing products can never acquire locks in opposite orders.
//
// Ids missing from the result map do not exist; callers aggregate that into
// their own validation reporting.
func LockProducts(ctx context.Context, tx *sql.Tx, ids []int64) (map[int64]*models.Product, error) {
	if len(ids) == 0 {
		return map[int64]*models.Product{}, nil
	}

	sorted := make([]int64, 0, len(ids))
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			sorted = append(sorted, id)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	rows, err := tx.QueryContext(ctx,
		`SELECT `+productColumns+`
		 FROM products
		 WHERE id = ANY($1)
		 ORDER BY id
		 FOR UPDATE`,
		pq.Array(sorted))
	if err != nil {
		return nil, lockErr(err)
	}
	defer rows.Close()

	locked := make(map[int64]*models.Product, len(sorted))
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan locked product: %w", err)
		}
		locked[product.ID] = product
	}

	if err := rows.Err(); err != nil {
		return nil, lockErr(err)
	}

	return locked, nil
}

func lockErr(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "55P03" {
		return database.ErrLockTimeout
	}
	return fmt.Errorf("lock products: %w", err)
}

// DecrementStock deducts quantity inside the caller's transaction. The
// stock >= quantity guard is a second line of defence behind the row lock;
// it can only fire if a caller mutated stock without locking first.
func DecrementStock(ctx context.Context, tx *sql.Tx, productID int64, quantity int) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE products
		 SET stock = stock - $1,
		     updated_at = NOW()
		 WHERE id = $2
		   AND stock >= $1`,
		quantity, productID)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrInsufficientStock
	}

	return nil
}

func RestoreStock(ctx context.Context, tx *sql.Tx, productID int64, quantity int) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE products
		 SET stock = stock + $1,
		     updated_at = NOW()
		 WHERE id = $2`,
		quantity, productID)
	if err != nil {
		return fmt.Errorf("restore stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrProductNotFound
	}

	return nil
}
