// Package cart stores the per-user cart in Redis. Carts are ephemeral and
// mutable right up to checkout; the durable snapshot is the order itself.
package cart

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Hamdan0407/backend-perfumes-sub000/internal/models"
)

const keyCart = "cart:%d" // cart:{userID} -> hash of productID -> quantity

type Store struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

// Items returns the user's current cart, ordered by product id so callers
// see a stable view.
func (s *Store) Items(ctx context.Context, userID int64) ([]models.CartItem, error) {
	key := fmt.Sprintf(keyCart, userID)

	entries, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("read cart: %w", err)
	}

	items := make([]models.CartItem, 0, len(entries))
	for field, value := range entries {
		productID, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt cart field %q: %w", field, err)
		}
		quantity, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("corrupt cart quantity %q: %w", value, err)
		}
		if quantity <= 0 {
			continue
		}
		items = append(items, models.CartItem{ProductID: productID, Quantity: quantity})
	}

	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })

	return items, nil
}

// SetItem sets the quantity for a product; zero or negative removes it.
func (s *Store) SetItem(ctx context.Context, userID, productID int64, quantity int) error {
	key := fmt.Sprintf(keyCart, userID)

	if quantity <= 0 {
		if err := s.client.HDel(ctx, key, strconv.FormatInt(productID, 10)).Err(); err != nil {
			return fmt.Errorf("remove cart item: %w", err)
		}
		return nil
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, strconv.FormatInt(productID, 10), quantity)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set cart item: %w", err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context, userID int64) error {
	key := fmt.Sprintf(keyCart, userID)
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}
