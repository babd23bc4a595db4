package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
)

type itemSnapshot struct {
	ID        string          `json:"id"`
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

type orderSnapshot struct {
	ID          string          `json:"id"`
	CustomerID  string          `json:"customer_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Status      orders.Status   `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Items       []itemSnapshot  `json:"items"`
}

// OrderCache keeps order snapshots under order:{id}. It implements orders.OrderCache.
// Snapshots carry the order and its item rows only; product rows are not cached.
type OrderCache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewOrderCache(rdb redis.Cmdable, ttl time.Duration) *OrderCache {
	if ttl <= 0 {
		ttl = TTLOrderCache
	}
	return &OrderCache{rdb: rdb, ttl: ttl}
}

func (c *OrderCache) GetOrder(ctx context.Context, orderID string) (*orders.Order, error) {
	b, err := c.rdb.Get(ctx, orderKey(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get order snapshot: %w", err)
	}
	var snap orderSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("decode order snapshot: %w", err)
	}
	return snap.toOrder(), nil
}

func (c *OrderCache) PutOrder(ctx context.Context, o *orders.Order) error {
	b, err := json.Marshal(newOrderSnapshot(o))
	if err != nil {
		return fmt.Errorf("encode order snapshot: %w", err)
	}
	if err := c.rdb.Set(ctx, orderKey(o.ID), b, c.ttl).Err(); err != nil {
		return fmt.Errorf("put order snapshot: %w", err)
	}
	return nil
}

func (c *OrderCache) Invalidate(ctx context.Context, orderID string) error {
	return c.rdb.Del(ctx, orderKey(orderID)).Err()
}

func newOrderSnapshot(o *orders.Order) orderSnapshot {
	snap := orderSnapshot{
		ID:          o.ID,
		CustomerID:  o.CustomerID,
		TotalAmount: o.TotalAmount,
		Status:      o.Status,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
		Items:       make([]itemSnapshot, 0, len(o.Items)),
	}
	for _, it := range o.Items {
		snap.Items = append(snap.Items, itemSnapshot{ID: it.ID, ProductID: it.ProductID, Quantity: it.Quantity, Price: it.Price})
	}
	return snap
}

func (s orderSnapshot) toOrder() *orders.Order {
	o := &orders.Order{
		ID:          s.ID,
		CustomerID:  s.CustomerID,
		TotalAmount: s.TotalAmount,
		Status:      s.Status,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
		Items:       make([]orders.OrderItem, 0, len(s.Items)),
	}
	for _, is := range s.Items {
		o.Items = append(o.Items, orders.OrderItem{ID: is.ID, OrderID: s.ID, ProductID: is.ProductID, Quantity: is.Quantity, Price: is.Price})
	}
	return o
}
