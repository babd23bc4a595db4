package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type OrderStatus struct {
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusStore is the read model written by the projector.
type StatusStore struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewStatusStore(rdb redis.Cmdable, ttl time.Duration) *StatusStore {
	if ttl <= 0 {
		ttl = TTLStatusCache
	}
	return &StatusStore{rdb: rdb, ttl: ttl}
}

func (s *StatusStore) Set(ctx context.Context, orderID string, st OrderStatus) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, statusKey(orderID), b, s.ttl).Err(); err != nil {
		return fmt.Errorf("set order status: %w", err)
	}
	return nil
}

// Get returns (nil, nil) when nothing is cached.
func (s *StatusStore) Get(ctx context.Context, orderID string) (*OrderStatus, error) {
	b, err := s.rdb.Get(ctx, statusKey(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get order status: %w", err)
	}
	var st OrderStatus
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("decode order status: %w", err)
	}
	return &st, nil
}

// Dedup remembers processed event ids per consumer.
type Dedup struct {
	rdb     redis.Cmdable
	service string
	ttl     time.Duration
}

func NewDedup(rdb redis.Cmdable, service string, ttl time.Duration) *Dedup {
	if ttl <= 0 {
		ttl = TTLDedup
	}
	return &Dedup{rdb: rdb, service: service, ttl: ttl}
}

// Claim returns true the first time id is seen.
func (d *Dedup) Claim(ctx context.Context, id string) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, dedupKey(d.service, id), "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup claim: %w", err)
	}
	return ok, nil
}

// Forget drops a claim so a failed event can be handled again.
func (d *Dedup) Forget(ctx context.Context, id string) error {
	return d.rdb.Del(ctx, dedupKey(d.service, id)).Err()
}

func (d *Dedup) Seen(ctx context.Context, id string) (bool, error) {
	return Exists(ctx, d.rdb, dedupKey(d.service, id))
}
