package redisx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const idemPending = "pending"

type IdemState int

const (
	// IdemNew: key baru saja di-claim, caller boleh proses.
	IdemNew IdemState = iota
	// IdemPending: request lain dengan key yang sama masih jalan.
	IdemPending
	// IdemDone: sudah selesai, OrderID terisi.
	IdemDone
)

// Idempotency keeps a short-lived "pending" claim while a request runs and
// the resulting order id for ttl once it completes.
type Idempotency struct {
	rdb        redis.Cmdable
	ttl        time.Duration
	pendingTTL time.Duration
}

func NewIdempotency(rdb redis.Cmdable, ttl time.Duration) *Idempotency {
	if ttl <= 0 {
		ttl = TTLIdempotency
	}
	return &Idempotency{rdb: rdb, ttl: ttl, pendingTTL: min(TTLIdempotencyPending, ttl)}
}

// Begin claims key for customerID. When the key was already used it reports
// whether the earlier request is still running or which order it produced.
func (i *Idempotency) Begin(ctx context.Context, customerID, key string) (IdemState, string, error) {
	k := idemKey(customerID, key)
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := i.rdb.SetNX(ctx, k, idemPending, i.pendingTTL).Result()
		if err != nil {
			return 0, "", fmt.Errorf("claim idempotency key: %w", err)
		}
		if ok {
			return IdemNew, "", nil
		}

		v, err := i.rdb.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			continue // expired in between, claim again
		}
		if err != nil {
			return 0, "", fmt.Errorf("read idempotency key: %w", err)
		}
		if v == idemPending {
			return IdemPending, "", nil
		}
		return IdemDone, v, nil
	}
	return IdemPending, "", nil
}

// Complete stores the order produced for the key.
func (i *Idempotency) Complete(ctx context.Context, customerID, key, orderID string) error {
	if err := i.rdb.Set(ctx, idemKey(customerID, key), orderID, i.ttl).Err(); err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	return nil
}

// Release drops the claim so the client can retry after a failure.
func (i *Idempotency) Release(ctx context.Context, customerID, key string) error {
	if err := i.rdb.Del(ctx, idemKey(customerID, key)).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
