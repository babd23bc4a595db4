package redisx

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrUnknownToken = errors.New("unknown token")

// TokenAuthenticator resolves bearer tokens issued elsewhere to a customer id.
// Only the sha256 of a token is stored.
type TokenAuthenticator struct {
	rdb redis.Cmdable
}

func NewTokenAuthenticator(rdb redis.Cmdable) *TokenAuthenticator {
	return &TokenAuthenticator{rdb: rdb}
}

func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return fmt.Sprintf(KeyAuthToken, hex.EncodeToString(sum[:]))
}

func (a *TokenAuthenticator) Authenticate(ctx context.Context, token string) (string, error) {
	customerID, err := a.rdb.Get(ctx, tokenKey(token)).Result()
	if errors.Is(err, redis.Nil) || (err == nil && customerID == "") {
		return "", ErrUnknownToken
	}
	if err != nil {
		return "", fmt.Errorf("lookup token: %w", err)
	}
	return customerID, nil
}

// Register stores token for customerID; ttl 0 means no expiry.
func (a *TokenAuthenticator) Register(ctx context.Context, token, customerID string, ttl time.Duration) error {
	if err := a.rdb.Set(ctx, tokenKey(token), customerID, ttl).Err(); err != nil {
		return fmt.Errorf("register token: %w", err)
	}
	return nil
}

func (a *TokenAuthenticator) Revoke(ctx context.Context, token string) error {
	return a.rdb.Del(ctx, tokenKey(token)).Err()
}
