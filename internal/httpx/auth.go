package httpx

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-storefront-orders/internal/logging"
)

// Authenticator resolves a bearer token to the customer id it was issued for.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (customerID string, err error)
}

type ctxKey int

const customerKey ctxKey = iota

func WithCustomer(ctx context.Context, customerID string) context.Context {
	return context.WithValue(ctx, customerKey, customerID)
}

func CustomerFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(customerKey).(string)
	return id, ok && id != ""
}

// RequireCustomer rejects requests without a valid "Authorization: Bearer" header.
func RequireCustomer(auth Authenticator, log *zap.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeMessage(w, http.StatusUnauthorized, msgUnauthenticated)
				return
			}
			customerID, err := auth.Authenticate(r.Context(), token)
			if err != nil || customerID == "" {
				logging.FromContext(r.Context(), log).Warn("authentication failed", zap.Error(err))
				writeMessage(w, http.StatusUnauthorized, msgUnauthenticated)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCustomer(r.Context(), customerID)))
		})
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
