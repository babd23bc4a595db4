package redisx

import (
	"fmt"
	"time"
)

const (
	// Idempotency create order: idem:order:create:{customer_id}:{idempotency_key} -> "pending" | order_id
	KeyIdemOrderCreate = "idem:order:create:%s:%s"

	// Snapshot order lengkap: order:{order_id} -> JSON (lihat cache.go)
	KeyOrder = "order:%s"

	// Cache status order (ditulis projector): order_status:{order_id} -> {"status": "...", "updated_at": "..."}
	KeyOrderStatus = "order_status:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Bearer token: auth:token:{sha256(token)} -> customer_id
	KeyAuthToken = "auth:token:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	// claim "pending" harus lebih lama dari ORDER_TIMEOUT, tapi jangan sampai nyangkut seharian
	TTLIdempotencyPending = time.Minute
	TTLOrderCache  = 5 * time.Minute
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)

func idemKey(customerID, key string) string { return fmt.Sprintf(KeyIdemOrderCreate, customerID, key) }

func orderKey(orderID string) string { return fmt.Sprintf(KeyOrder, orderID) }

func statusKey(orderID string) string { return fmt.Sprintf(KeyOrderStatus, orderID) }

func dedupKey(service, id string) string { return fmt.Sprintf(KeyDedup, service, id) }
