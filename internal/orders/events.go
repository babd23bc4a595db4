package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderPlaced = "OrderPlaced"

	EventVersion = 1
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // EventOrderPlaced
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g., "storefront-orders"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order_id
	Payload       json.RawMessage `json:"payload"`
}

type PlacedItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Price     string `json:"price"` // decimal string, 2 digits
}

type OrderPlacedPayload struct {
	OrderID     string       `json:"order_id"`
	CustomerID  string       `json:"customer_id"`
	TotalAmount string       `json:"total_amount"`
	Status      Status       `json:"status"`
	Items       []PlacedItem `json:"items"`
	PlacedAt    time.Time    `json:"placed_at"`
}

// NewOrderPlacedPayload snapshots a committed order for the event stream.
func NewOrderPlacedPayload(o *Order) OrderPlacedPayload {
	items := make([]PlacedItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, PlacedItem{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Price:     it.Price.StringFixed(2),
		})
	}
	return OrderPlacedPayload{
		OrderID:     o.ID,
		CustomerID:  o.CustomerID,
		TotalAmount: o.TotalAmount.StringFixed(2),
		Status:      o.Status,
		Items:       items,
		PlacedAt:    o.CreatedAt,
	}
}
