package orders

import "context"

// Store is the order store plus the read side of the product catalog.
// Read methods return ErrOrderNotFound / ErrProductNotFound for missing rows.
type Store interface {
	// WithinTx runs fn in one transaction. It commits only when fn returns nil
	// and ctx is still live; otherwise every write made through tx is discarded.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	GetOrder(ctx context.Context, customerID, orderID string) (*Order, error)
	ListOrders(ctx context.Context, customerID string, page Page) (OrderPage, error)

	GetProduct(ctx context.Context, id string) (*Product, error)
	// GetProducts returns the current rows of the given products that exist, keyed by id.
	GetProducts(ctx context.Context, ids []string) (map[string]Product, error)
	ListProducts(ctx context.Context, q ProductQuery) (ProductPage, error)
}

// Tx is the write side used by placement.
type Tx interface {
	// LockProducts locks the given product rows exclusively until the
	// transaction ends and returns the ones that exist, keyed by id.
	LockProducts(ctx context.Context, ids []string) (map[string]Product, error)
	// DecrementStock lowers stock_qty by qty. It fails instead of going below zero.
	DecrementStock(ctx context.Context, productID string, qty int) error
	InsertOrder(ctx context.Context, o *Order) error
	InsertItems(ctx context.Context, items []OrderItem) error
}
