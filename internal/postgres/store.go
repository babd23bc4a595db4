package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-storefront-orders/internal/logging"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
)

const productColumns = `p.id, p.name, p.slug, p.description, p.price::text, p.stock_qty,
	p.image_url, p.is_featured, p.is_recommended, p.created_at, p.updated_at`

// Store implements orders.Store on Postgres. Placement locks product rows
// with SELECT ... FOR UPDATE for the lifetime of the transaction.
type Store struct {
	DB  *pgxpool.Pool
	Log *zap.Logger
}

func NewStore(db *pgxpool.Pool, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{DB: db, Log: log}
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) (err error) {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		p := recover()
		if err == nil && p == nil {
			return
		}
		// rollback tetap jalan walau request sudah cancel
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			logging.FromContext(ctx, s.Log).Error("rollback failed", zap.Error(rbErr))
		}
		if p != nil {
			panic(p)
		}
	}()

	if err = fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}
	if err = ctx.Err(); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) LockProducts(ctx context.Context, ids []string) (map[string]orders.Product, error) {
	// urutan lock deterministik (ORDER BY id) supaya dua cart tidak saling deadlock
	rows, err := t.tx.Query(ctx, `SELECT `+productColumns+`
		FROM products p
		WHERE p.id = ANY($1)
		ORDER BY p.id
		FOR UPDATE`, ids)
	if err != nil {
		return nil, fmt.Errorf("lock products: %w", err)
	}
	defer rows.Close()

	out := make(map[string]orders.Product, len(ids))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lock products: %w", err)
	}
	return out, nil
}

func (t *pgTx) DecrementStock(ctx context.Context, productID string, qty int) error {
	tag, err := t.tx.Exec(ctx, `UPDATE products
		SET stock_qty = stock_qty - $2, updated_at = now()
		WHERE id = $1 AND stock_qty >= $2`, productID, qty)
	if err != nil {
		return fmt.Errorf("decrement stock %s: %w", productID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: product %s", orders.ErrInsufficientStock, productID)
	}
	return nil
}

func (t *pgTx) InsertOrder(ctx context.Context, o *orders.Order) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO orders (id, customer_id, total_amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		o.ID, o.CustomerID, o.TotalAmount, string(o.Status), o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (t *pgTx) InsertItems(ctx context.Context, items []orders.OrderItem) error {
	b := &pgx.Batch{}
	for i, it := range items {
		b.Queue(`INSERT INTO order_items (id, order_id, product_id, line_no, quantity, price)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			it.ID, it.OrderID, it.ProductID, i, it.Quantity, it.Price)
	}
	br := t.tx.SendBatch(ctx, b)
	for range items {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("insert order items: %w", err)
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, customerID, orderID string) (*orders.Order, error) {
	row := s.DB.QueryRow(ctx, `SELECT id, customer_id, total_amount::text, status, created_at, updated_at
		FROM orders WHERE id = $1 AND customer_id = $2`, orderID, customerID)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, orders.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}

	byOrder, err := s.loadItems(ctx, []string{o.ID})
	if err != nil {
		return nil, err
	}
	o.Items = byOrder[o.ID]
	return &o, nil
}

func (s *Store) ListOrders(ctx context.Context, customerID string, page orders.Page) (orders.OrderPage, error) {
	page = page.Normalize()
	res := orders.OrderPage{Page: page, Orders: []orders.Order{}}

	if err := s.DB.QueryRow(ctx, `SELECT count(*) FROM orders WHERE customer_id = $1`, customerID).Scan(&res.Total); err != nil {
		return orders.OrderPage{}, fmt.Errorf("count orders: %w", err)
	}
	if res.Total == 0 {
		return res, nil
	}

	rows, err := s.DB.Query(ctx, `SELECT id, customer_id, total_amount::text, status, created_at, updated_at
		FROM orders
		WHERE customer_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, customerID, page.PerPage, page.Offset())
	if err != nil {
		return orders.OrderPage{}, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, page.PerPage)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return orders.OrderPage{}, err
		}
		res.Orders = append(res.Orders, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return orders.OrderPage{}, fmt.Errorf("list orders: %w", err)
	}
	rows.Close()

	byOrder, err := s.loadItems(ctx, ids)
	if err != nil {
		return orders.OrderPage{}, err
	}
	for i := range res.Orders {
		res.Orders[i].Items = byOrder[res.Orders[i].ID]
	}
	return res, nil
}

// loadItems fetches the items of the given orders with their current product rows.
func (s *Store) loadItems(ctx context.Context, orderIDs []string) (map[string][]orders.OrderItem, error) {
	rows, err := s.DB.Query(ctx, `SELECT oi.id, oi.order_id, oi.product_id, oi.quantity, oi.price::text, `+productColumns+`
		FROM order_items oi
		JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id = ANY($1)
		ORDER BY oi.order_id, oi.line_no`, orderIDs)
	if err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]orders.OrderItem, len(orderIDs))
	for rows.Next() {
		var (
			it       orders.OrderItem
			price    string
			p        orders.Product
			catPrice string
		)
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &price,
			&p.ID, &p.Name, &p.Slug, &p.Description, &catPrice, &p.StockQty,
			&p.ImageURL, &p.IsFeatured, &p.IsRecommended, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		if it.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse item price: %w", err)
		}
		if p.Price, err = decimal.NewFromString(catPrice); err != nil {
			return nil, fmt.Errorf("parse product price: %w", err)
		}
		it.Product = &p
		out[it.OrderID] = append(out[it.OrderID], it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load order items: %w", err)
	}
	return out, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*orders.Product, error) {
	row := s.DB.QueryRow(ctx, `SELECT `+productColumns+` FROM products p WHERE p.id = $1`, id)
	p, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, orders.ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) GetProducts(ctx context.Context, ids []string) (map[string]orders.Product, error) {
	out := make(map[string]orders.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.DB.Query(ctx, `SELECT `+productColumns+` FROM products p WHERE p.id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}
	return out, nil
}

func (s *Store) ListProducts(ctx context.Context, q orders.ProductQuery) (orders.ProductPage, error) {
	page := q.Page.Normalize()
	res := orders.ProductPage{Page: page, Products: []orders.Product{}}

	const filter = `($1::boolean IS NULL OR p.is_featured = $1)
		AND ($2::boolean IS NULL OR p.is_recommended = $2)`

	if err := s.DB.QueryRow(ctx, `SELECT count(*) FROM products p WHERE `+filter,
		q.Featured, q.Recommended).Scan(&res.Total); err != nil {
		return orders.ProductPage{}, fmt.Errorf("count products: %w", err)
	}

	rows, err := s.DB.Query(ctx, `SELECT `+productColumns+`
		FROM products p
		WHERE `+filter+`
		ORDER BY p.created_at DESC, p.id
		LIMIT $3 OFFSET $4`, q.Featured, q.Recommended, page.PerPage, page.Offset())
	if err != nil {
		return orders.ProductPage{}, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return orders.ProductPage{}, err
		}
		res.Products = append(res.Products, p)
	}
	if err := rows.Err(); err != nil {
		return orders.ProductPage{}, fmt.Errorf("list products: %w", err)
	}
	return res, nil
}

func scanProduct(row pgx.Row) (orders.Product, error) {
	var (
		p     orders.Product
		price string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Slug, &p.Description, &price, &p.StockQty,
		&p.ImageURL, &p.IsFeatured, &p.IsRecommended, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return p, err
		}
		return p, fmt.Errorf("scan product: %w", err)
	}
	var err error
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return p, fmt.Errorf("parse product price: %w", err)
	}
	return p, nil
}

func scanOrder(row pgx.Row) (orders.Order, error) {
	var (
		o      orders.Order
		total  string
		status string
	)
	if err := row.Scan(&o.ID, &o.CustomerID, &total, &status, &o.CreatedAt, &o.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return o, err
		}
		return o, fmt.Errorf("scan order: %w", err)
	}
	var err error
	if o.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return o, fmt.Errorf("parse total: %w", err)
	}
	o.Status = orders.Status(status)
	if !o.Status.Valid() {
		return o, fmt.Errorf("order %s: unknown status %q", o.ID, status)
	}
	return o, nil
}
