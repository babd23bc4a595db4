// Package memstore is an in-memory orders.Store. Transactions are serialized by
// a single writer lock and their writes are applied only on commit.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
)

// Op names a Tx operation, used by fault hooks.
type Op string

const (
	OpLock      Op = "lock_products"
	OpDecrement Op = "decrement_stock"
	OpInsert    Op = "insert_order"
	OpItems     Op = "insert_items"
	OpCommit    Op = "commit"
)

var ErrInjected = errors.New("memstore: injected fault")

type Store struct {
	mu       sync.Mutex
	products map[string]orders.Product
	orders   map[string]orders.Order
	items    map[string][]orders.OrderItem

	faults map[Op]error
	hook   func(Op)
}

func New() *Store {
	return &Store{
		products: map[string]orders.Product{},
		orders:   map[string]orders.Order{},
		items:    map[string][]orders.OrderItem{},
		faults:   map[Op]error{},
	}
}

// Seed inserts or replaces catalog rows.
func (s *Store) Seed(ps ...orders.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, p := range ps {
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		if p.UpdatedAt.IsZero() {
			p.UpdatedAt = p.CreatedAt
		}
		s.products[p.ID] = p
	}
}

// SetPrice changes a catalog price outside of placement, like an admin edit.
func (s *Store) SetPrice(id string, price decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return orders.ErrProductNotFound
	}
	p.Price = price
	p.UpdatedAt = time.Now().UTC()
	s.products[id] = p
	return nil
}

// Stock returns the committed stock of a product, or -1 when it does not exist.
func (s *Store) Stock(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return -1
	}
	return p.StockQty
}

// Counts returns the number of committed orders and order items.
func (s *Store) Counts() (nOrders, nItems int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, its := range s.items {
		nItems += len(its)
	}
	return len(s.orders), nItems
}

// FailOn makes the next call of op inside a transaction return err.
func (s *Store) FailOn(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.faults, op)
		return
	}
	s.faults[op] = err
}

// OnOp registers a hook called before each transactional op, under the writer lock.
func (s *Store) OnOp(fn func(Op)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = fn
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &txn{s: s, products: map[string]orders.Product{}}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.enter(OpCommit); err != nil {
		return err
	}
	// cancel/timeout sebelum commit = rollback
	if err := ctx.Err(); err != nil {
		return err
	}

	for id, p := range tx.products {
		s.products[id] = p
	}
	for _, o := range tx.orders {
		s.orders[o.ID] = o
	}
	for _, it := range tx.items {
		s.items[it.OrderID] = append(s.items[it.OrderID], it)
	}
	return nil
}

type txn struct {
	s        *Store
	products map[string]orders.Product // copy-on-write view
	orders   []orders.Order
	items    []orders.OrderItem
}

func (t *txn) enter(op Op) error {
	if t.s.hook != nil {
		t.s.hook(op)
	}
	if err, ok := t.s.faults[op]; ok {
		delete(t.s.faults, op)
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (t *txn) product(id string) (orders.Product, bool) {
	if p, ok := t.products[id]; ok {
		return p, true
	}
	p, ok := t.s.products[id]
	return p, ok
}

func (t *txn) LockProducts(ctx context.Context, ids []string) (map[string]orders.Product, error) {
	if err := t.enter(OpLock); err != nil {
		return nil, err
	}
	out := make(map[string]orders.Product, len(ids))
	for _, id := range ids {
		if p, ok := t.product(id); ok {
			out[id] = p
		}
	}
	return out, ctx.Err()
}

func (t *txn) DecrementStock(ctx context.Context, productID string, qty int) error {
	if err := t.enter(OpDecrement); err != nil {
		return err
	}
	p, ok := t.product(productID)
	if !ok {
		return &orders.ProductNotFoundError{ProductID: productID}
	}
	if p.StockQty < qty {
		return &orders.InsufficientStockError{ProductID: p.ID, Name: p.Name, Requested: qty, Available: p.StockQty}
	}
	p.StockQty -= qty
	p.UpdatedAt = time.Now().UTC()
	t.products[productID] = p
	return ctx.Err()
}

func (t *txn) InsertOrder(ctx context.Context, o *orders.Order) error {
	if err := t.enter(OpInsert); err != nil {
		return err
	}
	if _, exists := t.s.orders[o.ID]; exists {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	cp := *o
	cp.Items = nil
	t.orders = append(t.orders, cp)
	return ctx.Err()
}

func (t *txn) InsertItems(ctx context.Context, items []orders.OrderItem) error {
	if err := t.enter(OpItems); err != nil {
		return err
	}
	for _, it := range items {
		if it.Quantity < 1 {
			return fmt.Errorf("order item %s: quantity must be >= 1", it.ID)
		}
		it.Product = nil
		t.items = append(t.items, it)
	}
	return ctx.Err()
}

func (s *Store) GetOrder(ctx context.Context, customerID, orderID string) (*orders.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok || o.CustomerID != customerID {
		return nil, orders.ErrOrderNotFound
	}
	out := s.hydrate(o)
	return &out, nil
}

func (s *Store) ListOrders(ctx context.Context, customerID string, page orders.Page) (orders.OrderPage, error) {
	if err := ctx.Err(); err != nil {
		return orders.OrderPage{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var mine []orders.Order
	for _, o := range s.orders {
		if o.CustomerID == customerID {
			mine = append(mine, o)
		}
	}
	sort.Slice(mine, func(i, j int) bool {
		if !mine[i].CreatedAt.Equal(mine[j].CreatedAt) {
			return mine[i].CreatedAt.After(mine[j].CreatedAt)
		}
		return mine[i].ID > mine[j].ID
	})

	res := orders.OrderPage{Total: len(mine), Page: page, Orders: []orders.Order{}}
	for _, o := range window(mine, page) {
		res.Orders = append(res.Orders, s.hydrate(o))
	}
	return res, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*orders.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, orders.ErrProductNotFound
	}
	return &p, nil
}

func (s *Store) GetProducts(ctx context.Context, ids []string) (map[string]orders.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]orders.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (s *Store) ListProducts(ctx context.Context, q orders.ProductQuery) (orders.ProductPage, error) {
	if err := ctx.Err(); err != nil {
		return orders.ProductPage{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var ps []orders.Product
	for _, p := range s.products {
		if q.Featured != nil && p.IsFeatured != *q.Featured {
			continue
		}
		if q.Recommended != nil && p.IsRecommended != *q.Recommended {
			continue
		}
		ps = append(ps, p)
	}
	sort.Slice(ps, func(i, j int) bool {
		if !ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].CreatedAt.After(ps[j].CreatedAt)
		}
		return ps[i].ID < ps[j].ID
	})
	return orders.ProductPage{Products: append([]orders.Product{}, window(ps, q.Page)...), Total: len(ps), Page: q.Page}, nil
}

// hydrate attaches items and the current product rows. Caller holds s.mu.
func (s *Store) hydrate(o orders.Order) orders.Order {
	its := s.items[o.ID]
	o.Items = make([]orders.OrderItem, 0, len(its))
	for _, it := range its {
		if p, ok := s.products[it.ProductID]; ok {
			it.Product = &p
		}
		o.Items = append(o.Items, it)
	}
	return o
}

func window[T any](all []T, page orders.Page) []T {
	page = page.Normalize()
	from := page.Offset()
	if from >= len(all) {
		return nil
	}
	to := from + page.PerPage
	if to > len(all) {
		to = len(all)
	}
	return all[from:to]
}
