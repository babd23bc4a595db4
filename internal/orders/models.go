package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID            string
	Name          string
	Slug          string
	Description   string
	Price         decimal.Decimal // NUMERIC(12,2), never negative
	StockQty      int
	ImageURL      string
	IsFeatured    bool
	IsRecommended bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CartLine is one requested (product, quantity) pair. Client prices are never part of it.
type CartLine struct {
	ProductID string
	Quantity  int
}

type Order struct {
	ID          string
	CustomerID  string
	TotalAmount decimal.Decimal
	Status      Status // lihat status.go
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Items       []OrderItem
}

// OrderItem.Price is the unit price captured when the order was placed.
type OrderItem struct {
	ID        string
	OrderID   string
	ProductID string
	Quantity  int
	Price     decimal.Decimal
	Product   *Product // current catalog row, loaded for reads
}

// Subtotal returns Price * Quantity.
func (it OrderItem) Subtotal() decimal.Decimal {
	return it.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

// ItemsTotal sums the subtotals of the order's items.
func (o *Order) ItemsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, it := range o.Items {
		total = total.Add(it.Subtotal())
	}
	return total
}

type Page struct {
	Page    int
	PerPage int
}

const (
	DefaultPerPage = 10
	MaxPerPage     = 100
)

// Normalize clamps page to >= 1 and per page to [1, MaxPerPage].
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PerPage <= 0 {
		p.PerPage = DefaultPerPage
	}
	if p.PerPage > MaxPerPage {
		p.PerPage = MaxPerPage
	}
	return p
}

func (p Page) Offset() int { return (p.Page - 1) * p.PerPage }

type OrderPage struct {
	Orders []Order
	Total  int
	Page   Page
}

type ProductQuery struct {
	Page
	Featured    *bool
	Recommended *bool
}

type ProductPage struct {
	Products []Product
	Total    int
	Page     Page
}

// LastPage reports the last page number for total rows at perPage, at least 1.
func LastPage(total, perPage int) int {
	if perPage <= 0 || total <= 0 {
		return 1
	}
	return (total + perPage - 1) / perPage
}
