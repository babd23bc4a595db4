package httpx

import (
	"time"

	"github.com/ariefcatur/go-storefront-orders/internal/orders"
)

// CreateOrderRequest is the POST /orders body. Prices are never read from the client.
type CreateOrderRequest struct {
	Items []CartItemRequest `json:"items" validate:"required,min=1,dive"`
}

type CartItemRequest struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gte=1"`
}

func (req CreateOrderRequest) lines() []orders.CartLine {
	out := make([]orders.CartLine, 0, len(req.Items))
	for _, it := range req.Items {
		out = append(out, orders.CartLine{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return out
}

type ProductResource struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Slug          string `json:"slug"`
	Description   string `json:"description"`
	Price         string `json:"price"`
	StockQty      int    `json:"stock_qty"`
	ImageURL      string `json:"image_url"`
	IsFeatured    bool   `json:"is_featured"`
	IsRecommended bool   `json:"is_recommended"`
}

type OrderItemResource struct {
	ID        string           `json:"id"`
	ProductID string           `json:"product_id"`
	Quantity  int              `json:"quantity"`
	Price     string           `json:"price"`
	Product   *ProductResource `json:"product"`
}

type OrderResource struct {
	ID          string              `json:"id"`
	TotalAmount string              `json:"total_amount"`
	Status      orders.Status       `json:"status"`
	CreatedAt   time.Time           `json:"created_at"`
	OrderItems  []OrderItemResource `json:"order_items"`
}

type dataEnvelope struct {
	Data any `json:"data"`
}

type PageMeta struct {
	CurrentPage int `json:"current_page"`
	PerPage     int `json:"per_page"`
	Total       int `json:"total"`
	LastPage    int `json:"last_page"`
}

type pagedEnvelope struct {
	Data any      `json:"data"`
	Meta PageMeta `json:"meta"`
}

func newPageMeta(p orders.Page, total int) PageMeta {
	return PageMeta{
		CurrentPage: p.Page,
		PerPage:     p.PerPage,
		Total:       total,
		LastPage:    orders.LastPage(total, p.PerPage),
	}
}

func newProductResource(p *orders.Product) *ProductResource {
	if p == nil {
		return nil
	}
	return &ProductResource{
		ID:            p.ID,
		Name:          p.Name,
		Slug:          p.Slug,
		Description:   p.Description,
		Price:         p.Price.StringFixed(2),
		StockQty:      p.StockQty,
		ImageURL:      p.ImageURL,
		IsFeatured:    p.IsFeatured,
		IsRecommended: p.IsRecommended,
	}
}

func newOrderResource(o *orders.Order) OrderResource {
	res := OrderResource{
		ID:          o.ID,
		TotalAmount: o.TotalAmount.StringFixed(2),
		Status:      o.Status,
		CreatedAt:   o.CreatedAt.UTC(),
		OrderItems:  make([]OrderItemResource, 0, len(o.Items)),
	}
	for _, it := range o.Items {
		res.OrderItems = append(res.OrderItems, OrderItemResource{
			ID:        it.ID,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Price:     it.Price.StringFixed(2),
			Product:   newProductResource(it.Product),
		})
	}
	return res
}
