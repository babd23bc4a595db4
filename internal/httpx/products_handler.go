package httpx

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-storefront-orders/internal/logging"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
)

type CatalogService interface {
	GetProduct(ctx context.Context, id string) (*orders.Product, error)
	ListProducts(ctx context.Context, q orders.ProductQuery) (orders.ProductPage, error)
}

type ProductsHandler struct {
	Catalog     CatalogService
	Log         *zap.Logger
	ReadTimeout time.Duration
}

func NewProductsHandler(catalog CatalogService, log *zap.Logger, readTimeout time.Duration) *ProductsHandler {
	if log == nil {
		log = zap.NewNop()
	}
	if readTimeout <= 0 {
		readTimeout = 3 * time.Second
	}
	return &ProductsHandler{Catalog: catalog, Log: log, ReadTimeout: readTimeout}
}

func (h *ProductsHandler) Register(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Get("/products/{id}", h.getProduct)
}

func (h *ProductsHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	page, fields := parsePage(r)
	q := orders.ProductQuery{Page: page}
	var err error
	if q.Featured, err = parseBoolParam(r, "is_featured", "featured"); err != nil {
		fields["is_featured"] = []string{"The is featured field must be true or false."}
	}
	if q.Recommended, err = parseBoolParam(r, "is_recommended", "recommended"); err != nil {
		fields["is_recommended"] = []string{"The is recommended field must be true or false."}
	}
	if len(fields) > 0 {
		writeValidation(w, fields)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.ReadTimeout)
	defer cancel()

	res, err := h.Catalog.ListProducts(ctx, q)
	if err != nil {
		logging.FromContext(r.Context(), h.Log).Error("list products", zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, msgInternal)
		return
	}
	data := make([]*ProductResource, 0, len(res.Products))
	for i := range res.Products {
		data = append(data, newProductResource(&res.Products[i]))
	}
	writeJSON(w, http.StatusOK, pagedEnvelope{Data: data, Meta: newPageMeta(res.Page, res.Total)})
}

func (h *ProductsHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), h.ReadTimeout)
	defer cancel()

	p, err := h.Catalog.GetProduct(ctx, id)
	switch {
	case errors.Is(err, orders.ErrProductNotFound):
		writeMessage(w, http.StatusNotFound, msgProductNotFound)
		return
	case err != nil:
		logging.FromContext(r.Context(), h.Log).Error("get product", zap.String("product_id", id), zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, msgInternal)
		return
	}
	writeJSON(w, http.StatusOK, dataEnvelope{Data: newProductResource(p)})
}

// parseBoolParam reads the first non-empty of names; the rest are aliases.
func parseBoolParam(r *http.Request, names ...string) (*bool, error) {
	var v string
	for _, name := range names {
		if v = r.URL.Query().Get(name); v != "" {
			break
		}
	}
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, err
	}
	return &b, nil
}
