package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-storefront-orders/internal/logging"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
)

const HeaderIdempotencyKey = "Idempotency-Key"

type OrderService interface {
	PlaceOrder(ctx context.Context, customerID string, lines []orders.CartLine) (*orders.Order, error)
	GetOrder(ctx context.Context, customerID, orderID string) (*orders.Order, error)
	ListOrders(ctx context.Context, customerID string, page orders.Page) (orders.OrderPage, error)
}

type IdempotencyStore interface {
	Begin(ctx context.Context, customerID, key string) (redisx.IdemState, string, error)
	Complete(ctx context.Context, customerID, key, orderID string) error
	Release(ctx context.Context, customerID, key string) error
}

type OrdersHandler struct {
	Orders       OrderService
	Idempotency  IdempotencyStore // opsional
	Log          *zap.Logger
	OrderTimeout time.Duration
	ReadTimeout  time.Duration

	validate *validator.Validate
}

func NewOrdersHandler(svc OrderService, idem IdempotencyStore, log *zap.Logger, orderTimeout, readTimeout time.Duration) *OrdersHandler {
	if log == nil {
		log = zap.NewNop()
	}
	if orderTimeout <= 0 {
		orderTimeout = 5 * time.Second
	}
	if readTimeout <= 0 {
		readTimeout = 3 * time.Second
	}
	return &OrdersHandler{
		Orders:       svc,
		Idempotency:  idem,
		Log:          log,
		OrderTimeout: orderTimeout,
		ReadTimeout:  readTimeout,
		validate:     newValidator(),
	}
}

// Register mounts the order routes behind auth.
func (h *OrdersHandler) Register(r chi.Router, auth func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Post("/orders", h.createOrder)
		r.Get("/orders", h.listOrders)
		r.Get("/orders/{id}", h.getOrder)
	})
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context(), h.Log)
	customerID, ok := CustomerFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, msgUnauthenticated)
		return
	}

	var req CreateOrderRequest
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&req); err != nil {
		writeValidation(w, map[string][]string{"body": {"The request body must be a valid JSON object."}})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeValidation(w, FormatValidationError(err))
		return
	}

	idemKey := r.Header.Get(HeaderIdempotencyKey)
	if idemKey != "" && h.Idempotency != nil {
		state, orderID, err := h.Idempotency.Begin(r.Context(), customerID, idemKey)
		if err != nil {
			log.Error("idempotency begin", zap.Error(err))
			writeMessage(w, http.StatusInternalServerError, msgOrderFailed)
			return
		}
		switch state {
		case redisx.IdemPending:
			writeMessage(w, http.StatusConflict, msgIdempotencyInUse)
			return
		case redisx.IdemDone:
			h.replay(w, r, log, customerID, orderID)
			return
		}
	} else {
		idemKey = ""
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.OrderTimeout)
	defer cancel()

	order, err := h.Orders.PlaceOrder(ctx, customerID, req.lines())
	if err != nil {
		if idemKey != "" {
			if rerr := h.Idempotency.Release(context.WithoutCancel(r.Context()), customerID, idemKey); rerr != nil {
				log.Warn("idempotency release", zap.Error(rerr))
			}
		}
		h.writePlaceError(w, err)
		return
	}

	if idemKey != "" {
		h.completeIdempotency(context.WithoutCancel(r.Context()), log, customerID, idemKey, order.ID)
	}
	w.Header().Set("Location", "/orders/"+order.ID)
	writeJSON(w, http.StatusCreated, dataEnvelope{Data: newOrderResource(order)})
}

// completeIdempotency records the order for the key, retrying once. If both
// attempts fail the pending claim simply expires.
func (h *OrdersHandler) completeIdempotency(ctx context.Context, log *zap.Logger, customerID, key, orderID string) {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		if err = h.Idempotency.Complete(ctx, customerID, key, orderID); err == nil {
			return
		}
	}
	log.Warn("idempotency complete", zap.String("order_id", orderID), zap.Error(err))
}

// replay answers a repeated Idempotency-Key with the order it produced.
func (h *OrdersHandler) replay(w http.ResponseWriter, r *http.Request, log *zap.Logger, customerID, orderID string) {
	ctx, cancel := context.WithTimeout(r.Context(), h.ReadTimeout)
	defer cancel()

	order, err := h.Orders.GetOrder(ctx, customerID, orderID)
	if err != nil {
		log.Error("idempotent replay", zap.String("order_id", orderID), zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, msgOrderFailed)
		return
	}
	w.Header().Set("Idempotent-Replayed", "true")
	writeJSON(w, http.StatusOK, dataEnvelope{Data: newOrderResource(order)})
}

func (h *OrdersHandler) writePlaceError(w http.ResponseWriter, err error) {
	var stock *orders.InsufficientStockError
	switch {
	case errors.As(err, &stock):
		name := stock.Name
		if name == "" {
			name = stock.ProductID
		}
		writeMessage(w, http.StatusBadRequest, fmt.Sprintf(msgInsufficientStock, name))
	case errors.Is(err, orders.ErrInsufficientStock):
		writeMessage(w, http.StatusBadRequest, "Insufficient stock")
	case errors.Is(err, orders.ErrValidation):
		writeValidation(w, domainValidationFields(err))
	default:
		writeMessage(w, http.StatusInternalServerError, msgOrderFailed)
	}
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	customerID, ok := CustomerFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, msgUnauthenticated)
		return
	}
	page, fields := parsePage(r)
	if len(fields) > 0 {
		writeValidation(w, fields)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.ReadTimeout)
	defer cancel()

	res, err := h.Orders.ListOrders(ctx, customerID, page)
	if err != nil {
		logging.FromContext(r.Context(), h.Log).Error("list orders", zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, msgInternal)
		return
	}
	data := make([]OrderResource, 0, len(res.Orders))
	for i := range res.Orders {
		data = append(data, newOrderResource(&res.Orders[i]))
	}
	writeJSON(w, http.StatusOK, pagedEnvelope{Data: data, Meta: newPageMeta(res.Page, res.Total)})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	customerID, ok := CustomerFromContext(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, msgUnauthenticated)
		return
	}
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), h.ReadTimeout)
	defer cancel()

	order, err := h.Orders.GetOrder(ctx, customerID, orderID)
	switch {
	case errors.Is(err, orders.ErrOrderNotFound):
		writeMessage(w, http.StatusNotFound, msgOrderNotFound)
		return
	case err != nil:
		logging.FromContext(r.Context(), h.Log).Error("get order", zap.String("order_id", orderID), zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, msgInternal)
		return
	}
	writeJSON(w, http.StatusOK, dataEnvelope{Data: newOrderResource(order)})
}

// parsePage reads ?page=&per_page=. Out-of-range values are clamped later.
func parsePage(r *http.Request) (orders.Page, map[string][]string) {
	fields := map[string][]string{}
	q := r.URL.Query()
	page := orders.Page{}
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			fields["page"] = []string{"The page field must be an integer."}
		}
		page.Page = n
	}
	if v := q.Get("per_page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			fields["per_page"] = []string{"The per_page field must be an integer."}
		}
		page.PerPage = n
	}
	return page.Normalize(), fields
}
