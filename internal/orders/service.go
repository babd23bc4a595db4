package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-storefront-orders/internal/logging"
)

// Publisher is satisfied by the async kafka producer.
type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// OrderCache holds committed order snapshots. GetOrder returns (nil, nil) on a miss.
type OrderCache interface {
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	PutOrder(ctx context.Context, o *Order) error
}

type Service struct {
	store     Store
	publisher Publisher
	cache     OrderCache
	log       *zap.Logger
	tracer    trace.Tracer
	producer  string
	now       func() time.Time
	newID     func() string
}

type Option func(*Service)

func WithPublisher(p Publisher) Option { return func(s *Service) { s.publisher = p } }

func WithCache(c OrderCache) Option { return func(s *Service) { s.cache = c } }

// WithProducerName sets the "producer" field of published envelopes.
func WithProducerName(name string) Option { return func(s *Service) { s.producer = name } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithIDGenerator(gen func() string) Option { return func(s *Service) { s.newID = gen } }

func NewService(store Store, log *zap.Logger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Service{
		store:    store,
		log:      log,
		tracer:   otel.Tracer("github.com/ariefcatur/go-storefront-orders/internal/orders"),
		producer: "order-api",
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateCart checks the request shape before any storage access.
func ValidateCart(customerID string, lines []CartLine) error {
	var errs ValidationErrors
	if customerID == "" {
		errs = append(errs, &ValidationError{Field: "customer_id", Reason: "is required"})
	}
	if len(lines) == 0 {
		errs = append(errs, &ValidationError{Field: "items", Reason: "must contain at least one item"})
	}
	for i, ln := range lines {
		if ln.ProductID == "" {
			errs = append(errs, &ValidationError{Field: fmt.Sprintf("items.%d.product_id", i), Reason: "is required"})
		}
		if ln.Quantity < 1 {
			errs = append(errs, &ValidationError{Field: fmt.Sprintf("items.%d.quantity", i), Reason: "must be at least 1"})
		}
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

// PlaceOrder turns a cart into a pending order in a single transaction.
// Either the order, its items and every stock decrement are committed together,
// or nothing is written.
func (s *Service) PlaceOrder(ctx context.Context, customerID string, lines []CartLine) (_ *Order, err error) {
	ctx, span := s.tracer.Start(ctx, "orders.PlaceOrder", trace.WithAttributes(
		attribute.String("customer.id", customerID),
		attribute.Int("order.lines", len(lines)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	log := logging.FromContext(ctx, s.log).With(zap.String("customer_id", customerID))

	if err := ValidateCart(customerID, lines); err != nil {
		log.Warn("order rejected", zap.String("reason", "validation"), zap.Error(err))
		return nil, err
	}

	now := s.now().UTC()
	order := &Order{
		ID:          s.newID(),
		CustomerID:  customerID,
		Status:      StatusPending,
		TotalAmount: decimal.Zero,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		// lock dulu semua product (urut id), baru proses line sesuai urutan input
		products, err := tx.LockProducts(ctx, distinctProductIDs(lines))
		if err != nil {
			return classify("lock products", err)
		}
		for i, ln := range lines {
			if _, ok := products[ln.ProductID]; !ok {
				return &ProductNotFoundError{ProductID: ln.ProductID, Field: fmt.Sprintf("items.%d.product_id", i)}
			}
		}

		items := make([]OrderItem, 0, len(lines))
		total := decimal.Zero
		for _, ln := range lines {
			p := products[ln.ProductID]
			if p.StockQty < ln.Quantity {
				return &InsufficientStockError{
					ProductID: p.ID,
					Name:      p.Name,
					Requested: ln.Quantity,
					Available: p.StockQty,
				}
			}

			item := OrderItem{
				ID:        s.newID(),
				OrderID:   order.ID,
				ProductID: p.ID,
				Quantity:  ln.Quantity,
				Price:     p.Price,
			}
			total = total.Add(item.Subtotal())

			if err := tx.DecrementStock(ctx, p.ID, ln.Quantity); err != nil {
				return classify("decrement stock", err)
			}
			// line berikutnya untuk product yang sama harus lihat stok yang sudah berkurang
			p.StockQty -= ln.Quantity
			products[p.ID] = p
			items = append(items, item)
		}

		order.TotalAmount = total
		if err := tx.InsertOrder(ctx, order); err != nil {
			return classify("insert order", err)
		}
		if err := tx.InsertItems(ctx, items); err != nil {
			return classify("insert order items", err)
		}

		for i := range items {
			p := products[items[i].ProductID]
			items[i].Product = &p
		}
		order.Items = items
		return nil
	})
	if err != nil {
		err = classify("place order", err)
		switch {
		case errors.Is(err, ErrStorage):
			log.Error("order placement failed", zap.Error(err))
		default:
			log.Warn("order rejected",
				zap.String("reason", rejectReason(err)),
				zap.String("product_id", rejectedProduct(err)),
				zap.Error(err),
			)
		}
		return nil, err
	}

	log.Info("order placed",
		zap.String("order_id", order.ID),
		zap.Int("items", len(order.Items)),
		zap.String("total", order.TotalAmount.StringFixed(2)),
	)
	span.SetAttributes(attribute.String("order.id", order.ID))

	s.afterCommit(ctx, log, order)
	return order, nil
}

// afterCommit publishes OrderPlaced and warms the cache. Failures here never
// change the placement result.
func (s *Service) afterCommit(ctx context.Context, log *zap.Logger, o *Order) {
	if s.publisher != nil {
		if err := s.publishPlaced(ctx, o); err != nil {
			log.Warn("publish order placed", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	if s.cache != nil {
		if err := s.cache.PutOrder(context.WithoutCancel(ctx), o); err != nil {
			log.Warn("cache order", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
}

func (s *Service) publishPlaced(ctx context.Context, o *Order) error {
	payload, err := json.Marshal(NewOrderPlacedPayload(o))
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	ev := Envelope{
		EventID:       s.newID(),
		EventType:     EventOrderPlaced,
		EventVersion:  EventVersion,
		OccurredAt:    s.now().UTC(),
		Producer:      s.producer,
		TraceID:       logging.TraceID(ctx),
		CorrelationID: o.ID,
		Payload:       payload,
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	s.publisher.Publish(PartitionKey(o.ID), value,
		kafkago.Header{Key: "x-event-type", Value: []byte(EventOrderPlaced)},
		kafkago.Header{Key: "x-event-version", Value: []byte(strconv.Itoa(EventVersion))},
	)
	return nil
}

// GetOrder returns the caller's order. Orders of other customers are reported
// as ErrOrderNotFound.
func (s *Service) GetOrder(ctx context.Context, customerID, orderID string) (*Order, error) {
	log := logging.FromContext(ctx, s.log)

	if s.cache != nil {
		cached, err := s.cache.GetOrder(ctx, orderID)
		switch {
		case err != nil:
			log.Warn("order cache read", zap.String("order_id", orderID), zap.Error(err))
		case cached != nil:
			if cached.CustomerID != customerID {
				return nil, ErrOrderNotFound
			}
			// snapshot cuma simpan order + item, product selalu dibaca ulang
			if err := s.attachProducts(ctx, cached); err != nil {
				log.Warn("hydrate cached order", zap.String("order_id", orderID), zap.Error(err))
				break
			}
			return cached, nil
		}
	}

	o, err := s.store.GetOrder(ctx, customerID, orderID)
	if err != nil {
		return nil, classify("get order", err)
	}
	if s.cache != nil {
		if err := s.cache.PutOrder(ctx, o); err != nil {
			log.Warn("cache order", zap.String("order_id", orderID), zap.Error(err))
		}
	}
	return o, nil
}

// attachProducts sets each item's Product to the current catalog row.
func (s *Service) attachProducts(ctx context.Context, o *Order) error {
	ids := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		ids = append(ids, it.ProductID)
	}
	products, err := s.store.GetProducts(ctx, ids)
	if err != nil {
		return err
	}
	for i := range o.Items {
		it := &o.Items[i]
		it.Product = nil
		if p, ok := products[it.ProductID]; ok {
			it.Product = &p
		}
	}
	return nil
}

// ListOrders returns one page of the caller's orders, newest first.
func (s *Service) ListOrders(ctx context.Context, customerID string, page Page) (OrderPage, error) {
	page = page.Normalize()
	res, err := s.store.ListOrders(ctx, customerID, page)
	if err != nil {
		return OrderPage{}, classify("list orders", err)
	}
	res.Page = page
	return res, nil
}

func (s *Service) GetProduct(ctx context.Context, id string) (*Product, error) {
	p, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return nil, classify("get product", err)
	}
	return p, nil
}

func (s *Service) ListProducts(ctx context.Context, q ProductQuery) (ProductPage, error) {
	q.Page = q.Page.Normalize()
	res, err := s.store.ListProducts(ctx, q)
	if err != nil {
		return ProductPage{}, classify("list products", err)
	}
	res.Page = q.Page
	return res, nil
}

// classify keeps domain errors as they are and wraps everything else as ErrStorage.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{ErrValidation, ErrProductNotFound, ErrInsufficientStock, ErrOrderNotFound, ErrStorage} {
		if errors.Is(err, kind) {
			return err
		}
	}
	return storageErr(op, err)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, ErrProductNotFound):
		return "product_not_found"
	case errors.Is(err, ErrValidation):
		return "validation"
	default:
		return "unknown"
	}
}

func rejectedProduct(err error) string {
	var nf *ProductNotFoundError
	if errors.As(err, &nf) {
		return nf.ProductID
	}
	var is *InsufficientStockError
	if errors.As(err, &is) {
		return is.ProductID
	}
	return ""
}

func distinctProductIDs(lines []CartLine) []string {
	seen := make(map[string]struct{}, len(lines))
	ids := make([]string, 0, len(lines))
	for _, ln := range lines {
		if _, ok := seen[ln.ProductID]; ok {
			continue
		}
		seen[ln.ProductID] = struct{}{}
		ids = append(ids, ln.ProductID)
	}
	sort.Strings(ids)
	return ids
}
