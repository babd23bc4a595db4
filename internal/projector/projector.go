// Package projector keeps the order_status read model in Redis up to date
// from OrderPlaced events.
package projector

import (
	"context"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
)

type Dedup interface {
	Claim(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

type StatusWriter interface {
	Set(ctx context.Context, orderID string, st redisx.OrderStatus) error
}

type Projector struct {
	Dedup    Dedup
	Statuses StatusWriter
	Log      *zap.Logger
}

func New(dedup Dedup, statuses StatusWriter, log *zap.Logger) *Projector {
	if log == nil {
		log = zap.NewNop()
	}
	return &Projector{Dedup: dedup, Statuses: statuses, Log: log}
}

// HandleOrderPlaced: dipasang sebagai handler consumer.
func (p *Projector) HandleOrderPlaced(ctx context.Context, m kafkago.Message) error {
	// 1) decode envelope
	var env orders.Envelope
	if err := kafkax.UnmarshalEnvelope(m.Value, &env); err != nil {
		// pesan rusak tidak akan pernah sukses, commit saja
		p.Log.Error("drop malformed message", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventType != orders.EventOrderPlaced {
		return nil
	} // ignore
	log := p.Log.With(zap.String("event_id", env.EventID), zap.String("order_id", env.CorrelationID))

	// 2) dedup via Redis (pakai event_id)
	first, err := p.Dedup.Claim(ctx, env.EventID)
	if err != nil {
		return err
	}
	if !first {
		log.Debug("duplicate event skipped")
		return nil
	}

	// 3) decode payload & tulis read model
	payload, err := kafkax.UnwrapPayload[orders.OrderPlacedPayload](env.Payload)
	if err != nil {
		log.Error("drop malformed payload", zap.Error(err))
		return nil
	}
	if !payload.Status.Valid() {
		log.Error("drop event with unknown status", zap.String("status", string(payload.Status)))
		return nil
	}

	if err := p.Statuses.Set(ctx, payload.OrderID, redisx.OrderStatus{
		Status:    string(payload.Status),
		UpdatedAt: env.OccurredAt,
	}); err != nil {
		// lepas klaim supaya redelivery bisa proses ulang
		if ferr := p.Dedup.Forget(context.WithoutCancel(ctx), env.EventID); ferr != nil {
			log.Warn("dedup forget", zap.Error(ferr))
		}
		return fmt.Errorf("project order %s: %w", payload.OrderID, err)
	}
	log.Info("order status projected", zap.String("status", string(payload.Status)))
	return nil
}
