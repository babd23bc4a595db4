package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Handler harus return nil hanya jika proses sukses & boleh commit offset.
type Handler func(ctx context.Context, m kafka.Message) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r       messageReader
	workers int
	log     *zap.Logger

	// attempts per message before it is given up; backoff doubles after each failure
	attempts int
	backoff  time.Duration
}

func NewConsumer(brokers []string, group, topic string, workers int, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // commit sinkron setelah handler sukses
	})
	return newConsumer(r, workers, log)
}

func newConsumer(r messageReader, workers int, log *zap.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{r: r, workers: workers, log: log, attempts: 5, backoff: 200 * time.Millisecond}
}

// Start fetches messages and fans them out to the worker pool until ctx is
// cancelled or the reader fails. It returns after every worker has stopped.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	jobs := make(chan kafka.Message, c.workers*4)
	var wg sync.WaitGroup
	defer wg.Wait()
	defer close(jobs)

	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			log := c.log.With(zap.Int("worker", id))
			for m := range jobs {
				c.handle(ctx, log, h, m)
			}
		}(i)
	}

	// dispatcher loop
	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			// kecilkan noise saat shutdown
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		select {
		case jobs <- m:
		case <-ctx.Done():
			return nil
		}
	}
}

// handle retries h in place so a transient failure is not overtaken by a
// later offset of the same partition being committed.
func (c *Consumer) handle(ctx context.Context, log *zap.Logger, h Handler, m kafka.Message) {
	fields := []zap.Field{zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset)}
	wait := c.backoff
	for attempt := 1; ; attempt++ {
		err := h(ctx, m)
		if err == nil {
			break
		}
		if attempt >= c.attempts {
			// menyerah: offset ini tidak di-commit, tapi commit offset berikutnya akan melewatinya
			log.Error("handler gave up", append(fields, zap.Int("attempts", attempt), zap.Error(err))...)
			return
		}
		log.Warn("handler failed, retrying", append(fields, zap.Int("attempt", attempt), zap.Error(err))...)
		select {
		case <-time.After(wait):
			wait *= 2
		case <-ctx.Done():
			return
		}
	}
	if err := c.r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
		log.Error("commit failed", append(fields, zap.Error(err))...)
	}
}
