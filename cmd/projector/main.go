package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-storefront-orders/internal/config"
	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/logging"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/projector"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(logging.Config{Level: cfg.LogLevel, Env: cfg.AppEnv})
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()
	log = log.With(zap.String("service", cfg.ServiceName+"-projector"))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		log.Fatal("redis", zap.Error(err))
	}

	p := projector.New(
		redisx.NewDedup(rdb, "projector", redisx.TTLDedup),
		redisx.NewStatusStore(rdb, redisx.TTLStatusCache),
		log,
	)

	// Consumer
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ProjectorGroup, orders.TopicOrderPlaced, cfg.ProjectorWorkers, log)
	log.Info("projector consumer started",
		zap.String("group", cfg.ProjectorGroup),
		zap.String("topic", orders.TopicOrderPlaced),
		zap.Int("workers", cfg.ProjectorWorkers),
	)
	if err := cons.Start(ctx, p.HandleOrderPlaced); err != nil {
		log.Error("consumer exit", zap.Error(err))
		os.Exit(1)
	}
	log.Info("projector stopped")
}
