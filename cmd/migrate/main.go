package main

import (
	"flag"
	"os"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-storefront-orders/internal/config"
	"github.com/ariefcatur/go-storefront-orders/internal/logging"
	"github.com/ariefcatur/go-storefront-orders/internal/postgres"
)

func main() {
	down := flag.Bool("down", false, "roll back the last migration instead of applying")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(logging.Config{Level: cfg.LogLevel, Env: cfg.AppEnv})
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if *down {
		err = postgres.MigrateDown(cfg.PostgresDSN)
	} else {
		err = postgres.MigrateUp(cfg.PostgresDSN)
	}
	if err != nil {
		log.Error("migration failed", zap.Bool("down", *down), zap.Error(err))
		os.Exit(1)
	}

	version, dirty, err := postgres.MigrationVersion(cfg.PostgresDSN)
	if err != nil {
		log.Error("read migration version", zap.Error(err))
		os.Exit(1)
	}
	log.Info("migrations done", zap.Uint("version", version), zap.Bool("dirty", dirty))
}
