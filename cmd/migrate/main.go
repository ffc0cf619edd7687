package main

import (
	"context"
	"os"

	"fitcart/internal/config"
	"fitcart/internal/db"
	"fitcart/internal/logger"
	"fitcart/internal/migrate"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New(logger.Options{Service: "fitcart-migrate", Env: cfg.Env, Level: cfg.LogLevel})

	if cfg.DBConnString == "" {
		log.Error("DB_DSN is required")
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DBConnString)
	if err != nil {
		log.Error("connect db", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := migrate.Apply(ctx, pool, log); err != nil {
		log.Error("apply migrations", "err", err)
		pool.Close()
		os.Exit(1)
	}
}
