package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fitcart/internal/config"
	"fitcart/internal/importer"
	"fitcart/internal/logger"
	"fitcart/internal/seed"
	"fitcart/internal/stubapi"
)

func main() {
	shape := flag.String("shape", string(stubapi.ShapeArray), "GET payload shape: array|items|data")
	nesting := flag.String("nesting", string(stubapi.NestUpper), "product field placement: Product|product|flat")
	empty := flag.Bool("empty", false, "start with an empty cart")
	flag.Parse()

	cfg := config.FromEnv()
	log := logger.New(logger.Options{Service: "stubcart", Env: cfg.Env, Level: cfg.LogLevel})

	opts := []stubapi.Option{
		stubapi.WithShape(stubapi.Shape(*shape)),
		stubapi.WithNesting(stubapi.Nesting(*nesting)),
	}
	if cfg.StubToken != "" {
		opts = append(opts, stubapi.WithToken(cfg.StubToken))
	}
	stub := stubapi.New(opts...)

	if *empty {
		stub.Stock(seed.Catalog()...)
	} else {
		seed.Apply(stub)
	}
	if cfg.StubCatalog != "" {
		if err := importCatalog(cfg.StubCatalog, stub, log); err != nil {
			log.Error("import catalog", "file", cfg.StubCatalog, "err", err)
			os.Exit(1)
		}
	}

	srv := &http.Server{
		Addr:              cfg.StubAddr,
		Handler:           stub.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("starting stub cart backend", "addr", cfg.StubAddr, "base_path", stubapi.BasePath)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stopCh:
		log.Info("received signal, shutting down", "signal", sig.String())
	case err := <-serverErr:
		log.Error("server error", "err", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "err", err)
	} else {
		log.Info("server stopped")
	}
}

func importCatalog(path string, stub *stubapi.Server, log *slog.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	start := time.Now()
	count, err := importer.NewCSVImporter(f, stub).Run(context.Background())
	if err != nil {
		return err
	}
	log.Info("catalog imported", "products", count, "took", time.Since(start).Truncate(time.Millisecond))
	return nil
}
