package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"fitcart/internal/config"
	"fitcart/internal/db"
	"fitcart/internal/domain"
	"fitcart/internal/logger"
	"fitcart/internal/metrics"
	"fitcart/internal/migrate"
	cartrepo "fitcart/internal/repository/cart"
	tokenrepo "fitcart/internal/repository/token"
	"fitcart/internal/retry"
	cartsvc "fitcart/internal/service/cart"
	"fitcart/internal/service/session"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	login := flag.String("login", "", "store TOKEN as the session and open the cart")
	logout := flag.Bool("logout", false, "end the stored session and exit")
	profile := flag.String("profile", session.DefaultProfile, "session profile name")
	flag.Parse()

	cfg := config.FromEnv()

	logFile, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		fatal(nil, "open log file", err)
	}
	defer logFile.Close()
	log := logger.New(logger.Options{Service: "cartctl", Env: cfg.Env, Level: cfg.LogLevel, Output: logFile})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tokens, pool, err := openTokenStore(ctx, cfg, log)
	if err != nil {
		fatal(log, "open session storage", err)
	}
	if pool != nil {
		defer pool.Close()
	}

	sessions := session.New(tokens, *profile, log)
	if err := sessions.Load(ctx); err != nil {
		fatal(log, "load session", err)
	}

	if *logout {
		if err := sessions.Logout(ctx); err != nil {
			fatal(log, "logout", err)
		}
		fmt.Println("logged out")
		return
	}

	bootstrap := *login
	if _, ok := sessions.CurrentToken(); !ok && bootstrap == "" {
		bootstrap = cfg.Token
	}
	if bootstrap != "" {
		if err := sessions.Login(ctx, bootstrap); err != nil {
			fatal(log, "login", err)
		}
	}

	reg := prometheus.NewRegistry()
	clientMetrics := metrics.NewClientMetrics(reg)
	metricsSrv := startMetrics(cfg.MetricsAddr, reg, log)

	repo := cartrepo.NewHTTP(cfg.CartAPIURL, sessions,
		cartrepo.WithLogger(log),
		cartrepo.WithMetrics(clientMetrics),
	)
	store := cartsvc.New(repo, sessions,
		cartsvc.WithLogger(log),
		cartsvc.WithRetry(retry.New(retry.WithLogger(log), retry.WithMetrics(clientMetrics))),
	)
	defer store.Close()

	unwatch := sessions.OnChange(func(token string) {
		if err := store.HandleSessionChange(ctx, token); err != nil {
			log.Warn("reload cart after session change", "err", err)
		}
	})
	defer unwatch()

	p := tea.NewProgram(newModel(ctx, store, sessions))
	unsubscribe := store.Subscribe(func(st domain.CartState) { p.Send(stateMsg(st)) })
	defer unsubscribe()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-stopCh:
			log.Info("received signal, shutting down", "signal", sig.String())
			p.Quit()
		case <-ctx.Done():
		}
	}()

	log.Info("cartctl started", "api", cfg.CartAPIURL)
	if _, err := p.Run(); err != nil {
		fatal(log, "run terminal ui", err)
	}
	cancel()

	if metricsSrv != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer stop()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn("metrics shutdown failed", "err", err)
		}
	}
	log.Info("cartctl stopped")
}

// openTokenStore uses Postgres when DB_DSN is set and memory otherwise.
func openTokenStore(ctx context.Context, cfg config.Config, log *slog.Logger) (tokenrepo.Repository, *pgxpool.Pool, error) {
	if cfg.DBConnString == "" {
		return tokenrepo.NewMemory(), nil, nil
	}
	pool, err := db.Connect(ctx, cfg.DBConnString)
	if err != nil {
		return nil, nil, err
	}
	if err := migrate.Apply(ctx, pool, log); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return tokenrepo.NewPostgres(pool), pool, nil
}

func startMetrics(addr string, reg *prometheus.Registry, log *slog.Logger) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		log.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", "err", err)
		}
	}()
	return srv
}

func fatal(log *slog.Logger, msg string, err error) {
	if log != nil {
		log.Error(msg, "err", err)
	}
	fmt.Fprintf(os.Stderr, "cartctl: %s: %v\n", msg, err)
	os.Exit(1)
}
