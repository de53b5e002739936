package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/audit"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/auth"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/billing"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/catalog"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/clock"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/commission"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/config"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/fiscal"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/ledger"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/metrics"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/notify"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/orderbook"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/router"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/saleshistory"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/stock"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/store"
	"github.com/diamantegut/sistema-almareia-mirapraia-sub003/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// Structured logger: dev pretty, prod JSON
	if !cfg.IsProduction() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	opts := cfg.Store()
	opts.Metrics = m
	docs, err := store.New(opts)
	if err != nil {
		log.Fatal().Err(err).Str("dir", opts.Dir).Msg("failed to open data directory")
	}

	clk := &clock.System{Location: cfg.Location()}
	ids := clock.UUIDs{}

	auditLog, closeAudit, err := newAudit(ctx, cfg, docs, clk, ids)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up audit log")
	}
	defer closeAudit()

	fiscalPool, err := newFiscalPool(ctx, cfg, docs, clk, ids, m)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}

	hub := ws.NewHub()
	go hub.Run(ctx)

	dispatcher := notify.NewDispatcher(
		notify.NewSpoolPrinter(docs, clk, ids),
		notify.NewHubNotifier(hub),
		auditLog,
		m,
	)

	users := auth.NewUsers(docs)
	cashier := ledger.New(docs, clk, ids, auditLog, m)
	methods := catalog.NewMethods(docs)
	history := saleshistory.New(docs)

	charges := billing.New(billing.Deps{
		Docs:     docs,
		Clock:    clk,
		IDs:      ids,
		Cashier:  cashier,
		Methods:  methods,
		Fiscal:   fiscalPool,
		Notifier: dispatcher,
		Audit:    auditLog,
		Metrics:  m,
	})

	bookCfg, err := cfg.OrderBook()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid order book policy")
	}
	book := orderbook.New(bookCfg, orderbook.Deps{
		Docs:       docs,
		Clock:      clk,
		IDs:        ids,
		Cashier:    cashier,
		Menu:       catalog.NewMenu(docs),
		Methods:    methods,
		Occupancy:  catalog.NewOccupancy(docs),
		Stock:      stock.NewJournal(docs, clk, ids),
		Charges:    charges,
		History:    history,
		Fiscal:     fiscalPool,
		Authorizer: users,
		Printer:    dispatcher,
		Events:     hub,
		Audit:      auditLog,
		Metrics:    m,
	})

	r := router.New(router.Deps{
		JWTSecret:      cfg.JWTSecret,
		TokenTTL:       cfg.TokenTTL(),
		AllowedOrigins: cfg.Origins(),
		Users:          users,
		Tables:         book,
		Cashier:        cashier,
		Charges:        charges,
		Returner:       book,
		Commission:     commission.NewEngine(cashier, cfg.Commission(), cfg.Location(), auditLog),
		Fiscal:         fiscalPool,
		Audit:          auditLog,
		Sales:          history,
		Hub:            hub,
		Gatherer:       registry,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.Port).Str("data_dir", opts.Dir).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
	log.Info().Msg("server exited")
}

// newAudit picks the audit backend. The returned func releases its resources.
func newAudit(ctx context.Context, cfg *config.Config, docs store.Documents, c clock.Clock, ids clock.IDGenerator) (*audit.Log, func(), error) {
	if cfg.AuditBackend != "postgres" {
		return audit.New(audit.NewFileBackend(docs), c, ids), func() {}, nil
	}
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect audit database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ping audit database: %w", err)
	}
	backend := audit.NewPgBackend(pool)
	if err := backend.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	log.Info().Msg("audit log backed by postgres")
	return audit.New(backend, c, ids), pool.Close, nil
}

// newFiscalPool stages fiscal emissions; with REDIS_URL set, new entry ids are
// also pushed to the emitter queue.
func newFiscalPool(ctx context.Context, cfg *config.Config, docs store.Documents, c clock.Clock, ids clock.IDGenerator, m *metrics.Metrics) (*fiscal.Pool, error) {
	if cfg.RedisURL == "" {
		return fiscal.NewPool(docs, c, ids, nil, m), nil
	}
	rdb, err := fiscal.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	return fiscal.NewPool(docs, c, ids, fiscal.NewRedisNotifier(rdb, cfg.FiscalQueue), m), nil
}
