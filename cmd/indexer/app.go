package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"solana-curve-indexer/internal/config"
	"solana-curve-indexer/internal/curve"
	"solana-curve-indexer/internal/decoder"
	"solana-curve-indexer/internal/ingestion"
	"solana-curve-indexer/internal/observability"
	"solana-curve-indexer/internal/solana"
	"solana-curve-indexer/internal/storage"
	chstore "solana-curve-indexer/internal/storage/clickhouse"
	"solana-curve-indexer/internal/storage/memory"
	"solana-curve-indexer/internal/storage/migrations"
	pgstore "solana-curve-indexer/internal/storage/postgres"
	redisstore "solana-curve-indexer/internal/storage/redis"
)

// errDrift is returned by reconcile mode when stored state differs from chain.
var errDrift = errors.New("curve state drift")

// app holds the components shared by every mode.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics
	rpc      *solana.HTTPClient
	store    storage.Store
	pool     *pgstore.Pool // nil with the memory driver

	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(cfg.Metrics.Namespace, reg)

	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		metrics:  metrics,
		rpc: solana.NewHTTPClient(cfg.RPC.URL,
			solana.WithTimeout(cfg.RPC.Timeout),
			solana.WithCommitment(cfg.RPC.Commitment),
			solana.WithObserver(metrics.RecordRPC),
		),
	}

	switch cfg.Storage.Driver {
	case "memory":
		logger.Warn("using in-memory storage, state is lost on exit")
		a.store = memory.NewStore()
	default:
		pool, err := openPool(ctx, cfg.Storage)
		if err != nil {
			return nil, err
		}
		a.pool = pool
		a.store = pgstore.NewStore(pool, metrics)
		a.closers = append(a.closers, pool.Close)
	}
	return a, nil
}

func openPool(ctx context.Context, cfg config.StorageConfig) (*pgstore.Pool, error) {
	return pgstore.NewPool(ctx, cfg.PostgresDSN,
		pgstore.WithMaxConns(cfg.MaxConns),
		pgstore.WithConnLifetime(cfg.ConnLifetime),
	)
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) deriver() (*curve.Deriver, error) {
	return curve.NewDeriver(curve.Options{
		Params:  curve.Params(a.cfg.Curve),
		Logger:  a.logger,
		Metrics: a.metrics,
	})
}

// hooks connects the optional ClickHouse archive and Redis curve cache.
func (a *app) hooks(ctx context.Context) ([]ingestion.CommitHook, error) {
	var hooks []ingestion.CommitHook

	if a.cfg.ClickHouse.DSN != "" {
		conn, err := chstore.NewConn(ctx, a.cfg.ClickHouse.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { conn.Close() })
		hooks = append(hooks, chstore.NewArchive(conn, a.logger, a.metrics))
		a.logger.Info("clickhouse archive enabled")
	}

	if a.cfg.Redis.Addr != "" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		a.closers = append(a.closers, func() { client.Close() })
		hooks = append(hooks, redisstore.NewCurveCache(client, redisstore.Options{
			Prefix:  a.cfg.Redis.Prefix,
			Channel: a.cfg.Redis.Channel,
			TTL:     a.cfg.Redis.TTL,
			Logger:  a.logger,
		}))
		a.logger.Info("redis curve cache enabled", zap.String("addr", a.cfg.Redis.Addr))
	}

	return hooks, nil
}

func (a *app) slotSource(ctx context.Context) (ingestion.SlotSource, error) {
	if a.cfg.RPC.WSURL == "" {
		a.logger.Info("no websocket endpoint, polling for slots", zap.Duration("interval", a.cfg.Ingestion.PollInterval))
		return ingestion.NewPollingSlotSource(a.rpc, a.cfg.Ingestion.PollInterval, a.logger), nil
	}

	ws, err := solana.NewWSClient(ctx, a.cfg.RPC.WSURL, &solana.WSClientConfig{Logger: a.logger})
	if err != nil {
		return nil, fmt.Errorf("connect websocket: %w", err)
	}
	a.closers = append(a.closers, func() { ws.Close() })
	return ingestion.NewWSSlotSource(ws, a.cfg.RPC.Commitment, a.logger), nil
}

// serveMetrics starts the /metrics and /health server. The returned func stops it.
func (a *app) serveMetrics(health observability.HealthFunc) func() {
	if a.cfg.Metrics.Addr == "" {
		return func() {}
	}

	srv := &http.Server{
		Addr:    a.cfg.Metrics.Addr,
		Handler: observability.Handler(a.registry, health),
	}
	go func() {
		a.logger.Info("starting metrics server", zap.String("addr", a.cfg.Metrics.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server error", zap.Error(err))
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// runIndexer backfills from the checkpoint and follows the chain tip.
func runIndexer(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if a.pool != nil {
		if _, err := migrations.RunPostgresMigrations(ctx, a.pool, logger); err != nil {
			return err
		}
	}

	venues, err := cfg.Venues()
	if err != nil {
		return err
	}
	decoders, err := decoder.NewSet(decoder.Options{Logger: logger, Metrics: a.metrics}, venues...)
	if err != nil {
		return err
	}
	deriver, err := a.deriver()
	if err != nil {
		return err
	}
	hooks, err := a.hooks(ctx)
	if err != nil {
		return err
	}

	processor, err := ingestion.NewProcessor(ingestion.ProcessorOptions{
		Store:    a.store,
		Decoders: decoders,
		Deriver:  deriver,
		Hooks:    hooks,
		Logger:   logger,
		Metrics:  a.metrics,
	})
	if err != nil {
		return err
	}

	slots, err := a.slotSource(ctx)
	if err != nil {
		return err
	}

	orch, err := ingestion.NewOrchestrator(ingestion.OrchestratorOptions{
		RPC:        a.rpc,
		Checkpoint: a.store,
		Fetcher: ingestion.NewFetcher(ingestion.FetcherOptions{
			RPC:         a.rpc,
			Concurrency: cfg.Ingestion.FetchConcurrency,
			Logger:      logger,
			Metrics:     a.metrics,
		}),
		Processor:           processor,
		Slots:               slots,
		GenesisSlot:         cfg.Ingestion.GenesisSlot,
		BackfillWindow:      cfg.Ingestion.BackfillWindow,
		GapRetries:          cfg.Ingestion.BackfillGapRetries,
		CommitRetries:       cfg.Ingestion.CommitRetries,
		RetryInterval:       cfg.Ingestion.GapRetryInterval,
		LiveFetchMaxElapsed: cfg.Ingestion.LiveFetchMaxElapsed,
		Logger:              logger,
		Metrics:             a.metrics,
	})
	if err != nil {
		return err
	}

	stop := a.serveMetrics(func() error {
		if orch.State().Phase == ingestion.PhaseStopped {
			return errors.New("ingestion stopped")
		}
		if a.pool != nil {
			return a.pool.Healthy(context.Background())
		}
		return nil
	})
	defer stop()

	logger.Info("indexer starting",
		zap.String("rpc", cfg.RPC.URL),
		zap.String("commitment", cfg.RPC.Commitment),
		zap.String("storage", cfg.Storage.Driver),
		zap.Int("hooks", len(hooks)),
	)
	return orch.Run(ctx)
}

// runMigrate applies the Postgres schema and, when configured, the ClickHouse archive schema.
func runMigrate(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if cfg.Storage.Driver == "postgres" {
		pool, err := openPool(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		defer pool.Close()

		applied, err := migrations.RunPostgresMigrations(ctx, pool, logger)
		if err != nil {
			return err
		}
		logger.Info("postgres schema up to date", zap.Strings("applied", applied))
	}

	if cfg.ClickHouse.DSN != "" {
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouse.DSN, logger)
		if err != nil {
			return err
		}
		defer conn.Close()
		logger.Info("clickhouse schema up to date")
	}
	return nil
}

// runReconcile compares stored curve state for mint with its bonding curve account
// and prints the report as JSON.
func runReconcile(ctx context.Context, cfg *config.Config, logger *zap.Logger, mint string) error {
	if mint == "" {
		return errors.New("-mint is required for reconcile mode")
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	deriver, err := a.deriver()
	if err != nil {
		return err
	}
	report, err := curve.NewReconciler(a.rpc, a.store, deriver, logger).Reconcile(ctx, mint)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if !report.InSync() {
		return errDrift
	}
	return nil
}

// runExport copies committed trades and swaps in [from, to] into the ClickHouse archive.
func runExport(ctx context.Context, cfg *config.Config, logger *zap.Logger, from, to uint64) error {
	if cfg.ClickHouse.DSN == "" {
		return errors.New("clickhouse.dsn is required for export mode")
	}
	if from > to {
		return fmt.Errorf("-from-slot %d is after -to-slot %d", from, to)
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	conn, err := chstore.NewConn(ctx, cfg.ClickHouse.DSN)
	if err != nil {
		return err
	}
	defer conn.Close()

	stats, err := chstore.NewArchive(conn, logger, a.metrics).Export(ctx, a.store, from, to, cfg.ClickHouse.ExportChunk)
	if err != nil {
		return err
	}
	logger.Info("export complete",
		zap.Uint64("from_slot", from),
		zap.Uint64("to_slot", to),
		zap.Int("trades", stats.Trades),
		zap.Int("swaps", stats.Swaps),
	)
	return nil
}
