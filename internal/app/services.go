package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/pollsync/internal/config"
	"github.com/dokzlo13/pollsync/internal/db"
	"github.com/dokzlo13/pollsync/internal/diag"
	"github.com/dokzlo13/pollsync/internal/engine"
	"github.com/dokzlo13/pollsync/internal/ledger"
	"github.com/dokzlo13/pollsync/internal/processor"
	"github.com/dokzlo13/pollsync/internal/reconcile"
	"github.com/dokzlo13/pollsync/internal/scheduler"
	"github.com/dokzlo13/pollsync/internal/source/fsdir"
	"github.com/dokzlo13/pollsync/internal/store"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB      *db.DB
	Pool    *pgxpool.Pool
	Store   store.Store[fsdir.FileInfo]
	Ledger  *ledger.Ledger
	Metrics *prometheus.Registry

	// Reconciliation
	Source *fsdir.Source
	Runner *engine.Runner[fsdir.FileInfo]
	Loop   *engine.Loop

	// Background services
	Health        *HealthService
	LedgerCleanup *LedgerCleanupService
}

// NewServices creates all services with proper dependency injection.
func NewServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	if err := s.openStore(ctx); err != nil {
		s.Close()
		return nil, err
	}

	// Metrics registry, served on /metrics
	s.Metrics = prometheus.NewRegistry()
	s.Metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sinks := diag.Multi{diag.LogSink{}, diag.NewMetricsSink(s.Metrics)}
	if s.Ledger != nil {
		sinks = append(sinks, diag.NewLedgerSink(s.Ledger))
	}

	var err error
	s.Source, err = fsdir.New(cfg.Source.Dir,
		fsdir.WithPattern(cfg.Source.Pattern),
		fsdir.WithConditionalFetch(!cfg.IgnoreState),
	)
	if err != nil {
		s.Close()
		return nil, err
	}

	chain, err := processor.Builtin[fsdir.FileInfo]().Build(ctx, cfg.Processors)
	if err != nil {
		s.Close()
		return nil, err
	}
	if chain.Len() == 0 {
		log.Warn().Msg("No processors configured, resources will only be tracked")
	}

	classify := reconcile.NewEngine[fsdir.FileInfo](reconcile.Options{
		IgnoreState:   cfg.IgnoreState,
		SkipOlderThan: cfg.Filter.SkipOlderThan(),
	})
	sched := scheduler.New[fsdir.FileInfo](s.Source, chain, scheduler.Options{
		Tenant:                cfg.Tenant,
		Workers:               cfg.DegreeOfParallelism,
		MaxRetries:            cfg.Retry.GetMaxRetries(),
		BanDuration:           cfg.Retry.BanDuration.Duration(),
		SlowResource:          cfg.Thresholds.ResourceDuration.Duration(),
		SkipUnchangedChecksum: cfg.Fetch.GetSkipUnchangedChecksum(),
		IgnoreState:           cfg.IgnoreState,
		RateLimitRPS:          cfg.Fetch.RateLimitRPS,
		Sink:                  sinks,
	})
	s.Runner = engine.NewRunner[fsdir.FileInfo](s.Source, s.Store, classify, sched, engine.Options{
		Tenant:          cfg.Tenant,
		SaveBatchSize:   cfg.Store.SaveBatchSize,
		SlowRun:         cfg.Thresholds.RunDuration.Duration(),
		ShutdownTimeout: cfg.ShutdownTimeout.Duration(),
		Sink:            sinks,
	})

	s.Loop, err = engine.NewLoop(s.Runner, engine.LoopOptions{
		Interval: cfg.Poll.Interval.Duration(),
		Schedule: cfg.Poll.Schedule,
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Health = NewHealthService(cfg, s.Loop, s.Metrics)
	if s.Ledger != nil {
		s.LedgerCleanup = NewLedgerCleanupService(s.Ledger, cfg.Ledger)
	}

	log.Info().
		Str("tenant", cfg.Tenant).
		Str("store", cfg.Store.Driver).
		Str("source", cfg.Source.Dir).
		Strs("processors", chain.Names()).
		Int("workers", sched.Workers()).
		Msg("Services initialized")

	return s, nil
}

// openStore opens the configured state store. The SQLite database is also
// opened for the ledger when it is enabled.
func (s *Services) openStore(ctx context.Context) error {
	cfg := s.cfg

	if cfg.Store.Driver == "sqlite" || cfg.Ledger.Enabled {
		database, err := db.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		s.DB = database
	}
	if cfg.Ledger.Enabled {
		if err := db.EnsureSchema(ctx, s.DB.DB); err != nil {
			return err
		}
		s.Ledger = ledger.New(s.DB.DB)
	}

	codec := store.JSONCodec[fsdir.FileInfo]{}
	switch cfg.Store.Driver {
	case "sqlite":
		s.Store = store.NewSQLiteStore[fsdir.FileInfo](s.DB.DB, codec, cfg.Store.BulkThreshold)
	case "postgres":
		pool, err := store.OpenPostgresPool(ctx, cfg.Store.DSN, cfg.Store.MaxConns)
		if err != nil {
			return err
		}
		s.Pool = pool
		s.Store = store.NewPostgresStore[fsdir.FileInfo](pool, cfg.Store.Schema, codec, cfg.Store.BulkThreshold)
	case "memory":
		log.Warn().Msg("Using in-memory state store, tracking state is lost on exit")
		s.Store = store.NewMemoryStore[fsdir.FileInfo]()
	default:
		return fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
