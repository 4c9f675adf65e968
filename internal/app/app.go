package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/dokzlo13/pollsync/internal/config"
	"github.com/dokzlo13/pollsync/internal/engine"
)

// App is the main application container that manages all services and their lifecycle.
type App struct {
	cfg      *config.Config
	services *Services
}

// New creates a new App instance with all services initialized but not started.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	services, err := NewServices(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:      cfg,
		services: services,
	}, nil
}

// Services exposes the service container.
func (a *App) Services() *Services {
	return a.services
}

// Run starts the polling loop and background services and blocks until ctx
// is cancelled or a service fails.
func (a *App) Run(ctx context.Context) error {
	if err := a.Migrate(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.services.Loop.Run(ctx)
	})
	if a.cfg.Healthcheck.Enabled {
		g.Go(func() error {
			return a.services.Health.Run(ctx)
		})
	}
	if a.services.LedgerCleanup != nil {
		g.Go(func() error {
			return a.services.LedgerCleanup.Run(ctx)
		})
	}

	log.Info().Str("tenant", a.cfg.Tenant).Msg("pollsync started")
	err := g.Wait()
	log.Info().Msg("Shutting down...")
	return err
}

// RunOnce performs a single reconciliation run.
func (a *App) RunOnce(ctx context.Context) (*engine.RunResult, error) {
	if err := a.Migrate(ctx); err != nil {
		return nil, err
	}
	return a.services.Runner.Run(ctx)
}

// Migrate ensures the state store schema exists.
func (a *App) Migrate(ctx context.Context) error {
	return a.services.Runner.EnsureSchema(ctx)
}

// Close releases all resources.
func (a *App) Close() {
	if a.services != nil {
		a.services.Close()
	}
}

// SignalContext creates a context that is cancelled when SIGINT or SIGTERM is received.
func SignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Warn().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	return ctx
}
