// Package cli holds the allocator command tree and the initialization shared
// by its commands.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"allocator/internal/backend"
	"allocator/internal/cache"
	"allocator/internal/config"
	"allocator/internal/core"
	"allocator/internal/log"
	"allocator/internal/metrics"
	"allocator/internal/services"
)

// SetupLogger builds the process logger from LOG_LEVEL and LOG_FORMAT and
// installs it as the default.
func SetupLogger(cfg *config.Config, out io.Writer) *log.Logger {
	logger := log.New(log.Config{
		Level:     log.ParseLevel(cfg.LogLevel),
		Format:    cfg.LogFormat,
		Component: log.ComponentCLI,
		Output:    out,
	})
	log.SetDefault(logger)
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration from the environment and
// validates it.
func LoadAndValidateConfig() (*config.Config, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// App is the wiring every long-running command needs: the plan backend, the
// service on top of it and the cache sweeper.
type App struct {
	Config  *config.Config
	Logger  *log.Logger
	Metrics *metrics.Metrics
	Service *services.AllocationService
	Backend *backend.BackendResult

	caches *cache.Manager
}

// NewApp opens the configured plan backend and builds the allocation
// service with an LRU plan cache in front of it.
func NewApp(ctx context.Context, cfg *config.Config, logger *log.Logger) (*App, error) {
	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	result, err := backend.NewFactory(logger).CreateBackend(ctx, bcfg)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	plansCache := cache.NewLRUCache[core.Plan](cfg.PlanCacheSize, cfg.PlanCacheTTL)
	manager := cache.NewManager(logger)
	manager.Register(plansCache)
	manager.StartCleanup(cfg.PlanCacheTTL)

	svc := services.NewAllocationService(result.Backend, services.Options{
		Writer:      result.Writer,
		SourceName:  string(bcfg.Type),
		DefaultPlan: result.DefaultPlan,
		Cache:       plansCache,
		Metrics:     m,
		Logger:      logger,
	})

	return &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: m,
		Service: svc,
		Backend: result,
		caches:  manager,
	}, nil
}

// Close stops the cache sweeper and releases the backend.
func (a *App) Close() error {
	a.caches.Stop()
	if err := a.Backend.Close(); err != nil {
		return fmt.Errorf("close backend: %w", err)
	}
	return nil
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context, logger *log.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// shutdownTimeout bounds how long serve and worker wait for in-flight work.
const shutdownTimeout = 30 * time.Second
