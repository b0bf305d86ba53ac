package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	nethttp "net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"allocator/internal/amqp"
	"allocator/internal/config"
	apphttp "allocator/internal/http"
	"allocator/internal/log"
	"allocator/internal/worker"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP API",
		Long: `Serve the allocation HTTP API. When AMQP_URL is set the allocation
worker runs in the same process unless --worker=false is given.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().String("port", "", "Listen port (default $PORT)")
	cmd.Flags().Bool("worker", true, "Also consume AMQP allocation requests when AMQP_URL is set")
	return cmd
}

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Answer allocation requests from AMQP",
		Args:  cobra.NoArgs,
		RunE:  runWorker,
	}
}

// setupLongRunning loads config and the process logger for serve and worker.
func setupLongRunning(cmd *cobra.Command) (*config.Config, *log.Logger, error) {
	cfg, err := LoadAndValidateConfig()
	if err != nil {
		return nil, nil, err
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, SetupLogger(cfg, os.Stdout), nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setupLongRunning(cmd)
	if err != nil {
		return err
	}
	if port, _ := cmd.Flags().GetString("port"); port != "" {
		cfg.Port = port
	}
	withWorker, _ := cmd.Flags().GetBool("worker")

	ctx, cancel := SignalContext(cmd.Context(), logger)
	defer cancel()

	app, err := NewApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	srv := apphttp.NewServer(net.JoinHostPort("", cfg.Port), app.Service, apphttp.Options{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		MetricsEnabled:     cfg.MetricsEnabled,
		Metrics:            app.Metrics,
		Logger:             logger,
		Ready:              app.Backend.Ready,
	})
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 35 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting allocator server",
			"port", cfg.Port,
			log.FieldPlanSource, cfg.PlanSource,
			log.FieldPlan, app.Service.DefaultPlan())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err.Error())
			return err
		}
		logger.Info("Server stopped gracefully")
		return nil
	})

	if withWorker && cfg.AMQPEnabled() {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger, app.Metrics)
		if err != nil {
			cancel()
			_ = g.Wait()
			return fmt.Errorf("connect to AMQP: %w", err)
		}
		defer client.Close()

		w := worker.NewAllocationWorker(app.Service, logger, app.Metrics)
		g.Go(func() error { return w.Run(gctx, client) })
	} else {
		logger.Info("AMQP worker disabled", "amqp_configured", cfg.AMQPEnabled())
	}

	return g.Wait()
}

func runWorker(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setupLongRunning(cmd)
	if err != nil {
		return err
	}
	if !cfg.AMQPEnabled() {
		return errors.New("AMQP_URL is required for the worker")
	}

	ctx, cancel := SignalContext(cmd.Context(), logger)
	defer cancel()

	app, err := NewApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger, app.Metrics)
	if err != nil {
		return fmt.Errorf("connect to AMQP: %w", err)
	}
	defer client.Close()

	logger.Info("Starting allocator worker", "queue", cfg.AMQPQueue, log.FieldPlanSource, cfg.PlanSource)
	return worker.NewAllocationWorker(app.Service, logger, app.Metrics).Run(ctx, client)
}
