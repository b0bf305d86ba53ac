package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"allocator/internal/config"
	"allocator/internal/core"
	"allocator/internal/log"
	"allocator/internal/plans"
	"allocator/internal/plans/file"
	"allocator/internal/plans/memory"
	"allocator/internal/services"
)

const defaultPlanFile = "plan.json"

// NewRootCmd builds the allocator command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "allocator",
		Short: "理财资产配置工具",
		Long: `Split a total amount across an allocation plan.

Plans are read from JSON or TOML files, a SQLite database or a Google
Sheets spreadsheet. The same engine is exposed as a CLI, an HTTP API and
an AMQP request/reply worker.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolP("verbose", "v", false, "Log debug output to stderr")

	root.AddCommand(
		newCalcCmd(),
		newValidateCmd(),
		newPlansCmd(),
		newImportCmd(),
		newServeCmd(),
		newWorkerCmd(),
		newRequestCmd(),
	)
	return root
}

// Execute runs the command tree and returns the process exit code.
func Execute() int {
	LoadEnvFile()
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(root.ErrOrStderr(), "错误: %v\n", err)
		return 1
	}
	return 0
}

// commandLogger logs to stderr so reports on stdout stay clean. One-shot
// commands only log warnings unless --verbose is set.
func commandLogger(cmd *cobra.Command, cfg *config.Config) *log.Logger {
	verbose, _ := cmd.Flags().GetBool("verbose")
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return log.New(log.Config{
		Level:     level,
		Format:    cfg.LogFormat,
		Component: log.ComponentCLI,
		Output:    cmd.ErrOrStderr(),
	})
}

// openPlan returns a service able to load plan together with the name to
// ask it for. A path to an existing file is read straight from disk; any
// other value is a plan name looked up in the configured backend.
func openPlan(ctx context.Context, cmd *cobra.Command, plan string) (*services.AllocationService, string, func() error, error) {
	cfg := config.Load()
	logger := commandLogger(cmd, cfg)

	if info, err := os.Stat(plan); err == nil && !info.IsDir() {
		entries, err := file.LoadFile(plan)
		if err != nil {
			return nil, "", nil, err
		}
		name := baseName(plan)
		store := memory.New(map[string]core.Plan{name: entries})
		svc := services.NewAllocationService(store, services.Options{
			SourceName:  config.SourceFile,
			DefaultPlan: name,
			Logger:      logger,
		})
		return svc, name, func() error { return nil }, nil
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", nil, err
	}
	app, err := NewApp(ctx, cfg, logger)
	if err != nil {
		return nil, "", nil, err
	}
	return app.Service, plan, app.Close, nil
}

// newCommandApp builds the App for a one-shot command against the
// configured backend.
func newCommandApp(cmd *cobra.Command) (*App, error) {
	cfg, err := LoadAndValidateConfig()
	if err != nil {
		return nil, err
	}
	return NewApp(cmd.Context(), cfg, commandLogger(cmd, cfg))
}

// baseName turns a plan file path into the name it is stored under.
func baseName(path string) string {
	return plans.NormalizeName(filepath.Base(path))
}
