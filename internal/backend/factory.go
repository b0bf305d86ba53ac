package backend

import (
	"context"
	"fmt"
	"os"

	"allocator/internal/log"
	"allocator/internal/plans"
	"allocator/internal/plans/file"
	gsheet "allocator/internal/plans/google"
	"allocator/internal/plans/memory"
	"allocator/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.Default()
	}
	return &DefaultFactory{
		logger: logger.WithComponent(log.ComponentBackend),
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case FileBackend:
		return f.createFileBackend(config)
	case SQLiteBackend:
		return f.createSQLiteBackend(config)
	case SheetsBackend:
		return f.createSheetsBackend(ctx, config)
	case MemoryBackend:
		return f.createMemoryBackend(config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createFileBackend(config Config) (*BackendResult, error) {
	store := file.New(config.PlanDir, f.logger)

	f.logger.Info("Initialized file backend", "plan_dir", config.PlanDir)

	return &BackendResult{
		Backend:     store,
		Writer:      store,
		DefaultPlan: plans.NormalizeName(config.DefaultPlan),
		Ready: func(context.Context) error {
			_, err := os.Stat(store.Dir())
			return err
		},
	}, nil
}

func (f *DefaultFactory) createSQLiteBackend(config Config) (*BackendResult, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)

	return &BackendResult{
		Backend:     repo,
		Writer:      repo,
		DefaultPlan: plans.NormalizeName(config.DefaultPlan),
		Ready:       repo.Ping,
		Cleanup:     repo.Close,
	}, nil
}

func (f *DefaultFactory) createSheetsBackend(ctx context.Context, config Config) (*BackendResult, error) {
	cli, err := gsheet.New(ctx, gsheet.Options{
		SpreadsheetID:   config.GoogleSpreadsheetID,
		SheetName:       config.GoogleSheetName,
		CredentialsJSON: config.GoogleServiceAccountJSON,
		CredentialsFile: config.GoogleServiceAccountFile,
	}, f.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
	}

	f.logger.Info("Initialized Google Sheets backend", "sheet", config.GoogleSheetName)

	return &BackendResult{
		Backend:     cli,
		DefaultPlan: config.GoogleSheetName,
	}, nil
}

func (f *DefaultFactory) createMemoryBackend(config Config) (*BackendResult, error) {
	store := memory.NewWithDefaults()

	f.logger.Info("Initialized memory backend", "plan", memory.DefaultPlanName)

	return &BackendResult{
		Backend:     store,
		Writer:      store,
		DefaultPlan: memory.DefaultPlanName,
	}, nil
}
