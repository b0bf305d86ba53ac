package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"allocator/internal/core"
	"allocator/internal/log"
	"allocator/internal/plans"

	_ "modernc.org/sqlite"
)

// Ensure interface conformance
var (
	_ plans.PlanReader = (*SQLiteRepository)(nil)
	_ plans.PlanLister = (*SQLiteRepository)(nil)
	_ plans.PlanWriter = (*SQLiteRepository)(nil)
)

type SQLiteRepository struct {
	db     *sql.DB
	logger *log.Logger
}

func NewSQLiteRepository(dbPath string, logger *log.Logger) (*SQLiteRepository, error) {
	if logger == nil {
		logger = log.Default()
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:     db,
		logger: logger.WithComponent(log.ComponentStorage),
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// LoadPlan implements plans.PlanReader. Entries come back in the order they
// were saved.
func (r *SQLiteRepository) LoadPlan(ctx context.Context, name string) (core.Plan, error) {
	key := plans.NormalizeName(name)

	var planID int64
	err := r.db.QueryRowContext(ctx, `SELECT id FROM plans WHERE name = ?`, key).Scan(&planID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", plans.ErrPlanNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("get plan %s: %w", key, err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT name, percentage, code, memo FROM plan_entries WHERE plan_id = ? ORDER BY position`, planID)
	if err != nil {
		return nil, fmt.Errorf("get entries for plan %s: %w", key, err)
	}
	defer rows.Close()

	plan := core.Plan{}
	for rows.Next() {
		var e core.Entry
		if err := rows.Scan(&e.Name, &e.Percentage, &e.ID, &e.Memo); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		plan = append(plan, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return plan, nil
}

// ListPlans implements plans.PlanLister.
func (r *SQLiteRepository) ListPlans(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name FROM plans ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan plan name: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// SavePlan implements plans.PlanWriter. The previous entries are replaced in
// the same transaction, so readers never see a partially written plan.
func (r *SQLiteRepository) SavePlan(ctx context.Context, name string, plan core.Plan) error {
	key := plans.NormalizeName(name)
	if key == "" {
		return errors.New("empty plan name")
	}
	if err := core.ValidateEntries(plan); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var planID int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO plans (name) VALUES (?)
		 ON CONFLICT(name) DO UPDATE SET updated_at = CURRENT_TIMESTAMP
		 RETURNING id`, key).Scan(&planID)
	if err != nil {
		return fmt.Errorf("upsert plan %s: %w", key, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM plan_entries WHERE plan_id = ?`, planID); err != nil {
		return fmt.Errorf("clear entries for plan %s: %w", key, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO plan_entries (plan_id, position, name, percentage, code, memo) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare entry insert: %w", err)
	}
	defer stmt.Close()

	for i, e := range plan {
		if _, err := stmt.ExecContext(ctx, planID, i, e.Name, e.Percentage, e.ID, e.Memo); err != nil {
			return fmt.Errorf("insert entry %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit plan %s: %w", key, err)
	}

	r.logger.InfoContext(ctx, "Plan saved to SQLite", log.FieldPlan, key, log.FieldEntries, len(plan))
	return nil
}

// DeletePlan removes a plan and its entries.
func (r *SQLiteRepository) DeletePlan(ctx context.Context, name string) error {
	key := plans.NormalizeName(name)
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM plan_entries WHERE plan_id IN (SELECT id FROM plans WHERE name = ?)`, key); err != nil {
		return fmt.Errorf("delete entries for plan %s: %w", key, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM plans WHERE name = ?`, key)
	if err != nil {
		return fmt.Errorf("delete plan %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", plans.ErrPlanNotFound, key)
	}
	return tx.Commit()
}
