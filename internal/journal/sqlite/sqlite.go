package sqlite

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/slok/firstboot/internal/journal"
	"github.com/slok/firstboot/internal/journal/sqlite/migrations"
	"github.com/slok/firstboot/internal/log"
	"github.com/slok/firstboot/internal/model"
)

// RepositoryConfig is the configuration for the SQLite journal repository.
type RepositoryConfig struct {
	DBPath string
	Logger log.Logger
}

func (c *RepositoryConfig) defaults() error {
	if c.DBPath == "" {
		return fmt.Errorf("db path is required")
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "journal.SQLite"})
	return nil
}

// Repository is a SQLite implementation of journal.Repository.
type Repository struct {
	db     *sql.DB
	logger log.Logger
}

// NewRepository creates a new SQLite journal repository.
func NewRepository(ctx context.Context, cfg RepositoryConfig) (*Repository, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	dir := filepath.Dir(cfg.DBPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("could not create db directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", cfg.DBPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	migrator, err := migrations.NewMigrator(db, cfg.Logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("could not create migrator: %w", err)
	}
	if err := migrator.Up(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("could not run migrations: %w", err)
	}

	cfg.Logger.Debugf("SQLite journal initialized at %s", cfg.DBPath)

	return &Repository{db: db, logger: cfg.Logger}, nil
}

// Close closes the database connection.
func (r *Repository) Close() error { return r.db.Close() }

// RecordEntry persists a journal entry. ID and CreatedAt are assigned here
// when missing.
func (r *Repository) RecordEntry(ctx context.Context, e journal.Entry) error {
	if e.Step == "" {
		return fmt.Errorf("entry step is required: %w", model.ErrNotValid)
	}
	if e.ID == "" {
		e.ID = ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO entries (id, run_id, step, state, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		e.ID,
		e.RunID,
		e.Step,
		string(e.State),
		string(e.Status),
		e.Error,
		e.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("could not insert entry: %w", err)
	}

	return nil
}

// ListEntries returns all journal entries in recording order.
func (r *Repository) ListEntries(ctx context.Context) ([]journal.Entry, error) {
	query := `
		SELECT id, run_id, step, state, status, error, created_at
		FROM entries
		ORDER BY id ASC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("could not query entries: %w", err)
	}
	defer rows.Close()

	var entries []journal.Entry
	for rows.Next() {
		var e journal.Entry
		var state, status string
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.RunID, &e.Step, &state, &status, &e.Error, &createdAt); err != nil {
			return nil, fmt.Errorf("could not scan entry: %w", err)
		}
		e.State = model.StorageState(state)
		e.Status = model.TaskStatus(status)
		e.CreatedAt = time.Unix(createdAt, 0).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("could not iterate entries: %w", err)
	}

	return entries, nil
}

// LastState returns the most recent successfully reached storage state.
func (r *Repository) LastState(ctx context.Context) (model.StorageState, error) {
	// ULIDs sort by creation time, so ordering by id gives recording order
	// even when several entries share the same second.
	query := `
		SELECT state FROM entries
		WHERE state != '' AND status = ?
		ORDER BY id DESC
		LIMIT 1
	`

	var state string
	err := r.db.QueryRowContext(ctx, query, string(model.TaskStatusDone)).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("no storage state recorded: %w", model.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("could not query last state: %w", err)
	}

	return model.StorageState(state), nil
}
