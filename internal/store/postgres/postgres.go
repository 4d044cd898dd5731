// Package postgres implements the store.Store audit log backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/tasknotify/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	// MaxListLimit caps ListEvents.
	MaxListLimit = 500
	// DefaultWriteTimeout bounds one RecordEvent call. The audit subscriber
	// runs on the publisher's path, so a slow database must not stall
	// event ingest.
	DefaultWriteTimeout = 2 * time.Second
)

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db           *sql.DB
	writeTimeout time.Duration
}

var _ store.Store = (*PostgresStore)(nil)

// Option configures a PostgresStore.
type Option func(*PostgresStore)

// WithWriteTimeout overrides DefaultWriteTimeout.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *PostgresStore) { s.writeTimeout = d }
}

// New connects to the database at databaseURL and brings the audit schema
// up to date.
func New(ctx context.Context, databaseURL string, opts ...Option) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One insert per published event; a small pool is plenty.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return NewWithDB(db, opts...), nil
}

// NewWithDB wraps an already open database without running migrations.
func NewWithDB(db *sql.DB, opts ...Option) *PostgresStore {
	s := &PostgresStore{db: db, writeTimeout: DefaultWriteTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "notification_schema_migrations"})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// RecordEvent inserts rec and fills in its ID and RecordedAt.
func (s *PostgresStore) RecordEvent(ctx context.Context, rec *store.Record) error {
	if s.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.writeTimeout)
		defer cancel()
	}
	if err := queryRecordEvent(ctx, s.db, rec); err != nil {
		return fmt.Errorf("recording %s: %w", rec.Type, err)
	}
	return nil
}

// ListEvents returns up to limit records, newest first. Limits outside
// 1..MaxListLimit are clamped to MaxListLimit.
func (s *PostgresStore) ListEvents(ctx context.Context, limit int) ([]*store.Record, error) {
	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}
	return queryListEvents(ctx, s.db, limit)
}
