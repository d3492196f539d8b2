// Package store provides storage backends for GoalPipe.
//
// This file implements a PostgreSQL-backed record store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "embed"

	"github.com/BTreeMap/GoalPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

var postgresQueries = recordQueries{
	selectOne: `SELECT record FROM user_records WHERE user_id = $1 FOR UPDATE`,
	upsert: `INSERT INTO user_records (user_id, record, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET record = EXCLUDED.record, updated_at = EXCLUDED.updated_at`,
	selectAll: `SELECT user_id, record FROM user_records ORDER BY user_id`,
}

// PostgresStore stores one JSON record per user in a PostgreSQL table.
type PostgresStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("Postgres ping successful")

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Get(ctx context.Context, userID string) (models.UserRecord, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM user_records WHERE user_id = $1`, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("PostgresStore Get creating record", "userID", userID)
		return s.Update(ctx, userID, func(*models.UserRecord) error { return nil })
	}
	if err != nil {
		slog.Error("PostgresStore Get failed", "error", err, "userID", userID)
		return models.NewUserRecord(), fmt.Errorf("failed to read record for %s: %w", userID, err)
	}
	return decodeRecord(userID, raw), nil
}

func (s *PostgresStore) Put(ctx context.Context, userID string, rec models.UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := putRecord(ctx, s.db, postgresQueries, userID, rec); err != nil {
		slog.Error("PostgresStore Put failed", "error", err, "userID", userID)
		return err
	}
	slog.Debug("PostgresStore Put succeeded", "userID", userID)
	return nil
}

func (s *PostgresStore) Update(ctx context.Context, userID string, fn func(*models.UserRecord) error) (models.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := updateRecord(ctx, s.db, postgresQueries, userID, fn)
	if err != nil {
		slog.Debug("PostgresStore Update not applied", "error", err, "userID", userID)
		return rec, err
	}
	slog.Debug("PostgresStore Update succeeded", "userID", userID)
	return rec, nil
}

func (s *PostgresStore) List(ctx context.Context) (map[string]models.UserRecord, error) {
	out, err := listRecords(ctx, s.db, postgresQueries)
	if err != nil {
		slog.Error("PostgresStore List failed", "error", err)
		return nil, err
	}
	slog.Debug("PostgresStore List succeeded", "count", len(out))
	return out, nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
