// Package store provides storage backends for GoalPipe.
//
// This file implements an SQLite-backed record store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	_ "embed"

	"github.com/BTreeMap/GoalPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

var sqliteQueries = recordQueries{
	selectOne: `SELECT record FROM user_records WHERE user_id = ?`,
	upsert: `INSERT INTO user_records (user_id, record, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET record = excluded.record, updated_at = excluded.updated_at`,
	selectAll: `SELECT user_id, record FROM user_records ORDER BY user_id`,
}

// SQLiteStore stores one JSON record per user in an SQLite table.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// One writer; mutations are serialized by s.mu anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, userID string) (models.UserRecord, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, sqliteQueries.selectOne, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug("SQLiteStore Get creating record", "userID", userID)
		return s.Update(ctx, userID, func(*models.UserRecord) error { return nil })
	}
	if err != nil {
		slog.Error("SQLiteStore Get failed", "error", err, "userID", userID)
		return models.NewUserRecord(), fmt.Errorf("failed to read record for %s: %w", userID, err)
	}
	return decodeRecord(userID, raw), nil
}

func (s *SQLiteStore) Put(ctx context.Context, userID string, rec models.UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := putRecord(ctx, s.db, sqliteQueries, userID, rec); err != nil {
		slog.Error("SQLiteStore Put failed", "error", err, "userID", userID)
		return err
	}
	slog.Debug("SQLiteStore Put succeeded", "userID", userID)
	return nil
}

func (s *SQLiteStore) Update(ctx context.Context, userID string, fn func(*models.UserRecord) error) (models.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, err := updateRecord(ctx, s.db, sqliteQueries, userID, fn)
	if err != nil {
		slog.Debug("SQLiteStore Update not applied", "error", err, "userID", userID)
		return rec, err
	}
	slog.Debug("SQLiteStore Update succeeded", "userID", userID)
	return rec, nil
}

func (s *SQLiteStore) List(ctx context.Context) (map[string]models.UserRecord, error) {
	out, err := listRecords(ctx, s.db, sqliteQueries)
	if err != nil {
		slog.Error("SQLiteStore List failed", "error", err)
		return nil, err
	}
	slog.Debug("SQLiteStore List succeeded", "count", len(out))
	return out, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
