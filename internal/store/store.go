// Package store provides storage backends for GoalPipe user records.
//
// All backends hold one document per user and serialize every mutation through a
// single exclusive section, so a read-modify-write always starts from the latest
// persisted state rather than a copy taken earlier by the caller.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/BTreeMap/GoalPipe/internal/models"
)

// Store is the durable mapping from user id to UserRecord.
type Store interface {
	// Get returns the user's record, creating and persisting an empty one if absent.
	Get(ctx context.Context, userID string) (models.UserRecord, error)
	// Put overwrites the user's record.
	Put(ctx context.Context, userID string, rec models.UserRecord) error
	// Update atomically applies fn to the latest persisted record and stores the result.
	// When fn returns an error nothing is written and the error is returned.
	Update(ctx context.Context, userID string, fn func(*models.UserRecord) error) (models.UserRecord, error)
	// List returns every persisted record keyed by user id.
	List(ctx context.Context) (map[string]models.UserRecord, error)
	// Close releases backend resources.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string // connection string or file path
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithJSONPath sets the path of the JSON document store.
func WithJSONPath(path string) Option {
	return func(o *Opts) { o.DSN = path }
}

// DSN types recognized by DetectDSNType.
const (
	DSNTypePostgres = "postgres"
	DSNTypeSQLite   = "sqlite3"
	DSNTypeJSON     = "json"
)

// DetectDSNType classifies a DSN as postgres, json, or sqlite.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"), strings.Contains(lower, "host="):
		return DSNTypePostgres
	case isKeyValueDSN(lower):
		return DSNTypePostgres
	case strings.HasSuffix(lower, ".json"):
		return DSNTypeJSON
	default:
		return DSNTypeSQLite
	}
}

// isKeyValueDSN reports whether dsn looks like "user=x password=y dbname=z".
func isKeyValueDSN(dsn string) bool {
	if strings.Contains(dsn, "?") {
		return false
	}
	pairs := 0
	for _, f := range strings.Fields(dsn) {
		if strings.Contains(f, "=") {
			pairs++
		}
	}
	return pairs >= 2
}

// Open returns the backend matching the DSN type. An empty DSN yields an in-memory store.
func Open(dsn string) (Store, error) {
	if dsn == "" {
		slog.Warn("No store DSN provided, using in-memory store; records will not survive restarts")
		return NewInMemoryStore(), nil
	}
	switch DetectDSNType(dsn) {
	case DSNTypePostgres:
		return NewPostgresStore(WithPostgresDSN(dsn))
	case DSNTypeJSON:
		return NewJSONStore(WithJSONPath(dsn))
	case DSNTypeSQLite:
		return NewSQLiteStore(WithSQLiteDSN(dsn))
	}
	return nil, fmt.Errorf("unsupported DSN type for %q", dsn)
}

// InMemoryStore keeps records in process memory. Used by tests and when no DSN is configured.
type InMemoryStore struct {
	mu      sync.Mutex
	records map[string]models.UserRecord
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]models.UserRecord)}
}

func (s *InMemoryStore) Get(ctx context.Context, userID string) (models.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userID]
	if !ok {
		rec = models.NewUserRecord()
		s.records[userID] = rec
		slog.Debug("InMemoryStore Get created record", "userID", userID)
	}
	return rec.Clone(), nil
}

func (s *InMemoryStore) Put(ctx context.Context, userID string, rec models.UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.Normalize()
	s.records[userID] = rec.Clone()
	return nil
}

func (s *InMemoryStore) Update(ctx context.Context, userID string, fn func(*models.UserRecord) error) (models.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[userID]
	if !ok {
		rec = models.NewUserRecord()
	}
	rec = rec.Clone()
	if err := fn(&rec); err != nil {
		return models.UserRecord{}, err
	}
	rec.Normalize()
	s.records[userID] = rec
	return rec.Clone(), nil
}

func (s *InMemoryStore) List(ctx context.Context) (map[string]models.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]models.UserRecord, len(s.records))
	for id, rec := range s.records {
		out[id] = rec.Clone()
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
