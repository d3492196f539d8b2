package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BTreeMap/GoalPipe/internal/models"
)

// Constants for the JSON document store
const (
	// DefaultDirPermissions defines the default permissions for store directories
	DefaultDirPermissions = 0755
	// DefaultFilePermissions defines the permissions of the written document
	DefaultFilePermissions = 0644
)

// JSONStore persists all users in a single JSON document keyed by user id.
// Every write re-reads the whole document so that records written by other
// callers since our last read are never clobbered.
type JSONStore struct {
	path string
	mu   sync.Mutex
}

// NewJSONStore creates a JSON document store. The file is created on first write.
func NewJSONStore(opts ...Option) (*JSONStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewJSONStore invoked", "path", cfg.DSN)
	if cfg.DSN == "" {
		slog.Error("JSONStore path not set")
		return nil, fmt.Errorf("json store path not set")
	}
	dir := filepath.Dir(cfg.DSN)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create store directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &JSONStore{path: cfg.DSN}, nil
}

// load reads the document. A missing file is an empty store; an unreadable or corrupt
// file is quarantined and also treated as empty. Individual undecodable records
// become empty records. Callers must hold s.mu.
func (s *JSONStore) load() map[string]models.UserRecord {
	doc := make(map[string]models.UserRecord)
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return doc
	}
	if err != nil {
		slog.Error("JSONStore load failed, continuing with empty store", "error", fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err), "path", s.path)
		return doc
	}
	if len(data) == 0 {
		return doc
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		slog.Error("JSONStore document corrupt, continuing with empty store", "error", fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err), "path", s.path)
		s.quarantine(data)
		return doc
	}
	for userID, msg := range raw {
		var rec models.UserRecord
		if err := json.Unmarshal(msg, &rec); err != nil {
			slog.Warn("JSONStore record corrupt, resetting to empty", "error", err, "userID", userID)
			rec = models.NewUserRecord()
		}
		rec.Normalize()
		doc[userID] = rec
	}
	return doc
}

// quarantine keeps a copy of an unparseable document next to the store.
func (s *JSONStore) quarantine(data []byte) {
	backup := fmt.Sprintf("%s.corrupt-%d", s.path, time.Now().Unix())
	if err := os.WriteFile(backup, data, DefaultFilePermissions); err != nil {
		slog.Warn("JSONStore failed to keep corrupt document", "error", err, "backup", backup)
		return
	}
	slog.Warn("JSONStore kept corrupt document", "backup", backup)
}

// save writes the document atomically via a temp file and rename. Callers must hold s.mu.
func (s *JSONStore) save(doc map[string]models.UserRecord) error {
	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode store document: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, DefaultFilePermissions); err != nil {
		slog.Warn("JSONStore chmod failed", "error", err, "path", tmpName)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace store document: %w", err)
	}
	return nil
}

func (s *JSONStore) Get(ctx context.Context, userID string) (models.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.load()
	if rec, ok := doc[userID]; ok {
		return rec, nil
	}
	rec := models.NewUserRecord()
	doc[userID] = rec
	if err := s.save(doc); err != nil {
		slog.Error("JSONStore Get failed to persist new record", "error", err, "userID", userID)
		return rec.Clone(), err
	}
	slog.Debug("JSONStore Get created record", "userID", userID)
	return rec.Clone(), nil
}

func (s *JSONStore) Put(ctx context.Context, userID string, rec models.UserRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.load()
	rec.Normalize()
	doc[userID] = rec.Clone()
	if err := s.save(doc); err != nil {
		slog.Error("JSONStore Put failed", "error", err, "userID", userID)
		return err
	}
	slog.Debug("JSONStore Put succeeded", "userID", userID)
	return nil
}

func (s *JSONStore) Update(ctx context.Context, userID string, fn func(*models.UserRecord) error) (models.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc := s.load()
	rec, ok := doc[userID]
	if !ok {
		rec = models.NewUserRecord()
	}
	if err := fn(&rec); err != nil {
		return models.UserRecord{}, err
	}
	rec.Normalize()
	doc[userID] = rec
	if err := s.save(doc); err != nil {
		slog.Error("JSONStore Update failed", "error", err, "userID", userID)
		return models.UserRecord{}, err
	}
	slog.Debug("JSONStore Update succeeded", "userID", userID)
	return rec.Clone(), nil
}

func (s *JSONStore) List(ctx context.Context) (map[string]models.UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(), nil
}

func (s *JSONStore) Close() error { return nil }
