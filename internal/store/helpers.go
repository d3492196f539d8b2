package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/GoalPipe/internal/models"
)

// recordQueries holds the dialect-specific statements for the user_records table.
type recordQueries struct {
	selectOne string // args: user_id; used inside the update transaction
	upsert    string // args: user_id, record, updated_at
	selectAll string
}

// decodeRecord parses a stored record. An undecodable row becomes an empty record.
func decodeRecord(userID, raw string) models.UserRecord {
	var rec models.UserRecord
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			slog.Warn("Stored record corrupt, resetting to empty", "error", fmt.Errorf("%w: %v", models.ErrStoreUnavailable, err), "userID", userID)
			rec = models.NewUserRecord()
		}
	}
	rec.Normalize()
	return rec
}

// encodeRecord serializes a record for the record column.
func encodeRecord(rec models.UserRecord) (string, error) {
	rec.Normalize()
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("failed to encode user record: %w", err)
	}
	return string(data), nil
}

// updateRecord runs a read-modify-write of one row inside a transaction.
func updateRecord(ctx context.Context, db *sql.DB, q recordQueries, userID string, fn func(*models.UserRecord) error) (models.UserRecord, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return models.UserRecord{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx, q.selectOne, userID).Scan(&raw)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return models.UserRecord{}, fmt.Errorf("failed to read record for %s: %w", userID, err)
	}
	rec := decodeRecord(userID, raw)

	if err := fn(&rec); err != nil {
		return models.UserRecord{}, err
	}

	encoded, err := encodeRecord(rec)
	if err != nil {
		return models.UserRecord{}, err
	}
	if _, err := tx.ExecContext(ctx, q.upsert, userID, encoded, time.Now()); err != nil {
		return models.UserRecord{}, fmt.Errorf("failed to write record for %s: %w", userID, err)
	}
	if err := tx.Commit(); err != nil {
		return models.UserRecord{}, fmt.Errorf("failed to commit record for %s: %w", userID, err)
	}
	rec.Normalize()
	return rec, nil
}

// putRecord overwrites one row.
func putRecord(ctx context.Context, db *sql.DB, q recordQueries, userID string, rec models.UserRecord) error {
	encoded, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, q.upsert, userID, encoded, time.Now()); err != nil {
		return fmt.Errorf("failed to write record for %s: %w", userID, err)
	}
	return nil
}

// listRecords reads every row.
func listRecords(ctx context.Context, db *sql.DB, q recordQueries) (map[string]models.UserRecord, error) {
	rows, err := db.QueryContext(ctx, q.selectAll)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	out := make(map[string]models.UserRecord)
	for rows.Next() {
		var userID, raw string
		if err := rows.Scan(&userID, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan record row: %w", err)
		}
		out[userID] = decodeRecord(userID, raw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate record rows: %w", err)
	}
	return out, nil
}
