// Package sqlite provides a file-backed OffsetStore for single-node
// deployments that should not require a database server.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Register sqlite driver

	"github.com/tributary-io/tributary/internal/core/storage"
)

// Open opens (or creates) the SQLite database at path with WAL journaling
// and verifies it is reachable.
//
// Callers run migrations on the returned handle before passing it to NewStore.
func Open(path string) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return db, nil
}

// Store implements storage.OffsetStore in a single SQLite file.
type Store struct {
	db *sql.DB
}

// NewStore wraps an open, migrated SQLite handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func toMillis(value time.Time) int64 {
	if value.IsZero() {
		return 0
	}
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	if value == 0 {
		return time.Time{}
	}
	return time.UnixMilli(value).UTC()
}

// Read returns the stored offset for an account, or (nil, nil) when absent.
// A record written under a different schema version reads as absent.
func (s *Store) Read(ctx context.Context, accountID string) (*storage.OffsetRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	var (
		rec             storage.OffsetRecord
		lastEventMillis int64
		updatedMillis   int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT account_id, cursor, last_event_time, schema_version, updated_at
		 FROM account_offsets
		 WHERE account_id = ?`,
		accountID,
	).Scan(&rec.AccountID, &rec.Cursor, &lastEventMillis, &rec.SchemaVersion, &updatedMillis)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read offset for account %s: %w", accountID, err)
	}

	if rec.SchemaVersion != storage.SchemaVersion {
		slog.Warn("[SQLite] Ignoring offset with unknown schema version",
			"account_id", accountID,
			"found_version", rec.SchemaVersion,
			"supported_version", storage.SchemaVersion)
		return nil, nil
	}

	rec.LastEventTime = fromMillis(lastEventMillis)
	rec.UpdatedAt = fromMillis(updatedMillis)
	return &rec, nil
}

// Write upserts the account's offset record.
func (s *Store) Write(ctx context.Context, record storage.OffsetRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(record.AccountID) == "" {
		return fmt.Errorf("account id is required")
	}

	updatedAt := record.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO account_offsets (
		   account_id,
		   cursor,
		   last_event_time,
		   schema_version,
		   updated_at
		 ) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(account_id) DO UPDATE SET
		   cursor          = excluded.cursor,
		   last_event_time = excluded.last_event_time,
		   schema_version  = excluded.schema_version,
		   updated_at      = excluded.updated_at`,
		record.AccountID,
		record.Cursor,
		toMillis(record.LastEventTime),
		record.SchemaVersion,
		toMillis(updatedAt),
	)
	if err != nil {
		return fmt.Errorf("write offset for account %s: %w", record.AccountID, err)
	}
	return nil
}

// Delete removes the account's offset record. Idempotent.
func (s *Store) Delete(ctx context.Context, accountID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM account_offsets WHERE account_id = ?`,
		accountID,
	)
	if err != nil {
		return fmt.Errorf("delete offset for account %s: %w", accountID, err)
	}
	return nil
}
