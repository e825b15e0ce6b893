package storage

import (
	"context"
	"time"
)

// SchemaVersion is the offset record layout this build reads and writes.
// Records persisted with a different version are treated as absent so a
// session restarts from the platform's retention window instead of failing.
const SchemaVersion = 1

// OffsetRecord is the durable polling position of one account.
type OffsetRecord struct {
	// AccountID is the local account the cursor belongs to.
	AccountID string

	// Cursor is the opaque resume token handed out by the platform.
	// Echoed back verbatim on the next fetch, never inspected.
	Cursor string

	// LastEventTime is the platform timestamp of the most recent event
	// delivered downstream. Used to monitor ingestion staleness.
	LastEventTime time.Time

	// SchemaVersion is the record layout version this row was written with.
	SchemaVersion int

	// UpdatedAt is when this row was last written.
	UpdatedAt time.Time
}

// OffsetStore defines durable persistence for per-account cursors.
//
// Implementations must be safe for concurrent use across distinct accounts;
// per-account serialization is the caller's job (one polling session holds
// one account). Write must not return before the record is durable.
type OffsetStore interface {
	// Read returns the stored record for the account, or (nil, nil) when
	// none exists. A record written by an unknown schema version also
	// reads as (nil, nil): a missing cursor is recoverable, a failed
	// session is not.
	Read(ctx context.Context, accountID string) (*OffsetRecord, error)

	// Write upserts the account's record atomically.
	Write(ctx context.Context, record OffsetRecord) error

	// Delete removes the account's record so the next session starts from
	// the beginning of the retention window. Deleting an absent record is
	// not an error.
	Delete(ctx context.Context, accountID string) error
}
