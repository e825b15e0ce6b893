// Package transport defines the fetch boundary between polling sessions and
// the platform's event API, plus the error taxonomy sessions use to decide
// between retrying and giving up.
package transport

import (
	"context"
	"time"

	v1 "github.com/tributary-io/tributary/internal/api/v1"
)

// Cursor is the platform's opaque resume token. The empty cursor means
// "start of the retention window". Cursors are echoed, never parsed.
type Cursor string

// Batch is the result of one successful fetch.
type Batch struct {
	// Events in platform order. May be empty when the long poll timed out
	// without traffic.
	Events []*v1.Event

	// NextCursor is the token to resume from after this batch.
	// The platform may return an unchanged cursor on an empty batch.
	NextCursor Cursor
}

// Transport fetches event batches from the platform.
//
// Implementations must honor ctx cancellation, return batches whose events
// are in delivery order, and classify failures as *Error so sessions can
// tell transient faults from terminal ones.
type Transport interface {
	// Fetch performs a single long poll: it blocks up to wait for events
	// after cursor, returning early as soon as any arrive.
	Fetch(ctx context.Context, cursor Cursor, wait time.Duration) (*Batch, error)
}
