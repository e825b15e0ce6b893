// Package dispatch defines the downstream boundary of the polling client:
// the Processor contract every fetched event is handed to, plus the stock
// implementations wired by cmd/tributary — a type router and an NDJSON sink.
package dispatch

import (
	"context"

	v1 "github.com/tributary-io/tributary/internal/api/v1"
)

// Processor consumes one event. Events arrive sequentially, in platform
// order, one session at a time; a returned error is reported through the
// session's error handler and never halts the batch or the poll loop.
//
// Processors must be idempotent: after a crash between delivery and cursor
// persistence the same events are delivered again.
type Processor interface {
	Process(ctx context.Context, event *v1.Event) error
}

// ProcessorFunc adapts a plain function to Processor.
type ProcessorFunc func(ctx context.Context, event *v1.Event) error

func (f ProcessorFunc) Process(ctx context.Context, event *v1.Event) error {
	return f(ctx, event)
}
