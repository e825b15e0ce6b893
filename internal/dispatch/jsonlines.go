package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	v1 "github.com/tributary-io/tributary/internal/api/v1"
)

// JSONLines writes one JSON object per event to w, newline-terminated.
// It is the default downstream in cmd/tributary, turning the binary into a
// long-poll-to-NDJSON bridge that any line-oriented consumer can sit behind.
//
// Safe for concurrent use: sessions for different accounts may share one
// sink, and lines are never interleaved.
type JSONLines struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONLines creates a sink writing to w.
func NewJSONLines(w io.Writer) *JSONLines {
	return &JSONLines{enc: json.NewEncoder(w)}
}

// jsonLine is the emitted shape. The account is part of the envelope here
// because Event deliberately keeps it off the platform wire format.
type jsonLine struct {
	AccountID string    `json:"account_id"`
	Event     *v1.Event `json:"event"`
}

// Process encodes the event as one line. An encoding or write failure is
// returned so the session can report it; the event itself is not retried.
func (j *JSONLines) Process(ctx context.Context, event *v1.Event) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.enc.Encode(jsonLine{AccountID: event.AccountID, Event: event}); err != nil {
		return fmt.Errorf("encoding event %s: %w", event.ID, err)
	}
	return nil
}
