package v1

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event is a single inbound platform event as delivered by the long-poll API.
// It separates the system attributes (the envelope) from the payload (the letter).
type Event struct {
	// --- System Attributes (The Envelope) ---

	// ID is the platform-assigned unique identifier for this event.
	// It is unique per account and is what downstream consumers key
	// idempotent handling on.
	ID string `json:"id"`

	// Type is the platform event name (e.g. "message.created", "member.joined").
	// Downstream routing keys off this value.
	Type string `json:"type"`

	// Channel identifies the conversation or room the event belongs to, if any.
	Channel string `json:"channel,omitempty"`

	// Sender identifies the actor that produced the event, if any.
	// Examples: "user:U024BE7LH", "bot:B19D4K2MV".
	Sender string `json:"sender,omitempty"`

	// OccurredAt is when the event happened on the platform (platform clock).
	// Used locally to track ingestion staleness per account.
	OccurredAt time.Time `json:"occurred_at"`

	// AccountID is the local account the event was fetched for.
	// Stamped by the transport after decoding; never present on the wire.
	AccountID string `json:"-"`

	// --- Payload (The Letter) ---

	// Payload is the event body, kept opaque.
	// Parsing it is the consumer's concern; this client only moves it.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate ensures the event carries the attributes every consumer relies on.
func (e *Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("id is required")
	}

	if e.Type == "" {
		return fmt.Errorf("type is required")
	}

	return nil
}
