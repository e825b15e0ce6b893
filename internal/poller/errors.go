package poller

import "fmt"

// InvalidStateError reports a lifecycle call that is not legal from the
// session's current state, e.g. Start on a session that is already polling.
type InvalidStateError struct {
	Op    string // rejected operation: "start", "pause", "resume"
	State State  // state the session was in when the call arrived
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s session in state %q", e.Op, e.State)
}

// ProcessingError wraps a downstream failure for a single event. It reaches
// the session's error handler only; delivery of the rest of the batch and
// the cursor advance are unaffected.
type ProcessingError struct {
	AccountID string
	EventID   string
	EventType string
	Err       error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("processing event %s (%s) for account %s: %v",
		e.EventID, e.EventType, e.AccountID, e.Err)
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}
