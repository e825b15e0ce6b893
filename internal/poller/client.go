// Package poller implements the per-account polling session: a state machine
// driving long-poll fetches, in-order delivery to the registered processor,
// and durable cursor advancement after each delivered batch.
//
// One Client owns one account. All blocking work runs on a single loop
// goroutine, which is what makes the core guarantees hold: never more than
// one in-flight fetch per session, events delivered strictly in platform
// order, and the persisted cursor advancing only after a batch has been
// fully handed off.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tributary-io/tributary/internal/core/backoff"
	"github.com/tributary-io/tributary/internal/core/storage"
	"github.com/tributary-io/tributary/internal/dispatch"
	"github.com/tributary-io/tributary/internal/transport"
)

const defaultPollTimeout = 30 * time.Second

// Config assembles one polling session. Transport, Offsets and the processor
// registered via OnEvent are capability interfaces, so tests substitute fakes
// without touching the state machine.
type Config struct {
	// AccountID is the account this session polls. Required.
	AccountID string

	// Transport fetches event batches from the platform. Required.
	Transport transport.Transport

	// Offsets persists the account's cursor across restarts. Required.
	Offsets storage.OffsetStore

	// Backoff is the retry schedule for transient fetch failures.
	// The zero value means backoff.Default().
	Backoff backoff.Policy

	// PollTimeout is the server-side long-poll hold per fetch.
	// Zero means 30s.
	PollTimeout time.Duration

	// AutoResume re-enters connecting after a terminal error instead of
	// parking the session until Resume is called.
	AutoResume bool

	// ResumeDelay is the wait before an automatic re-connect.
	// Zero means the backoff policy's MaxDelay.
	ResumeDelay time.Duration
}

// Client is one account's polling session.
type Client struct {
	accountID   string
	sessionID   string
	transport   transport.Transport
	offsets     storage.OffsetStore
	policy      backoff.Policy
	pollTimeout time.Duration
	autoResume  bool
	resumeDelay time.Duration

	mu            sync.Mutex
	state         State
	cursor        transport.Cursor
	attempts      int
	lastErr       error
	lastErrAt     time.Time
	lastEventAt   time.Time
	delivered     uint64
	processor     dispatch.Processor
	errHandler    func(error)
	startNotified bool

	cancel  context.CancelFunc
	done    chan struct{}
	wake    chan struct{}
	started chan error
}

// New validates cfg and builds an idle session.
func New(cfg Config) (*Client, error) {
	if cfg.AccountID == "" {
		return nil, errors.New("account ID is required")
	}
	if cfg.Transport == nil {
		return nil, errors.New("transport is required")
	}
	if cfg.Offsets == nil {
		return nil, errors.New("offset store is required")
	}

	policy := cfg.Backoff
	if policy == (backoff.Policy{}) {
		policy = backoff.Default()
	}

	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = defaultPollTimeout
	}

	resumeDelay := cfg.ResumeDelay
	if resumeDelay <= 0 {
		resumeDelay = policy.MaxDelay
	}

	return &Client{
		accountID:   cfg.AccountID,
		sessionID:   uuid.NewString(),
		transport:   cfg.Transport,
		offsets:     cfg.Offsets,
		policy:      policy,
		pollTimeout: pollTimeout,
		autoResume:  cfg.AutoResume,
		resumeDelay: resumeDelay,
		state:       StateIdle,
		wake:        make(chan struct{}, 1),
		started:     make(chan error, 1),
	}, nil
}

// OnEvent registers the processor that receives every fetched event.
// Re-registration replaces the previous processor, so there is never more
// than one active and no event is delivered twice.
func (c *Client) OnEvent(p dispatch.Processor) {
	c.mu.Lock()
	c.processor = p
	c.mu.Unlock()
}

// OnError registers the handler for terminal session errors, per-event
// processing failures and cursor persistence failures. Re-registration
// replaces the previous handler. The handler is invoked from the session's
// loop goroutine; a slow handler delays the next fetch.
func (c *Client) OnError(h func(error)) {
	c.mu.Lock()
	c.errHandler = h
	c.mu.Unlock()
}

// Start moves the session from idle to connecting and launches the poll
// loop. It blocks until the first fetch succeeds (the session is polling,
// returns nil) or the session reaches error before ever polling (returns
// that classified error). With AutoResume the session keeps recovering in
// the background even after Start has returned an error.
//
// Only legal from idle; any other state returns *InvalidStateError. The
// loop runs until ctx is cancelled or Stop is called.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		st := c.state
		c.mu.Unlock()
		return &InvalidStateError{Op: "start", State: st}
	}
	if c.processor == nil {
		// Polling without a consumer would advance cursors past events
		// nobody saw. Refuse instead.
		c.mu.Unlock()
		return errors.New("no event processor registered: call OnEvent before Start")
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.state = StateConnecting
	c.mu.Unlock()

	slog.Info("[Poller] Session starting",
		"account_id", c.accountID,
		"session_id", c.sessionID,
		"poll_timeout", c.pollTimeout)

	go c.run(runCtx)

	return <-c.started
}

// Stop cancels the session and waits for the loop goroutine to exit. After
// Stop returns, no further fetch is issued and no further event is
// delivered. Idempotent and legal from every state.
func (c *Client) Stop() {
	c.mu.Lock()
	switch c.state {
	case StateStopped:
		c.mu.Unlock()
		return
	case StateIdle:
		c.state = StateStopped
		c.mu.Unlock()
		return
	}
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	cancel()
	<-done

	slog.Info("[Poller] Session stopped",
		"account_id", c.accountID,
		"session_id", c.sessionID)
}

// Pause stops issuing fetches once the in-flight one completes; its batch is
// still delivered and persisted. Only legal while polling.
func (c *Client) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePolling {
		return &InvalidStateError{Op: "pause", State: c.state}
	}
	c.state = StatePaused
	slog.Info("[Poller] Session paused", "account_id", c.accountID)
	return nil
}

// Resume restarts fetching: from paused it re-enters polling with the same
// cursor, from error it re-enters connecting with a fresh retry budget.
// Any other state returns *InvalidStateError.
func (c *Client) Resume() error {
	c.mu.Lock()
	switch c.state {
	case StatePaused:
		c.state = StatePolling
	case StateError:
		c.state = StateConnecting
		c.attempts = 0
	default:
		st := c.state
		c.mu.Unlock()
		return &InvalidStateError{Op: "resume", State: st}
	}
	c.mu.Unlock()

	c.signalWake()
	slog.Info("[Poller] Session resumed", "account_id", c.accountID)
	return nil
}

// State returns the session's current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status is a point-in-time snapshot of one session for operators.
type Status struct {
	AccountID       string    `json:"account_id"`
	SessionID       string    `json:"session_id"`
	State           State     `json:"state"`
	Attempts        int       `json:"attempts"`
	EventsDelivered uint64    `json:"events_delivered"`
	LastEventAt     time.Time `json:"last_event_at"`
	LastError       string    `json:"last_error,omitempty"`
	LastErrorAt     time.Time `json:"last_error_at"`
}

// Status returns a snapshot of the session.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		AccountID:       c.accountID,
		SessionID:       c.sessionID,
		State:           c.state,
		Attempts:        c.attempts,
		EventsDelivered: c.delivered,
		LastEventAt:     c.lastEventAt,
		LastErrorAt:     c.lastErrAt,
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}

// signalWake nudges a loop parked in paused or error state. The channel
// holds one token; a stale token is harmless because parks re-check state.
func (c *Client) signalWake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// notifyStarted resolves a waiting Start call exactly once per session.
func (c *Client) notifyStarted(err error) {
	c.mu.Lock()
	if c.startNotified {
		c.mu.Unlock()
		return
	}
	c.startNotified = true
	c.mu.Unlock()
	c.started <- err
}

// reportError forwards err to the registered error handler, if any.
func (c *Client) reportError(err error) {
	c.mu.Lock()
	handler := c.errHandler
	c.mu.Unlock()
	if handler != nil {
		handler(err)
	}
}
