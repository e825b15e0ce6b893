// Package supervisor owns one polling session per account and keeps their
// lifecycles isolated: an account whose session dies does not disturb the
// sessions of other accounts.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tributary-io/tributary/internal/poller"
)

// ErrUnknownAccount is returned when an operation names an account that was
// never registered.
var ErrUnknownAccount = errors.New("unknown account")

// ErrorHandler receives terminal session errors labeled with the account
// that raised them.
type ErrorHandler func(accountID string, err error)

// Supervisor runs a set of polling sessions, one per account.
type Supervisor struct {
	mu      sync.Mutex
	clients map[string]*poller.Client
	started bool
	onError ErrorHandler
}

func New() *Supervisor {
	return &Supervisor{clients: make(map[string]*poller.Client)}
}

// OnError registers the handler for terminal session errors. Without one,
// errors are logged. Calling it again replaces the handler.
func (s *Supervisor) OnError(handler ErrorHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = handler
}

// Register adds an account's session. The supervisor takes over the
// session's error reporting, replacing any handler previously set on the
// client. Registration closes once Start has been called.
func (s *Supervisor) Register(accountID string, client *poller.Client) error {
	if accountID == "" {
		return errors.New("account ID is required")
	}
	if client == nil {
		return errors.New("client is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("supervisor already started")
	}
	if _, ok := s.clients[accountID]; ok {
		return fmt.Errorf("account %s is already registered", accountID)
	}

	client.OnError(func(err error) { s.forward(accountID, err) })
	s.clients[accountID] = client
	return nil
}

// Start launches every registered session and blocks until each one has
// either reached polling or failed. A failing account never cancels its
// siblings; after all sessions have settled, the first failure is returned.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("supervisor already started")
	}
	s.started = true
	clients := s.snapshotLocked()
	s.mu.Unlock()

	slog.Info("[Supervisor] Starting sessions", "accounts", len(clients))

	g := new(errgroup.Group)
	for accountID, client := range clients {
		g.Go(func() error {
			if err := client.Start(ctx); err != nil {
				slog.Error("[Supervisor] Session failed to start",
					"account_id", accountID,
					"error", err)
				return fmt.Errorf("account %s: %w", accountID, err)
			}
			slog.Info("[Supervisor] Session polling", "account_id", accountID)
			return nil
		})
	}
	return g.Wait()
}

// Stop shuts down every session concurrently and returns once all of them
// have finished.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	clients := s.snapshotLocked()
	s.mu.Unlock()

	var wg sync.WaitGroup
	for accountID, client := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client.Stop()
			slog.Info("[Supervisor] Session stopped", "account_id", accountID)
		}()
	}
	wg.Wait()

	slog.Info("[Supervisor] All sessions stopped", "accounts", len(clients))
}

// Status reports a snapshot of every session keyed by account ID.
func (s *Supervisor) Status() map[string]poller.Status {
	s.mu.Lock()
	clients := s.snapshotLocked()
	s.mu.Unlock()

	out := make(map[string]poller.Status, len(clients))
	for accountID, client := range clients {
		out[accountID] = client.Status()
	}
	return out
}

// AccountStatus reports a single session's snapshot.
func (s *Supervisor) AccountStatus(accountID string) (poller.Status, error) {
	client, err := s.lookup(accountID)
	if err != nil {
		return poller.Status{}, err
	}
	return client.Status(), nil
}

// Pause suspends one account's fetching without touching the others.
func (s *Supervisor) Pause(accountID string) error {
	client, err := s.lookup(accountID)
	if err != nil {
		return err
	}
	return client.Pause()
}

// Resume restarts fetching for a paused account, or reconnects one that is
// parked in the error state.
func (s *Supervisor) Resume(accountID string) error {
	client, err := s.lookup(accountID)
	if err != nil {
		return err
	}
	return client.Resume()
}

// Healthy reports whether every session is polling or deliberately paused.
func (s *Supervisor) Healthy() bool {
	for _, st := range s.Status() {
		if st.State != poller.StatePolling && st.State != poller.StatePaused {
			return false
		}
	}
	return true
}

func (s *Supervisor) lookup(accountID string) (*poller.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	client, ok := s.clients[accountID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, accountID)
	}
	return client, nil
}

func (s *Supervisor) forward(accountID string, err error) {
	s.mu.Lock()
	handler := s.onError
	s.mu.Unlock()

	if handler != nil {
		handler(accountID, err)
		return
	}
	slog.Error("[Supervisor] Session error", "account_id", accountID, "error", err)
}

func (s *Supervisor) snapshotLocked() map[string]*poller.Client {
	out := make(map[string]*poller.Client, len(s.clients))
	for id, client := range s.clients {
		out[id] = client
	}
	return out
}
