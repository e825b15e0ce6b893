package poller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	v1 "github.com/tributary-io/tributary/internal/api/v1"
	"github.com/tributary-io/tributary/internal/core/storage"
	"github.com/tributary-io/tributary/internal/transport"
)

// run drives the session until its context is cancelled. It is the only
// goroutine that fetches, delivers, or writes offsets for this account.
func (c *Client) run(ctx context.Context) {
	defer close(c.done)
	defer func() { c.notifyStarted(ctx.Err()) }()
	defer c.enterStopped()

	seeded := false
	for {
		if ctx.Err() != nil {
			return
		}

		if !seeded {
			cursor, err := c.seedCursor(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				c.enterError(err)
				if !c.park(ctx) {
					return
				}
				continue
			}
			c.setCursor(cursor)
			seeded = true
		}

		if cancelled := c.fetchLoop(ctx); cancelled {
			return
		}

		// fetchLoop hit a terminal error; the session is in error state.
		// Park until Resume, auto-resume, or shutdown, then reconnect
		// with the in-memory cursor.
		if !c.park(ctx) {
			return
		}
	}
}

// fetchLoop runs the steady-state poll cycle. It returns true when the
// session was cancelled and false when a terminal error parked it.
func (c *Client) fetchLoop(ctx context.Context) (cancelled bool) {
	for {
		if !c.waitWhilePaused(ctx) {
			return true
		}
		if ctx.Err() != nil {
			return true
		}

		cursor := c.currentCursor()
		batch, err := c.transport.Fetch(ctx, cursor, c.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				// Shutdown aborted the fetch; that is a stop, not a failure.
				return true
			}
			delay, terminal := c.classifyFailure(err)
			if terminal {
				return false
			}
			if !c.sleep(ctx, delay) {
				return true
			}
			continue
		}

		c.noteFetchSuccess(len(batch.Events))

		if !c.deliver(ctx, batch.Events) {
			// Cancelled mid-batch: the batch was not fully handed off,
			// so the cursor must not move.
			return true
		}

		c.advanceCursor(ctx, cursor, batch)
	}
}

// seedCursor loads the account's durable position. An absent record — which
// includes records written under an unknown schema version — means "start
// from the beginning of the platform's retention window".
func (c *Client) seedCursor(ctx context.Context) (transport.Cursor, error) {
	rec, err := c.offsets.Read(ctx, c.accountID)
	if err != nil {
		return "", fmt.Errorf("reading offset for account %s: %w", c.accountID, err)
	}
	if rec == nil {
		slog.Info("[Poller] No stored cursor, starting from beginning of retention window",
			"account_id", c.accountID)
		return "", nil
	}

	c.mu.Lock()
	c.lastEventAt = rec.LastEventTime
	c.mu.Unlock()

	slog.Info("[Poller] Resuming from stored cursor",
		"account_id", c.accountID,
		"last_event_time", rec.LastEventTime)
	return transport.Cursor(rec.Cursor), nil
}

// classifyFailure decides between backoff-and-retry and terminal error for
// one failed fetch. It owns the attempt counter.
func (c *Client) classifyFailure(err error) (delay time.Duration, terminal bool) {
	c.mu.Lock()
	c.attempts++
	attempts := c.attempts
	c.mu.Unlock()

	if !transport.Retryable(err) {
		slog.Error("[Poller] Fetch failed terminally",
			"account_id", c.accountID,
			"kind", string(transport.KindOf(err)),
			"error", err)
		c.enterError(err)
		return 0, true
	}

	if c.policy.Exhausted(attempts) {
		slog.Error("[Poller] Retry budget exhausted",
			"account_id", c.accountID,
			"attempts", attempts,
			"error", err)
		c.enterError(fmt.Errorf("retries exhausted after %d attempts: %w", attempts, err))
		return 0, true
	}

	delay = c.policy.Delay(attempts - 1)
	if ra := transport.RetryAfterOf(err); ra > delay {
		// The platform asked for a longer wait than the schedule would give.
		delay = ra
	}

	slog.Warn("[Poller] Fetch failed, retrying",
		"account_id", c.accountID,
		"kind", string(transport.KindOf(err)),
		"attempt", attempts,
		"delay", delay,
		"error", err)
	return delay, false
}

// deliver hands the batch to the processor sequentially, in platform order.
// A processor failure is reported and delivery continues with the next
// event; only cancellation aborts the batch, returning false so a partial
// hand-off never advances the cursor.
func (c *Client) deliver(ctx context.Context, events []*v1.Event) bool {
	for _, evt := range events {
		if ctx.Err() != nil {
			return false
		}

		c.mu.Lock()
		processor := c.processor
		c.mu.Unlock()

		if err := processor.Process(ctx, evt); err != nil {
			if ctx.Err() != nil {
				return false
			}
			c.reportError(&ProcessingError{
				AccountID: c.accountID,
				EventID:   evt.ID,
				EventType: evt.Type,
				Err:       err,
			})
		}

		c.mu.Lock()
		c.delivered++
		if evt.OccurredAt.After(c.lastEventAt) {
			c.lastEventAt = evt.OccurredAt
		}
		c.mu.Unlock()
	}
	return true
}

// advanceCursor persists the batch's next cursor and mirrors it in memory.
// A quiet poll returning an unchanged cursor skips the write to spare the
// store. A write failure is reported but the in-memory cursor still
// advances: within this process the batch was delivered, and after a crash
// the stale stored cursor only causes a re-delivery, which at-least-once
// delivery permits.
func (c *Client) advanceCursor(ctx context.Context, prev transport.Cursor, batch *transport.Batch) {
	next := batch.NextCursor
	if next == "" {
		return
	}
	if len(batch.Events) == 0 && next == prev {
		return
	}

	c.mu.Lock()
	lastEventAt := c.lastEventAt
	c.mu.Unlock()

	rec := storage.OffsetRecord{
		AccountID:     c.accountID,
		Cursor:        string(next),
		LastEventTime: lastEventAt,
		SchemaVersion: storage.SchemaVersion,
	}
	if err := c.offsets.Write(ctx, rec); err != nil {
		if ctx.Err() == nil {
			c.reportError(fmt.Errorf("persisting cursor for account %s: %w", c.accountID, err))
		}
	}

	c.setCursor(next)

	slog.Debug("[Poller] Cursor advanced",
		"account_id", c.accountID,
		"events", len(batch.Events))
}

// noteFetchSuccess resets the failure budget and completes the connecting →
// polling transition on the first success. A Pause that raced in during the
// fetch is preserved.
func (c *Client) noteFetchSuccess(events int) {
	c.mu.Lock()
	c.attempts = 0
	reached := false
	if c.state == StateConnecting {
		c.state = StatePolling
		reached = true
	}
	c.mu.Unlock()

	if reached {
		slog.Info("[Poller] Session polling",
			"account_id", c.accountID,
			"session_id", c.sessionID)
		c.notifyStarted(nil)
	}
	if events > 0 {
		slog.Debug("[Poller] Received events", "account_id", c.accountID, "count", events)
	}
}

// enterError parks the session in error state and surfaces err to the error
// handler and to a Start call still waiting on its first outcome.
func (c *Client) enterError(err error) {
	c.mu.Lock()
	c.state = StateError
	c.lastErr = err
	c.lastErrAt = time.Now().UTC()
	c.mu.Unlock()

	c.reportError(err)
	c.notifyStarted(err)
}

// park holds the session in error state until Resume, the auto-resume
// timer, or cancellation. It returns false when the session should stop;
// on true the state is connecting and the loop may reconnect.
func (c *Client) park(ctx context.Context) bool {
	if c.autoResume {
		slog.Info("[Poller] Auto-resume scheduled",
			"account_id", c.accountID,
			"delay", c.resumeDelay)

		t := time.NewTimer(c.resumeDelay)
		select {
		case <-t.C:
		case <-c.wake:
			t.Stop()
		case <-ctx.Done():
			t.Stop()
			return false
		}

		c.mu.Lock()
		if c.state == StateError {
			c.state = StateConnecting
			c.attempts = 0
		}
		c.mu.Unlock()
		return true
	}

	for {
		if ctx.Err() != nil {
			return false
		}
		if c.State() != StateError {
			// Resume already moved the session to connecting.
			return true
		}
		select {
		case <-c.wake:
		case <-ctx.Done():
			return false
		}
	}
}

// waitWhilePaused parks between iterations while the session is paused.
// Returns false when cancelled.
func (c *Client) waitWhilePaused(ctx context.Context) bool {
	for c.State() == StatePaused {
		select {
		case <-c.wake:
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// sleep waits for d or until cancellation. Returns false when cancelled.
func (c *Client) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Client) enterStopped() {
	c.mu.Lock()
	c.state = StateStopped
	c.mu.Unlock()
}

func (c *Client) currentCursor() transport.Cursor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor
}

func (c *Client) setCursor(cursor transport.Cursor) {
	c.mu.Lock()
	c.cursor = cursor
	c.mu.Unlock()
}
