package dispatch

import (
	"context"
	"log/slog"

	v1 "github.com/tributary-io/tributary/internal/api/v1"
)

// Router dispatches events to processors by event type. Types without a
// route fall through to the fallback; without a fallback they are dropped
// with a debug log, the normal treatment for platform event types a
// deployment does not care about.
//
// Routes are registered during wiring, before any session starts; Router is
// not safe for concurrent mutation.
type Router struct {
	routes   map[string]Processor
	fallback Processor
}

// NewRouter creates a router with no routes and no fallback.
func NewRouter() *Router {
	return &Router{routes: make(map[string]Processor)}
}

// Handle routes events of the given type to p, replacing any previous route
// for that type. Returns the router for chaining.
func (r *Router) Handle(eventType string, p Processor) *Router {
	r.routes[eventType] = p
	return r
}

// Fallback sets the processor for event types without an explicit route.
func (r *Router) Fallback(p Processor) *Router {
	r.fallback = p
	return r
}

// Process forwards the event to its route, or the fallback.
func (r *Router) Process(ctx context.Context, event *v1.Event) error {
	p, ok := r.routes[event.Type]
	if !ok {
		p = r.fallback
	}
	if p == nil {
		slog.Debug("[Dispatch] Dropping unrouted event",
			"account_id", event.AccountID,
			"event_id", event.ID,
			"event_type", event.Type)
		return nil
	}
	return p.Process(ctx, event)
}
