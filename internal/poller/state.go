package poller

// State is the lifecycle phase of one polling session.
//
// The machine is idle → connecting → polling ⇄ paused → stopped, with error
// reachable from connecting and polling. Stop is legal from every state and
// always lands in stopped; a session in error is revived by Resume (or by
// auto-resume) back into connecting.
type State string

const (
	// StateIdle is the initial state: constructed, not yet started.
	StateIdle State = "idle"

	// StateConnecting means the session is seeding its cursor and trying
	// to complete its first successful fetch.
	StateConnecting State = "connecting"

	// StatePolling is the steady state: fetch, deliver, persist, repeat.
	StatePolling State = "polling"

	// StatePaused means no new fetch is issued until Resume.
	StatePaused State = "paused"

	// StateStopped is terminal for this session instance.
	StateStopped State = "stopped"

	// StateError means the session gave up after a non-retryable failure
	// or an exhausted retry budget and is parked until Resume.
	StateError State = "error"
)

func (s State) String() string {
	return string(s)
}
