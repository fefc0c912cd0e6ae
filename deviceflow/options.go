package deviceflow

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Option configures a Machine.
type Option func(*Machine)

// WithClock replaces the wall clock and timer source, for tests.
func WithClock(clock clockwork.Clock) Option {
	return func(m *Machine) {
		m.clock = clock
	}
}

// WithLogger attaches a logger; the default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Machine) {
		m.log = log
	}
}

// WithNotify registers the observer called on every state change. The
// callback runs on the machine's goroutine and must not block.
func WithNotify(notify func(Notification)) Option {
	return func(m *Machine) {
		m.notify = notify
	}
}

// WithMinPollInterval sets the lower clamp on poll intervals.
func WithMinPollInterval(d time.Duration) Option {
	return func(m *Machine) {
		m.bounds.min = d
	}
}

// WithMaxPollInterval sets the upper clamp on poll intervals, bounding
// server-directed backoff.
func WithMaxPollInterval(d time.Duration) Option {
	return func(m *Machine) {
		m.bounds.max = d
	}
}
