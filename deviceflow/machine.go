// Package deviceflow drives one device-authorization attempt from the client
// side: initiate, wait for the user, poll to a terminal outcome. The
// transition logic is a pure function (step); a Machine wraps it with a
// runner goroutine, a clock, and the wire client.
package deviceflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/playforge/playerauth/authapi"
	"github.com/playforge/playerauth/pkce"
)

// Poll interval defaults and clamps.
const (
	DefaultPollInterval = 5 * time.Second
	MinPollInterval     = time.Second
	MaxPollInterval     = 30 * time.Second
)

// ErrAlreadyStarted indicates Start was called twice; a Machine is single-use.
var ErrAlreadyStarted = errors.New("deviceflow: attempt already started")

// Client is the slice of the wire client a machine drives.
type Client interface {
	Initiate(ctx context.Context, codeChallenge, scope string) (*authapi.GrantSession, error)
	Poll(ctx context.Context, sessionID, codeVerifier string) (*authapi.PollResult, error)
}

// Notification reports a state change to the machine's observer. Session is
// set from WaitingForUser on, Grant only on Authorized, Err only on Failed.
type Notification struct {
	State   State
	Session *authapi.GrantSession
	Grant   *authapi.TokenGrant
	Err     error
}

// Result is the terminal outcome of an attempt.
type Result struct {
	State State
	Grant *authapi.TokenGrant
	Err   error
}

// Machine owns one authorization attempt. It generates a fresh PKCE pair,
// opens a session, and polls until a terminal state. A Machine is single-use;
// a new attempt requires a new Machine.
type Machine struct {
	client Client
	scope  string
	clock  clockwork.Clock
	log    zerolog.Logger
	notify func(Notification)
	bounds bounds

	mu       sync.Mutex
	state    State
	interval time.Duration
	session  *authapi.GrantSession
	grant    *authapi.TokenGrant
	err      error
	started  bool
	stopCall context.CancelFunc

	sessionReady chan struct{}
	ack          chan struct{}
	ackOnce      sync.Once
	cancelled    chan struct{}
	cancelOnce   sync.Once
	done         chan struct{}
}

// New creates a machine for one attempt at the given scope.
func New(client Client, scope string, opts ...Option) *Machine {
	m := &Machine{
		client:       client,
		scope:        scope,
		clock:        clockwork.NewRealClock(),
		log:          zerolog.Nop(),
		bounds:       bounds{min: MinPollInterval, max: MaxPollInterval},
		state:        StateIdle,
		interval:     DefaultPollInterval,
		sessionReady: make(chan struct{}),
		ack:          make(chan struct{}),
		cancelled:    make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start launches the attempt. It returns immediately; progress is observable
// through notifications, SessionReady, and Done.
func (m *Machine) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	ctx, m.stopCall = context.WithCancel(ctx)
	m.mu.Unlock()

	go m.run(ctx)
	return nil
}

// AcknowledgeOpened reports that the UI collaborator has opened the
// verification URL; polling begins. Safe to call more than once.
func (m *Machine) AcknowledgeOpened() {
	m.ackOnce.Do(func() { close(m.ack) })
}

// Cancel aborts the attempt. The outstanding network call, if any, is
// abandoned; if a terminal state was already reached Cancel is a no-op.
func (m *Machine) Cancel() {
	m.cancelOnce.Do(func() { close(m.cancelled) })
	m.mu.Lock()
	stop := m.stopCall
	m.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// State returns the current attempt state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SessionReady is closed once the grant session (and its verification URL)
// is available.
func (m *Machine) SessionReady() <-chan struct{} {
	return m.sessionReady
}

// Session returns the grant session, or nil before SessionReady.
func (m *Machine) Session() *authapi.GrantSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// Done is closed when the attempt reaches a terminal state.
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

// Result returns the terminal outcome. Valid only after Done is closed.
func (m *Machine) Result() Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Result{State: m.state, Grant: m.grant, Err: m.err}
}

// Wait blocks until the attempt terminates or ctx is cancelled.
func (m *Machine) Wait(ctx context.Context) (Result, error) {
	select {
	case <-m.done:
		return m.Result(), nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (m *Machine) isCancelled() bool {
	select {
	case <-m.cancelled:
		return true
	default:
		return false
	}
}

// apply feeds one input through the pure transition function and records the
// outcome. Observers are notified of every state change from the runner
// goroutine, so notifications arrive in transition order.
func (m *Machine) apply(in input) transition {
	m.mu.Lock()
	tr := step(m.state, m.interval, in, m.bounds)
	changed := tr.state != m.state
	m.state = tr.state
	m.interval = tr.interval
	if in.err != nil && tr.state == StateFailed {
		m.err = in.err
	}
	n := Notification{State: tr.state, Session: m.session, Grant: m.grant, Err: m.err}
	m.mu.Unlock()

	if changed && m.notify != nil {
		m.notify(n)
	}
	return tr
}

func (m *Machine) run(ctx context.Context) {
	defer close(m.done)

	m.apply(input{kind: inputStart})

	verifier, err := pkce.NewVerifier()
	var challenge string
	if err == nil {
		challenge, err = pkce.ChallengeS256(verifier)
	}
	if err != nil {
		m.apply(input{kind: inputInitiateFailed, err: fmt.Errorf("generating proof key: %w", err)})
		return
	}

	sess, err := m.client.Initiate(ctx, challenge, m.scope)
	if m.isCancelled() {
		m.apply(input{kind: inputCancel})
		return
	}
	if err != nil {
		m.log.Warn().Err(err).Msg("device authorization initiate failed")
		m.apply(input{kind: inputInitiateFailed, err: err})
		return
	}

	m.mu.Lock()
	m.session = sess
	m.mu.Unlock()
	close(m.sessionReady)

	m.apply(input{kind: inputInitiateOK, interval: sess.PollInterval})
	deadline := sess.ExpiresAt

	// The UI collaborator opens the URL and acknowledges; the machine never
	// opens anything itself. The session can lapse while we wait.
	select {
	case <-m.ack:
	case <-m.cancelled:
		m.apply(input{kind: inputCancel})
		return
	case <-ctx.Done():
		m.apply(input{kind: inputCancel})
		return
	case <-m.clock.After(deadline.Sub(m.clock.Now())):
		m.apply(input{kind: inputDeadline})
		return
	}

	tr := m.apply(input{kind: inputAcknowledged})

	for {
		// Local expiry is checked before every poll so a lapsed session
		// terminates without another network call.
		if !m.clock.Now().Before(deadline) {
			m.apply(input{kind: inputDeadline})
			return
		}

		res, err := m.client.Poll(ctx, sess.SessionID, verifier)
		if m.isCancelled() {
			// A response racing the cancellation is abandoned; Cancelled is
			// the authoritative terminal state.
			m.apply(input{kind: inputCancel})
			return
		}
		in := classifyPoll(res, err)
		switch in.kind {
		case inputAuthorized:
			m.mu.Lock()
			m.grant = res.Grant
			m.mu.Unlock()
		case inputTransientError:
			m.log.Debug().Err(err).Msg("transient poll failure, keeping cadence")
		}

		tr = m.apply(in)
		if tr.state.Terminal() {
			return
		}

		// Sleep the poll interval, but never past the session deadline:
		// expiry wins over any backoff instruction.
		wait := tr.interval
		if remaining := deadline.Sub(m.clock.Now()); remaining < wait {
			wait = remaining
		}
		if wait < 0 {
			wait = 0
		}
		select {
		case <-m.cancelled:
			m.apply(input{kind: inputCancel})
			return
		case <-ctx.Done():
			m.apply(input{kind: inputCancel})
			return
		case <-m.clock.After(wait):
		}
	}
}

// classifyPoll maps a poll call's outcome onto a state-machine input.
func classifyPoll(res *authapi.PollResult, err error) input {
	if err != nil {
		if authapi.IsTransient(err) {
			return input{kind: inputTransientError, err: err}
		}
		return input{kind: inputFatalError, err: err}
	}
	switch res.Status {
	case authapi.StatusPending:
		return input{kind: inputPending, interval: res.Interval}
	case authapi.StatusSlowDown:
		return input{kind: inputSlowDown, interval: res.Interval}
	case authapi.StatusAuthorized:
		return input{kind: inputAuthorized}
	case authapi.StatusDenied:
		return input{kind: inputDenied}
	case authapi.StatusExpired:
		return input{kind: inputExpired}
	}
	return input{kind: inputFatalError, err: fmt.Errorf("unknown poll status %q", res.Status)}
}
