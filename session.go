package playerauth

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/playforge/playerauth/authapi"
	"github.com/playforge/playerauth/deviceflow"
	"github.com/playforge/playerauth/vault"
)

// Session is the single entry point of the auth subsystem. It owns the
// credential lifecycle, guarantees at most one authorization attempt in
// flight, and fans lifecycle events out to subscribers.
type Session struct {
	cfg   Config
	log   zerolog.Logger
	clock clockwork.Clock
	api   *authapi.Client
	store *tokenStore
	life  *lifecycle
	bus   *eventBus

	mu      sync.Mutex
	attempt *Attempt
	closed  bool
}

// New constructs a session. Lifecycle is explicit: call Initialize before
// use and Close when done.
func New(cfg Config, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var o sessionOptions
	for _, opt := range opts {
		opt(&o)
	}

	log := zerolog.Nop()
	if o.logger != nil {
		log = *o.logger
	}
	clock := o.clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	v := o.vault
	if v == nil {
		var err error
		v, err = vault.NewFile(cfg.StorageDir)
		if err != nil {
			return nil, fmt.Errorf("opening credential vault: %w", err)
		}
	}

	httpClient := o.client
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}

	api, err := authapi.New(cfg.BaseURL, cfg.GameID,
		authapi.WithHTTPClient(httpClient),
		authapi.WithLogger(log),
		authapi.WithNowFunc(clock.Now),
	)
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:   cfg,
		log:   log,
		clock: clock,
		api:   api,
		store: newTokenStore(v, cfg.GameID, log),
		bus:   newEventBus(),
	}
	s.life = newLifecycle(s.store, api, clock, log, s.bus.publish)
	return s, nil
}

// Initialize loads the stored credential. A valid state is adopted as is; an
// expired-but-refreshable one triggers exactly one refresh; anything else
// leaves the session unauthenticated. It never launches the device flow on
// its own. The returned event is EventAuthenticated or EventUnauthenticated.
func (s *Session) Initialize(ctx context.Context) (Event, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Event{}, ErrClosed
	}
	s.mu.Unlock()

	stored, err := s.store.load(ctx)
	if err != nil {
		// Storage failures degrade to unauthenticated, never crash.
		s.log.Warn().Err(err).Msg("loading stored credentials failed, continuing unauthenticated")
		stored = nil
	}

	now := s.clock.Now()
	switch {
	case stored == nil:

	case stored.Authenticated(now):
		s.life.restore(*stored)
		ev := Event{Kind: EventAuthenticated, State: stored}
		s.bus.publish(ev)
		return ev, nil

	case stored.Refreshable(now):
		s.life.restore(*stored)
		if err := s.life.refreshIfNeeded(ctx); err != nil {
			s.log.Warn().Err(err).Msg("startup token refresh failed")
		} else if state, ok := s.life.snapshot(); ok {
			// The recovery refresh already announced EventAuthenticated on
			// the event stream.
			return Event{Kind: EventAuthenticated, State: &state}, nil
		}
	}

	ev := Event{Kind: EventUnauthenticated}
	s.bus.publish(ev)
	return ev, nil
}

// StartAuthorization begins a device-authorization attempt at the given
// scope (Config.Scope when empty). While an attempt is in flight, further
// calls return the same handle without touching the network.
func (s *Session) StartAuthorization(ctx context.Context, scope string) (*Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.attempt != nil && !s.attempt.finished() {
		return s.attempt, nil
	}

	if scope == "" {
		scope = s.cfg.Scope
	}
	machine := deviceflow.New(s.api, scope,
		deviceflow.WithClock(s.clock),
		deviceflow.WithLogger(s.log),
		deviceflow.WithNotify(s.onAttemptTransition),
	)
	attempt := &Attempt{id: uuid.NewString(), machine: machine}
	if err := machine.Start(ctx); err != nil {
		return nil, err
	}
	s.attempt = attempt
	return attempt, nil
}

// CancelAuthorization aborts the in-flight attempt, if any.
func (s *Session) CancelAuthorization() {
	s.mu.Lock()
	attempt := s.attempt
	s.mu.Unlock()
	if attempt != nil {
		attempt.Cancel()
	}
}

// onAttemptTransition maps machine transitions onto the event stream and
// adopts issued tokens. It runs on the attempt's goroutine; publishing is
// non-blocking.
func (s *Session) onAttemptTransition(n deviceflow.Notification) {
	switch n.State {
	case deviceflow.StateInitiating:
		s.bus.publish(Event{Kind: EventInitiating})
	case deviceflow.StateWaitingForUser:
		s.bus.publish(Event{Kind: EventAwaitingUser, VerificationURL: n.Session.VerificationURL})
	case deviceflow.StatePolling:
		s.bus.publish(Event{Kind: EventPolling})
	case deviceflow.StateAuthorized:
		state := stateFromGrant(n.Grant, s.clock.Now())
		s.life.adopt(context.Background(), state)
		s.bus.publish(Event{Kind: EventAuthenticated, State: &state})
	case deviceflow.StateDenied:
		s.bus.publish(Event{Kind: EventDenied})
	case deviceflow.StateExpired:
		s.bus.publish(Event{Kind: EventExpired})
	case deviceflow.StateCancelled:
		s.bus.publish(Event{Kind: EventCancelled})
	case deviceflow.StateFailed:
		s.bus.publish(Event{Kind: EventError, Err: n.Err})
	}
}

// CurrentToken returns the access token while it is authoritative.
func (s *Session) CurrentToken() (string, bool) {
	return s.life.currentToken()
}

// CurrentState returns the held credential state and whether it is valid.
func (s *Session) CurrentState() (AuthState, bool) {
	return s.life.snapshot()
}

// SetDeveloperToken installs an out-of-band developer credential. Developer
// tokens have no expiry and are never refreshed.
func (s *Session) SetDeveloperToken(ctx context.Context, token string) error {
	if token == "" {
		return fmt.Errorf("developer token must not be empty")
	}
	state := AuthState{
		Kind:        KindDeveloper,
		AccessToken: token,
		ObtainedAt:  s.clock.Now(),
	}
	s.life.adopt(ctx, state)
	s.bus.publish(Event{Kind: EventAuthenticated, State: &state})
	return nil
}

// Logout clears in-memory and stored credentials. Idempotent.
func (s *Session) Logout(ctx context.Context) error {
	return s.life.logout(ctx)
}

// Events returns an ordered per-subscriber event stream and an unsubscribe
// function. Delivery is decoupled from the protocol goroutines.
func (s *Session) Events() (<-chan Event, func()) {
	return s.bus.subscribe()
}

// CheckHealth verifies the credential store is usable.
func (s *Session) CheckHealth(ctx context.Context) error {
	return s.store.vault.CheckHealth(ctx)
}

// Close shuts the session down: the in-flight attempt is cancelled, the
// refresh timer stopped, and the event stream closed.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	attempt := s.attempt
	s.mu.Unlock()

	if attempt != nil {
		attempt.Cancel()
	}
	s.life.close()
	s.bus.close()
}

// Attempt is the handle on one in-flight authorization attempt.
type Attempt struct {
	id      string
	machine *deviceflow.Machine
}

// ID uniquely identifies this attempt.
func (a *Attempt) ID() string { return a.id }

// VerificationURL blocks until the human-facing authorization URL is known.
func (a *Attempt) VerificationURL(ctx context.Context) (string, error) {
	sess, err := a.session(ctx)
	if err != nil {
		return "", err
	}
	return sess.VerificationURL, nil
}

// Game blocks until the initiate response arrives and returns the game
// metadata it carried, for display alongside the verification URL.
func (a *Attempt) Game(ctx context.Context) (authapi.Game, error) {
	sess, err := a.session(ctx)
	if err != nil {
		return authapi.Game{}, err
	}
	return sess.Game, nil
}

func (a *Attempt) session(ctx context.Context) (*authapi.GrantSession, error) {
	select {
	case <-a.machine.SessionReady():
		return a.machine.Session(), nil
	case <-a.machine.Done():
		res := a.machine.Result()
		if res.Err != nil {
			return nil, res.Err
		}
		return nil, fmt.Errorf("authorization attempt ended: %s", res.State)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// AcknowledgeOpened reports that the verification URL has been opened;
// polling begins.
func (a *Attempt) AcknowledgeOpened() { a.machine.AcknowledgeOpened() }

// Cancel aborts the attempt.
func (a *Attempt) Cancel() { a.machine.Cancel() }

// State returns the attempt's current state.
func (a *Attempt) State() deviceflow.State { return a.machine.State() }

// Wait blocks until the attempt reaches a terminal state.
func (a *Attempt) Wait(ctx context.Context) (deviceflow.Result, error) {
	return a.machine.Wait(ctx)
}

func (a *Attempt) finished() bool {
	select {
	case <-a.machine.Done():
		return true
	default:
		return false
	}
}
