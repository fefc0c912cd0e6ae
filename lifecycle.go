package playerauth

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/playforge/playerauth/authapi"
)

const (
	// Player tokens are refreshed proactively at this fraction of their
	// lifetime, with at least minRefreshMargin left before expiry, to
	// absorb clock skew and network latency.
	refreshAtFraction = 0.8
	minRefreshMargin  = 30 * time.Second

	// refreshRetryDelay spaces retries after a transient refresh failure.
	refreshRetryDelay = 30 * time.Second
)

type refreshClient interface {
	Refresh(ctx context.Context, refreshToken string) (*authapi.TokenGrant, error)
}

// lifecycle owns the current AuthState: it mirrors every mutation to the
// store, schedules proactive refreshes for player tokens, and self-demotes
// to unauthenticated when a refresh token is definitively rejected.
type lifecycle struct {
	store  *tokenStore
	client refreshClient
	clock  clockwork.Clock
	log    zerolog.Logger
	emit   func(Event)

	// group coalesces concurrent refreshes: the timer and explicit
	// refreshIfNeeded calls join one in-flight refresh instead of racing
	// each other's rotated refresh token.
	group singleflight.Group

	mu    sync.Mutex
	state AuthState
	timer clockwork.Timer

	// gen is bumped whenever the state is cleared. An in-flight refresh
	// captures it before the network call and discards its result when it
	// changed, so a logout is never undone by a racing refresh.
	gen uint64
}

func newLifecycle(store *tokenStore, client refreshClient, clock clockwork.Clock, log zerolog.Logger, emit func(Event)) *lifecycle {
	return &lifecycle{
		store:  store,
		client: client,
		clock:  clock,
		log:    log,
		emit:   emit,
	}
}

// adopt replaces the held state, persists it, and (re)schedules the
// proactive refresh timer. The store write happens under the lock so it
// cannot land after a concurrent logout's erase.
func (l *lifecycle) adopt(ctx context.Context, state AuthState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = state
	l.scheduleLocked(state)

	if err := l.store.save(ctx, state); err != nil {
		// Reported, never fatal: the in-memory credential stays usable.
		l.log.Warn().Err(err).Msg("persisting credentials failed")
	}
}

// restore installs a state loaded from the store without writing it back.
func (l *lifecycle) restore(state AuthState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = state
	l.scheduleLocked(state)
}

// currentToken returns the access token only while it is authoritative.
func (l *lifecycle) currentToken() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.state.Authenticated(l.clock.Now()) {
		return "", false
	}
	return l.state.AccessToken, true
}

// snapshot returns the held state and whether it is currently valid.
func (l *lifecycle) snapshot() (AuthState, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state, l.state.Authenticated(l.clock.Now())
}

// refreshIfNeeded refreshes the access token when it is inside the safety
// margin. Concurrent callers join a single network call.
func (l *lifecycle) refreshIfNeeded(ctx context.Context) error {
	_, err, _ := l.group.Do("refresh", func() (interface{}, error) {
		return nil, l.refresh(ctx)
	})
	return err
}

func (l *lifecycle) refresh(ctx context.Context) error {
	l.mu.Lock()
	state := l.state
	gen := l.gen
	l.mu.Unlock()
	now := l.clock.Now()

	if state.Kind != KindPlayer || state.AccessToken == "" {
		return nil
	}
	if now.Before(refreshAt(state)) {
		// Outside the margin; a caller that raced a completed refresh
		// lands here and returns without a second network call.
		return nil
	}
	if !state.Refreshable(now) {
		return ErrNotAuthenticated
	}

	grant, err := l.client.Refresh(ctx, state.RefreshToken)
	if err != nil {
		if authapi.CodeOf(err) == authapi.CodeInvalidGrant {
			l.log.Warn().Msg("refresh token rejected, re-authorization required")
			l.demote(ctx)
			return err
		}
		l.log.Warn().Err(err).Msg("token refresh failed, will retry")
		l.scheduleRetry()
		return err
	}

	next := stateFromGrant(grant, l.clock.Now())
	if next.Scope == "" {
		next.Scope = state.Scope
	}

	l.mu.Lock()
	if l.gen != gen {
		// A logout or demotion landed while the call was in flight. The
		// cleared state wins; the issued credential is dropped.
		l.mu.Unlock()
		l.log.Debug().Msg("credentials cleared mid-refresh, discarding refreshed token")
		return ErrNotAuthenticated
	}
	l.state = next
	l.scheduleLocked(next)
	if err := l.store.save(ctx, next); err != nil {
		l.log.Warn().Err(err).Msg("persisting credentials failed")
	}
	l.mu.Unlock()

	l.emit(Event{Kind: EventTokenRefreshed, State: &next})
	if !state.Authenticated(now) {
		// The refresh recovered an expired credential that subscribers may
		// have seen announced as unauthenticated.
		l.emit(Event{Kind: EventAuthenticated, State: &next})
	}
	return nil
}

// demote clears all credential state. This is the sole path by which the
// session self-demotes to unauthenticated outside an explicit logout. The
// erase happens under the lock so no concurrent save can land after it.
func (l *lifecycle) demote(ctx context.Context) {
	l.mu.Lock()
	l.state = AuthState{}
	l.gen++
	l.stopTimerLocked()
	if err := l.store.erase(ctx); err != nil {
		l.log.Warn().Err(err).Msg("erasing stored credentials failed")
	}
	l.mu.Unlock()

	l.emit(Event{Kind: EventUnauthenticated})
}

// logout clears in-memory and stored state. Idempotent. The erase happens
// under the lock so no concurrent save can land after it.
func (l *lifecycle) logout(ctx context.Context) error {
	l.mu.Lock()
	had := l.state.AccessToken != ""
	l.state = AuthState{}
	l.gen++
	l.stopTimerLocked()
	err := l.store.erase(ctx)
	l.mu.Unlock()

	if err != nil {
		return err
	}
	if had {
		l.emit(Event{Kind: EventUnauthenticated})
	}
	return nil
}

func (l *lifecycle) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopTimerLocked()
}

func (l *lifecycle) stopTimerLocked() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

// scheduleLocked arms the proactive refresh timer for player tokens.
func (l *lifecycle) scheduleLocked(state AuthState) {
	l.stopTimerLocked()
	if state.Kind != KindPlayer || state.RefreshToken == "" || state.ExpiresAt.IsZero() {
		return
	}
	delay := refreshAt(state).Sub(l.clock.Now())
	if delay < 0 {
		delay = 0
	}
	l.timer = l.clock.AfterFunc(delay, func() {
		if err := l.refreshIfNeeded(context.Background()); err != nil {
			l.log.Debug().Err(err).Msg("scheduled refresh did not complete")
		}
	})
}

func (l *lifecycle) scheduleRetry() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopTimerLocked()
	l.timer = l.clock.AfterFunc(refreshRetryDelay, func() {
		if err := l.refreshIfNeeded(context.Background()); err != nil {
			l.log.Debug().Err(err).Msg("scheduled refresh did not complete")
		}
	})
}

// refreshAt is the instant a player token enters its refresh margin.
func refreshAt(state AuthState) time.Time {
	obtained := state.ObtainedAt
	if obtained.IsZero() || !obtained.Before(state.ExpiresAt) {
		return state.ExpiresAt.Add(-minRefreshMargin)
	}
	lifetime := state.ExpiresAt.Sub(obtained)
	at := obtained.Add(time.Duration(float64(lifetime) * refreshAtFraction))
	if state.ExpiresAt.Sub(at) < minRefreshMargin {
		at = state.ExpiresAt.Add(-minRefreshMargin)
	}
	return at
}
