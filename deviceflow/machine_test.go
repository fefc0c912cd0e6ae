package deviceflow

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/playforge/playerauth/authapi"
)

type pollStep struct {
	res *authapi.PollResult
	err error
}

// scriptClient serves a fixed poll script; the last step repeats.
type scriptClient struct {
	mu            sync.Mutex
	clock         clockwork.Clock
	sessionTTL    time.Duration
	interval      time.Duration
	initiateErr   error
	initiateCalls int
	steps         []pollStep
	pollCalls     int
}

func (c *scriptClient) Initiate(ctx context.Context, codeChallenge, scope string) (*authapi.GrantSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initiateCalls++
	if c.initiateErr != nil {
		return nil, c.initiateErr
	}
	return &authapi.GrantSession{
		SessionID:       "s1",
		VerificationURL: "https://play.example.com/authorize?s=s1",
		PollInterval:    c.interval,
		ExpiresAt:       c.clock.Now().Add(c.sessionTTL),
	}, nil
}

func (c *scriptClient) Poll(ctx context.Context, sessionID, codeVerifier string) (*authapi.PollResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pollCalls++
	i := c.pollCalls - 1
	if i >= len(c.steps) {
		i = len(c.steps) - 1
	}
	return c.steps[i].res, c.steps[i].err
}

func (c *scriptClient) polls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pollCalls
}

type recorder struct {
	mu     sync.Mutex
	states []State
}

func (r *recorder) notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, n.State)
}

func (r *recorder) all() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func newTestMachine(t *testing.T, client *scriptClient) (*Machine, *clockwork.FakeClock, *recorder) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	client.clock = clock
	if client.sessionTTL == 0 {
		client.sessionTTL = 600 * time.Second
	}
	if client.interval == 0 {
		client.interval = 5 * time.Second
	}
	rec := &recorder{}
	m := New(client, "player",
		WithClock(clock),
		WithNotify(rec.notify),
	)
	return m, clock, rec
}

func awaitState(t *testing.T, m *Machine, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == want },
		5*time.Second, time.Millisecond, "machine never reached %s", want)
}

func pending(hint time.Duration) pollStep {
	return pollStep{res: &authapi.PollResult{Status: authapi.StatusPending, Interval: hint}}
}

func TestMachineAuthorizedFlow(t *testing.T) {
	grant := &authapi.TokenGrant{AccessToken: "at-1", RefreshToken: "rt-1"}
	client := &scriptClient{steps: []pollStep{
		pending(0),
		pending(0),
		{res: &authapi.PollResult{Status: authapi.StatusSlowDown, Interval: 10 * time.Second}},
		pending(0),
		{res: &authapi.PollResult{Status: authapi.StatusAuthorized, Grant: grant}},
	}}
	m, clock, rec := newTestMachine(t, client)

	require.NoError(t, m.Start(context.Background()))
	awaitState(t, m, StateWaitingForUser)
	require.Equal(t, "https://play.example.com/authorize?s=s1", m.Session().VerificationURL)

	m.AcknowledgeOpened()

	// First poll fires immediately on acknowledgement; the runner then
	// sleeps the current interval. One extra pending timer remains from the
	// waiting-for-user deadline, hence BlockUntil(2).
	require.Eventually(t, func() bool { return client.polls() == 1 },
		5*time.Second, time.Millisecond)
	clock.BlockUntil(2)
	clock.Advance(5 * time.Second) // poll 2: pending

	require.Eventually(t, func() bool { return client.polls() == 2 },
		5*time.Second, time.Millisecond)
	clock.BlockUntil(2)
	clock.Advance(5 * time.Second) // poll 3: slow_down(10)

	require.Eventually(t, func() bool { return client.polls() == 3 },
		5*time.Second, time.Millisecond)
	clock.BlockUntil(2)

	// The adopted interval is 10s now; 5s must not trigger a poll.
	clock.Advance(5 * time.Second)
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, 3, client.polls(), "poll fired before the slow-down interval elapsed")

	clock.Advance(5 * time.Second) // poll 4: pending
	require.Eventually(t, func() bool { return client.polls() == 4 },
		5*time.Second, time.Millisecond)
	clock.BlockUntil(2)
	clock.Advance(10 * time.Second) // poll 5: authorized

	res, err := m.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateAuthorized, res.State)
	require.Equal(t, grant, res.Grant)
	require.Equal(t, 5, client.polls())
	require.Equal(t, []State{StateInitiating, StateWaitingForUser, StatePolling, StateAuthorized}, rec.all())
}

func TestMachineSessionExpiryStopsPolling(t *testing.T) {
	client := &scriptClient{steps: []pollStep{pending(0)}}
	m, clock, rec := newTestMachine(t, client)

	require.NoError(t, m.Start(context.Background()))
	awaitState(t, m, StateWaitingForUser)
	m.AcknowledgeOpened()

	require.Eventually(t, func() bool { return client.polls() == 1 },
		5*time.Second, time.Millisecond)
	clock.BlockUntil(2)

	// Jump past the session deadline: the machine must expire without
	// another network call even though the last poll said pending.
	clock.Advance(600 * time.Second)

	res, err := m.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateExpired, res.State)
	require.Equal(t, 1, client.polls())
	require.Equal(t, StateExpired, rec.all()[len(rec.all())-1])
}

func TestMachineExpiresWhileWaitingForUser(t *testing.T) {
	client := &scriptClient{}
	m, clock, _ := newTestMachine(t, client)

	require.NoError(t, m.Start(context.Background()))
	awaitState(t, m, StateWaitingForUser)

	clock.BlockUntil(1)
	clock.Advance(600 * time.Second)

	res, err := m.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateExpired, res.State)
	require.Equal(t, 0, client.polls())
}

func TestMachineCancelDuringPolling(t *testing.T) {
	client := &scriptClient{steps: []pollStep{pending(0)}}
	m, clock, rec := newTestMachine(t, client)

	require.NoError(t, m.Start(context.Background()))
	awaitState(t, m, StateWaitingForUser)
	m.AcknowledgeOpened()

	require.Eventually(t, func() bool { return client.polls() == 1 },
		5*time.Second, time.Millisecond)
	clock.BlockUntil(2)

	m.Cancel()

	res, err := m.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateCancelled, res.State)

	// Cancelling after the terminal state is a no-op.
	m.Cancel()
	require.Equal(t, StateCancelled, m.State())
	require.Equal(t, StateCancelled, rec.all()[len(rec.all())-1])
}

func TestMachineDenied(t *testing.T) {
	client := &scriptClient{steps: []pollStep{
		{res: &authapi.PollResult{Status: authapi.StatusDenied}},
	}}
	m, _, _ := newTestMachine(t, client)

	require.NoError(t, m.Start(context.Background()))
	awaitState(t, m, StateWaitingForUser)
	m.AcknowledgeOpened()

	res, err := m.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateDenied, res.State)
	require.Nil(t, res.Grant)
}

func TestMachineInitiateFailure(t *testing.T) {
	wireErr := &authapi.Error{Code: authapi.CodeServerError, HTTPStatus: 502}
	client := &scriptClient{initiateErr: wireErr}
	m, _, rec := newTestMachine(t, client)

	require.NoError(t, m.Start(context.Background()))

	res, err := m.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateFailed, res.State)
	require.ErrorIs(t, res.Err, wireErr)
	require.Equal(t, []State{StateInitiating, StateFailed}, rec.all())
}

func TestMachineTransientPollErrorKeepsCadence(t *testing.T) {
	grant := &authapi.TokenGrant{AccessToken: "at-1"}
	client := &scriptClient{steps: []pollStep{
		{err: &authapi.Error{Code: authapi.CodeNetwork}},
		{res: &authapi.PollResult{Status: authapi.StatusAuthorized, Grant: grant}},
	}}
	m, clock, _ := newTestMachine(t, client)

	require.NoError(t, m.Start(context.Background()))
	awaitState(t, m, StateWaitingForUser)
	m.AcknowledgeOpened()

	require.Eventually(t, func() bool { return client.polls() == 1 },
		5*time.Second, time.Millisecond)
	clock.BlockUntil(2)
	clock.Advance(5 * time.Second)

	res, err := m.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateAuthorized, res.State)
	require.Equal(t, 2, client.polls())
}

func TestMachineFatalPollError(t *testing.T) {
	wireErr := &authapi.Error{Code: authapi.CodeMalformedResponse}
	client := &scriptClient{steps: []pollStep{{err: wireErr}}}
	m, _, _ := newTestMachine(t, client)

	require.NoError(t, m.Start(context.Background()))
	awaitState(t, m, StateWaitingForUser)
	m.AcknowledgeOpened()

	res, err := m.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateFailed, res.State)
	require.ErrorIs(t, res.Err, wireErr)
}

func TestMachineStartTwice(t *testing.T) {
	client := &scriptClient{steps: []pollStep{pending(0)}}
	m, _, _ := newTestMachine(t, client)

	require.NoError(t, m.Start(context.Background()))
	require.ErrorIs(t, m.Start(context.Background()), ErrAlreadyStarted)
	m.Cancel()
}
