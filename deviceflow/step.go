package deviceflow

import "time"

// State identifies a phase of one authorization attempt.
type State string

const (
	StateIdle           State = "idle"
	StateInitiating     State = "initiating"
	StateWaitingForUser State = "waiting_for_user"
	StatePolling        State = "polling"
	StateAuthorized     State = "authorized"
	StateDenied         State = "denied"
	StateExpired        State = "expired"
	StateCancelled      State = "cancelled"
	StateFailed         State = "failed"
)

// Terminal reports whether the attempt cannot continue from s without
// starting over.
func (s State) Terminal() bool {
	switch s {
	case StateAuthorized, StateDenied, StateExpired, StateCancelled, StateFailed:
		return true
	}
	return false
}

// inputKind is one observation fed to the transition function.
type inputKind int

const (
	inputStart inputKind = iota
	inputInitiateOK
	inputInitiateFailed
	inputAcknowledged
	inputPending
	inputSlowDown
	inputAuthorized
	inputDenied
	inputExpired
	inputTransientError
	inputFatalError
	inputDeadline
	inputCancel
)

type input struct {
	kind inputKind

	// interval carries a server poll-interval instruction or hint; zero
	// when absent.
	interval time.Duration

	err error
}

// action is the side effect the runner performs after a transition.
type action int

const (
	actionNone action = iota
	actionInitiate
	actionAwaitUser
	actionPollNow
	actionPollAfterInterval
	actionFinish
)

// transition is the result of applying one input.
type transition struct {
	state    State
	interval time.Duration
	action   action
}

// bounds clamps poll intervals on the client side. The server-given value is
// authoritative within them.
type bounds struct {
	min, max time.Duration
}

func (b bounds) clamp(d time.Duration) time.Duration {
	if d < b.min {
		return b.min
	}
	if d > b.max {
		return b.max
	}
	return d
}

// slowDownStep is the RFC 8628 interval increase applied when a slow_down
// response carries no explicit interval.
const slowDownStep = 5 * time.Second

// step is the pure transition function of the attempt state machine. It has
// no side effects; the runner executes the returned action. Inputs arriving
// in a terminal state are ignored, so the first terminal transition is
// authoritative.
func step(st State, interval time.Duration, in input, b bounds) transition {
	if st.Terminal() {
		return transition{state: st, interval: interval, action: actionNone}
	}

	// Cancellation and local session expiry apply in every live state.
	switch in.kind {
	case inputCancel:
		return transition{state: StateCancelled, interval: interval, action: actionFinish}
	case inputDeadline:
		return transition{state: StateExpired, interval: interval, action: actionFinish}
	}

	switch st {
	case StateIdle:
		if in.kind == inputStart {
			return transition{state: StateInitiating, interval: interval, action: actionInitiate}
		}

	case StateInitiating:
		switch in.kind {
		case inputInitiateOK:
			return transition{state: StateWaitingForUser, interval: b.clamp(in.interval), action: actionAwaitUser}
		case inputInitiateFailed:
			return transition{state: StateFailed, interval: interval, action: actionFinish}
		}

	case StateWaitingForUser:
		if in.kind == inputAcknowledged {
			return transition{state: StatePolling, interval: interval, action: actionPollNow}
		}

	case StatePolling:
		switch in.kind {
		case inputPending:
			next := interval
			if in.interval > 0 {
				next = b.clamp(in.interval)
			}
			return transition{state: StatePolling, interval: next, action: actionPollAfterInterval}
		case inputSlowDown:
			next := interval + slowDownStep
			if in.interval > 0 {
				next = in.interval
			}
			return transition{state: StatePolling, interval: b.clamp(next), action: actionPollAfterInterval}
		case inputTransientError:
			return transition{state: StatePolling, interval: interval, action: actionPollAfterInterval}
		case inputAuthorized:
			return transition{state: StateAuthorized, interval: interval, action: actionFinish}
		case inputDenied:
			return transition{state: StateDenied, interval: interval, action: actionFinish}
		case inputExpired:
			return transition{state: StateExpired, interval: interval, action: actionFinish}
		case inputFatalError:
			return transition{state: StateFailed, interval: interval, action: actionFinish}
		}
	}

	return transition{state: st, interval: interval, action: actionNone}
}
