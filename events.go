package playerauth

import "sync"

// EventKind identifies a lifecycle event on the session's event stream.
type EventKind string

const (
	// EventInitiating fires when a device-authorization attempt starts.
	EventInitiating EventKind = "initiating"

	// EventAwaitingUser carries the verification URL the UI must open.
	EventAwaitingUser EventKind = "awaiting_user"

	// EventPolling fires when the attempt begins polling for completion.
	EventPolling EventKind = "polling"

	// EventAuthenticated carries the adopted credential state.
	EventAuthenticated EventKind = "authenticated"

	// EventDenied fires when the user refuses consent. Terminal.
	EventDenied EventKind = "denied"

	// EventExpired fires when the authorization session lapses. Terminal.
	EventExpired EventKind = "expired"

	// EventCancelled fires on user-initiated abort. Terminal.
	EventCancelled EventKind = "cancelled"

	// EventError carries an attempt's classified failure cause. Terminal.
	EventError EventKind = "error"

	// EventTokenRefreshed fires after a successful proactive refresh.
	EventTokenRefreshed EventKind = "token_refreshed"

	// EventUnauthenticated fires when the session holds no usable
	// credential: at startup with nothing stored, after logout, or when a
	// refresh token is definitively rejected.
	EventUnauthenticated EventKind = "unauthenticated"
)

// Event is one entry on the session's ordered event stream.
type Event struct {
	Kind EventKind

	// VerificationURL is set for EventAwaitingUser.
	VerificationURL string

	// State is set for EventAuthenticated and EventTokenRefreshed.
	State *AuthState

	// Err is set for EventError.
	Err error
}

// eventBus fans events out to subscribers. Each subscriber owns a queue
// drained by a dedicated goroutine, so publishing never blocks the protocol
// goroutines and every subscriber sees events in publish order.
type eventBus struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
	closed bool
}

type subscriber struct {
	mu    sync.Mutex
	cond  *sync.Cond
	queue []Event
	done  bool
	quit  chan struct{}
	ch    chan Event
}

func newEventBus() *eventBus {
	return &eventBus{subs: make(map[int]*subscriber)}
}

// publish appends ev to every subscriber's queue and returns immediately.
func (b *eventBus) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		s.push(ev)
	}
}

// subscribe registers a new subscriber and returns its channel plus an
// unsubscribe function. The channel is closed on unsubscribe or bus close.
func (b *eventBus) subscribe() (<-chan Event, func()) {
	s := &subscriber{
		quit: make(chan struct{}),
		ch:   make(chan Event, 16),
	}
	s.cond = sync.NewCond(&s.mu)
	go s.drain()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		s.stop()
		return s.ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			s.stop()
		})
	}
}

// close stops every subscriber after its queued events are delivered or
// abandoned.
func (b *eventBus) close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[int]*subscriber)
	b.closed = true
	b.mu.Unlock()
	for _, s := range subs {
		s.stop()
	}
}

func (s *subscriber) push(ev Event) {
	s.mu.Lock()
	if !s.done {
		s.queue = append(s.queue, ev)
	}
	s.mu.Unlock()
	s.cond.Signal()
}

func (s *subscriber) stop() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	close(s.quit)
	s.mu.Unlock()
	s.cond.Signal()
}

func (s *subscriber) drain() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.done {
			s.cond.Wait()
		}
		if len(s.queue) == 0 {
			s.mu.Unlock()
			close(s.ch)
			return
		}
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.ch <- ev:
		case <-s.quit:
			close(s.ch)
			return
		}
	}
}
