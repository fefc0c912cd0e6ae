package playerauth

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEventBusOrderPerSubscriber(t *testing.T) {
	bus := newEventBus()
	defer bus.close()

	ch1, stop1 := bus.subscribe()
	ch2, stop2 := bus.subscribe()
	defer stop1()
	defer stop2()

	const n = 100
	for i := 0; i < n; i++ {
		bus.publish(Event{Kind: EventPolling, VerificationURL: fmt.Sprintf("%d", i)})
	}

	for _, ch := range []<-chan Event{ch1, ch2} {
		for i := 0; i < n; i++ {
			select {
			case ev := <-ch:
				require.Equal(t, fmt.Sprintf("%d", i), ev.VerificationURL, "events out of order")
			case <-time.After(5 * time.Second):
				t.Fatalf("timed out waiting for event %d", i)
			}
		}
	}
}

func TestEventBusUnsubscribeClosesChannel(t *testing.T) {
	bus := newEventBus()
	defer bus.close()

	ch, stop := bus.subscribe()
	stop()
	stop() // idempotent

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, 5*time.Second, time.Millisecond, "channel not closed after unsubscribe")

	// Publishing after unsubscribe must not panic or block.
	bus.publish(Event{Kind: EventPolling})
}

func TestEventBusSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	bus := newEventBus()
	defer bus.close()

	ch, stop := bus.subscribe()
	defer stop()

	// Publish far more events than the delivery channel buffers while the
	// consumer reads nothing; publish must return immediately every time.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			bus.publish(Event{Kind: EventPolling})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	// The backlog is still delivered in full.
	for i := 0; i < 1000; i++ {
		select {
		case <-ch:
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out draining backlog at event %d", i)
		}
	}
}

func TestEventBusCloseStopsSubscribers(t *testing.T) {
	bus := newEventBus()
	ch, _ := bus.subscribe()
	bus.close()

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, 5*time.Second, time.Millisecond)

	// Subscribing after close yields an already-closed channel.
	ch2, _ := bus.subscribe()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch2:
			return !ok
		default:
			return false
		}
	}, 5*time.Second, time.Millisecond)
}
