package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// refreshNotice mirrors the payload the registry fans out after adopting
// a batch of record changes.
type refreshNotice struct {
	Touched  []string
	Checksum uint32
}

func receiveNotice(t *testing.T, ch <-chan Event[refreshNotice]) Event[refreshNotice] {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return Event[refreshNotice]{}
	}
}

func TestBroker_FansOutRefreshNotices(t *testing.T) {
	broker := NewBroker[refreshNotice]()
	defer broker.Close()

	ctx := context.Background()
	subs := []<-chan Event[refreshNotice]{
		broker.Subscribe(ctx),
		broker.Subscribe(ctx),
	}
	require.Equal(t, 2, broker.SubscriberCount())

	notice := refreshNotice{Touched: []string{"Weapon:Sword"}, Checksum: 0xfeed}
	broker.Publish(RefreshedEvent, notice)

	for _, ch := range subs {
		ev := receiveNotice(t, ch)
		require.Equal(t, RefreshedEvent, ev.Type)
		require.Equal(t, notice.Touched, ev.Payload.Touched)
		require.Equal(t, notice.Checksum, ev.Payload.Checksum)
		require.False(t, ev.Timestamp.IsZero())
	}
}

func TestBroker_SlowSubscriberDropsNotices(t *testing.T) {
	broker := NewBrokerWithBuffer[refreshNotice](2)
	defer broker.Close()

	ch := broker.Subscribe(context.Background())

	// Publishing runs on the registry's mutation goroutine; a blocking
	// send here would deadlock this very test, so completion proves the
	// drop path.
	for sum := uint32(1); sum <= 4; sum++ {
		broker.Publish(RefreshedEvent, refreshNotice{Checksum: sum})
	}

	// The buffer kept the two oldest notices; the rest were coalesced
	// away. A real subscriber recovers by querying the live checksum.
	require.Equal(t, uint32(1), receiveNotice(t, ch).Payload.Checksum)
	require.Equal(t, uint32(2), receiveNotice(t, ch).Payload.Checksum)
	select {
	case ev := <-ch:
		t.Fatalf("unexpected notice %#x after saturation", ev.Payload.Checksum)
	default:
	}
}

func TestBroker_UnsubscribesOnContextCancel(t *testing.T) {
	broker := NewBroker[refreshNotice]()
	defer broker.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch := broker.Subscribe(ctx)
	require.Equal(t, 1, broker.SubscriberCount())

	cancel()
	require.Eventually(t, func() bool { return broker.SubscriberCount() == 0 },
		time.Second, 5*time.Millisecond)

	_, ok := <-ch
	require.False(t, ok, "cancelled subscription channel must close")

	// Later publishes go nowhere but must not panic.
	broker.Publish(PropagatedEvent, refreshNotice{})
}

func TestBroker_CloseShutsDownSubscribers(t *testing.T) {
	broker := NewBroker[refreshNotice]()

	ctx := context.Background()
	ch1 := broker.Subscribe(ctx)
	ch2 := broker.Subscribe(ctx)

	broker.Close()
	broker.Close() // idempotent

	_, ok1 := <-ch1
	_, ok2 := <-ch2
	require.False(t, ok1)
	require.False(t, ok2)
	require.Zero(t, broker.SubscriberCount())

	// A subscription against a closed broker is served a closed channel
	// rather than an error, so shutdown races stay harmless.
	_, ok := <-broker.Subscribe(ctx)
	require.False(t, ok)

	broker.Publish(LoadedEvent, refreshNotice{Checksum: 0xdead})
}
