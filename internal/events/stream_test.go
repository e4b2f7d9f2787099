package events_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/book-search-sync/internal/events"
	"github.com/yourorg/book-search-sync/internal/synctest"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func newSubscriber(st *synctest.Stream) *events.Subscriber {
	return &events.Subscriber{
		Client: st,
		Logger: quiet,
		Config: events.SubscriberConfig{
			Stream:           st.Name,
			Group:            "indexer",
			Consumer:         "c1",
			Concurrency:      4,
			Block:            5 * time.Millisecond,
			ClaimMinIdle:     20 * time.Millisecond,
			ClaimInterval:    10 * time.Millisecond,
			DeadLetterStream: "changes:dead",
		},
	}
}

// run starts s and returns a stop func that cancels and waits for Run.
func run(t *testing.T, s *events.Subscriber, h events.Handler) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, h) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("subscriber did not stop")
		}
	}
}

func publish(t *testing.T, st *synctest.Stream, ids ...int64) {
	t.Helper()
	p := &events.StreamPublisher{Client: st, Stream: st.Name, MaxLen: 1000}
	for _, id := range ids {
		require.NoError(t, p.PublishBookChanged(context.Background(), events.ChangeEvent{BookID: id}))
	}
}

func TestSubscriberAcksHandledMessages(t *testing.T) {
	st := synctest.NewStream("changes")
	publish(t, st, 1, 2, 3)

	var mu sync.Mutex
	seen := map[int64]bool{}
	stop := run(t, newSubscriber(st), func(ctx context.Context, msg events.Message) (events.Decision, error) {
		evt, err := events.Decode(msg.Values)
		require.NoError(t, err)
		mu.Lock()
		seen[evt.BookID] = true
		mu.Unlock()
		return events.Ack, nil
	})
	require.Eventually(t, func() bool { return len(st.AckedIDs()) == 3 }, time.Second, 5*time.Millisecond)
	stop()

	assert.Equal(t, map[int64]bool{1: true, 2: true, 3: true}, seen)
	assert.Zero(t, st.Pending())
}

func TestSubscriberRedeliversRetry(t *testing.T) {
	st := synctest.NewStream("changes")
	publish(t, st, 7)

	var calls atomic.Int32
	var lastDeliveries atomic.Int64
	stop := run(t, newSubscriber(st), func(ctx context.Context, msg events.Message) (events.Decision, error) {
		lastDeliveries.Store(msg.Deliveries)
		if calls.Add(1) == 1 {
			return events.Retry, errors.New("index unavailable")
		}
		return events.Ack, nil
	})
	require.Eventually(t, func() bool { return len(st.AckedIDs()) == 1 }, 2*time.Second, 5*time.Millisecond)
	stop()

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int64(2), lastDeliveries.Load())
	assert.Empty(t, st.SideEntries("changes:dead"))
}

func TestSubscriberDiscardDeadLetters(t *testing.T) {
	st := synctest.NewStream("changes")
	_, err := st.Add(context.Background(), "changes", 0, map[string]any{"bookId": "not-a-number"})
	require.NoError(t, err)

	stop := run(t, newSubscriber(st), func(ctx context.Context, msg events.Message) (events.Decision, error) {
		_, err := events.Decode(msg.Values)
		return events.Discard, err
	})
	require.Eventually(t, func() bool { return len(st.AckedIDs()) == 1 }, time.Second, 5*time.Millisecond)
	stop()

	dead := st.SideEntries("changes:dead")
	require.Len(t, dead, 1)
	assert.Equal(t, "not-a-number", dead[0]["bookId"])
	assert.Equal(t, "1-0", dead[0]["sourceId"])
	assert.Contains(t, dead[0]["reason"], "malformed change event")
}

func TestSubscriberMaxDeliveries(t *testing.T) {
	st := synctest.NewStream("changes")
	publish(t, st, 9)

	var calls atomic.Int32
	s := newSubscriber(st)
	s.Config.MaxDeliveries = 2
	stop := run(t, s, func(ctx context.Context, msg events.Message) (events.Decision, error) {
		calls.Add(1)
		return events.Retry, errors.New("still failing")
	})
	require.Eventually(t, func() bool { return len(st.SideEntries("changes:dead")) == 1 }, 2*time.Second, 5*time.Millisecond)
	stop()

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []string{"1-0"}, st.AckedIDs())
	dead := st.SideEntries("changes:dead")
	assert.Equal(t, "9", dead[0]["bookId"])
	assert.Equal(t, "2", dead[0]["deliveries"])
}

func TestSubscriberDrainsOnShutdown(t *testing.T) {
	st := synctest.NewStream("changes")
	publish(t, st, 4)

	started := make(chan struct{})
	stop := run(t, newSubscriber(st), func(ctx context.Context, msg events.Message) (events.Decision, error) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		return events.Ack, nil
	})
	<-started
	stop()

	assert.Equal(t, []string{"1-0"}, st.AckedIDs())
}

func TestSubscriberReadErrorKeepsRunning(t *testing.T) {
	st := synctest.NewStream("changes")
	st.ReadErr = errors.New("connection reset")
	stop := run(t, newSubscriber(st), func(ctx context.Context, msg events.Message) (events.Decision, error) {
		return events.Ack, nil
	})
	time.Sleep(20 * time.Millisecond)
	stop()
}

func TestSubscriberGroupError(t *testing.T) {
	st := synctest.NewStream("changes")
	st.GroupErr = errors.New("NOPERM")
	err := newSubscriber(st).Run(context.Background(), func(context.Context, events.Message) (events.Decision, error) {
		return events.Ack, nil
	})
	assert.ErrorContains(t, err, "NOPERM")
}

func TestSubscriberValidate(t *testing.T) {
	s := &events.Subscriber{Client: synctest.NewStream("changes")}
	err := s.Run(context.Background(), nil)
	assert.Error(t, err)
}

func TestStreamPublisherRejectsBadID(t *testing.T) {
	st := synctest.NewStream("changes")
	p := &events.StreamPublisher{Client: st, Stream: "changes"}
	err := p.PublishBookChanged(context.Background(), events.ChangeEvent{BookID: 0})
	assert.ErrorIs(t, err, events.ErrMalformedEvent)
}
