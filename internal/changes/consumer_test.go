package changes

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/book-search-sync/internal/events"
	"github.com/yourorg/book-search-sync/internal/fullsync"
	"github.com/yourorg/book-search-sync/internal/model"
	"github.com/yourorg/book-search-sync/internal/search"
	"github.com/yourorg/book-search-sync/internal/synctest"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func msgFor(id int64) events.Message {
	return events.Message{ID: "1-0", Values: events.Encode(events.ChangeEvent{BookID: id}), Deliveries: 1}
}

func TestHandleUpsertsPresentRow(t *testing.T) {
	cat := synctest.NewCatalog(model.Book{ID: 3, BookName: "Dune", Score: 9})
	idx := synctest.NewIndex()
	c := &Consumer{Source: cat, Index: idx, Logger: quiet}

	d, err := c.Handle(context.Background(), msgFor(3))
	require.NoError(t, err)
	assert.Equal(t, events.Ack, d)

	doc, err := idx.Get(context.Background(), 3)
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, search.ToDocument(model.Book{ID: 3, BookName: "Dune", Score: 9}), *doc)
}

func TestHandleIsIdempotent(t *testing.T) {
	cat := synctest.NewCatalog(synctest.Books(5)...)
	idx := synctest.NewIndex()
	c := &Consumer{Source: cat, Index: idx, Logger: quiet}

	_, err := c.Handle(context.Background(), msgFor(4))
	require.NoError(t, err)
	once := idx.Snapshot()

	for i := 0; i < 3; i++ {
		d, err := c.Handle(context.Background(), msgFor(4))
		require.NoError(t, err)
		assert.Equal(t, events.Ack, d)
	}
	assert.Equal(t, once, idx.Snapshot())
}

func TestHandleDeletesMissingRow(t *testing.T) {
	cat := synctest.NewCatalog()
	idx := synctest.NewIndex()
	idx.Put(search.Document{ID: 7, BookName: "gone"})
	c := &Consumer{Source: cat, Index: idx, Logger: quiet}

	d, err := c.Handle(context.Background(), msgFor(7))
	require.NoError(t, err)
	assert.Equal(t, events.Ack, d)
	assert.Equal(t, []int64{7}, idx.Deletes)
	assert.Empty(t, idx.IDs())

	// already absent is still success
	d, err = c.Handle(context.Background(), msgFor(7))
	require.NoError(t, err)
	assert.Equal(t, events.Ack, d)
}

func TestHandleRetriesOnFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(cat *synctest.Catalog, idx *synctest.Index)
		id    int64
	}{
		{
			name:  "fetch",
			setup: func(cat *synctest.Catalog, _ *synctest.Index) { cat.FetchErr = synctest.ErrInjected },
			id:    1,
		},
		{
			name:  "upsert",
			setup: func(_ *synctest.Catalog, idx *synctest.Index) { idx.WriteErr = synctest.ErrInjected },
			id:    1,
		},
		{
			name:  "delete",
			setup: func(_ *synctest.Catalog, idx *synctest.Index) { idx.DeleteErr = synctest.ErrInjected },
			id:    99,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cat := synctest.NewCatalog(synctest.Books(2)...)
			idx := synctest.NewIndex()
			tc.setup(cat, idx)
			c := &Consumer{Source: cat, Index: idx, Logger: quiet}

			d, err := c.Handle(context.Background(), msgFor(tc.id))
			assert.Equal(t, events.Retry, d)
			assert.True(t, errors.Is(err, synctest.ErrInjected))
		})
	}
}

func TestHandleDiscardsMalformed(t *testing.T) {
	cat := synctest.NewCatalog()
	c := &Consumer{Source: cat, Index: synctest.NewIndex(), Logger: quiet}

	d, err := c.Handle(context.Background(), events.Message{ID: "1-0", Values: map[string]any{"bookId": "x"}})
	assert.Equal(t, events.Discard, d)
	assert.ErrorIs(t, err, events.ErrMalformedEvent)
	assert.Zero(t, cat.FetchCalls)
}

// A full sync may write a stale snapshot after an event was handled; the
// next event for that row restores the latest state.
func TestConvergesWithConcurrentFullSync(t *testing.T) {
	cat := synctest.NewCatalog(synctest.Books(6)...)
	idx := synctest.NewIndex()
	c := &Consumer{Source: cat, Index: idx, Logger: quiet}

	var changed []int64
	idx.OnBulk = func(ctx context.Context, docs []search.Document) {
		if len(changed) > 0 {
			return
		}
		// rows change between the page read and its write
		cat.Put(model.Book{ID: 2, BookName: "renamed"})
		cat.Remove(3)
		changed = append(changed, 2, 3)
		for _, id := range changed {
			_, err := c.Handle(ctx, msgFor(id))
			require.NoError(t, err)
		}
	}
	job := &fullsync.Job{Source: cat, Index: idx, Logger: quiet, Config: fullsync.Config{PageSize: 4, RequestTimeout: time.Second}}
	_, err := job.RunOnce(context.Background())
	require.NoError(t, err)

	// the catalog emits the events again after its own commit; redelivery
	// of the same events after the sync must converge
	for _, id := range changed {
		_, err := c.Handle(context.Background(), msgFor(id))
		require.NoError(t, err)
	}

	want := map[int64]search.Document{}
	for _, id := range []int64{1, 2, 4, 5, 6} {
		row, err := cat.FetchByID(context.Background(), id)
		require.NoError(t, err)
		want[id] = search.ToDocument(*row)
	}
	assert.Equal(t, want, idx.Snapshot())
}

func TestThroughSubscriber(t *testing.T) {
	cat := synctest.NewCatalog(synctest.Books(3)...)
	idx := synctest.NewIndex()
	idx.Put(search.Document{ID: 7})
	st := synctest.NewStream("changes")
	pub := &events.StreamPublisher{Client: st, Stream: "changes"}
	for _, id := range []int64{1, 2, 7, 2} {
		require.NoError(t, pub.PublishBookChanged(context.Background(), events.ChangeEvent{BookID: id}))
	}
	_, err := st.Add(context.Background(), "changes", 0, map[string]any{"bookId": ""})
	require.NoError(t, err)

	c := &Consumer{Source: cat, Index: idx, Logger: quiet}
	sub := &events.Subscriber{Client: st, Logger: quiet, Config: events.SubscriberConfig{
		Stream: "changes", Group: "g", Consumer: "c1", Concurrency: 2,
		Block: 5 * time.Millisecond, DeadLetterStream: "changes:dead",
	}}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sub.Run(ctx, c.Handle) }()

	require.Eventually(t, func() bool { return len(st.AckedIDs()) == 5 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []int64{1, 2}, idx.IDs())
	assert.Len(t, st.SideEntries("changes:dead"), 1)
}
