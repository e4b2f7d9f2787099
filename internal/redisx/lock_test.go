package redisx

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memTokens struct {
	mu      sync.Mutex
	vals    map[string]string
	extends int
	err     error
}

func (m *memTokens) SetNX(_ context.Context, key, val string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.vals[key]; ok {
		return false, nil
	}
	m.vals[key] = val
	return true, nil
}

func (m *memTokens) ExpireIfEquals(_ context.Context, key, val string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extends++
	return m.vals[key] == val, nil
}

func (m *memTokens) DelIfEquals(_ context.Context, key, val string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.vals[key] != val {
		return false, nil
	}
	delete(m.vals, key)
	return true, nil
}

func (m *memTokens) extendCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.extends
}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestLockSingleHolder(t *testing.T) {
	store := &memTokens{vals: map[string]string{}}
	a := &Lock{Store: store, Key: "sync:full", TTL: 30 * time.Millisecond, Logger: quiet}
	b := &Lock{Store: store, Key: "sync:full", TTL: 30 * time.Millisecond, Logger: quiet}

	lease, unlock, ok, err := a.TryLock(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	_, _, ok, err = b.TryLock(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	require.Eventually(t, func() bool { return store.extendCount() >= 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, lease.Err())
	unlock()
	unlock()
	assert.ErrorIs(t, context.Cause(lease), context.Canceled)

	_, unlockB, ok, err := b.TryLock(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	unlockB()
}

func TestLockReleaseKeepsForeignToken(t *testing.T) {
	store := &memTokens{vals: map[string]string{}}
	l := &Lock{Store: store, Key: "k", TTL: time.Hour, Logger: quiet}
	_, unlock, ok, err := l.TryLock(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	// lease expired and another replica took it
	store.mu.Lock()
	store.vals["k"] = "other"
	store.mu.Unlock()

	unlock()
	assert.Equal(t, "other", store.vals["k"])
}

func TestLockLossCancelsLease(t *testing.T) {
	store := &memTokens{vals: map[string]string{}}
	l := &Lock{Store: store, Key: "k", TTL: 30 * time.Millisecond, Logger: quiet}
	lease, unlock, ok, err := l.TryLock(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	defer unlock()

	store.mu.Lock()
	store.vals["k"] = "other"
	store.mu.Unlock()

	select {
	case <-lease.Done():
	case <-time.After(time.Second):
		t.Fatal("lease not cancelled after loss")
	}
	assert.ErrorIs(t, context.Cause(lease), ErrLockLost)
}

func TestLockError(t *testing.T) {
	l := &Lock{Store: &memTokens{vals: map[string]string{}, err: errors.New("down")}, Key: "k", Logger: quiet}
	_, _, ok, err := l.TryLock(context.Background())
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestClientAgainstRedis(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	c := New(addr, os.Getenv("REDIS_PASSWORD"), 0)
	defer c.Close()
	ctx := context.Background()
	require.NoError(t, c.Ping(ctx))

	l := NewLock(c, "book-search-sync:test-lock", time.Second, quiet)
	_, unlock, ok, err := l.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	_, _, ok, err = l.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	unlock()

	stream := "book-search-sync:test-stream"
	c.Rdb.Del(ctx, stream)
	require.NoError(t, c.EnsureGroup(ctx, stream, "g"))
	require.NoError(t, c.EnsureGroup(ctx, stream, "g"))
	_, err = c.Add(ctx, stream, 100, map[string]any{"bookId": "7"})
	require.NoError(t, err)
	msgs, err := c.ReadGroup(ctx, stream, "g", "c1", 10, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "7", msgs[0].Values["bookId"])
	require.NoError(t, c.Ack(ctx, stream, "g", msgs[0].ID))
	pending, err := c.PendingIdle(ctx, stream, "g", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
