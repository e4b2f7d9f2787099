package synctest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type pendingEntry struct {
	consumer   string
	deliveries int64
	since      time.Time
}

// Stream is an in-memory consumer-group stream with one group. Entries added
// to any other stream name are recorded in Side.
type Stream struct {
	Name string

	mu      sync.Mutex
	entries []redis.XMessage
	next    int
	pending map[string]*pendingEntry
	seq     int

	ReadErr  error
	GroupErr error

	Acked []string
	Side  map[string][]map[string]any
}

func NewStream(name string) *Stream {
	return &Stream{Name: name, pending: map[string]*pendingEntry{}, Side: map[string][]map[string]any{}}
}

func (s *Stream) EnsureGroup(ctx context.Context, stream, group string) error {
	return s.GroupErr
}

func (s *Stream) ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]redis.XMessage, error) {
	s.mu.Lock()
	if s.ReadErr != nil {
		err := s.ReadErr
		s.mu.Unlock()
		return nil, err
	}
	end := len(s.entries)
	if count > 0 && s.next+int(count) < end {
		end = s.next + int(count)
	}
	out := append([]redis.XMessage(nil), s.entries[s.next:end]...)
	s.next = end
	for _, m := range out {
		s.pending[m.ID] = &pendingEntry{consumer: consumer, deliveries: 1, since: time.Now()}
	}
	s.mu.Unlock()
	if len(out) > 0 {
		return out, nil
	}
	wait := block
	if wait > 5*time.Millisecond {
		wait = 5 * time.Millisecond
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(wait):
		return nil, nil
	}
}

func (s *Stream) Ack(ctx context.Context, stream, group string, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if _, ok := s.pending[id]; ok {
			delete(s.pending, id)
			s.Acked = append(s.Acked, id)
		}
	}
	return nil
}

func (s *Stream) PendingIdle(ctx context.Context, stream, group string, minIdle time.Duration, count int64) ([]redis.XPendingExt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []redis.XPendingExt
	for _, m := range s.entries {
		p, ok := s.pending[m.ID]
		if !ok || time.Since(p.since) < minIdle {
			continue
		}
		out = append(out, redis.XPendingExt{ID: m.ID, Consumer: p.consumer, Idle: time.Since(p.since), RetryCount: p.deliveries})
		if count > 0 && int64(len(out)) >= count {
			break
		}
	}
	return out, nil
}

func (s *Stream) Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids []string) ([]redis.XMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []redis.XMessage
	for _, id := range ids {
		p, ok := s.pending[id]
		if !ok || time.Since(p.since) < minIdle {
			continue
		}
		p.consumer = consumer
		p.deliveries++
		p.since = time.Now()
		for _, m := range s.entries {
			if m.ID == id {
				out = append(out, m)
				break
			}
		}
	}
	return out, nil
}

func (s *Stream) Add(ctx context.Context, stream string, maxLen int64, values map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := fmt.Sprintf("%d-0", s.seq)
	if stream != s.Name {
		s.Side[stream] = append(s.Side[stream], values)
		return id, nil
	}
	s.entries = append(s.entries, redis.XMessage{ID: id, Values: values})
	return id, nil
}

// AckedIDs copies the acknowledged entry IDs.
func (s *Stream) AckedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.Acked...)
}

// Pending counts unacknowledged delivered entries.
func (s *Stream) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// SideEntries copies what was added to the named side stream.
func (s *Stream) SideEntries(stream string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]map[string]any(nil), s.Side[stream]...)
}
