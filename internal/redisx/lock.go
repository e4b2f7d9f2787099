package redisx

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type tokenStore interface {
	SetNX(ctx context.Context, key string, val string, ttl time.Duration) (bool, error)
	ExpireIfEquals(ctx context.Context, key, val string, ttl time.Duration) (bool, error)
	DelIfEquals(ctx context.Context, key, val string) (bool, error)
}

// ErrLockLost is the cancel cause of a lease whose key expired or was taken
// over by another holder.
var ErrLockLost = errors.New("lock lost")

// Lock is a single-holder lease on Key. The holder keeps it alive every TTL/3
// until unlock; a crashed holder loses it after TTL.
type Lock struct {
	Store  tokenStore
	Key    string
	TTL    time.Duration
	Logger *slog.Logger
}

func NewLock(c *Client, key string, ttl time.Duration, logger *slog.Logger) *Lock {
	return &Lock{Store: c, Key: key, TTL: ttl, Logger: logger}
}

func (l *Lock) log() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

// TryLock takes the lease when free. The returned ctx is derived from ctx and
// is cancelled with ErrLockLost if the lease is lost before unlock, or with
// context.Canceled once unlock runs.
func (l *Lock) TryLock(ctx context.Context) (context.Context, func(), bool, error) {
	ttl := l.TTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	token := uuid.NewString()
	ok, err := l.Store.SetNX(ctx, l.Key, token, ttl)
	if err != nil || !ok {
		return nil, nil, false, err
	}

	lease, cancel := context.WithCancelCause(ctx)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c, ccancel := context.WithTimeout(context.Background(), ttl/3)
				held, err := l.Store.ExpireIfEquals(c, l.Key, token, ttl)
				ccancel()
				if err != nil {
					l.log().Warn("lock keepalive failed", "key", l.Key, "error", err)
					continue
				}
				if !held {
					l.log().Error("lock lost", "key", l.Key)
					cancel(ErrLockLost)
					return
				}
			}
		}
	}()

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			close(stop)
			<-done
			cancel(nil)
			c, ccancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer ccancel()
			if _, err := l.Store.DelIfEquals(c, l.Key, token); err != nil {
				l.log().Warn("lock release failed", "key", l.Key, "error", err)
			}
		})
	}
	return lease, unlock, true, nil
}
