package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yourorg/book-search-sync/internal/metrics"
	"github.com/yourorg/book-search-sync/internal/refresh"
)

// StreamClient is the subset of redisx.Client the stream adapter uses.
type StreamClient interface {
	EnsureGroup(ctx context.Context, stream, group string) error
	ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]redis.XMessage, error)
	Ack(ctx context.Context, stream, group string, ids ...string) error
	PendingIdle(ctx context.Context, stream, group string, minIdle time.Duration, count int64) ([]redis.XPendingExt, error)
	Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids []string) ([]redis.XMessage, error)
	Add(ctx context.Context, stream string, maxLen int64, values map[string]any) (string, error)
}

type SubscriberConfig struct {
	Stream   string
	Group    string
	Consumer string
	// Concurrency caps the number of messages handled at once.
	Concurrency int
	// Block is how long one read waits for new entries.
	Block time.Duration
	// ClaimMinIdle is how long a pending entry sits unacknowledged before it
	// is redelivered.
	ClaimMinIdle  time.Duration
	ClaimInterval time.Duration
	// MaxDeliveries dead-letters an entry once it was delivered that many
	// times. Zero means never.
	MaxDeliveries    int64
	DeadLetterStream string
	HandlerTimeout   time.Duration
}

// Subscriber consumes a stream through a consumer group with explicit
// per-message acknowledgement.
type Subscriber struct {
	Client StreamClient
	Config SubscriberConfig
	Logger *slog.Logger
}

func (s *Subscriber) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Subscriber) validate() error {
	if s.Client == nil {
		return errors.New("subscriber missing stream client")
	}
	c := &s.Config
	if c.Stream == "" || c.Group == "" || c.Consumer == "" {
		return errors.New("subscriber requires stream, group and consumer")
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.Block <= 0 {
		c.Block = 2 * time.Second
	}
	if c.ClaimMinIdle <= 0 {
		c.ClaimMinIdle = time.Minute
	}
	if c.ClaimInterval <= 0 {
		c.ClaimInterval = c.ClaimMinIdle / 2
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = 10 * time.Second
	}
	return nil
}

// Run consumes until ctx is done, then waits for in-flight messages.
func (s *Subscriber) Run(ctx context.Context, h Handler) error {
	if err := s.validate(); err != nil {
		return err
	}
	cfg := s.Config
	if err := s.Client.EnsureGroup(ctx, cfg.Stream, cfg.Group); err != nil {
		return fmt.Errorf("ensure consumer group %s on %s: %w", cfg.Group, cfg.Stream, err)
	}
	logger := s.log().With("stream", cfg.Stream, "group", cfg.Group, "consumer", cfg.Consumer)
	logger.Info("change consumer started", "concurrency", cfg.Concurrency)

	pool := refresh.New(cfg.Concurrency, cfg.Concurrency, cfg.HandlerTimeout, func(jctx context.Context, j refresh.Job[Message]) {
		s.process(jctx, logger, h, j.Value)
	})
	defer pool.Close()

	reclaimDone := make(chan struct{})
	go func() {
		defer close(reclaimDone)
		ticker := time.NewTicker(cfg.ClaimInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.reclaim(ctx, logger, pool); err != nil && ctx.Err() == nil {
					logger.Warn("change consumer reclaim failed", "error", err)
				}
			}
		}
	}()
	defer func() { <-reclaimDone }()

	for ctx.Err() == nil {
		msgs, err := s.Client.ReadGroup(ctx, cfg.Stream, cfg.Group, cfg.Consumer, int64(cfg.Concurrency), cfg.Block)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Warn("change consumer read failed", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
			continue
		}
		for _, m := range msgs {
			pool.EnqueueWait(ctx, refresh.Job[Message]{Key: m.ID, Value: Message{ID: m.ID, Values: m.Values, Deliveries: 1}})
		}
	}
	logger.Info("change consumer stopping", "reason", ctx.Err())
	return nil
}

// reclaim redelivers entries left pending past ClaimMinIdle, either by a
// Retry decision or by a consumer that died mid-message.
func (s *Subscriber) reclaim(ctx context.Context, logger *slog.Logger, pool *refresh.Refresher[Message]) error {
	cfg := s.Config
	pending, err := s.Client.PendingIdle(ctx, cfg.Stream, cfg.Group, cfg.ClaimMinIdle, int64(cfg.Concurrency)*4)
	if err != nil {
		return err
	}
	deliveries := make(map[string]int64, len(pending))
	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		if pool.InFlight(p.ID) {
			continue
		}
		deliveries[p.ID] = p.RetryCount
		ids = append(ids, p.ID)
	}
	if len(ids) == 0 {
		return nil
	}
	claimed, err := s.Client.Claim(ctx, cfg.Stream, cfg.Group, cfg.Consumer, cfg.ClaimMinIdle, ids)
	if err != nil {
		return err
	}
	for _, m := range claimed {
		n := deliveries[m.ID]
		if cfg.MaxDeliveries > 0 && n >= cfg.MaxDeliveries {
			logger.Error("change event exceeded max deliveries", "message_id", m.ID, "deliveries", n)
			s.deadLetter(logger, Message{ID: m.ID, Values: m.Values, Deliveries: n}, fmt.Sprintf("delivered %d times", n))
			continue
		}
		pool.EnqueueWait(ctx, refresh.Job[Message]{Key: m.ID, Value: Message{ID: m.ID, Values: m.Values, Deliveries: n + 1}})
	}
	return nil
}

func (s *Subscriber) process(ctx context.Context, logger *slog.Logger, h Handler, msg Message) {
	decision, err := h(ctx, msg)
	metrics.ChangeEvents.WithLabelValues(decision.String()).Inc()
	switch decision {
	case Ack:
		s.ack(logger, msg.ID)
	case Discard:
		reason := "discarded"
		if err != nil {
			reason = err.Error()
		}
		logger.Warn("change event discarded", "message_id", msg.ID, "error", err)
		s.deadLetter(logger, msg, reason)
	default:
		logger.Warn("change event will be redelivered", "message_id", msg.ID, "deliveries", msg.Deliveries, "error", err)
	}
}

func (s *Subscriber) ack(logger *slog.Logger, id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Client.Ack(ctx, s.Config.Stream, s.Config.Group, id); err != nil {
		// stays pending and gets reclaimed; handling is idempotent
		logger.Warn("change event ack failed", "message_id", id, "error", err)
	}
}

// deadLetter copies msg to the dead-letter stream, if any, then acknowledges
// it. A failed copy leaves the entry pending.
func (s *Subscriber) deadLetter(logger *slog.Logger, msg Message, reason string) {
	if dlq := s.Config.DeadLetterStream; dlq != "" {
		values := make(map[string]any, len(msg.Values)+3)
		for k, v := range msg.Values {
			values[k] = v
		}
		values["sourceId"] = msg.ID
		values["reason"] = reason
		values["deliveries"] = strconv.FormatInt(msg.Deliveries, 10)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, err := s.Client.Add(ctx, dlq, 0, values)
		cancel()
		if err != nil {
			logger.Error("change event dead-letter failed", "message_id", msg.ID, "error", err)
			return
		}
	}
	metrics.DeadLettered.Inc()
	s.ack(logger, msg.ID)
}

// StreamPublisher appends change events to a stream.
type StreamPublisher struct {
	Client interface {
		Add(ctx context.Context, stream string, maxLen int64, values map[string]any) (string, error)
	}
	Stream string
	MaxLen int64
}

var _ Publisher = (*StreamPublisher)(nil)

func (p *StreamPublisher) PublishBookChanged(ctx context.Context, evt ChangeEvent) error {
	if evt.BookID <= 0 {
		return fmt.Errorf("%w: book id %d", ErrMalformedEvent, evt.BookID)
	}
	if _, err := p.Client.Add(ctx, p.Stream, p.MaxLen, Encode(evt)); err != nil {
		return fmt.Errorf("publish book %d: %w", evt.BookID, err)
	}
	return nil
}
