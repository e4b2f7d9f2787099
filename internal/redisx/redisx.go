package redisx

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type Client struct{ Rdb *redis.Client }

func New(addr string, password string, db int) *Client {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	return &Client{Rdb: rdb}
}

func (c *Client) Ping(ctx context.Context) error {
	return c.Rdb.Ping(ctx).Err()
}

func (c *Client) Close() error { return c.Rdb.Close() }

func (c *Client) SetNX(ctx context.Context, key string, val string, ttl time.Duration) (bool, error) {
	return c.Rdb.SetNX(ctx, key, val, ttl).Result()
}

// compare-and-delete / compare-and-expire for token-owned keys
var (
	releaseScript = redis.NewScript(`if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("DEL", KEYS[1]) else return 0 end`)
	extendScript  = redis.NewScript(`if redis.call("GET", KEYS[1]) == ARGV[1] then return redis.call("PEXPIRE", KEYS[1], ARGV[2]) else return 0 end`)
)

// DelIfEquals deletes key only while it still holds val.
func (c *Client) DelIfEquals(ctx context.Context, key, val string) (bool, error) {
	n, err := releaseScript.Run(ctx, c.Rdb, []string{key}, val).Int64()
	return n == 1, err
}

// ExpireIfEquals resets the TTL of key only while it still holds val.
func (c *Client) ExpireIfEquals(ctx context.Context, key, val string, ttl time.Duration) (bool, error) {
	n, err := extendScript.Run(ctx, c.Rdb, []string{key}, val, ttl.Milliseconds()).Int64()
	return n == 1, err
}

// EnsureGroup creates group on stream, creating the stream too. An existing
// group is not an error.
func (c *Client) EnsureGroup(ctx context.Context, stream, group string) error {
	err := c.Rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil
	}
	return err
}

// ReadGroup reads new entries for consumer. A block timeout with nothing to
// read returns no messages and a nil error.
func (c *Client) ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]redis.XMessage, error) {
	res, err := c.Rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []redis.XMessage
	for _, s := range res {
		out = append(out, s.Messages...)
	}
	return out, nil
}

func (c *Client) Ack(ctx context.Context, stream, group string, ids ...string) error {
	return c.Rdb.XAck(ctx, stream, group, ids...).Err()
}

// PendingIdle lists up to count pending entries idle for at least minIdle.
func (c *Client) PendingIdle(ctx context.Context, stream, group string, minIdle time.Duration, count int64) ([]redis.XPendingExt, error) {
	return c.Rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Idle:   minIdle,
		Start:  "-",
		End:    "+",
		Count:  count,
	}).Result()
}

// Claim moves the given pending entries to consumer.
func (c *Client) Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, ids []string) ([]redis.XMessage, error) {
	return c.Rdb.XClaim(ctx, &redis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Messages: ids,
	}).Result()
}

// Add appends an entry, trimming the stream to roughly maxLen when positive.
func (c *Client) Add(ctx context.Context, stream string, maxLen int64, values map[string]any) (string, error) {
	return c.Rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: maxLen,
		Approx: maxLen > 0,
		Values: values,
	}).Result()
}
