// Command publish emits book change events for the given IDs, read from the
// arguments and from PUBLISH_IDS.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/yourorg/book-search-sync/internal/app"
	"github.com/yourorg/book-search-sync/internal/config"
	"github.com/yourorg/book-search-sync/internal/env"
	"github.com/yourorg/book-search-sync/internal/events"
	"github.com/yourorg/book-search-sync/internal/logger"
)

func main() {
	ids, err := parseIDs(append(env.Split(os.Getenv("PUBLISH_IDS")), os.Args[1:]...))
	if err != nil {
		log.Fatal(err)
	}
	if len(ids) == 0 {
		log.Fatal("usage: publish ID [ID...] (or PUBLISH_IDS=1,2,3)")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	l := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	rc, err := app.OpenRedis(ctx, cfg)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer rc.Close()

	pub := &events.StreamPublisher{Client: rc, Stream: cfg.ChangesStream, MaxLen: int64(env.GetInt("PUBLISH_MAX_LEN", 100_000))}
	published := 0
	for _, id := range ids {
		if err := pub.PublishBookChanged(ctx, events.ChangeEvent{BookID: id}); err != nil {
			l.Error("publish failed", "book_id", id, "published", published, "error", err)
			os.Exit(1)
		}
		published++
	}
	l.Info("change events published", "stream", cfg.ChangesStream, "count", published)
}

// maxIDs bounds one invocation, ranges included.
const maxIDs = 100_000

// parseIDs accepts single IDs and inclusive ranges such as 10-20.
func parseIDs(args []string) ([]int64, error) {
	var out []int64
	for _, a := range env.Split(strings.Join(args, ",")) {
		lo, hi, isRange := strings.Cut(a, "-")
		from, err := strconv.ParseInt(lo, 10, 64)
		if err != nil || from <= 0 {
			return nil, &badIDError{arg: a}
		}
		to := from
		if isRange {
			if to, err = strconv.ParseInt(hi, 10, 64); err != nil || to < from {
				return nil, &badIDError{arg: a}
			}
		}
		// to-from cannot overflow: both are positive
		if to-from >= int64(maxIDs-len(out)) {
			return nil, &badIDError{arg: a, reason: fmt.Sprintf("more than %d ids", maxIDs)}
		}
		for id := from; ; id++ {
			out = append(out, id)
			if id == to {
				break
			}
		}
	}
	return out, nil
}

type badIDError struct{ arg, reason string }

func (e *badIDError) Error() string {
	msg := "invalid book id or range " + strconv.Quote(e.arg)
	if e.reason != "" {
		msg += ": " + e.reason
	}
	return msg
}
