// Package changes keeps single index documents in step with catalog change
// events.
package changes

import (
	"context"
	"log/slog"

	"github.com/yourorg/book-search-sync/internal/events"
	"github.com/yourorg/book-search-sync/internal/search"
	"github.com/yourorg/book-search-sync/internal/source"
)

// DocumentWriter is the part of the index the consumer writes through.
type DocumentWriter interface {
	UpsertOne(ctx context.Context, doc search.Document) error
	DeleteByID(ctx context.Context, id int64) error
}

// Consumer re-reads the authoritative row for every event, so the event
// payload never matters beyond its identifier and redelivery is harmless.
type Consumer struct {
	Source source.Gateway
	Index  DocumentWriter
	Logger *slog.Logger
}

func (c *Consumer) log() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

// Handle implements events.Handler.
func (c *Consumer) Handle(ctx context.Context, msg events.Message) (events.Decision, error) {
	evt, err := events.Decode(msg.Values)
	if err != nil {
		c.log().Warn("malformed change event", "message_id", msg.ID, "error", err)
		return events.Discard, err
	}
	logger := c.log().With("book_id", evt.BookID, "message_id", msg.ID)

	row, err := c.Source.FetchByID(ctx, evt.BookID)
	if err != nil {
		logger.Warn("change event fetch failed", "error", err, "deliveries", msg.Deliveries)
		return events.Retry, err
	}
	if row == nil {
		if err := c.Index.DeleteByID(ctx, evt.BookID); err != nil {
			logger.Warn("change event delete failed", "error", err)
			return events.Retry, err
		}
		logger.Info("book removed from index")
		return events.Ack, nil
	}
	if err := c.Index.UpsertOne(ctx, search.ToDocument(*row)); err != nil {
		logger.Warn("change event upsert failed", "error", err)
		return events.Retry, err
	}
	logger.Debug("book reindexed")
	return events.Ack, nil
}
