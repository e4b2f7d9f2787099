package search

import (
	"context"
	"time"

	"github.com/yourorg/book-search-sync/internal/metrics"
)

// Index is the write surface both sync paths depend on.
type Index interface {
	BulkUpsert(ctx context.Context, docs []Document) ([]WriteOutcome, error)
	UpsertOne(ctx context.Context, doc Document) error
	DeleteByID(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (*Document, error)
}

// Instrumented records request latency of an Index.
type Instrumented struct {
	Index Index
}

func (i Instrumented) BulkUpsert(ctx context.Context, docs []Document) ([]WriteOutcome, error) {
	start := time.Now()
	out, err := i.Index.BulkUpsert(ctx, docs)
	observe("bulk", start, err)
	return out, err
}

func (i Instrumented) UpsertOne(ctx context.Context, doc Document) error {
	start := time.Now()
	err := i.Index.UpsertOne(ctx, doc)
	observe("upsert", start, err)
	return err
}

func (i Instrumented) DeleteByID(ctx context.Context, id int64) error {
	start := time.Now()
	err := i.Index.DeleteByID(ctx, id)
	observe("delete", start, err)
	return err
}

func (i Instrumented) Get(ctx context.Context, id int64) (*Document, error) {
	start := time.Now()
	doc, err := i.Index.Get(ctx, id)
	observe("get", start, err)
	return doc, err
}

func observe(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.IndexRequestDuration.WithLabelValues(op, result).Observe(time.Since(start).Seconds())
}
