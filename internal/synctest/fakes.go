// Package synctest provides in-memory catalog and index doubles for tests of
// the sync pipeline.
package synctest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/yourorg/book-search-sync/internal/model"
	"github.com/yourorg/book-search-sync/internal/search"
	"github.com/yourorg/book-search-sync/internal/source"
)

// Catalog is an in-memory source.Gateway.
type Catalog struct {
	mu   sync.Mutex
	rows map[int64]model.Book

	// ListErr / FetchErr, when set, fail every matching call.
	ListErr  error
	FetchErr error
	// OnList runs before each ListPage with the requested cursor.
	OnList func(cursor int64)

	Cursors    []int64
	FetchCalls int
}

var _ source.Gateway = (*Catalog)(nil)

func NewCatalog(rows ...model.Book) *Catalog {
	c := &Catalog{rows: map[int64]model.Book{}}
	for _, r := range rows {
		c.rows[r.ID] = r
	}
	return c
}

// Books builds rows with IDs 1..n.
func Books(n int) []model.Book {
	out := make([]model.Book, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, model.Book{ID: int64(i), BookName: fmt.Sprintf("book-%d", i), WordCount: int64(i * 1000)})
	}
	return out
}

func (c *Catalog) Put(b model.Book) {
	c.mu.Lock()
	c.rows[b.ID] = b
	c.mu.Unlock()
}

func (c *Catalog) Remove(id int64) {
	c.mu.Lock()
	delete(c.rows, id)
	c.mu.Unlock()
}

func (c *Catalog) ListPage(ctx context.Context, cursor int64, pageSize int) ([]model.Book, error) {
	if hook := c.hook(); hook != nil {
		hook(cursor)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Cursors = append(c.Cursors, cursor)
	if c.ListErr != nil {
		return nil, &source.Error{Op: "list page", Err: c.ListErr}
	}
	if err := ctx.Err(); err != nil {
		return nil, &source.Error{Op: "list page", Err: err}
	}
	ids := make([]int64, 0, len(c.rows))
	for id := range c.rows {
		if id > cursor {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) > pageSize {
		ids = ids[:pageSize]
	}
	out := make([]model.Book, 0, len(ids))
	for _, id := range ids {
		out = append(out, c.rows[id])
	}
	return out, nil
}

func (c *Catalog) hook() func(int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.OnList
}

func (c *Catalog) FetchByID(ctx context.Context, id int64) (*model.Book, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.FetchCalls++
	if c.FetchErr != nil {
		return nil, &source.Error{Op: "fetch book", Err: c.FetchErr}
	}
	b, ok := c.rows[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

var ErrInjected = errors.New("injected failure")

// Index is an in-memory search.Index.
type Index struct {
	mu   sync.Mutex
	docs map[int64]search.Document

	// RejectIDs fail individually inside bulk writes.
	RejectIDs map[int64]bool
	// BulkErr / WriteErr / DeleteErr fail whole calls.
	BulkErr   error
	WriteErr  error
	DeleteErr error
	// OnBulk runs before each bulk write is applied.
	OnBulk func(ctx context.Context, docs []search.Document)

	BulkSizes   []int
	Upserts     int
	Deletes     []int64
	BulkCtxErrs []error
}

var _ search.Index = (*Index)(nil)

func NewIndex() *Index {
	return &Index{docs: map[int64]search.Document{}, RejectIDs: map[int64]bool{}}
}

func (x *Index) BulkUpsert(ctx context.Context, docs []search.Document) ([]search.WriteOutcome, error) {
	x.mu.Lock()
	hook := x.OnBulk
	x.mu.Unlock()
	if hook != nil {
		hook(ctx, docs)
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.BulkCtxErrs = append(x.BulkCtxErrs, ctx.Err())
	if x.BulkErr != nil {
		return nil, &search.IndexError{Op: "bulk", Err: x.BulkErr}
	}
	x.BulkSizes = append(x.BulkSizes, len(docs))
	out := make([]search.WriteOutcome, 0, len(docs))
	for _, d := range docs {
		if x.RejectIDs[d.ID] {
			out = append(out, search.WriteOutcome{ID: d.ID, Status: 400, Err: &search.IndexError{Op: "bulk item", Status: 400, Reason: "rejected"}})
			continue
		}
		x.docs[d.ID] = d
		out = append(out, search.WriteOutcome{ID: d.ID, Status: 201})
	}
	return out, nil
}

func (x *Index) UpsertOne(ctx context.Context, doc search.Document) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.WriteErr != nil {
		return &search.IndexError{Op: "upsert", Err: x.WriteErr}
	}
	x.Upserts++
	x.docs[doc.ID] = doc
	return nil
}

func (x *Index) DeleteByID(ctx context.Context, id int64) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.DeleteErr != nil {
		return &search.IndexError{Op: "delete", Err: x.DeleteErr}
	}
	x.Deletes = append(x.Deletes, id)
	delete(x.docs, id)
	return nil
}

func (x *Index) Get(ctx context.Context, id int64) (*search.Document, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	d, ok := x.docs[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

// Put stores a document directly.
func (x *Index) Put(d search.Document) {
	x.mu.Lock()
	x.docs[d.ID] = d
	x.mu.Unlock()
}

// IDs returns the indexed IDs in ascending order.
func (x *Index) IDs() []int64 {
	x.mu.Lock()
	defer x.mu.Unlock()
	ids := make([]int64, 0, len(x.docs))
	for id := range x.docs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Snapshot copies the indexed documents.
func (x *Index) Snapshot() map[int64]search.Document {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make(map[int64]search.Document, len(x.docs))
	for k, v := range x.docs {
		out[k] = v
	}
	return out
}
