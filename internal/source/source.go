// Package source defines the read contract the sync pipeline needs from the
// upstream catalog.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/yourorg/book-search-sync/internal/model"
)

// ErrUpstream is matched by every *Error via errors.Is.
var ErrUpstream = errors.New("catalog upstream failure")

// Gateway is implemented by catalog.Client (HTTP) and store.Store (Postgres).
type Gateway interface {
	// ListPage returns at most pageSize rows with ID > cursor in ascending ID
	// order. An empty slice with a nil error means the end of the catalog.
	ListPage(ctx context.Context, cursor int64, pageSize int) ([]model.Book, error)

	// FetchByID returns the current row, or nil with a nil error when the row
	// does not exist.
	FetchByID(ctx context.Context, id int64) (*model.Book, error)
}

// Error is a failed upstream read. Timeouts, non-success statuses and
// malformed payloads all end up here.
type Error struct {
	Op     string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("catalog %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("catalog %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrUpstream }

// Wrap returns err as an *Error for op unless it already is one.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Err: err}
}
