// Package events carries catalog change events over a Redis stream.
package events

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ChangeEvent says a catalog row was created, updated or deleted. It carries
// nothing but the identifier.
type ChangeEvent struct {
	BookID int64
}

// FieldBookID is the stream entry field holding the identifier.
const FieldBookID = "bookId"

// ErrMalformedEvent marks entries that no retry can fix.
var ErrMalformedEvent = errors.New("malformed change event")

// Message is one delivered stream entry.
type Message struct {
	ID     string
	Values map[string]any
	// Deliveries counts deliveries including this one, when known.
	Deliveries int64
}

// Decision tells the broker adapter what to do with a delivered message.
type Decision int

const (
	// Ack removes the message from the pending list.
	Ack Decision = iota
	// Retry leaves it pending so it is redelivered.
	Retry
	// Discard acknowledges it and dead-letters it.
	Discard
)

func (d Decision) String() string {
	switch d {
	case Ack:
		return "ack"
	case Retry:
		return "retry"
	case Discard:
		return "discard"
	default:
		return "unknown"
	}
}

// Handler processes one message. The returned error is informational; the
// Decision alone drives acknowledgement.
type Handler func(ctx context.Context, msg Message) (Decision, error)

// Decode extracts the change event from an entry.
func Decode(values map[string]any) (ChangeEvent, error) {
	raw, ok := values[FieldBookID]
	if !ok {
		return ChangeEvent{}, fmt.Errorf("%w: missing %s", ErrMalformedEvent, FieldBookID)
	}
	var s string
	switch v := raw.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	case int64:
		s = strconv.FormatInt(v, 10)
	case int:
		s = strconv.Itoa(v)
	default:
		return ChangeEvent{}, fmt.Errorf("%w: %s has type %T", ErrMalformedEvent, FieldBookID, raw)
	}
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return ChangeEvent{}, fmt.Errorf("%w: %s=%q", ErrMalformedEvent, FieldBookID, s)
	}
	return ChangeEvent{BookID: id}, nil
}

// Encode builds stream entry values for evt.
func Encode(evt ChangeEvent) map[string]any {
	return map[string]any{FieldBookID: strconv.FormatInt(evt.BookID, 10)}
}

// Publisher emits change events.
type Publisher interface {
	PublishBookChanged(ctx context.Context, evt ChangeEvent) error
}
