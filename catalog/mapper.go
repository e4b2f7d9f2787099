package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/yourorg/book-search-sync/internal/model"
)

var errNotFound = errors.New("book not found")

func (b bookInfo) toModel() model.Book {
	return model.Book{
		ID:                    int64(b.ID),
		WorkDirection:         int(b.WorkDirection),
		CategoryID:            int64(b.CategoryID),
		CategoryName:          b.CategoryName,
		BookName:              b.BookName,
		AuthorID:              int64(b.AuthorID),
		AuthorName:            b.AuthorName,
		BookDesc:              b.BookDesc,
		Score:                 int(b.Score),
		BookStatus:            int(b.BookStatus),
		VisitCount:            int64(b.VisitCount),
		WordCount:             int64(b.WordCount),
		CommentCount:          int64(b.CommentCount),
		LastChapterID:         int64(b.LastChapterID),
		LastChapterName:       b.LastChapterName,
		LastChapterUpdateTime: time.Time(b.LastChapterUpdateTime),
		IsVip:                 b.IsVip == 1,
	}
}

func decodeEnvelope(raw []byte) (json.RawMessage, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Code != successCode {
		return nil, fmt.Errorf("catalog returned code %s: %s", env.Code, env.Message)
	}
	return env.Data, nil
}

// MapPagePayload decodes a list response into rows. A null or missing data
// field is an error, not an empty page.
func MapPagePayload(raw []byte) ([]model.Book, error) {
	data, err := decodeEnvelope(raw)
	if err != nil {
		return nil, err
	}
	// only an empty array ends the walk
	if len(data) == 0 || string(data) == "null" {
		return nil, errors.New("list response without data")
	}
	var page []bookInfo
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("decode page: %w", err)
	}
	out := make([]model.Book, 0, len(page))
	for _, b := range page {
		out = append(out, b.toModel())
	}
	return out, nil
}

// MapBookPayload decodes a single-row response. A null data field means the
// row does not exist and yields errNotFound.
func MapBookPayload(raw []byte) (model.Book, error) {
	data, err := decodeEnvelope(raw)
	if err != nil {
		return model.Book{}, err
	}
	if len(data) == 0 || string(data) == "null" {
		return model.Book{}, errNotFound
	}
	var b bookInfo
	if err := json.Unmarshal(data, &b); err != nil {
		return model.Book{}, fmt.Errorf("decode book: %w", err)
	}
	return b.toModel(), nil
}
