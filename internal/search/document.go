package search

import (
	"errors"
	"fmt"
	"strconv"
)

// Document is the indexed projection of a catalog row. The index document ID
// is the catalog row ID.
type Document struct {
	ID                    int64  `json:"id"`
	WorkDirection         int    `json:"workDirection"`
	CategoryID            int64  `json:"categoryId"`
	CategoryName          string `json:"categoryName"`
	BookName              string `json:"bookName"`
	AuthorID              int64  `json:"authorId"`
	AuthorName            string `json:"authorName"`
	BookDesc              string `json:"bookDesc"`
	Score                 int    `json:"score"`
	BookStatus            int    `json:"bookStatus"`
	VisitCount            int64  `json:"visitCount"`
	WordCount             int64  `json:"wordCount"`
	CommentCount          int64  `json:"commentCount"`
	LastChapterID         int64  `json:"lastChapterId"`
	LastChapterName       string `json:"lastChapterName"`
	LastChapterUpdateTime int64  `json:"lastChapterUpdateTime"` // epoch ms
	IsVip                 int    `json:"isVip"`
}

func (d Document) DocID() string { return strconv.FormatInt(d.ID, 10) }

// WriteOutcome is the result of one document inside a bulk write.
type WriteOutcome struct {
	ID     int64
	Status int
	Err    error
}

func (o WriteOutcome) OK() bool { return o.Err == nil }

// ErrIndex is matched by every *IndexError via errors.Is.
var ErrIndex = errors.New("search index failure")

// IndexError is a failed request to the search engine, or a rejected item of
// a bulk request.
type IndexError struct {
	Op     string
	Status int
	Reason string
	Err    error
}

func (e *IndexError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("index %s: %v", e.Op, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("index %s: status %d: %s", e.Op, e.Status, e.Reason)
	default:
		return fmt.Sprintf("index %s: %s", e.Op, e.Reason)
	}
}

func (e *IndexError) Unwrap() error { return e.Err }

func (e *IndexError) Is(target error) bool { return target == ErrIndex }
