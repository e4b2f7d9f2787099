// Package model holds the catalog record the sync pipeline reads.
package model

import "time"

// Book is one row of the upstream catalog. The catalog service owns it; the
// sync pipeline only reads it.
type Book struct {
	ID                    int64
	WorkDirection         int
	CategoryID            int64
	CategoryName          string
	BookName              string
	AuthorID              int64
	AuthorName            string
	BookDesc              string
	Score                 int
	BookStatus            int
	VisitCount            int64
	WordCount             int64
	CommentCount          int64
	LastChapterID         int64
	LastChapterName       string
	LastChapterUpdateTime time.Time
	IsVip                 bool
}

const (
	StatusSerializing = 0
	StatusCompleted   = 1
)

// MaxID returns the highest ID in rows, or 0 for an empty slice.
func MaxID(rows []Book) int64 {
	var max int64
	for _, r := range rows {
		if r.ID > max {
			max = r.ID
		}
	}
	return max
}
