package search

import "github.com/yourorg/book-search-sync/internal/model"

// ToDocument projects a catalog row onto its index document. It is a pure
// field copy: the same row always yields the same document.
func ToDocument(b model.Book) Document {
	var updated int64
	if !b.LastChapterUpdateTime.IsZero() {
		updated = b.LastChapterUpdateTime.UnixMilli()
	}
	var vip int
	if b.IsVip {
		vip = 1
	}
	return Document{
		ID:                    b.ID,
		WorkDirection:         b.WorkDirection,
		CategoryID:            b.CategoryID,
		CategoryName:          b.CategoryName,
		BookName:              b.BookName,
		AuthorID:              b.AuthorID,
		AuthorName:            b.AuthorName,
		BookDesc:              b.BookDesc,
		Score:                 b.Score,
		BookStatus:            b.BookStatus,
		VisitCount:            b.VisitCount,
		WordCount:             b.WordCount,
		CommentCount:          b.CommentCount,
		LastChapterID:         b.LastChapterID,
		LastChapterName:       b.LastChapterName,
		LastChapterUpdateTime: updated,
		IsVip:                 vip,
	}
}

// ToDocuments maps a page of rows, preserving order.
func ToDocuments(rows []model.Book) []Document {
	out := make([]Document, 0, len(rows))
	for _, r := range rows {
		out = append(out, ToDocument(r))
	}
	return out
}
