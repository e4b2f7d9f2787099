// Package store reads catalog rows straight from the catalog's Postgres read
// replica. It never writes.
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/yourorg/book-search-sync/internal/model"
	"github.com/yourorg/book-search-sync/internal/source"
)

type Store struct {
	DB *sql.DB
	// QueryTimeout bounds every query. Zero means 5s.
	QueryTimeout time.Duration
}

var _ source.Gateway = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	return &Store{DB: db}, nil
}

func (s *Store) Ping(ctx context.Context) error { return s.DB.PingContext(ctx) }

const bookColumns = `id, work_direction, category_id, category_name, book_name, author_id, author_name,
    book_desc, score, book_status, visit_count, word_count, comment_count,
    last_chapter_id, last_chapter_name, last_chapter_update_time, is_vip`

const listPageQuery = `SELECT ` + bookColumns + ` FROM book_info WHERE id > $1 ORDER BY id ASC LIMIT $2`

const fetchByIDQuery = `SELECT ` + bookColumns + ` FROM book_info WHERE id = $1`

func (s *Store) ListPage(ctx context.Context, cursor int64, pageSize int) ([]model.Book, error) {
	if s.DB == nil {
		return nil, &source.Error{Op: "list page", Err: errors.New("nil db")}
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()

	rows, err := s.DB.QueryContext(ctx, listPageQuery, cursor, pageSize)
	if err != nil {
		return nil, &source.Error{Op: "list page", Err: err}
	}
	defer rows.Close()

	out := make([]model.Book, 0, pageSize)
	for rows.Next() {
		b, err := scanBook(rows)
		if err != nil {
			return nil, &source.Error{Op: "list page", Err: err}
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, &source.Error{Op: "list page", Err: err}
	}
	return out, nil
}

func (s *Store) FetchByID(ctx context.Context, id int64) (*model.Book, error) {
	if s.DB == nil {
		return nil, &source.Error{Op: "fetch book", Err: errors.New("nil db")}
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()

	b, err := scanBook(s.DB.QueryRowContext(ctx, fetchByIDQuery, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &source.Error{Op: "fetch book", Err: err}
	}
	return &b, nil
}

func (s *Store) timeout() time.Duration {
	if s.QueryTimeout > 0 {
		return s.QueryTimeout
	}
	return 5 * time.Second
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBook(sc scanner) (model.Book, error) {
	var (
		b                                  model.Book
		categoryName, authorName, bookDesc sql.NullString
		lastChapterName                    sql.NullString
		categoryID, authorID               sql.NullInt64
		visits, words, comments, lastChap  sql.NullInt64
		workDirection, score, status, vip  sql.NullInt64
		lastUpdate                         sql.NullTime
	)
	err := sc.Scan(&b.ID, &workDirection, &categoryID, &categoryName, &b.BookName, &authorID, &authorName,
		&bookDesc, &score, &status, &visits, &words, &comments,
		&lastChap, &lastChapterName, &lastUpdate, &vip)
	if err != nil {
		return model.Book{}, err
	}
	b.WorkDirection = int(workDirection.Int64)
	b.CategoryID = categoryID.Int64
	b.CategoryName = categoryName.String
	b.AuthorID = authorID.Int64
	b.AuthorName = authorName.String
	b.BookDesc = bookDesc.String
	b.Score = int(score.Int64)
	b.BookStatus = int(status.Int64)
	b.VisitCount = visits.Int64
	b.WordCount = words.Int64
	b.CommentCount = comments.Int64
	b.LastChapterID = lastChap.Int64
	b.LastChapterName = lastChapterName.String
	if lastUpdate.Valid {
		b.LastChapterUpdateTime = lastUpdate.Time
	}
	b.IsVip = vip.Int64 == 1
	return b, nil
}
