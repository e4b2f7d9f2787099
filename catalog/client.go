// Package catalog is the HTTP client of the upstream catalog service.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/yourorg/book-search-sync/internal/model"
	"github.com/yourorg/book-search-sync/internal/source"
)

type Config struct {
	BaseURL  string
	Timeout  time.Duration
	RetryMax int
	Logger   *slog.Logger
}

type Client struct {
	baseURL string
	timeout time.Duration
	http    *retryablehttp.Client
}

var _ source.Gateway = (*Client)(nil)

func NewClient(cfg Config) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = 900 * time.Millisecond
	rc.RetryMax = cfg.RetryMax
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.Logger = nil
	if cfg.Logger != nil {
		rc.Logger = cfg.Logger
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		timeout: cfg.Timeout,
		http:    rc,
	}
}

// ListPage calls GET /inner/books?after={cursor}&size={pageSize}.
func (c *Client) ListPage(ctx context.Context, cursor int64, pageSize int) ([]model.Book, error) {
	q := url.Values{}
	q.Set("after", strconv.FormatInt(cursor, 10))
	q.Set("size", strconv.Itoa(pageSize))
	u := fmt.Sprintf("%s/inner/books?%s", c.baseURL, q.Encode())

	raw, status, err := c.get(ctx, u)
	if err != nil {
		return nil, &source.Error{Op: "list page", Status: status, Err: err}
	}
	rows, err := MapPagePayload(raw)
	if err != nil {
		return nil, &source.Error{Op: "list page", Status: status, Err: err}
	}
	return rows, nil
}

// FetchByID calls GET /inner/books/{id}. 404 and a null data field both mean
// the row is gone.
func (c *Client) FetchByID(ctx context.Context, id int64) (*model.Book, error) {
	u := fmt.Sprintf("%s/inner/books/%d", c.baseURL, id)

	raw, status, err := c.get(ctx, u)
	if status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, &source.Error{Op: "fetch book", Status: status, Err: err}
	}
	book, err := MapBookPayload(raw)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &source.Error{Op: "fetch book", Status: status, Err: err}
	}
	return &book, nil
}

func (c *Client) get(ctx context.Context, u string) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, resp.StatusCode, errNotFound
	}
	if resp.StatusCode >= 300 {
		body, _ := ioReadAllLimit(resp.Body, 4<<10)
		return nil, resp.StatusCode, fmt.Errorf("unexpected status: %s", strings.TrimSpace(string(body)))
	}
	b, err := ioReadAllLimit(resp.Body, 4<<20) // 4MB guard
	return b, resp.StatusCode, err
}

func ioReadAllLimit(r io.Reader, limit int64) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, errors.New("payload too large")
	}
	return b, nil
}
