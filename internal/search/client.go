// Package search writes book documents to Elasticsearch.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

const DefaultIndex = "book"

type Config struct {
	Addresses []string
	Username  string
	Password  string
	Index     string
	// Timeout bounds every request. Zero means 10s.
	Timeout   time.Duration
	Transport http.RoundTripper
}

type Client struct {
	es      *elasticsearch.Client
	index   string
	timeout time.Duration
}

var _ Index = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("search: create client: %w", err)
	}
	if cfg.Index == "" {
		cfg.Index = DefaultIndex
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{es: es, index: cfg.Index, timeout: cfg.Timeout}, nil
}

func (c *Client) IndexName() string { return c.index }

type bulkItem struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error,omitempty"`
}

type bulkResponse struct {
	Errors bool                  `json:"errors"`
	Items  []map[string]bulkItem `json:"items"`
}

// BulkUpsert writes docs with a single _bulk request of index actions. The
// returned error covers only the request as a whole; per-document failures
// show up in the outcomes, which are in the same order as docs.
func (c *Client) BulkUpsert(ctx context.Context, docs []Document) ([]WriteOutcome, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, d := range docs {
		meta := map[string]any{"index": map[string]any{"_id": d.DocID()}}
		if err := enc.Encode(meta); err != nil {
			return nil, &IndexError{Op: "bulk", Err: err}
		}
		if err := enc.Encode(d); err != nil {
			return nil, &IndexError{Op: "bulk", Err: err}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	res, err := c.es.Bulk(
		bytes.NewReader(buf.Bytes()),
		c.es.Bulk.WithIndex(c.index),
		c.es.Bulk.WithContext(ctx),
	)
	if err != nil {
		return nil, &IndexError{Op: "bulk", Err: err}
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, responseError("bulk", res)
	}

	var parsed bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, &IndexError{Op: "bulk", Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(parsed.Items) != len(docs) {
		return nil, &IndexError{Op: "bulk", Reason: fmt.Sprintf("got %d items for %d documents", len(parsed.Items), len(docs))}
	}

	out := make([]WriteOutcome, len(docs))
	for i, item := range parsed.Items {
		out[i] = WriteOutcome{ID: docs[i].ID}
		for _, it := range item {
			if id, err := strconv.ParseInt(it.ID, 10, 64); err == nil {
				out[i].ID = id
			}
			out[i].Status = it.Status
			if it.Error != nil || it.Status >= 300 {
				reason := "rejected"
				if it.Error != nil {
					reason = it.Error.Type + ": " + it.Error.Reason
				}
				out[i].Err = &IndexError{Op: "bulk item", Status: it.Status, Reason: reason}
			}
		}
	}
	return out, nil
}

// UpsertOne overwrites the document with the same ID.
func (c *Client) UpsertOne(ctx context.Context, doc Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return &IndexError{Op: "upsert", Err: err}
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	res, err := c.es.Index(
		c.index,
		bytes.NewReader(body),
		c.es.Index.WithDocumentID(doc.DocID()),
		c.es.Index.WithContext(ctx),
	)
	if err != nil {
		return &IndexError{Op: "upsert", Err: err}
	}
	defer res.Body.Close()
	if res.IsError() {
		return responseError("upsert", res)
	}
	return nil
}

// DeleteByID removes a document. A missing document is not an error.
func (c *Client) DeleteByID(ctx context.Context, id int64) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	res, err := c.es.Delete(c.index, strconv.FormatInt(id, 10), c.es.Delete.WithContext(ctx))
	if err != nil {
		return &IndexError{Op: "delete", Err: err}
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if res.IsError() {
		return responseError("delete", res)
	}
	return nil
}

// Get returns the indexed document, or nil when there is none.
func (c *Client) Get(ctx context.Context, id int64) (*Document, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	res, err := c.es.Get(c.index, strconv.FormatInt(id, 10), c.es.Get.WithContext(ctx))
	if err != nil {
		return nil, &IndexError{Op: "get", Err: err}
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if res.IsError() {
		return nil, responseError("get", res)
	}
	var body struct {
		Found  bool     `json:"found"`
		Source Document `json:"_source"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, &IndexError{Op: "get", Err: fmt.Errorf("decode response: %w", err)}
	}
	if !body.Found {
		return nil, nil
	}
	return &body.Source, nil
}

const indexMapping = `{
  "mappings": {
    "properties": {
      "id":                    {"type": "long"},
      "workDirection":         {"type": "integer"},
      "categoryId":            {"type": "long"},
      "categoryName":          {"type": "keyword"},
      "bookName":              {"type": "text", "fields": {"keyword": {"type": "keyword"}}},
      "authorId":              {"type": "long"},
      "authorName":            {"type": "text", "fields": {"keyword": {"type": "keyword"}}},
      "bookDesc":              {"type": "text"},
      "score":                 {"type": "integer"},
      "bookStatus":            {"type": "integer"},
      "visitCount":            {"type": "long"},
      "wordCount":             {"type": "long"},
      "commentCount":          {"type": "long"},
      "lastChapterId":         {"type": "long"},
      "lastChapterName":       {"type": "text"},
      "lastChapterUpdateTime": {"type": "date", "format": "epoch_millis"},
      "isVip":                 {"type": "integer"}
    }
  }
}`

// EnsureIndex creates the index with the book mapping when it does not exist.
func (c *Client) EnsureIndex(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	res, err := c.es.Indices.Exists([]string{c.index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return &IndexError{Op: "exists", Err: err}
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return &IndexError{Op: "exists", Status: res.StatusCode, Reason: res.Status()}
	}

	res, err = c.es.Indices.Create(c.index,
		c.es.Indices.Create.WithBody(strings.NewReader(indexMapping)),
		c.es.Indices.Create.WithContext(ctx),
	)
	if err != nil {
		return &IndexError{Op: "create index", Err: err}
	}
	defer res.Body.Close()
	if res.IsError() {
		e := responseError("create index", res)
		// another replica may have created it first
		if strings.Contains(e.Reason, "resource_already_exists_exception") {
			return nil
		}
		return e
	}
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return &IndexError{Op: "ping", Err: err}
	}
	defer res.Body.Close()
	if res.IsError() {
		return &IndexError{Op: "ping", Status: res.StatusCode, Reason: res.Status()}
	}
	return nil
}

func responseError(op string, res *esapi.Response) *IndexError {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
	return &IndexError{Op: op, Status: res.StatusCode, Reason: strings.TrimSpace(string(body))}
}
