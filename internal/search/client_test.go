package search

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourorg/book-search-sync/internal/model"
)

// fakeES is a minimal Elasticsearch speaking just enough of the document and
// bulk APIs for the client.
type fakeES struct {
	mu        sync.Mutex
	docs      map[string]json.RawMessage
	rejectIDs map[string]bool
	indexed   bool
	status    int // forced status for every request when non-zero
	bulkCalls int
}

func newFakeES(t *testing.T) (*fakeES, *Client) {
	t.Helper()
	f := &fakeES{docs: map[string]json.RawMessage{}, rejectIDs: map[string]bool{}}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	c, err := New(Config{Addresses: []string{srv.URL}, Index: "book", Timeout: 2 * time.Second})
	require.NoError(t, err)
	return f, c
}

func (f *fakeES) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	if f.status != 0 {
		w.WriteHeader(f.status)
		fmt.Fprint(w, `{"error":"forced"}`)
		return
	}
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case r.URL.Path == "/" && r.Method == http.MethodHead:
		w.WriteHeader(http.StatusOK)
	case len(parts) == 1 && r.Method == http.MethodHead:
		if !f.indexed {
			w.WriteHeader(http.StatusNotFound)
		}
	case len(parts) == 1 && r.Method == http.MethodPut:
		f.indexed = true
		fmt.Fprint(w, `{"acknowledged":true}`)
	case len(parts) == 2 && parts[1] == "_bulk":
		f.bulkCalls++
		f.bulk(w, r)
	case len(parts) == 3 && parts[1] == "_doc":
		f.doc(w, r, parts[2])
	default:
		w.WriteHeader(http.StatusBadRequest)
	}
}

func (f *fakeES) bulk(w http.ResponseWriter, r *http.Request) {
	sc := bufio.NewScanner(r.Body)
	sc.Buffer(make([]byte, 1<<20), 1<<20)
	var items []map[string]any
	for sc.Scan() {
		var meta struct {
			Index struct {
				ID string `json:"_id"`
			} `json:"index"`
		}
		_ = json.Unmarshal(sc.Bytes(), &meta)
		if !sc.Scan() {
			break
		}
		id := meta.Index.ID
		if f.rejectIDs[id] {
			items = append(items, map[string]any{"index": map[string]any{
				"_id": id, "status": 400,
				"error": map[string]any{"type": "mapper_parsing_exception", "reason": "bad field"},
			}})
			continue
		}
		f.docs[id] = append(json.RawMessage(nil), sc.Bytes()...)
		items = append(items, map[string]any{"index": map[string]any{"_id": id, "status": 201}})
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"errors": len(f.rejectIDs) > 0, "items": items})
}

func (f *fakeES) doc(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodPut, http.MethodPost:
		var raw json.RawMessage
		_ = json.NewDecoder(r.Body).Decode(&raw)
		f.docs[id] = raw
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"_id":%q,"result":"created"}`, id)
	case http.MethodDelete:
		if _, ok := f.docs[id]; !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintf(w, `{"_id":%q,"result":"not_found"}`, id)
			return
		}
		delete(f.docs, id)
		fmt.Fprintf(w, `{"_id":%q,"result":"deleted"}`, id)
	case http.MethodGet:
		raw, ok := f.docs[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintf(w, `{"_id":%q,"found":false}`, id)
			return
		}
		fmt.Fprintf(w, `{"_id":%q,"found":true,"_source":%s}`, id, raw)
	}
}

func docsFor(ids ...int64) []Document {
	out := make([]Document, 0, len(ids))
	for _, id := range ids {
		out = append(out, ToDocument(model.Book{ID: id, BookName: fmt.Sprintf("book-%d", id)}))
	}
	return out
}

func TestBulkUpsertAllSucceed(t *testing.T) {
	f, c := newFakeES(t)
	out, err := c.BulkUpsert(context.Background(), docsFor(1, 2, 3))
	require.NoError(t, err)
	require.Len(t, out, 3)
	for i, o := range out {
		assert.True(t, o.OK())
		assert.Equal(t, int64(i+1), o.ID)
	}
	assert.Len(t, f.docs, 3)
	assert.Equal(t, 1, f.bulkCalls)
}

func TestBulkUpsertPartialFailure(t *testing.T) {
	f, c := newFakeES(t)
	f.rejectIDs["5"] = true

	out, err := c.BulkUpsert(context.Background(), docsFor(1, 2, 3, 4, 5, 6, 7, 8, 9, 10))
	require.NoError(t, err)
	require.Len(t, out, 10)
	var failed []int64
	for _, o := range out {
		if !o.OK() {
			failed = append(failed, o.ID)
			assert.ErrorIs(t, o.Err, ErrIndex)
			assert.Equal(t, 400, o.Status)
		}
	}
	assert.Equal(t, []int64{5}, failed)
	assert.Len(t, f.docs, 9)
}

func TestBulkUpsertTransportFailure(t *testing.T) {
	f, c := newFakeES(t)
	f.status = http.StatusInternalServerError
	out, err := c.BulkUpsert(context.Background(), docsFor(1))
	require.Error(t, err)
	assert.Nil(t, out)
	var ie *IndexError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, http.StatusInternalServerError, ie.Status)
}

func TestBulkUpsertEmpty(t *testing.T) {
	f, c := newFakeES(t)
	out, err := c.BulkUpsert(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Zero(t, f.bulkCalls)
}

func TestUpsertGetDelete(t *testing.T) {
	_, c := newFakeES(t)
	ctx := context.Background()
	doc := docsFor(7)[0]

	require.NoError(t, c.UpsertOne(ctx, doc))
	got, err := c.Get(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, doc, *got)

	require.NoError(t, c.DeleteByID(ctx, 7))
	got, err = c.Get(ctx, 7)
	require.NoError(t, err)
	assert.Nil(t, got)

	// deleting again is not an error
	require.NoError(t, c.DeleteByID(ctx, 7))
}

func TestDeleteFailure(t *testing.T) {
	f, c := newFakeES(t)
	f.status = http.StatusBadRequest
	err := c.DeleteByID(context.Background(), 1)
	assert.ErrorIs(t, err, ErrIndex)
}

func TestEnsureIndexCreatesOnce(t *testing.T) {
	f, c := newFakeES(t)
	require.NoError(t, c.EnsureIndex(context.Background()))
	assert.True(t, f.indexed)
	require.NoError(t, c.EnsureIndex(context.Background()))
	require.NoError(t, c.Ping(context.Background()))
}
