package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/yourorg/book-search-sync/internal/events"
	"github.com/yourorg/book-search-sync/internal/fullsync"
	"github.com/yourorg/book-search-sync/internal/search"
	"github.com/yourorg/book-search-sync/internal/source"
)

// FullSync is the part of fullsync.Job the admin routes drive.
type FullSync interface {
	Start(ctx context.Context) (string, error)
	Status() fullsync.Summary
}

type DocumentReader interface {
	Get(ctx context.Context, id int64) (*search.Document, error)
}

type SyncDeps struct {
	Job       FullSync
	Source    source.Gateway
	Index     DocumentReader
	Publisher events.Publisher
	// RunContext is the parent of triggered runs; requests only start them.
	RunContext context.Context
	Logger     *slog.Logger
}

func (d SyncDeps) log() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func RegisterSync(r chi.Router, d SyncDeps) {
	r.Route("/admin/sync", func(r chi.Router) {
		r.Post("/full", func(w http.ResponseWriter, req *http.Request) {
			ctx := d.RunContext
			if ctx == nil {
				ctx = context.Background()
			}
			runID, err := d.Job.Start(ctx)
			switch {
			case errors.Is(err, fullsync.ErrAlreadyRunning):
				writeError(w, req, http.StatusConflict, map[string]any{"error": "sync_in_progress", "run_id": runID})
				return
			case err != nil:
				d.log().Error("full sync trigger failed", "error", err)
				writeError(w, req, http.StatusInternalServerError, map[string]any{"error": "sync_not_started", "detail": err.Error()})
				return
			}
			d.log().Info("full sync triggered", "run_id", runID, "remote", req.RemoteAddr)
			render.Status(req, http.StatusAccepted)
			render.JSON(w, req, map[string]any{"ok": true, "run_id": runID})
		})
		r.Get("/full", func(w http.ResponseWriter, req *http.Request) {
			render.JSON(w, req, d.Job.Status())
		})

		r.Get("/books/{id}", func(w http.ResponseWriter, req *http.Request) {
			id, ok := bookID(w, req)
			if !ok {
				return
			}
			ctx := req.Context()
			row, err := d.Source.FetchByID(ctx, id)
			if err != nil {
				d.log().Warn("drift check fetch failed", "book_id", id, "error", err)
				writeError(w, req, http.StatusBadGateway, map[string]any{"error": "upstream_unavailable", "detail": err.Error()})
				return
			}
			doc, err := d.Index.Get(ctx, id)
			if err != nil {
				d.log().Warn("drift check index read failed", "book_id", id, "error", err)
				writeError(w, req, http.StatusBadGateway, map[string]any{"error": "index_unavailable", "detail": err.Error()})
				return
			}
			resp := map[string]any{
				"book_id":    id,
				"in_catalog": row != nil,
				"in_index":   doc != nil,
			}
			inSync := row == nil && doc == nil
			if row != nil {
				want := search.ToDocument(*row)
				resp["expected"] = want
				inSync = doc != nil && *doc == want
			}
			if doc != nil {
				resp["indexed"] = doc
			}
			resp["in_sync"] = inSync
			render.JSON(w, req, resp)
		})
		r.Post("/books/{id}", func(w http.ResponseWriter, req *http.Request) {
			id, ok := bookID(w, req)
			if !ok {
				return
			}
			if d.Publisher == nil {
				writeError(w, req, http.StatusServiceUnavailable, map[string]any{"error": "publisher_unavailable"})
				return
			}
			if err := d.Publisher.PublishBookChanged(req.Context(), events.ChangeEvent{BookID: id}); err != nil {
				d.log().Error("change event publish failed", "book_id", id, "error", err)
				writeError(w, req, http.StatusBadGateway, map[string]any{"error": "publish_failed", "detail": err.Error()})
				return
			}
			render.Status(req, http.StatusAccepted)
			render.JSON(w, req, map[string]any{"ok": true, "book_id": id})
		})
	})
}

func bookID(w http.ResponseWriter, req *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(req, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, req, http.StatusBadRequest, map[string]any{"error": "invalid_id"})
		return 0, false
	}
	return id, true
}

func writeError(w http.ResponseWriter, req *http.Request, status int, body map[string]any) {
	render.Status(req, status)
	render.JSON(w, req, body)
}
