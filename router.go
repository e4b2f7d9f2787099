package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpapi "github.com/yourorg/book-search-sync/http"
	"github.com/yourorg/book-search-sync/internal/logger"
)

type RouterDeps struct {
	Sync   httpapi.SyncDeps
	Logger *slog.Logger
	// Ready checks run on /ready; any error makes it 503.
	Ready          map[string]func(ctx context.Context) error
	Gatherer       prometheus.Gatherer
	AdminRateLimit int
}

func BuildRouter(d RouterDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(logger.Middleware(d.Logger))
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
	r.Get("/ready", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		failed := map[string]string{}
		for name, check := range d.Ready {
			if err := check(ctx); err != nil {
				failed[name] = err.Error()
			}
		}
		if len(failed) > 0 {
			render.Status(req, http.StatusServiceUnavailable)
			render.JSON(w, req, map[string]any{"ok": false, "failed": failed})
			return
		}
		render.JSON(w, req, map[string]any{"ok": true})
	})
	if d.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	limit := d.AdminRateLimit
	if limit <= 0 {
		limit = 30
	}
	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(limit, time.Minute)) // admin triggers hit the catalog hard
		httpapi.RegisterSync(r, d.Sync)
	})
	return r
}
