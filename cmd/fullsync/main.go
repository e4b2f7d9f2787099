// Command fullsync runs one full catalog sync and exits non-zero when it
// fails or another run holds the lock.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/yourorg/book-search-sync/internal/app"
	"github.com/yourorg/book-search-sync/internal/config"
	"github.com/yourorg/book-search-sync/internal/fullsync"
	"github.com/yourorg/book-search-sync/internal/logger"
	"github.com/yourorg/book-search-sync/internal/search"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	l := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, closeSource, err := app.OpenSource(ctx, cfg, l)
	if err != nil {
		log.Fatalf("catalog source: %v", err)
	}
	defer closeSource()
	es, err := app.OpenIndex(ctx, cfg)
	if err != nil {
		log.Fatalf("search index: %v", err)
	}
	rc, err := app.OpenRedis(ctx, cfg)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer rc.Close()

	job := app.NewFullSync(cfg, src, search.Instrumented{Index: es}, rc, l)
	sum, err := job.RunOnce(ctx)
	switch {
	case errors.Is(err, fullsync.ErrAlreadyRunning):
		l.Warn("full sync already running elsewhere")
		os.Exit(2)
	case err != nil:
		l.Error("full sync failed", "run_id", sum.RunID, "cursor", sum.Cursor, "error", err)
		os.Exit(1)
	}
	l.Info("full sync done", "run_id", sum.RunID, "pages", sum.Pages, "documents", sum.Documents, "failed_documents", sum.Failed)
}
