package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	httpapi "github.com/yourorg/book-search-sync/http"
	"github.com/yourorg/book-search-sync/internal/app"
	"github.com/yourorg/book-search-sync/internal/changes"
	"github.com/yourorg/book-search-sync/internal/config"
	"github.com/yourorg/book-search-sync/internal/events"
	"github.com/yourorg/book-search-sync/internal/fullsync"
	"github.com/yourorg/book-search-sync/internal/logger"
	"github.com/yourorg/book-search-sync/internal/metrics"
	"github.com/yourorg/book-search-sync/internal/search"
)

const changesMaxLen = 100_000

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	l := logger.New(cfg.LogLevel)
	slog.SetDefault(l)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, closeSource, err := app.OpenSource(ctx, cfg, l)
	if err != nil {
		l.Error("catalog source unavailable", "mode", cfg.SourceMode, "error", err)
		os.Exit(1)
	}
	defer closeSource()

	es, err := app.OpenIndex(ctx, cfg)
	if err != nil {
		l.Error("search index unavailable", "error", err)
		os.Exit(1)
	}
	rc, err := app.OpenRedis(ctx, cfg)
	if err != nil {
		l.Error("redis unavailable", "error", err)
		os.Exit(1)
	}
	defer rc.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(reg)

	idx := search.Instrumented{Index: es}
	job := app.NewFullSync(cfg, src, idx, rc, l.With("component", "fullsync"))
	consumer := &changes.Consumer{Source: src, Index: idx, Logger: l.With("component", "changes")}
	sub := &events.Subscriber{
		Client: rc,
		Logger: l.With("component", "subscriber"),
		Config: events.SubscriberConfig{
			Stream:           cfg.ChangesStream,
			Group:            cfg.ChangesGroup,
			Consumer:         cfg.ChangesConsumer,
			Concurrency:      cfg.ChangesConcurrency,
			ClaimMinIdle:     cfg.ChangesClaimMinIdle,
			MaxDeliveries:    cfg.ChangesMaxDeliveries,
			DeadLetterStream: cfg.ChangesDeadLetterStream,
			HandlerTimeout:   cfg.ChangesHandlerTimeout,
		},
	}
	pub := &events.StreamPublisher{Client: rc, Stream: cfg.ChangesStream, MaxLen: changesMaxLen}

	router := BuildRouter(RouterDeps{
		Logger: l,
		Sync: httpapi.SyncDeps{
			Job:        job,
			Source:     src,
			Index:      idx,
			Publisher:  pub,
			RunContext: ctx,
			Logger:     l.With("component", "admin"),
		},
		Ready: map[string]func(context.Context) error{
			"search": es.Ping,
			"redis":  rc.Ping,
		},
		Gatherer:       reg,
		AdminRateLimit: cfg.AdminRateLimit,
	})
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := job.Run(ctx, cfg.SyncSchedule, cfg.SyncRunOnStart); err != nil {
			l.Error("full sync scheduler stopped", "error", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := sub.Run(ctx, consumer.Handle); err != nil {
			l.Error("change consumer stopped", "error", err)
			stop()
		}
	}()
	go func() {
		l.Info("book-search-sync listening", "addr", cfg.HTTPAddr, "index", es.IndexName(), "source", cfg.SourceMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("http server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	l.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		l.Warn("http shutdown", "error", err)
	}
	wg.Wait()
	waitIdle(sctx, job)
	l.Info("stopped")
}

// waitIdle waits for a triggered run to notice cancellation and finish its
// current page.
func waitIdle(ctx context.Context, job *fullsync.Job) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for job.Status().State == fullsync.StateRunning {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
