// Package fullsync walks the whole catalog by ID cursor and bulk-upserts every
// row into the search index.
package fullsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/yourorg/book-search-sync/internal/metrics"
	"github.com/yourorg/book-search-sync/internal/model"
	"github.com/yourorg/book-search-sync/internal/search"
	"github.com/yourorg/book-search-sync/internal/source"
)

// ErrAlreadyRunning is returned when a run is requested while one is active,
// in this process or, with a Locker, in another replica.
var ErrAlreadyRunning = errors.New("full sync already running")

type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// BulkIndexer is the part of the index the job writes through.
type BulkIndexer interface {
	BulkUpsert(ctx context.Context, docs []search.Document) ([]search.WriteOutcome, error)
}

// Locker guards runs across replicas. TryLock reports acquired=false when
// another holder owns the lock. The returned lease is derived from ctx and is
// cancelled, with the reason as its cause, if the lock is lost before unlock.
type Locker interface {
	TryLock(ctx context.Context) (lease context.Context, unlock func(), acquired bool, err error)
}

type Config struct {
	PageSize int
	// RequestTimeout bounds each page read and each bulk write.
	RequestTimeout time.Duration
	// PagesPerSecond paces page reads. Zero disables pacing.
	PagesPerSecond float64
}

// Summary describes the current or most recent run.
type Summary struct {
	RunID      string     `json:"run_id,omitempty"`
	State      State      `json:"state"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Pages      int        `json:"pages"`
	Documents  int        `json:"documents"`
	Failed     int        `json:"failed_documents"`
	Cursor     int64      `json:"cursor"`
	Error      string     `json:"error,omitempty"`
}

type Job struct {
	Source source.Gateway
	Index  BulkIndexer
	Lock   Locker
	Logger *slog.Logger
	Config Config

	mu      sync.Mutex
	running bool
	active  string // run ID once the run is published
	last    Summary
	limiter *rate.Limiter
}

func (j *Job) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *Job) validate() error {
	if j.Source == nil {
		return errors.New("full sync job missing source gateway")
	}
	if j.Index == nil {
		return errors.New("full sync job missing index")
	}
	if j.Config.PageSize <= 0 {
		j.Config.PageSize = 30
	}
	if j.Config.RequestTimeout <= 0 {
		j.Config.RequestTimeout = 30 * time.Second
	}
	return nil
}

// Status returns a copy of the current or last run summary.
func (j *Job) Status() Summary {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.last.State == "" {
		return Summary{State: StateIdle}
	}
	return j.last
}

// Start begins a run in the background and returns its ID. ctx is the parent
// of the run, not of the caller's request.
func (j *Job) Start(ctx context.Context) (string, error) {
	runID, runCtx, done, err := j.begin(ctx)
	if err != nil {
		return runID, err
	}
	go func() {
		defer done()
		_ = j.execute(runCtx)
	}()
	return runID, nil
}

// RunOnce performs a run synchronously.
func (j *Job) RunOnce(ctx context.Context) (Summary, error) {
	_, runCtx, done, err := j.begin(ctx)
	if err != nil {
		return j.Status(), err
	}
	defer done()
	err = j.execute(runCtx)
	return j.Status(), err
}

// begin claims the run guard and then the lock. The running summary is only
// published once both are held. When a local run is active its ID is
// returned along with ErrAlreadyRunning; it is empty while that run is still
// acquiring the lock.
func (j *Job) begin(ctx context.Context) (string, context.Context, func(), error) {
	j.mu.Lock()
	if err := j.validate(); err != nil {
		j.mu.Unlock()
		return "", nil, nil, err
	}
	if j.running {
		id := j.active
		j.mu.Unlock()
		return id, nil, nil, ErrAlreadyRunning
	}
	j.running = true
	if j.Config.PagesPerSecond > 0 && j.limiter == nil {
		j.limiter = rate.NewLimiter(rate.Limit(j.Config.PagesPerSecond), 1)
	}
	j.mu.Unlock()

	release := func() {
		j.mu.Lock()
		j.running = false
		j.active = ""
		j.mu.Unlock()
	}
	runCtx, unlock := ctx, func() {}
	if j.Lock != nil {
		lease, u, ok, err := j.Lock.TryLock(ctx)
		if err != nil || !ok {
			release()
			if err != nil {
				return "", nil, nil, fmt.Errorf("acquire full sync lock: %w", err)
			}
			return "", nil, nil, ErrAlreadyRunning
		}
		runCtx, unlock = lease, u
	}

	now := time.Now()
	runID := uuid.NewString()
	j.mu.Lock()
	j.active = runID
	j.last = Summary{RunID: runID, State: StateRunning, StartedAt: &now}
	j.mu.Unlock()
	return runID, runCtx, func() {
		unlock()
		release()
	}, nil
}

func (j *Job) execute(ctx context.Context) error {
	metrics.SyncRunning.Set(1)
	defer metrics.SyncRunning.Set(0)

	run := j.Status()
	logger := j.log().With("run_id", run.RunID)
	logger.Info("full sync started", "page_size", j.Config.PageSize)

	var cursor int64
	for {
		if ctx.Err() != nil {
			return j.fail(logger, cursor, context.Cause(ctx))
		}
		if j.limiter != nil {
			if err := j.limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					err = context.Cause(ctx)
				}
				return j.fail(logger, cursor, err)
			}
		}

		readCtx, cancel := context.WithTimeout(ctx, j.Config.RequestTimeout)
		rows, err := j.Source.ListPage(readCtx, cursor, j.Config.PageSize)
		cancel()
		if err != nil {
			return j.fail(logger, cursor, fmt.Errorf("list page after %d: %w", cursor, err))
		}
		if len(rows) == 0 {
			return j.complete(logger)
		}

		written, failed, err := j.writePage(ctx, logger, rows)
		if err != nil {
			return j.fail(logger, cursor, fmt.Errorf("bulk upsert after %d: %w", cursor, err))
		}

		next := model.MaxID(rows)
		if next <= cursor {
			return j.fail(logger, cursor, fmt.Errorf("cursor did not advance past %d", cursor))
		}
		cursor = next
		metrics.SyncPages.Inc()
		j.mu.Lock()
		j.last.Pages++
		j.last.Documents += written
		j.last.Failed += failed
		j.last.Cursor = cursor
		j.mu.Unlock()
	}
}

// writePage submits one bulk write. The write is not cancelled with ctx so a
// batch is never left half applied by shutdown.
func (j *Job) writePage(ctx context.Context, logger *slog.Logger, rows []model.Book) (written, failed int, err error) {
	docs := search.ToDocuments(rows)
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), j.Config.RequestTimeout)
	defer cancel()
	outcomes, err := j.Index.BulkUpsert(writeCtx, docs)
	if err != nil {
		return 0, 0, err
	}
	for _, o := range outcomes {
		if o.OK() {
			written++
			continue
		}
		failed++
		logger.Warn("full sync document write failed", "book_id", o.ID, "status", o.Status, "error", o.Err)
	}
	metrics.SyncDocuments.WithLabelValues("ok").Add(float64(written))
	metrics.SyncDocuments.WithLabelValues("failed").Add(float64(failed))
	return written, failed, nil
}

func (j *Job) complete(logger *slog.Logger) error {
	now := time.Now()
	j.mu.Lock()
	j.last.State = StateCompleted
	j.last.FinishedAt = &now
	s := j.last
	j.mu.Unlock()
	metrics.SyncRuns.WithLabelValues(string(StateCompleted)).Inc()
	logger.Info("full sync completed", "pages", s.Pages, "documents", s.Documents, "failed_documents", s.Failed,
		"cursor", s.Cursor, "elapsed", now.Sub(*s.StartedAt).String())
	return nil
}

func (j *Job) fail(logger *slog.Logger, cursor int64, err error) error {
	now := time.Now()
	j.mu.Lock()
	j.last.State = StateFailed
	j.last.FinishedAt = &now
	j.last.Cursor = cursor
	j.last.Error = err.Error()
	j.mu.Unlock()
	metrics.SyncRuns.WithLabelValues(string(StateFailed)).Inc()
	logger.Error("full sync failed", "cursor", cursor, "error", err)
	return err
}
