// Package app opens the external dependencies named by a config.Config. The
// service and the command line tools share it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/yourorg/book-search-sync/catalog"
	"github.com/yourorg/book-search-sync/internal/config"
	"github.com/yourorg/book-search-sync/internal/fullsync"
	"github.com/yourorg/book-search-sync/internal/redisx"
	"github.com/yourorg/book-search-sync/internal/search"
	"github.com/yourorg/book-search-sync/internal/source"
	"github.com/yourorg/book-search-sync/internal/store"
)

// FullSyncLockKey is shared by every replica and the one-shot tool.
const FullSyncLockKey = "book-search-sync:full-sync"

const startupTimeout = 10 * time.Second

// OpenSource returns the catalog gateway for cfg.SourceMode and a closer.
func OpenSource(ctx context.Context, cfg config.Config, l *slog.Logger) (source.Gateway, func(), error) {
	switch cfg.SourceMode {
	case config.SourcePostgres:
		st, err := store.Open(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		st.QueryTimeout = cfg.CatalogTimeout
		pctx, cancel := context.WithTimeout(ctx, startupTimeout)
		defer cancel()
		if err := st.Ping(pctx); err != nil {
			_ = st.DB.Close()
			return nil, nil, fmt.Errorf("postgres ping: %w", err)
		}
		return st, func() { _ = st.DB.Close() }, nil
	default:
		c := catalog.NewClient(catalog.Config{
			BaseURL:  cfg.CatalogBaseURL,
			Timeout:  cfg.CatalogTimeout,
			RetryMax: 3,
			Logger:   l,
		})
		return c, func() {}, nil
	}
}

// OpenIndex connects to the search engine and creates the index when absent.
func OpenIndex(ctx context.Context, cfg config.Config) (*search.Client, error) {
	c, err := search.New(search.Config{
		Addresses: cfg.ESAddresses,
		Username:  cfg.ESUsername,
		Password:  cfg.ESPassword,
		Index:     cfg.ESIndex,
		Timeout:   cfg.ESTimeout,
	})
	if err != nil {
		return nil, err
	}
	ictx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()
	if err := c.EnsureIndex(ictx); err != nil {
		return nil, fmt.Errorf("ensure index %s: %w", c.IndexName(), err)
	}
	return c, nil
}

func OpenRedis(ctx context.Context, cfg config.Config) (*redisx.Client, error) {
	rc := redisx.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	pctx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()
	if err := rc.Ping(pctx); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
	}
	return rc, nil
}

// NewFullSync builds the job guarded by the cross-replica lock.
func NewFullSync(cfg config.Config, src source.Gateway, idx fullsync.BulkIndexer, rc *redisx.Client, l *slog.Logger) *fullsync.Job {
	return &fullsync.Job{
		Source: src,
		Index:  idx,
		Lock:   redisx.NewLock(rc, FullSyncLockKey, cfg.SyncLockTTL, l),
		Logger: l,
		Config: fullsync.Config{
			PageSize:       cfg.SyncPageSize,
			RequestTimeout: cfg.ESTimeout,
			PagesPerSecond: cfg.SyncPagesPerSecond,
		},
	}
}
