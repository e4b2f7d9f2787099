// Package config loads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/yourorg/book-search-sync/internal/env"
	"github.com/yourorg/book-search-sync/internal/fullsync"
)

const (
	SourceHTTP     = "http"
	SourcePostgres = "postgres"
)

type Config struct {
	HTTPAddr        string
	LogLevel        string
	ShutdownTimeout time.Duration
	AdminRateLimit  int // requests per minute per IP

	SourceMode     string
	CatalogBaseURL string
	CatalogTimeout time.Duration
	PostgresDSN    string

	ESAddresses []string
	ESUsername  string
	ESPassword  string
	ESIndex     string
	ESTimeout   time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SyncPageSize       int
	SyncSchedule       fullsync.Schedule
	SyncPagesPerSecond float64
	SyncLockTTL        time.Duration
	SyncRunOnStart     bool

	ChangesStream           string
	ChangesGroup            string
	ChangesConsumer         string
	ChangesConcurrency      int
	ChangesClaimMinIdle     time.Duration
	ChangesMaxDeliveries    int64
	ChangesDeadLetterStream string
	ChangesHandlerTimeout   time.Duration
}

// Load reads every key with its default and validates the result.
func Load() (Config, error) {
	host, _ := os.Hostname()
	if host == "" {
		host = "book-search-sync"
	}
	c := Config{
		HTTPAddr:        env.Get("HTTP_ADDR", ":8080"),
		LogLevel:        env.Get("LOG_LEVEL", "info"),
		ShutdownTimeout: env.GetDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		AdminRateLimit:  env.GetInt("ADMIN_RATE_LIMIT", 30),

		SourceMode:     env.Get("SOURCE_MODE", SourceHTTP),
		CatalogBaseURL: env.Get("CATALOG_BASE_URL", ""),
		CatalogTimeout: env.GetDuration("CATALOG_TIMEOUT", 10*time.Second),
		PostgresDSN:    env.Get("PG_DSN", ""),

		ESAddresses: env.List("ES_ADDRESSES"),
		ESUsername:  env.Get("ES_USERNAME", ""),
		ESPassword:  os.Getenv("ES_PASSWORD"),
		ESIndex:     env.Get("ES_INDEX", "book"),
		ESTimeout:   env.GetDuration("ES_TIMEOUT", 30*time.Second),

		RedisAddr:     env.Get("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       env.GetInt("REDIS_DB", 0),

		SyncPageSize:       env.GetInt("SYNC_PAGE_SIZE", 30),
		SyncPagesPerSecond: env.GetFloat("SYNC_PAGES_PER_SECOND", 0),
		SyncLockTTL:        env.GetDuration("SYNC_LOCK_TTL", time.Minute),
		SyncRunOnStart:     env.GetBool("SYNC_RUN_ON_START", false),

		ChangesStream:           env.Get("CHANGES_STREAM", "book:changes"),
		ChangesGroup:            env.Get("CHANGES_GROUP", "book-search-sync"),
		ChangesConsumer:         env.Get("CHANGES_CONSUMER", host),
		ChangesConcurrency:      env.GetInt("CHANGES_CONCURRENCY", 8),
		ChangesClaimMinIdle:     env.GetDuration("CHANGES_CLAIM_MIN_IDLE", time.Minute),
		ChangesMaxDeliveries:    int64(env.GetInt("CHANGES_MAX_DELIVERIES", 16)),
		ChangesDeadLetterStream: env.Get("CHANGES_DEAD_LETTER_STREAM", "book:changes:dead"),
		ChangesHandlerTimeout:   env.GetDuration("CHANGES_HANDLER_TIMEOUT", 10*time.Second),
	}
	if len(c.ESAddresses) == 0 {
		c.ESAddresses = []string{"http://localhost:9200"}
	}

	loc := time.Local
	if tz := env.Get("SYNC_TIMEZONE", ""); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return Config{}, fmt.Errorf("SYNC_TIMEZONE: %w", err)
		}
		loc = l
	}
	sched, err := fullsync.ParseSchedule(env.Get("SYNC_SCHEDULE", ""), loc)
	if err != nil {
		return Config{}, fmt.Errorf("SYNC_SCHEDULE: %w", err)
	}
	c.SyncSchedule = sched

	return c, c.Validate()
}

func (c Config) Validate() error {
	var errs []error
	switch c.SourceMode {
	case SourceHTTP:
		if c.CatalogBaseURL == "" {
			errs = append(errs, errors.New("CATALOG_BASE_URL is required when SOURCE_MODE=http"))
		}
	case SourcePostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("PG_DSN is required when SOURCE_MODE=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("SOURCE_MODE must be %q or %q, got %q", SourceHTTP, SourcePostgres, c.SourceMode))
	}
	if c.SyncPageSize <= 0 {
		errs = append(errs, fmt.Errorf("SYNC_PAGE_SIZE must be positive, got %d", c.SyncPageSize))
	}
	if c.SyncPagesPerSecond < 0 {
		errs = append(errs, errors.New("SYNC_PAGES_PER_SECOND must not be negative"))
	}
	if c.ChangesConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("CHANGES_CONCURRENCY must be positive, got %d", c.ChangesConcurrency))
	}
	if c.ChangesStream == c.ChangesDeadLetterStream {
		errs = append(errs, errors.New("CHANGES_DEAD_LETTER_STREAM must differ from CHANGES_STREAM"))
	}
	return errors.Join(errs...)
}
