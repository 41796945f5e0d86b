// Package app holds the configuration and wiring shared by the binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/ChadFarrow/stablekraft-app-sub011/internal/dedup"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/feed"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/index"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/ingest"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/migrations"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/playlist"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/resolve"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/sqlite"
	"github.com/ChadFarrow/stablekraft-app-sub011/logger"
)

const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config is read from the environment by every binary.
type Config struct {
	Database string `env:"DATABASE, required"`

	// Which format to use for logging: either text or json
	LoggerFormat string `env:"LOGGER_FORMAT, default=text"`

	IndexAPIKey    string `env:"PODCASTINDEX_API_KEY"`
	IndexAPISecret string `env:"PODCASTINDEX_API_SECRET"`
	IndexBaseURL   string `env:"PODCASTINDEX_BASE_URL, default=https://api.podcastindex.org/api/1.0"`
	// Spacing between index requests, shared by every resolution in the process.
	IndexRequestDelay time.Duration `env:"INDEX_REQUEST_DELAY, default=100ms"`

	ResolveConcurrency int           `env:"RESOLVE_CONCURRENCY, default=4"`
	ResolveTimeout     time.Duration `env:"RESOLVE_TIMEOUT, default=15s"`
	NotFoundRetryAfter time.Duration `env:"NOT_FOUND_RETRY_AFTER, default=24h"`

	FetchTimeout    time.Duration `env:"FETCH_TIMEOUT, default=30s"`
	FetchRetries    uint64        `env:"FETCH_RETRIES, default=2"`
	UserAgent       string        `env:"USER_AGENT"`
	SyncConcurrency int           `env:"SYNC_CONCURRENCY, default=8"`

	// Either memory or redis
	CacheBackend     string        `env:"CACHE_BACKEND, default=memory"`
	CacheSize        int           `env:"CACHE_SIZE, default=512"`
	RedisURL         string        `env:"REDIS_URL"`
	PlaylistCacheTTL time.Duration `env:"PLAYLIST_CACHE_TTL, default=15m"`
	// How long an expired payload may still be served while it's rebuilt.
	StaleGrace   time.Duration `env:"PLAYLIST_STALE_GRACE, default=24h"`
	BuildTimeout time.Duration `env:"PLAYLIST_BUILD_TIMEOUT, default=5m"`
}

// Logger builds the process logger from the config.
func (c Config) Logger(w io.Writer) *slog.Logger {
	return logger.New(c.LoggerFormat, w)
}

// App is the wired pipeline.
type App struct {
	DB   *sqlx.DB
	Repo sqlite.Repo

	Fetcher   *feed.Fetcher
	Resolver  *resolve.Resolver
	Cache     playlist.Cache
	Assembler *playlist.Assembler
	Ingest    *ingest.Service
	Dedup     *dedup.Deduplicator

	closers []io.Closer
}

// Open connects to the database, migrates it, and wires every component.
func Open(ctx context.Context, cfg Config) (*App, error) {
	dbx, err := sqlite.Open(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a := &App{DB: dbx, closers: []io.Closer{dbx}}

	// Migrate, always
	if err := migrations.Run(dbx); err != nil {
		a.Close()
		return nil, fmt.Errorf("error migrating: %w", err)
	}
	a.Repo = sqlite.New(dbx)

	var idx resolve.Index
	client, err := index.New(index.Config{
		BaseURL:   cfg.IndexBaseURL,
		APIKey:    cfg.IndexAPIKey,
		APISecret: cfg.IndexAPISecret,
		UserAgent: cfg.UserAgent,
		Retries:   cfg.FetchRetries,
	})
	switch {
	case errors.Is(err, index.ErrMissingCredentials):
		// Local-only resolution still works; anything needing the index
		// fails per item.
		slog.WarnContext(ctx, "podcast index credentials missing, remote resolution disabled")
		idx = noIndex{}
	case err != nil:
		a.Close()
		return nil, fmt.Errorf("error creating index client: %w", err)
	default:
		idx = client
	}

	cache, err := a.cache(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Cache = cache

	a.Fetcher = feed.NewFetcher(feed.FetcherConfig{
		Timeout:   cfg.FetchTimeout,
		UserAgent: cfg.UserAgent,
		Retries:   cfg.FetchRetries,
	})
	a.Resolver = resolve.New(a.Repo, idx, resolve.Config{
		Delay:       cfg.IndexRequestDelay,
		Concurrency: cfg.ResolveConcurrency,
		ItemTimeout: cfg.ResolveTimeout,
		RetryAfter:  cfg.NotFoundRetryAfter,
	})
	a.Assembler = playlist.New(a.Repo, a.Resolver, cache, playlist.Config{
		TTL:          cfg.PlaylistCacheTTL,
		BuildTimeout: cfg.BuildTimeout,
	})
	a.Ingest = ingest.New(a.Repo, a.Fetcher, a.Assembler, ingest.Config{
		Concurrency: cfg.SyncConcurrency,
	})
	a.Dedup = dedup.New(a.Repo)

	return a, nil
}

func (a *App) cache(ctx context.Context, cfg Config) (playlist.Cache, error) {
	switch cfg.CacheBackend {
	case CacheMemory, "":
		c, err := playlist.NewMemoryCache(cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("error creating memory cache: %w", err)
		}
		return c, nil
	case CacheRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("error parsing redis url: %w", err)
		}
		client := redis.NewClient(opts)
		a.closers = append(a.closers, client)

		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("error pinging redis: %w", err)
		}
		return playlist.NewRedisCache(client, cfg.StaleGrace), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
}

type noIndex struct{}

func (noIndex) LookupFeedByGUID(context.Context, string) (index.FeedMetadata, error) {
	return index.FeedMetadata{}, index.ErrMissingCredentials
}

func (noIndex) LookupEpisode(context.Context, string, string) (index.EpisodeMetadata, error) {
	return index.EpisodeMetadata{}, index.ErrMissingCredentials
}

// Close waits for background playlist builds, then releases connections.
func (a *App) Close() error {
	if a.Assembler != nil {
		a.Assembler.Wait()
	}

	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
