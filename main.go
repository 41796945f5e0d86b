// Stablekraft is the music podcast aggregator.
//
// It serves playlists assembled from Value-for-Value music feeds and,
// optionally, keeps every known feed in sync on an interval.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/sethvargo/go-envconfig"

	"github.com/ChadFarrow/stablekraft-app-sub011/internal/app"
	"github.com/ChadFarrow/stablekraft-app-sub011/internal/server"
)

type config struct {
	app.Config

	Port       int    `env:"PORT, default=4444"`
	CorsOrigin string `env:"CORS_ORIGIN, default=*"`
	// Zero leaves syncing to the worker.
	SyncInterval time.Duration `env:"SYNC_INTERVAL, default=0s"`
}

func main() {
	ctx := context.Background()

	// Parse the config
	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatalf("error parsing config: %s", err)
	}

	slog.SetDefault(cfg.Logger(os.Stderr))

	// Start the application
	if err := runMain(ctx, cfg); err != nil {
		slog.Error("error running", "error", err)
		os.Exit(1)
	}
}

func runMain(ctx context.Context, cfg config) error {
	a, err := app.Open(ctx, cfg.Config)
	if err != nil {
		return fmt.Errorf("error starting: %w", err)
	}
	defer a.Close()

	s := server.New(server.Config{
		Port:       cfg.Port,
		CorsOrigin: cfg.CorsOrigin,
	}, a.Assembler, a.Ingest, a.Repo)

	var g run.Group
	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))
	g.Add(func() error {
		slog.Info("listening", "port", cfg.Port)
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("error listening: %w", err)
		}
		return nil
	}, func(error) {
		downCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.Shutdown(downCtx); err != nil {
			slog.Error("error shutting down server", "error", err)
		}
	})

	if cfg.SyncInterval > 0 {
		syncCtx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return syncLoop(syncCtx, a, cfg.SyncInterval)
		}, func(error) {
			cancel()
		})
	}

	var sig run.SignalError
	if err := g.Run(); err != nil && !errors.As(err, &sig) {
		return err
	}

	return nil
}

// Syncs every feed on the interval until canceled. Failures are in the
// report; only a failure to list feeds is logged as an error.
func syncLoop(ctx context.Context, a *app.App, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		if _, err := a.Ingest.SyncAll(ctx); err != nil && ctx.Err() == nil {
			slog.ErrorContext(ctx, "error syncing feeds", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
