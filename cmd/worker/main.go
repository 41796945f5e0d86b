package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sethvargo/go-envconfig"
	"go.temporal.io/sdk/worker"
	_ "golang.org/x/crypto/x509roots/fallback"

	"github.com/ChadFarrow/stablekraft-app-sub011/internal/app"
	kraftworker "github.com/ChadFarrow/stablekraft-app-sub011/internal/worker"
)

type config struct {
	app.Config

	TemporalHostPort  string        `env:"TEMPORAL_HOST_PORT, required"`
	TemporalNamespace string        `env:"TEMPORAL_NAMESPACE, default=default"`
	HistoryRetention  time.Duration `env:"TEMPORAL_HISTORY_RETENTION, default=72h"`
	SyncInterval      time.Duration `env:"SYNC_INTERVAL, default=15m"`
	ResolveInterval   time.Duration `env:"RESOLVE_INTERVAL, default=6h"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Parse the config
	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatalf("error parsing config: %s", err)
	}

	slog.SetDefault(cfg.Logger(os.Stdout))

	a, err := app.Open(ctx, cfg.Config)
	if err != nil {
		log.Fatalf("error starting: %s", err)
	}
	defer a.Close()

	// Retry until temporal is ready
	c, err := kraftworker.Dial(ctx, cfg.TemporalHostPort, cfg.TemporalNamespace)
	if err != nil {
		log.Fatalln("Unable to create Temporal client:", err)
	}
	defer c.Close()

	if err := kraftworker.EnsureNamespace(ctx, c.WorkflowService(), cfg.TemporalNamespace, cfg.HistoryRetention); err != nil {
		log.Fatalf("error ensuring namespace: %s", err)
	}

	w, err := kraftworker.NewWorker(ctx, c, a.Ingest, a.Repo, a.Assembler, kraftworker.Config{
		SyncInterval:    cfg.SyncInterval,
		ResolveInterval: cfg.ResolveInterval,
	})
	if err != nil {
		log.Fatalf("error creating worker: %s", err)
	}

	slog.Info("starting worker", "task_queue", kraftworker.TaskQueue)
	if err := w.Run(worker.InterruptCh()); err != nil {
		slog.Error("error running worker", "error", err)
		os.Exit(1)
	}
}
