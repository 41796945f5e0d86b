package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
)

// Dial connects to temporal, retrying until it's ready or ctx is done.
func Dial(ctx context.Context, hostPort, namespace string) (client.Client, error) {
	var temporalCli client.Client
	backoff := retry.WithMaxDuration(2*time.Minute, retry.NewFibonacci(1*time.Second))
	if err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		c, err := client.Dial(client.Options{
			HostPort:  hostPort,
			Namespace: namespace,
			Logger:    tlog.NewStructuredLogger(slog.Default()),
		})
		if err != nil {
			slog.WarnContext(ctx, "temporal not ready", "host_port", hostPort, "error", err)
			return retry.RetryableError(err)
		}
		temporalCli = c

		return nil
	}); err != nil {
		return nil, err
	}

	return temporalCli, nil
}
