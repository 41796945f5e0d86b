package main

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/sethvargo/go-envconfig"

	"github.com/ChadFarrow/stablekraft-app-sub011/internal/app"
)

type config struct {
	app.Config

	TemporalHostPort  string `env:"TEMPORAL_HOST_PORT"`
	TemporalNamespace string `env:"TEMPORAL_NAMESPACE, default=default"`
}

// commandContext opens the catalog once, on first use, so commands that fail
// flag validation never touch the database.
type commandContext struct {
	jsonFlag *bool

	lookuper envconfig.Lookuper

	once   sync.Once
	config config
	app    *app.App
	err    error
}

func newCommandContext(jsonFlag *bool) *commandContext {
	return &commandContext{
		jsonFlag: jsonFlag,
		lookuper: envconfig.OsLookuper(),
	}
}

func (c *commandContext) ensureApp(ctx context.Context) (*app.App, error) {
	c.once.Do(func() {
		if c.err = envconfig.ProcessWith(ctx, &envconfig.Config{
			Target:   &c.config,
			Lookuper: c.lookuper,
		}); c.err != nil {
			return
		}
		// Logs go to stderr so --json output stays parseable.
		slog.SetDefault(c.config.Logger(os.Stderr))

		c.app, c.err = app.Open(ctx, c.config.Config)
	})
	return c.app, c.err
}

func (c *commandContext) json() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

func (c *commandContext) close() error {
	if c.app == nil {
		return nil
	}
	return c.app.Close()
}
