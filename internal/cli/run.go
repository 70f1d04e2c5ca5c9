package cli

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/nulpointcorp/anthropic-go/internal/app"
	"github.com/nulpointcorp/anthropic-go/pkg/client"
	"github.com/nulpointcorp/anthropic-go/pkg/messages"
)

// execute loads configuration, builds the request and runs fn inside the
// application lifecycle.
func execute(cmd *cobra.Command, rt *runtime, o *requestOptions, fn func(context.Context, *client.Client, messages.Request) error) error {
	cfg, err := rt.loadConfig()
	if err != nil {
		return err
	}
	cfg.Beta = append(cfg.Beta, o.Beta...)

	req, err := buildRequest(cmd, o, cfg.Model)
	if err != nil {
		return err
	}

	log := buildLogger(cfg.LogLevel, cmd.ErrOrStderr())
	slog.SetDefault(log)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := app.New(ctx, cfg, log, rt.version, rt.clientOpts...)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.Run(ctx, func(ctx context.Context, c *client.Client) error {
		return fn(ctx, c, req)
	})
}
