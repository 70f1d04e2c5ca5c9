// Package cli implements the anthropic command: one-shot and streaming
// Messages API calls driven by flags and the environment.
package cli

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/nulpointcorp/anthropic-go/internal/config"
	"github.com/nulpointcorp/anthropic-go/pkg/client"
)

// runtime carries what every subcommand needs besides its flags.
type runtime struct {
	version string

	// loadConfig defaults to config.Load.
	loadConfig func() (*config.Config, error)

	// clientOpts are passed through to the client; tests use them.
	clientOpts []client.Option
}

// NewRootCmd builds the command tree.
func NewRootCmd(version string) *cobra.Command {
	return newRootCmd(&runtime{version: version, loadConfig: config.Load})
}

func newRootCmd(rt *runtime) *cobra.Command {
	root := &cobra.Command{
		Use:           "anthropic",
		Short:         "anthropic - Messages API client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newMessagesCmd(rt))
	root.AddCommand(newStreamCmd(rt))
	root.AddCommand(newVersionCmd(rt))
	return root
}

func newVersionCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build version",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := io.WriteString(cmd.OutOrStdout(), rt.version+"\n")
			return err
		},
	}
}

// buildLogger constructs a JSON slog.Logger for the given level string.
// Logs go to w (stderr) so stdout carries only model output. Unknown level
// strings default to INFO.
func buildLogger(level string, w io.Writer) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     l,
		AddSource: l == slog.LevelDebug,
	}))
}
