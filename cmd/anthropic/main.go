// Command anthropic sends requests to the Messages API from the shell.
//
// It reads configuration from environment variables (or config.yaml) and
// prints model output on stdout; structured logs go to stderr.
//
//	ANTHROPIC_API_KEY=sk-... ./anthropic messages --prompt "Hello"
//	ANTHROPIC_API_KEY=sk-... ./anthropic stream --max-tokens 256 < prompt.txt
//
// Point ANTHROPIC_API_BASE at the mock (go run ./mock/anthropic) to try it
// without credentials. See .env.example for all configuration variables.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nulpointcorp/anthropic-go/internal/cli"
)

// version is overridden at build time via -ldflags="-X main.version=x.y.z".
var version = "0.1.0"

func main() {
	// Cancel in-flight calls and streams on SIGINT / SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCmd(version).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
