package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nulpointcorp/anthropic-go/pkg/client"
	"github.com/nulpointcorp/anthropic-go/pkg/messages"
)

func newMessagesCmd(rt *runtime) *cobra.Command {
	opts := &requestOptions{}
	cmd := &cobra.Command{
		Use:   "messages",
		Short: "Send one request and print the complete response",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, rt, opts, func(ctx context.Context, c *client.Client, req messages.Request) error {
				resp, err := c.Call(ctx, req)
				if err != nil {
					return err
				}
				return printResponse(cmd.OutOrStdout(), resp)
			})
		},
	}
	opts.register(cmd)
	return cmd
}

// printResponse writes the text of resp followed by its summary.
func printResponse(w io.Writer, resp messages.Response) error {
	msg := resp.Message()
	if text := msg.Text(); text != "" {
		if _, err := fmt.Fprintln(w, text); err != nil {
			return err
		}
	}
	return printSummary(w, resp)
}

// printSummary writes the tool calls and usage of resp.
func printSummary(w io.Writer, resp messages.Response) error {
	for _, tu := range resp.Message().ToolUses() {
		if _, err := fmt.Fprintf(w, "[tool_use %s %s] %s\n", tu.ID, tu.Name, tu.Input); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "-- stop_reason=%s input_tokens=%d output_tokens=%d\n",
		resp.StopReason, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	return err
}
