package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nulpointcorp/anthropic-go/pkg/client"
	"github.com/nulpointcorp/anthropic-go/pkg/messages"
)

func newStreamCmd(rt *runtime) *cobra.Command {
	opts := &requestOptions{}
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream a response, printing text as it arrives",
		RunE: func(cmd *cobra.Command, args []string) error {
			return execute(cmd, rt, opts, func(ctx context.Context, c *client.Client, req messages.Request) error {
				return streamTo(ctx, cmd.OutOrStdout(), c, req)
			})
		},
	}
	opts.register(cmd)
	return cmd
}

// streamTo prints text deltas as they arrive, then the folded tool calls
// and usage of the finished message.
func streamTo(ctx context.Context, w io.Writer, c *client.Client, req messages.Request) error {
	ms, err := c.StreamMessage(ctx, req)
	if err != nil {
		return err
	}
	defer ms.Close()

	for {
		ev, err := ms.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if d, ok := ev.(messages.ContentBlockDeltaEvent); ok {
			if td, ok := d.Delta.(messages.TextDelta); ok {
				if _, err := io.WriteString(w, td.Text); err != nil {
					return err
				}
			}
		}
	}
	if _, err := fmt.Fprintln(w); err != nil {
		return err
	}

	resp, err := ms.Response()
	if err != nil {
		return err
	}
	return printSummary(w, resp)
}
