package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"goa.design/clue/log"

	"github.com/DevRickLin/feishu-nudge/internal/mcp"
)

const defaultAPIURL = "http://127.0.0.1:8787"

func newMCPCmd(opts *rootOptions) *cobra.Command {
	var apiURL string
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the nudge tools over MCP stdio, proxying to a running serve",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// stdout carries the protocol
			ctx = log.Context(ctx, log.WithFormat(log.FormatJSON), log.WithOutput(os.Stderr))
			if opts.debug {
				ctx = log.Context(ctx, log.WithDebug())
			}
			log.Info(ctx, log.KV{K: "component", V: "mcp"}, log.KV{K: "msg", V: "starting"}, log.KV{K: "api", V: apiURL})

			return mcp.NewServer(mcp.NewClient(apiURL), version).Run(ctx)
		},
	}
	cmd.Flags().StringVar(&apiURL, "api-url", envOrDefault("NUDGE_API_URL", defaultAPIURL), "base URL of the nudge HTTP API")
	return cmd
}
