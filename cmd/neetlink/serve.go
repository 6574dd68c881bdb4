package main

import (
	"context"
	"errors"

	"neetlink/internal/browser"
	"neetlink/internal/companion"
	"neetlink/internal/mcp"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newServeMCPCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve-mcp",
		Short: "Run the companion and expose it as an MCP server (stdio or SSE)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withCompanion(cmd.Context(), func(ctx context.Context, c *companion.Companion, _ *browser.SessionManager) error {
				server, err := mcp.NewServer(a.logger, a.cfg, c.MCPDeps())
				if err != nil {
					return err
				}
				return serveMCP(ctx, a.logger, a.cfg.MCP.SSEPort, c, server)
			})
		},
	}
	cmd.Flags().Int("sse-port", 0, "serve MCP over SSE on this port instead of stdio")
	_ = a.v.BindPFlag("mcp.sse_port", cmd.Flags().Lookup("sse-port"))
	return cmd
}

// serveMCP runs the companion next to the MCP transport. The companion stops
// when the transport ends, for example on stdin EOF.
func serveMCP(ctx context.Context, logger *zap.Logger, ssePort int, c *companion.Companion, server *mcp.Server) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.Run(gctx)
	})
	g.Go(func() error {
		defer cancel()
		var err error
		if ssePort > 0 {
			logger.Info("Starting MCP SSE server", zap.Int("port", ssePort))
			err = server.StartSSE(gctx, ssePort)
		} else {
			logger.Info("Starting MCP stdio server")
			err = server.Start(gctx)
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	return g.Wait()
}
