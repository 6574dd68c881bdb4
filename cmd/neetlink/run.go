package main

import (
	"context"

	"neetlink/internal/browser"
	"neetlink/internal/companion"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Attach to Chrome and add the solution button to problem tabs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withCompanion(cmd.Context(), func(ctx context.Context, c *companion.Companion, sessions *browser.SessionManager) error {
				if url := a.cfg.Browser.StartURL; url != "" {
					if err := sessions.OpenTab(ctx, url); err != nil {
						a.logger.Warn("Opening start URL failed", zap.String("url", url), zap.Error(err))
					}
				}
				a.logger.Info("neetlink running", zap.String("control_url", sessions.ControlURL()))
				return c.Run(ctx)
			})
		},
	}
}
