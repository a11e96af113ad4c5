package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(rt *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serves GET /parse, GET /health, POST /cache/clear and GET /metrics until
interrupted. Chrome is launched on the first parse request.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt.logger.Info("starting payparse",
				zap.Int("port", rt.cfg.Server.Port),
				zap.String("ratelimit_backend", rt.cfg.RateLimit.Backend),
				zap.String("snapshot_backend", rt.cfg.Snapshot.Backend),
			)
			if err := rt.svc.Run(cmd.Context()); err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			rt.logger.Info("shutdown complete")
			return nil
		},
	}
}
