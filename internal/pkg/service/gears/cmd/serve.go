package cmd

import (
	"github.com/spf13/cobra"

	"github.com/keboola/shard-requirements/internal/pkg/telemetry/metric/prometheus"
)

func (r *root) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the node with the replication and the metrics endpoint.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := r.start(cmd, nil)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if listen := s.Config().Metrics.Listen; listen != "" {
				if _, err := prometheus.ServeMetrics(ctx, ServiceName, listen, s.MetricsRegistry(), s.Logger(), s.Process()); err != nil {
					s.Process().Shutdown(ctx, err)
				}
			}

			if addr := s.node.ReceiverAddr(); addr != "" {
				s.Logger().Infof(ctx, `accepting replicated requirements on "%s"`, addr)
			}

			// Wait for the service shutdown.
			s.Process().WaitForShutdown()
			return nil
		},
	}
}
