// Package cmd provides commands of the "reqnode" binary.
//
// All commands share flags generated from the node configuration, see the "config" package.
// Values can be also set by ENVs with the "REQNODE_" prefix, or by YAML files, see the "--config-file" flag.
package cmd

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/keboola/shard-requirements/internal/pkg/log"
	"github.com/keboola/shard-requirements/internal/pkg/service/common/configmap"
	"github.com/keboola/shard-requirements/internal/pkg/service/common/servicectx"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/config"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/dependencies"
	"github.com/keboola/shard-requirements/internal/pkg/service/gears/node"
)

const ServiceName = "reqnode"

// Envs returns value of an ENV, it is replaced in tests.
type Envs func(name string) (string, bool)

type root struct {
	stdout io.Writer
	stderr io.Writer
	envs   Envs
}

func NewRootCommand(stdout, stderr io.Writer, envs Envs) *cobra.Command {
	r := &root{stdout: stdout, stderr: stderr, envs: envs}

	cmd := &cobra.Command{
		Use:           ServiceName,
		Short:         "Shard requirements node.",
		Long:          "Installs, persists, replicates, exports and imports requirements of local shards.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	defaults := config.New()
	cmd.PersistentFlags().StringSlice(configmap.ConfigFileFlag, nil, "Path to a YAML config file, can be used multiple times.")
	configmap.MustGenerateFlags(cmd.PersistentFlags(), &defaults)

	cmd.AddCommand(
		r.serveCommand(),
		r.installCommand(),
		r.dumpCommand(),
		r.exportCommand(),
		r.importCommand(),
		r.snapshotCommand(),
	)
	return cmd
}

// scope of one command run.
type scope struct {
	dependencies.ServiceScope
	node *node.Node
}

// start binds the configuration and opens the node.
// The node is closed on the process shutdown.
func (r *root) start(cmd *cobra.Command, modify func(cfg *config.Config)) (*scope, error) {
	ctx := cmd.Context()

	cfg := config.New()
	err := configmap.Bind(configmap.BindSpec{Flags: cmd.Flags(), EnvPrefix: config.EnvPrefix, Envs: r.envs}, &cfg)
	if err != nil {
		return nil, err
	}
	if modify != nil {
		modify(&cfg)
	}

	logFormat, err := log.NewLogFormat(cfg.LogFormat)
	if err != nil {
		return nil, err
	}
	logger := log.NewServiceLogger(r.stderr, logFormat, cfg.DebugLog).WithComponent(ServiceName)

	proc, err := servicectx.New(ctx, logger, servicectx.WithUniqueID(cfg.NodeID))
	if err != nil {
		return nil, err
	}

	d := dependencies.NewServiceScope(cfg, proc, logger)
	n, err := node.New(ctx, d)
	if err != nil {
		proc.Shutdown(ctx, err)
		proc.WaitForShutdown()
		return nil, err
	}

	proc.OnShutdown(func(ctx context.Context) {
		if err := n.Close(ctx); err != nil {
			logger.Errorf(ctx, `cannot close node: %s`, err)
		}
	})

	return &scope{ServiceScope: d, node: n}, nil
}

// stop triggers the shutdown of a short-lived command.
func (s *scope) stop(ctx context.Context) {
	s.Process().Shutdown(ctx, nil)
	s.Process().WaitForShutdown()
}

// local configuration of short-lived commands, the replication is not started.
func local(cfg *config.Config) {
	cfg.Replication.Listen = ""
	cfg.Replication.Replicas = nil
	cfg.Persistence.SnapshotInterval = 0
}
