package cmd

import (
	"bufio"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

const (
	shardFlag  = "shard"
	outputFlag = "output"
)

func (r *root) installCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "install <requirement>...",
		Short: "Install requirements on all local shards.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := r.start(cmd, local)
			if err != nil {
				return err
			}
			defer s.stop(cmd.Context())

			key, err := s.node.InstallAll(cmd.Context(), args)
			if err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "installed %q on %d shards\n", key, len(s.node.ShardIDs()))
			return err
		},
	}
}

func (r *root) dumpCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print metadata of all requirements of the shard.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			shardID, err := cmd.Flags().GetInt(shardFlag)
			if err != nil {
				return err
			}

			s, err := r.start(cmd, local)
			if err != nil {
				return err
			}
			defer s.stop(cmd.Context())

			dump, err := s.node.DumpRequirements(cmd.Context(), shardID)
			if err != nil {
				return err
			}

			out := bufio.NewWriter(cmd.OutOrStdout())
			for _, metadata := range dump {
				if _, err := fmt.Fprintln(out, metadata.String()); err != nil {
					return err
				}
			}
			return out.Flush()
		},
	}
	cmd.Flags().Int(shardFlag, 0, "ID of the shard.")
	return cmd
}

func (r *root) exportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <name>",
		Short: "Export the requirement to a file.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := cmd.Flags().GetString(outputFlag)
			if err != nil {
				return err
			}

			s, err := r.start(cmd, local)
			if err != nil {
				return err
			}
			defer s.stop(cmd.Context())

			metadata, chunks, err := s.node.ExportRequirement(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			f, err := s.Fs().Create(path)
			if err != nil {
				return err
			}
			for _, chunk := range chunks {
				if _, err := f.Write(chunk); err != nil {
					_ = f.Close()
					return err
				}
			}
			if err := f.Close(); err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), metadata.String())
			return err
		},
	}
	cmd.Flags().StringP(outputFlag, "o", "requirement.bin", "Path to the output file.")
	return cmd
}

func (r *root) importCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import an exported requirement to all local shards.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := r.start(cmd, local)
			if err != nil {
				return err
			}
			defer s.stop(cmd.Context())

			data, err := afero.ReadFile(s.Fs(), args[0])
			if err != nil {
				return err
			}
			if err := s.node.ImportRequirement(cmd.Context(), data); err != nil {
				return err
			}

			_, err = fmt.Fprintf(cmd.OutOrStdout(), "imported %q\n", args[0])
			return err
		},
	}
}

func (r *root) snapshotCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Write snapshots of all local shards.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := r.start(cmd, local)
			if err != nil {
				return err
			}
			defer s.stop(cmd.Context())

			if err := s.node.Snapshot(cmd.Context()); err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), "snapshot written")
			return err
		},
	}
}
