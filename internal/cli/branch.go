package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newBranchCommand(opts *RootOptions, v *viper.Viper) *cobra.Command {
	var name, status, metadata string

	cmd := &cobra.Command{
		Use:           "branch <parent-flow-id> <parent-cursor>",
		Short:         "Fork a new flow from a parent's history prefix",
		Long: `Fork a new flow carrying the parent's records up to and including
parent-cursor. The branch gets fresh record ids and continues
independently; appends to either side never affect the other.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(opts, cmd)

			cursor, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return failWith(f, fmt.Errorf("parse parent cursor: %w", err))
			}
			meta, err := parseDoc(metadata)
			if err != nil {
				return failWith(f, err)
			}

			svc, closer, err := openService(opts, v, cmd)
			if err != nil {
				return failWith(f, err)
			}
			defer closer()

			id, err := svc.Branch(cmd.Context(), args[0], name, status, cursor, meta)
			if err != nil {
				return failWith(f, err)
			}
			return f.Success(id)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "branch name (default: inherit)")
	cmd.Flags().StringVar(&status, "status", "", "branch status (default: inherit)")
	cmd.Flags().StringVar(&metadata, "metadata", "", "branch metadata as a JSON object (default: inherit)")
	return cmd
}

func newPruneCommand(opts *RootOptions, v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:           "prune <flow-id> <from-cursor>",
		Short:         "Truncate a flow's history at a cursor",
		Long: `Remove the record at from-cursor and everything after it, resetting
the flow's cursor. Branches forked at a pruned position are deleted;
snapshots past the new tip are removed.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(opts, cmd)

			cursor, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return failWith(f, fmt.Errorf("parse cursor: %w", err))
			}

			svc, closer, err := openService(opts, v, cmd)
			if err != nil {
				return failWith(f, err)
			}
			defer closer()

			if err := svc.Prune(cmd.Context(), args[0], cursor); err != nil {
				return failWith(f, err)
			}
			return f.Success(fmt.Sprintf("pruned %s from cursor %d", args[0], cursor))
		},
	}
}
