package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cadmalab/flowstore/internal/docval"
)

func newSnapshotCommand(opts *RootOptions, v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:           "snapshot <flow-id>",
		Short:         "Capture the flow's current state as a snapshot",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(opts, cmd)

			svc, closer, err := openService(opts, v, cmd)
			if err != nil {
				return failWith(f, err)
			}
			defer closer()

			id, err := svc.Snapshot(cmd.Context(), args[0])
			if err != nil {
				return failWith(f, err)
			}
			return f.Success(id)
		},
	}
}

func newRehydrateCommand(opts *RootOptions, v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:           "rehydrate <flow-id>",
		Short:         "Reconstruct and print the flow's state",
		Long: `Fold the flow's record log into its current state. When a snapshot
exists, only the records past it are replayed; the output is identical
either way.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(opts, cmd)

			svc, closer, err := openService(opts, v, cmd)
			if err != nil {
				return failWith(f, err)
			}
			defer closer()

			state, cursor, err := svc.Rehydrate(cmd.Context(), args[0])
			if err != nil {
				return failWith(f, err)
			}

			if f.Format == "json" {
				return f.Success(map[string]any{
					"cursor": cursor,
					"state":  state,
				})
			}
			encoded, err := docval.MarshalCanonical(state)
			if err != nil {
				return failWith(f, err)
			}
			return f.Success(string(encoded))
		},
	}
}
