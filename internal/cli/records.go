package cli

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cadmalab/flowstore/internal/engine"
)

func newAppendCommand(opts *RootOptions, v *viper.Viper) *cobra.Command {
	var metadata, commandID string

	cmd := &cobra.Command{
		Use:           "append <flow-id> <key> <payload-json>",
		Short:         "Append a record at the flow's tip",
		Long: `Append one record at the flow's current cursor. Lost optimistic
concurrency races are retried automatically; pass --command-id to make
the append idempotent across client retries.`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(opts, cmd)

			payload, err := parseDoc(args[2])
			if err != nil {
				return failWith(f, err)
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

			res, err := svc.Append(cmd.Context(), args[0], engine.RecordInput{
				Key:       args[1],
				Payload:   payload,
				Metadata:  meta,
				CommandID: commandID,
			})
			if err != nil {
				return failWith(f, err)
			}
			if res.Conflict {
				f.Error("CONFLICT", "append conflicted after retries")
				return &ExitError{Code: ExitFailure, Message: "append conflicted"}
			}
			return f.Success(map[string]any{"new_version": res.NewVersion})
		},
	}

	cmd.Flags().StringVar(&metadata, "metadata", "", "record metadata as a JSON object")
	cmd.Flags().StringVar(&commandID, "command-id", "", "idempotency token")
	return cmd
}

func newReadCommand(opts *RootOptions, v *viper.Viper) *cobra.Command {
	var fromCursor int64

	cmd := &cobra.Command{
		Use:           "read <flow-id>",
		Short:         "Read a flow's records in cursor order",
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

			records, err := svc.Read(cmd.Context(), args[0], fromCursor)
			if err != nil {
				return failWith(f, err)
			}

			if f.Format == "json" {
				views := make([]recordView, len(records))
				for i, r := range records {
					views[i] = viewRecord(r)
				}
				return f.Success(views)
			}
			return f.Success(renderRecords(records))
		},
	}

	cmd.Flags().Int64Var(&fromCursor, "from", -1, "read records with cursor strictly greater than this")
	return cmd
}
