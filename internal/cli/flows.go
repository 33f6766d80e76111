package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cadmalab/flowstore/internal/flowdef"
)

func newCreateCommand(opts *RootOptions, v *viper.Viper) *cobra.Command {
	var name, status, metadata, defPath string

	cmd := &cobra.Command{
		Use:           "create",
		Short:         "Create a new flow",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(opts, cmd)

			if defPath != "" {
				src, err := os.ReadFile(defPath)
				if err != nil {
					return failWith(f, err)
				}
				def, err := flowdef.CompileString(string(src))
				if err != nil {
					return failWith(f, err)
				}
				if verrs := flowdef.Validate(def); len(verrs) > 0 {
					f.Error(verrs[0].Code, verrs[0].Message)
					return &ExitError{Code: ExitFailure, Message: "invalid flow definition"}
				}
				if name == "" {
					name = def.Name
				}
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

			id, err := svc.StartFlow(cmd.Context(), name, status, meta)
			if err != nil {
				return failWith(f, err)
			}
			f.VerboseLog("created flow %s", id)
			return f.Success(id)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "flow name")
	cmd.Flags().StringVar(&status, "status", "queued", "initial status")
	cmd.Flags().StringVar(&metadata, "metadata", "", "metadata as a JSON object")
	cmd.Flags().StringVar(&defPath, "def", "", "CUE flow definition to validate; supplies the name when --name is unset")
	return cmd
}

func newMetaCommand(opts *RootOptions, v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:           "meta <flow-id>",
		Short:         "Show a flow's metadata",
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

			meta, err := svc.Meta(cmd.Context(), args[0])
			if err != nil {
				return failWith(f, err)
			}
			return f.Success(viewMeta(meta))
		},
	}
}

func newStatusCommand(opts *RootOptions, v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:           "status <flow-id> <status>",
		Short:         "Set a flow's status label",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(opts, cmd)

			svc, closer, err := openService(opts, v, cmd)
			if err != nil {
				return failWith(f, err)
			}
			defer closer()

			meta, err := svc.SetStatus(cmd.Context(), args[0], args[1])
			if err != nil {
				return failWith(f, err)
			}
			return f.Success(viewMeta(meta))
		},
	}
}

func newDeleteCommand(opts *RootOptions, v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:           "delete <flow-id>",
		Short:         "Delete a flow, orphaning its branches",
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

			if err := svc.DeleteFlow(cmd.Context(), args[0]); err != nil {
				return failWith(f, err)
			}
			return f.Success(fmt.Sprintf("deleted %s", args[0]))
		},
	}
}
