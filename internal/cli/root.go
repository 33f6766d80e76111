// Package cli implements the flowstore command line interface.
//
// Configuration resolves in the usual precedence order: flags beat
// environment variables (FLOWSTORE_*), which beat the config file,
// which beats defaults.
package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// ConfigFile overrides the config search path.
	ConfigFile string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the flowstore CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "flowstore",
		Short: "Append-only workflow record store",
		Long: `flowstore stores workflow histories as append-only record logs with
optimistic concurrency, branching, and snapshot-bounded rehydration.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return initConfig(v, cmd, opts.ConfigFile)
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "config file (default is $HOME/.config/flowstore/config.yaml)")
	cmd.PersistentFlags().String("db", "flowstore.db", "path to the SQLite database")
	cmd.PersistentFlags().String("blobs", "", "blob directory for snapshot state (default: inline)")
	cmd.PersistentFlags().Int64("snapshot-every", 0, "automatic snapshot interval in records (0 disables)")

	cmd.AddCommand(newCreateCommand(opts, v))
	cmd.AddCommand(newMetaCommand(opts, v))
	cmd.AddCommand(newStatusCommand(opts, v))
	cmd.AddCommand(newDeleteCommand(opts, v))
	cmd.AddCommand(newAppendCommand(opts, v))
	cmd.AddCommand(newReadCommand(opts, v))
	cmd.AddCommand(newBranchCommand(opts, v))
	cmd.AddCommand(newPruneCommand(opts, v))
	cmd.AddCommand(newSnapshotCommand(opts, v))
	cmd.AddCommand(newRehydrateCommand(opts, v))
	cmd.AddCommand(newValidateCommand(opts))

	return cmd
}

// initConfig binds flags, environment, and the config file into the
// command's viper instance.
func initConfig(v *viper.Viper, cmd *cobra.Command, configFile string) error {
	if err := v.BindPFlag("db", cmd.Flags().Lookup("db")); err != nil {
		return err
	}
	if err := v.BindPFlag("blobs", cmd.Flags().Lookup("blobs")); err != nil {
		return err
	}
	if err := v.BindPFlag("snapshot_every", cmd.Flags().Lookup("snapshot-every")); err != nil {
		return err
	}

	v.SetEnvPrefix("FLOWSTORE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault("db", "flowstore.db")
	v.SetDefault("blobs", "")
	v.SetDefault("snapshot_every", 0)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		return nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME/.config/flowstore")

	// A missing default config file is fine; anything else is not.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
