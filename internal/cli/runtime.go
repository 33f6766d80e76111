package cli

import (
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cadmalab/flowstore/internal/blobstore"
	"github.com/cadmalab/flowstore/internal/engine"
	"github.com/cadmalab/flowstore/internal/flow"
	"github.com/cadmalab/flowstore/internal/service"
	"github.com/cadmalab/flowstore/internal/store"
)

// newFormatter builds the output formatter for a command invocation.
func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// openService opens the configured database and assembles the service
// stack. The returned closer releases the database.
func openService(opts *RootOptions, v *viper.Viper, cmd *cobra.Command) (*service.Service, func() error, error) {
	st, err := store.Open(v.GetString("db"))
	if err != nil {
		return nil, nil, &ExitError{Code: ExitCommandError, Message: "open database", Err: err}
	}

	var blobs flow.BlobStore = blobstore.Inline{}
	if dir := v.GetString("blobs"); dir != "" {
		blobs, err = blobstore.NewDir(dir)
		if err != nil {
			st.Close()
			return nil, nil, &ExitError{Code: ExitCommandError, Message: "open blob directory", Err: err}
		}
	}

	eng := engine.New(st, blobs,
		engine.WithSnapshotPolicy(engine.SnapshotPolicy{EveryN: v.GetInt64("snapshot_every")}))

	log := logrus.New()
	log.SetOutput(cmd.ErrOrStderr())
	if opts.Verbose {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.WarnLevel)
	}

	svc := service.New(st, eng, service.WithLogger(log))
	return svc, st.Close, nil
}

// failWith renders a command error through the formatter and returns
// the matching ExitError. Repository error codes pass through to the
// output so scripts can branch on them.
func failWith(f *OutputFormatter, err error) error {
	var fe *flow.Error
	if errors.As(err, &fe) {
		f.Error(string(fe.Code), fe.Message)
		return &ExitError{Code: ExitFailure, Message: fe.Message, Err: err}
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		f.Error("COMMAND", exitErr.Message)
		return exitErr
	}
	f.Error("COMMAND", err.Error())
	return &ExitError{Code: ExitCommandError, Message: err.Error(), Err: err}
}
