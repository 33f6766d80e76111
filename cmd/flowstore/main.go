package main

import (
	"fmt"
	"os"

	"github.com/cadmalab/flowstore/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		// Commands render their own formatted output; this catches what
		// they could not, like flag parse errors. Stderr only, so JSON
		// output on stdout stays parseable.
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
