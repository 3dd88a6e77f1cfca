// Command benchsync runs and inspects an offline-first bench replica.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/benchsync/internal/cli"
)

func main() {
	root := cli.NewRootCommand()
	if err := root.Execute(); err != nil {
		format, _ := root.PersistentFlags().GetString("format")
		out := &cli.OutputFormatter{Format: format, Writer: os.Stderr}
		if format == "json" {
			out.Writer = os.Stdout
		}
		if reportErr := out.Error(cli.ErrorCode(err), err.Error(), nil); reportErr != nil {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
