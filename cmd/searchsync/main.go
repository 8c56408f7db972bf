// Command searchsync keeps a search index in step with a social
// source-of-record store.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/searchsync/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err == nil {
		return
	}
	// Command errors were already written by the output formatter; flag
	// and argument errors from cobra were not.
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
