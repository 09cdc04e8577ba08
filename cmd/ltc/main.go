// Command ltc drives the lazy tensor backend and its eager fallback.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/ltc/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
