// Command avcs keeps a JSON document as a branchable, mergeable history of
// actions.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/avcs/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "avcs:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
