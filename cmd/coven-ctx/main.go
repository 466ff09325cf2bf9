// ABOUTME: Entry point for coven-ctx, the command line client for coven-context
// ABOUTME: Exit codes: 1 failure, 2 usage, 3 not found, 4 rejected or conflicting request

package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"

	"github.com/2389/coven-context/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("Error:"), err)
		os.Exit(cli.GetExitCode(err))
	}
}
