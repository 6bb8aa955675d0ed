// Package main is the entry point for the repovet CLI.
package main

import (
	"fmt"
	"os"

	"github.com/repovet/repovet/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.ExitCodeOf(err))
	}
}
