// Package main provides the entry point for the faber CLI.
package main

import (
	"os"

	"github.com/fractary/faber/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
