// Package main is the entry point for the consolectl CLI.
package main

import (
	"os"

	"github.com/capitalize-ai/agent-console/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
