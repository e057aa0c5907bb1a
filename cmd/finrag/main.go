// Package main provides the entry point for the finrag CLI.
package main

import (
	"os"

	"github.com/raphaelgruber/finrag-go/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
