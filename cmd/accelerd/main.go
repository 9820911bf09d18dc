// Package main is the entry point for the accelerd CLI.
package main

import (
	"os"

	"github.com/msmaccel/accelerd/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
