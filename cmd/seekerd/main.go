// Package main is the entry point for the seekerd CLI.
package main

import (
	"os"

	"github.com/seekerhq/seeker/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
