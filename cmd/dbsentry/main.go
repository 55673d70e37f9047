// Package main is the entry point for the dbsentry CLI.
package main

import (
	"os"

	"github.com/watzon/dbsentry/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
