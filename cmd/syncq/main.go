// Package main is the syncq command line and sync agent.
//
// Usage:
//
//	go run ./cmd/syncq run --config configs/syncq.yaml
//	go run ./cmd/syncq queue list
package main

import (
	"fmt"
	"os"

	"github.com/guido-cesarano/syncq/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
