// Package main provides canvasprobe, a command-line client for poking at a
// running collaboration server.
package main

import (
	"fmt"
	"os"

	"github.com/Prasannaverse13/ArtChainCollective/internal/probe"
)

func main() {
	if err := probe.App(os.Stdout).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "canvasprobe: %v\n", err)
		os.Exit(1)
	}
}
