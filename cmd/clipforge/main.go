// Package main is the entry point for the clipforge application.
package main

import (
	"os"

	"github.com/jmylchreest/clipforge/cmd/clipforge/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
