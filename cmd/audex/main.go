// Package main is the entry point for the audex application.
package main

import (
	"os"

	"github.com/jmylchreest/audex/cmd/audex/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
