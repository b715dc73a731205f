// Package main is the entry point for the codecconf application.
package main

import (
	"os"

	"github.com/jmylchreest/codecconf/cmd/codecconf/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
