package main

import (
	"github.com/jgiquality/qualer-harvester/cmd"
)

// main is the entry point for the qualer-harvester application.
func main() {
	// Execute the root command defined in the cmd package.
	// This handles all command-line parsing, configuration, and execution.
	cmd.Execute()
}
