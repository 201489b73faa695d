// Command blade is the terminal entry point for the agent engine. The
// interactive UI lives elsewhere; this binary wires the engine together and
// drives it headless.
package main

import (
	"fmt"
	"os"

	"github.com/bladecode/blade/cmd/blade/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
