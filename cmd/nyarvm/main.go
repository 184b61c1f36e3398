// Command nyarvm is a thin embedder demo for the Nyar VM core: it
// never parses source text, only assembles opcodes.Instruction
// sequences in Go and drives them through vm.VM — the same way a real
// front end would hand the core a prepared (Instructions, Constants)
// program, consistent with spec.md §1's exclusion of parsing and
// compilation from the core.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	app := &cli.Command{
		Name:  "nyarvm",
		Usage: "Drive the Nyar execution core against hand-assembled demo programs",
		Commands: []*cli.Command{
			runCommand,
			debugCommand,
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "nyarvm:", err)
		os.Exit(1)
	}
}
