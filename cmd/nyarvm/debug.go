package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v3"

	"github.com/nyar-lang/nyarvm/vm"
)

var debugCommand = &cli.Command{
	Name:  "debug",
	Usage: "Interactive console: run a demo, inspect heap stats, force a collection",
	Action: func(ctx context.Context, cmd *cli.Command) error {
		return runDebugConsole()
	},
}

// runDebugConsole is a thin REPL over the VM's exported surface (no
// opcode-level single-stepping is exposed — see DESIGN.md): each
// command either drives one demo program to completion or inspects the
// heap between runs. It falls back to reading commands from stdin
// without the readline prompt/history machinery when stdin isn't a
// terminal, matching the teacher's own interactive-vs-piped split in
// cmd/hey/main.go (`runInteractiveShell` vs. reading stdin directly).
func runDebugConsole() error {
	machine := vm.New()

	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return runDebugBatch(machine, os.Stdin)
	}

	rl, err := readline.New("nyarvm> ")
	if err != nil {
		return fmt.Errorf("readline: %w", err)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt || err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if shouldQuit := dispatchDebugCommand(machine, os.Stdout, line); shouldQuit {
			return nil
		}
	}
}

func runDebugBatch(machine *vm.VM, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if dispatchDebugCommand(machine, os.Stdout, scanner.Text()) {
			return nil
		}
	}
	return scanner.Err()
}

// dispatchDebugCommand executes one console command; it reports
// whether the console should exit.
func dispatchDebugCommand(machine *vm.VM, out io.Writer, line string) (quit bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	switch fields[0] {
	case "quit", "exit":
		return true
	case "heap":
		fmt.Fprintf(out, "%d cells live\n", machine.Heap().Len())
	case "collect":
		stats := machine.Collect()
		fmt.Fprintln(out, stats.String())
	case "run":
		if len(fields) < 2 {
			fmt.Fprintln(out, "usage: run <demo-name>")
			return false
		}
		program, err := demoByName(fields[1])
		if err != nil {
			fmt.Fprintln(out, err)
			return false
		}
		result, err := machine.Execute(program)
		if err != nil {
			fmt.Fprintln(out, "error:", err)
			return false
		}
		fmt.Fprintln(out, formatValue(machine, result))
	case "globals":
		if len(fields) < 2 {
			fmt.Fprintln(out, "usage: globals <name>")
			return false
		}
		v, err := machine.GetGlobal(fields[1])
		if err != nil {
			fmt.Fprintln(out, "error:", err)
			return false
		}
		fmt.Fprintln(out, formatValue(machine, v))
	default:
		fmt.Fprintf(out, "unknown command %q (try: run <demo>, heap, collect, globals <name>, quit)\n", fields[0])
	}
	return false
}
