package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/nyar-lang/nyarvm/vm"
)

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "Execute a demo program to completion and print its terminal value",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "demo",
			Usage: "primitive-round-trip | conditional | coroutine-generator | effect-resume",
			Value: "primitive-round-trip",
		},
	},
	Action: func(ctx context.Context, cmd *cli.Command) error {
		program, err := demoByName(cmd.String("demo"))
		if err != nil {
			return err
		}
		machine := vm.New()
		result, err := machine.Execute(program)
		if err != nil {
			return fmt.Errorf("execute: %w", err)
		}
		fmt.Println(formatValue(machine, result))
		return nil
	},
}

func demoByName(name string) (vm.Program, error) {
	switch name {
	case "primitive-round-trip":
		return demoPrimitiveRoundTrip(), nil
	case "conditional":
		return demoConditional(true), nil
	case "conditional-false":
		return demoConditional(false), nil
	case "coroutine-generator":
		return demoCoroutineGenerator(), nil
	case "effect-resume":
		return demoEffectResume(), nil
	default:
		return vm.Program{}, fmt.Errorf("unknown demo %q", name)
	}
}
