// Command ember is the CLI front end: run a script file, or start a
// line-edited REPL when no path is given. It never touches VM internals
// directly -- every path goes through vm.VM's exported Compile/Run/Interpret
// methods.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/peterh/liner"
	"gopkg.in/urfave/cli.v1"

	"github.com/kristofer/ember/pkg/bytecode"
	"github.com/kristofer/ember/pkg/disasm"
	"github.com/kristofer/ember/pkg/interop"
	"github.com/kristofer/ember/pkg/vm"
)

const version = "0.1.0"

// Exit codes 
const (
	exitOK           = 0
	exitUsageError   = 64
	exitCompileError = 65
	exitRuntimeError = 70
	exitIOError      = 74
)

func main() {
	app := cli.NewApp()
	app.Name = "ember"
	app.Usage = "run or explore ember scripts"
	app.Version = version
	app.ArgsUsage = "[script]"
	app.Flags = []cli.Flag{
		cli.BoolFlag{Name: "verbose, v", Usage: "accepted; has no effect"},
		cli.BoolFlag{Name: "dump-bytecode", Usage: "disassemble compiled bytecode before running it"},
		cli.BoolFlag{Name: "trace", Usage: "trace every executed instruction"},
		cli.BoolFlag{Name: "log-gc", Usage: "log garbage collection activity"},
		cli.StringFlag{Name: "bridge", Usage: "load a host JavaScript file and bridge it to the running script via js(name, ...)"},
	}
	app.Action = run
	cli.VersionFlag = cli.BoolFlag{Name: "version, V", Usage: "print the version"}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUsageError)
	}
}

func run(ctx *cli.Context) error {
	opts := []vm.Option{
		vm.WithTrace(ctx.Bool("trace")),
		vm.WithLogGC(ctx.Bool("log-gc")),
		vm.WithStdin(os.Stdin),
	}

	bridgePath := ctx.String("bridge")

	if ctx.NArg() == 0 {
		runREPL(opts, bridgePath)
		return nil
	}
	if ctx.NArg() > 1 {
		cli.ShowAppHelp(ctx)
		os.Exit(exitUsageError)
	}

	os.Exit(runFile(ctx.Args().First(), ctx.Bool("dump-bytecode"), opts, bridgePath))
	return nil
}

func runFile(path string, dumpBytecode bool, opts []vm.Option, bridgePath string) int {
	source, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ember: %v\n", err)
		return exitIOError
	}

	machine := vm.New(os.Stdout, opts...)
	if bridgePath != "" {
		if err := wireBridge(machine, bridgePath); err != nil {
			fmt.Fprintf(os.Stderr, "ember: %v\n", err)
			return exitIOError
		}
	}

	fn, ok := machine.Compile(string(source), path)
	if !ok {
		return exitCompileError
	}

	if dumpBytecode {
		disasm.Function(os.Stdout, fn)
	}

	if err := machine.Run(fn); err != nil {
		reportRuntimeError(err)
		return exitRuntimeError
	}
	return exitOK
}

// wireBridge loads the JS file at path into a goja runtime and exposes it
// to the running script two ways: Ember code calls js("name", ...) to
// invoke a top-level JS function, and the loaded JS can call back into
// Ember's print builtin as emberPrint(...).
func wireBridge(machine *vm.VM, path string) error {
	source, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading bridge script: %w", err)
	}

	bridge := interop.NewGojaBridge(machine)
	if err := bridge.RunScript(path, string(source)); err != nil {
		return err
	}

	if err := bridge.Expose("emberPrint", func(_ bytecode.Interpreter, args []bytecode.Value) (bytecode.Value, error) {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = a.String()
		}
		fmt.Fprintln(os.Stdout, strings.Join(parts, "\t"))
		return bytecode.Nil, nil
	}); err != nil {
		return fmt.Errorf("exposing emberPrint to bridge: %w", err)
	}

	machine.DefineNative("js", func(_ bytecode.Interpreter, args []bytecode.Value) (bytecode.Value, error) {
		if len(args) == 0 || !args[0].IsString() {
			return bytecode.Nil, fmt.Errorf("js: expected function name as first argument")
		}
		return bridge.CallJS(args[0].AsString(), args[1:]...)
	})
	return nil
}

func reportRuntimeError(err error) {
	fmt.Fprintf(os.Stderr, "%s\n", err)
}

// runREPL reads one line at a time and feeds it straight to VM.Interpret.
// A single VM instance is kept across lines so globals, classes, and
// closures defined on one line stay visible to the next.
func runREPL(opts []vm.Option, bridgePath string) {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	machine := vm.New(os.Stdout, opts...)
	if bridgePath != "" {
		if err := wireBridge(machine, bridgePath); err != nil {
			fmt.Fprintf(os.Stderr, "ember: %v\n", err)
			return
		}
	}
	fmt.Printf("ember %s\n", version)

	for {
		input, err := line.Prompt("> ")
		if err == liner.ErrPromptAborted || err == io.EOF {
			fmt.Println()
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "ember: %v\n", err)
			return
		}

		trimmed := strings.TrimSpace(input)
		if trimmed == "" {
			continue
		}
		if trimmed == "exit" {
			return
		}
		line.AppendHistory(input)

		if err := machine.Interpret(input, "<repl>"); err != nil {
			fmt.Fprintf(os.Stderr, "%s\n", err)
		}
	}
}
