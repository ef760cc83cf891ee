// viwo CLI - runs, formats and compiles ViwoScript programs
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/tliron/commonlog"

	"github.com/viwo/viwo/engine"
	"github.com/viwo/viwo/manifest"
	"github.com/viwo/viwo/server"
	"github.com/viwo/viwo/typegen"
	"github.com/viwo/viwo/vm"

	_ "github.com/tliron/commonlog/simple"
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: viwo [options] <command> [arguments]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  run <file.vs> [args...]   Run a script and print its result as JSON\n")
	fmt.Fprintf(os.Stderr, "  typedefs                  Print type declarations for every opcode\n")
	fmt.Fprintf(os.Stderr, "  fmt [-w] <file.vs>...     Format scripts\n")
	fmt.Fprintf(os.Stderr, "  aot [-o out] [paths...]   Emit scripts as a Go source file\n")
	fmt.Fprintf(os.Stderr, "  lsp                       Start the language server on stdio\n")
	fmt.Fprintf(os.Stderr, "\nOptions:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nConfiguration is read from the nearest viwo.toml.\n")
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  viwo run hello.vs                 # Run with defaults\n")
	fmt.Fprintf(os.Stderr, "  viwo run -mode compile -this 1 look.vs\n")
	fmt.Fprintf(os.Stderr, "  viwo typedefs > viwo.d.ts\n")
	fmt.Fprintf(os.Stderr, "  viwo aot -o verbs_gen.go ./verbs\n")
}

func main() {
	verbose := flag.Int("v", -1, "Log verbosity (0-4); defaults to [log] verbosity in viwo.toml")
	flag.Usage = usage
	flag.Parse()

	m, err := manifest.FindAndLoad(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading manifest: %v\n", err)
		os.Exit(1)
	}
	if m == nil {
		m = manifest.Default()
	}

	verbosity := m.Log.Verbosity
	if *verbose >= 0 {
		verbosity = *verbose
	}
	logPath := m.LogFilePath()
	commonlog.Configure(verbosity, nilIfEmpty(logPath))

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "run":
		err = runCommand(m, rest)
	case "typedefs":
		err = typedefsCommand(m)
	case "fmt":
		err = fmtCommand(rest)
	case "aot":
		err = aotCommand(m, rest)
	case "lsp":
		err = lspCommand(m)
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", cmd)
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// runCommand handles `viwo run`.
func runCommand(m *manifest.Manifest, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	mode := fs.String("mode", "", "Execution mode: interpret or compile (overrides viwo.toml)")
	gas := fs.Int64("gas", 0, "Gas budget (overrides viwo.toml)")
	this := fs.Int64("this", 0, "Entity id bound to (this)")
	caller := fs.Int64("caller", 0, "Entity id bound to (caller)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: viwo run [options] <file.vs> [args...]\n\n")
		fmt.Fprintf(os.Stderr, "Arguments are parsed as JSON when possible and passed as strings otherwise.\n\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)
	if fs.NArg() < 1 {
		fs.Usage()
		os.Exit(2)
	}

	src, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	if *mode != "" {
		m.Engine.Mode = *mode
	}

	e, err := engine.Open(m)
	if err != nil {
		return err
	}
	defer e.Close()

	var sent []string
	res, err := e.RunSource(context.Background(), string(src), engine.Invocation{
		This:   *this,
		Caller: *caller,
		Args:   scriptArgs(fs.Args()[1:]),
		Gas:    *gas,
		Send: func(typ string, payload any) {
			data, _ := vm.MarshalJSON(payload)
			sent = append(sent, fmt.Sprintf("%s %s", typ, data))
		},
	})
	for _, line := range sent {
		fmt.Fprintf(os.Stderr, "send: %s\n", line)
	}
	if err != nil {
		return describe(err)
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}

	out, err := renderResult(res.Value, isatty.IsTerminal(os.Stdout.Fd()))
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

// scriptArgs turns command-line arguments into script values.
func scriptArgs(raw []string) []any {
	out := make([]any, len(raw))
	for i, a := range raw {
		if v, err := vm.UnmarshalJSON([]byte(a)); err == nil {
			out[i] = v
		} else {
			out[i] = a
		}
	}
	return out
}

// renderResult prints a script value as JSON, indented for terminals.
func renderResult(v any, pretty bool) (string, error) {
	data, err := vm.MarshalJSON(v)
	if err != nil {
		return "", err
	}
	if !pretty {
		return string(data), nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return string(data), nil
	}
	return buf.String(), nil
}

// describe renders a script error with its opcode and stack.
func describe(err error) error {
	var se *vm.ScriptError
	if !errors.As(err, &se) {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", se.Kind, se.Message)
	if se.Op != "" {
		fmt.Fprintf(&b, "\n  in %s", se.Op)
		for _, a := range se.Args {
			if data, jerr := vm.MarshalJSON(a); jerr == nil {
				fmt.Fprintf(&b, " %s", data)
			}
		}
	}
	for _, f := range se.StackTrace {
		fmt.Fprintf(&b, "\n  at %s", f.Name)
	}
	return fmt.Errorf("%s", b.String())
}

// typedefsCommand handles `viwo typedefs`.
func typedefsCommand(m *manifest.Manifest) error {
	e, err := engine.New(m, nil)
	if err != nil {
		return err
	}
	fmt.Print(typegen.GenerateTypeDefinitions(e.Typedefs()))
	return nil
}

// lspCommand handles `viwo lsp`.
func lspCommand(m *manifest.Manifest) error {
	e, err := engine.Open(m)
	if err != nil {
		return err
	}
	defer e.Close()
	return server.NewLSP(e).Run()
}
