package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"

	"github.com/viwo/viwo/syntax"
)

// fmtCommand handles `viwo fmt`.
func fmtCommand(args []string) error {
	fs := flag.NewFlagSet("fmt", flag.ExitOnError)
	write := fs.Bool("w", false, "Write result to source file instead of stdout")
	check := fs.Bool("l", false, "List files whose formatting differs")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: viwo fmt [options] <file.vs>...\n\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)
	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(2)
	}

	for _, path := range fs.Args() {
		src, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out, err := formatSource(src)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		switch {
		case *check:
			if !bytes.Equal(src, out) {
				fmt.Println(path)
			}
		case *write:
			if bytes.Equal(src, out) {
				continue
			}
			if err := os.WriteFile(path, out, 0644); err != nil {
				return err
			}
		default:
			os.Stdout.Write(out)
		}
	}
	return nil
}

// formatSource reprints src in canonical layout.
func formatSource(src []byte) ([]byte, error) {
	nodes, err := syntax.Parse(string(src))
	if err != nil {
		return nil, err
	}
	return []byte(syntax.FormatProgram(nodes)), nil
}
