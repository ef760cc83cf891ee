package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/viwo/viwo/compiler"
	"github.com/viwo/viwo/manifest"
	"github.com/viwo/viwo/syntax"
)

// ScriptExt is the extension of script source files.
const ScriptExt = ".vs"

// aotCommand handles `viwo aot`.
func aotCommand(m *manifest.Manifest, args []string) error {
	fs := flag.NewFlagSet("aot", flag.ExitOnError)
	output := fs.String("o", "", "Output file, or - for stdout (default [aot] output in viwo.toml)")
	pkg := fs.String("pkg", "", "Go package name (default [aot] package in viwo.toml)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: viwo aot [options] [files or directories...]\n\n")
		fmt.Fprintf(os.Stderr, "With no paths, the [source] dirs from viwo.toml are used.\n\n")
		fs.PrintDefaults()
	}
	fs.Parse(args)

	paths := fs.Args()
	if len(paths) == 0 {
		paths = m.SourceDirPaths()
	}
	files, err := collectScripts(paths)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no %s files found", ScriptExt)
	}

	sources, err := loadSources(files)
	if err != nil {
		return err
	}

	pkgName := *pkg
	if pkgName == "" {
		pkgName = m.AOT.Package
	}
	out, err := compiler.NewGoGen().GenerateFile(pkgName, sources)
	if err != nil {
		return err
	}

	dest := *output
	if dest == "" {
		dest = m.AOT.Output
	}
	if dest == "-" {
		_, err := os.Stdout.Write(out)
		return err
	}
	if err := os.WriteFile(dest, out, 0644); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "wrote %d programs to %s\n", len(sources), dest)
	return nil
}

// collectScripts expands directories into the script files under them.
// The result is sorted so generated output is stable.
func collectScripts(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.HasSuffix(path, ScriptExt) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(files)
	return files, nil
}

// loadSources parses each file into a named program.
func loadSources(files []string) ([]compiler.Source, error) {
	sources := make([]compiler.Source, 0, len(files))
	for _, f := range files {
		src, err := os.ReadFile(f)
		if err != nil {
			return nil, err
		}
		node, err := syntax.ParseProgram(string(src))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f, err)
		}
		sources = append(sources, compiler.Source{
			Name: strings.TrimSuffix(filepath.Base(f), ScriptExt),
			Node: node,
		})
	}
	return sources, nil
}
