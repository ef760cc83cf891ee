// Package manifest handles viwo.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the name of the project configuration file.
const FileName = "viwo.toml"

// Engine modes.
const (
	ModeInterpret = "interpret"
	ModeCompile   = "compile"
)

// MemoryStore selects a throwaway in-memory database.
const MemoryStore = ":memory:"

// Manifest represents a viwo.toml project configuration.
type Manifest struct {
	Project Project      `toml:"project"`
	Source  Source       `toml:"source"`
	Engine  EngineConfig `toml:"engine"`
	Store   StoreConfig  `toml:"store"`
	World   WorldConfig  `toml:"world"`
	Log     LogConfig    `toml:"log"`
	AOT     AOTConfig    `toml:"aot"`

	// Dir is the directory containing the viwo.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Source configures script file locations.
type Source struct {
	Dirs []string `toml:"dirs"`
}

// EngineConfig configures script execution.
type EngineConfig struct {
	Gas      int64    `toml:"gas"`
	Mode     string   `toml:"mode"`
	Disabled []string `toml:"disabled"`
}

// StoreConfig configures world persistence.
type StoreConfig struct {
	Path string `toml:"path"`
}

// WorldConfig configures world seeding.
type WorldConfig struct {
	Fixture string `toml:"fixture"`
}

// LogConfig configures commonlog.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// AOTConfig configures Go source generation.
type AOTConfig struct {
	Package string `toml:"package"`
	Output  string `toml:"output"`
}

// Default returns the configuration used when no viwo.toml exists.
func Default() *Manifest {
	m := &Manifest{}
	m.applyDefaults()
	if dir, err := os.Getwd(); err == nil {
		m.Dir = dir
	}
	return m
}

// Load parses a viwo.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a viwo.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

func (m *Manifest) applyDefaults() {
	if len(m.Source.Dirs) == 0 {
		m.Source.Dirs = []string{"scripts"}
	}
	if m.Engine.Gas == 0 {
		m.Engine.Gas = 1000
	}
	if m.Engine.Mode == "" {
		m.Engine.Mode = ModeInterpret
	}
	if m.Store.Path == "" {
		m.Store.Path = MemoryStore
	}
	if m.AOT.Package == "" {
		m.AOT.Package = "scripts"
	}
	if m.AOT.Output == "" {
		m.AOT.Output = "scripts_gen.go"
	}
}

// Validate reports settings no engine can run with.
func (m *Manifest) Validate() error {
	switch m.Engine.Mode {
	case ModeInterpret, ModeCompile:
	default:
		return fmt.Errorf("engine.mode must be %q or %q, got %q", ModeInterpret, ModeCompile, m.Engine.Mode)
	}
	if m.Engine.Gas < 0 {
		return fmt.Errorf("engine.gas must be positive, got %d", m.Engine.Gas)
	}
	return nil
}

// SourceDirPaths returns absolute paths for the configured source directories.
func (m *Manifest) SourceDirPaths() []string {
	var paths []string
	for _, d := range m.Source.Dirs {
		paths = append(paths, m.resolve(d))
	}
	return paths
}

// StorePath returns the database location, resolved against Dir.
func (m *Manifest) StorePath() string {
	if m.Store.Path == MemoryStore {
		return MemoryStore
	}
	return m.resolve(m.Store.Path)
}

// FixturePath returns the world fixture location, or "" if none is set.
func (m *Manifest) FixturePath() string {
	if m.World.Fixture == "" {
		return ""
	}
	return m.resolve(m.World.Fixture)
}

// LogFilePath returns the log file location, or "" for stderr.
func (m *Manifest) LogFilePath() string {
	if m.Log.File == "" {
		return ""
	}
	return m.resolve(m.Log.File)
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}
