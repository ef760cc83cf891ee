package store

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/viwo/viwo/syntax"
	"github.com/viwo/viwo/vm"
)

// Fixture is a YAML world description used to seed a store.
//
//	entities:
//	  - id: 1
//	    name: Lobby
//	    props: {description: "A quiet room."}
//	    verbs:
//	      look: '(str.concat "You see " (obj.get (this) "name"))'
//	      ping: [seq, [send, "message", "pong"]]
//	capabilities:
//	  - owner: 1
//	    type: sys.mint
//	    params: {namespace: "*"}
type Fixture struct {
	Entities     []FixtureEntity     `yaml:"entities"`
	Capabilities []FixtureCapability `yaml:"capabilities"`
}

// FixtureEntity is one seeded entity. Verbs map names to code given either
// in surface syntax (a string) or in array form.
type FixtureEntity struct {
	ID        int64          `yaml:"id"`
	Name      string         `yaml:"name"`
	Prototype *int64         `yaml:"prototype"`
	Props     map[string]any `yaml:"props"`
	Verbs     map[string]any `yaml:"verbs"`
}

// FixtureCapability is one seeded capability.
type FixtureCapability struct {
	Owner  int64          `yaml:"owner"`
	Type   string         `yaml:"type"`
	Params map[string]any `yaml:"params"`
}

// ParseFixture decodes fixture YAML.
func ParseFixture(data []byte) (*Fixture, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing fixture: %w", err)
	}
	return &f, nil
}

// LoadFixtureFile reads and applies a fixture file.
func (s *SQLite) LoadFixtureFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading fixture: %w", err)
	}
	f, err := ParseFixture(data)
	if err != nil {
		return err
	}
	return s.LoadFixture(f)
}

// LoadFixture seeds entities, verbs and capabilities. Entities are inserted
// in order with their given ids, so prototypes must be listed first.
func (s *SQLite) LoadFixture(f *Fixture) error {
	for _, fe := range f.Entities {
		props := make(map[string]any, len(fe.Props)+1)
		for k, v := range fe.Props {
			props[k] = vm.ToPlain(vm.FromPlain(v))
		}
		if fe.Name != "" {
			props["name"] = fe.Name
		}
		id, err := s.insertEntity(fe.ID, props, fe.Prototype)
		if err != nil {
			return fmt.Errorf("fixture entity %d: %w", fe.ID, err)
		}
		for name, src := range fe.Verbs {
			code, err := verbCode(src)
			if err != nil {
				return fmt.Errorf("fixture verb %d.%s: %w", id, name, err)
			}
			if _, err := s.AddVerb(id, name, code); err != nil {
				return err
			}
		}
	}
	for _, fc := range f.Capabilities {
		params := make(map[string]any, len(fc.Params))
		for k, v := range fc.Params {
			params[k] = vm.ToPlain(vm.FromPlain(v))
		}
		if _, err := s.CreateCapability(fc.Owner, fc.Type, params); err != nil {
			return fmt.Errorf("fixture capability %s: %w", fc.Type, err)
		}
	}
	log.Infof("loaded fixture: %d entities, %d capabilities", len(f.Entities), len(f.Capabilities))
	return nil
}

func verbCode(src any) (vm.Node, error) {
	if text, ok := src.(string); ok {
		return syntax.ParseProgram(text)
	}
	return vm.FromAny(src)
}
