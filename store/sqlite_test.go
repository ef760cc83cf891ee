package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/viwo/viwo/vm"
	"github.com/viwo/viwo/world"
)

func openTest(t *testing.T) *SQLite {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestEntityLifecycle(t *testing.T) {
	s := openTest(t)

	id, err := s.CreateEntity(map[string]any{"name": "Lamp", "lit": false}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateEntity(id, map[string]any{"lit": true, "watts": 40}); err != nil {
		t.Fatal(err)
	}
	e, err := s.Entity(id)
	if err != nil {
		t.Fatal(err)
	}
	if e.Props["name"] != "Lamp" || e.Props["lit"] != true || e.Props["watts"] != 40.0 {
		t.Errorf("props = %v", e.Props)
	}
	v := e.Value()
	if got, _ := v.Get("id"); got != float64(id) {
		t.Errorf("value id = %v, want %d", got, id)
	}

	if err := s.DeleteEntity(id); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Entity(id); !errors.Is(err, world.ErrEntityNotFound) {
		t.Errorf("Entity after delete = %v, want ErrEntityNotFound", err)
	}
	if err := s.DeleteEntity(id); !errors.Is(err, world.ErrEntityNotFound) {
		t.Errorf("second delete = %v, want ErrEntityNotFound", err)
	}
}

func TestVerbResolutionThroughPrototypes(t *testing.T) {
	s := openTest(t)

	base, _ := s.CreateEntity(map[string]any{"name": "Base"}, nil)
	child, _ := s.CreateEntity(map[string]any{"name": "Child"}, &base)

	mustVerb := func(id int64, name string, code any) {
		t.Helper()
		if _, err := s.AddVerb(id, name, vm.MustFromAny(code)); err != nil {
			t.Fatal(err)
		}
	}
	mustVerb(base, "greet", []any{"str.concat", "base", 1})
	mustVerb(base, "look", []any{"seq", "base look"})
	mustVerb(child, "greet", []any{"str.concat", "child", 2})

	v, err := s.Verb(child, "greet")
	if err != nil {
		t.Fatal(err)
	}
	if v.EntityID != child {
		t.Errorf("greet resolved on %d, want child %d", v.EntityID, child)
	}
	if got := vm.ToAny(v.Code); !vm.DeepEqual(vm.FromPlain(got), vm.FromPlain([]any{"str.concat", "child", 2.0})) {
		t.Errorf("code = %v", got)
	}

	v, err = s.Verb(child, "look")
	if err != nil {
		t.Fatal(err)
	}
	if v.EntityID != base {
		t.Errorf("look resolved on %d, want base %d", v.EntityID, base)
	}

	if _, err := s.Verb(child, "missing"); !errors.Is(err, world.ErrVerbNotFound) {
		t.Errorf("missing verb = %v, want ErrVerbNotFound", err)
	}

	all, err := s.Verbs(child)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].Name != "greet" || all[0].EntityID != child || all[1].Name != "look" {
		t.Errorf("Verbs = %+v", all)
	}

	if err := s.SetPrototype(child, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Verb(child, "look"); !errors.Is(err, world.ErrVerbNotFound) {
		t.Errorf("look after unlinking prototype = %v", err)
	}
}

func TestPrototypeCycleTerminates(t *testing.T) {
	s := openTest(t)
	a, _ := s.CreateEntity(nil, nil)
	b, _ := s.CreateEntity(nil, &a)
	if err := s.SetPrototype(a, &b); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Verb(a, "anything"); !errors.Is(err, world.ErrVerbNotFound) {
		t.Errorf("Verb on cycle = %v, want ErrVerbNotFound", err)
	}
}

func TestCapabilityRecords(t *testing.T) {
	s := openTest(t)

	first, err := s.CreateCapability(1, "sys.mint", map[string]any{"namespace": "*"})
	if err != nil {
		t.Fatal(err)
	}
	second, _ := s.CreateCapability(1, "entity.control", map[string]any{"target_id": 5, "tags": []any{"a"}})
	if first == second {
		t.Fatal("capability ids must be unique")
	}

	caps, err := s.Capabilities(1)
	if err != nil {
		t.Fatal(err)
	}
	if len(caps) != 2 || caps[0].ID != first || caps[1].ID != second {
		t.Fatalf("Capabilities order = %+v", caps)
	}
	if caps[1].Params["target_id"] != 5.0 {
		t.Errorf("target_id = %T %v, want float64 5", caps[1].Params["target_id"], caps[1].Params["target_id"])
	}

	if err := s.UpdateCapabilityOwner(second, 2); err != nil {
		t.Fatal(err)
	}
	rec, err := s.Capability(second)
	if err != nil {
		t.Fatal(err)
	}
	if rec.OwnerID != 2 {
		t.Errorf("owner = %d, want 2", rec.OwnerID)
	}
	if caps, _ := s.Capabilities(1); len(caps) != 1 {
		t.Errorf("owner 1 keeps %d capabilities, want 1", len(caps))
	}
	if _, err := s.Capability("nope"); !errors.Is(err, world.ErrCapabilityNotFound) {
		t.Errorf("unknown capability = %v", err)
	}
}

const fixtureYAML = `
entities:
  - id: 1
    name: Base
    verbs:
      describe: '(str.concat "I am " (obj.get (this) "name"))'
  - id: 2
    name: Lobby
    prototype: 1
    props:
      exits: [north, south]
    verbs:
      ping: [send, "message", "pong"]
capabilities:
  - owner: 2
    type: entity.control
    params: {target_id: 2}
`

func TestLoadFixture(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "world.yaml")
	if err := os.WriteFile(path, []byte(fixtureYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	s := openTest(t)
	if err := s.LoadFixtureFile(path); err != nil {
		t.Fatalf("LoadFixtureFile: %v", err)
	}

	lobby, err := s.Entity(2)
	if err != nil {
		t.Fatal(err)
	}
	if lobby.Props["name"] != "Lobby" || lobby.PrototypeID == nil || *lobby.PrototypeID != 1 {
		t.Errorf("lobby = %+v", lobby)
	}

	v, err := s.Verb(2, "describe")
	if err != nil {
		t.Fatal(err)
	}
	if e, ok := v.Code.(*vm.Expr); !ok || e.Op != "str.concat" {
		t.Errorf("describe code = %v", vm.ToAny(v.Code))
	}
	if v, err := s.Verb(2, "ping"); err != nil || v.Code.(*vm.Expr).Op != "send" {
		t.Errorf("ping = %v, %v", v, err)
	}

	caps, _ := s.Capabilities(2)
	if len(caps) != 1 || caps[0].Params["target_id"] != 2.0 {
		t.Errorf("capabilities = %+v", caps)
	}
}
