package capability

import (
	"errors"
	"strings"
	"testing"

	"github.com/viwo/viwo/vm"
	"github.com/viwo/viwo/world"
)

func TestCapabilityIsImmutable(t *testing.T) {
	params := map[string]any{"target_id": 5.0, "tags": []any{"a"}}
	c := New("cap-1", 1, "entity.control", params)

	params["target_id"] = 6.0
	params["tags"].([]any)[0] = "z"
	if v, _ := c.Param("target_id"); v != 5.0 {
		t.Errorf("target_id = %v after mutating input, want 5", v)
	}

	got := c.Params()
	got["target_id"] = 7.0
	if v, _ := c.Param("target_id"); v != 5.0 {
		t.Errorf("target_id = %v after mutating Params(), want 5", v)
	}

	obj, _ := c.Field("params")
	obj.(*vm.Object).Set("target_id", 8.0)
	if v, _ := c.Param("target_id"); v != 5.0 {
		t.Errorf("target_id = %v after mutating script view, want 5", v)
	}
	tags, _ := c.Param("tags")
	if tags.([]any)[0] != "a" {
		t.Errorf("tags = %v, want [a]", tags)
	}
}

func TestCapabilityFields(t *testing.T) {
	c := New("cap-1", 3, "sys.mint", map[string]any{"namespace": "*"})
	if got := vm.TypeName(c); got != "capability" {
		t.Errorf("TypeName = %q, want capability", got)
	}
	tests := []struct {
		field string
		want  any
	}{
		{"id", "cap-1"},
		{"ownerId", 3.0},
		{"type", "sys.mint"},
	}
	for _, tt := range tests {
		got, ok := c.Field(tt.field)
		if !ok || got != tt.want {
			t.Errorf("Field(%q) = %v, %v, want %v", tt.field, got, ok, tt.want)
		}
	}
	if _, ok := c.Field("__proto__"); ok {
		t.Error("Field(__proto__) should not exist")
	}
}

func TestCheck(t *testing.T) {
	control := New("c1", 1, "entity.control", map[string]any{"target_id": 10.0})
	wild := New("c2", 1, "entity.control", map[string]any{"*": true})

	tests := []struct {
		name    string
		cap     *Capability
		owners  []int64
		typ     string
		pred    Predicate
		allowed bool
	}{
		{"nil capability", nil, []int64{1}, "entity.control", nil, false},
		{"no predicate", control, []int64{1}, "entity.control", nil, true},
		{"predicate matches", control, []int64{1}, "entity.control", TargetIs(10), true},
		{"predicate refuses", control, []int64{1}, "entity.control", TargetIs(11), false},
		{"wrong type", control, []int64{1}, "sys.create", nil, false},
		{"wrong owner", control, []int64{2}, "entity.control", nil, false},
		{"second owner", control, []int64{2, 1}, "entity.control", nil, true},
		{"wildcard bypasses predicate", wild, []int64{1}, "entity.control", TargetIs(99), true},
		{"wildcard keeps type", wild, []int64{1}, "sys.sudo", TargetIs(99), false},
		{"wildcard keeps owner", wild, []int64{7}, "entity.control", TargetIs(99), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(tt.cap, tt.owners, tt.typ, tt.pred)
			if tt.allowed && err != nil {
				t.Fatalf("Check = %v, want nil", err)
			}
			if !tt.allowed {
				if err == nil {
					t.Fatal("Check = nil, want PermissionDenied")
				}
				if !errors.Is(err, vm.ErrPermissionDenied) {
					t.Errorf("Check error = %v, want PermissionDenied", err)
				}
			}
		})
	}
}

func TestMatches(t *testing.T) {
	params := map[string]any{"target_id": 5.0, "methods": []any{"GET"}}
	filter := func(kv ...any) *vm.Object { return vm.ObjectOf(kv...) }

	tests := []struct {
		name   string
		params map[string]any
		typ    string
		filter *vm.Object
		want   bool
	}{
		{"type only", params, "net.http", nil, true},
		{"other type", params, "net.tcp", nil, false},
		{"filter equal", params, "net.http", filter("target_id", 5.0), true},
		{"filter differs", params, "net.http", filter("target_id", 6.0), false},
		{"filter deep", params, "net.http", filter("methods", vm.NewList("GET")), true},
		{"filter missing key", params, "net.http", filter("other", 1.0), false},
		{"wildcard any filter", map[string]any{"*": true}, "net.http", filter("target_id", 6.0), true},
	}
	for _, tt := range tests {
		if got := Matches(tt.params, "net.http", tt.typ, tt.filter); got != tt.want {
			t.Errorf("%s: Matches = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestIsValidRestriction(t *testing.T) {
	tests := []struct {
		parent, child any
		key           string
		want          bool
	}{
		{"x", "x", "anything", true},
		{[]any{"GET", "POST"}, []any{"GET", "POST"}, "methods", true},

		{true, true, "*", true},
		{true, false, "*", true},
		{false, true, "*", false},
		{nil, true, "*", false},

		{[]any{"GET", "POST"}, []any{"GET"}, "methods", true},
		{[]any{"GET"}, []any{"GET", "POST"}, "methods", false},
		{[]any{"GET"}, []any{}, "methods", true},

		{"/home/user", "/home/user/docs", "path", true},
		{"/home/user/", "/home/user/docs", "path", true},
		{"/home/user", "/home/username", "path", false},
		{"/home/user", "/home", "path", false},

		{"example.com", "api.example.com", "domain", true},
		{"example.com", "evil-example.com", "domain", false},
		{"api.example.com", "example.com", "domain", false},

		{"*", "anything", "namespace", true},
		{"user", "user.123", "namespace", true},
		{"user.123", "user", "namespace", false},

		{"alice", "bob", "name", false},
		{5.0, 5.0, "target_id", true},
		{5.0, 6.0, "target_id", false},

		{false, true, "readonly", true},
		{false, false, "readonly", true},
		{true, true, "readonly", true},
		{true, false, "readonly", false},

		{5.0, "5", "target_id", false},
		{map[string]any{"a": 1.0}, map[string]any{"a": 2.0}, "nested", false},
	}
	for _, tt := range tests {
		if got := IsValidRestriction(tt.parent, tt.child, tt.key); got != tt.want {
			t.Errorf("IsValidRestriction(%v, %v, %q) = %v, want %v", tt.parent, tt.child, tt.key, got, tt.want)
		}
	}
}

func TestValidateDelegation(t *testing.T) {
	tests := []struct {
		name    string
		parent  map[string]any
		keys    []string
		rest    map[string]any
		wantErr string
	}{
		{
			name:   "narrow with readonly flag",
			parent: map[string]any{"target_id": 1.0},
			keys:   []string{"target_id", "readonly"},
			rest:   map[string]any{"target_id": 1.0, "readonly": true},
		},
		{
			name:    "add wildcard to plain parent",
			parent:  map[string]any{"target_id": 1.0},
			keys:    []string{"*"},
			rest:    map[string]any{"*": true},
			wantErr: "delegate: cannot add wildcard '*' - would expand permissions",
		},
		{
			name:   "keep wildcard",
			parent: map[string]any{"*": true},
			keys:   []string{"*"},
			rest:   map[string]any{"*": true},
		},
		{
			name:   "wildcard parent gains new keys",
			parent: map[string]any{"*": true},
			keys:   []string{"target_id"},
			rest:   map[string]any{"target_id": 9.0},
		},
		{
			name:    "new non-boolean key",
			parent:  map[string]any{"target_id": 1.0},
			keys:    []string{"path"},
			rest:    map[string]any{"path": "/"},
			wantErr: "delegate: cannot add new parameter 'path' - parent capability lacks this parameter",
		},
		{
			name:    "new false flag",
			parent:  map[string]any{"target_id": 1.0},
			keys:    []string{"readonly"},
			rest:    map[string]any{"readonly": false},
			wantErr: "delegate: cannot add new parameter 'readonly'",
		},
		{
			name:    "widen existing key",
			parent:  map[string]any{"target_id": 1.0, "readonly": true},
			keys:    []string{"readonly"},
			rest:    map[string]any{"readonly": false},
			wantErr: "delegate: restriction 'readonly' would expand permissions (parent: true, child: false)",
		},
		{
			name:    "redirect target",
			parent:  map[string]any{"target_id": 1.0},
			keys:    []string{"target_id"},
			rest:    map[string]any{"target_id": 2.0},
			wantErr: "delegate: restriction 'target_id' would expand permissions (parent: 1, child: 2)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDelegation(tt.parent, tt.keys, tt.rest)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("ValidateDelegation = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("ValidateDelegation = nil, want %q", tt.wantErr)
			}
			if !strings.HasPrefix(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want prefix %q", err.Error(), tt.wantErr)
			}
			if vm.KindOf(err) != vm.KindPermissionDenied {
				t.Errorf("kind = %v, want PermissionDenied", vm.KindOf(err))
			}
		})
	}
}

func TestNarrowIsMonotone(t *testing.T) {
	root := New("root", 1, "entity.control", map[string]any{"target_id": 4.0})

	first, err := Narrow(root, vm.ObjectOf("readonly", true))
	if err != nil {
		t.Fatalf("first delegation: %v", err)
	}
	child := New("child", 1, "entity.control", first)
	if !(EntityControl{child}).ReadOnly() {
		t.Error("delegated capability should be readonly")
	}

	if _, err := Narrow(child, vm.ObjectOf("readonly", false)); err == nil {
		t.Error("re-widening readonly should fail")
	}
	if _, err := Narrow(child, vm.ObjectOf("*", true)); err == nil {
		t.Error("adding wildcard should fail")
	}
	wild := New("wild", 1, "entity.control", map[string]any{"*": true})
	if _, err := Narrow(wild, vm.ObjectOf("*", true)); err != nil {
		t.Errorf("keeping wildcard: %v", err)
	}
}

func TestClassRegistry(t *testing.T) {
	r := NewClassRegistry()

	err := r.Register(EntityControlType, NewEntityControl)
	if err == nil {
		t.Fatal("duplicate registration should fail")
	}
	want := "Capability class for type 'entity.control' is already registered."
	if err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}

	tok := r.Hydrate(&world.CapabilityRecord{
		ID: "c1", OwnerID: 2, Type: EntityControlType,
		Params: map[string]any{"target_id": 7.0},
	})
	ec, ok := tok.(EntityControl)
	if !ok {
		t.Fatalf("Hydrate(entity.control) = %T, want EntityControl", tok)
	}
	if target, _ := ec.Target(); target != 7 {
		t.Errorf("Target = %d, want 7", target)
	}
	if !ec.Controls(7) || ec.Controls(8) {
		t.Error("Controls should accept only the target")
	}

	plain := r.Hydrate(&world.CapabilityRecord{ID: "c2", OwnerID: 2, Type: "custom.thing"})
	if _, ok := plain.(*Capability); !ok {
		t.Errorf("Hydrate(unknown) = %T, want *Capability", plain)
	}
	if c, ok := FromValue(plain); !ok || c.ID() != "c2" {
		t.Errorf("FromValue = %v, %v", c, ok)
	}
	if _, ok := FromValue(vm.NewObject()); ok {
		t.Error("FromValue(object) should fail")
	}
}

func TestParamsCodec(t *testing.T) {
	in := map[string]any{"b": 1.0, "a": []any{"x", true, nil}, "n": map[string]any{"k": 2.0}}
	data, err := MarshalParams(in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := UnmarshalParams(data)
	if err != nil {
		t.Fatal(err)
	}
	if !ValuesEqual(in, out) {
		t.Errorf("round trip = %v, want %v", out, in)
	}
	if out["b"] != 1.0 {
		t.Errorf("b = %T %v, want float64 1", out["b"], out["b"])
	}

	again, _ := MarshalParams(map[string]any{"n": map[string]any{"k": 2.0}, "a": []any{"x", true, nil}, "b": 1.0})
	if string(again) != string(data) {
		t.Error("canonical encoding should not depend on insertion order")
	}
}
