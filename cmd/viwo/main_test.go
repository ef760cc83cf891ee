package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/viwo/viwo/vm"
)

func TestScriptArgs(t *testing.T) {
	got := scriptArgs([]string{"3", "hello", "[1,2]", `{"a":true}`, "null"})
	want := []any{3.0, "hello", vm.NewList(1.0, 2.0), vm.ObjectOf("a", true), nil}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if !vm.DeepEqual(got[i], want[i]) {
			t.Errorf("arg %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestScriptArgsDangerousKeyStaysString(t *testing.T) {
	got := scriptArgs([]string{`{"__proto__":1}`})
	if got[0] != `{"__proto__":1}` {
		t.Errorf("arg = %v, want raw string", got[0])
	}
}

func TestRenderResult(t *testing.T) {
	v := vm.ObjectOf("b", 1.0, "a", vm.NewList(1.0, "x"))

	compact, err := renderResult(v, false)
	if err != nil {
		t.Fatal(err)
	}
	if compact != `{"b":1,"a":[1,"x"]}` {
		t.Errorf("compact = %s", compact)
	}

	pretty, err := renderResult(v, true)
	if err != nil {
		t.Fatal(err)
	}
	want := "{\n  \"b\": 1,\n  \"a\": [\n    1,\n    \"x\"\n  ]\n}"
	if pretty != want {
		t.Errorf("pretty = %q, want %q", pretty, want)
	}

	null, _ := renderResult(nil, true)
	if null != "null" {
		t.Errorf("nil renders as %q", null)
	}
}

func TestDescribe(t *testing.T) {
	se := &vm.ScriptError{
		Kind:       vm.KindThrown,
		Message:    "boom",
		Op:         "throw",
		Args:       []any{"boom"},
		StackTrace: []vm.Frame{{Name: "look"}, {Name: "<main>"}},
	}
	want := "Thrown: boom\n  in throw \"boom\"\n  at look\n  at <main>"

	if got := describe(se).Error(); got != want {
		t.Errorf("describe = %q, want %q", got, want)
	}
	wrapped := fmt.Errorf("run: %w", se)
	if got := describe(wrapped).Error(); got != want {
		t.Errorf("describe(wrapped) = %q, want %q", got, want)
	}

	plain := errors.New("disk full")
	if describe(plain) != plain {
		t.Error("non-script errors should pass through")
	}
}

func TestFormatSource(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"spacing", "(seq (let x 1)   (+ x 2))", "(seq (let x 1) (+ x 2))\n"},
		{"several forms", "(let x 1)\n(+ x 2)", "(let x 1)\n\n(+ x 2)\n"},
		{"atoms", `(str.concat "a"   true null 1.5)`, "(str.concat \"a\" true null 1.5)\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := formatSource([]byte(tt.src))
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != tt.want {
				t.Errorf("formatSource = %q, want %q", got, tt.want)
			}
			again, err := formatSource(got)
			if err != nil {
				t.Fatal(err)
			}
			if string(again) != string(got) {
				t.Errorf("not idempotent: %q", again)
			}
		})
	}

	if _, err := formatSource([]byte("(seq (let x")); err == nil {
		t.Error("expected syntax error")
	}
}

func TestCollectAndLoadScripts(t *testing.T) {
	dir := t.TempDir()
	write := func(rel, content string) string {
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
		return path
	}
	write("verbs/look.vs", `(str.concat "You see " (obj.get (this) "name"))`)
	write("verbs/nested/count.vs", "(+ 1 2)")
	write("verbs/README.md", "not a script")
	single := write("extra.vs", "42")

	files, err := collectScripts([]string{filepath.Join(dir, "verbs"), single})
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 3 {
		t.Fatalf("files = %v, want 3", files)
	}
	for i := 1; i < len(files); i++ {
		if files[i-1] > files[i] {
			t.Errorf("files not sorted: %v", files)
		}
	}

	sources, err := loadSources(files)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, s := range sources {
		names = append(names, s.Name)
	}
	if got := strings.Join(names, ","); got != "extra,look,count" {
		t.Errorf("names = %s", got)
	}

	bad := write("bad.vs", "(+ 1")
	if _, err := loadSources([]string{bad}); err == nil || !strings.Contains(err.Error(), "bad.vs") {
		t.Errorf("err = %v, want error naming the file", err)
	}

	if _, err := collectScripts([]string{filepath.Join(dir, "missing")}); err == nil {
		t.Error("expected error for missing path")
	}
}
