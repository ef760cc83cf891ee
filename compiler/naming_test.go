package compiler

import "testing"

func TestIdent(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"greet", "greet"},
		{"look_at", "look_at"},
		{"list.map", "list_map"},
		{"+", "Plus"},
		{"<=", "LTEQ"},
		{"!=", "NotEQ"},
		{"2fast", "_2fast"},
		{"type", "type_"},
		{"vm", "vm_"},
		{"", "__"},
		{"_", "__"},
		{"héllo wörld", "héllo_wörld"},
	}
	for _, tt := range tests {
		if got := Ident(tt.in); got != tt.want {
			t.Errorf("Ident(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExported(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"greet", "Greet"},
		{"look.at", "Look_at"},
		{"2fast", "X_2fast"},
		{"_private", "X_private"},
		{"units", "Units_"},
		{"Units", "Units_"},
		{"+", "Plus"},
	}
	for _, tt := range tests {
		if got := Exported(tt.in); got != tt.want {
			t.Errorf("Exported(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNamerUnique(t *testing.T) {
	n := newNamer()
	got := []string{n.exported("look"), n.exported("Look"), n.exported("look"), n.exported("look_2")}
	want := []string{"Look", "Look_2", "Look_3", "Look_2_2"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("name %d = %q, want %q", i, got[i], want[i])
		}
	}
}
