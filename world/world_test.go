package world

import (
	"strings"
	"testing"

	"github.com/viwo/viwo/vm"
)

func TestEntityValue(t *testing.T) {
	proto := int64(1)
	tests := []struct {
		name   string
		entity Entity
		keys   string
	}{
		{"bare", Entity{ID: 5}, "id"},
		{"with prototype", Entity{ID: 5, PrototypeID: &proto}, "id,prototype_id"},
		{
			"props sorted after id",
			Entity{ID: 5, Props: map[string]any{"name": "lamp", "lit": true}},
			"id,lit,name",
		},
		{
			"reserved props ignored",
			Entity{ID: 5, Props: map[string]any{"id": 99, "prototype_id": 3, "name": "lamp"}},
			"id,name",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := tt.entity.Value()
			if got := strings.Join(v.Keys(), ","); got != tt.keys {
				t.Errorf("keys = %s, want %s", got, tt.keys)
			}
			if id, _ := v.Get("id"); id != 5.0 {
				t.Errorf("id = %v, want 5", id)
			}
		})
	}
}

func TestEntityValueNestedProps(t *testing.T) {
	e := Entity{ID: 2, Props: map[string]any{
		"tags": []any{"a", "b"},
		"pos":  map[string]any{"x": 1, "y": 2},
	}}
	v := e.Value()

	tags, _ := v.Get("tags")
	if !vm.DeepEqual(tags, vm.NewList("a", "b")) {
		t.Errorf("tags = %v", tags)
	}
	pos, _ := v.Get("pos")
	if !vm.DeepEqual(pos, vm.ObjectOf("x", 1.0, "y", 2.0)) {
		t.Errorf("pos = %v", pos)
	}
}

func TestEntityValueIsACopy(t *testing.T) {
	e := Entity{ID: 1, Props: map[string]any{"name": "lamp"}}
	e.Value().Set("name", "torch")
	if e.Props["name"] != "lamp" {
		t.Errorf("props mutated through Value: %v", e.Props["name"])
	}
}
