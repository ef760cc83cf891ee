// Package capability implements the permission tokens that gate every
// mutating opcode: immutable typed capabilities, the ownership and predicate
// check, the delegation restriction algebra, and the class registry that
// hydrates stored records into typed wrappers.
package capability

import (
	"github.com/tliron/commonlog"

	"github.com/viwo/viwo/vm"
	"github.com/viwo/viwo/world"
)

var log = commonlog.GetLogger("viwo.capability")

// Wildcard is the reserved parameter that satisfies any predicate.
const Wildcard = "*"

// Capability is an immutable permission token. Its fields are unexported and
// Params hands out copies, so no script-reachable path can mutate one.
type Capability struct {
	id      string
	ownerID int64
	typ     string
	params  map[string]any
}

// New builds a capability. Params are deep-copied.
func New(id string, ownerID int64, typ string, params map[string]any) *Capability {
	return &Capability{id: id, ownerID: ownerID, typ: typ, params: copyParams(params)}
}

// FromRecord builds an untyped capability from its stored form.
func FromRecord(rec *world.CapabilityRecord) *Capability {
	return New(rec.ID, rec.OwnerID, rec.Type, rec.Params)
}

func (c *Capability) ID() string     { return c.id }
func (c *Capability) OwnerID() int64 { return c.ownerID }
func (c *Capability) Type() string   { return c.typ }

// Params returns a copy of the parameters.
func (c *Capability) Params() map[string]any {
	return copyParams(c.params)
}

// Param returns one parameter.
func (c *Capability) Param(key string) (any, bool) {
	v, ok := c.params[key]
	if !ok {
		return nil, false
	}
	return copyValue(v), true
}

// Wildcard reports whether params["*"] is true.
func (c *Capability) Wildcard() bool {
	return c.params[Wildcard] == true
}

// Capability returns c. Typed wrappers embed *Capability and inherit it.
func (c *Capability) Capability() *Capability { return c }

// ScriptType implements vm.Typed.
func (c *Capability) ScriptType() string { return "capability" }

var fieldNames = []string{"id", "ownerId", "type", "params"}

// Field implements vm.Fielder. Every read of params yields a fresh object.
func (c *Capability) Field(name string) (any, bool) {
	switch name {
	case "id":
		return c.id, true
	case "ownerId":
		return float64(c.ownerID), true
	case "type":
		return c.typ, true
	case "params":
		return vm.FromPlain(copyParams(c.params)), true
	}
	return nil, false
}

// FieldNames implements vm.Fielder.
func (c *Capability) FieldNames() []string {
	return append([]string(nil), fieldNames...)
}

func (c *Capability) String() string {
	return "capability(" + c.typ + " " + c.id + ")"
}

// Token is any script-visible capability value: the plain *Capability or a
// typed wrapper built by a registered class.
type Token interface {
	vm.Typed
	vm.Fielder
	Capability() *Capability
}

// FromValue extracts the capability behind a script value.
func FromValue(v any) (*Capability, bool) {
	t, ok := v.(Token)
	if !ok || t == nil {
		return nil, false
	}
	c := t.Capability()
	return c, c != nil
}

func copyParams(p map[string]any) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return copyParams(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = copyValue(item)
		}
		return out
	case *vm.Object, *vm.List:
		return vm.ToPlain(v)
	}
	return vm.ToPlain(vm.FromPlain(v))
}
