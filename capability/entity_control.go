package capability

import "math"

// EntityControlType is the capability type authorizing mutation of one
// entity, named by params["target_id"].
const EntityControlType = "entity.control"

// EntityControl is the typed wrapper for entity.control capabilities.
type EntityControl struct {
	*base
}

// base aliases Capability so the embedded field is not named Capability,
// which would hide the promoted Capability() method required by Token.
type base = Capability

// NewEntityControl is the Class for entity.control.
func NewEntityControl(c *Capability) Token {
	return EntityControl{c}
}

// ScriptType implements vm.Typed.
func (EntityControl) ScriptType() string { return "capability" }

// Target returns the controlled entity id.
func (e EntityControl) Target() (int64, bool) {
	f, ok := e.params["target_id"].(float64)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}

// ReadOnly reports whether the capability was narrowed to reads only.
func (e EntityControl) ReadOnly() bool {
	return e.params["readonly"] == true
}

// Controls reports whether the capability authorizes mutation of id. A
// wildcard controls every entity; a readonly capability controls none.
func (e EntityControl) Controls(id int64) bool {
	if e.ReadOnly() {
		return false
	}
	if e.Wildcard() {
		return true
	}
	target, ok := e.Target()
	return ok && target == id
}
