package capability

import (
	"slices"

	"github.com/viwo/viwo/vm"
)

// Predicate inspects a capability's params.
type Predicate func(params map[string]any) bool

// Check authorizes use of c. It fails with PermissionDenied unless c is
// present, has the expected type, is owned by one of allowedOwners, and
// satisfies pred. A wildcard capability bypasses pred but never the type or
// owner test.
func Check(c *Capability, allowedOwners []int64, expectedType string, pred Predicate) error {
	if c == nil {
		return vm.Errorf(vm.KindPermissionDenied, "Permission Denied: missing capability")
	}
	if c.typ != expectedType {
		return vm.Errorf(vm.KindPermissionDenied,
			"Permission Denied: expected capability of type '%s', got '%s'", expectedType, c.typ)
	}
	if !slices.Contains(allowedOwners, c.ownerID) {
		return vm.Errorf(vm.KindPermissionDenied,
			"Permission Denied: capability '%s' is not owned by %v", c.id, allowedOwners)
	}
	if pred == nil || c.Wildcard() {
		return nil
	}
	if !pred(c.Params()) {
		log.Debugf("predicate refused %s for owners %v", c, allowedOwners)
		return vm.Errorf(vm.KindPermissionDenied,
			"Permission Denied: capability '%s' does not permit this operation", c.id)
	}
	return nil
}

// TargetIs is the predicate used by entity.control checks.
func TargetIs(id int64) Predicate {
	return func(params map[string]any) bool {
		return ValuesEqual(params["target_id"], float64(id))
	}
}

// Matches reports whether a stored capability satisfies a lookup: the type
// must be equal, and either the capability is a wildcard or every filter
// key is deep-equal to its param.
func Matches(params map[string]any, typ, wantType string, filter *vm.Object) bool {
	if typ != wantType {
		return false
	}
	if params[Wildcard] == true {
		return true
	}
	if filter == nil {
		return true
	}
	ok := true
	filter.Each(func(k string, v any) {
		if ok && !ValuesEqual(params[k], v) {
			ok = false
		}
	})
	return ok
}
