package capability

import (
	"slices"
	"strings"

	"github.com/viwo/viwo/vm"
)

// IsValidRestriction reports whether child narrows (or equals) parent for
// the given key. String semantics depend on the key name: "path" narrows to
// subpaths, "domain" to subdomains, "namespace" to longer prefixes. Other
// strings and unknown shapes must match exactly.
func IsValidRestriction(parent, child any, key string) bool {
	if ValuesEqual(parent, child) {
		return true
	}

	if key == Wildcard {
		if parent == true {
			return child == true || child == false
		}
		return false
	}

	if pl, ok := parent.([]any); ok {
		if cl, ok := child.([]any); ok {
			for _, item := range cl {
				if !slices.ContainsFunc(pl, func(p any) bool { return vm.Equal(p, item) }) {
					return false
				}
			}
			return true
		}
	}

	ps, pIsString := parent.(string)
	cs, cIsString := child.(string)
	if pIsString && cIsString {
		switch key {
		case "path":
			np, nc := ps, cs
			if !strings.HasSuffix(np, "/") {
				np += "/"
			}
			if !strings.HasSuffix(nc, "/") {
				nc += "/"
			}
			return strings.HasPrefix(nc, np) || cs == ps
		case "domain":
			return cs == ps || strings.HasSuffix(cs, "."+ps)
		case "namespace":
			if ps == Wildcard {
				return true
			}
			return strings.HasPrefix(cs, ps)
		}
	}

	if pf, ok := parent.(float64); ok {
		if cf, ok := child.(float64); ok {
			return pf == cf
		}
	}

	if pb, ok := parent.(bool); ok {
		if cb, ok := child.(bool); ok {
			return !pb || cb
		}
	}

	return false
}

// ValidateDelegation checks that restrictions only narrow parentParams.
// Keys are visited in the order given. New keys are allowed when the parent
// is a wildcard or the new value is true; adding the wildcard itself never is.
func ValidateDelegation(parentParams map[string]any, keys []string, restrictions map[string]any) error {
	parentWildcard := parentParams[Wildcard] == true
	for _, key := range keys {
		childValue := restrictions[key]
		parentValue, present := parentParams[key]

		if !present {
			if key == Wildcard {
				return vm.Errorf(vm.KindPermissionDenied,
					"delegate: cannot add wildcard '*' - would expand permissions")
			}
			if parentWildcard || childValue == true {
				continue
			}
			return vm.Errorf(vm.KindPermissionDenied,
				"delegate: cannot add new parameter '%s' - parent capability lacks this parameter", key)
		}

		if !IsValidRestriction(parentValue, childValue, key) {
			return vm.Errorf(vm.KindPermissionDenied,
				"delegate: restriction '%s' would expand permissions (parent: %s, child: %s)",
				key, jsonText(parentValue), jsonText(childValue))
		}
	}
	return nil
}

// Narrow validates restrictions against parent and returns the merged params
// of the derived capability.
func Narrow(parent *Capability, restrictions *vm.Object) (map[string]any, error) {
	rest := map[string]any{}
	var keys []string
	if restrictions != nil {
		keys = restrictions.Keys()
		restrictions.Each(func(k string, v any) {
			rest[k] = vm.ToPlain(v)
		})
	}
	parentParams := parent.Params()
	if err := ValidateDelegation(parentParams, keys, rest); err != nil {
		return nil, err
	}
	for k, v := range rest {
		parentParams[k] = v
	}
	return parentParams, nil
}

func jsonText(v any) string {
	data, err := vm.MarshalJSON(vm.FromPlain(v))
	if err != nil {
		return "null"
	}
	return string(data)
}
