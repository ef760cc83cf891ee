package capability

import (
	"bytes"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/viwo/viwo/vm"
)

// Params are compared and persisted in canonical CBOR: map keys are sorted,
// so two records with the same content always encode identically.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("capability: failed to create CBOR enc mode: %v", err))
	}
	encMode = em

	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("capability: failed to create CBOR dec mode: %v", err))
	}
	decMode = dm
}

// MarshalParams encodes params canonically.
func MarshalParams(params map[string]any) ([]byte, error) {
	if params == nil {
		params = map[string]any{}
	}
	return encMode.Marshal(copyParams(params))
}

// UnmarshalParams decodes params written by MarshalParams.
func UnmarshalParams(data []byte) (map[string]any, error) {
	var raw any
	if err := decMode.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("capability: unmarshal params: %w", err)
	}
	if raw == nil {
		return map[string]any{}, nil
	}
	m, ok := normalize(raw).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("capability: params are %T, not a map", raw)
	}
	return m, nil
}

// normalize maps decoded CBOR integers onto float64, the only script number.
func normalize(v any) any {
	switch v := v.(type) {
	case map[string]any:
		for k, val := range v {
			v[k] = normalize(val)
		}
		return v
	case []any:
		for i, val := range v {
			v[i] = normalize(val)
		}
		return v
	}
	return vm.ToPlain(vm.FromPlain(v))
}

// ValuesEqual compares two parameter values structurally. Script values and
// plain values compare equal when they hold the same data.
func ValuesEqual(a, b any) bool {
	ea, errA := encMode.Marshal(plain(a))
	eb, errB := encMode.Marshal(plain(b))
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ea, eb)
}

func plain(v any) any {
	switch v.(type) {
	case *vm.Object, *vm.List:
		return vm.ToPlain(v)
	}
	return copyValue(v)
}
