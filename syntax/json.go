package syntax

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/viwo/viwo/vm"
)

// DecodeJSON reads the array form of a script: nested JSON arrays whose
// first element names the opcode. JSON objects are not part of the AST.
func DecodeJSON(data []byte) (vm.Node, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding script: %w", err)
	}
	v, err := fromJSON(raw)
	if err != nil {
		return nil, err
	}
	return vm.FromAny(v)
}

func fromJSON(v any) (any, error) {
	switch v := v.(type) {
	case json.Number:
		return v.Float64()
	case []any:
		for i, item := range v {
			conv, err := fromJSON(item)
			if err != nil {
				return nil, err
			}
			v[i] = conv
		}
		return v, nil
	case map[string]any:
		return nil, fmt.Errorf("decoding script: objects are not valid script values; use obj.new")
	}
	return v, nil
}

// EncodeJSON writes the array form of a script.
func EncodeJSON(n vm.Node) ([]byte, error) {
	return vm.MarshalJSON(vm.FromPlain(vm.ToAny(n)))
}
