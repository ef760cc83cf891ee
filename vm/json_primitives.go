package vm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
)

// ---------------------------------------------------------------------------
// JSON library. Object key order is preserved in both directions.
// ---------------------------------------------------------------------------

// JSONLibrary returns json.stringify and json.parse.
func JSONLibrary() Library {
	lib := Library{}

	define(lib, "json.stringify", Metadata{
		Label: "To JSON", Category: "data",
		Parameters: []Param{param("value", "unknown", "Value to encode.")},
		ReturnType: "string",
	}, func(ctx *Context, args []any) (any, error) {
		data, err := MarshalJSON(arg(args, 0))
		if err != nil {
			return nil, Errorf(KindValidation, "json.stringify: %v", err)
		}
		return string(data), nil
	})

	define(lib, "json.parse", Metadata{
		Label: "From JSON", Category: "data",
		Parameters: []Param{param("text", "string", "JSON text.")},
		ReturnType: "unknown",
	}, func(ctx *Context, args []any) (any, error) {
		s, err := stringArg("json.parse", args, 0)
		if err != nil {
			return nil, err
		}
		v, err := UnmarshalJSON([]byte(s))
		if KindOf(err) == KindSecurity {
			return nil, err
		}
		if err != nil {
			return nil, Errorf(KindValidation, "json.parse: %v", err)
		}
		return v, nil
	})

	return lib
}

// MarshalJSON encodes a script value. Lambdas and non-finite numbers encode
// as null; host values expose their fields.
func MarshalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeJSON(&buf, v, 0); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

const maxJSONDepth = 64

func writeJSON(buf *bytes.Buffer, v any, depth int) error {
	if depth > maxJSONDepth {
		return fmt.Errorf("value nested too deeply")
	}
	switch v := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if v {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			buf.WriteString("null")
		} else {
			buf.WriteString(FormatNumber(v))
		}
	case string:
		writeJSONString(buf, v)
	case *List:
		buf.WriteByte('[')
		for i, item := range v.Items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSON(buf, item, depth+1); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case *Object:
		buf.WriteByte('{')
		var err error
		first := true
		v.Each(func(k string, val any) {
			if err != nil {
				return
			}
			if !first {
				buf.WriteByte(',')
			}
			first = false
			writeJSONString(buf, k)
			buf.WriteByte(':')
			err = writeJSON(buf, val, depth+1)
		})
		if err != nil {
			return err
		}
		buf.WriteByte('}')
	case Fielder:
		o := NewObject()
		for _, name := range v.FieldNames() {
			fv, _ := v.Field(name)
			o.Set(name, fv)
		}
		return writeJSON(buf, o, depth)
	default:
		buf.WriteString("null")
	}
	return nil
}

func writeJSONString(buf *bytes.Buffer, s string) {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	// Encode appends a newline.
	buf.Truncate(buf.Len() - 1)
}

// UnmarshalJSON decodes JSON text into script values.
func UnmarshalJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := readJSON(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected trailing data")
	}
	return v, nil
}

func readJSON(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '[':
			items := []any{}
			for dec.More() {
				item, err := readJSON(dec)
				if err != nil {
					return nil, err
				}
				items = append(items, item)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return NewList(items...), nil
		case '{':
			o := NewObject()
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, _ := kt.(string)
				if IsDangerousKey(key) {
					return nil, SecurityViolation(key)
				}
				val, err := readJSON(dec)
				if err != nil {
					return nil, err
				}
				o.Set(key, val)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return o, nil
		}
		return nil, fmt.Errorf("unexpected %s", strings.TrimSpace(t.String()))
	case json.Number:
		return t.Float64()
	case string, bool, nil:
		return t, nil
	}
	return nil, fmt.Errorf("unexpected token %v", tok)
}
