package vm

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/emirpasic/gods/maps/linkedhashmap"
)

// ---------------------------------------------------------------------------
// Runtime values
// ---------------------------------------------------------------------------
//
// Scripts operate on: nil, bool, float64, string, *List, *Object, *Lambda,
// and opaque host values (see Typed). Lists and objects are reference
// values, so mutation through one binding is visible through every other.

// Typed is implemented by host values handed to scripts, such as
// capabilities. ScriptType is reported by typeof.
type Typed interface {
	ScriptType() string
}

// Fielder exposes read-only fields of a host value to obj.get and obj.has.
type Fielder interface {
	Field(name string) (any, bool)
	FieldNames() []string
}

// List is a mutable script list.
type List struct {
	Items []any
}

// NewList returns a list holding the given items.
func NewList(items ...any) *List {
	if items == nil {
		items = []any{}
	}
	return &List{Items: items}
}

// Len returns the number of items.
func (l *List) Len() int { return len(l.Items) }

// Object is a mutable script record with insertion-ordered keys.
type Object struct {
	m *linkedhashmap.Map
}

// slot boxes stored values so that null entries are distinguishable from
// missing ones.
type slot struct {
	v any
}

// NewObject returns an empty object.
func NewObject() *Object {
	return &Object{m: linkedhashmap.New()}
}

// ObjectOf builds an object from alternating key/value arguments.
func ObjectOf(kv ...any) *Object {
	o := NewObject()
	for i := 0; i+1 < len(kv); i += 2 {
		o.Set(kv[i].(string), normalizeNumber(kv[i+1]))
	}
	return o
}

// Get returns the value stored under key.
func (o *Object) Get(key string) (any, bool) {
	v, ok := o.m.Get(key)
	if !ok {
		return nil, false
	}
	return v.(slot).v, true
}

// Set stores value under key. Existing keys keep their position.
func (o *Object) Set(key string, value any) {
	o.m.Put(key, slot{v: value})
}

// Has reports whether key is present.
func (o *Object) Has(key string) bool {
	_, ok := o.m.Get(key)
	return ok
}

// Delete removes key and reports whether it was present.
func (o *Object) Delete(key string) bool {
	if !o.Has(key) {
		return false
	}
	o.m.Remove(key)
	return true
}

// Len returns the number of keys.
func (o *Object) Len() int { return o.m.Size() }

// Keys returns the keys in insertion order.
func (o *Object) Keys() []string {
	raw := o.m.Keys()
	keys := make([]string, len(raw))
	for i, k := range raw {
		keys[i] = k.(string)
	}
	return keys
}

// Each calls fn for every entry in insertion order.
func (o *Object) Each(fn func(key string, value any)) {
	it := o.m.Iterator()
	for it.Next() {
		fn(it.Key().(string), it.Value().(slot).v)
	}
}

// Clone returns a shallow copy.
func (o *Object) Clone() *Object {
	c := NewObject()
	o.Each(c.Set)
	return c
}

// Lambda is a script closure.
type Lambda struct {
	Params  []string
	Body    Node
	Closure map[string]any

	// Native, when set, runs the lambda instead of interpreting Body.
	// The compiler produces lambdas of this form.
	Native func(ctx *Context, args []any) (any, error)
}

// Entity helpers. Entities reach scripts as objects with a numeric "id".

// EntityID extracts the id of an entity value.
func EntityID(v any) (int64, bool) {
	o, ok := v.(*Object)
	if !ok || o == nil {
		return 0, false
	}
	raw, ok := o.Get("id")
	if !ok {
		return 0, false
	}
	f, ok := raw.(float64)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}

// ---------------------------------------------------------------------------
// Value semantics
// ---------------------------------------------------------------------------

// TypeName reports the script-visible type of v.
func TypeName(v any) string {
	switch v := v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case *List:
		return "list"
	case *Object:
		return "object"
	case *Lambda:
		return "lambda"
	case Typed:
		return v.ScriptType()
	}
	return "unknown"
}

// Truthy applies script truthiness: null, false, 0, NaN and "" are false.
func Truthy(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0 && !math.IsNaN(v)
	case string:
		return v != ""
	}
	return true
}

// Equal is strict equality: primitives by value, everything else by identity.
func Equal(a, b any) bool {
	switch a := a.(type) {
	case nil:
		return b == nil
	case bool:
		bb, ok := b.(bool)
		return ok && a == bb
	case float64:
		bf, ok := b.(float64)
		return ok && a == bf
	case string:
		bs, ok := b.(string)
		return ok && a == bs
	case *List:
		bl, ok := b.(*List)
		return ok && a == bl
	case *Object:
		bo, ok := b.(*Object)
		return ok && a == bo
	case *Lambda:
		bl, ok := b.(*Lambda)
		return ok && a == bl
	}
	return a == b
}

// DeepEqual compares values structurally.
func DeepEqual(a, b any) bool {
	switch a := a.(type) {
	case *List:
		bl, ok := b.(*List)
		if !ok || len(a.Items) != len(bl.Items) {
			return false
		}
		for i := range a.Items {
			if !DeepEqual(a.Items[i], bl.Items[i]) {
				return false
			}
		}
		return true
	case *Object:
		bo, ok := b.(*Object)
		if !ok || a.Len() != bo.Len() {
			return false
		}
		equal := true
		a.Each(func(k string, v any) {
			if !equal {
				return
			}
			w, found := bo.Get(k)
			equal = found && DeepEqual(v, w)
		})
		return equal
	}
	return Equal(a, b)
}

// ToString converts v the way string concatenation does.
func ToString(v any) string {
	switch v := v.(type) {
	case nil:
		return "null"
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return FormatNumber(v)
	case string:
		return v
	case *List:
		parts := make([]string, len(v.Items))
		for i, item := range v.Items {
			if item != nil {
				parts[i] = ToString(item)
			}
		}
		return strings.Join(parts, ",")
	case *Object:
		return "[object Object]"
	case *Lambda:
		return "[lambda]"
	case Typed:
		return "[" + v.ScriptType() + "]"
	}
	return "[unknown]"
}

// FormatNumber renders a number without a trailing ".0" for integers.
func FormatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ---------------------------------------------------------------------------
// Plain Go conversion
// ---------------------------------------------------------------------------

// ToPlain converts a script value into plain Go data ([]any, map[string]any)
// suitable for encoding. Lambdas and host values become nil.
func ToPlain(v any) any {
	switch v := v.(type) {
	case nil, bool, float64, string:
		return v
	case *List:
		out := make([]any, len(v.Items))
		for i, item := range v.Items {
			out[i] = ToPlain(item)
		}
		return out
	case *Object:
		out := make(map[string]any, v.Len())
		v.Each(func(k string, val any) {
			out[k] = ToPlain(val)
		})
		return out
	}
	return nil
}

// FromPlain converts plain Go data into script values. Map keys are
// inserted in sorted order.
func FromPlain(v any) any {
	switch v := v.(type) {
	case []any:
		items := make([]any, len(v))
		for i, item := range v {
			items[i] = FromPlain(item)
		}
		return NewList(items...)
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		o := NewObject()
		for _, k := range keys {
			o.Set(k, FromPlain(v[k]))
		}
		return o
	case map[any]any:
		m := make(map[string]any, len(v))
		for k, val := range v {
			if ks, ok := k.(string); ok {
				m[ks] = val
			}
		}
		return FromPlain(m)
	}
	return normalizeNumber(v)
}
