package vm

// ---------------------------------------------------------------------------
// Object library
// ---------------------------------------------------------------------------

// ObjectLibrary returns object opcodes.
func ObjectLibrary() Library {
	lib := Library{}
	objParam := param("object", "object", "The object.")
	keyParam := param("key", "string", "The key.")

	defineLazy(lib, "obj.new", Metadata{
		Label: "New Object", Category: "object",
		Description: "Create an object from [key, value] pairs",
		Parameters:  []Param{param("...pairs", "[string, any][]", "Key/value pairs.")},
		ReturnType:  "object",
	}, func(ctx *Context, args []Node) (any, error) {
		o := NewObject()
		for i, a := range args {
			pair, ok := a.(*Expr)
			if !ok || len(pair.Elements()) != 2 {
				return nil, Errorf(KindValidation, "obj.new: argument %d must be a [key, value] pair", i)
			}
			elems := pair.Elements()
			k, err := Evaluate(elems[0], ctx)
			if err != nil {
				return nil, err
			}
			key, err := KeyOf("obj.new", k)
			if err != nil {
				return nil, err
			}
			v, err := Evaluate(elems[1], ctx)
			if err != nil {
				return nil, err
			}
			o.Set(key, v)
		}
		return o, nil
	})

	define(lib, "obj.keys", Metadata{
		Label: "Keys", Category: "object",
		Parameters: []Param{objParam}, ReturnType: "string[]",
	}, func(ctx *Context, args []any) (any, error) {
		keys, err := fieldNames("obj.keys", arg(args, 0))
		if err != nil {
			return nil, err
		}
		items := make([]any, len(keys))
		for i, k := range keys {
			items[i] = k
		}
		return NewList(items...), nil
	})

	define(lib, "obj.values", Metadata{
		Label: "Values", Category: "object",
		Parameters: []Param{objParam}, ReturnType: "any[]",
	}, func(ctx *Context, args []any) (any, error) {
		o, err := objectArg("obj.values", args, 0)
		if err != nil {
			return nil, err
		}
		items := make([]any, 0, o.Len())
		o.Each(func(_ string, v any) { items = append(items, v) })
		return NewList(items...), nil
	})

	define(lib, "obj.entries", Metadata{
		Label: "Entries", Category: "object",
		Parameters: []Param{objParam}, ReturnType: "[string, any][]",
	}, func(ctx *Context, args []any) (any, error) {
		o, err := objectArg("obj.entries", args, 0)
		if err != nil {
			return nil, err
		}
		items := make([]any, 0, o.Len())
		o.Each(func(k string, v any) { items = append(items, NewList(k, v)) })
		return NewList(items...), nil
	})

	define(lib, "obj.get", Metadata{
		Label: "Get Property", Category: "object",
		Description: "Read a property; a missing key is an error unless a default is given",
		Parameters:  []Param{objParam, keyParam, optional("default", "any", "Fallback value.")},
		ReturnType:  "any",
	}, func(ctx *Context, args []any) (any, error) {
		if len(args) < 2 {
			return nil, Errorf(KindValidation, "obj.get: expected object and key")
		}
		key, err := KeyOf("obj.get", args[1])
		if err != nil {
			return nil, err
		}
		v, found, err := getField("obj.get", args[0], key)
		if err != nil {
			return nil, err
		}
		if found {
			return v, nil
		}
		if len(args) > 2 {
			return args[2], nil
		}
		return nil, Errorf(KindValidation, "obj.get: key '%s' not found", key)
	})

	define(lib, "obj.set", Metadata{
		Label: "Set Property", Category: "object",
		Parameters: []Param{objParam, keyParam, param("value", "any", "New value.")},
		ReturnType: "any",
	}, func(ctx *Context, args []any) (any, error) {
		if len(args) < 3 {
			return nil, Errorf(KindValidation, "obj.set: expected object, key and value")
		}
		key, err := KeyOf("obj.set", args[1])
		if err != nil {
			return nil, err
		}
		o, err := objectArg("obj.set", args, 0)
		if err != nil {
			return nil, err
		}
		o.Set(key, args[2])
		return args[2], nil
	})

	define(lib, "obj.has", Metadata{
		Label: "Has Property", Category: "object",
		Parameters: []Param{objParam, keyParam}, ReturnType: "boolean",
	}, func(ctx *Context, args []any) (any, error) {
		if len(args) < 2 {
			return nil, Errorf(KindValidation, "obj.has: expected object and key")
		}
		key, err := KeyOf("obj.has", args[1])
		if err != nil {
			return nil, err
		}
		_, found, err := getField("obj.has", args[0], key)
		if err != nil {
			return nil, err
		}
		return found, nil
	})

	define(lib, "obj.del", Metadata{
		Label: "Delete Property", Category: "object",
		Description: "Remove a property; reports whether it existed",
		Parameters:  []Param{objParam, keyParam}, ReturnType: "boolean",
	}, func(ctx *Context, args []any) (any, error) {
		if len(args) < 2 {
			return nil, Errorf(KindValidation, "obj.del: expected object and key")
		}
		key, err := KeyOf("obj.del", args[1])
		if err != nil {
			return nil, err
		}
		o, err := objectArg("obj.del", args, 0)
		if err != nil {
			return nil, err
		}
		return o.Delete(key), nil
	})

	define(lib, "obj.merge", Metadata{
		Label: "Merge", Category: "object",
		Description: "Combine objects into a new one; later keys win",
		Parameters:  []Param{param("...objects", "object[]", "Objects to merge.")},
		ReturnType:  "object",
	}, func(ctx *Context, args []any) (any, error) {
		out := NewObject()
		for i := range args {
			o, err := objectArg("obj.merge", args, i)
			if err != nil {
				return nil, err
			}
			o.Each(out.Set)
		}
		return out, nil
	})

	hof := func(name, label, desc, ret string, run func(ctx *Context, o *Object, fn any, rest []any) (any, error)) {
		define(lib, name, Metadata{
			Label: label, Category: "object",
			Description: desc,
			Parameters:  []Param{objParam, param("func", "any", "Callback lambda taking (value, key).")},
			ReturnType:  ret,
		}, func(ctx *Context, args []any) (any, error) {
			o, err := objectArg(name, args, 0)
			if err != nil {
				return nil, err
			}
			if _, ok := arg(args, 1).(*Lambda); !ok {
				return nil, Errorf(KindValidation, "%s: expected lambda, got %s", name, TypeName(arg(args, 1)))
			}
			return run(ctx, o, args[1], args[2:])
		})
	}

	hof("obj.map", "Map Values", "Transform each value", "object", func(ctx *Context, o *Object, fn any, _ []any) (any, error) {
		out := NewObject()
		for _, e := range entries(o) {
			v, err := Apply(ctx, fn, []any{e.value, e.key})
			if err != nil {
				return nil, err
			}
			out.Set(e.key, v)
		}
		return out, nil
	})

	hof("obj.filter", "Filter Entries", "Keep entries for which the callback is truthy", "object", func(ctx *Context, o *Object, fn any, _ []any) (any, error) {
		out := NewObject()
		for _, e := range entries(o) {
			v, err := Apply(ctx, fn, []any{e.value, e.key})
			if err != nil {
				return nil, err
			}
			if Truthy(v) {
				out.Set(e.key, e.value)
			}
		}
		return out, nil
	})

	hof("obj.reduce", "Reduce Entries", "Fold entries with (acc, value, key)", "any", func(ctx *Context, o *Object, fn any, rest []any) (any, error) {
		acc := arg(rest, 0)
		for _, e := range entries(o) {
			v, err := Apply(ctx, fn, []any{acc, e.value, e.key})
			if err != nil {
				return nil, err
			}
			acc = v
		}
		return acc, nil
	})

	hof("obj.flat_map", "Flat Map Entries", "Merge the objects returned for each entry", "object", func(ctx *Context, o *Object, fn any, _ []any) (any, error) {
		out := NewObject()
		for _, e := range entries(o) {
			v, err := Apply(ctx, fn, []any{e.value, e.key})
			if err != nil {
				return nil, err
			}
			if inner, ok := v.(*Object); ok {
				inner.Each(out.Set)
			}
		}
		return out, nil
	})

	return lib
}

type entry struct {
	key   string
	value any
}

func entries(o *Object) []entry {
	out := make([]entry, 0, o.Len())
	o.Each(func(k string, v any) { out = append(out, entry{k, v}) })
	return out
}

func objectArg(op string, args []any, i int) (*Object, error) {
	o, ok := arg(args, i).(*Object)
	if !ok {
		return nil, Errorf(KindValidation, "%s: expected object, got %s", op, TypeName(arg(args, i)))
	}
	return o, nil
}

// KeyOf converts a property key and rejects dangerous names. Numbers are
// accepted and rendered as strings.
func KeyOf(op string, k any) (string, error) {
	var key string
	switch k := k.(type) {
	case string:
		key = k
	case float64:
		key = FormatNumber(k)
	default:
		return "", Errorf(KindValidation, "%s: key must be a string, got %s", op, TypeName(k))
	}
	if IsDangerousKey(key) {
		return "", SecurityViolation(key)
	}
	return key, nil
}

func getField(op string, target any, key string) (any, bool, error) {
	switch t := target.(type) {
	case *Object:
		v, ok := t.Get(key)
		return v, ok, nil
	case Fielder:
		v, ok := t.Field(key)
		return v, ok, nil
	}
	return nil, false, Errorf(KindValidation, "%s: expected object, got %s", op, TypeName(target))
}

func fieldNames(op string, target any) ([]string, error) {
	switch t := target.(type) {
	case *Object:
		return t.Keys(), nil
	case Fielder:
		return t.FieldNames(), nil
	}
	return nil, Errorf(KindValidation, "%s: expected object, got %s", op, TypeName(target))
}
