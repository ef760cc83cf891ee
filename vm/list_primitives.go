package vm

import (
	"math"
	"sort"
	"strings"
)

// ---------------------------------------------------------------------------
// List library
// ---------------------------------------------------------------------------

// ListLibrary returns list opcodes.
func ListLibrary() Library {
	lib := Library{}
	listParam := param("list", "any[]", "The list.")

	define(lib, "list.new", Metadata{
		Label: "New List", Category: "list",
		Description: "Create a list from the arguments",
		Parameters:  []Param{param("...items", "any[]", "Items.")},
		ReturnType:  "any[]",
	}, func(ctx *Context, args []any) (any, error) {
		items := make([]any, len(args))
		copy(items, args)
		return NewList(items...), nil
	})

	define(lib, "list.len", Metadata{
		Label: "List Length", Category: "list",
		Parameters: []Param{listParam}, ReturnType: "number",
	}, func(ctx *Context, args []any) (any, error) {
		l, err := listArg("list.len", args, 0)
		if err != nil {
			return nil, err
		}
		return float64(len(l.Items)), nil
	})

	define(lib, "list.empty", Metadata{
		Label: "List Is Empty", Category: "list",
		Parameters: []Param{listParam}, ReturnType: "boolean",
	}, func(ctx *Context, args []any) (any, error) {
		l, err := listArg("list.empty", args, 0)
		if err != nil {
			return nil, err
		}
		return len(l.Items) == 0, nil
	})

	define(lib, "list.get", Metadata{
		Label: "Get Item", Category: "list",
		Description: "Read an item; out-of-range indices give null",
		Parameters:  []Param{listParam, param("index", "number", "Index.")},
		ReturnType:  "any",
	}, func(ctx *Context, args []any) (any, error) {
		l, err := listArg("list.get", args, 0)
		if err != nil {
			return nil, err
		}
		if len(args) < 2 {
			return nil, Errorf(KindValidation, "list.get: expected index")
		}
		if err := CheckKey(args[1]); err != nil {
			return nil, err
		}
		idx, ok := toIndex(args[1])
		if !ok || idx < 0 || idx >= len(l.Items) {
			return nil, nil
		}
		return l.Items[idx], nil
	})

	define(lib, "list.set", Metadata{
		Label: "Set Item", Category: "list",
		Description: "Write an item, growing the list with nulls if needed (one gas per added slot)",
		Parameters:  []Param{listParam, param("index", "number", "Index."), param("value", "any", "Value.")},
		ReturnType:  "any",
	}, func(ctx *Context, args []any) (any, error) {
		l, err := listArg("list.set", args, 0)
		if err != nil {
			return nil, err
		}
		if len(args) < 3 {
			return nil, Errorf(KindValidation, "list.set: expected index and value")
		}
		if err := CheckKey(args[1]); err != nil {
			return nil, err
		}
		idx, ok := toIndex(args[1])
		if !ok || idx < 0 {
			return nil, Errorf(KindValidation, "list.set: index must be a non-negative integer")
		}
		if grow := idx + 1 - len(l.Items); grow > 0 {
			// One gas per added slot, charged before allocating.
			if err := ctx.ConsumeN(int64(grow)); err != nil {
				return nil, err
			}
			l.Items = append(l.Items, make([]any, grow)...)
		}
		l.Items[idx] = args[2]
		return args[2], nil
	})

	define(lib, "list.push", Metadata{
		Label: "Push", Category: "list",
		Description: "Append items and return the new length",
		Parameters:  []Param{listParam, param("...items", "any[]", "Items.")},
		ReturnType:  "number",
	}, func(ctx *Context, args []any) (any, error) {
		l, err := listArg("list.push", args, 0)
		if err != nil {
			return nil, err
		}
		l.Items = append(l.Items, args[1:]...)
		return float64(len(l.Items)), nil
	})

	define(lib, "list.pop", Metadata{
		Label: "Pop", Category: "list",
		Description: "Remove and return the last item",
		Parameters:  []Param{listParam}, ReturnType: "any",
	}, func(ctx *Context, args []any) (any, error) {
		l, err := listArg("list.pop", args, 0)
		if err != nil {
			return nil, err
		}
		if len(l.Items) == 0 {
			return nil, nil
		}
		last := l.Items[len(l.Items)-1]
		l.Items = l.Items[:len(l.Items)-1]
		return last, nil
	})

	define(lib, "list.unshift", Metadata{
		Label: "Unshift", Category: "list",
		Description: "Prepend items and return the new length",
		Parameters:  []Param{listParam, param("...items", "any[]", "Items.")},
		ReturnType:  "number",
	}, func(ctx *Context, args []any) (any, error) {
		l, err := listArg("list.unshift", args, 0)
		if err != nil {
			return nil, err
		}
		items := make([]any, 0, len(l.Items)+len(args)-1)
		items = append(items, args[1:]...)
		l.Items = append(items, l.Items...)
		return float64(len(l.Items)), nil
	})

	define(lib, "list.shift", Metadata{
		Label: "Shift", Category: "list",
		Description: "Remove and return the first item",
		Parameters:  []Param{listParam}, ReturnType: "any",
	}, func(ctx *Context, args []any) (any, error) {
		l, err := listArg("list.shift", args, 0)
		if err != nil {
			return nil, err
		}
		if len(l.Items) == 0 {
			return nil, nil
		}
		first := l.Items[0]
		l.Items = append([]any{}, l.Items[1:]...)
		return first, nil
	})

	define(lib, "list.slice", Metadata{
		Label: "Slice", Category: "list",
		Description: "Copy a range of items; negative indices count from the end",
		Parameters:  []Param{listParam, optional("start", "number", "Start index."), optional("end", "number", "End index (exclusive).")},
		ReturnType:  "any[]",
	}, func(ctx *Context, args []any) (any, error) {
		l, err := listArg("list.slice", args, 0)
		if err != nil {
			return nil, err
		}
		start, end := sliceBounds(len(l.Items), args[1:])
		items := make([]any, end-start)
		copy(items, l.Items[start:end])
		return NewList(items...), nil
	})

	define(lib, "list.splice", Metadata{
		Label: "Splice", Category: "list",
		Description: "Remove items in place, insert replacements, return the removed items",
		Parameters: []Param{
			listParam,
			param("start", "number", "Start index."),
			param("deleteCount", "number", "Number of items to remove."),
			param("...items", "any[]", "Items to insert."),
		},
		ReturnType: "any[]",
	}, func(ctx *Context, args []any) (any, error) {
		l, err := listArg("list.splice", args, 0)
		if err != nil {
			return nil, err
		}
		if len(args) < 3 {
			return nil, Errorf(KindValidation, "list.splice: expected start and deleteCount")
		}
		n := len(l.Items)
		start, _ := sliceBounds(n, args[1:2])
		count, ok := toIndex(args[2])
		if !ok {
			return nil, Errorf(KindValidation, "list.splice: deleteCount must be an integer")
		}
		if count < 0 {
			count = 0
		}
		if start+count > n {
			count = n - start
		}
		removed := make([]any, count)
		copy(removed, l.Items[start:start+count])
		items := make([]any, 0, n-count+len(args)-3)
		items = append(items, l.Items[:start]...)
		items = append(items, args[3:]...)
		items = append(items, l.Items[start+count:]...)
		l.Items = items
		return NewList(removed...), nil
	})

	define(lib, "list.concat", Metadata{
		Label: "Concat", Category: "list",
		Description: "Join lists into a new list",
		Parameters:  []Param{param("...lists", "any[][]", "Lists.")},
		ReturnType:  "any[]",
	}, func(ctx *Context, args []any) (any, error) {
		items := []any{}
		for i := range args {
			l, err := listArg("list.concat", args, i)
			if err != nil {
				return nil, err
			}
			items = append(items, l.Items...)
		}
		return NewList(items...), nil
	})

	define(lib, "list.includes", Metadata{
		Label: "Includes", Category: "list",
		Parameters: []Param{listParam, param("value", "any", "Value to find.")},
		ReturnType: "boolean",
	}, func(ctx *Context, args []any) (any, error) {
		l, err := listArg("list.includes", args, 0)
		if err != nil {
			return nil, err
		}
		return indexOf(l, arg(args, 1)) >= 0, nil
	})

	define(lib, "list.index_of", Metadata{
		Label: "Index Of", Category: "list",
		Parameters: []Param{listParam, param("value", "any", "Value to find.")},
		ReturnType: "number",
	}, func(ctx *Context, args []any) (any, error) {
		l, err := listArg("list.index_of", args, 0)
		if err != nil {
			return nil, err
		}
		return float64(indexOf(l, arg(args, 1))), nil
	})

	define(lib, "list.reverse", Metadata{
		Label: "Reverse", Category: "list",
		Description: "Reverse the list in place and return it",
		Parameters:  []Param{listParam}, ReturnType: "any[]",
	}, func(ctx *Context, args []any) (any, error) {
		l, err := listArg("list.reverse", args, 0)
		if err != nil {
			return nil, err
		}
		for i, j := 0, len(l.Items)-1; i < j; i, j = i+1, j-1 {
			l.Items[i], l.Items[j] = l.Items[j], l.Items[i]
		}
		return l, nil
	})

	define(lib, "list.sort", Metadata{
		Label: "Sort", Category: "list",
		Description: "Sort the list in place and return it; numbers sort numerically, everything else by text",
		Parameters:  []Param{listParam}, ReturnType: "any[]",
	}, func(ctx *Context, args []any) (any, error) {
		l, err := listArg("list.sort", args, 0)
		if err != nil {
			return nil, err
		}
		SortValues(l.Items)
		return l, nil
	})

	define(lib, "list.join", Metadata{
		Label: "Join", Category: "list",
		Parameters: []Param{listParam, optional("separator", "string", "Separator, default \",\".")},
		ReturnType: "string",
	}, func(ctx *Context, args []any) (any, error) {
		l, err := listArg("list.join", args, 0)
		if err != nil {
			return nil, err
		}
		sep := ","
		if s, ok := arg(args, 1).(string); ok {
			sep = s
		}
		return JoinValues(l.Items, sep), nil
	})

	hof := func(name, label, desc, ret string, run func(ctx *Context, l *List, fn any, rest []any) (any, error)) {
		define(lib, name, Metadata{
			Label: label, Category: "list",
			Description: desc,
			Parameters:  []Param{listParam, param("func", "any", "Callback lambda.")},
			ReturnType:  ret,
		}, func(ctx *Context, args []any) (any, error) {
			l, err := listArg(name, args, 0)
			if err != nil {
				return nil, err
			}
			if _, ok := arg(args, 1).(*Lambda); !ok {
				return nil, Errorf(KindValidation, "%s: expected lambda, got %s", name, TypeName(arg(args, 1)))
			}
			return run(ctx, l, args[1], args[2:])
		})
	}

	hof("list.map", "Map", "Transform each item", "any[]", func(ctx *Context, l *List, fn any, _ []any) (any, error) {
		out := make([]any, 0, len(l.Items))
		for i, item := range snapshot(l) {
			v, err := Apply(ctx, fn, []any{item, float64(i)})
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return NewList(out...), nil
	})

	hof("list.filter", "Filter", "Keep items for which the callback is truthy", "any[]", func(ctx *Context, l *List, fn any, _ []any) (any, error) {
		out := []any{}
		for i, item := range snapshot(l) {
			v, err := Apply(ctx, fn, []any{item, float64(i)})
			if err != nil {
				return nil, err
			}
			if Truthy(v) {
				out = append(out, item)
			}
		}
		return NewList(out...), nil
	})

	hof("list.find", "Find", "First item for which the callback is truthy", "any", func(ctx *Context, l *List, fn any, _ []any) (any, error) {
		for i, item := range snapshot(l) {
			v, err := Apply(ctx, fn, []any{item, float64(i)})
			if err != nil {
				return nil, err
			}
			if Truthy(v) {
				return item, nil
			}
		}
		return nil, nil
	})

	hof("list.reduce", "Reduce", "Fold the list with (acc, item)", "any", func(ctx *Context, l *List, fn any, rest []any) (any, error) {
		acc := arg(rest, 0)
		for i, item := range snapshot(l) {
			v, err := Apply(ctx, fn, []any{acc, item, float64(i)})
			if err != nil {
				return nil, err
			}
			acc = v
		}
		return acc, nil
	})

	hof("list.flat_map", "Flat Map", "Map each item and flatten list results one level", "any[]", func(ctx *Context, l *List, fn any, _ []any) (any, error) {
		out := []any{}
		for i, item := range snapshot(l) {
			v, err := Apply(ctx, fn, []any{item, float64(i)})
			if err != nil {
				return nil, err
			}
			if inner, ok := v.(*List); ok {
				out = append(out, inner.Items...)
			} else {
				out = append(out, v)
			}
		}
		return NewList(out...), nil
	})

	return lib
}

func arg(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}

func listArg(op string, args []any, i int) (*List, error) {
	l, ok := arg(args, i).(*List)
	if !ok {
		return nil, Errorf(KindValidation, "%s: expected list, got %s", op, TypeName(arg(args, i)))
	}
	return l, nil
}

func snapshot(l *List) []any {
	items := make([]any, len(l.Items))
	copy(items, l.Items)
	return items
}

// maxIndex bounds converted indices to the exactly representable integers.
const maxIndex = 1 << 53

func toIndex(v any) (int, bool) {
	f, ok := v.(float64)
	if !ok || f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int(math.Max(-maxIndex, math.Min(maxIndex, f))), true
}

func indexOf(l *List, v any) int {
	for i, item := range l.Items {
		if Equal(item, v) {
			return i
		}
	}
	return -1
}

// sliceBounds resolves optional start/end arguments the way slice does.
func sliceBounds(n int, bounds []any) (int, int) {
	resolve := func(v any, def int) int {
		i, ok := toIndex(v)
		if !ok {
			return def
		}
		if i < 0 {
			i += n
			if i < 0 {
				i = 0
			}
		}
		if i > n {
			i = n
		}
		return i
	}
	start := resolve(arg(bounds, 0), 0)
	end := resolve(arg(bounds, 1), n)
	if end < start {
		end = start
	}
	return start, end
}

// SortValues sorts numbers numerically and everything else by string form.
func SortValues(items []any) {
	allNumbers := true
	for _, it := range items {
		if _, ok := it.(float64); !ok {
			allNumbers = false
			break
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		if allNumbers {
			return items[i].(float64) < items[j].(float64)
		}
		return ToString(items[i]) < ToString(items[j])
	})
}

// JoinValues joins items by their string form. Nulls become empty strings.
func JoinValues(items []any, sep string) string {
	parts := make([]string, len(items))
	for i, it := range items {
		if it != nil {
			parts[i] = ToString(it)
		}
	}
	return strings.Join(parts, sep)
}
