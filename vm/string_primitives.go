package vm

import (
	"strings"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// String library
// ---------------------------------------------------------------------------

// StringLibrary returns string opcodes.
func StringLibrary() Library {
	lib := Library{}
	strParam := param("str", "string", "The string.")

	define(lib, "str.len", Metadata{
		Label: "String Length", Category: "string",
		Parameters: []Param{strParam}, ReturnType: "number",
	}, func(ctx *Context, args []any) (any, error) {
		s, err := stringArg("str.len", args, 0)
		if err != nil {
			return nil, err
		}
		return float64(utf8.RuneCountInString(s)), nil
	})

	define(lib, "str.concat", Metadata{
		Label: "Concat", Category: "string",
		Description: "Join the string forms of the arguments",
		Parameters:  []Param{param("...parts", "unknown[]", "Values to join.")},
		ReturnType:  "string",
	}, func(ctx *Context, args []any) (any, error) {
		return Concat(args), nil
	})

	define(lib, "str.split", Metadata{
		Label: "Split", Category: "string",
		Description: "Split on a separator; an empty separator splits into characters",
		Parameters:  []Param{strParam, param("separator", "string", "Separator.")},
		ReturnType:  "string[]",
	}, func(ctx *Context, args []any) (any, error) {
		s, err := stringArg("str.split", args, 0)
		if err != nil {
			return nil, err
		}
		sep, err := stringArg("str.split", args, 1)
		if err != nil {
			return nil, err
		}
		parts := strings.Split(s, sep)
		items := make([]any, len(parts))
		for i, p := range parts {
			items[i] = p
		}
		return NewList(items...), nil
	})

	define(lib, "str.join", Metadata{
		Label: "Join", Category: "string",
		Parameters: []Param{param("list", "string[]", "Items."), param("separator", "string", "Separator.")},
		ReturnType: "string",
	}, func(ctx *Context, args []any) (any, error) {
		l, err := listArg("str.join", args, 0)
		if err != nil {
			return nil, err
		}
		sep := ""
		if s, ok := arg(args, 1).(string); ok {
			sep = s
		}
		return JoinValues(l.Items, sep), nil
	})

	define(lib, "str.slice", Metadata{
		Label: "Substring", Category: "string",
		Description: "Characters from start up to end (exclusive); negative indices count from the end",
		Parameters:  []Param{strParam, param("start", "number", "Start index."), optional("end", "number", "End index.")},
		ReturnType:  "string",
	}, func(ctx *Context, args []any) (any, error) {
		s, err := stringArg("str.slice", args, 0)
		if err != nil {
			return nil, err
		}
		runes := []rune(s)
		start, end := sliceBounds(len(runes), args[1:])
		return string(runes[start:end]), nil
	})

	simple := func(name, label string, fn func(string) string) {
		define(lib, name, Metadata{
			Label: label, Category: "string",
			Parameters: []Param{strParam}, ReturnType: "string",
		}, func(ctx *Context, args []any) (any, error) {
			s, err := stringArg(name, args, 0)
			if err != nil {
				return nil, err
			}
			return fn(s), nil
		})
	}
	simple("str.upper", "Upper Case", strings.ToUpper)
	simple("str.lower", "Lower Case", strings.ToLower)
	simple("str.trim", "Trim", strings.TrimSpace)

	define(lib, "str.includes", Metadata{
		Label: "Contains", Category: "string",
		Parameters: []Param{strParam, param("search", "string", "Substring.")},
		ReturnType: "boolean",
	}, func(ctx *Context, args []any) (any, error) {
		s, err := stringArg("str.includes", args, 0)
		if err != nil {
			return nil, err
		}
		sub, err := stringArg("str.includes", args, 1)
		if err != nil {
			return nil, err
		}
		return strings.Contains(s, sub), nil
	})

	define(lib, "str.index_of", Metadata{
		Label: "Index Of", Category: "string",
		Parameters: []Param{strParam, param("search", "string", "Substring.")},
		ReturnType: "number",
	}, func(ctx *Context, args []any) (any, error) {
		s, err := stringArg("str.index_of", args, 0)
		if err != nil {
			return nil, err
		}
		sub, err := stringArg("str.index_of", args, 1)
		if err != nil {
			return nil, err
		}
		i := strings.Index(s, sub)
		if i < 0 {
			return float64(-1), nil
		}
		return float64(utf8.RuneCountInString(s[:i])), nil
	})

	define(lib, "str.replace", Metadata{
		Label: "Replace", Category: "string",
		Description: "Replace the first occurrence",
		Parameters: []Param{
			strParam,
			param("search", "string", "Text to find."),
			param("replace", "string", "Replacement."),
		},
		ReturnType: "string",
	}, func(ctx *Context, args []any) (any, error) {
		s, err := stringArg("str.replace", args, 0)
		if err != nil {
			return nil, err
		}
		old, err := stringArg("str.replace", args, 1)
		if err != nil {
			return nil, err
		}
		repl, err := stringArg("str.replace", args, 2)
		if err != nil {
			return nil, err
		}
		return strings.Replace(s, old, repl, 1), nil
	})

	return lib
}

func stringArg(op string, args []any, i int) (string, error) {
	s, ok := arg(args, i).(string)
	if !ok {
		return "", Errorf(KindValidation, "%s: expected string at index %d, got %s", op, i, TypeName(arg(args, i)))
	}
	return s, nil
}

// Concat joins the string forms of values.
func Concat(values []any) string {
	var b strings.Builder
	for _, v := range values {
		b.WriteString(ToString(v))
	}
	return b.String()
}
