package vm

import (
	"strings"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("viwo.vm")

// ---------------------------------------------------------------------------
// Std library: control flow, variables, lambdas, errors, context access
// ---------------------------------------------------------------------------

func param(name, typ, desc string) Param {
	return Param{Name: name, Type: typ, Description: desc}
}

func optional(name, typ, desc string) Param {
	return Param{Name: name, Type: typ, Optional: true, Description: desc}
}

// StdLibrary returns the core language opcodes.
func StdLibrary() Library {
	lib := Library{}

	defineLazy(lib, "seq", Metadata{
		Label: "Sequence", Category: "logic", Layout: LayoutControlFlow,
		Description: "Evaluate expressions in order and return the last result",
		Parameters:  []Param{param("...args", "any[]", "The expressions to evaluate.")},
		ReturnType:  "any",
	}, func(ctx *Context, args []Node) (any, error) {
		var last any
		for _, a := range args {
			v, err := Evaluate(a, ctx)
			if err != nil {
				return nil, err
			}
			last = v
		}
		return last, nil
	})

	defineLazy(lib, "if", Metadata{
		Label: "If", Category: "logic", Layout: LayoutControlFlow,
		Description: "Conditional execution",
		Parameters: []Param{
			param("condition", "unknown", "The condition to check."),
			param("then", "any", "Evaluated when the condition is truthy."),
			optional("else", "any", "Evaluated otherwise."),
		},
		ReturnType: "any",
	}, func(ctx *Context, args []Node) (any, error) {
		if len(args) < 2 {
			return nil, Errorf(KindValidation, "if: expected condition and branch")
		}
		cond, err := Evaluate(args[0], ctx)
		if err != nil {
			return nil, err
		}
		if Truthy(cond) {
			return Evaluate(args[1], ctx)
		}
		if len(args) > 2 {
			return Evaluate(args[2], ctx)
		}
		return nil, nil
	})

	defineLazy(lib, "while", Metadata{
		Label: "While", Category: "logic", Layout: LayoutControlFlow,
		Description: "Repeat the body while the condition holds",
		Parameters: []Param{
			param("condition", "unknown", "Loop condition."),
			param("body", "any", "Loop body."),
		},
		ReturnType: "any",
	}, func(ctx *Context, args []Node) (any, error) {
		if len(args) < 2 {
			return nil, Errorf(KindValidation, "while: expected condition and body")
		}
		var result any
		for {
			cond, err := Evaluate(args[0], ctx)
			if err != nil {
				return nil, err
			}
			if !Truthy(cond) {
				return result, nil
			}
			v, err := Evaluate(args[1], ctx)
			if err != nil {
				if bv, ok := IsBreak(err); ok {
					return BreakResult(bv, result), nil
				}
				return nil, err
			}
			result = v
		}
	})

	defineLazy(lib, "for", Metadata{
		Label: "For Each", Category: "logic", Layout: LayoutControlFlow,
		Description: "Iterate over a list",
		Parameters: []Param{
			param("var", "string", "Loop variable name."),
			param("list", "any[]", "The list to iterate."),
			param("body", "any", "Loop body."),
		},
		ReturnType: "any",
	}, func(ctx *Context, args []Node) (any, error) {
		if len(args) < 3 {
			return nil, Errorf(KindValidation, "for: expected variable, list and body")
		}
		name, ok := Name(args[0])
		if !ok {
			return nil, Errorf(KindValidation, "for: variable name must be a string")
		}
		coll, err := Evaluate(args[1], ctx)
		if err != nil {
			return nil, err
		}
		list, ok := coll.(*List)
		if !ok {
			return nil, nil
		}
		var result any
		for i := 0; i < len(list.Items); i++ {
			ctx.Vars[name] = list.Items[i]
			v, err := Evaluate(args[2], ctx)
			if err != nil {
				if bv, ok := IsBreak(err); ok {
					return BreakResult(bv, result), nil
				}
				return nil, err
			}
			result = v
		}
		return result, nil
	})

	defineLazy(lib, "let", Metadata{
		Label: "Let", Category: "data",
		Description: "Bind a local variable",
		Parameters: []Param{
			param("name", "string", "Variable name."),
			param("value", "any", "Initial value."),
		},
		ReturnType: "any",
	}, bindHandler("let"))

	defineLazy(lib, "set", Metadata{
		Label: "Set", Category: "data",
		Description: "Assign a local variable",
		Parameters: []Param{
			param("name", "string", "Variable name."),
			param("value", "any", "New value."),
		},
		ReturnType: "any",
	}, bindHandler("set"))

	defineLazy(lib, "var", Metadata{
		Label: "Get Variable", Category: "data", Layout: LayoutPrimitive,
		Description: "Read a local variable; undefined variables are null",
		Parameters:  []Param{param("name", "string", "Variable name.")},
		ReturnType:  "any",
	}, func(ctx *Context, args []Node) (any, error) {
		if len(args) < 1 {
			return nil, Errorf(KindValidation, "var: expected variable name")
		}
		name, ok := Name(args[0])
		if !ok {
			return nil, Errorf(KindValidation, "var: variable name must be a string")
		}
		return ctx.Vars[name], nil
	})

	defineLazy(lib, "lambda", Metadata{
		Label: "Lambda", Category: "func",
		Description: "Create a closure over a snapshot of the current variables",
		Parameters: []Param{
			param("args", "string[]", "Parameter names."),
			param("body", "any", "Body expression."),
		},
		ReturnType: "any",
	}, func(ctx *Context, args []Node) (any, error) {
		if len(args) < 2 {
			return nil, Errorf(KindValidation, "lambda: expected parameters and body")
		}
		params, err := Names(args[0])
		if err != nil {
			return nil, err
		}
		return NewLambda(params, args[1], ctx.Vars), nil
	})

	define(lib, "apply", Metadata{
		Label: "Apply", Category: "func",
		Description: "Call a lambda with arguments",
		Parameters: []Param{
			param("func", "any", "The lambda to call."),
			param("...args", "any[]", "Arguments."),
		},
		ReturnType: "any",
	}, func(ctx *Context, args []any) (any, error) {
		if len(args) < 1 {
			return nil, Errorf(KindValidation, "apply: expected a lambda")
		}
		return Apply(ctx, args[0], args[1:])
	})

	defineLazy(lib, "try", Metadata{
		Label: "Try", Category: "logic", Layout: LayoutControlFlow,
		Description: "Evaluate a block, handling errors with a catch block",
		Parameters: []Param{
			param("try", "any", "Block to attempt."),
			optional("errorVar", "string", "Variable bound to the error message."),
			optional("catch", "any", "Handler block."),
		},
		ReturnType: "any",
	}, func(ctx *Context, args []Node) (any, error) {
		if len(args) < 1 {
			return nil, Errorf(KindValidation, "try: expected a block")
		}
		v, err := Evaluate(args[0], ctx)
		if err == nil {
			return v, nil
		}
		msg, catchable := Catchable(err)
		if !catchable {
			return nil, err
		}
		if len(args) > 1 {
			if name, ok := Name(args[1]); ok && name != "" {
				ctx.Vars[name] = msg
			}
		}
		if len(args) > 2 {
			return Evaluate(args[2], ctx)
		}
		return nil, nil
	})

	define(lib, "throw", Metadata{
		Label: "Throw", Category: "logic",
		Description: "Raise an error",
		Parameters:  []Param{param("message", "unknown", "Error message.")},
		ReturnType:  "never",
	}, func(ctx *Context, args []any) (any, error) {
		var msg any
		if len(args) > 0 {
			msg = args[0]
		}
		return nil, Errorf(KindThrown, "%s", ToString(msg))
	})

	define(lib, "break", Metadata{
		Label: "Break", Category: "logic",
		Description: "Exit the innermost loop with an optional value",
		Parameters:  []Param{optional("value", "any", "Loop result.")},
		ReturnType:  "never",
	}, func(ctx *Context, args []any) (any, error) {
		var v any
		if len(args) > 0 {
			v = args[0]
		}
		return nil, Break(v)
	})

	defineLazy(lib, "quote", Metadata{
		Label: "Quote", Category: "data",
		Description: "Return the argument without evaluating it",
		Parameters:  []Param{param("value", "any", "Expression to return as data.")},
		ReturnType:  "any",
	}, func(ctx *Context, args []Node) (any, error) {
		if len(args) < 1 {
			return nil, nil
		}
		return FromPlain(ToAny(args[0])), nil
	})

	define(lib, "log", Metadata{
		Label: "Log", Category: "action",
		Description: "Write a message to the server log",
		Parameters:  []Param{param("...args", "unknown[]", "Values to log.")},
		ReturnType:  "null",
	}, func(ctx *Context, args []any) (any, error) {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = ToString(a)
		}
		log.Info(strings.Join(parts, " "))
		return nil, nil
	})

	define(lib, "warn", Metadata{
		Label: "Warn", Category: "action",
		Description: "Record a warning for the invoking session",
		Parameters:  []Param{param("message", "unknown", "Warning text.")},
		ReturnType:  "null",
	}, func(ctx *Context, args []any) (any, error) {
		var msg any
		if len(args) > 0 {
			msg = args[0]
		}
		text := ToString(msg)
		ctx.Warn(text)
		log.Warning(text)
		return nil, nil
	})

	define(lib, "send", Metadata{
		Label: "Send", Category: "action",
		Description: "Send a notification to the invoking session",
		Parameters: []Param{
			param("type", "string", "Message type."),
			param("payload", "unknown", "Message payload."),
		},
		ReturnType: "null",
	}, func(ctx *Context, args []any) (any, error) {
		if len(args) < 1 {
			return nil, Errorf(KindValidation, "send: expected message type")
		}
		typ, ok := args[0].(string)
		if !ok {
			return nil, Errorf(KindValidation, "send: message type must be a string")
		}
		var payload any
		if len(args) > 1 {
			payload = args[1]
		}
		ctx.Notify(typ, payload)
		return nil, nil
	})

	define(lib, "arg", Metadata{
		Label: "Argument", Category: "data", Layout: LayoutPrimitive,
		Description: "Read a verb argument by index",
		Parameters:  []Param{param("index", "number", "Argument index.")},
		ReturnType:  "any",
	}, func(ctx *Context, args []any) (any, error) {
		if len(args) < 1 {
			return nil, Errorf(KindValidation, "arg: expected index")
		}
		idx, ok := toIndex(args[0])
		if !ok {
			return nil, Errorf(KindValidation, "arg: index must be an integer")
		}
		if idx < 0 || idx >= len(ctx.Args) {
			return nil, nil
		}
		return ctx.Args[idx], nil
	})

	define(lib, "args", Metadata{
		Label: "Arguments", Category: "data", Layout: LayoutPrimitive,
		Description: "All verb arguments as a list",
		ReturnType:  "any[]",
	}, func(ctx *Context, args []any) (any, error) {
		items := make([]any, len(ctx.Args))
		copy(items, ctx.Args)
		return NewList(items...), nil
	})

	define(lib, "this", Metadata{
		Label: "This", Category: "data", Layout: LayoutPrimitive,
		Description: "The entity the running verb is attached to",
		ReturnType:  "Entity",
	}, func(ctx *Context, args []any) (any, error) {
		if ctx.This == nil {
			return nil, nil
		}
		return ctx.This, nil
	})

	define(lib, "caller", Metadata{
		Label: "Caller", Category: "data", Layout: LayoutPrimitive,
		Description: "The entity that started this execution chain",
		ReturnType:  "Entity",
	}, func(ctx *Context, args []any) (any, error) {
		if ctx.Caller == nil {
			return nil, nil
		}
		return ctx.Caller, nil
	})

	define(lib, "typeof", Metadata{
		Label: "Type Of", Category: "data",
		Description: "Name the type of a value",
		Parameters:  []Param{param("value", "unknown", "Value to inspect.")},
		ReturnType:  "string",
	}, func(ctx *Context, args []any) (any, error) {
		if len(args) < 1 {
			return "null", nil
		}
		return TypeName(args[0]), nil
	})

	return lib
}

func bindHandler(op string) Handler {
	return func(ctx *Context, args []Node) (any, error) {
		if len(args) < 2 {
			return nil, Errorf(KindValidation, "%s: expected name and value", op)
		}
		name, ok := Name(args[0])
		if !ok {
			return nil, Errorf(KindValidation, "%s: variable name must be a string", op)
		}
		v, err := Evaluate(args[1], ctx)
		if err != nil {
			return nil, err
		}
		ctx.Vars[name] = v
		return v, nil
	}
}

// BreakResult is the value of a loop ended by break: the break value, or
// the last body result when break carried none.
func BreakResult(value, last any) any {
	if value != nil {
		return value
	}
	return last
}

// Catchable reports whether try may intercept err, and the message bound to
// the catch variable. Sandbox violations, exhausted gas and loop breaks
// always propagate.
func Catchable(err error) (string, bool) {
	if _, ok := IsBreak(err); ok {
		return "", false
	}
	switch KindOf(err) {
	case KindSecurity, KindOutOfGas:
		return "", false
	}
	return err.Error(), true
}
