package compiler

import (
	"math"

	"github.com/viwo/viwo/vm"
)

// native translates a builtin opcode inline. It reports false for builtin
// lazy opcodes it has no translation for; those use generic dispatch.
func (c *compiler) native(e *vm.Expr, op vm.Opcode) (code, bool, error) {
	var (
		body code
		err  error
	)
	switch e.Op {
	case "seq":
		body, err = c.seq(e)
	case "if":
		body, err = c.ifElse(e)
	case "while":
		body, err = c.while(e)
	case "for":
		body, err = c.forEach(e)
	case "let", "set":
		body, err = c.bind(e)
	case "var":
		body, err = c.variable(e)
	case "lambda":
		body, err = c.lambda(e)
	case "try":
		body, err = c.try(e)
	case "quote":
		body, err = c.quote(e)
	case "and", "or":
		body, err = c.logic(e)
	case "obj.new":
		body, err = c.objectNew(e)
	case "+", "-", "*", "/", "%", "^":
		body, err = c.arith(e)
	case "==", "!=", "<", "<=", ">", ">=":
		body, err = c.compare(e)
	case "obj.get", "obj.has", "obj.del":
		body, err = c.access(e, op, 2, objectKeyGuard)
	case "obj.set":
		body, err = c.access(e, op, 3, objectKeyGuard)
	case "list.get":
		body, err = c.access(e, op, 2, listKeyGuard)
	case "list.set":
		body, err = c.access(e, op, 3, listKeyGuard)
	case "list.map", "list.filter", "list.find", "list.reduce":
		body, err = c.iterate(e, op)
	case "str.concat":
		body, err = c.concat(e)
	case "time.now":
		body, err = c.now(e)
	default:
		if op.Func == nil {
			return nil, false, nil
		}
		body, err = c.direct(e, op)
	}
	if err != nil {
		return nil, false, err
	}
	return body, true, nil
}

// fail returns code raising a fresh validation error on every run.
func fail(format string, args ...any) code {
	return func(*frame) (any, error) {
		return nil, vm.Errorf(vm.KindValidation, format, args...)
	}
}

// strict evaluates args left to right and passes the values to fn. A
// failure inside fn is annotated with the evaluated arguments.
func strict(name string, args []code, fn func(f *frame, vals []any) (any, error)) code {
	return func(f *frame) (any, error) {
		vals, err := evalAll(f, args)
		if err != nil {
			return nil, err
		}
		v, err := fn(f, vals)
		if err != nil {
			return nil, vm.Annotate(f.ctx, err, name, vals)
		}
		return v, nil
	}
}

// direct calls a builtin strict opcode bound at compile time.
func (c *compiler) direct(e *vm.Expr, op vm.Opcode) (code, error) {
	args, err := c.compileAll(e.Args)
	if err != nil {
		return nil, err
	}
	fn := op.Func
	return strict(e.Op, args, func(f *frame, vals []any) (any, error) {
		return fn(f.ctx, vals)
	}), nil
}

func arg(vals []any, i int) any {
	if i < len(vals) {
		return vals[i]
	}
	return nil
}

// ---------------------------------------------------------------------------
// Arithmetic and comparison
// ---------------------------------------------------------------------------

var binaryArith = map[string]func(a, b float64) float64{
	"+": func(a, b float64) float64 { return a + b },
	"-": func(a, b float64) float64 { return a - b },
	"*": func(a, b float64) float64 { return a * b },
	"/": func(a, b float64) float64 { return a / b },
	"%": math.Mod,
	"^": math.Pow,
}

func (c *compiler) arith(e *vm.Expr) (code, error) {
	args, err := c.compileAll(e.Args)
	if err != nil {
		return nil, err
	}
	name := e.Op
	if len(args) != 2 {
		return strict(name, args, func(_ *frame, vals []any) (any, error) {
			return vm.Arith(name, vals)
		}), nil
	}

	fn, left, right := binaryArith[name], args[0], args[1]
	return func(f *frame) (any, error) {
		a, err := left(f)
		if err != nil {
			return nil, err
		}
		b, err := right(f)
		if err != nil {
			return nil, err
		}
		if x, ok := a.(float64); ok {
			if y, ok := b.(float64); ok {
				return fn(x, y), nil
			}
		}
		vals := []any{a, b}
		_, err = vm.Arith(name, vals)
		return nil, vm.Annotate(f.ctx, err, name, vals)
	}, nil
}

type comparator func(a, b any) (bool, error)

var comparators = map[string]comparator{
	"==": func(a, b any) (bool, error) { return vm.Equal(a, b), nil },
	"!=": func(a, b any) (bool, error) { return !vm.Equal(a, b), nil },
	"<": func(a, b any) (bool, error) {
		if x, y, ok := numbers(a, b); ok {
			return x < y, nil
		}
		return vm.Less("<", a, b)
	},
	">": func(a, b any) (bool, error) {
		if x, y, ok := numbers(a, b); ok {
			return y < x, nil
		}
		return vm.Less(">", b, a)
	},
	"<=": func(a, b any) (bool, error) {
		if x, y, ok := numbers(a, b); ok {
			return x <= y, nil
		}
		return vm.LessEqual("<=", a, b)
	},
	">=": func(a, b any) (bool, error) {
		if x, y, ok := numbers(a, b); ok {
			return x >= y, nil
		}
		return vm.LessEqual(">=", b, a)
	},
}

func numbers(a, b any) (float64, float64, bool) {
	x, ok := a.(float64)
	if !ok {
		return 0, 0, false
	}
	y, ok := b.(float64)
	return x, y, ok
}

// compare translates a comparison. Two operands compile to one direct
// test; more compile to adjacent pairwise tests joined by and, after every
// operand has been evaluated.
func (c *compiler) compare(e *vm.Expr) (code, error) {
	args, err := c.compileAll(e.Args)
	if err != nil {
		return nil, err
	}
	name, test := e.Op, comparators[e.Op]

	if len(args) == 2 {
		left, right := args[0], args[1]
		return func(f *frame) (any, error) {
			a, err := left(f)
			if err != nil {
				return nil, err
			}
			b, err := right(f)
			if err != nil {
				return nil, err
			}
			ok, err := test(a, b)
			if err != nil {
				return nil, vm.Annotate(f.ctx, err, name, []any{a, b})
			}
			return ok, nil
		}, nil
	}

	return strict(name, args, func(_ *frame, vals []any) (any, error) {
		if len(vals) < 2 {
			return vm.Chain(name, vals, test)
		}
		for i := 0; i+1 < len(vals); i++ {
			ok, err := test(vals[i], vals[i+1])
			if err != nil {
				return nil, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	}), nil
}

func (c *compiler) concat(e *vm.Expr) (code, error) {
	args, err := c.compileAll(e.Args)
	if err != nil {
		return nil, err
	}
	return strict(e.Op, args, func(_ *frame, vals []any) (any, error) {
		return vm.Concat(vals), nil
	}), nil
}

func (c *compiler) now(e *vm.Expr) (code, error) {
	args, err := c.compileAll(e.Args)
	if err != nil {
		return nil, err
	}
	return strict(e.Op, args, func(*frame, []any) (any, error) {
		return vm.FormatISO(vm.Clock()), nil
	}), nil
}

// ---------------------------------------------------------------------------
// Collections
// ---------------------------------------------------------------------------

// keyGuard is the runtime check for a key that was not known statically.
// It runs at the point where the interpreted opcode checks its key.
type keyGuard func(vals []any, need int) error

func objectKeyGuard(vals []any, need int) error {
	if len(vals) < need {
		return nil
	}
	if s, ok := vals[1].(string); ok && vm.IsDangerousKey(s) {
		return vm.SecurityViolation(s)
	}
	return nil
}

func listKeyGuard(vals []any, need int) error {
	if _, ok := arg(vals, 0).(*vm.List); !ok || len(vals) < need {
		return nil
	}
	return vm.CheckKey(vals[1])
}

// staticKey rejects a literal dangerous key at compile time.
func staticKey(e *vm.Expr, n vm.Node) error {
	key, ok := vm.Name(n)
	if !ok || !vm.IsDangerousKey(key) {
		return nil
	}
	se := vm.SecurityViolation(key)
	se.Op = e.Op
	se.Args = vm.RawArgs(e.Args)
	return se
}

// access compiles a keyed read or write of an object or list.
func (c *compiler) access(e *vm.Expr, op vm.Opcode, need int, guard keyGuard) (code, error) {
	if len(e.Args) > 1 {
		if err := staticKey(e, e.Args[1]); err != nil {
			return nil, err
		}
	}
	args, err := c.compileAll(e.Args)
	if err != nil {
		return nil, err
	}
	fn := op.Func
	return strict(e.Op, args, func(f *frame, vals []any) (any, error) {
		if err := guard(vals, need); err != nil {
			return nil, err
		}
		return fn(f.ctx, vals)
	}), nil
}

type objectPair struct {
	key, value code
	bad        bool
}

func (c *compiler) objectNew(e *vm.Expr) (code, error) {
	pairs := make([]objectPair, len(e.Args))
	for i, a := range e.Args {
		pair, ok := a.(*vm.Expr)
		if !ok || len(pair.Elements()) != 2 {
			pairs[i].bad = true
			continue
		}
		elems := pair.Elements()
		if err := staticKey(e, elems[0]); err != nil {
			return nil, err
		}
		k, err := c.compile(elems[0])
		if err != nil {
			return nil, err
		}
		v, err := c.compile(elems[1])
		if err != nil {
			return nil, err
		}
		pairs[i] = objectPair{key: k, value: v}
	}

	return func(f *frame) (any, error) {
		o := vm.NewObject()
		for i, p := range pairs {
			if p.bad {
				return nil, vm.Errorf(vm.KindValidation, "obj.new: argument %d must be a [key, value] pair", i)
			}
			k, err := p.key(f)
			if err != nil {
				return nil, err
			}
			key, err := vm.KeyOf("obj.new", k)
			if err != nil {
				return nil, err
			}
			v, err := p.value(f)
			if err != nil {
				return nil, err
			}
			o.Set(key, v)
		}
		return o, nil
	}, nil
}

// iterate compiles the list callbacks as native loops. Anything other than
// a list and a lambda is left to the opcode itself for its error.
func (c *compiler) iterate(e *vm.Expr, op vm.Opcode) (code, error) {
	args, err := c.compileAll(e.Args)
	if err != nil {
		return nil, err
	}
	name, fn := e.Op, op.Func
	return strict(name, args, func(f *frame, vals []any) (any, error) {
		l, ok := arg(vals, 0).(*vm.List)
		if !ok {
			return fn(f.ctx, vals)
		}
		lambda, ok := arg(vals, 1).(*vm.Lambda)
		if !ok {
			return fn(f.ctx, vals)
		}
		items := make([]any, len(l.Items))
		copy(items, l.Items)

		switch name {
		case "list.map":
			out := make([]any, 0, len(items))
			for i, item := range items {
				v, err := vm.Apply(f.ctx, lambda, []any{item, float64(i)})
				if err != nil {
					return nil, err
				}
				out = append(out, v)
			}
			return vm.NewList(out...), nil
		case "list.filter":
			out := []any{}
			for i, item := range items {
				v, err := vm.Apply(f.ctx, lambda, []any{item, float64(i)})
				if err != nil {
					return nil, err
				}
				if vm.Truthy(v) {
					out = append(out, item)
				}
			}
			return vm.NewList(out...), nil
		case "list.find":
			for i, item := range items {
				v, err := vm.Apply(f.ctx, lambda, []any{item, float64(i)})
				if err != nil {
					return nil, err
				}
				if vm.Truthy(v) {
					return item, nil
				}
			}
			return nil, nil
		}
		acc := arg(vals, 2)
		for i, item := range items {
			v, err := vm.Apply(f.ctx, lambda, []any{acc, item, float64(i)})
			if err != nil {
				return nil, err
			}
			acc = v
		}
		return acc, nil
	}), nil
}
