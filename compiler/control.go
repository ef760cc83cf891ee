package compiler

import (
	"github.com/viwo/viwo/vm"
)

// ---------------------------------------------------------------------------
// Control flow, variables and closures
// ---------------------------------------------------------------------------

func (c *compiler) seq(e *vm.Expr) (code, error) {
	body, err := c.compileAll(e.Args)
	if err != nil {
		return nil, err
	}
	return func(f *frame) (any, error) {
		var last any
		for _, b := range body {
			v, err := b(f)
			if err != nil {
				return nil, err
			}
			last = v
		}
		return last, nil
	}, nil
}

func (c *compiler) ifElse(e *vm.Expr) (code, error) {
	if len(e.Args) < 2 {
		return fail("if: expected condition and branch"), nil
	}
	cond, err := c.compile(e.Args[0])
	if err != nil {
		return nil, err
	}
	then, err := c.compile(e.Args[1])
	if err != nil {
		return nil, err
	}
	var otherwise code
	if len(e.Args) > 2 {
		if otherwise, err = c.compile(e.Args[2]); err != nil {
			return nil, err
		}
	}
	return func(f *frame) (any, error) {
		v, err := cond(f)
		if err != nil {
			return nil, err
		}
		if vm.Truthy(v) {
			return then(f)
		}
		if otherwise != nil {
			return otherwise(f)
		}
		return nil, nil
	}, nil
}

func (c *compiler) while(e *vm.Expr) (code, error) {
	if len(e.Args) < 2 {
		return fail("while: expected condition and body"), nil
	}
	cond, err := c.compile(e.Args[0])
	if err != nil {
		return nil, err
	}
	body, err := c.compile(e.Args[1])
	if err != nil {
		return nil, err
	}
	return func(f *frame) (any, error) {
		var result any
		for {
			v, err := cond(f)
			if err != nil {
				return nil, err
			}
			if !vm.Truthy(v) {
				return result, nil
			}
			v, err = body(f)
			if err != nil {
				if bv, ok := vm.IsBreak(err); ok {
					return vm.BreakResult(bv, result), nil
				}
				return nil, err
			}
			result = v
		}
	}, nil
}

func (c *compiler) forEach(e *vm.Expr) (code, error) {
	if len(e.Args) < 3 {
		return fail("for: expected variable, list and body"), nil
	}
	name, ok := vm.Name(e.Args[0])
	if !ok {
		return fail("for: variable name must be a string"), nil
	}
	slot := c.scope.slot(name)
	list, err := c.compile(e.Args[1])
	if err != nil {
		return nil, err
	}
	body, err := c.compile(e.Args[2])
	if err != nil {
		return nil, err
	}
	return func(f *frame) (any, error) {
		coll, err := list(f)
		if err != nil {
			return nil, err
		}
		l, ok := coll.(*vm.List)
		if !ok {
			return nil, nil
		}
		var result any
		for i := 0; i < len(l.Items); i++ {
			f.set(slot, l.Items[i])
			v, err := body(f)
			if err != nil {
				if bv, ok := vm.IsBreak(err); ok {
					return vm.BreakResult(bv, result), nil
				}
				return nil, err
			}
			result = v
		}
		return result, nil
	}, nil
}

// bind compiles let and set. Scope is flat per function body, so both
// write the same slot.
func (c *compiler) bind(e *vm.Expr) (code, error) {
	if len(e.Args) < 2 {
		return fail("%s: expected name and value", e.Op), nil
	}
	name, ok := vm.Name(e.Args[0])
	if !ok {
		return fail("%s: variable name must be a string", e.Op), nil
	}
	slot := c.scope.slot(name)
	value, err := c.compile(e.Args[1])
	if err != nil {
		return nil, err
	}
	return func(f *frame) (any, error) {
		v, err := value(f)
		if err != nil {
			return nil, err
		}
		f.set(slot, v)
		return v, nil
	}, nil
}

func (c *compiler) variable(e *vm.Expr) (code, error) {
	if len(e.Args) < 1 {
		return fail("var: expected variable name"), nil
	}
	name, ok := vm.Name(e.Args[0])
	if !ok {
		return fail("var: variable name must be a string"), nil
	}
	slot := c.scope.slot(name)
	return func(f *frame) (any, error) {
		return f.slots[slot], nil
	}, nil
}

func (c *compiler) lambda(e *vm.Expr) (code, error) {
	if len(e.Args) < 2 {
		return fail("lambda: expected parameters and body"), nil
	}
	paramNode, bodyNode := e.Args[0], e.Args[1]
	params, err := vm.Names(paramNode)
	if err != nil {
		return func(*frame) (any, error) {
			_, err := vm.Names(paramNode)
			return nil, err
		}, nil
	}

	inner := newScope(collectNames(bodyNode, append([]string(nil), params...)))
	sub := &compiler{ops: c.ops, scope: inner}
	body, err := sub.compile(bodyNode)
	if err != nil {
		return nil, err
	}

	paramSlots := make([]int, len(params))
	for i, p := range params {
		paramSlots[i] = inner.slot(p)
	}
	return func(f *frame) (any, error) {
		captured := f.vars()
		native := func(ctx *vm.Context, args []any) (any, error) {
			lf := newFrame(ctx, inner, captured)
			for i, s := range paramSlots {
				lf.set(s, arg(args, i))
			}
			return body(lf)
		}
		return &vm.Lambda{Params: params, Body: bodyNode, Closure: captured, Native: native}, nil
	}, nil
}

func (c *compiler) try(e *vm.Expr) (code, error) {
	if len(e.Args) < 1 {
		return fail("try: expected a block"), nil
	}
	body, err := c.compile(e.Args[0])
	if err != nil {
		return nil, err
	}
	errSlot := -1
	if len(e.Args) > 1 {
		if name, ok := vm.Name(e.Args[1]); ok && name != "" {
			errSlot = c.scope.slot(name)
		}
	}
	var catch code
	if len(e.Args) > 2 {
		if catch, err = c.compile(e.Args[2]); err != nil {
			return nil, err
		}
	}
	return func(f *frame) (any, error) {
		v, err := body(f)
		if err == nil {
			return v, nil
		}
		msg, ok := vm.Catchable(err)
		if !ok {
			return nil, err
		}
		if errSlot >= 0 {
			f.set(errSlot, msg)
		}
		if catch != nil {
			return catch(f)
		}
		return nil, nil
	}, nil
}

func (c *compiler) quote(e *vm.Expr) (code, error) {
	if len(e.Args) < 1 {
		return func(*frame) (any, error) { return nil, nil }, nil
	}
	plain := vm.ToAny(e.Args[0])
	return func(*frame) (any, error) {
		return vm.FromPlain(plain), nil
	}, nil
}

// logic compiles the short-circuiting and/or.
func (c *compiler) logic(e *vm.Expr) (code, error) {
	args, err := c.compileAll(e.Args)
	if err != nil {
		return nil, err
	}
	stopOn := e.Op == "or"
	return func(f *frame) (any, error) {
		for _, a := range args {
			v, err := a(f)
			if err != nil {
				return nil, err
			}
			if vm.Truthy(v) == stopOn {
				return stopOn, nil
			}
		}
		return !stopOn, nil
	}, nil
}
