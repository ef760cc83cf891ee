// Package compiler translates script ASTs into Go closures ahead of
// execution.
//
// A compiled Program behaves like interpreting the same AST through the same
// registry: it charges one unit of gas per node, evaluates arguments in the
// same order and reports failures with the same opcode context. Builtin
// opcodes are translated inline. Everything else goes through generic
// dispatch, which looks the opcode up by name when it runs.
//
// Variables live in flat slots, one array per function body, over an
// environment map holding everything else visible: host vars at the root
// and the closure snapshot inside a lambda. A lambda captures the whole
// visible environment when it is created, matching the interpreter.
package compiler

import (
	"github.com/tliron/commonlog"

	"github.com/viwo/viwo/vm"
)

var log = commonlog.GetLogger("viwo.compiler")

// Program is a compiled script. Running it is equivalent to vm.Run on the
// source AST.
type Program func(ctx *vm.Context) (any, error)

// code evaluates one compiled node.
type code func(f *frame) (any, error)

// frame is the activation of one function body. env is never written in
// place; bridge replaces it.
type frame struct {
	ctx   *vm.Context
	slots []any
	bound []bool
	scope *scope
	env   map[string]any
}

func newFrame(ctx *vm.Context, sc *scope, env map[string]any) *frame {
	f := &frame{
		ctx:   ctx,
		slots: make([]any, len(sc.names)),
		bound: make([]bool, len(sc.names)),
		scope: sc,
		env:   env,
	}
	for i, name := range sc.names {
		if v, ok := env[name]; ok {
			f.set(i, v)
		}
	}
	return f
}

func (f *frame) set(i int, v any) {
	f.slots[i] = v
	f.bound[i] = true
}

// vars returns a fresh map of every variable visible in f, the same map
// the interpreter would hold at this point.
func (f *frame) vars() map[string]any {
	vars := make(map[string]any, len(f.env)+len(f.slots))
	for k, v := range f.env {
		vars[k] = v
	}
	for i, name := range f.scope.names {
		if f.bound[i] {
			vars[name] = f.slots[i]
		}
	}
	return vars
}

// scope is the slot layout of one function body.
type scope struct {
	names []string
	index map[string]int
}

func newScope(names []string) *scope {
	s := &scope{index: make(map[string]int, len(names))}
	for _, n := range names {
		s.add(n)
	}
	return s
}

func (s *scope) add(name string) int {
	if i, ok := s.index[name]; ok {
		return i
	}
	i := len(s.names)
	s.names = append(s.names, name)
	s.index[name] = i
	return i
}

func (s *scope) slot(name string) int {
	return s.add(name)
}

// Compile translates node into a Program. Literal dangerous keys are
// rejected here with a SecurityError; nothing is executed.
func Compile(node vm.Node, ops *vm.Registry) (Program, error) {
	if ops == nil {
		ops = vm.NewRegistry()
	}
	c := &compiler{ops: ops, scope: newScope(collectNames(node, nil))}
	body, err := c.compile(node)
	if err != nil {
		return nil, err
	}
	sc := c.scope
	log.Debugf("compiled program: %d nodes, %d slots", vm.Count(node), len(sc.names))

	return func(ctx *vm.Context) (any, error) {
		v, err := body(newFrame(ctx, sc, ctx.Vars))
		if err != nil {
			if _, ok := vm.IsBreak(err); ok {
				return nil, vm.Errorf(vm.KindValidation, "break outside of loop")
			}
			return nil, err
		}
		return v, nil
	}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(node vm.Node, ops *vm.Registry) Program {
	p, err := Compile(node, ops)
	if err != nil {
		panic(err)
	}
	return p
}

type compiler struct {
	ops   *vm.Registry
	scope *scope
}

func (c *compiler) compile(n vm.Node) (code, error) {
	switch n := n.(type) {
	case vm.Evaluated:
		v := n.Value
		return func(*frame) (any, error) { return v, nil }, nil
	case vm.Literal:
		v := n.Value
		return func(f *frame) (any, error) {
			if err := f.ctx.Consume(); err != nil {
				return nil, err
			}
			return v, nil
		}, nil
	case *vm.Expr:
		return c.expr(n)
	}
	return func(f *frame) (any, error) {
		return nil, f.ctx.Consume()
	}, nil
}

func (c *compiler) compileAll(nodes []vm.Node) ([]code, error) {
	out := make([]code, len(nodes))
	for i, n := range nodes {
		cn, err := c.compile(n)
		if err != nil {
			return nil, err
		}
		out[i] = cn
	}
	return out, nil
}

func (c *compiler) expr(e *vm.Expr) (code, error) {
	raw := vm.RawArgs(e.Args)
	if e.Op != "" {
		if op, ok := c.ops.Lookup(e.Op); ok && op.Builtin {
			body, ok, err := c.native(e, op)
			if err != nil {
				return nil, err
			}
			if ok {
				return node(e.Op, raw, body), nil
			}
		}
	}
	return c.generic(e, raw)
}

// node charges gas for the expression itself and annotates failures the
// way the interpreter does.
func node(op string, raw []any, body code) code {
	return func(f *frame) (any, error) {
		if err := f.ctx.Consume(); err != nil {
			return nil, err
		}
		v, err := body(f)
		if err != nil {
			return nil, vm.Annotate(f.ctx, err, op, raw)
		}
		return v, nil
	}
}

// generic dispatches through the registry at call time. Lazy opcodes get
// the raw argument nodes. Both kinds see the full variable scope.
func (c *compiler) generic(e *vm.Expr, raw []any) (code, error) {
	args, err := c.compileAll(e.Args)
	if err != nil {
		return nil, err
	}
	name, head, nodes, ops := e.Op, vm.HeadName(e), e.Args, c.ops

	return func(f *frame) (any, error) {
		if err := f.ctx.Consume(); err != nil {
			return nil, err
		}
		op, ok := vm.Opcode{}, false
		if name != "" {
			op, ok = ops.Lookup(name)
		}
		if !ok {
			return nil, vm.Annotate(f.ctx, vm.UnknownOpcode(head), head, raw)
		}

		var (
			v   any
			err error
		)
		if op.Metadata.Lazy {
			v, err = f.bridge(func(ctx *vm.Context) (any, error) {
				return op.Handler(ctx, nodes)
			})
		} else {
			v, err = call(f, name, op, args)
		}
		if err != nil {
			return nil, vm.Annotate(f.ctx, err, name, raw)
		}
		return v, nil
	}, nil
}

// call evaluates args and invokes a strict opcode with them.
func call(f *frame, name string, op vm.Opcode, args []code) (any, error) {
	vals, err := evalAll(f, args)
	if err != nil {
		return nil, err
	}
	return f.bridge(func(ctx *vm.Context) (any, error) {
		if op.Func != nil {
			v, err := op.Func(ctx, vals)
			if err != nil {
				return nil, vm.Annotate(ctx, err, name, vals)
			}
			return v, nil
		}
		nodes := make([]vm.Node, len(vals))
		for i, v := range vals {
			nodes[i] = vm.Evaluated{Value: v}
		}
		return op.Handler(ctx, nodes)
	})
}

func evalAll(f *frame, args []code) ([]any, error) {
	vals := make([]any, len(args))
	for i, a := range args {
		v, err := a(f)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

// bridge runs a host handler over a map of every visible variable, then
// adopts the map so bindings it made are visible to compiled code.
func (f *frame) bridge(run func(ctx *vm.Context) (any, error)) (any, error) {
	vars := f.vars()
	v, err := run(f.ctx.WithVars(vars))
	for name, val := range vars {
		if i, ok := f.scope.index[name]; ok {
			f.set(i, val)
		}
	}
	f.env = vars
	return v, err
}

// collectNames lists every variable name a body may touch: let, set, var,
// for and try bindings and lambda parameters, including those of nested
// lambdas so that closures can be captured by slot.
func collectNames(n vm.Node, names []string) []string {
	e, ok := n.(*vm.Expr)
	if !ok {
		return names
	}
	switch e.Op {
	case "let", "set", "var", "for":
		if len(e.Args) > 0 {
			if name, ok := vm.Name(e.Args[0]); ok {
				names = append(names, name)
			}
		}
	case "try":
		if len(e.Args) > 1 {
			if name, ok := vm.Name(e.Args[1]); ok && name != "" {
				names = append(names, name)
			}
		}
	case "lambda":
		if len(e.Args) > 0 {
			if params, err := vm.Names(e.Args[0]); err == nil {
				names = append(names, params...)
			}
		}
	}
	for _, a := range e.Args {
		names = collectNames(a, names)
	}
	return names
}
