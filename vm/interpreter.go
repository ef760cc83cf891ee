package vm

// ---------------------------------------------------------------------------
// Interpreter: recursive tree walker
// ---------------------------------------------------------------------------

// Evaluate evaluates node in ctx.
//
// Every node costs one unit of gas, charged before evaluation. Literals
// evaluate to themselves. Expressions dispatch to the handler registered
// for their opcode, which receives the unevaluated arguments.
func Evaluate(node Node, ctx *Context) (any, error) {
	if ev, ok := node.(Evaluated); ok {
		return ev.Value, nil
	}
	if err := ctx.Consume(); err != nil {
		return nil, err
	}
	expr, ok := node.(*Expr)
	if !ok {
		if lit, ok := node.(Literal); ok {
			return lit.Value, nil
		}
		return nil, nil
	}

	op, found := lookup(ctx, expr)
	if !found {
		return nil, annotate(UnknownOpcode(HeadName(expr)), HeadName(expr), RawArgs(expr.Args), ctx.run.stack)
	}
	v, err := op.Handler(ctx, expr.Args)
	if err != nil {
		return nil, annotate(err, expr.Op, RawArgs(expr.Args), ctx.run.stack)
	}
	return v, nil
}

func lookup(ctx *Context, expr *Expr) (Opcode, bool) {
	if expr.Op == "" || ctx.Ops == nil {
		return Opcode{}, false
	}
	return ctx.Ops.Lookup(expr.Op)
}

// HeadName names the opcode of expr for error messages. For a bare sequence
// it is the string form of the first element.
func HeadName(expr *Expr) string {
	if expr.Op != "" || len(expr.Args) == 0 {
		return expr.Op
	}
	return ToString(nodeValue(expr.Args[0]))
}

// RawArgs is the best-known argument list for a failing opcode: literal
// values as-is, sub-expressions in their array form.
func RawArgs(nodes []Node) []any {
	out := make([]any, len(nodes))
	for i, n := range nodes {
		out[i] = nodeValue(n)
	}
	return out
}

// ---------------------------------------------------------------------------
// Lambda application
// ---------------------------------------------------------------------------

// LambdaFrameName is the stack frame name recorded for anonymous lambdas.
const LambdaFrameName = "<lambda>"

// Apply invokes fn with positional arguments. A fresh scope is seeded from
// the lambda's closure snapshot; missing arguments bind to null.
func Apply(ctx *Context, fn any, args []any) (any, error) {
	lambda, ok := fn.(*Lambda)
	if !ok || lambda == nil {
		return nil, Errorf(KindValidation, "apply: func must be a lambda, got %s", TypeName(fn))
	}
	ctx.PushFrame(Frame{Name: LambdaFrameName, Args: args})
	defer ctx.PopFrame()

	if lambda.Native != nil {
		return lambda.Native(ctx, args)
	}
	vars := make(map[string]any, len(lambda.Closure)+len(lambda.Params))
	for k, v := range lambda.Closure {
		vars[k] = v
	}
	for i, p := range lambda.Params {
		if i < len(args) {
			vars[p] = args[i]
		} else {
			vars[p] = nil
		}
	}
	return Evaluate(lambda.Body, ctx.WithVars(vars))
}

// NewLambda creates an interpreted lambda that closes over a snapshot of vars.
func NewLambda(params []string, body Node, vars map[string]any) *Lambda {
	closure := make(map[string]any, len(vars))
	for k, v := range vars {
		closure[k] = v
	}
	return &Lambda{Params: params, Body: body, Closure: closure}
}

// Run evaluates a top-level script. A break that escapes every loop is
// reported as a validation error.
func Run(node Node, ctx *Context) (any, error) {
	v, err := Evaluate(node, ctx)
	if err != nil {
		if _, ok := IsBreak(err); ok {
			return nil, Errorf(KindValidation, "break outside of loop")
		}
		return nil, err
	}
	return v, nil
}
