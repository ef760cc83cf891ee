package vm

import "fmt"

// ---------------------------------------------------------------------------
// AST: ScriptValue nodes
// ---------------------------------------------------------------------------

// Node is one element of a script AST. It is either a Literal or an Expr.
// Evaluated is an internal variant carrying an already-computed value.
type Node interface {
	node()
}

// Literal is a self-evaluating primitive: nil, bool, float64 or string.
type Literal struct {
	Value any
}

// Expr is an S-expression. Op names the opcode; Args are unevaluated.
//
// An Expr whose Op is empty is a bare sequence (an empty array, or an array
// whose head is not a string). Bare sequences appear as lambda parameter
// lists and obj.new pairs; evaluating one fails with UnknownOpcode.
type Expr struct {
	Op   string
	Args []Node
}

// Evaluated carries a value that has already been evaluated. Evaluating it
// returns the value unchanged and consumes no gas. It cannot be produced by
// decoding a script; compiled code uses it to hand values to handlers.
type Evaluated struct {
	Value any
}

func (Literal) node()   {}
func (*Expr) node()     {}
func (Evaluated) node() {}

// Lit returns a Literal node.
func Lit(v any) Node {
	return Literal{Value: normalizeNumber(v)}
}

// Call builds an expression node from an opcode and arguments. Arguments that
// are not already nodes are converted with FromAny.
func Call(op string, args ...any) *Expr {
	nodes := make([]Node, len(args))
	for i, a := range args {
		n, err := FromAny(a)
		if err != nil {
			n = Lit(a)
		}
		nodes[i] = n
	}
	return &Expr{Op: op, Args: nodes}
}

// Seq builds a bare sequence of nodes, as used for lambda parameter lists.
func Seq(items ...any) *Expr {
	return Call("", items...)
}

// Elements returns every element of the expression including its head.
func (e *Expr) Elements() []Node {
	if e.Op == "" {
		return e.Args
	}
	out := make([]Node, 0, len(e.Args)+1)
	out = append(out, Literal{Value: e.Op})
	return append(out, e.Args...)
}

// String renders the node in its array form.
func (e *Expr) String() string {
	return fmt.Sprint(ToAny(e))
}

// Names reads a node as a list of identifiers, such as lambda parameters.
func Names(n Node) ([]string, error) {
	e, ok := n.(*Expr)
	if !ok {
		return nil, Errorf(KindValidation, "expected a list of names, got %s", TypeName(nodeValue(n)))
	}
	elems := e.Elements()
	names := make([]string, len(elems))
	for i, el := range elems {
		lit, ok := el.(Literal)
		if !ok {
			return nil, Errorf(KindValidation, "expected a name at position %d", i)
		}
		s, ok := lit.Value.(string)
		if !ok {
			return nil, Errorf(KindValidation, "expected a name at position %d, got %s", i, TypeName(lit.Value))
		}
		names[i] = s
	}
	return names, nil
}

// Name reads a node as a single identifier.
func Name(n Node) (string, bool) {
	lit, ok := n.(Literal)
	if !ok {
		return "", false
	}
	s, ok := lit.Value.(string)
	return s, ok
}

func nodeValue(n Node) any {
	switch n := n.(type) {
	case Literal:
		return n.Value
	case Evaluated:
		return n.Value
	case *Expr:
		return ToAny(n)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Conversion to and from the generic array form
// ---------------------------------------------------------------------------

// FromAny converts a decoded script (JSON-like: nil, bool, numbers, strings
// and []any) into a Node tree.
func FromAny(v any) (Node, error) {
	switch v := v.(type) {
	case nil, bool, string:
		return Literal{Value: v}, nil
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return Literal{Value: normalizeNumber(v)}, nil
	case []any:
		e := &Expr{}
		rest := v
		if len(v) > 0 {
			if op, ok := v[0].(string); ok && op != "" {
				e.Op = op
				rest = v[1:]
			}
		}
		e.Args = make([]Node, len(rest))
		for i, item := range rest {
			n, err := FromAny(item)
			if err != nil {
				return nil, err
			}
			e.Args[i] = n
		}
		return e, nil
	case Node:
		return v, nil
	}
	return nil, fmt.Errorf("vm: cannot use %T as a script value", v)
}

// MustFromAny is like FromAny but panics on error. Intended for tests and
// statically known scripts.
func MustFromAny(v any) Node {
	n, err := FromAny(v)
	if err != nil {
		panic(err)
	}
	return n
}

// ToAny converts a Node back into its generic array form.
func ToAny(n Node) any {
	switch n := n.(type) {
	case Literal:
		return n.Value
	case Evaluated:
		return n.Value
	case *Expr:
		out := make([]any, 0, len(n.Args)+1)
		if n.Op != "" {
			out = append(out, n.Op)
		}
		for _, a := range n.Args {
			out = append(out, ToAny(a))
		}
		return out
	}
	return nil
}

// Count returns the number of nodes in the tree.
func Count(n Node) int {
	e, ok := n.(*Expr)
	if !ok {
		return 1
	}
	total := 1
	for _, a := range e.Args {
		total += Count(a)
	}
	return total
}

func normalizeNumber(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case float32:
		return float64(n)
	}
	return v
}
