package vm

import (
	"sort"
	"sync"
)

// ---------------------------------------------------------------------------
// Opcode registry
// ---------------------------------------------------------------------------

// Handler implements an opcode. It receives the unevaluated argument nodes
// and decides itself what to evaluate and in which order.
type Handler func(ctx *Context, args []Node) (any, error)

// Layout is a UI hint for visual editors.
type Layout string

const (
	LayoutStandard    Layout = "standard"
	LayoutInfix       Layout = "infix"
	LayoutPrimitive   Layout = "primitive"
	LayoutControlFlow Layout = "control-flow"
)

// Param describes one opcode parameter.
type Param struct {
	Name        string
	Type        string
	Optional    bool
	Description string
}

// Slot describes an editor input slot.
type Slot struct {
	Name    string
	Type    string
	Default any
}

// Metadata documents an opcode for type generation and editors.
type Metadata struct {
	Label             string
	Category          string
	Description       string
	Parameters        []Param
	GenericParameters []string
	ReturnType        string
	Layout            Layout
	Slots             []Slot

	// Lazy opcodes receive raw argument nodes from compiled code too.
	Lazy bool
}

// Opcode pairs a handler with its metadata.
//
// Func is set for strict opcodes built with Strict; compiled code calls it
// directly with evaluated arguments. Builtin marks the definitions shipped
// in this package. The compiler translates builtin opcodes inline, so a host
// that overrides one gets generic dispatch for its replacement.
type Opcode struct {
	Handler  Handler
	Metadata Metadata
	Func     StrictFunc
	Builtin  bool
}

// OpcodeInfo is an opcode's metadata tagged with its name.
type OpcodeInfo struct {
	Opcode string
	Metadata
}

// Library is a named set of opcodes.
type Library map[string]Opcode

// Registry maps opcode names to definitions. Registering a name twice
// replaces the earlier definition.
type Registry struct {
	mu  sync.RWMutex
	ops map[string]Opcode
}

// NewRegistry returns a registry populated with the given libraries.
func NewRegistry(libs ...Library) *Registry {
	r := &Registry{ops: make(map[string]Opcode)}
	for _, lib := range libs {
		r.RegisterLibrary(lib)
	}
	return r
}

// Register adds or replaces a single opcode.
func (r *Registry) Register(name string, op Opcode) {
	r.mu.Lock()
	r.ops[name] = op
	r.mu.Unlock()
}

// RegisterLibrary adds every opcode of lib.
func (r *Registry) RegisterLibrary(lib Library) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, op := range lib {
		r.ops[name] = op
	}
}

// Lookup returns the definition for name.
func (r *Registry) Lookup(name string) (Opcode, bool) {
	r.mu.RLock()
	op, ok := r.ops[name]
	r.mu.RUnlock()
	return op, ok
}

// Remove deletes opcodes by name.
func (r *Registry) Remove(names ...string) {
	r.mu.Lock()
	for _, n := range names {
		delete(r.ops, n)
	}
	r.mu.Unlock()
}

// Clone returns an independent copy.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := &Registry{ops: make(map[string]Opcode, len(r.ops))}
	for name, op := range r.ops {
		c.ops[name] = op
	}
	return c
}

// Restrict returns a copy holding only the named opcodes.
func (r *Registry) Restrict(names ...string) *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := &Registry{ops: make(map[string]Opcode, len(names))}
	for _, n := range names {
		if op, ok := r.ops[n]; ok {
			c.ops[n] = op
		}
	}
	return c
}

// Names returns all opcode names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.ops))
	for n := range r.ops {
		names = append(names, n)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Metadata returns metadata for every opcode, sorted by name.
func (r *Registry) Metadata() []OpcodeInfo {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]OpcodeInfo, 0, len(names))
	for _, n := range names {
		if op, ok := r.ops[n]; ok {
			out = append(out, OpcodeInfo{Opcode: n, Metadata: op.Metadata})
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Handler helpers
// ---------------------------------------------------------------------------

// StrictFunc implements an opcode over evaluated arguments.
type StrictFunc func(ctx *Context, args []any) (any, error)

// Strict adapts fn into a Handler that evaluates every argument left to
// right before calling it. Failures inside fn are annotated with the
// evaluated arguments.
func Strict(op string, fn StrictFunc) Handler {
	return func(ctx *Context, nodes []Node) (any, error) {
		args, err := EvaluateAll(ctx, nodes)
		if err != nil {
			return nil, err
		}
		v, err := fn(ctx, args)
		if err != nil {
			return nil, annotate(err, op, args, ctx.run.stack)
		}
		return v, nil
	}
}

// EvaluateAll evaluates nodes left to right.
func EvaluateAll(ctx *Context, nodes []Node) ([]any, error) {
	args := make([]any, len(nodes))
	for i, n := range nodes {
		v, err := Evaluate(n, ctx)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return args, nil
}

// define is shorthand used by the standard libraries.
func define(lib Library, name string, meta Metadata, fn StrictFunc) {
	lib[name] = Opcode{Handler: Strict(name, fn), Metadata: meta, Func: fn, Builtin: true}
}

// defineLazy registers a handler that controls its own evaluation.
func defineLazy(lib Library, name string, meta Metadata, h Handler) {
	meta.Lazy = true
	lib[name] = Opcode{Handler: h, Metadata: meta, Builtin: true}
}
