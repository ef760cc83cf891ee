// Package engine is the embedding surface of the script runtime. It builds
// the opcode registry from a manifest, binds the kernel to a store and runs
// verbs in the configured mode.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tliron/commonlog"

	"github.com/viwo/viwo/capability"
	"github.com/viwo/viwo/compiler"
	"github.com/viwo/viwo/compiler/hash"
	"github.com/viwo/viwo/kernel"
	"github.com/viwo/viwo/manifest"
	"github.com/viwo/viwo/store"
	"github.com/viwo/viwo/syntax"
	"github.com/viwo/viwo/vm"
	"github.com/viwo/viwo/world"
)

var log = commonlog.GetLogger("viwo.engine")

// Engine runs scripts against one world store. It is not safe for
// concurrent use; share it through a Worker.
type Engine struct {
	Manifest *manifest.Manifest
	Store    world.Store
	Classes  *capability.ClassRegistry
	Kernel   *kernel.Kernel
	Ops      *vm.Registry

	mu    sync.Mutex
	cache map[cacheKey]compiler.Program

	closer func() error
}

// cacheKey identifies a compiled verb. The content hash keeps an edited
// verb from reusing a stale program.
type cacheKey struct {
	verbID int64
	sum    string
}

// Invocation describes one top-level run.
type Invocation struct {
	// Verb supplies the code. Verbs with a zero ID are not cached by id.
	Verb *world.Verb
	// Caller and This are entity ids; zero means none.
	Caller int64
	This   int64
	Args   []any
	// Gas overrides the manifest budget when positive.
	Gas  int64
	Send func(typ string, payload any)
}

// Result is the outcome of a successful run.
type Result struct {
	Value    any
	Warnings []string
	GasUsed  int64
}

// New builds an engine over st. A nil manifest gets the defaults.
func New(m *manifest.Manifest, st world.Store) (*Engine, error) {
	if m == nil {
		m = manifest.Default()
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		Manifest: m,
		Store:    st,
		Classes:  capability.NewClassRegistry(),
		cache:    make(map[cacheKey]compiler.Program),
	}
	e.Kernel = kernel.New(st, e.Classes)
	e.Kernel.Exec = e.execute

	e.Ops = vm.NewStdRegistry()
	e.Kernel.Register(e.Ops)
	e.Ops.Remove(m.Engine.Disabled...)

	log.Infof("engine ready: mode %s, gas %d, %d opcodes", m.Engine.Mode, m.Engine.Gas, len(e.Ops.Names()))
	return e, nil
}

// Open opens the manifest's store, seeds it from the configured fixture and
// returns an engine that owns it.
func Open(m *manifest.Manifest) (*Engine, error) {
	if m == nil {
		m = manifest.Default()
	}
	st, err := store.Open(m.StorePath())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if path := m.FixturePath(); path != "" {
		if err := st.LoadFixtureFile(path); err != nil {
			st.Close()
			return nil, fmt.Errorf("load fixture: %w", err)
		}
	}
	e, err := New(m, st)
	if err != nil {
		st.Close()
		return nil, err
	}
	e.closer = st.Close
	return e, nil
}

// Close releases the store if the engine opened it.
func (e *Engine) Close() error {
	if e.closer == nil {
		return nil
	}
	return e.closer()
}

// Compiled reports whether verbs run as compiled programs.
func (e *Engine) Compiled() bool {
	return e.Manifest.Engine.Mode == manifest.ModeCompile
}

// Run executes an invocation. Script failures are returned as
// *vm.ScriptError.
func (e *Engine) Run(ctx context.Context, inv Invocation) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if inv.Verb == nil {
		return nil, errors.New("engine: invocation has no verb")
	}
	vctx, err := e.newContext(inv)
	if err != nil {
		return nil, err
	}
	start := vctx.Gas()

	frame := inv.Verb.Name
	if frame == "" {
		frame = "<main>"
	}
	vctx.PushFrame(vm.Frame{Name: frame, Args: vctx.Args})
	v, err := e.execute(inv.Verb, vctx)
	vctx.PopFrame()
	if err != nil {
		e.report(inv.Verb, err)
		return nil, err
	}
	return &Result{Value: v, Warnings: vctx.Warnings(), GasUsed: start - vctx.Gas()}, nil
}

// RunSource parses src and runs it as an anonymous verb.
func (e *Engine) RunSource(ctx context.Context, src string, inv Invocation) (*Result, error) {
	node, err := syntax.ParseProgram(src)
	if err != nil {
		return nil, err
	}
	inv.Verb = &world.Verb{Code: node}
	return e.Run(ctx, inv)
}

func (e *Engine) newContext(inv Invocation) (*vm.Context, error) {
	gas := inv.Gas
	if gas <= 0 {
		gas = e.Manifest.Engine.Gas
	}
	opts := vm.Options{Ops: e.Ops, Gas: gas, Args: inv.Args, Send: inv.Send}
	if inv.This != 0 {
		ent, err := e.Store.Entity(inv.This)
		if err != nil {
			return nil, fmt.Errorf("engine: this: %w", err)
		}
		opts.This = ent.Value()
	}
	if inv.Caller != 0 {
		ent, err := e.Store.Entity(inv.Caller)
		if err != nil {
			return nil, fmt.Errorf("engine: caller: %w", err)
		}
		opts.Caller = ent.Value()
	}
	return vm.NewContext(opts), nil
}

// execute is the kernel Executor: verbs reached through call and sudo run
// in the same mode as the top-level script.
func (e *Engine) execute(verb *world.Verb, ctx *vm.Context) (any, error) {
	if !e.Compiled() {
		return kernel.Interpret(verb, ctx)
	}
	p, err := e.Program(verb)
	if err != nil {
		return nil, err
	}
	return p(ctx)
}

// Program returns the compiled form of verb, compiling it on first use.
func (e *Engine) Program(verb *world.Verb) (compiler.Program, error) {
	key := cacheKey{verbID: verb.ID, sum: hash.String(verb.Code)}

	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.cache[key]; ok {
		return p, nil
	}
	p, err := compiler.Compile(verb.Code, e.Ops)
	if err != nil {
		return nil, err
	}
	log.Debugf("compiled verb %d %q (%s)", verb.ID, verb.Name, key.sum[:12])
	e.cache[key] = p
	return p, nil
}

// CachedPrograms returns the number of compiled programs held.
func (e *Engine) CachedPrograms() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.cache)
}

// Typedefs lists the metadata of every registered opcode.
func (e *Engine) Typedefs() []vm.OpcodeInfo {
	return e.Ops.Metadata()
}

func (e *Engine) report(verb *world.Verb, err error) {
	var se *vm.ScriptError
	if !errors.As(err, &se) {
		log.Errorf("verb %q: %s", verb.Name, err)
		return
	}
	if se.Kind == vm.KindOutOfGas {
		log.Warningf("verb %q: %s", verb.Name, se.Message)
		return
	}
	log.Errorf("verb %q: %s: %s (op %s, args %v, depth %d)", verb.Name, se.Kind, se.Message, se.Op, se.Args, len(se.StackTrace))
}

// ErrStopped is returned by a Worker after Stop.
var ErrStopped = errors.New("engine: worker stopped")
