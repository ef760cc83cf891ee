package compiler

import (
	"sync"

	"github.com/viwo/viwo/vm"
)

// Unit is a program embedded in Go source by GoGen. It is compiled on first
// use against the registry of the context that runs it, and the compiled
// program is kept per registry.
type Unit struct {
	Name string

	build func() vm.Node
	once  sync.Once
	node  vm.Node

	mu    sync.Mutex
	progs map[*vm.Registry]Program
}

// NewUnit returns a unit whose AST is produced by build.
func NewUnit(name string, build func() vm.Node) *Unit {
	return &Unit{Name: name, build: build, progs: make(map[*vm.Registry]Program)}
}

// Node returns the unit's AST.
func (u *Unit) Node() vm.Node {
	u.once.Do(func() { u.node = u.build() })
	return u.node
}

// Program returns the unit compiled against ops.
func (u *Unit) Program(ops *vm.Registry) (Program, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if p, ok := u.progs[ops]; ok {
		return p, nil
	}
	p, err := Compile(u.Node(), ops)
	if err != nil {
		return nil, err
	}
	u.progs[ops] = p
	return p, nil
}

// Run executes the unit in ctx.
func (u *Unit) Run(ctx *vm.Context) (any, error) {
	p, err := u.Program(ctx.Ops)
	if err != nil {
		return nil, err
	}
	return p(ctx)
}
