// Package kernel provides the opcodes that connect scripts to the world:
// capability introspection and propagation (get_capability, mint, delegate,
// give_capability, has_capability) and the capability-gated entity
// operations built on them.
package kernel

import (
	"errors"

	"github.com/tliron/commonlog"

	"github.com/viwo/viwo/capability"
	"github.com/viwo/viwo/vm"
	"github.com/viwo/viwo/world"
)

var log = commonlog.GetLogger("viwo.kernel")

// Capability types understood by the kernel.
const (
	TypeMint   = "sys.mint"
	TypeCreate = "sys.create"
	TypeSudo   = "sys.sudo"
)

// Executor runs verb code in a context prepared for the callee.
type Executor func(verb *world.Verb, ctx *vm.Context) (any, error)

// Interpret is the default Executor: it tree-walks the verb's code.
func Interpret(verb *world.Verb, ctx *vm.Context) (any, error) {
	return vm.Run(verb.Code, ctx)
}

// Kernel binds the kernel opcodes to a store and a capability class
// registry.
type Kernel struct {
	Store   world.Store
	Classes *capability.ClassRegistry
	Exec    Executor
}

// New returns a kernel over store. A nil classes registry gets the
// built-in classes.
func New(store world.Store, classes *capability.ClassRegistry) *Kernel {
	if classes == nil {
		classes = capability.NewClassRegistry()
	}
	return &Kernel{Store: store, Classes: classes, Exec: Interpret}
}

// Library returns every kernel opcode.
func (k *Kernel) Library() vm.Library {
	lib := vm.Library{}
	k.capabilityOps(lib)
	k.entityOps(lib)
	return lib
}

// Register adds the kernel opcodes to r.
func (k *Kernel) Register(r *vm.Registry) {
	r.RegisterLibrary(k.Library())
}

func def(lib vm.Library, name string, meta vm.Metadata, fn vm.StrictFunc) {
	if meta.Layout == "" {
		meta.Layout = vm.LayoutStandard
	}
	lib[name] = vm.Opcode{Handler: vm.Strict(name, fn), Metadata: meta, Func: fn}
}

func param(name, typ, desc string) vm.Param {
	return vm.Param{Name: name, Type: typ, Description: desc}
}

func optional(name, typ, desc string) vm.Param {
	return vm.Param{Name: name, Type: typ, Optional: true, Description: desc}
}

func arg(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return nil
}

// thisID returns the id of the entity the running code belongs to.
func thisID(ctx *vm.Context, op string) (int64, error) {
	id, ok := vm.EntityID(ctx.This)
	if !ok {
		return 0, vm.Errorf(vm.KindValidation, "%s: no current entity", op)
	}
	return id, nil
}

// capArg extracts a capability argument. A missing capability is a
// permission failure; a value of the wrong type is a validation error.
func capArg(op string, v any, expected string) (*capability.Capability, error) {
	if v == nil {
		return nil, vm.Errorf(vm.KindPermissionDenied, "%s: %s", op, expected)
	}
	c, ok := capability.FromValue(v)
	if !ok {
		return nil, vm.Errorf(vm.KindValidation, "%s: %s", op, expected)
	}
	return c, nil
}

// entityArg accepts an entity object or a numeric id.
func entityArg(op string, args []any, i int) (int64, error) {
	v := arg(args, i)
	if id, ok := vm.EntityID(v); ok {
		return id, nil
	}
	if f, ok := v.(float64); ok && f == float64(int64(f)) {
		return int64(f), nil
	}
	return 0, vm.Errorf(vm.KindValidation, "%s: expected target entity", op)
}

// objectArg accepts an object or null (an empty object).
func objectArg(op string, args []any, i int) (*vm.Object, error) {
	switch v := arg(args, i).(type) {
	case nil:
		return vm.NewObject(), nil
	case *vm.Object:
		return v, nil
	}
	return nil, vm.Errorf(vm.KindValidation, "%s: expected object, got %s", op, vm.TypeName(arg(args, i)))
}

// storeError maps store failures onto script errors.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, world.ErrEntityNotFound),
		errors.Is(err, world.ErrVerbNotFound),
		errors.Is(err, world.ErrCapabilityNotFound):
		return vm.Errorf(vm.KindValidation, "%s: %v", op, err)
	}
	log.Errorf("%s: store failure: %s", op, err)
	return vm.Wrap(vm.KindValidation, err)
}

// plainObject converts a script object into stored props.
func plainObject(o *vm.Object) map[string]any {
	out := make(map[string]any, o.Len())
	o.Each(func(k string, v any) {
		out[k] = vm.ToPlain(v)
	})
	return out
}
