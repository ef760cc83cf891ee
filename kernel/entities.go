package kernel

import (
	"errors"

	"github.com/viwo/viwo/capability"
	"github.com/viwo/viwo/vm"
	"github.com/viwo/viwo/world"
)

func (k *Kernel) entityOps(lib vm.Library) {
	def(lib, "entity", vm.Metadata{
		Label: "Entity", Category: "world",
		Description: "Load an entity by id",
		Parameters:  []vm.Param{param("id", "number", "The entity id.")},
		ReturnType:  "Entity | null",
	}, k.entity)

	def(lib, "create", vm.Metadata{
		Label: "Create Entity", Category: "world",
		Description: "Create an entity (requires sys.create)",
		Parameters: []vm.Param{
			param("cap", "Capability | null", "A sys.create capability."),
			param("props", "object", "Initial properties."),
			optional("prototype", "number | null", "Prototype entity id."),
		},
		ReturnType: "number",
	}, k.create)

	def(lib, "destroy", vm.Metadata{
		Label: "Destroy Entity", Category: "world",
		Description: "Delete an entity (requires entity.control)",
		Parameters: []vm.Param{
			param("cap", "Capability | null", "An entity.control capability for the target."),
			param("target", "Entity", "The entity to delete."),
		},
		ReturnType: "boolean",
	}, k.destroy)

	def(lib, "set_entity", vm.Metadata{
		Label: "Update Entity", Category: "world",
		Description: "Merge properties into an entity (requires entity.control)",
		Parameters: []vm.Param{
			param("cap", "Capability | null", "An entity.control capability for the target."),
			param("target", "Entity", "The entity to update."),
			param("updates", "object", "Properties to merge."),
		},
		ReturnType: "Entity",
	}, k.setEntity)

	def(lib, "set_prototype", vm.Metadata{
		Label: "Set Prototype", Category: "world",
		Description: "Change an entity's prototype (requires entity.control)",
		Parameters: []vm.Param{
			param("cap", "Capability | null", "An entity.control capability for the target."),
			param("target", "Entity", "The entity to re-parent."),
			param("prototype", "number | null", "The new prototype id."),
		},
		ReturnType: "null",
	}, k.setPrototype)

	def(lib, "get_prototype", vm.Metadata{
		Label: "Get Prototype", Category: "world",
		Description: "The prototype id of an entity",
		Parameters:  []vm.Param{param("target", "Entity", "The entity.")},
		ReturnType:  "number | null",
	}, k.getPrototype)

	def(lib, "verbs", vm.Metadata{
		Label: "Verbs", Category: "world",
		Description: "Names of the verbs callable on an entity, including inherited ones",
		Parameters:  []vm.Param{param("target", "Entity", "The entity.")},
		ReturnType:  "string[]",
	}, k.verbs)

	def(lib, "get_verb", vm.Metadata{
		Label: "Get Verb", Category: "world",
		Description: "Resolve a verb through the prototype chain",
		Parameters: []vm.Param{
			param("target", "Entity", "The entity."),
			param("name", "string", "The verb name."),
		},
		ReturnType: "Verb | null",
	}, k.getVerb)

	def(lib, "call", vm.Metadata{
		Label: "Call Verb", Category: "world",
		Description: "Run a verb on an entity; the callee sees this entity as caller",
		Parameters: []vm.Param{
			param("target", "Entity", "The entity."),
			param("verb", "string", "The verb name."),
			optional("...args", "unknown[]", "Arguments."),
		},
		ReturnType: "any",
	}, k.call)

	def(lib, "sudo", vm.Metadata{
		Label: "Sudo", Category: "world",
		Description: "Execute verb as another entity (requires sys.sudo)",
		Parameters: []vm.Param{
			param("cap", "Capability | null", "A sys.sudo capability."),
			param("target", "Entity", "The entity to act as."),
			param("verb", "string", "The verb name."),
			param("args", "any[]", "Arguments."),
		},
		ReturnType: "any",
	}, k.sudo)
}

// authorize checks that capVal is a stored entity.control capability held by
// one of owners, targets target, and is not readonly.
func (k *Kernel) authorize(op string, capVal any, target int64, owners []int64) error {
	c, err := capArg(op, capVal, "expected capability")
	if err != nil {
		return err
	}
	rec, err := k.Store.Capability(c.ID())
	if err != nil {
		return vm.Errorf(vm.KindPermissionDenied, "%s: invalid capability", op)
	}
	stored := capability.FromRecord(rec)
	if err := capability.Check(stored, owners, capability.EntityControlType, capability.TargetIs(target)); err != nil {
		return err
	}
	ec, ok := k.Classes.Hydrate(rec).(capability.EntityControl)
	if !ok {
		ec = capability.NewEntityControl(stored).(capability.EntityControl)
	}
	if ec.ReadOnly() {
		return vm.Errorf(vm.KindPermissionDenied, "%s: capability is readonly", op)
	}
	if !ec.Controls(target) {
		return vm.Errorf(vm.KindPermissionDenied, "%s: capability does not control entity %d", op, target)
	}
	return nil
}

func (k *Kernel) load(op string, id int64) (*world.Entity, error) {
	e, err := k.Store.Entity(id)
	if err != nil {
		return nil, storeError(op, err)
	}
	return e, nil
}

func (k *Kernel) entity(ctx *vm.Context, args []any) (any, error) {
	id, err := entityArg("entity", args, 0)
	if err != nil {
		return nil, err
	}
	e, err := k.Store.Entity(id)
	if errors.Is(err, world.ErrEntityNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("entity", err)
	}
	return e.Value(), nil
}

func (k *Kernel) create(ctx *vm.Context, args []any) (any, error) {
	this, err := thisID(ctx, "create")
	if err != nil {
		return nil, err
	}
	c, err := capArg("create", arg(args, 0), "expected capability")
	if err != nil {
		return nil, err
	}
	rec, err := k.Store.Capability(c.ID())
	if err != nil {
		return nil, vm.Errorf(vm.KindPermissionDenied, "create: invalid capability")
	}
	if err := capability.Check(capability.FromRecord(rec), []int64{this}, TypeCreate, nil); err != nil {
		return nil, err
	}
	props, err := objectArg("create", args, 1)
	if err != nil {
		return nil, err
	}
	if props.Has("id") {
		return nil, vm.Errorf(vm.KindValidation, "create: cannot set 'id'")
	}
	var proto *int64
	if arg(args, 2) != nil {
		p, err := entityArg("create", args, 2)
		if err != nil {
			return nil, err
		}
		proto = &p
	}

	id, err := k.Store.CreateEntity(plainObject(props), proto)
	if err != nil {
		return nil, storeError("create", err)
	}
	if _, err := k.Store.CreateCapability(this, capability.EntityControlType, map[string]any{"target_id": float64(id)}); err != nil {
		return nil, storeError("create", err)
	}
	log.Infof("entity %d created entity %d", this, id)
	return float64(id), nil
}

func (k *Kernel) destroy(ctx *vm.Context, args []any) (any, error) {
	this, err := thisID(ctx, "destroy")
	if err != nil {
		return nil, err
	}
	target, err := entityArg("destroy", args, 1)
	if err != nil {
		return nil, err
	}
	if err := k.authorize("destroy", arg(args, 0), target, []int64{this}); err != nil {
		return nil, err
	}
	if err := k.Store.DeleteEntity(target); err != nil {
		return nil, storeError("destroy", err)
	}
	log.Infof("entity %d destroyed entity %d", this, target)
	return true, nil
}

func (k *Kernel) setEntity(ctx *vm.Context, args []any) (any, error) {
	this, err := thisID(ctx, "set_entity")
	if err != nil {
		return nil, err
	}
	target, err := entityArg("set_entity", args, 1)
	if err != nil {
		return nil, err
	}
	updates, err := objectArg("set_entity", args, 2)
	if err != nil {
		return nil, err
	}
	if updates.Has("id") {
		return nil, vm.Errorf(vm.KindValidation, "set_entity: cannot update 'id'")
	}
	owners := []int64{this}
	if caller, ok := vm.EntityID(ctx.Caller); ok {
		owners = append(owners, caller)
	}
	if err := k.authorize("set_entity", arg(args, 0), target, owners); err != nil {
		return nil, err
	}
	if err := k.Store.UpdateEntity(target, plainObject(updates)); err != nil {
		return nil, storeError("set_entity", err)
	}
	e, err := k.load("set_entity", target)
	if err != nil {
		return nil, err
	}
	return e.Value(), nil
}

func (k *Kernel) setPrototype(ctx *vm.Context, args []any) (any, error) {
	this, err := thisID(ctx, "set_prototype")
	if err != nil {
		return nil, err
	}
	target, err := entityArg("set_prototype", args, 1)
	if err != nil {
		return nil, err
	}
	if err := k.authorize("set_prototype", arg(args, 0), target, []int64{this}); err != nil {
		return nil, err
	}
	var proto *int64
	switch p := arg(args, 2).(type) {
	case nil:
	case float64:
		id := int64(p)
		proto = &id
	default:
		return nil, vm.Errorf(vm.KindValidation,
			"set_prototype: expected number or null for prototype ID, got %s", vm.TypeName(p))
	}
	if err := k.Store.SetPrototype(target, proto); err != nil {
		return nil, storeError("set_prototype", err)
	}
	return nil, nil
}

func (k *Kernel) getPrototype(ctx *vm.Context, args []any) (any, error) {
	id, err := entityArg("get_prototype", args, 0)
	if err != nil {
		return nil, err
	}
	e, err := k.load("get_prototype", id)
	if err != nil {
		return nil, err
	}
	if e.PrototypeID == nil {
		return nil, nil
	}
	return float64(*e.PrototypeID), nil
}

func (k *Kernel) verbs(ctx *vm.Context, args []any) (any, error) {
	id, err := entityArg("verbs", args, 0)
	if err != nil {
		return nil, err
	}
	verbs, err := k.Store.Verbs(id)
	if err != nil {
		return nil, storeError("verbs", err)
	}
	names := make([]any, len(verbs))
	for i, v := range verbs {
		names[i] = v.Name
	}
	return vm.NewList(names...), nil
}

func (k *Kernel) getVerb(ctx *vm.Context, args []any) (any, error) {
	id, err := entityArg("get_verb", args, 0)
	if err != nil {
		return nil, err
	}
	name, ok := arg(args, 1).(string)
	if !ok {
		return nil, vm.Errorf(vm.KindValidation, "get_verb: expected verb name")
	}
	v, err := k.Store.Verb(id, name)
	if errors.Is(err, world.ErrVerbNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeError("get_verb", err)
	}
	return vm.ObjectOf(
		"id", float64(v.ID),
		"name", v.Name,
		"entity_id", float64(v.EntityID),
		"code", vm.FromPlain(vm.ToAny(v.Code)),
	), nil
}

// dispatch resolves and runs a verb in a context derived from ctx.
func (k *Kernel) dispatch(ctx *vm.Context, op string, target int64, name string, prepare func(callee *vm.Context, this *vm.Object)) (any, error) {
	e, err := k.load(op, target)
	if err != nil {
		return nil, err
	}
	verb, err := k.Store.Verb(target, name)
	if errors.Is(err, world.ErrVerbNotFound) {
		return nil, vm.Errorf(vm.KindValidation, "%s: verb '%s' not found", op, name)
	}
	if err != nil {
		return nil, storeError(op, err)
	}
	this := e.Value()
	callee := ctx.Enter(ctx.This, this, nil)
	prepare(callee, this)

	callee.PushFrame(vm.Frame{Name: name, Args: callee.Args})
	defer callee.PopFrame()
	return k.Exec(verb, callee)
}

func (k *Kernel) call(ctx *vm.Context, args []any) (any, error) {
	target, err := entityArg("call", args, 0)
	if err != nil {
		return nil, err
	}
	name, ok := arg(args, 1).(string)
	if !ok {
		return nil, vm.Errorf(vm.KindValidation, "call: expected verb name")
	}
	var rest []any
	if len(args) > 2 {
		rest = append(rest, args[2:]...)
	}
	return k.dispatch(ctx, "call", target, name, func(callee *vm.Context, _ *vm.Object) {
		if rest != nil {
			callee.Args = rest
		}
	})
}

func (k *Kernel) sudo(ctx *vm.Context, args []any) (any, error) {
	this, err := thisID(ctx, "sudo")
	if err != nil {
		return nil, err
	}
	c, err := capArg("sudo", arg(args, 0), "expected capability")
	if err != nil {
		return nil, err
	}
	rec, err := k.Store.Capability(c.ID())
	if err != nil {
		return nil, vm.Errorf(vm.KindPermissionDenied, "sudo: invalid capability")
	}
	if err := capability.Check(capability.FromRecord(rec), []int64{this}, TypeSudo, nil); err != nil {
		return nil, err
	}
	target, err := entityArg("sudo", args, 1)
	if err != nil {
		return nil, err
	}
	name, ok := arg(args, 2).(string)
	if !ok {
		return nil, vm.Errorf(vm.KindValidation, "sudo: expected verb name")
	}
	var verbArgs []any
	switch a := arg(args, 3).(type) {
	case nil:
	case *vm.List:
		verbArgs = append([]any{}, a.Items...)
	default:
		return nil, vm.Errorf(vm.KindValidation, "sudo: args must be a list")
	}

	log.Infof("entity %d sudo as %d: %s", this, target, name)
	send := ctx.Send
	return k.dispatch(ctx, "sudo", target, name, func(callee *vm.Context, self *vm.Object) {
		callee.Caller = self
		if verbArgs != nil {
			callee.Args = verbArgs
		}
		callee.Send = func(typ string, payload any) {
			if send != nil {
				send("forward", vm.ObjectOf("target", float64(target), "type", typ, "payload", payload))
			}
		}
	})
}
