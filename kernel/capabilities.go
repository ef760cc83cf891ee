package kernel

import (
	"strings"

	"github.com/viwo/viwo/capability"
	"github.com/viwo/viwo/vm"
	"github.com/viwo/viwo/world"
)

func (k *Kernel) capabilityOps(lib vm.Library) {
	def(lib, "get_capability", vm.Metadata{
		Label: "Get Capability", Category: "kernel",
		Description:       "Retrieve a capability owned by the current entity",
		GenericParameters: []string{"Type extends keyof CapabilityRegistry"},
		Parameters: []vm.Param{
			param("type", "Type", "The capability type."),
			optional("filter", "object", "Filter parameters."),
		},
		ReturnType: "CapabilityRegistry[Type] | null",
		Slots:      []vm.Slot{{Name: "Type", Type: "string"}, {Name: "Filter", Type: "block"}},
	}, k.getCapability)

	def(lib, "mint", vm.Metadata{
		Label: "Mint Capability", Category: "kernel",
		Description: "Mint a new capability (requires sys.mint)",
		Parameters: []vm.Param{
			param("authority", "object", "The authority capability."),
			param("type", "string", "The capability type to mint."),
			param("params", "object", "The capability parameters."),
		},
		ReturnType: "Capability",
		Slots: []vm.Slot{
			{Name: "Authority", Type: "block"}, {Name: "Type", Type: "string"}, {Name: "Params", Type: "block"},
		},
	}, k.mint)

	def(lib, "delegate", vm.Metadata{
		Label: "Delegate Capability", Category: "kernel",
		Description: "Create a restricted version of a capability",
		Parameters: []vm.Param{
			param("parent", "object", "The parent capability."),
			param("restrictions", "object", "The restrictions to apply."),
		},
		ReturnType: "Capability",
		Slots:      []vm.Slot{{Name: "Parent", Type: "block"}, {Name: "Restrictions", Type: "block"}},
	}, k.delegate)

	def(lib, "give_capability", vm.Metadata{
		Label: "Give Capability", Category: "kernel",
		Description: "Transfer a capability to another entity",
		Parameters: []vm.Param{
			param("cap", "object", "The capability to give."),
			param("target", "object", "The target entity."),
		},
		ReturnType: "null",
		Slots:      []vm.Slot{{Name: "Cap", Type: "block"}, {Name: "Target", Type: "block"}},
	}, k.giveCapability)

	def(lib, "has_capability", vm.Metadata{
		Label: "Has Capability", Category: "kernel",
		Description: "Check if an entity has a capability",
		Parameters: []vm.Param{
			param("target", "object", "The target entity."),
			param("type", "string", "The capability type."),
			optional("filter", "object", "Filter parameters."),
		},
		ReturnType: "boolean",
		Slots: []vm.Slot{
			{Name: "Target", Type: "block"}, {Name: "Type", Type: "string"}, {Name: "Filter", Type: "block"},
		},
	}, k.hasCapability)
}

// find returns the first capability of owner matching typ and filter, in
// storage order.
func (k *Kernel) find(op string, owner int64, typ string, filter *vm.Object) (*world.CapabilityRecord, error) {
	recs, err := k.Store.Capabilities(owner)
	if err != nil {
		return nil, storeError(op, err)
	}
	for _, rec := range recs {
		if capability.Matches(rec.Params, rec.Type, typ, filter) {
			return rec, nil
		}
	}
	return nil, nil
}

func lookupArgs(op string, args []any, typeIdx int) (string, *vm.Object, error) {
	typ, ok := arg(args, typeIdx).(string)
	if !ok {
		return "", nil, vm.Errorf(vm.KindValidation, "%s: expected capability type string", op)
	}
	var filter *vm.Object
	if f := arg(args, typeIdx+1); f != nil {
		o, ok := f.(*vm.Object)
		if !ok {
			return "", nil, vm.Errorf(vm.KindValidation, "%s: filter must be an object", op)
		}
		filter = o
	}
	return typ, filter, nil
}

func (k *Kernel) getCapability(ctx *vm.Context, args []any) (any, error) {
	this, err := thisID(ctx, "get_capability")
	if err != nil {
		return nil, err
	}
	typ, filter, err := lookupArgs("get_capability", args, 0)
	if err != nil {
		return nil, err
	}
	rec, err := k.find("get_capability", this, typ, filter)
	if err != nil || rec == nil {
		return nil, err
	}
	return k.Classes.Hydrate(rec), nil
}

func (k *Kernel) hasCapability(ctx *vm.Context, args []any) (any, error) {
	target, err := entityArg("has_capability", args, 0)
	if err != nil {
		return nil, err
	}
	typ, filter, err := lookupArgs("has_capability", args, 1)
	if err != nil {
		return nil, err
	}
	rec, err := k.find("has_capability", target, typ, filter)
	if err != nil {
		return nil, err
	}
	return rec != nil, nil
}

// owned re-reads the capability behind v from the store and confirms the
// current entity owns it. Script-held tokens may be stale after a transfer,
// so the stored record is authoritative.
func (k *Kernel) owned(ctx *vm.Context, op string, v any, expected, invalid string) (*world.CapabilityRecord, error) {
	c, err := capArg(op, v, expected)
	if err != nil {
		return nil, err
	}
	this, err := thisID(ctx, op)
	if err != nil {
		return nil, err
	}
	rec, err := k.Store.Capability(c.ID())
	if err != nil || rec.OwnerID != this {
		return nil, vm.Errorf(vm.KindPermissionDenied, "%s: %s", op, invalid)
	}
	return rec, nil
}

func (k *Kernel) mint(ctx *vm.Context, args []any) (any, error) {
	auth, err := k.owned(ctx, "mint", arg(args, 0),
		"expected capability for authority", "invalid authority capability")
	if err != nil {
		return nil, err
	}
	if auth.Type != TypeMint {
		return nil, vm.Errorf(vm.KindPermissionDenied, "mint: authority must be sys.mint")
	}
	ns, ok := auth.Params["namespace"].(string)
	if !ok {
		return nil, vm.Errorf(vm.KindPermissionDenied, "mint: authority namespace must be string")
	}
	typ, ok := arg(args, 1).(string)
	if !ok {
		return nil, vm.Errorf(vm.KindValidation, "mint: expected capability type string")
	}
	if ns != capability.Wildcard && !strings.HasPrefix(typ, ns) {
		return nil, vm.Errorf(vm.KindPermissionDenied, "mint: authority namespace '%s' does not cover '%s'", ns, typ)
	}
	params, err := objectArg("mint", args, 2)
	if err != nil {
		return nil, err
	}

	owner := auth.OwnerID
	plain := plainObject(params)
	id, err := k.Store.CreateCapability(owner, typ, plain)
	if err != nil {
		return nil, storeError("mint", err)
	}
	log.Infof("entity %d minted %s (%s)", owner, typ, id)
	return k.Classes.Hydrate(&world.CapabilityRecord{ID: id, OwnerID: owner, Type: typ, Params: plain}), nil
}

func (k *Kernel) delegate(ctx *vm.Context, args []any) (any, error) {
	parentRec, err := k.owned(ctx, "delegate", arg(args, 0), "expected capability", "invalid parent capability")
	if err != nil {
		return nil, err
	}
	restrictions, err := objectArg("delegate", args, 1)
	if err != nil {
		return nil, err
	}
	params, err := capability.Narrow(capability.FromRecord(parentRec), restrictions)
	if err != nil {
		return nil, err
	}

	id, err := k.Store.CreateCapability(parentRec.OwnerID, parentRec.Type, params)
	if err != nil {
		return nil, storeError("delegate", err)
	}
	return k.Classes.Hydrate(&world.CapabilityRecord{
		ID: id, OwnerID: parentRec.OwnerID, Type: parentRec.Type, Params: params,
	}), nil
}

func (k *Kernel) giveCapability(ctx *vm.Context, args []any) (any, error) {
	if _, err := capArg("give_capability", arg(args, 0), "expected capability"); err != nil {
		return nil, err
	}
	target, err := entityArg("give_capability", args, 1)
	if err != nil {
		return nil, err
	}
	rec, err := k.owned(ctx, "give_capability", arg(args, 0), "expected capability", "invalid capability")
	if err != nil {
		return nil, err
	}
	if err := k.Store.UpdateCapabilityOwner(rec.ID, target); err != nil {
		return nil, storeError("give_capability", err)
	}
	log.Infof("capability %s (%s) given from %d to %d", rec.ID, rec.Type, rec.OwnerID, target)
	return nil, nil
}
