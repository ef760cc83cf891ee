// Package world defines the persistence contracts the engine depends on:
// entities with prototype inheritance, verbs attached to them, and the
// capability records that authorize mutation.
package world

import (
	"errors"

	"github.com/viwo/viwo/vm"
)

var (
	ErrEntityNotFound     = errors.New("entity not found")
	ErrVerbNotFound       = errors.New("verb not found")
	ErrCapabilityNotFound = errors.New("capability not found")
)

// Entity is a world object. Props holds every property except the id and
// the prototype link.
type Entity struct {
	ID          int64
	PrototypeID *int64
	Props       map[string]any
}

// Value returns the entity as a script object: its props plus "id" and,
// when set, "prototype_id".
func (e *Entity) Value() *vm.Object {
	o := vm.NewObject()
	o.Set("id", float64(e.ID))
	if e.PrototypeID != nil {
		o.Set("prototype_id", float64(*e.PrototypeID))
	}
	if plain, ok := vm.FromPlain(e.Props).(*vm.Object); ok {
		plain.Each(func(k string, v any) {
			if k != "id" && k != "prototype_id" {
				o.Set(k, v)
			}
		})
	}
	return o
}

// Verb is a named script attached to an entity.
type Verb struct {
	ID       int64
	EntityID int64
	Name     string
	Code     vm.Node
}

// CapabilityRecord is the stored form of a capability.
type CapabilityRecord struct {
	ID      string
	OwnerID int64
	Type    string
	Params  map[string]any
}

// EntityStore persists entities and verbs.
//
// Verb and Verbs resolve through the prototype chain: instance verbs shadow
// prototype verbs of the same name.
type EntityStore interface {
	Entity(id int64) (*Entity, error)
	CreateEntity(props map[string]any, prototypeID *int64) (int64, error)
	UpdateEntity(id int64, props map[string]any) error
	DeleteEntity(id int64) error
	SetPrototype(id int64, prototypeID *int64) error
	Verbs(id int64) ([]*Verb, error)
	Verb(id int64, name string) (*Verb, error)
	AddVerb(entityID int64, name string, code vm.Node) (int64, error)
}

// CapabilityStore persists capability records. Capabilities returns the
// records of one owner in storage order.
type CapabilityStore interface {
	CreateCapability(ownerID int64, typ string, params map[string]any) (string, error)
	Capability(id string) (*CapabilityRecord, error)
	Capabilities(ownerID int64) ([]*CapabilityRecord, error)
	UpdateCapabilityOwner(id string, ownerID int64) error
}

// Store is the combined persistence surface.
type Store interface {
	EntityStore
	CapabilityStore
}
