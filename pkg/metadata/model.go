// Package metadata describes the entity types a tracker knows about: their
// scalar properties, key roles, navigations and tracking tier. Metadata is
// built once with a Builder and is immutable afterwards.
package metadata

import (
	"reflect"

	"github.com/juju/errors"

	"github.com/mesh-intelligence/tracker/pkg/types"
)

// EntityType describes one Go struct type that can be tracked. Instances are
// always handled as pointers to the struct.
type EntityType struct {
	name        string
	goType      reflect.Type
	tier        types.Tier
	properties  []*Property
	navigations []*Navigation
	key         []*Property

	propertyByName   map[string]*Property
	navigationByName map[string]*Navigation
}

// Name returns the entity type name.
func (t *EntityType) Name() string { return t.name }

// Type returns the struct type described.
func (t *EntityType) Type() reflect.Type { return t.goType }

// Tier returns the tracking tier, fixed when the model is built.
func (t *EntityType) Tier() types.Tier { return t.tier }

// UsesEagerSnapshots reports whether the type is snapshotted when tracking
// starts instead of from notifications.
func (t *EntityType) UsesEagerSnapshots() bool { return t.tier.UsesEagerSnapshots() }

// Properties returns the scalar properties in declaration order.
func (t *EntityType) Properties() []*Property { return t.properties }

// Navigations returns the navigations in declaration order.
func (t *EntityType) Navigations() []*Navigation { return t.navigations }

// Key returns the identity key properties.
func (t *EntityType) Key() []*Property { return t.key }

func (t *EntityType) String() string { return t.name }

// Property returns the property with the given name.
func (t *EntityType) Property(name string) (*Property, error) {
	p, ok := t.propertyByName[name]
	if !ok {
		return nil, errors.Annotatef(types.ErrUnknownProperty, "%s.%s", t.name, name)
	}
	return p, nil
}

// Navigation returns the navigation with the given name.
func (t *EntityType) Navigation(name string) (*Navigation, error) {
	n, ok := t.navigationByName[name]
	if !ok {
		return nil, errors.Annotatef(types.ErrUnknownNavigation, "%s.%s", t.name, name)
	}
	return n, nil
}

// Member returns the property or navigation with the given name.
func (t *EntityType) Member(name string) (Member, error) {
	if p, ok := t.propertyByName[name]; ok {
		return p, nil
	}
	if n, ok := t.navigationByName[name]; ok {
		return n, nil
	}
	return nil, errors.Annotatef(types.ErrUnknownMember, "%s.%s", t.name, name)
}

// New allocates a zero instance and returns a pointer to it.
func (t *EntityType) New() any {
	return reflect.New(t.goType).Interface()
}

// Model is the set of entity types known to a tracker.
type Model struct {
	entityTypes []*EntityType
	byGoType    map[reflect.Type]*EntityType
	byName      map[string]*EntityType
}

// EntityTypes returns every entity type in registration order.
func (m *Model) EntityTypes() []*EntityType { return m.entityTypes }

// EntityType returns the entity type registered under name.
func (m *Model) EntityType(name string) (*EntityType, error) {
	et, ok := m.byName[name]
	if !ok {
		return nil, errors.Annotatef(types.ErrUnknownEntityType, "%q", name)
	}
	return et, nil
}

// EntityTypeOf returns the entity type of entity, which must be a pointer to
// a registered struct.
func (m *Model) EntityTypeOf(entity any) (*EntityType, error) {
	rt := reflect.TypeOf(entity)
	if rt == nil || rt.Kind() != reflect.Pointer {
		return nil, errors.Annotatef(types.ErrUnknownEntityType, "%T is not a struct pointer", entity)
	}
	et, ok := m.byGoType[rt.Elem()]
	if !ok {
		return nil, errors.Annotatef(types.ErrUnknownEntityType, "%T", entity)
	}
	if reflect.ValueOf(entity).IsNil() {
		return nil, errors.NotValidf("nil %T", entity)
	}
	return et, nil
}
