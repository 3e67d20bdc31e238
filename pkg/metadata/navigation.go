package metadata

import (
	"reflect"

	"github.com/juju/errors"
)

// NavigationKind tells reference navigations from collection navigations.
type NavigationKind string

// Navigation kinds.
const (
	ReferenceNavigation  NavigationKind = "reference"
	CollectionNavigation NavigationKind = "collection"
)

// Role is the side of a relationship a navigation is declared on.
type Role string

// Relationship roles. A navigation without a configured relationship has no
// role.
const (
	PrincipalRole Role = "principal"
	DependentRole Role = "dependent"
)

// Navigation is a field that refers to other entities: a pointer for a
// reference navigation or a slice of pointers for a collection navigation.
type Navigation struct {
	name          string
	index         int
	declaringType *EntityType
	fieldIndex    []int
	fieldType     reflect.Type
	kind          NavigationKind
	target        *EntityType

	role         Role
	inverse      *Navigation
	foreignKey   []*Property
	principalKey []*Property
	discovers    bool
}

func (*Navigation) member() {}

// Name returns the navigation name, which is the Go field name.
func (n *Navigation) Name() string { return n.name }

// Index returns the position of the navigation within its entity type.
func (n *Navigation) Index() int { return n.index }

// DeclaringType returns the entity type the navigation belongs to.
func (n *Navigation) DeclaringType() *EntityType { return n.declaringType }

// Kind returns whether this is a reference or a collection navigation.
func (n *Navigation) Kind() NavigationKind { return n.kind }

// IsCollection reports whether the navigation holds many entities.
func (n *Navigation) IsCollection() bool { return n.kind == CollectionNavigation }

// Target returns the entity type at the other end.
func (n *Navigation) Target() *EntityType { return n.target }

// Role returns the side of the relationship the declaring type is on.
func (n *Navigation) Role() Role { return n.role }

// IsDependent reports whether the declaring type holds the foreign key.
func (n *Navigation) IsDependent() bool { return n.role == DependentRole }

// IsPrincipal reports whether the target type holds the foreign key.
func (n *Navigation) IsPrincipal() bool { return n.role == PrincipalRole }

// Inverse returns the navigation on the target that points back, or nil.
func (n *Navigation) Inverse() *Navigation { return n.inverse }

// ForeignKey returns the foreign key properties of the relationship. They
// belong to the dependent type.
func (n *Navigation) ForeignKey() []*Property { return n.foreignKey }

// PrincipalKey returns the properties of the principal type the foreign key
// references.
func (n *Navigation) PrincipalKey() []*Property { return n.principalKey }

// Discovers reports whether untracked entities found through this
// navigation are attached as added.
func (n *Navigation) Discovers() bool { return n.discovers }

func (n *Navigation) String() string {
	return n.declaringType.name + "." + n.name
}

// Get returns the navigation value on entity. A reference navigation returns
// nil or the target pointer; a collection navigation returns a fresh slice
// of its members. Nil elements of a collection are not members.
func (n *Navigation) Get(entity any) any {
	f := fieldOf(entity, n.fieldIndex)
	if n.kind == CollectionNavigation {
		members := make([]any, 0, f.Len())
		for i := 0; i < f.Len(); i++ {
			if el := f.Index(i); !el.IsNil() {
				members = append(members, el.Interface())
			}
		}
		return members
	}
	if f.IsNil() {
		return nil
	}
	return f.Interface()
}

// Members returns the current targets of the navigation. A reference yields
// at most one.
func (n *Navigation) Members(entity any) []any {
	if n.kind != CollectionNavigation {
		v := n.Get(entity)
		if v == nil {
			return nil
		}
		return []any{v}
	}
	return n.Get(entity).([]any)
}

// Set replaces the navigation value on entity. Collections accept a []any.
func (n *Navigation) Set(entity any, value any) error {
	f := fieldOf(entity, n.fieldIndex)
	if value == nil {
		f.Set(reflect.Zero(n.fieldType))
		return nil
	}
	if n.kind == ReferenceNavigation {
		rv := reflect.ValueOf(value)
		if rv.Type() != n.fieldType {
			return errors.NotValidf("value of type %T for navigation %s", value, n)
		}
		f.Set(rv)
		return nil
	}
	members, ok := value.([]any)
	if !ok {
		return errors.NotValidf("value of type %T for collection %s", value, n)
	}
	slice := reflect.MakeSlice(n.fieldType, 0, len(members))
	elem := n.fieldType.Elem()
	for _, m := range members {
		rv := reflect.ValueOf(m)
		if m == nil || rv.Type() != elem || rv.IsNil() {
			return errors.NotValidf("member of type %T for collection %s", m, n)
		}
		slice = reflect.Append(slice, rv)
	}
	f.Set(slice)
	return nil
}

// Contains reports whether member is in the collection on entity, by
// identity.
func (n *Navigation) Contains(entity any, member any) bool {
	for _, m := range n.Members(entity) {
		if m == member {
			return true
		}
	}
	return false
}

// Add appends member to the collection on entity unless it is already
// there. It reports whether the collection changed.
func (n *Navigation) Add(entity any, member any) (bool, error) {
	if n.kind != CollectionNavigation {
		return false, errors.NotSupportedf("add to reference navigation %s", n)
	}
	if n.Contains(entity, member) {
		return false, nil
	}
	rv := reflect.ValueOf(member)
	if member == nil || rv.Type() != n.fieldType.Elem() || rv.IsNil() {
		return false, errors.NotValidf("member of type %T for collection %s", member, n)
	}
	f := fieldOf(entity, n.fieldIndex)
	f.Set(reflect.Append(f, rv))
	return true, nil
}

// Remove deletes member from the collection on entity, keeping the order of
// the others. It reports whether the collection changed.
func (n *Navigation) Remove(entity any, member any) (bool, error) {
	if n.kind != CollectionNavigation {
		return false, errors.NotSupportedf("remove from reference navigation %s", n)
	}
	f := fieldOf(entity, n.fieldIndex)
	kept := reflect.MakeSlice(n.fieldType, 0, f.Len())
	removed := false
	for i := 0; i < f.Len(); i++ {
		item := f.Index(i)
		if item.Interface() == member {
			removed = true
			continue
		}
		kept = reflect.Append(kept, item)
	}
	if removed {
		f.Set(kept)
	}
	return removed, nil
}
