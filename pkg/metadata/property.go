package metadata

import (
	"bytes"
	"fmt"
	"reflect"

	"github.com/juju/errors"
)

// Member is a property or navigation of an entity type. Sidecars and the
// change detector address values by Member.
type Member interface {
	Name() string
	DeclaringType() *EntityType

	// Get reads the member from entity, a pointer to the declaring struct.
	Get(entity any) any

	// Set writes the member on entity.
	Set(entity any, value any) error

	member()
}

// Property is a scalar field of an entity type. A property may carry several
// key roles at once.
type Property struct {
	name          string
	index         int
	declaringType *EntityType
	fieldIndex    []int
	fieldType     reflect.Type
	valueType     reflect.Type
	nullable      bool

	identityKey    bool
	principalKey   bool
	foreignKey     bool
	originalValue  bool
	valueGenerated bool
	storeGenerated bool
}

func (*Property) member() {}

// Name returns the property name, which is the Go field name.
func (p *Property) Name() string { return p.name }

// Index returns the position of the property within its entity type.
func (p *Property) Index() int { return p.index }

// DeclaringType returns the entity type the property belongs to.
func (p *Property) DeclaringType() *EntityType { return p.declaringType }

// Type returns the value type. For nullable properties this is the pointed-to
// type.
func (p *Property) Type() reflect.Type { return p.valueType }

// IsNullable reports whether the backing field is a pointer.
func (p *Property) IsNullable() bool { return p.nullable }

// IsIdentityKey reports whether the property is part of the entity key.
func (p *Property) IsIdentityKey() bool { return p.identityKey }

// IsPrincipalKey reports whether a foreign key elsewhere references the
// property.
func (p *Property) IsPrincipalKey() bool { return p.principalKey }

// IsForeignKey reports whether the property references a principal key.
func (p *Property) IsForeignKey() bool { return p.foreignKey }

// IsKeyOrForeignKey reports whether the property has any key role and is
// therefore kept in the relationships snapshot.
func (p *Property) IsKeyOrForeignKey() bool {
	return p.identityKey || p.principalKey || p.foreignKey
}

// TracksOriginalValue reports whether the property is kept in the original
// values sidecar.
func (p *Property) TracksOriginalValue() bool { return p.originalValue }

// IsValueGenerated reports whether a temporary value is generated for the
// property when an entity with a zero value starts tracking as added.
func (p *Property) IsValueGenerated() bool { return p.valueGenerated }

// IsStoreGenerated reports whether the store assigns the final value on
// insert.
func (p *Property) IsStoreGenerated() bool { return p.storeGenerated }

func (p *Property) String() string {
	return p.declaringType.name + "." + p.name
}

// Get returns the current value of the property on entity. Nullable
// properties return nil or the pointed-to value.
func (p *Property) Get(entity any) any {
	f := fieldOf(entity, p.fieldIndex)
	if p.nullable {
		if f.IsNil() {
			return nil
		}
		return f.Elem().Interface()
	}
	return f.Interface()
}

// Set writes value to the property on entity. A nil value stores the zero
// value of the field.
func (p *Property) Set(entity any, value any) error {
	v, err := p.Normalize(value)
	if err != nil {
		return errors.Trace(err)
	}
	f := fieldOf(entity, p.fieldIndex)
	if v == nil {
		f.Set(reflect.Zero(p.fieldType))
		return nil
	}
	rv := reflect.ValueOf(v)
	if p.nullable {
		ptr := reflect.New(p.valueType)
		ptr.Elem().Set(rv)
		f.Set(ptr)
		return nil
	}
	f.Set(rv)
	return nil
}

// Normalize converts value to the property's value type. Pointers are
// dereferenced and numeric values of another width are converted.
func (p *Property) Normalize(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Pointer && rv.Type().Elem() == p.valueType {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}
	if rv.Type() == p.valueType {
		return rv.Interface(), nil
	}
	if isNumeric(rv.Kind()) && isNumeric(p.valueType.Kind()) {
		return rv.Convert(p.valueType).Interface(), nil
	}
	if rv.Kind() == p.valueType.Kind() && rv.Type().ConvertibleTo(p.valueType) {
		return rv.Convert(p.valueType).Interface(), nil
	}
	return nil, errors.NotValidf("value of type %T for property %s", value, p)
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// fieldOf returns the addressable field at index on entity. entity must be a
// non-nil pointer to a struct.
func fieldOf(entity any, index []int) reflect.Value {
	rv := reflect.ValueOf(entity)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		panic(fmt.Sprintf("metadata: entity must be a non-nil struct pointer, got %T", entity))
	}
	return rv.Elem().FieldByIndex(index)
}

// ValuesEqual compares two property values. Values of comparable types
// compare with ==, byte slices by content, everything else deeply.
func ValuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb {
		return false
	}
	if ta.Comparable() {
		return a == b
	}
	if ab, ok := a.([]byte); ok {
		return bytes.Equal(ab, b.([]byte))
	}
	return reflect.DeepEqual(a, b)
}
