package tracking

import (
	"fmt"
	"strings"

	"github.com/mesh-intelligence/tracker/pkg/metadata"
)

// EntityKey identifies an entity within one entity type by the values of its
// identity key. EntityKeys are comparable and used as map keys.
type EntityKey struct {
	entityType *metadata.EntityType
	value      any
}

// compositeValue encodes a multi-part key as one comparable value.
type compositeValue string

// NewEntityKey builds the key of an entity of type et from the given key
// values, in key property order. A key with any nil part is null.
func NewEntityKey(et *metadata.EntityType, values ...any) EntityKey {
	key := et.Key()
	normalized := make([]any, len(values))
	for i, v := range values {
		if v == nil {
			return EntityKey{entityType: et}
		}
		normalized[i] = v
		if i < len(key) {
			if n, err := key[i].Normalize(v); err == nil {
				normalized[i] = n
			}
		}
	}
	if len(normalized) == 1 {
		return EntityKey{entityType: et, value: normalized[0]}
	}
	parts := make([]string, len(normalized))
	for i, v := range normalized {
		parts[i] = fmt.Sprintf("%T:%v", v, v)
	}
	return EntityKey{entityType: et, value: compositeValue(strings.Join(parts, "\x1f"))}
}

// EntityType returns the entity type the key belongs to.
func (k EntityKey) EntityType() *metadata.EntityType { return k.entityType }

// Value returns the key value of a single-part key.
func (k EntityKey) Value() any { return k.value }

// IsNull reports whether some key part is missing. Null keys are never
// placed in the identity map.
func (k EntityKey) IsNull() bool { return k.value == nil }

func (k EntityKey) String() string {
	name := "<nil>"
	if k.entityType != nil {
		name = k.entityType.Name()
	}
	if cv, ok := k.value.(compositeValue); ok {
		return fmt.Sprintf("%s(%s)", name, strings.ReplaceAll(string(cv), "\x1f", ", "))
	}
	return fmt.Sprintf("%s(%v)", name, k.value)
}
