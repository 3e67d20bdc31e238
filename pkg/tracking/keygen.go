package tracking

import (
	"reflect"

	"github.com/google/uuid"
	"github.com/juju/errors"

	"github.com/mesh-intelligence/tracker/pkg/metadata"
)

var uuidType = reflect.TypeOf(uuid.UUID{})

// KeyGenerator assigns temporary key values to added entities whose
// generated key is still zero. Integer keys count down from -1 so they never
// collide with store assigned values; UUID and string keys get a version 7
// UUID.
type KeyGenerator struct {
	next int64
}

// NewKeyGenerator returns a generator starting at -1.
func NewKeyGenerator() *KeyGenerator {
	return &KeyGenerator{next: -1}
}

// generatedKey is a temporary value for one key property.
type generatedKey struct {
	property *metadata.Property
	value    any
}

// Generate returns temporary values for the zero-valued generated key
// properties of e. The entity is not written.
func (g *KeyGenerator) Generate(e *Entry) ([]generatedKey, error) {
	var generated []generatedKey
	for _, p := range e.entityType.Key() {
		if !p.IsValueGenerated() {
			continue
		}
		current := e.Value(p)
		if current != nil && !reflect.ValueOf(current).IsZero() {
			continue
		}
		v, err := g.Next(p)
		if err != nil {
			return nil, errors.Trace(err)
		}
		generated = append(generated, generatedKey{property: p, value: v})
	}
	return generated, nil
}

// Next returns a fresh temporary value for p.
func (g *KeyGenerator) Next(p *metadata.Property) (any, error) {
	if p.Type() == uuidType || p.Type().Kind() == reflect.String {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, errors.Annotate(err, "generating key")
		}
		if p.Type() == uuidType {
			return id, nil
		}
		return p.Normalize(id.String())
	}
	v := g.next
	g.next--
	return p.Normalize(v)
}
