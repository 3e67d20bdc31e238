package tracking

import (
	"bytes"
	"reflect"

	"github.com/juju/errors"

	"github.com/mesh-intelligence/tracker/pkg/metadata"
	"github.com/mesh-intelligence/tracker/pkg/types"
)

// Sidecar keeps previously observed values of some members of one entry.
// A member has a value only once it was snapshotted or set.
type Sidecar struct {
	name    types.SidecarName
	entry   *Entry
	members []metadata.Member
	tracked map[metadata.Member]bool
	values  map[metadata.Member]any

	// transparent sidecars shadow the entity: reads through the entry see
	// their values first and writes count as mutations of the entity.
	transparent bool
}

func newSidecar(entry *Entry, name types.SidecarName, members []metadata.Member, transparent bool) *Sidecar {
	s := &Sidecar{
		name:        name,
		entry:       entry,
		members:     members,
		tracked:     make(map[metadata.Member]bool, len(members)),
		values:      make(map[metadata.Member]any, len(members)),
		transparent: transparent,
	}
	for _, m := range members {
		s.tracked[m] = true
	}
	return s
}

// newOriginalValues stores every property that tracks original values.
func newOriginalValues(entry *Entry) *Sidecar {
	var members []metadata.Member
	for _, p := range entry.entityType.Properties() {
		if p.TracksOriginalValue() {
			members = append(members, p)
		}
	}
	return newSidecar(entry, types.SidecarOriginalValues, members, false)
}

// newRelationshipsSnapshot stores key and foreign key properties and every
// navigation.
func newRelationshipsSnapshot(entry *Entry) *Sidecar {
	var members []metadata.Member
	for _, p := range entry.entityType.Properties() {
		if p.IsKeyOrForeignKey() {
			members = append(members, p)
		}
	}
	for _, n := range entry.entityType.Navigations() {
		members = append(members, n)
	}
	return newSidecar(entry, types.SidecarRelationshipsSnapshot, members, false)
}

// NewStoreGeneratedValues returns a sidecar for values a store generates on
// save. While it is attached to the entry, reading a property through the
// entry returns the generated value, and writing a value is observed like a
// mutation of the entity. Commit copies the values into the entity.
func NewStoreGeneratedValues(entry *Entry, properties []*metadata.Property) *Sidecar {
	members := make([]metadata.Member, len(properties))
	for i, p := range properties {
		members[i] = p
	}
	return newSidecar(entry, types.SidecarStoreGeneratedValues, members, true)
}

// Name returns the sidecar name.
func (s *Sidecar) Name() types.SidecarName { return s.name }

// Entry returns the entry the sidecar belongs to.
func (s *Sidecar) Entry() *Entry { return s.entry }

// Members returns the members the sidecar can store.
func (s *Sidecar) Members() []metadata.Member { return s.members }

// CanStore reports whether m is one of the sidecar's members.
func (s *Sidecar) CanStore(m metadata.Member) bool { return s.tracked[m] }

// HasValue reports whether a value was stored for m.
func (s *Sidecar) HasValue(m metadata.Member) bool {
	_, ok := s.values[m]
	return ok
}

// Value returns the stored value of m.
func (s *Sidecar) Value(m metadata.Member) (any, error) {
	if !s.tracked[m] {
		return nil, errors.Annotatef(types.ErrSidecarMemberUntracked, "%s in %s", m.Name(), s.name)
	}
	v, ok := s.values[m]
	if !ok {
		return nil, errors.Annotatef(types.ErrSidecarValueMissing, "%s in %s", m.Name(), s.name)
	}
	return v, nil
}

// SetValue stores v for m.
func (s *Sidecar) SetValue(m metadata.Member, v any) error {
	if !s.tracked[m] {
		return errors.Annotatef(types.ErrSidecarMemberUntracked, "%s in %s", m.Name(), s.name)
	}
	if p, ok := m.(*metadata.Property); ok {
		n, err := p.Normalize(v)
		if err != nil {
			return errors.Trace(err)
		}
		v = n
	}
	if !s.transparent || !s.isAttached() {
		s.values[m] = v
		return nil
	}
	return s.entry.manager.detector.observeMutation(s.entry, m, func() error {
		s.values[m] = v
		return nil
	})
}

// TakeSnapshot copies the current value of every member, replacing stored
// values.
func (s *Sidecar) TakeSnapshot() {
	for _, m := range s.members {
		s.values[m] = s.currentValue(m)
	}
}

// TakeSnapshotOf copies the current value of m.
func (s *Sidecar) TakeSnapshotOf(m metadata.Member) error {
	if !s.tracked[m] {
		return errors.Annotatef(types.ErrSidecarMemberUntracked, "%s in %s", m.Name(), s.name)
	}
	s.values[m] = s.currentValue(m)
	return nil
}

// ensureSnapshot snapshots m unless a value is already stored.
func (s *Sidecar) ensureSnapshot(m metadata.Member) {
	if s.tracked[m] && !s.HasValue(m) {
		s.values[m] = s.currentValue(m)
	}
}

// Commit writes the stored values into the entity and detaches the sidecar
// from its entry.
func (s *Sidecar) Commit() error {
	for _, m := range s.members {
		v, ok := s.values[m]
		if !ok {
			continue
		}
		if err := m.Set(s.entry.entity, v); err != nil {
			return errors.Annotatef(err, "committing %s", s.name)
		}
	}
	s.values = make(map[metadata.Member]any, len(s.members))
	s.entry.RemoveSidecar(s.name)
	return nil
}

func (s *Sidecar) currentValue(m metadata.Member) any {
	if s.transparent {
		return snapshotValue(m, m.Get(s.entry.entity))
	}
	return snapshotValue(m, s.entry.Value(m))
}

// snapshotValue copies property values that share memory with the entity,
// so edits made in place still compare unequal.
func snapshotValue(m metadata.Member, v any) any {
	if _, ok := m.(*metadata.Property); !ok {
		return v
	}
	if b, ok := v.([]byte); ok {
		return bytes.Clone(b)
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice || rv.IsNil() {
		return v
	}
	c := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
	reflect.Copy(c, rv)
	return c.Interface()
}

func (s *Sidecar) isAttached() bool {
	current, ok := s.entry.Sidecar(s.name)
	return ok && current == s
}
