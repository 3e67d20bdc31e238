package tracking

import (
	"fmt"

	"github.com/juju/collections/set"
	"github.com/juju/errors"

	"github.com/mesh-intelligence/tracker/pkg/metadata"
	"github.com/mesh-intelligence/tracker/pkg/types"
)

// Handle addresses an entry within its StateManager. Handles are stable for
// the lifetime of the manager.
type Handle int

// Entry holds the tracking state of one live entity: its lifecycle state,
// the key it is filed under, its sidecars and its modified properties.
type Entry struct {
	handle     Handle
	manager    *StateManager
	entityType *metadata.EntityType
	entity     any
	state      types.EntityState
	key        EntityKey
	sidecars   []*Sidecar
	modified   set.Strings

	// pending holds the value of a member captured by the pre-mutation hook
	// until the matching post-mutation hook.
	pending map[metadata.Member]any
}

func newEntry(manager *StateManager, handle Handle, et *metadata.EntityType, entity any) *Entry {
	return &Entry{
		handle:     handle,
		manager:    manager,
		entityType: et,
		entity:     entity,
		state:      types.StateUnknown,
		modified:   set.NewStrings(),
		pending:    make(map[metadata.Member]any),
	}
}

// Handle returns the entry's slot in its manager.
func (e *Entry) Handle() Handle { return e.handle }

// Entity returns the tracked object.
func (e *Entry) Entity() any { return e.entity }

// EntityType returns the metadata of the tracked object.
func (e *Entry) EntityType() *metadata.EntityType { return e.entityType }

// Manager returns the StateManager owning the entry.
func (e *Entry) Manager() *StateManager { return e.manager }

// State returns the lifecycle state.
func (e *Entry) State() types.EntityState { return e.state }

// SetState moves the entry to state, starting or stopping tracking as
// needed.
func (e *Entry) SetState(state types.EntityState) error {
	return e.manager.setState(e, state)
}

// Key returns the key the entry is filed under in the identity map.
func (e *Entry) Key() EntityKey { return e.key }

// CurrentKey computes the key from the current key property values.
func (e *Entry) CurrentKey() EntityKey {
	return e.keyWith(nil)
}

// keyWith computes the key with generated values in place of the current
// ones.
func (e *Entry) keyWith(generated []generatedKey) EntityKey {
	props := e.entityType.Key()
	values := make([]any, len(props))
	for i, p := range props {
		values[i] = e.Value(p)
		for _, g := range generated {
			if g.property == p {
				values[i] = g.value
			}
		}
	}
	return NewEntityKey(e.entityType, values...)
}

func (e *Entry) String() string {
	return fmt.Sprintf("%s#%d", e.entityType.Name(), e.handle)
}

// Sidecar returns the sidecar with the given name, if present.
func (e *Entry) Sidecar(name types.SidecarName) (*Sidecar, bool) {
	for _, s := range e.sidecars {
		if s.name == name {
			return s, true
		}
	}
	return nil, false
}

// AddSidecar attaches s to the entry. It fails with ErrDuplicateSidecar when
// a sidecar with the same name is attached.
func (e *Entry) AddSidecar(s *Sidecar) (*Sidecar, error) {
	if s.entry != e {
		return nil, errors.NotValidf("sidecar %s of %s added to %s", s.name, s.entry, e)
	}
	if _, ok := e.Sidecar(s.name); ok {
		return nil, errors.Annotatef(types.ErrDuplicateSidecar, "%s on %s", s.name, e)
	}
	e.sidecars = append(e.sidecars, s)
	return s, nil
}

// RemoveSidecar detaches the named sidecar. It reports whether one was
// attached.
func (e *Entry) RemoveSidecar(name types.SidecarName) bool {
	for i, s := range e.sidecars {
		if s.name == name {
			e.sidecars = append(e.sidecars[:i], e.sidecars[i+1:]...)
			return true
		}
	}
	return false
}

// OriginalValues returns the original values sidecar, creating an empty one
// when absent.
func (e *Entry) OriginalValues() *Sidecar {
	if s, ok := e.Sidecar(types.SidecarOriginalValues); ok {
		return s
	}
	s := newOriginalValues(e)
	e.sidecars = append(e.sidecars, s)
	return s
}

// RelationshipsSnapshot returns the relationships snapshot sidecar, creating
// an empty one when absent.
func (e *Entry) RelationshipsSnapshot() *Sidecar {
	if s, ok := e.Sidecar(types.SidecarRelationshipsSnapshot); ok {
		return s
	}
	s := newRelationshipsSnapshot(e)
	e.sidecars = append(e.sidecars, s)
	return s
}

// Value returns the current value of m. A value held by the store generated
// values sidecar takes precedence over the entity.
func (e *Entry) Value(m metadata.Member) any {
	if s, ok := e.Sidecar(types.SidecarStoreGeneratedValues); ok && s.HasValue(m) {
		return s.values[m]
	}
	return m.Get(e.entity)
}

// SetValue writes v to m through both mutation hooks, whatever the tier of
// the entity.
func (e *Entry) SetValue(m metadata.Member, v any) error {
	return e.mutate(m, func() error {
		return m.Set(e.entity, v)
	})
}

// AddToCollection appends member to the collection navigation n.
func (e *Entry) AddToCollection(n *metadata.Navigation, member any) error {
	if n.Contains(e.entity, member) {
		return nil
	}
	return e.mutate(n, func() error {
		_, err := n.Add(e.entity, member)
		return err
	})
}

// RemoveFromCollection removes member from the collection navigation n.
func (e *Entry) RemoveFromCollection(n *metadata.Navigation, member any) error {
	if !n.Contains(e.entity, member) {
		return nil
	}
	return e.mutate(n, func() error {
		_, err := n.Remove(e.entity, member)
		return err
	})
}

func (e *Entry) mutate(m metadata.Member, write func() error) error {
	if m.DeclaringType() != e.entityType {
		return errors.Annotatef(types.ErrUnknownMember, "%s is not a member of %s", m.Name(), e.entityType)
	}
	d := e.manager.detector
	if err := d.PropertyChanging(e, m); err != nil {
		return errors.Trace(err)
	}
	if err := write(); err != nil {
		delete(e.pending, m)
		return errors.Trace(err)
	}
	return errors.Trace(d.PropertyChanged(e, m))
}

// IsPropertyModified reports whether p was flagged modified.
func (e *Entry) IsPropertyModified(p *metadata.Property) bool {
	return e.modified.Contains(p.Name())
}

// SetPropertyModified flags or clears p. Flagging promotes an unchanged
// entry to modified; clearing the last flag demotes it again.
func (e *Entry) SetPropertyModified(p *metadata.Property, modified bool) {
	if modified {
		e.markModified(p)
		return
	}
	e.modified.Remove(p.Name())
	if e.state == types.StateModified && e.modified.IsEmpty() {
		e.state = types.StateUnchanged
	}
}

// ModifiedProperties returns the names of flagged properties, sorted.
func (e *Entry) ModifiedProperties() []string {
	return e.modified.SortedValues()
}

func (e *Entry) markModified(p *metadata.Property) {
	e.modified.Add(p.Name())
	e.promote()
}

// promote moves an unchanged entry to modified.
func (e *Entry) promote() {
	if e.state == types.StateUnchanged {
		e.state = types.StateModified
	}
}

// AcceptChanges makes the current values the new baseline. Added and
// modified entries become unchanged; deleted entries stop being tracked.
func (e *Entry) AcceptChanges() error {
	return e.manager.acceptChanges(e)
}
