// Package tracking implements the change tracking core: entries and their
// sidecars, the identity map, and the change detector that finds scalar,
// key and navigation changes on tracked entities and reports relationship
// changes to listeners.
//
// A StateManager is not safe for concurrent use. All detection runs
// synchronously on the caller's goroutine, and hooks raised by entity
// setters re-enter the detector directly.
package tracking

import (
	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/loggo"

	"github.com/mesh-intelligence/tracker/pkg/metadata"
	"github.com/mesh-intelligence/tracker/pkg/types"
)

var logger = loggo.GetLogger("tracker.tracking")

// StateManager is a unit of work. It owns one entry per live entity, the
// identity map of tracked entries and the change detector.
type StateManager struct {
	model     *metadata.Model
	config    types.TrackingConfig
	entries   []*Entry
	byEntity  map[any]*Entry
	identity  *IdentityMap
	detector  *ChangeDetector
	keys      *KeyGenerator
	listeners []RelationshipListener
}

// NewStateManager returns an empty unit of work over model. Listeners are
// told about relationship changes in the order given.
func NewStateManager(model *metadata.Model, config types.TrackingConfig, listeners ...RelationshipListener) *StateManager {
	sm := &StateManager{
		model:     model,
		config:    config,
		byEntity:  make(map[any]*Entry),
		identity:  NewIdentityMap(),
		keys:      NewKeyGenerator(),
		listeners: listeners,
	}
	sm.detector = &ChangeDetector{manager: sm}
	return sm
}

// Model returns the metadata the manager tracks.
func (sm *StateManager) Model() *metadata.Model { return sm.model }

// Config returns the tracking configuration.
func (sm *StateManager) Config() types.TrackingConfig { return sm.config }

// ChangeDetector returns the manager's change detector.
func (sm *StateManager) ChangeDetector() *ChangeDetector { return sm.detector }

// AddListener registers l after the existing listeners.
func (sm *StateManager) AddListener(l RelationshipListener) {
	sm.listeners = append(sm.listeners, l)
}

// GetOrCreateEntry returns the entry of entity, creating an unknown entry
// the first time entity is seen.
func (sm *StateManager) GetOrCreateEntry(entity any) (*Entry, error) {
	if e, ok := sm.byEntity[entity]; ok {
		return e, nil
	}
	et, err := sm.model.EntityTypeOf(entity)
	if err != nil {
		return nil, errors.Trace(err)
	}
	e := newEntry(sm, Handle(len(sm.entries)), et, entity)
	sm.entries = append(sm.entries, e)
	sm.byEntity[entity] = e
	return e, nil
}

// EntryFor returns the entry of entity if one was created.
func (sm *StateManager) EntryFor(entity any) (*Entry, bool) {
	e, ok := sm.byEntity[entity]
	return e, ok
}

// Entry returns the entry at handle h.
func (sm *StateManager) Entry(h Handle) (*Entry, bool) {
	if h < 0 || int(h) >= len(sm.entries) {
		return nil, false
	}
	return sm.entries[h], true
}

// LookupEntry returns the tracked entry filed under key.
func (sm *StateManager) LookupEntry(key EntityKey) (*Entry, bool) {
	return sm.identity.Lookup(key)
}

// Attach starts tracking entity in state and returns its entry.
func (sm *StateManager) Attach(entity any, state types.EntityState) (*Entry, error) {
	e, err := sm.GetOrCreateEntry(entity)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if err := e.SetState(state); err != nil {
		return nil, errors.Trace(err)
	}
	return e, nil
}

// Entries returns the tracked entries in handle order. The slice is a copy;
// entries attached while iterating are not part of it.
func (sm *StateManager) Entries() []*Entry {
	var tracked []*Entry
	for _, e := range sm.entries {
		if e.state.IsTracked() {
			tracked = append(tracked, e)
		}
	}
	return tracked
}

// Len returns the number of tracked entries.
func (sm *StateManager) Len() int {
	n := 0
	for _, e := range sm.entries {
		if e.state.IsTracked() {
			n++
		}
	}
	return n
}

// DetectChanges sweeps every tracked entry.
func (sm *StateManager) DetectChanges() error {
	return sm.detector.DetectAllChanges()
}

// RefreshKey re-files e under its current key values.
func (sm *StateManager) RefreshKey(e *Entry) error {
	if !e.state.IsTracked() {
		return errors.Annotatef(types.ErrNotTracked, "%s", e)
	}
	return sm.rekey(e)
}

// AcceptAllChanges accepts the changes of every tracked entry.
func (sm *StateManager) AcceptAllChanges() error {
	for _, e := range sm.Entries() {
		if err := e.AcceptChanges(); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

func (sm *StateManager) setState(e *Entry, state types.EntityState) error {
	if err := state.Validate(); err != nil {
		return errors.Trace(err)
	}
	old := e.state
	if old == state {
		return nil
	}
	switch {
	case !old.IsTracked():
		return sm.startTracking(e, state)
	case !state.IsTracked():
		sm.stopTracking(e)
	case old == types.StateAdded && state == types.StateDeleted:
		// An added entity that is deleted was never stored.
		sm.stopTracking(e)
	case state == types.StateModified:
		e.state = state
		for _, p := range e.entityType.Properties() {
			if !p.IsIdentityKey() {
				e.modified.Add(p.Name())
			}
		}
	case state == types.StateUnchanged:
		e.state = state
		e.modified = set.NewStrings()
	default:
		e.state = state
	}
	logger.Tracef("%s: %s -> %s", e, old, e.state)
	return nil
}

func (sm *StateManager) startTracking(e *Entry, state types.EntityState) error {
	var generated []generatedKey
	if state == types.StateAdded {
		var err error
		if generated, err = sm.keys.Generate(e); err != nil {
			return errors.Trace(err)
		}
	}
	key := e.keyWith(generated)
	if err := sm.identity.Add(key, e); err != nil {
		return errors.Trace(err)
	}
	for _, g := range generated {
		if err := g.property.Set(e.entity, g.value); err != nil {
			sm.identity.Remove(key, e)
			return errors.Trace(err)
		}
		logger.Tracef("%s: temporary %s = %v", e, g.property.Name(), g.value)
	}
	e.key = key
	e.state = state

	e.RemoveSidecar(types.SidecarOriginalValues)
	e.RemoveSidecar(types.SidecarRelationshipsSnapshot)
	if e.entityType.UsesEagerSnapshots() {
		e.OriginalValues().TakeSnapshot()
		e.RelationshipsSnapshot().TakeSnapshot()
	} else {
		// Collections raise no notifications, so their baseline is taken up
		// front for every tier.
		for _, n := range e.entityType.Navigations() {
			if n.IsCollection() {
				e.RelationshipsSnapshot().ensureSnapshot(n)
			}
		}
	}
	if state == types.StateModified {
		for _, p := range e.entityType.Properties() {
			if !p.IsIdentityKey() {
				e.modified.Add(p.Name())
			}
		}
	}
	sm.installHooks(e)
	logger.Tracef("%s: tracking as %s under %s", e, state, key)
	return nil
}

func (sm *StateManager) stopTracking(e *Entry) {
	sm.identity.Remove(e.key, e)
	sm.removeHooks(e)
	e.state = types.StateUnknown
	e.key = EntityKey{}
	e.sidecars = nil
	e.modified = set.NewStrings()
	e.pending = make(map[metadata.Member]any)
	logger.Tracef("%s: stopped tracking", e)
}

func (sm *StateManager) rekey(e *Entry) error {
	newKey := e.CurrentKey()
	if newKey == e.key {
		return nil
	}
	if err := sm.identity.Rekey(e, e.key, newKey); err != nil {
		return errors.Trace(err)
	}
	logger.Tracef("%s: re-keyed %s -> %s", e, e.key, newKey)
	e.key = newKey
	return nil
}

func (sm *StateManager) acceptChanges(e *Entry) error {
	switch e.state {
	case types.StateUnknown:
		return errors.Annotatef(types.ErrNotTracked, "%s", e)
	case types.StateDeleted:
		sm.stopTracking(e)
		return nil
	}
	if err := sm.rekey(e); err != nil {
		return errors.Trace(err)
	}
	e.state = types.StateUnchanged
	e.modified = set.NewStrings()
	if e.entityType.UsesEagerSnapshots() {
		e.OriginalValues().TakeSnapshot()
	} else {
		e.RemoveSidecar(types.SidecarOriginalValues)
	}
	e.RelationshipsSnapshot().TakeSnapshot()
	return nil
}

// installHooks subscribes the detector to the notifications of a changing
// or notifying entity.
func (sm *StateManager) installHooks(e *Entry) {
	d := sm.detector
	switch e.entityType.Tier() {
	case types.TierNotifying:
		e.entity.(metadata.ChangedNotifier).SetChangedHook(func(name string) {
			d.raise(e, name, d.PropertyChanged)
		})
		e.entity.(metadata.ChangingNotifier).SetChangingHook(func(name string) {
			d.raise(e, name, d.PropertyChanging)
		})
	case types.TierChanging:
		e.entity.(metadata.ChangingNotifier).SetChangingHook(func(name string) {
			d.raise(e, name, d.changingOnly)
		})
	}
}

func (sm *StateManager) removeHooks(e *Entry) {
	switch e.entityType.Tier() {
	case types.TierNotifying:
		e.entity.(metadata.ChangedNotifier).SetChangedHook(nil)
		fallthrough
	case types.TierChanging:
		e.entity.(metadata.ChangingNotifier).SetChangingHook(nil)
	}
}
