package tracking

import (
	"github.com/juju/errors"

	"github.com/mesh-intelligence/tracker/pkg/types"
)

// IdentityMap maps entity keys to the single entry tracking that entity.
type IdentityMap struct {
	entries map[EntityKey]*Entry
}

// NewIdentityMap returns an empty IdentityMap.
func NewIdentityMap() *IdentityMap {
	return &IdentityMap{entries: make(map[EntityKey]*Entry)}
}

// Add files entry under key. It fails with ErrIdentityConflict when another
// entry already holds the key.
func (m *IdentityMap) Add(key EntityKey, entry *Entry) error {
	if key.IsNull() {
		return nil
	}
	if other, ok := m.entries[key]; ok && other != entry {
		return errors.Annotatef(types.ErrIdentityConflict, "%s", key)
	}
	m.entries[key] = entry
	return nil
}

// Lookup returns the entry filed under key.
func (m *IdentityMap) Lookup(key EntityKey) (*Entry, bool) {
	if key.IsNull() {
		return nil, false
	}
	e, ok := m.entries[key]
	return e, ok
}

// Remove drops key if it is filed for entry.
func (m *IdentityMap) Remove(key EntityKey, entry *Entry) {
	if other, ok := m.entries[key]; ok && other == entry {
		delete(m.entries, key)
	}
}

// Rekey moves entry from oldKey to newKey. On conflict the map is left
// unchanged.
func (m *IdentityMap) Rekey(entry *Entry, oldKey, newKey EntityKey) error {
	if !newKey.IsNull() {
		if other, ok := m.entries[newKey]; ok && other != entry {
			return errors.Annotatef(types.ErrIdentityConflict, "re-keying %s", newKey)
		}
	}
	m.Remove(oldKey, entry)
	if !newKey.IsNull() {
		m.entries[newKey] = entry
	}
	return nil
}

// Len returns the number of filed keys.
func (m *IdentityMap) Len() int {
	return len(m.entries)
}
