package tracking

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/tracker/pkg/metadata"
	"github.com/mesh-intelligence/tracker/pkg/types"
)

type keyChange struct {
	entry    *Entry
	property string
	from, to any
}

type referenceChange struct {
	entry      *Entry
	navigation string
	from, to   any
}

type collectionChange struct {
	entry          *Entry
	navigation     string
	added, removed []any
}

// recordingListener keeps every callback it receives.
type recordingListener struct {
	foreignKeys   []keyChange
	principalKeys []keyChange
	references    []referenceChange
	collections   []collectionChange
	err           error
}

func (r *recordingListener) ForeignKeyPropertyChanged(e *Entry, p *metadata.Property, from, to any) error {
	r.foreignKeys = append(r.foreignKeys, keyChange{e, p.Name(), from, to})
	return r.err
}

func (r *recordingListener) PrincipalKeyPropertyChanged(e *Entry, p *metadata.Property, from, to any) error {
	r.principalKeys = append(r.principalKeys, keyChange{e, p.Name(), from, to})
	return r.err
}

func (r *recordingListener) NavigationReferenceChanged(e *Entry, n *metadata.Navigation, from, to any) error {
	r.references = append(r.references, referenceChange{e, n.Name(), from, to})
	return r.err
}

func (r *recordingListener) NavigationCollectionChanged(e *Entry, n *metadata.Navigation, added, removed []any) error {
	r.collections = append(r.collections, collectionChange{e, n.Name(), added, removed})
	return r.err
}

func (r *recordingListener) count() int {
	return len(r.foreignKeys) + len(r.principalKeys) + len(r.references) + len(r.collections)
}

func (r *recordingListener) reset() {
	r.foreignKeys, r.principalKeys, r.references, r.collections = nil, nil, nil, nil
}

func newManager(t *testing.T, build func() (*metadata.Model, error), config types.TrackingConfig) (*StateManager, *recordingListener) {
	t.Helper()
	m, err := build()
	require.NoError(t, err)
	rec := &recordingListener{}
	return NewStateManager(m, config, rec), rec
}

func attach(t *testing.T, sm *StateManager, entity any, state types.EntityState) *Entry {
	t.Helper()
	e, err := sm.Attach(entity, state)
	require.NoError(t, err)
	return e
}

func prop(t *testing.T, e *Entry, name string) *metadata.Property {
	t.Helper()
	p, err := e.EntityType().Property(name)
	require.NoError(t, err)
	return p
}

func nav(t *testing.T, e *Entry, name string) *metadata.Navigation {
	t.Helper()
	n, err := e.EntityType().Navigation(name)
	require.NoError(t, err)
	return n
}
