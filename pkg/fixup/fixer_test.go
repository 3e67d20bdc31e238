package fixup

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/tracker/internal/catalog"
	"github.com/mesh-intelligence/tracker/pkg/metadata"
	"github.com/mesh-intelligence/tracker/pkg/tracking"
	"github.com/mesh-intelligence/tracker/pkg/types"
)

// countingListener counts callbacks after the fixer has run.
type countingListener struct {
	calls int
}

func (c *countingListener) ForeignKeyPropertyChanged(*tracking.Entry, *metadata.Property, any, any) error {
	c.calls++
	return nil
}

func (c *countingListener) PrincipalKeyPropertyChanged(*tracking.Entry, *metadata.Property, any, any) error {
	c.calls++
	return nil
}

func (c *countingListener) NavigationReferenceChanged(*tracking.Entry, *metadata.Navigation, any, any) error {
	c.calls++
	return nil
}

func (c *countingListener) NavigationCollectionChanged(*tracking.Entry, *metadata.Navigation, []any, []any) error {
	c.calls++
	return nil
}

func newManager(t *testing.T, build func() (*metadata.Model, error)) (*tracking.StateManager, *countingListener) {
	t.Helper()
	m, err := build()
	require.NoError(t, err)
	counter := &countingListener{}
	return tracking.NewStateManager(m, types.TrackingConfig{}, NewNavigationFixer(m), counter), counter
}

func attach(t *testing.T, sm *tracking.StateManager, entity any, state types.EntityState) *tracking.Entry {
	t.Helper()
	e, err := sm.Attach(entity, state)
	require.NoError(t, err)
	return e
}

// assertSettled checks that another sweep finds nothing left to fix.
func assertSettled(t *testing.T, sm *tracking.StateManager, counter *countingListener) {
	t.Helper()
	counter.calls = 0
	require.NoError(t, sm.DetectChanges())
	assert.Zero(t, counter.calls, "second sweep reports nothing")
}

func TestOneToManyFixup(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c1, c2 *catalog.Category, p *catalog.Product)
		check  func(t *testing.T, c1, c2 *catalog.Category, p *catalog.Product)
	}{
		{
			name:   "foreign key set",
			mutate: func(c1, _ *catalog.Category, p *catalog.Product) { p.DependentID = catalog.Int(10) },
			check: func(t *testing.T, c1, c2 *catalog.Category, p *catalog.Product) {
				assert.Same(t, c1, p.Category)
				assert.Equal(t, []*catalog.Product{p}, c1.Products)
			},
		},
		{
			name:   "reference set",
			mutate: func(c1, _ *catalog.Category, p *catalog.Product) { p.Category = c1 },
			check: func(t *testing.T, c1, c2 *catalog.Category, p *catalog.Product) {
				require.NotNil(t, p.DependentID)
				assert.Equal(t, 10, *p.DependentID)
				assert.Equal(t, []*catalog.Product{p}, c1.Products)
			},
		},
		{
			name:   "added to collection",
			mutate: func(c1, _ *catalog.Category, p *catalog.Product) { c1.Products = append(c1.Products, p) },
			check: func(t *testing.T, c1, c2 *catalog.Category, p *catalog.Product) {
				require.NotNil(t, p.DependentID)
				assert.Equal(t, 10, *p.DependentID)
				assert.Same(t, c1, p.Category)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm, counter := newManager(t, catalog.NewModel)
			c1 := &catalog.Category{ID: 1, PrincipalID: catalog.Int(10)}
			c2 := &catalog.Category{ID: 2, PrincipalID: catalog.Int(20)}
			p := &catalog.Product{ID: uuid.New()}
			attach(t, sm, c1, types.StateUnchanged)
			attach(t, sm, c2, types.StateUnchanged)
			pe := attach(t, sm, p, types.StateUnchanged)

			tt.mutate(c1, c2, p)
			require.NoError(t, sm.DetectChanges())

			tt.check(t, c1, c2, p)
			assert.Empty(t, c2.Products)
			assert.Equal(t, types.StateModified, pe.State())
			assertSettled(t, sm, counter)
		})
	}
}

func TestMoveBetweenPrincipals(t *testing.T) {
	sm, counter := newManager(t, catalog.NewModel)
	p := &catalog.Product{ID: uuid.New(), DependentID: catalog.Int(10)}
	c1 := &catalog.Category{ID: 1, PrincipalID: catalog.Int(10), Products: []*catalog.Product{p}}
	c2 := &catalog.Category{ID: 2, PrincipalID: catalog.Int(20)}
	p.Category = c1
	attach(t, sm, c1, types.StateUnchanged)
	attach(t, sm, c2, types.StateUnchanged)
	attach(t, sm, p, types.StateUnchanged)

	p.Category = c2
	require.NoError(t, sm.DetectChanges())

	assert.Empty(t, c1.Products)
	assert.Equal(t, []*catalog.Product{p}, c2.Products)
	assert.Equal(t, 20, *p.DependentID)
	assertSettled(t, sm, counter)
}

func TestRemoveFromCollection(t *testing.T) {
	sm, counter := newManager(t, catalog.NewModel)
	p := &catalog.Product{ID: uuid.New(), DependentID: catalog.Int(10)}
	c := &catalog.Category{ID: 1, PrincipalID: catalog.Int(10), Products: []*catalog.Product{p}}
	p.Category = c
	attach(t, sm, c, types.StateUnchanged)
	attach(t, sm, p, types.StateUnchanged)

	c.Products = nil
	require.NoError(t, sm.DetectChanges())

	assert.Nil(t, p.Category)
	assert.Nil(t, p.DependentID)
	assertSettled(t, sm, counter)
}

func TestPrincipalKeyChangeReachesDependents(t *testing.T) {
	sm, counter := newManager(t, catalog.NewModel)
	p := &catalog.Product{ID: uuid.New(), DependentID: catalog.Int(10)}
	orphan := &catalog.Product{ID: uuid.New(), DependentID: catalog.Int(11)}
	c := &catalog.Category{ID: 1, PrincipalID: catalog.Int(10), Products: []*catalog.Product{p}}
	p.Category = c
	attach(t, sm, c, types.StateUnchanged)
	attach(t, sm, p, types.StateUnchanged)
	attach(t, sm, orphan, types.StateUnchanged)

	c.PrincipalID = catalog.Int(11)
	require.NoError(t, sm.DetectChanges())

	assert.Equal(t, 11, *p.DependentID)
	assert.Same(t, c, orphan.Category, "dependent matching the new key is adopted")
	assert.ElementsMatch(t, []*catalog.Product{p, orphan}, c.Products)
	assertSettled(t, sm, counter)
}

func TestOneToOneFixup(t *testing.T) {
	sm, counter := newManager(t, catalog.NewModel)
	p := &catalog.Product{ID: uuid.New(), TagID: 5}
	first := &catalog.ProductTag{ID: 1}
	second := &catalog.ProductTag{ID: 2}
	attach(t, sm, p, types.StateUnchanged)
	attach(t, sm, first, types.StateUnchanged)
	attach(t, sm, second, types.StateUnchanged)

	p.Tag = first
	require.NoError(t, sm.DetectChanges())
	assert.Equal(t, 5, first.ProductID)
	assert.Same(t, p, first.Product)
	assertSettled(t, sm, counter)

	second.Product = p
	require.NoError(t, sm.DetectChanges())
	assert.Same(t, second, p.Tag)
	assert.Equal(t, 5, second.ProductID)
	assert.Nil(t, first.Product, "the previous dependent is released")
	assert.Equal(t, 5, first.ProductID, "a required foreign key keeps its value")
	assertSettled(t, sm, counter)
}

func TestSelfReferenceWithTemporaryKeys(t *testing.T) {
	sm, counter := newManager(t, catalog.NewModel)
	wife := &catalog.Person{ID: 1}
	husband := &catalog.Person{}
	we := attach(t, sm, wife, types.StateUnchanged)

	wife.Husband = husband
	require.NoError(t, sm.DetectChanges())

	he, ok := sm.EntryFor(husband)
	require.True(t, ok)
	assert.Equal(t, types.StateAdded, he.State())
	assert.Equal(t, -1, husband.ID)
	assert.Equal(t, -1, wife.HusbandID)
	assert.Same(t, wife, husband.Wife)
	assert.Equal(t, types.StateModified, we.State())
	assertSettled(t, sm, counter)

	// The store assigns the final key.
	id, err := he.EntityType().Property("ID")
	require.NoError(t, err)
	sg, err := he.AddSidecar(tracking.NewStoreGeneratedValues(he, []*metadata.Property{id}))
	require.NoError(t, err)
	require.NoError(t, sg.SetValue(id, 42))
	require.NoError(t, sm.DetectChanges())
	assert.Equal(t, 42, wife.HusbandID)

	require.NoError(t, sg.Commit())
	assert.Equal(t, 42, husband.ID)
	_, ok = sm.LookupEntry(tracking.NewEntityKey(he.EntityType(), 42))
	assert.True(t, ok)
}

func TestNotifyingFixupIsImmediate(t *testing.T) {
	sm, counter := newManager(t, catalog.NewNotifyingModel)
	c := &catalog.NotifyingCategory{ID: 1, PrincipalID: catalog.Int(10)}
	p := &catalog.NotifyingProduct{ID: uuid.New()}
	attach(t, sm, c, types.StateUnchanged)
	attach(t, sm, p, types.StateUnchanged)

	p.SetCategory(c)
	require.NotNil(t, p.DependentID)
	assert.Equal(t, 10, *p.DependentID)
	assert.Equal(t, []*catalog.NotifyingProduct{p}, c.Products)
	assertSettled(t, sm, counter)

	p.SetDependentID(nil)
	assert.Nil(t, p.Category)
	assert.Empty(t, c.Products)
	assertSettled(t, sm, counter)
}

func TestChangingFixupOnDetection(t *testing.T) {
	sm, counter := newManager(t, catalog.NewChangingModel)
	c := &catalog.ChangingCategory{ID: 1, PrincipalID: catalog.Int(10)}
	p := &catalog.ChangingProduct{ID: uuid.New()}
	attach(t, sm, c, types.StateUnchanged)
	attach(t, sm, p, types.StateUnchanged)

	p.SetDependentID(catalog.Int(10))
	assert.Nil(t, p.Category, "nothing happens before detection")
	require.NoError(t, sm.DetectChanges())

	assert.Same(t, c, p.Category)
	assert.Equal(t, []*catalog.ChangingProduct{p}, c.Products)
	assertSettled(t, sm, counter)
}
