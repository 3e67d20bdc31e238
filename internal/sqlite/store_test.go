package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/tracker/pkg/fixup"
	"github.com/mesh-intelligence/tracker/pkg/metadata"
	"github.com/mesh-intelligence/tracker/pkg/tracking"
	"github.com/mesh-intelligence/tracker/pkg/types"
)

type customer struct {
	ID     int
	Name   string
	Email  *string
	Orders []*purchaseOrder
}

type purchaseOrder struct {
	ID         int
	CustomerID *int
	Customer   *customer
	Ref        uuid.UUID
	Total      float64
	Paid       bool
}

type node struct {
	ID       int
	ParentID *int
	Parent   *node
	Children []*node
}

type document struct {
	ID   uuid.UUID
	Body []byte
}

func newModel(t *testing.T) *metadata.Model {
	t.Helper()
	b := metadata.NewBuilder()
	b.Entity(&customer{}).Name("Customer")
	b.Entity(&purchaseOrder{}).Name("PurchaseOrder")
	b.Entity(&node{}).Name("Node")
	b.Entity(&document{}).Name("Document")
	b.HasMany(&customer{}, "Orders").WithOne("Customer")
	b.HasMany(&node{}, "Children").WithOne("Parent")
	m, err := b.Build()
	require.NoError(t, err)
	return m
}

func newManager(m *metadata.Model) *tracking.StateManager {
	return tracking.NewStateManager(m, types.TrackingConfig{}, fixup.NewNavigationFixer(m))
}

func attachStore(t *testing.T, m *metadata.Model, config types.Config) *Store {
	t.Helper()
	s := NewStore(m)
	require.NoError(t, s.Attach(config))
	t.Cleanup(func() { s.Detach() })
	return s
}

func attach(t *testing.T, sm *tracking.StateManager, entity any, state types.EntityState) *tracking.Entry {
	t.Helper()
	e, err := sm.Attach(entity, state)
	require.NoError(t, err)
	return e
}

func entityType(t *testing.T, m *metadata.Model, name string) *metadata.EntityType {
	t.Helper()
	et, err := m.EntityType(name)
	require.NoError(t, err)
	return et
}

func TestStoreAttachDetach(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	s := NewStore(newModel(t))
	config := types.Config{Backend: types.BackendSQLite, DataDir: dir}

	require.NoError(t, s.Attach(config))
	_, err := os.Stat(filepath.Join(dir, FileName))
	require.NoError(t, err, "database file created")
	assert.Equal(t, filepath.Join(dir, FileName), s.Path())

	assert.Equal(t, types.ErrAlreadyAttached, s.Attach(config))

	require.NoError(t, s.Detach())
	require.NoError(t, s.Detach(), "detach is idempotent")

	_, err = s.SaveChanges(context.Background(), newManager(newModel(t)))
	assert.Equal(t, types.ErrStoreDetached, err)

	err = s.Attach(types.Config{Backend: "postgres"})
	assert.True(t, errors.Is(err, types.ErrBackendUnknown), "got %v", err)
}

func TestSaveChangesInsertsPrincipalsFirst(t *testing.T) {
	ctx := context.Background()
	m := newModel(t)
	s := attachStore(t, m, types.Config{Backend: types.BackendMemory})
	sm := newManager(m)

	o := &purchaseOrder{Ref: uuid.New(), Total: 9.5, Paid: true}
	c := &customer{Name: "Ada"}
	oe := attach(t, sm, o, types.StateAdded)
	ce := attach(t, sm, c, types.StateAdded)
	require.Equal(t, -1, o.ID)
	require.Equal(t, -2, c.ID)

	o.Customer = c
	rows, err := s.SaveChanges(ctx, sm)
	require.NoError(t, err)
	assert.Equal(t, 2, rows)

	assert.Equal(t, 1, c.ID)
	assert.Equal(t, 1, o.ID)
	require.NotNil(t, o.CustomerID)
	assert.Equal(t, c.ID, *o.CustomerID, "generated key carried to the dependent")
	assert.Equal(t, []*purchaseOrder{o}, c.Orders)

	assert.Equal(t, types.StateUnchanged, ce.State())
	assert.Equal(t, types.StateUnchanged, oe.State())
	_, hasGenerated := ce.Sidecar(types.SidecarStoreGeneratedValues)
	assert.False(t, hasGenerated, "generated values committed")
	found, ok := sm.LookupEntry(tracking.NewEntityKey(entityType(t, m, "Customer"), 1))
	require.True(t, ok)
	assert.Same(t, ce, found)

	fresh := newManager(m)
	orders, err := s.Load(ctx, fresh, entityType(t, m, "PurchaseOrder"))
	require.NoError(t, err)
	require.Len(t, orders, 1)
	loaded := orders[0].(*purchaseOrder)
	assert.Equal(t, o.Ref, loaded.Ref)
	assert.Equal(t, 9.5, loaded.Total)
	assert.True(t, loaded.Paid)
	require.NotNil(t, loaded.CustomerID)
	assert.Equal(t, 1, *loaded.CustomerID)
	assert.Equal(t, 1, fresh.Len())
}

func TestSaveChangesUpdatesAndDeletes(t *testing.T) {
	ctx := context.Background()
	m := newModel(t)
	s := attachStore(t, m, types.Config{Backend: types.BackendSQLite, DataDir: t.TempDir()})
	sm := newManager(m)

	ada := &customer{Name: "Ada"}
	bob := &customer{Name: "Bob"}
	attach(t, sm, ada, types.StateAdded)
	bobEntry := attach(t, sm, bob, types.StateAdded)
	_, err := s.SaveChanges(ctx, sm)
	require.NoError(t, err)
	require.Equal(t, 1, ada.ID)
	require.Equal(t, 2, bob.ID)

	email := "ada@example.com"
	ada.Name = "Ada Lovelace"
	ada.Email = &email
	require.NoError(t, bobEntry.SetState(types.StateDeleted))

	rows, err := s.SaveChanges(ctx, sm)
	require.NoError(t, err)
	assert.Equal(t, 2, rows)
	assert.Equal(t, 1, sm.Len(), "deleted entry no longer tracked")

	fresh := newManager(m)
	customers, err := s.Load(ctx, fresh, entityType(t, m, "Customer"))
	require.NoError(t, err)
	require.Len(t, customers, 1)
	loaded := customers[0].(*customer)
	assert.Equal(t, "Ada Lovelace", loaded.Name)
	require.NotNil(t, loaded.Email)
	assert.Equal(t, email, *loaded.Email)

	rows, err = s.SaveChanges(ctx, sm)
	require.NoError(t, err)
	assert.Zero(t, rows, "nothing left to save")
}

func TestLoadResolvesIdentity(t *testing.T) {
	ctx := context.Background()
	m := newModel(t)
	s := attachStore(t, m, types.Config{Backend: types.BackendMemory})
	sm := newManager(m)
	attach(t, sm, &customer{Name: "Ada"}, types.StateAdded)
	attach(t, sm, &customer{Name: "Bob"}, types.StateAdded)
	_, err := s.SaveChanges(ctx, sm)
	require.NoError(t, err)

	other := newManager(m)
	local := &customer{ID: 1, Name: "edited locally"}
	attach(t, other, local, types.StateUnchanged)

	customers, err := s.Load(ctx, other, entityType(t, m, "Customer"))
	require.NoError(t, err)
	require.Len(t, customers, 2)
	assert.Same(t, local, customers[0])
	assert.Equal(t, "edited locally", local.Name, "tracked entity is not overwritten")
	assert.Equal(t, "Bob", customers[1].(*customer).Name)
	assert.Equal(t, 2, other.Len())
}

func TestSaveChangesRejectsCycles(t *testing.T) {
	m := newModel(t)
	s := attachStore(t, m, types.Config{Backend: types.BackendMemory})
	sm := newManager(m)

	a, b := &node{}, &node{}
	attach(t, sm, a, types.StateAdded)
	attach(t, sm, b, types.StateAdded)
	a.Parent = b
	b.Parent = a

	_, err := s.SaveChanges(context.Background(), sm)
	assert.True(t, errors.Is(err, types.ErrCyclicInsert), "got %v", err)
	assert.Equal(t, -1, a.ID, "nothing was inserted")
}

func TestSaveChangesKeepsSuppliedKeys(t *testing.T) {
	ctx := context.Background()
	m := newModel(t)
	s := attachStore(t, m, types.Config{Backend: types.BackendMemory})
	sm := newManager(m)

	doc := &document{Body: []byte("hello")}
	attach(t, sm, doc, types.StateAdded)
	require.NotEqual(t, uuid.Nil, doc.ID)
	id := doc.ID
	root := &node{ID: 40}
	attach(t, sm, root, types.StateAdded)

	_, err := s.SaveChanges(ctx, sm)
	require.NoError(t, err)
	assert.Equal(t, id, doc.ID)
	assert.Equal(t, 40, root.ID)

	fresh := newManager(m)
	docs, err := s.Load(ctx, fresh, entityType(t, m, "Document"))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, id, docs[0].(*document).ID)
	assert.Equal(t, []byte("hello"), docs[0].(*document).Body)
}

func TestFailedSaveRestoresTemporaryKeys(t *testing.T) {
	ctx := context.Background()
	m := newModel(t)
	s := attachStore(t, m, types.Config{Backend: types.BackendMemory})
	sm := newManager(m)
	customerType := entityType(t, m, "Customer")

	c := &customer{Name: "Ada"}
	d := &customer{Name: "Grace"}
	x := &customer{ID: 2, Name: "Edsger"}
	o := &purchaseOrder{Ref: uuid.New()}
	ce := attach(t, sm, c, types.StateAdded)
	de := attach(t, sm, d, types.StateAdded)
	attach(t, sm, x, types.StateAdded)
	attach(t, sm, o, types.StateAdded)
	require.Equal(t, -1, c.ID)
	require.Equal(t, -2, d.ID)
	o.Customer = c

	// d is given rowid 2, which x already claims.
	_, err := s.SaveChanges(ctx, sm)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrIdentityConflict), "got %v", err)

	assert.Equal(t, -1, c.ID)
	assert.Equal(t, -2, d.ID)
	require.NotNil(t, o.CustomerID)
	assert.Equal(t, -1, *o.CustomerID, "dependent follows the restored key")
	for _, e := range []*tracking.Entry{ce, de} {
		_, ok := e.Sidecar(types.SidecarStoreGeneratedValues)
		assert.False(t, ok, "%s keeps no generated values", e)
		assert.Equal(t, types.StateAdded, e.State())
		assert.Empty(t, e.ModifiedProperties())
	}
	id, err := customerType.Property("ID")
	require.NoError(t, err)
	assert.Equal(t, -2, de.Value(id))
	assert.Equal(t, tracking.NewEntityKey(customerType, -1), ce.Key())
	found, ok := sm.LookupEntry(tracking.NewEntityKey(customerType, -1))
	require.True(t, ok)
	assert.Same(t, ce, found)
	_, ok = sm.LookupEntry(tracking.NewEntityKey(customerType, 1))
	assert.False(t, ok)

	x.ID = 5
	rows, err := s.SaveChanges(ctx, sm)
	require.NoError(t, err)
	assert.Equal(t, 4, rows)
	assert.Equal(t, 1, c.ID)
	assert.Equal(t, 2, d.ID)
	assert.Equal(t, 1, *o.CustomerID)

	loaded, err := s.Load(ctx, newManager(m), customerType)
	require.NoError(t, err)
	assert.Len(t, loaded, 3)
}
