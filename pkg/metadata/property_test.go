package metadata_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/tracker/internal/catalog"
	"github.com/mesh-intelligence/tracker/pkg/metadata"
)

func TestPropertyGetSet(t *testing.T) {
	m := mustModel(t, catalog.NewModel)
	category := entityType(t, m, "Category")
	principalID := property(t, category, "PrincipalID")
	name := property(t, category, "Name")

	c := &catalog.Category{Name: "Beverages"}
	assert.Nil(t, principalID.Get(c))
	assert.Equal(t, "Beverages", name.Get(c))

	require.NoError(t, principalID.Set(c, int64(7)))
	require.NotNil(t, c.PrincipalID)
	assert.Equal(t, 7, *c.PrincipalID)
	assert.Equal(t, 7, principalID.Get(c))

	require.NoError(t, principalID.Set(c, catalog.Int(8)))
	assert.Equal(t, 8, principalID.Get(c))

	require.NoError(t, principalID.Set(c, nil))
	assert.Nil(t, c.PrincipalID)

	assert.Error(t, name.Set(c, 12))
	assert.Equal(t, "Beverages", c.Name)
}

func TestPropertyNormalize(t *testing.T) {
	m := mustModel(t, catalog.NewModel)
	id := property(t, entityType(t, m, "Category"), "ID")
	productID := property(t, entityType(t, m, "Product"), "ID")

	tests := []struct {
		name    string
		prop    *metadata.Property
		in      any
		want    any
		wantErr bool
	}{
		{name: "int64 to int", prop: id, in: int64(3), want: 3},
		{name: "float to int", prop: id, in: float64(4), want: 4},
		{name: "pointer dereferenced", prop: id, in: catalog.Int(5), want: 5},
		{name: "nil stays nil", prop: id, in: nil, want: nil},
		{name: "string rejected", prop: id, in: "5", wantErr: true},
		{name: "uuid kept", prop: productID, in: uuid.Nil, want: uuid.Nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.prop.Normalize(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValuesEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b any
		want bool
	}{
		{"both nil", nil, nil, true},
		{"nil and zero", nil, 0, false},
		{"equal ints", 1, 1, true},
		{"different types", 1, int64(1), false},
		{"byte slices by content", []byte("ab"), []byte("ab"), true},
		{"different byte slices", []byte("ab"), []byte("ba"), false},
		{"maps deeply", map[string]int{"a": 1}, map[string]int{"a": 1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, metadata.ValuesEqual(tt.a, tt.b))
		})
	}
}

func TestNavigationAccess(t *testing.T) {
	m := mustModel(t, catalog.NewModel)
	products := navigation(t, entityType(t, m, "Category"), "Products")
	productCategory := navigation(t, entityType(t, m, "Product"), "Category")

	c := &catalog.Category{}
	p1, p2, p3 := &catalog.Product{Name: "a"}, &catalog.Product{Name: "b"}, &catalog.Product{Name: "c"}

	assert.Equal(t, []any{}, products.Get(c))
	for _, p := range []*catalog.Product{p1, p2, p3} {
		added, err := products.Add(c, p)
		require.NoError(t, err)
		assert.True(t, added)
	}
	added, err := products.Add(c, p1)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, []*catalog.Product{p1, p2, p3}, c.Products)

	snapshot := products.Get(c).([]any)
	removed, err := products.Remove(c, p2)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Equal(t, []*catalog.Product{p1, p3}, c.Products)
	assert.Len(t, snapshot, 3, "Get returns a copy")
	assert.True(t, products.Contains(c, p3))
	assert.False(t, products.Contains(c, p2))

	require.NoError(t, products.Set(c, []any{p2}))
	assert.Equal(t, []*catalog.Product{p2}, c.Products)
	assert.Error(t, products.Set(c, []any{c}))

	assert.Nil(t, productCategory.Get(p1))
	require.NoError(t, productCategory.Set(p1, c))
	assert.Same(t, c, p1.Category)
	assert.Equal(t, []any{c}, productCategory.Members(p1))
	assert.Error(t, productCategory.Set(p1, p2))

	_, err = productCategory.Add(p1, c)
	assert.Error(t, err)

	c.Products = []*catalog.Product{nil, p1, nil}
	assert.Equal(t, []any{p1}, products.Get(c), "nil elements are not members")
	assert.Equal(t, []any{p1}, products.Members(c))
	_, err = products.Add(c, (*catalog.Product)(nil))
	assert.True(t, errors.Is(err, errors.NotValid), "got %v", err)
}
