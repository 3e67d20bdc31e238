package sqlite

import (
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/tracker/internal/catalog"
	"github.com/mesh-intelligence/tracker/pkg/metadata"
)

func TestTableNames(t *testing.T) {
	m, err := catalog.NewModel()
	require.NoError(t, err)

	tests := []struct {
		entityType string
		table      string
		columns    []string
	}{
		{"Category", "category", []string{"id", "principal_id", "name", "tag_id"}},
		{"CategoryTag", "category_tag", []string{"id", "category_id"}},
		{"Product", "product", []string{"id", "dependent_id", "name", "tag_id"}},
		{"Person", "person", []string{"id", "husband_id"}},
	}
	for _, tt := range tests {
		t.Run(tt.entityType, func(t *testing.T) {
			tbl, err := newTable(entityType(t, m, tt.entityType))
			require.NoError(t, err)
			assert.Equal(t, tt.table, tbl.name)
			var names []string
			for _, c := range tbl.columns {
				names = append(names, c.name)
			}
			assert.Equal(t, tt.columns, names)
		})
	}
}

func TestCreateStatement(t *testing.T) {
	m := newModel(t)

	orders, err := newTable(entityType(t, m, "PurchaseOrder"))
	require.NoError(t, err)
	assert.Equal(t, `CREATE TABLE IF NOT EXISTS "purchase_order" (
    "id" INTEGER PRIMARY KEY,
    "customer_id" INTEGER,
    "ref" TEXT NOT NULL,
    "total" REAL NOT NULL,
    "paid" INTEGER NOT NULL
)`, orders.createStatement())

	docs, err := newTable(entityType(t, m, "Document"))
	require.NoError(t, err)
	assert.Nil(t, docs.rowID)
	assert.Equal(t, `CREATE TABLE IF NOT EXISTS "document" (
    "id" TEXT NOT NULL,
    "body" BLOB NOT NULL,
    PRIMARY KEY ("id")
)`, docs.createStatement())

	assert.Equal(t, `UPDATE "document" SET "body" = ? WHERE "id" = ?`, docs.updateStatement(docs.columns[1:]))
	assert.Equal(t, `DELETE FROM "document" WHERE "id" = ?`, docs.deleteStatement())
	assert.Equal(t, `SELECT "id", "body" FROM "document" ORDER BY "id"`, docs.selectStatement())
}

func TestUnsupportedColumnType(t *testing.T) {
	type tagged struct {
		ID   int
		Tags map[string]string
	}
	b := metadata.NewBuilder()
	b.Entity(&tagged{})
	m, err := b.Build()
	require.NoError(t, err)

	_, err = newTable(entityType(t, m, "tagged"))
	assert.True(t, errors.Is(err, errors.NotSupported), "got %v", err)
}
