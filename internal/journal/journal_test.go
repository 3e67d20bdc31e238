package journal

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/tracker/internal/catalog"
	"github.com/mesh-intelligence/tracker/pkg/tracking"
	"github.com/mesh-intelligence/tracker/pkg/types"
)

func TestJournalRecordsChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	j, err := Open(path)
	require.NoError(t, err)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return fixed }

	model, err := catalog.NewModel()
	require.NoError(t, err)
	sm := tracking.NewStateManager(model, types.TrackingConfig{}, j)

	c := &catalog.Category{ID: 1}
	p := &catalog.Product{ID: uuid.New(), DependentID: catalog.Int(3)}
	_, err = sm.Attach(c, types.StateUnchanged)
	require.NoError(t, err)
	_, err = sm.Attach(p, types.StateUnchanged)
	require.NoError(t, err)

	p.DependentID = catalog.Int(4)
	p.Category = c
	c.Products = []*catalog.Product{p}
	require.NoError(t, sm.DetectChanges())

	records := j.Records()
	require.Len(t, records, 3)

	assert.Equal(t, KindCollection, records[0].Kind)
	assert.Equal(t, "Category#0", records[0].Entry)
	assert.Equal(t, "Products", records[0].Member)
	assert.Equal(t, []string{"Product#1"}, records[0].Added)
	assert.Equal(t, "Category(1)", records[0].Key)

	assert.Equal(t, KindForeignKey, records[1].Kind)
	assert.Equal(t, 3, records[1].Old)
	assert.Equal(t, 4, records[1].New)

	assert.Equal(t, KindReference, records[2].Kind)
	assert.Nil(t, records[2].Old)
	assert.Equal(t, "Category#0", records[2].New)
	for _, r := range records {
		assert.Equal(t, fixed, r.Time)
		assert.NotEmpty(t, r.ID)
	}

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "nothing is written before Flush")

	require.NoError(t, j.Flush())
	read, err := Read(path)
	require.NoError(t, err)
	require.Len(t, read, 3)
	assert.Equal(t, records[0].Added, read[0].Added)
	assert.Equal(t, float64(4), read[1].New, "numbers read back as JSON numbers")

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.Len(t, reopened.Records(), 3)
}

func TestReadSkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	content := `{"id":"a","kind":"reference","entry":"Product#1","member":"Category"}
not json

{"id":"b","kind":"collection","entry":"Category#0","member":"Products"}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	records, err := Read(path)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "a", records[0].ID)
	assert.Equal(t, KindCollection, records[1].Kind)
}

func TestOpenMissingFile(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), FileName))
	require.NoError(t, err)
	assert.Empty(t, j.Records())
	require.NoError(t, j.Flush())

	_, err = Read(filepath.Join(t.TempDir(), "absent.jsonl"))
	assert.Error(t, err)
}

func TestWriteJSONLReplacesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.jsonl")
	require.NoError(t, writeJSONL(path, nil))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	require.NoError(t, writeJSONL(path, []json.RawMessage{json.RawMessage(`{"a":1}`)}))
	got, err := readJSONL(path)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.JSONEq(t, `{"a":1}`, string(got[0]))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}
