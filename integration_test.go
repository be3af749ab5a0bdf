package umbradb_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	umbradb "github.com/zakazai/umbra-db"
)

// Exercises the whole engine end to end: schema, bulk inserts, range
// scans, persistence round trips and Parquet export.
func TestFullWorkflow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.umdb")

	db := umbradb.New(path)
	require.NoError(t, db.CreateTable("users", []umbradb.Column{
		{Name: "id", Type: umbradb.TypeInt},
		{Name: "name", Type: umbradb.TypeText},
		{Name: "active", Type: umbradb.TypeBool},
	}, "id"))

	// Insert 1000 rows with ascending integer keys.
	for i := int64(0); i < 1000; i++ {
		require.NoError(t, db.Insert("users", nil, umbradb.Row{
			umbradb.NewIntValue(i),
			umbradb.NewTextValue("user"),
			umbradb.NewBoolValue(i%2 == 0),
		}))
	}

	require.NoError(t, db.Save())

	// Reopen and verify the range [200, 300) comes back in order.
	db, err := umbradb.Open(path)
	require.NoError(t, err)
	table, err := db.GetTable("users")
	require.NoError(t, err)
	require.Equal(t, 1000, table.Len())

	it := table.Range(
		umbradb.KeyOf(umbradb.NewIntValue(200)),
		umbradb.KeyOf(umbradb.NewIntValue(300)),
	)
	want := int64(200)
	for {
		_, row, ok := it.Next()
		if !ok {
			break
		}
		require.Equal(t, want, row[0].Int)
		want++
	}
	assert.Equal(t, int64(300), want, "range must yield exactly keys 200..299")

	// Mutate, persist, reopen: the changes survive.
	key := umbradb.KeyOf(umbradb.NewIntValue(500))
	require.NoError(t, db.Update("users", key, umbradb.Row{
		umbradb.NewIntValue(500),
		umbradb.NewTextValue("renamed"),
		umbradb.NewBoolValue(false),
	}))
	require.NoError(t, db.Delete("users", umbradb.KeyOf(umbradb.NewIntValue(999))))
	require.NoError(t, db.Save())

	db, err = umbradb.Open(path)
	require.NoError(t, err)
	row, err := db.Get("users", key)
	require.NoError(t, err)
	assert.Equal(t, "renamed", row[1].Str)
	_, err = db.Get("users", umbradb.KeyOf(umbradb.NewIntValue(999)))
	assert.ErrorIs(t, err, umbradb.ErrKeyNotFound)

	// Export the surviving rows for analytics.
	require.NoError(t, db.ExportParquet(dir))
	table, err = db.GetTable("users")
	require.NoError(t, err)
	restored := usersTable(t)
	require.NoError(t, restored.ImportParquet(filepath.Join(dir, "users.parquet")))
	assert.Equal(t, table.Len(), restored.Len())
}
