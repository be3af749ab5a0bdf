package umbradb_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	umbradb "github.com/zakazai/umbra-db"
)

func tempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.umdb")
}

func TestDatabaseTableManagement(t *testing.T) {
	db := umbradb.New(tempDBPath(t))

	columns := []umbradb.Column{{Name: "id", Type: umbradb.TypeInt}}
	require.NoError(t, db.CreateTable("users", columns, "id"))

	// Duplicate name
	err := db.CreateTable("users", columns, "id")
	assert.ErrorIs(t, err, umbradb.ErrTableExists)

	// Unknown table
	_, err = db.GetTable("ghosts")
	assert.ErrorIs(t, err, umbradb.ErrTableNotFound)
	err = db.Insert("ghosts", nil, umbradb.Row{umbradb.NewIntValue(1)})
	assert.ErrorIs(t, err, umbradb.ErrTableNotFound)

	require.NoError(t, db.CreateTable("orders", columns, "id"))
	assert.Equal(t, []string{"orders", "users"}, db.ListTables())

	require.NoError(t, db.DropTable("orders"))
	assert.Equal(t, []string{"users"}, db.ListTables())
	err = db.DropTable("orders")
	assert.ErrorIs(t, err, umbradb.ErrTableNotFound)
}

func TestDatabaseCRUDDelegation(t *testing.T) {
	db := umbradb.New(tempDBPath(t))
	require.NoError(t, db.CreateTable("users", []umbradb.Column{
		{Name: "id", Type: umbradb.TypeInt},
		{Name: "name", Type: umbradb.TypeText},
	}, "id"))

	key := umbradb.KeyOf(umbradb.NewIntValue(1))
	row := umbradb.Row{umbradb.NewIntValue(1), umbradb.NewTextValue("Alice")}
	require.NoError(t, db.Insert("users", nil, row))

	got, err := db.Get("users", key)
	require.NoError(t, err)
	assert.True(t, row.Equal(got))

	updated := umbradb.Row{umbradb.NewIntValue(1), umbradb.NewTextValue("Alicia")}
	require.NoError(t, db.Update("users", key, updated))
	got, err = db.Get("users", key)
	require.NoError(t, err)
	assert.True(t, updated.Equal(got))

	require.NoError(t, db.Delete("users", key))
	_, err = db.Get("users", key)
	assert.ErrorIs(t, err, umbradb.ErrKeyNotFound)
}

func TestDatabaseSaveAndOpen(t *testing.T) {
	path := tempDBPath(t)

	db := umbradb.New(path)
	require.NoError(t, db.CreateTable("users", []umbradb.Column{
		{Name: "id", Type: umbradb.TypeInt},
		{Name: "name", Type: umbradb.TypeText},
		{Name: "score", Type: umbradb.TypeFloat},
	}, "id"))
	for i := int64(0); i < 50; i++ {
		require.NoError(t, db.Insert("users", nil, umbradb.Row{
			umbradb.NewIntValue(i),
			umbradb.NewTextValue("user"),
			umbradb.NewFloatValue(float64(i) / 2),
		}))
	}
	require.NoError(t, db.Save())

	loaded, err := umbradb.Open(path)
	require.NoError(t, err)
	assert.Equal(t, path, loaded.Path())
	assert.Equal(t, []string{"users"}, loaded.ListTables())

	table, err := loaded.GetTable("users")
	require.NoError(t, err)
	assert.Equal(t, 50, table.Len())
	assert.Equal(t, "id", table.PrimaryKey)

	row, err := loaded.Get("users", umbradb.KeyOf(umbradb.NewIntValue(25)))
	require.NoError(t, err)
	assert.Equal(t, int64(25), row[0].Int)
	assert.Equal(t, 12.5, row[2].Float)
}

func TestDatabaseOpenMissingFile(t *testing.T) {
	_, err := umbradb.Open(filepath.Join(t.TempDir(), "nope.umdb"))
	assert.ErrorIs(t, err, umbradb.ErrFileNotFound)
}

func TestDatabaseSaveIdempotent(t *testing.T) {
	path := tempDBPath(t)

	db := umbradb.New(path)
	require.NoError(t, db.CreateTable("users", []umbradb.Column{
		{Name: "id", Type: umbradb.TypeInt},
	}, "id"))
	require.NoError(t, db.Insert("users", nil, umbradb.Row{umbradb.NewIntValue(1)}))

	require.NoError(t, db.Save())
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, db.Save())
	second, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, first, second, "two saves with no mutation in between must be byte-identical")
}

// Simulates a crash after the temporary file is written but before the
// atomic replace: whatever half-finished bytes sit next to the database
// file, the committed file stays byte-identical and decodable.
func TestDatabaseCrashBeforeReplaceKeepsOldFile(t *testing.T) {
	path := tempDBPath(t)

	db := umbradb.New(path)
	require.NoError(t, db.CreateTable("users", []umbradb.Column{
		{Name: "id", Type: umbradb.TypeInt},
	}, "id"))
	require.NoError(t, db.Insert("users", nil, umbradb.Row{umbradb.NewIntValue(1)}))
	require.NoError(t, db.Save())

	committed, err := os.ReadFile(path)
	require.NoError(t, err)

	// The crash leaves a fully written temp file that never got renamed.
	require.NoError(t, db.Insert("users", nil, umbradb.Row{umbradb.NewIntValue(2)}))
	orphan := path + ".tmp-crashed"
	require.NoError(t, os.WriteFile(orphan, umbradb.Encode(db), 0644))

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, committed, after)

	reopened, err := umbradb.Open(path)
	require.NoError(t, err)
	table, err := reopened.GetTable("users")
	require.NoError(t, err)
	assert.Equal(t, 1, table.Len(), "only the committed state is visible")
}

func TestDatabaseSaveDoesNotRunAutomatically(t *testing.T) {
	path := tempDBPath(t)

	db := umbradb.New(path)
	require.NoError(t, db.CreateTable("users", []umbradb.Column{
		{Name: "id", Type: umbradb.TypeInt},
	}, "id"))

	// No Save call, no file.
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
