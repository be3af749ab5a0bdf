package umbradb

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Database is a named collection of tables bound to a single file path.
// Nothing is written to disk until Save is called; Open rebuilds the whole
// state from the file.
//
// A Database performs no internal locking. When an instance is shared
// across goroutines, callers must guard it with one exclusive-access
// primitive: at most one mutating call at a time, and no read concurrent
// with a mutation. Tree rebalancing transiently breaks node invariants, so
// an open Range iterator must be drained before the next mutation.
type Database struct {
	path   string
	tables map[string]*Table
}

// New creates an empty database bound to path. The file is not created
// until Save.
func New(path string) *Database {
	return &Database{
		path:   path,
		tables: make(map[string]*Table),
	}
}

// Open reads and decodes an existing database file. It fails with
// ErrFileNotFound when the file does not exist, ErrVersionMismatch on an
// unsupported format version, and ErrCorruptData or ErrTruncated when the
// contents do not decode.
func Open(path string) (*Database, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", path, ErrFileNotFound)
		}
		return nil, fmt.Errorf("read database file %s: %w", path, err)
	}

	db, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode database file %s: %w", path, err)
	}
	db.path = path
	logger.Info("opened database %s with %d tables", path, len(db.tables))
	return db, nil
}

// Path returns the file path the database is bound to.
func (db *Database) Path() string {
	return db.path
}

// Save encodes the full database state and atomically replaces the file at
// the bound path: the bytes are written to a temporary file in the same
// directory, synced, and renamed over the destination. A failure at any
// step removes the temporary file and leaves a previously committed file
// untouched.
func (db *Database) Save() error {
	data := Encode(db)

	dir := filepath.Dir(db.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create database directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(db.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if err := writeAndClose(tmp, data); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, db.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace database file %s: %w", db.path, err)
	}

	logger.Info("saved database %s (%d bytes, %d tables)", db.path, len(data), len(db.tables))
	return nil
}

func writeAndClose(f *os.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// CreateTable adds a table with the given schema and the default tree
// order. It fails with ErrTableExists when the name is taken and
// ErrInvalidSchema when the column list or primary key is unusable. The
// change is in-memory only until Save.
func (db *Database) CreateTable(name string, columns []Column, primaryKey string) error {
	return db.CreateTableWithOrder(name, columns, primaryKey, DefaultOrder)
}

// CreateTableWithOrder adds a table whose tree uses the given order M.
func (db *Database) CreateTableWithOrder(name string, columns []Column, primaryKey string, order int) error {
	if _, exists := db.tables[name]; exists {
		return fmt.Errorf("table %s: %w", name, ErrTableExists)
	}
	table, err := NewTableWithOrder(name, columns, primaryKey, order)
	if err != nil {
		return err
	}
	db.tables[name] = table
	return nil
}

// DropTable removes a table and all of its rows.
func (db *Database) DropTable(name string) error {
	if _, exists := db.tables[name]; !exists {
		return fmt.Errorf("table %s: %w", name, ErrTableNotFound)
	}
	delete(db.tables, name)
	return nil
}

// GetTable returns the named table.
func (db *Database) GetTable(name string) (*Table, error) {
	table, exists := db.tables[name]
	if !exists {
		return nil, fmt.Errorf("table %s: %w", name, ErrTableNotFound)
	}
	return table, nil
}

// ListTables returns the table names in sorted order.
func (db *Database) ListTables() []string {
	names := make([]string, 0, len(db.tables))
	for name := range db.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Insert adds a row to the named table. See Table.Insert for the key
// rules.
func (db *Database) Insert(tableName string, key Key, values Row) error {
	table, err := db.GetTable(tableName)
	if err != nil {
		return err
	}
	return table.Insert(key, values)
}

// Get returns a copy of the row stored under key in the named table.
func (db *Database) Get(tableName string, key Key) (Row, error) {
	table, err := db.GetTable(tableName)
	if err != nil {
		return nil, err
	}
	return table.Get(key)
}

// Update replaces the row stored under key in the named table.
func (db *Database) Update(tableName string, key Key, values Row) error {
	table, err := db.GetTable(tableName)
	if err != nil {
		return err
	}
	return table.Update(key, values)
}

// Delete removes the row stored under key from the named table.
func (db *Database) Delete(tableName string, key Key) error {
	table, err := db.GetTable(tableName)
	if err != nil {
		return err
	}
	return table.Delete(key)
}
