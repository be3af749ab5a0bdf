package umbradb

import (
	"fmt"
)

// Table stores rows under unique keys, ordered by a B-tree. The schema is
// an ordered column list with unique names and an optional primary-key
// column. When a primary key is declared, every row's key must equal the
// canonical encoding of that row's primary-key value.
type Table struct {
	Name       string
	Columns    []Column
	PrimaryKey string // empty when no primary key is declared

	pkIndex int // column index of PrimaryKey, -1 when none
	tree    *btree
}

// NewTable creates a table with the given schema and the default tree
// order. It fails with ErrInvalidSchema on duplicate column names or a
// primary key that names an unknown column.
func NewTable(name string, columns []Column, primaryKey string) (*Table, error) {
	return NewTableWithOrder(name, columns, primaryKey, DefaultOrder)
}

// maxNameLen bounds table and column names so they fit the u16 length
// prefix in the file format.
const maxNameLen = 1<<16 - 1

// NewTableWithOrder creates a table whose tree splits nodes at the given
// order M.
func NewTableWithOrder(name string, columns []Column, primaryKey string, order int) (*Table, error) {
	if order < MinOrder || order > MaxOrder {
		return nil, fmt.Errorf("table %s tree order %d outside [%d, %d]: %w",
			name, order, MinOrder, MaxOrder, ErrInvalidSchema)
	}
	if len(name) > maxNameLen {
		return nil, fmt.Errorf("table name is %d bytes, max is %d: %w", len(name), maxNameLen, ErrInvalidSchema)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s has no columns: %w", name, ErrInvalidSchema)
	}
	if len(columns) > maxNameLen {
		return nil, fmt.Errorf("table %s has %d columns, max is %d: %w", name, len(columns), maxNameLen, ErrInvalidSchema)
	}
	seen := make(map[string]bool, len(columns))
	for _, col := range columns {
		if col.Name == "" {
			return nil, fmt.Errorf("table %s has an unnamed column: %w", name, ErrInvalidSchema)
		}
		if len(col.Name) > maxNameLen {
			return nil, fmt.Errorf("table %s column name is %d bytes, max is %d: %w",
				name, len(col.Name), maxNameLen, ErrInvalidSchema)
		}
		if !col.Type.valid() {
			return nil, fmt.Errorf("table %s column %s has invalid type: %w", name, col.Name, ErrInvalidSchema)
		}
		if seen[col.Name] {
			return nil, fmt.Errorf("table %s duplicate column %s: %w", name, col.Name, ErrInvalidSchema)
		}
		seen[col.Name] = true
	}

	t := &Table{
		Name:       name,
		Columns:    append([]Column(nil), columns...),
		PrimaryKey: primaryKey,
		pkIndex:    -1,
		tree:       newBTree(order),
	}
	if primaryKey != "" {
		for i, col := range t.Columns {
			if col.Name == primaryKey {
				t.pkIndex = i
				break
			}
		}
		if t.pkIndex < 0 {
			return nil, fmt.Errorf("table %s primary key %s is not a column: %w", name, primaryKey, ErrInvalidSchema)
		}
	}
	return t, nil
}

// Order returns the table's tree order M.
func (t *Table) Order() int {
	return t.tree.order
}

// Len returns the number of rows in the table.
func (t *Table) Len() int {
	return t.tree.size
}

// IsEmpty reports whether the table holds no rows.
func (t *Table) IsEmpty() bool {
	return t.tree.size == 0
}

// validateRow checks a row against the column list: exact length and a
// matching type at every position.
func (t *Table) validateRow(values Row) error {
	if len(values) != len(t.Columns) {
		return fmt.Errorf("table %s expects %d values, got %d: %w",
			t.Name, len(t.Columns), len(values), ErrSchemaViolation)
	}
	for i, v := range values {
		if err := ValidateValue(v, t.Columns[i].Type); err != nil {
			return fmt.Errorf("table %s column %s: %w", t.Name, t.Columns[i].Name, err)
		}
	}
	return nil
}

// effectiveKey resolves the key a row is stored under. With a primary key
// declared the key is the canonical encoding of the primary-key value, and
// an explicit key must agree with it. Without one, an explicit key is
// required and taken as-is.
func (t *Table) effectiveKey(key Key, values Row) (Key, error) {
	if t.pkIndex >= 0 {
		derived := KeyOf(values[t.pkIndex])
		if key != nil && !key.Equal(derived) {
			return nil, fmt.Errorf("table %s key %s does not match primary key column %s: %w",
				t.Name, key, t.PrimaryKey, ErrSchemaViolation)
		}
		return derived, nil
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("table %s has no primary key, an explicit key is required: %w",
			t.Name, ErrSchemaViolation)
	}
	return key.Clone(), nil
}

// Insert adds a row. key may be nil when the table declares a primary key,
// in which case the key is derived from the primary-key value. The row is
// validated before anything is touched, so a failed insert leaves the
// table unchanged.
func (t *Table) Insert(key Key, values Row) error {
	if err := t.validateRow(values); err != nil {
		return err
	}
	k, err := t.effectiveKey(key, values)
	if err != nil {
		return err
	}
	if err := t.tree.insert(k, values.Clone(), false); err != nil {
		return fmt.Errorf("table %s key %s: %w", t.Name, k, err)
	}
	return nil
}

// Update replaces the row stored under key. The new values must still
// encode to the same key when a primary key is declared; changing the
// primary-key value of an existing row is a schema violation.
func (t *Table) Update(key Key, values Row) error {
	if _, err := t.tree.get(key); err != nil {
		return fmt.Errorf("table %s key %s: %w", t.Name, key, err)
	}
	if err := t.validateRow(values); err != nil {
		return err
	}
	if t.pkIndex >= 0 {
		derived := KeyOf(values[t.pkIndex])
		if !derived.Equal(key) {
			return fmt.Errorf("table %s update would change primary key column %s: %w",
				t.Name, t.PrimaryKey, ErrSchemaViolation)
		}
	}
	return t.tree.insert(key.Clone(), values.Clone(), true)
}

// Delete removes the row stored under key.
func (t *Table) Delete(key Key) error {
	if err := t.tree.delete(key); err != nil {
		return fmt.Errorf("table %s key %s: %w", t.Name, key, err)
	}
	return nil
}

// Get returns a copy of the row stored under key.
func (t *Table) Get(key Key) (Row, error) {
	row, err := t.tree.get(key)
	if err != nil {
		return nil, fmt.Errorf("table %s key %s: %w", t.Name, key, err)
	}
	return row.Clone(), nil
}

// RowMap returns the row stored under key as a column-name to value map.
func (t *Table) RowMap(key Key) (map[string]Value, error) {
	row, err := t.Get(key)
	if err != nil {
		return nil, err
	}
	m := make(map[string]Value, len(t.Columns))
	for i, col := range t.Columns {
		m[col.Name] = row[i]
	}
	return m, nil
}

// KeyRow is one (key, row) pair produced by a traversal.
type KeyRow struct {
	Key Key
	Row Row
}

// Range returns a lazy iterator over rows with keys in [low, high), in
// ascending key order. The table must not be mutated while the iterator is
// open.
func (t *Table) Range(low, high Key) *Iterator {
	return t.tree.scan(low, high)
}

// GetAll returns every (key, row) pair in ascending key order.
func (t *Table) GetAll() []KeyRow {
	return t.Find(nil)
}

// Find returns the (key, row) pairs whose row matches the predicate, in
// ascending key order. A nil predicate matches everything.
func (t *Table) Find(predicate func(Row) bool) []KeyRow {
	var out []KeyRow
	it := t.tree.scan(nil, nil)
	for {
		key, row, ok := it.Next()
		if !ok {
			break
		}
		if predicate == nil || predicate(row) {
			out = append(out, KeyRow{Key: key, Row: row})
		}
	}
	return out
}
