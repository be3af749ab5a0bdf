package umbradb

import (
	"encoding/binary"
	"fmt"
)

// File layout, all integers big-endian:
//
//	magic "UMDB" | version u16 | table count u32
//	per table (sorted by name):
//	  name u16+bytes | column count u16 | columns (name u16+bytes, type u8)
//	  pk flag u8 (+ name u16+bytes) | order u32 | node count u32 | root id u32
//	  nodes in pre-order from the root, ids renumbered 0..count-1:
//	    id u32 | leaf u8 | key count u16 | keys (u32+bytes)
//	    leaf:     per key, row = value count u16 + encoded values
//	    internal: key count + 1 child ids, u32 each
//
// Encoding is deterministic for a given in-memory structure: tables are
// written in name order and node ids are renumbered in pre-order, so
// Encode(Decode(b)) reproduces b byte for byte.

var fileMagic = [4]byte{'U', 'M', 'D', 'B'}

// FormatVersion is the on-disk format version this build reads and writes.
const FormatVersion uint16 = 1

// Encode serializes the full database state: every table's schema and the
// exact node structure of its tree.
func Encode(db *Database) []byte {
	buf := append([]byte(nil), fileMagic[:]...)
	buf = appendUint16(buf, FormatVersion)

	names := db.ListTables()
	buf = appendUint32(buf, uint32(len(names)))
	for _, name := range names {
		buf = encodeTable(buf, db.tables[name])
	}
	return buf
}

func encodeTable(buf []byte, t *Table) []byte {
	buf = appendShortString(buf, t.Name)
	buf = appendUint16(buf, uint16(len(t.Columns)))
	for _, col := range t.Columns {
		buf = appendShortString(buf, col.Name)
		buf = append(buf, byte(col.Type))
	}
	if t.PrimaryKey != "" {
		buf = append(buf, 1)
		buf = appendShortString(buf, t.PrimaryKey)
	} else {
		buf = append(buf, 0)
	}

	tree := t.tree
	renumbered := preorderIDs(tree)
	buf = appendUint32(buf, uint32(tree.order))
	buf = appendUint32(buf, uint32(len(renumbered)))
	buf = appendUint32(buf, 0) // root is always renumbered to 0
	for seq, id := range renumbered {
		buf = encodeNode(buf, tree, id, seq, renumbered)
	}
	return buf
}

// preorderIDs lists the tree's live node ids in pre-order from the root.
// The position of an id in the result is its renumbered identity on disk.
func preorderIDs(t *btree) []int {
	order := make([]int, 0, len(t.nodes)-len(t.free))
	var walk func(id int)
	walk = func(id int) {
		order = append(order, id)
		n := t.node(id)
		if !n.leaf {
			for _, child := range n.children {
				walk(child)
			}
		}
	}
	walk(t.root)
	return order
}

func encodeNode(buf []byte, t *btree, id, seq int, renumbered []int) []byte {
	n := t.node(id)
	buf = appendUint32(buf, uint32(seq))
	if n.leaf {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = appendUint16(buf, uint16(len(n.keys)))
	for _, key := range n.keys {
		buf = appendUint32(buf, uint32(len(key)))
		buf = append(buf, key...)
	}
	if n.leaf {
		for _, row := range n.rows {
			buf = appendUint16(buf, uint16(len(row)))
			for _, v := range row {
				buf = appendValue(buf, v)
			}
		}
		return buf
	}
	for _, child := range n.children {
		buf = appendUint32(buf, uint32(seqOf(renumbered, child)))
	}
	return buf
}

func seqOf(renumbered []int, id int) int {
	for seq, candidate := range renumbered {
		if candidate == id {
			return seq
		}
	}
	panic(fmt.Sprintf("node %d not reachable from root", id))
}

func appendShortString(buf []byte, s string) []byte {
	buf = appendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

// Decode reconstructs a database from its encoded form. Nodes are rebuilt
// exactly as written, with no rebalancing. The returned database has no
// bound path; Open sets it.
func Decode(data []byte) (*Database, error) {
	r := &byteReader{buf: data}

	magic, err := r.take(4)
	if err != nil {
		return nil, err
	}
	if string(magic) != string(fileMagic[:]) {
		return nil, fmt.Errorf("bad magic %q: %w", magic, ErrCorruptData)
	}
	version, err := r.uint16()
	if err != nil {
		return nil, err
	}
	if version != FormatVersion {
		return nil, fmt.Errorf("format version %d, supported %d: %w", version, FormatVersion, ErrVersionMismatch)
	}

	tableCount, err := r.uint32()
	if err != nil {
		return nil, err
	}
	db := New("")
	for i := uint32(0); i < tableCount; i++ {
		table, err := decodeTable(r)
		if err != nil {
			return nil, err
		}
		if _, exists := db.tables[table.Name]; exists {
			return nil, fmt.Errorf("table %s appears twice: %w", table.Name, ErrCorruptData)
		}
		db.tables[table.Name] = table
	}
	if r.off != len(r.buf) {
		return nil, fmt.Errorf("%d trailing bytes: %w", len(r.buf)-r.off, ErrCorruptData)
	}
	return db, nil
}

func decodeTable(r *byteReader) (*Table, error) {
	name, err := r.shortString()
	if err != nil {
		return nil, err
	}
	columnCount, err := r.uint16()
	if err != nil {
		return nil, err
	}
	columns := make([]Column, columnCount)
	for i := range columns {
		colName, err := r.shortString()
		if err != nil {
			return nil, err
		}
		tag, err := r.uint8()
		if err != nil {
			return nil, err
		}
		if !ValueType(tag).valid() {
			return nil, fmt.Errorf("table %s column %s has unknown type tag %d: %w",
				name, colName, tag, ErrCorruptData)
		}
		columns[i] = Column{Name: colName, Type: ColumnType(tag)}
	}

	pkFlag, err := r.uint8()
	if err != nil {
		return nil, err
	}
	var primaryKey string
	switch pkFlag {
	case 0:
	case 1:
		primaryKey, err = r.shortString()
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("table %s primary key flag %d: %w", name, pkFlag, ErrCorruptData)
	}

	order, err := r.uint32()
	if err != nil {
		return nil, err
	}
	if order < MinOrder {
		return nil, fmt.Errorf("table %s tree order %d: %w", name, order, ErrCorruptData)
	}
	table, err := NewTableWithOrder(name, columns, primaryKey, int(order))
	if err != nil {
		return nil, fmt.Errorf("table %s carries an unusable schema (%v): %w", name, err, ErrCorruptData)
	}

	if err := decodeTree(r, table); err != nil {
		return nil, fmt.Errorf("table %s: %w", name, err)
	}
	return table, nil
}

func decodeTree(r *byteReader, table *Table) error {
	nodeCount, err := r.uint32()
	if err != nil {
		return err
	}
	rootID, err := r.uint32()
	if err != nil {
		return err
	}
	if nodeCount == 0 || rootID >= nodeCount {
		return fmt.Errorf("node count %d, root %d: %w", nodeCount, rootID, ErrCorruptData)
	}

	tree := &btree{
		order: table.tree.order,
		nodes: make([]*node, nodeCount),
		root:  int(rootID),
	}
	for i := uint32(0); i < nodeCount; i++ {
		if err := decodeNode(r, tree, nodeCount, len(table.Columns)); err != nil {
			return err
		}
	}
	for _, n := range tree.nodes {
		if n == nil {
			return fmt.Errorf("missing node in table stream: %w", ErrCorruptData)
		}
	}
	if err := checkTree(tree); err != nil {
		return err
	}
	table.tree = tree
	return nil
}

// checkTree verifies that the decoded node graph is a well-formed tree
// before anything walks it: every node reachable from the root exactly
// once, and the usual structural invariants on top. Without this a crafted
// file with a child cycle would make lookups and re-encoding loop forever.
func checkTree(tree *btree) error {
	visited := make([]bool, len(tree.nodes))
	visited[tree.root] = true
	stack := []int{tree.root}
	reached := 0
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		reached++
		n := tree.nodes[id]
		if n.leaf {
			tree.size += len(n.keys)
			continue
		}
		for _, child := range n.children {
			if visited[child] {
				return fmt.Errorf("node %d referenced more than once: %w", child, ErrCorruptData)
			}
			visited[child] = true
			stack = append(stack, child)
		}
	}
	if reached != len(tree.nodes) {
		return fmt.Errorf("%d of %d nodes reachable from root: %w", reached, len(tree.nodes), ErrCorruptData)
	}
	if err := tree.validate(); err != nil {
		return fmt.Errorf("decoded tree is inconsistent (%v): %w", err, ErrCorruptData)
	}
	return nil
}

func decodeNode(r *byteReader, tree *btree, nodeCount uint32, columnCount int) error {
	id, err := r.uint32()
	if err != nil {
		return err
	}
	if id >= nodeCount {
		return fmt.Errorf("node id %d out of range: %w", id, ErrCorruptData)
	}
	if tree.nodes[id] != nil {
		return fmt.Errorf("node id %d appears twice: %w", id, ErrCorruptData)
	}
	leafFlag, err := r.uint8()
	if err != nil {
		return err
	}
	if leafFlag > 1 {
		return fmt.Errorf("node %d leaf flag %d: %w", id, leafFlag, ErrCorruptData)
	}
	n := &node{leaf: leafFlag == 1}

	keyCount, err := r.uint16()
	if err != nil {
		return err
	}
	n.keys = make([]Key, keyCount)
	for i := range n.keys {
		raw, err := r.lengthPrefixed()
		if err != nil {
			return err
		}
		n.keys[i] = Key(raw).Clone()
	}

	if n.leaf {
		n.rows = make([]Row, keyCount)
		for i := range n.rows {
			valueCount, err := r.uint16()
			if err != nil {
				return err
			}
			if int(valueCount) != columnCount {
				return fmt.Errorf("node %d row has %d values, schema has %d columns: %w",
					id, valueCount, columnCount, ErrCorruptData)
			}
			row := make(Row, valueCount)
			for j := range row {
				v, consumed, err := decodeValue(r.buf[r.off:])
				if err != nil {
					return err
				}
				r.off += consumed
				row[j] = v
			}
			n.rows[i] = row
		}
	} else {
		n.children = make([]int, keyCount+1)
		for i := range n.children {
			child, err := r.uint32()
			if err != nil {
				return err
			}
			if child >= nodeCount {
				return fmt.Errorf("node %d child id %d out of range: %w", id, child, ErrCorruptData)
			}
			n.children[i] = int(child)
		}
	}

	tree.nodes[id] = n
	return nil
}

// byteReader consumes the encoded stream front to back, failing with
// ErrTruncated when fewer bytes remain than a field needs.
type byteReader struct {
	buf []byte
	off int
}

func (r *byteReader) take(n int) ([]byte, error) {
	if r.off+n > len(r.buf) {
		return nil, fmt.Errorf("need %d bytes at offset %d, have %d: %w",
			n, r.off, len(r.buf)-r.off, ErrTruncated)
	}
	out := r.buf[r.off : r.off+n]
	r.off += n
	return out, nil
}

func (r *byteReader) uint8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *byteReader) uint16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *byteReader) uint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (r *byteReader) lengthPrefixed() ([]byte, error) {
	n, err := r.uint32()
	if err != nil {
		return nil, err
	}
	return r.take(int(n))
}

func (r *byteReader) shortString() (string, error) {
	n, err := r.uint16()
	if err != nil {
		return "", err
	}
	b, err := r.take(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
