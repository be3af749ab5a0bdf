package umbradb

import (
	"fmt"
	"sort"
)

const (
	// DefaultOrder is the tree order used when a table does not ask for a
	// specific one. Order M means a node holds at most M-1 keys.
	DefaultOrder = 32

	// MinOrder is the smallest usable tree order.
	MinOrder = 3

	// MaxOrder is the largest tree order a table may use. Order M caps a
	// node at M-1 keys, which must fit the u16 key-count field on disk.
	MaxOrder = 1 << 16
)

// node is one B-tree node. Leaves hold rows parallel to their keys;
// internal nodes hold routing keys and child node ids. Nodes are addressed
// by their index in the owning tree's arena, never by pointer, which maps
// directly onto the node ids in the file format.
type node struct {
	leaf     bool
	keys     []Key
	rows     []Row // leaves only, rows[i] belongs to keys[i]
	children []int // internal only, len(keys)+1 entries
}

// search returns the position of the first key >= target and whether it is
// an exact match. A nil target matches position 0.
func (n *node) search(target Key) (int, bool) {
	pos := sort.Search(len(n.keys), func(i int) bool {
		return n.keys[i].Compare(target) >= 0
	})
	if pos < len(n.keys) && n.keys[pos].Equal(target) {
		return pos, true
	}
	return pos, false
}

// childIndex picks the child subtree a key belongs to. Keys equal to a
// routing key go right, so a routing key is always <= every key in the
// subtree it guards.
func (n *node) childIndex(target Key) int {
	return sort.Search(len(n.keys), func(i int) bool {
		return target.Compare(n.keys[i]) < 0
	})
}

// btree is an ordered map from Key to Row. Rows live at the leaves;
// internal nodes only route. All leaves sit at the same depth.
type btree struct {
	order int // M: a node splits when its key count reaches M
	nodes []*node
	free  []int
	root  int
	size  int
}

func newBTree(order int) *btree {
	if order < MinOrder {
		order = DefaultOrder
	}
	t := &btree{order: order}
	t.root = t.newNode(true)
	return t
}

// maxKeys is the largest key count a node may keep after rebalancing.
func (t *btree) maxKeys() int { return t.order - 1 }

// minKeys is the smallest key count a non-root node may drop to.
func (t *btree) minKeys() int { return (t.order+1)/2 - 1 }

func (t *btree) node(id int) *node {
	return t.nodes[id]
}

func (t *btree) newNode(leaf bool) int {
	if n := len(t.free); n > 0 {
		id := t.free[n-1]
		t.free = t.free[:n-1]
		t.nodes[id] = &node{leaf: leaf}
		return id
	}
	t.nodes = append(t.nodes, &node{leaf: leaf})
	return len(t.nodes) - 1
}

func (t *btree) freeNode(id int) {
	t.nodes[id] = nil
	t.free = append(t.free, id)
}

// get returns the row stored under key.
func (t *btree) get(key Key) (Row, error) {
	id := t.root
	for {
		n := t.node(id)
		if n.leaf {
			pos, found := n.search(key)
			if !found {
				return nil, ErrKeyNotFound
			}
			return n.rows[pos], nil
		}
		id = n.children[n.childIndex(key)]
	}
}

// insert adds key -> row. An existing key fails with ErrKeyExists unless
// overwrite is set, in which case the row is replaced in place.
func (t *btree) insert(key Key, row Row, overwrite bool) error {
	promoted, right, err := t.insertInto(t.root, key, row, overwrite)
	if err != nil {
		return err
	}
	if right >= 0 {
		// Root split: the tree grows one level.
		newRoot := t.newNode(false)
		n := t.node(newRoot)
		n.keys = append(n.keys, promoted)
		n.children = append(n.children, t.root, right)
		t.root = newRoot
	}
	return nil
}

// insertInto descends to a leaf, inserts, and splits overflowing nodes on
// the way back up. When a split happened it returns the promoted separator
// key and the id of the new right node; otherwise right is -1.
func (t *btree) insertInto(id int, key Key, row Row, overwrite bool) (Key, int, error) {
	n := t.node(id)
	if n.leaf {
		pos, found := n.search(key)
		if found {
			if !overwrite {
				return nil, -1, ErrKeyExists
			}
			n.rows[pos] = row
			return nil, -1, nil
		}
		n.keys = append(n.keys, nil)
		copy(n.keys[pos+1:], n.keys[pos:])
		n.keys[pos] = key
		n.rows = append(n.rows, nil)
		copy(n.rows[pos+1:], n.rows[pos:])
		n.rows[pos] = row
		t.size++
		if len(n.keys) < t.order {
			return nil, -1, nil
		}
		return t.splitLeaf(n)
	}

	idx := n.childIndex(key)
	promoted, right, err := t.insertInto(n.children[idx], key, row, overwrite)
	if err != nil || right < 0 {
		return nil, -1, err
	}

	// A child split below: adopt the separator and the new right child.
	n.keys = append(n.keys, nil)
	copy(n.keys[idx+1:], n.keys[idx:])
	n.keys[idx] = promoted
	n.children = append(n.children, 0)
	copy(n.children[idx+2:], n.children[idx+1:])
	n.children[idx+1] = right
	if len(n.keys) < t.order {
		return nil, -1, nil
	}
	return t.splitInternal(n)
}

// splitLeaf moves the upper half of a full leaf into a new right sibling
// and promotes a copy of the right sibling's first key.
func (t *btree) splitLeaf(n *node) (Key, int, error) {
	mid := len(n.keys) / 2
	rightID := t.newNode(true)
	right := t.node(rightID)
	right.keys = append(right.keys, n.keys[mid:]...)
	right.rows = append(right.rows, n.rows[mid:]...)
	n.keys = n.keys[:mid:mid]
	n.rows = n.rows[:mid:mid]
	return right.keys[0].Clone(), rightID, nil
}

// splitInternal moves the upper half of a full internal node into a new
// right sibling and promotes the median key.
func (t *btree) splitInternal(n *node) (Key, int, error) {
	mid := len(n.keys) / 2
	promoted := n.keys[mid]
	rightID := t.newNode(false)
	right := t.node(rightID)
	right.keys = append(right.keys, n.keys[mid+1:]...)
	right.children = append(right.children, n.children[mid+1:]...)
	n.keys = n.keys[:mid:mid]
	n.children = n.children[: mid+1 : mid+1]
	return promoted, rightID, nil
}

// delete removes key. Underflowing nodes borrow from a sibling or merge,
// and a root left with no keys shrinks the tree by one level.
func (t *btree) delete(key Key) error {
	if err := t.deleteFrom(t.root, key); err != nil {
		return err
	}
	t.size--
	root := t.node(t.root)
	if !root.leaf && len(root.keys) == 0 {
		old := t.root
		t.root = root.children[0]
		t.freeNode(old)
	}
	return nil
}

func (t *btree) deleteFrom(id int, key Key) error {
	n := t.node(id)
	if n.leaf {
		pos, found := n.search(key)
		if !found {
			return ErrKeyNotFound
		}
		n.keys = append(n.keys[:pos], n.keys[pos+1:]...)
		n.rows = append(n.rows[:pos], n.rows[pos+1:]...)
		return nil
	}
	idx := n.childIndex(key)
	if err := t.deleteFrom(n.children[idx], key); err != nil {
		return err
	}
	t.fixUnderflow(n, idx)
	return nil
}

// fixUnderflow restores the minimum key count of parent's idx-th child,
// preferring to borrow from a sibling and merging only when both siblings
// sit at the minimum.
func (t *btree) fixUnderflow(parent *node, idx int) {
	child := t.node(parent.children[idx])
	if len(child.keys) >= t.minKeys() {
		return
	}

	if idx > 0 {
		left := t.node(parent.children[idx-1])
		if len(left.keys) > t.minKeys() {
			t.borrowFromLeft(parent, idx, left, child)
			return
		}
	}
	if idx < len(parent.children)-1 {
		right := t.node(parent.children[idx+1])
		if len(right.keys) > t.minKeys() {
			t.borrowFromRight(parent, idx, child, right)
			return
		}
	}

	if idx > 0 {
		t.merge(parent, idx-1)
	} else {
		t.merge(parent, idx)
	}
}

func (t *btree) borrowFromLeft(parent *node, idx int, left, child *node) {
	last := len(left.keys) - 1
	if child.leaf {
		child.keys = append([]Key{left.keys[last]}, child.keys...)
		child.rows = append([]Row{left.rows[last]}, child.rows...)
		left.keys = left.keys[:last]
		left.rows = left.rows[:last]
		parent.keys[idx-1] = child.keys[0].Clone()
		return
	}
	child.keys = append([]Key{parent.keys[idx-1]}, child.keys...)
	child.children = append([]int{left.children[last+1]}, child.children...)
	parent.keys[idx-1] = left.keys[last]
	left.keys = left.keys[:last]
	left.children = left.children[:last+1]
}

func (t *btree) borrowFromRight(parent *node, idx int, child, right *node) {
	if child.leaf {
		child.keys = append(child.keys, right.keys[0])
		child.rows = append(child.rows, right.rows[0])
		right.keys = right.keys[1:]
		right.rows = right.rows[1:]
		parent.keys[idx] = right.keys[0].Clone()
		return
	}
	child.keys = append(child.keys, parent.keys[idx])
	child.children = append(child.children, right.children[0])
	parent.keys[idx] = right.keys[0]
	right.keys = right.keys[1:]
	right.children = right.children[1:]
}

// merge folds parent's child idx+1 into child idx and drops the separator
// between them.
func (t *btree) merge(parent *node, idx int) {
	leftID := parent.children[idx]
	rightID := parent.children[idx+1]
	left := t.node(leftID)
	right := t.node(rightID)

	if left.leaf {
		left.keys = append(left.keys, right.keys...)
		left.rows = append(left.rows, right.rows...)
	} else {
		left.keys = append(left.keys, parent.keys[idx])
		left.keys = append(left.keys, right.keys...)
		left.children = append(left.children, right.children...)
	}

	parent.keys = append(parent.keys[:idx], parent.keys[idx+1:]...)
	parent.children = append(parent.children[:idx+1], parent.children[idx+2:]...)
	t.freeNode(rightID)
}

// Iterator walks (key, row) pairs in ascending key order. It is lazy: rows
// are visited as Next is called. The tree must not be mutated while an
// iterator is open; callers that need to interleave mutations must drain
// the iterator first.
type Iterator struct {
	tree  *btree
	high  Key // exclusive upper bound, nil for unbounded
	stack []iterFrame
}

type iterFrame struct {
	id  int
	idx int
}

// scan returns an iterator over keys in [low, high). A nil low starts at
// the smallest key; a nil high runs to the end.
func (t *btree) scan(low, high Key) *Iterator {
	it := &Iterator{tree: t, high: high}
	it.descend(t.root, low)
	return it
}

func (it *Iterator) descend(id int, low Key) {
	for {
		n := it.tree.node(id)
		if n.leaf {
			pos, _ := n.search(low)
			it.stack = append(it.stack, iterFrame{id: id, idx: pos})
			return
		}
		idx := n.childIndex(low)
		it.stack = append(it.stack, iterFrame{id: id, idx: idx})
		id = n.children[idx]
	}
}

// Next returns the next pair in order. The third return is false once the
// iterator is exhausted. Returned keys and rows are copies and stay valid
// across later mutations.
func (it *Iterator) Next() (Key, Row, bool) {
	for len(it.stack) > 0 {
		top := &it.stack[len(it.stack)-1]
		n := it.tree.node(top.id)
		if n.leaf {
			if top.idx < len(n.keys) {
				key := n.keys[top.idx]
				if it.high != nil && key.Compare(it.high) >= 0 {
					it.stack = nil
					return nil, nil, false
				}
				row := n.rows[top.idx]
				top.idx++
				return key.Clone(), row.Clone(), true
			}
			it.stack = it.stack[:len(it.stack)-1]
			continue
		}
		top.idx++
		if top.idx < len(n.children) {
			it.descend(n.children[top.idx], nil)
			continue
		}
		it.stack = it.stack[:len(it.stack)-1]
	}
	return nil, nil, false
}

// validate walks the whole tree and checks the structural invariants:
// bounded key counts, strictly increasing keys within and across sibling
// subtrees, uniform leaf depth, and a size matching the stored row count.
// Tests run it after every mutation.
func (t *btree) validate() error {
	counted, _, err := t.validateNode(t.root, nil, nil, true)
	if err != nil {
		return err
	}
	if counted != t.size {
		return fmt.Errorf("tree size %d but %d rows reachable", t.size, counted)
	}
	return nil
}

// validateNode checks the subtree at id. Every key k in the subtree must
// satisfy min <= k < max (nil bounds are unbounded). It returns the number
// of rows and the leaf depth of the subtree.
func (t *btree) validateNode(id int, min, max Key, isRoot bool) (int, int, error) {
	n := t.node(id)
	if n == nil {
		return 0, 0, fmt.Errorf("node %d is freed but still referenced", id)
	}
	if len(n.keys) > t.maxKeys() {
		return 0, 0, fmt.Errorf("node %d has %d keys, max is %d", id, len(n.keys), t.maxKeys())
	}
	if !isRoot && len(n.keys) < t.minKeys() {
		return 0, 0, fmt.Errorf("node %d has %d keys, min is %d", id, len(n.keys), t.minKeys())
	}
	for i, k := range n.keys {
		if i > 0 && n.keys[i-1].Compare(k) >= 0 {
			return 0, 0, fmt.Errorf("node %d keys not strictly increasing at %d", id, i)
		}
		if min != nil && k.Compare(min) < 0 {
			return 0, 0, fmt.Errorf("node %d key %d below subtree bound", id, i)
		}
		if max != nil && k.Compare(max) >= 0 {
			return 0, 0, fmt.Errorf("node %d key %d above subtree bound", id, i)
		}
	}

	if n.leaf {
		if len(n.rows) != len(n.keys) {
			return 0, 0, fmt.Errorf("leaf %d has %d keys but %d rows", id, len(n.keys), len(n.rows))
		}
		return len(n.keys), 1, nil
	}

	if len(n.children) != len(n.keys)+1 {
		return 0, 0, fmt.Errorf("node %d has %d keys but %d children", id, len(n.keys), len(n.children))
	}
	total := 0
	depth := -1
	for i, child := range n.children {
		childMin := min
		if i > 0 {
			childMin = n.keys[i-1]
		}
		childMax := max
		if i < len(n.keys) {
			childMax = n.keys[i]
		}
		count, d, err := t.validateNode(child, childMin, childMax, false)
		if err != nil {
			return 0, 0, err
		}
		if depth >= 0 && d != depth {
			return 0, 0, fmt.Errorf("node %d children at unequal depths %d and %d", id, depth, d)
		}
		depth = d
		total += count
	}
	return total, depth + 1, nil
}
