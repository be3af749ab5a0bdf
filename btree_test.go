package umbradb

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intKey(i int) Key {
	return KeyOf(NewIntValue(int64(i)))
}

func intRow(i int) Row {
	return Row{NewIntValue(int64(i))}
}

func TestBTreeInsertGet(t *testing.T) {
	tree := newBTree(4)

	for i := 0; i < 100; i++ {
		require.NoError(t, tree.insert(intKey(i), intRow(i), false))
		require.NoError(t, tree.validate(), "after inserting %d", i)
	}
	assert.Equal(t, 100, tree.size)

	for i := 0; i < 100; i++ {
		row, err := tree.get(intKey(i))
		require.NoError(t, err)
		assert.True(t, intRow(i).Equal(row))
	}

	_, err := tree.get(intKey(100))
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestBTreeDuplicateKey(t *testing.T) {
	tree := newBTree(4)
	require.NoError(t, tree.insert(intKey(1), intRow(1), false))

	err := tree.insert(intKey(1), intRow(2), false)
	assert.ErrorIs(t, err, ErrKeyExists)
	assert.Equal(t, 1, tree.size)

	// Overwrite replaces in place without growing the tree.
	require.NoError(t, tree.insert(intKey(1), intRow(2), true))
	assert.Equal(t, 1, tree.size)
	row, err := tree.get(intKey(1))
	require.NoError(t, err)
	assert.True(t, intRow(2).Equal(row))
}

func TestBTreeRootSplitGrowsHeight(t *testing.T) {
	tree := newBTree(3)
	assert.True(t, tree.node(tree.root).leaf)

	require.NoError(t, tree.insert(intKey(1), intRow(1), false))
	require.NoError(t, tree.insert(intKey(2), intRow(2), false))
	require.NoError(t, tree.insert(intKey(3), intRow(3), false))

	assert.False(t, tree.node(tree.root).leaf)
	require.NoError(t, tree.validate())
}

func TestBTreeDelete(t *testing.T) {
	tree := newBTree(4)
	for i := 0; i < 200; i++ {
		require.NoError(t, tree.insert(intKey(i), intRow(i), false))
	}

	// Delete in an order that exercises both borrow directions and merges.
	perm := rand.New(rand.NewSource(7)).Perm(200)
	for n, i := range perm {
		require.NoError(t, tree.delete(intKey(i)), "deleting %d", i)
		require.NoError(t, tree.validate(), "after deleting %d", i)
		assert.Equal(t, 200-n-1, tree.size)

		_, err := tree.get(intKey(i))
		assert.ErrorIs(t, err, ErrKeyNotFound)
	}
	assert.True(t, tree.node(tree.root).leaf, "empty tree should collapse to a leaf root")
}

func TestBTreeDeleteMissing(t *testing.T) {
	tree := newBTree(4)
	err := tree.delete(intKey(1))
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, tree.insert(intKey(1), intRow(1), false))
	err = tree.delete(intKey(2))
	assert.ErrorIs(t, err, ErrKeyNotFound)
	assert.Equal(t, 1, tree.size)
	require.NoError(t, tree.validate())
}

func TestBTreeRandomizedAgainstMap(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	tree := newBTree(5)
	reference := make(map[int]bool)

	for step := 0; step < 3000; step++ {
		k := rng.Intn(500)
		if rng.Intn(2) == 0 {
			err := tree.insert(intKey(k), intRow(k), false)
			if reference[k] {
				require.ErrorIs(t, err, ErrKeyExists, "step %d", step)
			} else {
				require.NoError(t, err, "step %d", step)
				reference[k] = true
			}
		} else {
			err := tree.delete(intKey(k))
			if reference[k] {
				require.NoError(t, err, "step %d", step)
				delete(reference, k)
			} else {
				require.ErrorIs(t, err, ErrKeyNotFound, "step %d", step)
			}
		}
		require.NoError(t, tree.validate(), "step %d", step)
		require.Equal(t, len(reference), tree.size, "step %d", step)
	}

	for k := range reference {
		_, err := tree.get(intKey(k))
		assert.NoError(t, err, "key %d should be present", k)
	}
}

func TestBTreeScanAscending(t *testing.T) {
	tree := newBTree(4)
	// Insert out of order, expect ascending traversal.
	for _, i := range rand.New(rand.NewSource(3)).Perm(300) {
		require.NoError(t, tree.insert(intKey(i), intRow(i), false))
	}

	it := tree.scan(nil, nil)
	count := 0
	for {
		key, row, ok := it.Next()
		if !ok {
			break
		}
		assert.True(t, intKey(count).Equal(key), "position %d", count)
		assert.True(t, intRow(count).Equal(row), "position %d", count)
		count++
	}
	assert.Equal(t, 300, count)
}

func TestBTreeScanRange(t *testing.T) {
	tree := newBTree(6)
	for i := 0; i < 1000; i++ {
		require.NoError(t, tree.insert(intKey(i), intRow(i), false))
	}

	it := tree.scan(intKey(200), intKey(300))
	want := 200
	for {
		key, _, ok := it.Next()
		if !ok {
			break
		}
		assert.True(t, intKey(want).Equal(key), "expected key %d", want)
		want++
	}
	assert.Equal(t, 300, want, "range should yield exactly keys 200..299")

	// Restartable: a fresh scan over the same bounds yields the same keys.
	it = tree.scan(intKey(200), intKey(300))
	key, _, ok := it.Next()
	require.True(t, ok)
	assert.True(t, intKey(200).Equal(key))
}

func TestBTreeScanRangeBoundsNotPresent(t *testing.T) {
	tree := newBTree(4)
	for i := 0; i < 50; i += 2 {
		require.NoError(t, tree.insert(intKey(i), intRow(i), false))
	}

	// Odd bounds fall between stored keys.
	it := tree.scan(intKey(9), intKey(21))
	var got []int
	for {
		_, row, ok := it.Next()
		if !ok {
			break
		}
		got = append(got, int(row[0].Int))
	}
	assert.Equal(t, []int{10, 12, 14, 16, 18, 20}, got)
}

func TestBTreeScanEmpty(t *testing.T) {
	tree := newBTree(4)
	_, _, ok := tree.scan(nil, nil).Next()
	assert.False(t, ok)
}
