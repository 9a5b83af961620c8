package tcam

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func placed(user User, priority int32, cookie uint64, size int) *placedEntry {
	return &placedEntry{
		id:      Identity{User: user, Priority: priority, Cookie: cookie},
		size:    size,
		sortKey: NewSortKey(4, size, user, priority),
	}
}

func TestSortKeyOrdering(t *testing.T) {
	ordered := []SortKey{
		NewSortKey(4, 4, UserPTP, -100),
		NewSortKey(4, 4, UserPTP, -1),
		NewSortKey(4, 4, UserPTP, 0),
		NewSortKey(4, 4, UserPTP, 7),
		NewSortKey(4, 4, UserQoS, -5),
		NewSortKey(4, 2, UserPTP, -100),
		NewSortKey(4, 2, UserTCExtra, 1<<30),
		NewSortKey(4, 1, UserPTP, -1<<31),
		NewSortKey(4, 1, UserTC, 0),
	}

	for idx := 1; idx < len(ordered); idx++ {
		assert.Less(t, ordered[idx-1], ordered[idx], "key %d", idx)
	}
}

func TestDirectoryInsertionPoint(t *testing.T) {
	dir := newDirectory(64)

	idx, base := dir.insertionPoint(NewSortKey(4, 4, UserPTP, 0), 4)
	assert.Equal(t, 0, idx)
	assert.Equal(t, 60, base)
	dir.insert(idx, placed(UserPTP, 0, 1, 4))

	idx, base = dir.insertionPoint(NewSortKey(4, 1, UserPTP, 0), 1)
	assert.Equal(t, 1, idx)
	assert.Equal(t, 59, base)
	dir.insert(idx, placed(UserPTP, 0, 2, 1))

	// Equal keys go before the existing entry.
	idx, base = dir.insertionPoint(NewSortKey(4, 1, UserPTP, 0), 1)
	assert.Equal(t, 1, idx)
	assert.Equal(t, 59, base)

	idx, base = dir.insertionPoint(NewSortKey(4, 2, UserVLAN, 3), 2)
	assert.Equal(t, 1, idx)
	assert.Equal(t, 58, base)

	assert.Equal(t, 59, dir.freeSlots())
	require.NoError(t, dir.verify())
}

func TestDirectoryLocate(t *testing.T) {
	dir := newDirectory(16)
	dir.insert(0, placed(UserPTP, 0, 1, 4))
	dir.insert(1, placed(UserPTP, 0, 2, 2))
	dir.insert(2, placed(UserQoS, 1, 3, 1))

	idx, base, ok := dir.locate(Identity{User: UserPTP, Priority: 0, Cookie: 2})
	require.True(t, ok)
	assert.Equal(t, 1, idx)
	assert.Equal(t, 10, base)

	idx, base, ok = dir.locate(Identity{User: UserQoS, Priority: 1, Cookie: 3})
	require.True(t, ok)
	assert.Equal(t, 2, idx)
	assert.Equal(t, 9, base)
	assert.Equal(t, 9, dir.free)

	_, _, ok = dir.locate(Identity{User: UserQoS, Priority: 1, Cookie: 4})
	assert.False(t, ok)

	removed := dir.remove(1)
	assert.Equal(t, uint64(2), removed.id.Cookie)
	assert.Equal(t, 11, dir.free)

	layout := dir.layout()
	require.Len(t, layout, 2)
	assert.Equal(t, 12, layout[0].Base)
	assert.Equal(t, 15, layout[0].Top())
	assert.Equal(t, 11, layout[1].Base)
	require.NoError(t, dir.verify())
}

func TestDirectoryVerify(t *testing.T) {
	t.Run("out of order", func(t *testing.T) {
		dir := newDirectory(16)
		dir.insert(0, placed(UserQoS, 0, 1, 1))
		dir.insert(1, placed(UserPTP, 0, 2, 1))

		assert.ErrorContains(t, dir.verify(), "out of order")
	})

	t.Run("misaligned", func(t *testing.T) {
		dir := newDirectory(16)
		dir.insert(0, placed(UserPTP, 0, 1, 1))
		dir.insert(1, placed(UserPTP, 0, 2, 2))

		assert.ErrorContains(t, dir.verify(), "not aligned")
	})

	t.Run("free boundary drift", func(t *testing.T) {
		dir := newDirectory(16)
		dir.insert(0, placed(UserPTP, 0, 1, 4))
		dir.free--

		assert.Error(t, dir.verify())
	})
}
