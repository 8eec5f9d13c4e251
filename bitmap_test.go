package simplefs_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/OXeu/simplefs"
)

// Allocation is deterministic: lowest free index first, inode ids
// 1-based, data ids 0-based.
func TestAllocOrder(t *testing.T) {
	fsys, _ := newTestFS(t, 64)

	// inode 1 is the root
	id, err := fsys.Alloc(true)
	require.NoError(t, err)
	require.Equal(t, 2, id)
	id, err = fsys.Alloc(true)
	require.NoError(t, err)
	require.Equal(t, 3, id)

	blk, err := fsys.Alloc(false)
	require.NoError(t, err)
	require.Equal(t, 0, blk)
	blk, err = fsys.Alloc(false)
	require.NoError(t, err)
	require.Equal(t, 1, blk)

	// a freed slot is the next one handed out again
	fsys.Free(0, false, true)
	blk, err = fsys.Alloc(false)
	require.NoError(t, err)
	require.Equal(t, 0, blk)
}

func TestAllocExhaustion(t *testing.T) {
	fsys, _ := newTestFS(t, 16)
	sb := fsys.Super()

	for i := 0; i < sb.DataBlks; i++ {
		_, err := fsys.Alloc(false)
		require.NoError(t, err)
	}
	_, err := fsys.Alloc(false)
	require.ErrorIs(t, err, simplefs.ErrNoSpace)
}

// Freeing an inode with scrub writes the nil record back.
func TestFreeScrubsInode(t *testing.T) {
	fsys, _ := newTestFS(t, 64)

	id, err := fsys.Alloc(true)
	require.NoError(t, err)
	fsys.ModifyInode(id, func(ino *simplefs.Inode) {
		*ino = simplefs.NewInode(uint16(simplefs.TypeRegular)<<simplefs.TypeShift|0o644, 0, 0)
	})
	require.True(t, fsys.Inode(id).Exists())

	fsys.Free(id, true, true)
	require.False(t, fsys.Inode(id).Exists())

	// double free is ignored
	fsys.Free(id, true, true)

	inodes, _ := fsys.Usage()
	require.Equal(t, 1, inodes) // only the root remains
}
