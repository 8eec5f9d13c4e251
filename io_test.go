package simplefs_test

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/OXeu/simplefs"
)

func mkfile(t *testing.T, fsys *simplefs.FS, name string) int {
	t.Helper()
	_, id, err := fsys.MkNod(rootReq, simplefs.RootInode, name, simplefs.S_IFREG|0o644)
	require.NoError(t, err)
	return id
}

// S2: create, write and read back a small file.
func TestSmallFileRoundtrip(t *testing.T) {
	fsys, _ := newTestFS(t, 256)

	_, id, fh, err := fsys.Create(rootReq, simplefs.RootInode, "hello", 0o644, 0)
	require.NoError(t, err)
	n, err := fsys.WriteOp(rootReq, fh, 0, []byte("hello world"))
	require.NoError(t, err)
	require.Equal(t, 11, n)
	require.NoError(t, fsys.ReleaseOp(rootReq, fh, true))

	ino, err := fsys.GetAttr(rootReq, id)
	require.NoError(t, err)
	require.EqualValues(t, 11, ino.Size)

	// reads clamp to size, no trailing garbage
	fh, err = fsys.OpenOp(rootReq, id, 0)
	require.NoError(t, err)
	buf := make([]byte, 64)
	n, err = fsys.ReadOp(rootReq, fh, 0, buf)
	require.NoError(t, err)
	require.Equal(t, 11, n)
	require.Equal(t, []byte("hello world"), buf[:n])
	require.NoError(t, fsys.ReleaseOp(rootReq, fh, false))
}

// S3: a write crossing a block boundary allocates two blocks and a
// height-1 tree.
func TestWriteAcrossBlockBoundary(t *testing.T) {
	fsys, _ := newTestFS(t, 256)
	id := mkfile(t, fsys, "big")

	buf := bytes.Repeat([]byte("A"), simplefs.BlockSize+1)
	n, err := fsys.WriteSystem(0, id, buf, false)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)

	ino := fsys.Inode(id)
	require.EqualValues(t, len(buf), ino.Size)
	require.EqualValues(t, 1, ino.IndexLevel)
	require.Len(t, fsys.DataBlocks(ino), 2)
	require.Equal(t, buf, fsys.ReadAll(id))
}

// S4: truncating to zero returns every block and empties the tree.
func TestTruncateShrinksIndex(t *testing.T) {
	fsys, _ := newTestFS(t, 1024)
	id := mkfile(t, fsys, "blob")

	_, before := fsys.Usage()

	buf := bytes.Repeat([]byte{0x5a}, 1<<20) // 1 MiB
	_, err := fsys.WriteSystem(0, id, buf, true)
	require.NoError(t, err)
	require.Equal(t, buf, fsys.ReadAll(id))

	_, err = fsys.SetAttrOp(rootReq, id, simplefs.SetAttr{Size: ptr(uint64(0))})
	require.NoError(t, err)

	ino := fsys.Inode(id)
	require.EqualValues(t, 0, ino.Size)
	require.EqualValues(t, 0, ino.IndexLevel)
	require.EqualValues(t, 0, ino.Index.Len)
	require.Empty(t, fsys.DataBlocks(ino))

	_, after := fsys.Usage()
	require.Equal(t, before, after, "truncate must return every data and index block")
}

// Overwrites in the middle of a file leave the rest intact.
func TestPartialOverwrite(t *testing.T) {
	fsys, _ := newTestFS(t, 256)
	id := mkfile(t, fsys, "f")

	base := bytes.Repeat([]byte{'x'}, 3*simplefs.BlockSize)
	_, err := fsys.WriteSystem(0, id, base, true)
	require.NoError(t, err)

	patch := bytes.Repeat([]byte{'y'}, 100)
	_, err = fsys.WriteSystem(simplefs.BlockSize-50, id, patch, false)
	require.NoError(t, err)

	want := append([]byte{}, base...)
	copy(want[simplefs.BlockSize-50:], patch)
	require.Equal(t, want, fsys.ReadAll(id))

	ino := fsys.Inode(id)
	require.EqualValues(t, len(base), ino.Size, "plain write never contracts")
}

// A write without truncate extends but never shrinks the file.
func TestWriteExtendOnly(t *testing.T) {
	fsys, _ := newTestFS(t, 256)
	id := mkfile(t, fsys, "f")

	_, err := fsys.WriteSystem(0, id, []byte("0123456789"), true)
	require.NoError(t, err)
	_, err = fsys.WriteSystem(0, id, []byte("AB"), false)
	require.NoError(t, err)

	require.Equal(t, []byte("AB23456789"), fsys.ReadAll(id))
}

// Fragmented files climb to a two-level tree and collapse cleanly.
func TestDeepIndexTree(t *testing.T) {
	fsys, _ := newTestFS(t, 2048)
	a := mkfile(t, fsys, "a")
	b := mkfile(t, fsys, "b")

	_, before := fsys.Usage()

	// alternate single-block appends so neither file gets a
	// contiguous run; past 256 descriptors the leaf list no longer
	// fits the inode nor a single index block
	one := bytes.Repeat([]byte{1}, simplefs.BlockSize)
	for i := 0; i < 300; i++ {
		_, err := fsys.WriteSystem(i*simplefs.BlockSize, a, one, false)
		require.NoError(t, err)
		_, err = fsys.WriteSystem(i*simplefs.BlockSize, b, one, false)
		require.NoError(t, err)
	}

	ino := fsys.Inode(a)
	require.EqualValues(t, 300*simplefs.BlockSize, ino.Size)
	require.GreaterOrEqual(t, ino.IndexLevel, uint8(2))
	require.Len(t, fsys.DataBlocks(ino), 300)

	// the flattened list reads back in logical order
	got := fsys.ReadAll(a)
	require.Equal(t, bytes.Repeat([]byte{1}, 300*simplefs.BlockSize), got)

	_, err := fsys.SetAttrOp(rootReq, a, simplefs.SetAttr{Size: ptr(uint64(0))})
	require.NoError(t, err)
	_, err = fsys.SetAttrOp(rootReq, b, simplefs.SetAttr{Size: ptr(uint64(0))})
	require.NoError(t, err)

	_, after := fsys.Usage()
	require.Equal(t, before, after, "deep trees must free their index blocks")
}

// Randomized round-trip against an in-memory reference.
func TestRandomWrites(t *testing.T) {
	fsys, _ := newTestFS(t, 1024)
	id := mkfile(t, fsys, "r")

	rng := rand.New(rand.NewSource(42))
	ref := make([]byte, 0)
	for i := 0; i < 50; i++ {
		offset := rng.Intn(64 * 1024)
		length := rng.Intn(16*1024) + 1
		chunk := make([]byte, length)
		rng.Read(chunk)

		if offset+length > len(ref) {
			grown := make([]byte, offset+length)
			copy(grown, ref)
			ref = grown
		}
		copy(ref[offset:], chunk)

		_, err := fsys.WriteSystem(offset, id, chunk, false)
		require.NoError(t, err)
	}
	require.Equal(t, ref, fsys.ReadAll(id))

	ino := fsys.Inode(id)
	require.EqualValues(t, len(ref), ino.Size)
	require.GreaterOrEqual(t, len(fsys.DataBlocks(ino))*simplefs.BlockSize, len(ref))
}

// Exhausting the data region mid-extend hands the fresh blocks back.
func TestWriteNoSpaceRollsBack(t *testing.T) {
	fsys, _ := newTestFS(t, 16)
	id := mkfile(t, fsys, "f")
	sb := fsys.Super()

	_, before := fsys.Usage()
	huge := make([]byte, (sb.DataBlks+1)*simplefs.BlockSize)
	_, err := fsys.WriteSystem(0, id, huge, true)
	require.ErrorIs(t, err, simplefs.ErrNoSpace)

	_, after := fsys.Usage()
	require.Equal(t, before, after, "aborted extend leaked data blocks")
	require.EqualValues(t, 0, fsys.Inode(id).Size)
}

func ptr[T any](v T) *T {
	return &v
}
