package simplefs_test

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/OXeu/simplefs"
)

// S6: a 0400 root-owned file rejects writers that are not root.
func TestPermissionDenied(t *testing.T) {
	fsys, _ := newTestFS(t, 256)

	_, id, err := fsys.MkNod(rootReq, simplefs.RootInode, "locked", simplefs.S_IFREG|0o400)
	require.NoError(t, err)

	_, err = fsys.OpenOp(userReq, id, syscall.O_WRONLY)
	require.ErrorIs(t, err, simplefs.ErrPermission)

	// reading is fine, the owner triad grants r
	fh, err := fsys.OpenOp(userReq, id, syscall.O_RDONLY)
	require.NoError(t, err)
	require.NoError(t, fsys.ReleaseOp(userReq, fh, false))

	// root is never denied
	fh, err = fsys.OpenOp(rootReq, id, syscall.O_WRONLY)
	require.NoError(t, err)
	_, err = fsys.WriteOp(rootReq, fh, 0, []byte("x"))
	require.NoError(t, err)
	require.NoError(t, fsys.ReleaseOp(rootReq, fh, true))
}

func TestAccessTriads(t *testing.T) {
	fsys, _ := newTestFS(t, 256)

	// owned by uid 1000, gid 2000, mode 0640
	_, id, err := fsys.MkNod(simplefs.Req{Uid: 1000, Gid: 2000, Pid: 3},
		simplefs.RootInode, "f", simplefs.S_IFREG|0o640)
	require.NoError(t, err)

	owner := simplefs.Req{Uid: 1000, Gid: 1, Pid: 3}
	group := simplefs.Req{Uid: 7, Gid: 2000, Pid: 3}
	other := simplefs.Req{Uid: 7, Gid: 7, Pid: 3}

	require.NoError(t, fsys.AccessOp(owner, id, 0o6)) // rw
	require.NoError(t, fsys.AccessOp(group, id, 0o4)) // r
	require.ErrorIs(t, fsys.AccessOp(group, id, 0o2), simplefs.ErrPermission)
	require.ErrorIs(t, fsys.AccessOp(other, id, 0o4), simplefs.ErrPermission)

	// F_OK passes for everyone
	require.NoError(t, fsys.AccessOp(other, id, 0))

	// the required mask must be fully granted
	require.ErrorIs(t, fsys.AccessOp(owner, id, 0o7), simplefs.ErrPermission)
}

func TestOpenFlagsValidation(t *testing.T) {
	fsys, _ := newTestFS(t, 256)

	_, id, err := fsys.MkNod(rootReq, simplefs.RootInode, "f", simplefs.S_IFREG|0o644)
	require.NoError(t, err)

	_, err = fsys.OpenOp(rootReq, id, 0x3) // neither RDONLY, WRONLY nor RDWR
	require.ErrorIs(t, err, simplefs.ErrInvalid)
}

func TestOpenTrunc(t *testing.T) {
	fsys, _ := newTestFS(t, 256)

	_, id, err := fsys.MkNod(rootReq, simplefs.RootInode, "f", simplefs.S_IFREG|0o644)
	require.NoError(t, err)
	_, err = fsys.WriteSystem(0, id, []byte("old contents"), true)
	require.NoError(t, err)

	fh, err := fsys.OpenOp(rootReq, id, syscall.O_WRONLY|syscall.O_TRUNC)
	require.NoError(t, err)
	require.EqualValues(t, 0, fsys.Inode(id).Size)
	require.NoError(t, fsys.ReleaseOp(rootReq, fh, true))
}

func TestHandleNamespaces(t *testing.T) {
	fsys, _ := newTestFS(t, 256)

	_, id, err := fsys.MkNod(rootReq, simplefs.RootInode, "f", simplefs.S_IFREG|0o644)
	require.NoError(t, err)

	fhA, err := fsys.OpenOp(rootReq, id, syscall.O_RDONLY)
	require.NoError(t, err)
	fhB, err := fsys.OpenOp(userReq, id, syscall.O_RDONLY)
	require.NoError(t, err)

	// ids are per process, so both processes start from the same one
	require.Equal(t, fhA, fhB)

	// a handle is invisible to other processes
	buf := make([]byte, 4)
	_, err = fsys.ReadOp(simplefs.Req{Uid: 0, Gid: 0, Pid: 99}, fhA, 0, buf)
	require.ErrorIs(t, err, simplefs.ErrBadHandle)

	require.NoError(t, fsys.ReleaseOp(rootReq, fhA, false))
	require.ErrorIs(t, fsys.ReleaseOp(rootReq, fhA, false), simplefs.ErrBadHandle)

	// released ids are reused before new ones are minted
	fhC, err := fsys.OpenOp(rootReq, id, syscall.O_RDONLY)
	require.NoError(t, err)
	require.Equal(t, fhA, fhC)

	require.NoError(t, fsys.ReleaseOp(userReq, fhB, false))
	require.NoError(t, fsys.ReleaseOp(rootReq, fhC, false))
}

func TestReadDirPaging(t *testing.T) {
	fsys, _ := newTestFS(t, 256)

	for _, name := range []string{"a", "b", "c", "d"} {
		_, _, err := fsys.MkNod(rootReq, simplefs.RootInode, name, simplefs.S_IFREG|0o644)
		require.NoError(t, err)
	}

	fh, err := fsys.OpenDir(rootReq, simplefs.RootInode, syscall.O_RDONLY)
	require.NoError(t, err)
	defer fsys.ReleaseOp(rootReq, fh, false)

	all, err := fsys.ReadDirOp(rootReq, fh, 0)
	require.NoError(t, err)
	require.Len(t, all, 4)

	// resume from the cursor of the second entry
	rest, err := fsys.ReadDirOp(rootReq, fh, all[1].Offset)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	require.Equal(t, all[2].Name, rest[0].Name)

	past, err := fsys.ReadDirOp(rootReq, fh, 100)
	require.NoError(t, err)
	require.Empty(t, past)
}

func TestOpenDirOnFile(t *testing.T) {
	fsys, _ := newTestFS(t, 256)

	_, id, err := fsys.MkNod(rootReq, simplefs.RootInode, "f", simplefs.S_IFREG|0o644)
	require.NoError(t, err)
	_, err = fsys.OpenDir(rootReq, id, syscall.O_RDONLY)
	require.ErrorIs(t, err, simplefs.ErrNotDirectory)
}

func TestGetXAttrUnsupported(t *testing.T) {
	fsys, _ := newTestFS(t, 256)
	_, err := fsys.GetXAttr(rootReq, simplefs.RootInode, "user.anything")
	require.ErrorIs(t, err, simplefs.ErrNotSupported)
}

func TestSetAttrChmodChown(t *testing.T) {
	fsys, _ := newTestFS(t, 256)

	_, id, err := fsys.MkNod(rootReq, simplefs.RootInode, "f", simplefs.S_IFREG|0o644)
	require.NoError(t, err)

	mode := uint16(0o600)
	uid := uint32(1000)
	ino, err := fsys.SetAttrOp(rootReq, id, simplefs.SetAttr{Mode: &mode, Uid: &uid})
	require.NoError(t, err)
	require.EqualValues(t, 0o600, ino.Mode&0o7777)
	require.Equal(t, simplefs.TypeRegular, ino.FileType(), "chmod must not clobber the type tag")
	require.EqualValues(t, 1000, ino.Uid)

	// a caller without w is rejected
	otherReq := simplefs.Req{Uid: 4, Gid: 4, Pid: 9}
	_, err = fsys.SetAttrOp(otherReq, id, simplefs.SetAttr{Mode: &mode})
	require.ErrorIs(t, err, simplefs.ErrPermission)
}
