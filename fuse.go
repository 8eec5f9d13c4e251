//go:build linux || darwin

package simplefs

import (
	"context"
	"sync"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// bridge adapts the engine to go-fuse. The engine is single-owner, so
// every operation takes the bridge lock for its duration. Each mutation
// is written through to the device before the lock is released; the
// device itself is synced only on flush and release.
type bridge struct {
	mu   sync.Mutex
	fsys *FS
}

// fuseNode is one kernel-visible inode.
type fuseNode struct {
	fs.Inode
	b   *bridge
	ino int
}

// fuseHandle carries an engine handle id together with the pid that
// owns it; the handle table is partitioned per process.
type fuseHandle struct {
	b   *bridge
	fh  uint32
	pid uint32
}

var _ = (fs.NodeLookuper)((*fuseNode)(nil))
var _ = (fs.NodeGetattrer)((*fuseNode)(nil))
var _ = (fs.NodeSetattrer)((*fuseNode)(nil))
var _ = (fs.NodeReadlinker)((*fuseNode)(nil))
var _ = (fs.NodeMknoder)((*fuseNode)(nil))
var _ = (fs.NodeMkdirer)((*fuseNode)(nil))
var _ = (fs.NodeUnlinker)((*fuseNode)(nil))
var _ = (fs.NodeRmdirer)((*fuseNode)(nil))
var _ = (fs.NodeSymlinker)((*fuseNode)(nil))
var _ = (fs.NodeRenamer)((*fuseNode)(nil))
var _ = (fs.NodeLinker)((*fuseNode)(nil))
var _ = (fs.NodeOpener)((*fuseNode)(nil))
var _ = (fs.NodeCreater)((*fuseNode)(nil))
var _ = (fs.NodeOpendirer)((*fuseNode)(nil))
var _ = (fs.NodeReaddirer)((*fuseNode)(nil))
var _ = (fs.NodeGetxattrer)((*fuseNode)(nil))
var _ = (fs.NodeAccesser)((*fuseNode)(nil))
var _ = (fs.NodeStatfser)((*fuseNode)(nil))

var _ = (fs.FileReader)((*fuseHandle)(nil))
var _ = (fs.FileWriter)((*fuseHandle)(nil))
var _ = (fs.FileFlusher)((*fuseHandle)(nil))
var _ = (fs.FileReleaser)((*fuseHandle)(nil))

func reqFromContext(ctx context.Context) Req {
	if caller, ok := fuse.FromContext(ctx); ok {
		return Req{Uid: caller.Uid, Gid: caller.Gid, Pid: caller.Pid}
	}
	return Req{}
}

func fillAttr(ino Inode, id int, out *fuse.Attr) {
	out.Ino = uint64(id)
	out.Size = ino.Size
	out.Blocks = uint64(ino.Blocks())
	out.Blksize = BlockSize
	out.Mode = ino.UnixMode()
	out.Nlink = ino.LinkCount
	out.Owner.Uid = ino.Uid
	out.Owner.Gid = ino.Gid
	out.Atime = ino.Modified
	out.Mtime = ino.Modified
	out.Ctime = ino.Created
}

func (n *fuseNode) child(ctx context.Context, ino Inode, id int, out *fuse.EntryOut) *fs.Inode {
	fillAttr(ino, id, &out.Attr)
	return n.NewInode(ctx, &fuseNode{b: n.b, ino: id}, fs.StableAttr{
		Mode: ino.UnixMode() & S_IFMT,
		Ino:  uint64(id),
	})
}

func (n *fuseNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	n.b.mu.Lock()
	defer n.b.mu.Unlock()
	ino, id, err := n.b.fsys.Lookup(reqFromContext(ctx), n.ino, name)
	if err != nil {
		return nil, ToErrno(err)
	}
	return n.child(ctx, ino, id, out), 0
}

func (n *fuseNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	n.b.mu.Lock()
	defer n.b.mu.Unlock()
	ino, err := n.b.fsys.GetAttr(reqFromContext(ctx), n.ino)
	if err != nil {
		return ToErrno(err)
	}
	fillAttr(ino, n.ino, &out.Attr)
	return 0
}

func (n *fuseNode) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	n.b.mu.Lock()
	defer n.b.mu.Unlock()
	var attr SetAttr
	if mode, ok := in.GetMode(); ok {
		m := uint16(mode)
		attr.Mode = &m
	}
	if uid, ok := in.GetUID(); ok {
		attr.Uid = &uid
	}
	if gid, ok := in.GetGID(); ok {
		attr.Gid = &gid
	}
	if size, ok := in.GetSize(); ok {
		attr.Size = &size
	}
	if mtime, ok := in.GetMTime(); ok {
		sec := uint64(mtime.Unix())
		attr.Mtime = &sec
	}
	if ctime, ok := in.GetCTime(); ok {
		sec := uint64(ctime.Unix())
		attr.Ctime = &sec
	}
	ino, err := n.b.fsys.SetAttrOp(reqFromContext(ctx), n.ino, attr)
	if err != nil {
		return ToErrno(err)
	}
	fillAttr(ino, n.ino, &out.Attr)
	return 0
}

func (n *fuseNode) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	n.b.mu.Lock()
	defer n.b.mu.Unlock()
	target, err := n.b.fsys.ReadLink(reqFromContext(ctx), n.ino)
	if err != nil {
		return nil, ToErrno(err)
	}
	return target, 0
}

func (n *fuseNode) Mknod(ctx context.Context, name string, mode, dev uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	n.b.mu.Lock()
	defer n.b.mu.Unlock()
	ino, id, err := n.b.fsys.MkNod(reqFromContext(ctx), n.ino, name, mode)
	if err != nil {
		return nil, ToErrno(err)
	}
	return n.child(ctx, ino, id, out), 0
}

func (n *fuseNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	n.b.mu.Lock()
	defer n.b.mu.Unlock()
	ino, id, err := n.b.fsys.MkDir(reqFromContext(ctx), n.ino, name, mode)
	if err != nil {
		return nil, ToErrno(err)
	}
	return n.child(ctx, ino, id, out), 0
}

func (n *fuseNode) Unlink(ctx context.Context, name string) syscall.Errno {
	n.b.mu.Lock()
	defer n.b.mu.Unlock()
	return ToErrno(n.b.fsys.Unlink(reqFromContext(ctx), n.ino, name))
}

func (n *fuseNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	n.b.mu.Lock()
	defer n.b.mu.Unlock()
	return ToErrno(n.b.fsys.RmDir(reqFromContext(ctx), n.ino, name))
}

func (n *fuseNode) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	n.b.mu.Lock()
	defer n.b.mu.Unlock()
	ino, id, err := n.b.fsys.SymLink(reqFromContext(ctx), n.ino, name, target)
	if err != nil {
		return nil, ToErrno(err)
	}
	return n.child(ctx, ino, id, out), 0
}

func (n *fuseNode) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	np, ok := newParent.(*fuseNode)
	if !ok {
		return syscall.EXDEV
	}
	n.b.mu.Lock()
	defer n.b.mu.Unlock()
	return ToErrno(n.b.fsys.Rename(reqFromContext(ctx), n.ino, name, np.ino, newName))
}

func (n *fuseNode) Link(ctx context.Context, target fs.InodeEmbedder, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	tn, ok := target.(*fuseNode)
	if !ok {
		return nil, syscall.EXDEV
	}
	n.b.mu.Lock()
	defer n.b.mu.Unlock()
	ino, err := n.b.fsys.Link(reqFromContext(ctx), tn.ino, n.ino, name)
	if err != nil {
		return nil, ToErrno(err)
	}
	return n.child(ctx, ino, tn.ino, out), 0
}

func (n *fuseNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	n.b.mu.Lock()
	defer n.b.mu.Unlock()
	req := reqFromContext(ctx)
	fh, err := n.b.fsys.OpenOp(req, n.ino, int(flags))
	if err != nil {
		return nil, 0, ToErrno(err)
	}
	return &fuseHandle{b: n.b, fh: fh, pid: req.Pid}, 0, 0
}

func (n *fuseNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	n.b.mu.Lock()
	defer n.b.mu.Unlock()
	req := reqFromContext(ctx)
	ino, id, fh, err := n.b.fsys.Create(req, n.ino, name, mode, int(flags))
	if err != nil {
		return nil, nil, 0, ToErrno(err)
	}
	child := n.child(ctx, ino, id, out)
	return child, &fuseHandle{b: n.b, fh: fh, pid: req.Pid}, 0, 0
}

func (n *fuseNode) Opendir(ctx context.Context) syscall.Errno {
	n.b.mu.Lock()
	defer n.b.mu.Unlock()
	ino := n.b.fsys.Inode(n.ino)
	if !ino.Exists() {
		return syscall.ENOENT
	}
	if !ino.IsDir() {
		return syscall.ENOTDIR
	}
	return 0
}

func (n *fuseNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	n.b.mu.Lock()
	defer n.b.mu.Unlock()
	req := reqFromContext(ctx)
	fh, err := n.b.fsys.OpenDir(req, n.ino, syscall.O_RDONLY)
	if err != nil {
		return nil, ToErrno(err)
	}
	defer n.b.fsys.ReleaseOp(req, fh, false)
	details, err := n.b.fsys.ReadDirOp(req, fh, 0)
	if err != nil {
		return nil, ToErrno(err)
	}
	entries := make([]fuse.DirEntry, 0, len(details))
	for _, d := range details {
		entries = append(entries, fuse.DirEntry{
			Name: d.Name,
			Ino:  uint64(d.InodeID),
			Mode: d.Inode.UnixMode() & S_IFMT,
		})
	}
	return fs.NewListDirStream(entries), 0
}

func (n *fuseNode) Getxattr(ctx context.Context, attr string, dest []byte) (uint32, syscall.Errno) {
	n.b.mu.Lock()
	defer n.b.mu.Unlock()
	_, err := n.b.fsys.GetXAttr(reqFromContext(ctx), n.ino, attr)
	return 0, ToErrno(err)
}

func (n *fuseNode) Access(ctx context.Context, mask uint32) syscall.Errno {
	n.b.mu.Lock()
	defer n.b.mu.Unlock()
	return ToErrno(n.b.fsys.AccessOp(reqFromContext(ctx), n.ino, int(mask)))
}

func (n *fuseNode) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	n.b.mu.Lock()
	defer n.b.mu.Unlock()
	sb := n.b.fsys.Super()
	inodes, dataBlocks := n.b.fsys.Usage()
	out.Bsize = BlockSize
	out.Frsize = BlockSize
	out.Blocks = uint64(sb.DataBlks)
	out.Bfree = uint64(sb.DataBlks - dataBlocks)
	out.Bavail = out.Bfree
	out.Files = uint64(sb.InodeCount())
	out.Ffree = uint64(sb.InodeCount() - inodes)
	out.NameLen = NameLen
	return 0
}

func (h *fuseHandle) req(ctx context.Context) Req {
	req := reqFromContext(ctx)
	// the handle belongs to the pid that opened it
	req.Pid = h.pid
	return req
}

func (h *fuseHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	h.b.mu.Lock()
	defer h.b.mu.Unlock()
	n, err := h.b.fsys.ReadOp(h.req(ctx), h.fh, int(off), dest)
	if err != nil {
		return nil, ToErrno(err)
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (h *fuseHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	h.b.mu.Lock()
	defer h.b.mu.Unlock()
	n, err := h.b.fsys.WriteOp(h.req(ctx), h.fh, int(off), data)
	if err != nil {
		return 0, ToErrno(err)
	}
	return uint32(n), 0
}

func (h *fuseHandle) Flush(ctx context.Context) syscall.Errno {
	h.b.mu.Lock()
	defer h.b.mu.Unlock()
	return ToErrno(h.b.fsys.FlushOp(h.req(ctx), h.fh))
}

func (h *fuseHandle) Release(ctx context.Context) syscall.Errno {
	h.b.mu.Lock()
	defer h.b.mu.Unlock()
	return ToErrno(h.b.fsys.ReleaseOp(h.req(ctx), h.fh, true))
}

// Mount exposes the engine at mountpoint through go-fuse. The returned
// server is running; callers Wait() on it.
func Mount(mountpoint string, fsys *FS, opts *fs.Options) (*fuse.Server, error) {
	if opts == nil {
		opts = &fs.Options{}
	}
	b := &bridge{fsys: fsys}
	root := &fuseNode{b: b, ino: RootInode}
	return fs.Mount(mountpoint, root, opts)
}
