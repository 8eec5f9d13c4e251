package simplefs

import (
	"syscall"
)

// Req is the request context every outer operation carries: the
// caller's credentials and process.
type Req struct {
	Uid uint32
	Gid uint32
	Pid uint32
}

// Mask is the rwx triple an operation requires on an inode.
type Mask uint16

const (
	MaskF  Mask = 0 // existence only
	MaskX  Mask = 0b001
	MaskW  Mask = 0b010
	MaskR  Mask = 0b100
	MaskWX Mask = MaskW | MaskX
	MaskRX Mask = MaskR | MaskX
	MaskRW Mask = MaskR | MaskW
)

// maskFromFlags derives the access requirement from the low two access
// bits of the open flags.
func maskFromFlags(flags int) (Mask, error) {
	switch flags & 0b11 {
	case syscall.O_RDONLY:
		return MaskR, nil
	case syscall.O_WRONLY:
		return MaskW, nil
	case syscall.O_RDWR:
		return MaskRW, nil
	}
	return MaskF, ErrInvalid
}

// maskFromAccess converts an access(2)-style mask.
func maskFromAccess(mask int) Mask {
	return Mask(mask & 0b111)
}

// Access checks the request against the inode's permission triads. The
// triad is chosen owner-first; root is never denied, and existence-only
// checks always pass.
func (i Inode) Access(req Req, mask Mask) bool {
	if mask == MaskF || req.Uid == 0 {
		return true
	}
	var triad uint16
	switch {
	case i.Uid == 0 || i.Uid == req.Uid:
		triad = i.Mode >> 6 & 0o7
	case i.Gid == 0 || i.Gid == req.Gid:
		triad = i.Mode >> 3 & 0o7
	default:
		triad = i.Mode & 0o7
	}
	return triad&uint16(mask) == uint16(mask)
}

func (i Inode) accessGuard(req Req, mask Mask) error {
	if i.Access(req, mask) {
		return nil
	}
	return ErrPermission
}

// Lookup resolves name inside the parent directory. Needs RX on the
// parent.
func (fs *FS) Lookup(req Req, parentID int, name string) (Inode, int, error) {
	parent := fs.Inode(parentID)
	if err := parent.accessGuard(req, MaskRX); err != nil {
		return Inode{}, 0, err
	}
	return fs.lookupInternal(parent, NewFileName(name))
}

// GetAttr returns the inode's metadata. Needs R.
func (fs *FS) GetAttr(req Req, inodeID int) (Inode, error) {
	ino := fs.Inode(inodeID)
	if !ino.Exists() {
		return Inode{}, ErrNoEntry
	}
	if err := ino.accessGuard(req, MaskR); err != nil {
		return Inode{}, err
	}
	return ino, nil
}

// SetAttr carries the fields a setattr call may change; nil pointers
// leave the field alone.
type SetAttr struct {
	Mode  *uint16
	Uid   *uint32
	Gid   *uint32
	Size  *uint64
	Mtime *uint64
	Ctime *uint64
}

// SetAttrOp applies the changes. Needs W. A size change truncates or
// extends through the write path so the index tree tracks it.
func (fs *FS) SetAttrOp(req Req, inodeID int, attr SetAttr) (Inode, error) {
	ino := fs.Inode(inodeID)
	if !ino.Exists() {
		return Inode{}, ErrNoEntry
	}
	if err := ino.accessGuard(req, MaskW); err != nil {
		return Inode{}, err
	}
	if attr.Size != nil && *attr.Size != ino.Size {
		if _, err := fs.WriteSystem(int(*attr.Size), inodeID, nil, true); err != nil {
			return Inode{}, err
		}
	}
	return fs.ModifyInode(inodeID, func(ino *Inode) {
		if attr.Mode != nil {
			ino.Mode = ino.Mode&S_IFMT | *attr.Mode&^S_IFMT
		}
		if attr.Uid != nil {
			ino.Uid = *attr.Uid
		}
		if attr.Gid != nil {
			ino.Gid = *attr.Gid
		}
		if attr.Mtime != nil {
			ino.Modified = *attr.Mtime
		}
		if attr.Ctime != nil {
			ino.Created = *attr.Ctime
		}
	}), nil
}

// ReadLink returns a symlink's target. Needs R.
func (fs *FS) ReadLink(req Req, inodeID int) ([]byte, error) {
	ino := fs.Inode(inodeID)
	if !ino.Exists() {
		return nil, ErrNoEntry
	}
	if !ino.IsSymlink() {
		return nil, ErrInvalid
	}
	if err := ino.accessGuard(req, MaskR); err != nil {
		return nil, err
	}
	return fs.ReadAll(inodeID), nil
}

// MkNod creates a node with the full unix mode word (type bits
// included) under the parent. Needs WX on the parent.
func (fs *FS) MkNod(req Req, parentID int, name string, mode uint32) (Inode, int, error) {
	if err := fs.Inode(parentID).accessGuard(req, MaskWX); err != nil {
		return Inode{}, 0, err
	}
	id, err := fs.makeNodeInternal(name, parentID, uint16(mode), req.Uid, req.Gid)
	if err != nil {
		return Inode{}, 0, err
	}
	return fs.Inode(id), id, nil
}

// MkDir creates a directory. Needs WX on the parent.
func (fs *FS) MkDir(req Req, parentID int, name string, mode uint32) (Inode, int, error) {
	return fs.MkNod(req, parentID, name, uint32(TypeDir)<<TypeShift|mode&0o7777)
}

// Unlink removes a non-directory entry. Needs WX on the parent.
func (fs *FS) Unlink(req Req, parentID int, name string) error {
	parent := fs.Inode(parentID)
	if err := parent.accessGuard(req, MaskWX); err != nil {
		return err
	}
	target, _, err := fs.lookupInternal(parent, NewFileName(name))
	if err != nil {
		return err
	}
	if target.IsDir() {
		return ErrIsDirectory
	}
	return fs.unlinkInternal(parentID, NewFileName(name))
}

// RmDir removes an empty directory. Needs WX on the parent.
func (fs *FS) RmDir(req Req, parentID int, name string) error {
	parent := fs.Inode(parentID)
	if err := parent.accessGuard(req, MaskWX); err != nil {
		return err
	}
	target, _, err := fs.lookupInternal(parent, NewFileName(name))
	if err != nil {
		return err
	}
	if !target.IsDir() {
		return ErrNotDirectory
	}
	entries, err := fs.lsInternal(target)
	if err != nil {
		return err
	}
	if len(entries) != 0 {
		return ErrNotEmpty
	}
	return fs.unlinkInternal(parentID, NewFileName(name))
}

// SymLink creates a symlink holding target. Needs WX on the parent.
func (fs *FS) SymLink(req Req, parentID int, name, target string) (Inode, int, error) {
	if err := fs.Inode(parentID).accessGuard(req, MaskWX); err != nil {
		return Inode{}, 0, err
	}
	id, err := fs.makeNodeInternal(name, parentID, uint16(TypeSymlink)<<TypeShift|0o744, req.Uid, req.Gid)
	if err != nil {
		return Inode{}, 0, err
	}
	if _, err := fs.WriteSystem(0, id, []byte(target), true); err != nil {
		fs.unlinkInternal(parentID, NewFileName(name))
		return Inode{}, 0, err
	}
	return fs.Inode(id), id, nil
}

// Rename moves an entry, replacing the destination if present. Needs WX
// on both parents. A same-parent same-name rename is a no-op.
func (fs *FS) Rename(req Req, parentID int, name string, newParentID int, newName string) error {
	if err := fs.Inode(parentID).accessGuard(req, MaskWX); err != nil {
		return err
	}
	if err := fs.Inode(newParentID).accessGuard(req, MaskWX); err != nil {
		return err
	}
	return fs.renameInternal(parentID, NewFileName(name), newParentID, NewFileName(newName))
}

// Link adds a new name for an inode and bumps its link count. Needs WX
// on the new parent.
func (fs *FS) Link(req Req, inodeID, newParentID int, newName string) (Inode, error) {
	newParent := fs.Inode(newParentID)
	if err := newParent.accessGuard(req, MaskWX); err != nil {
		return Inode{}, err
	}
	fn := NewFileName(newName)
	if _, _, err := fs.lookupInternal(newParent, fn); err == nil {
		return Inode{}, ErrExists
	} else if err != ErrNoEntry {
		return Inode{}, err
	}
	entries, err := fs.lsInternal(newParent)
	if err != nil {
		return Inode{}, err
	}
	entries = append(entries, DirEntry{Name: fn, Inode: uint64(inodeID)})
	if err := fs.writeEntries(newParentID, entries); err != nil {
		return Inode{}, err
	}
	return fs.ModifyInode(inodeID, func(ino *Inode) {
		ino.LinkCount++
	}), nil
}

// OpenOp opens a handle on the inode, checking the access the flags
// imply.
func (fs *FS) OpenOp(req Req, inodeID, flags int) (uint32, error) {
	mask, err := maskFromFlags(flags)
	if err != nil {
		return 0, err
	}
	if err := fs.Inode(inodeID).accessGuard(req, mask); err != nil {
		return 0, err
	}
	return fs.OpenInternal(inodeID, 0, flags, req.Pid)
}

// ReadOp reads from the handle at the absolute byte offset.
func (fs *FS) ReadOp(req Req, fh uint32, offset int, buf []byte) (int, error) {
	h, err := fs.handler(fh, req.Pid)
	if err != nil {
		return 0, err
	}
	h.Offset = offset
	return fs.readInternal(h, buf), nil
}

// WriteOp writes data at the absolute byte offset through the handle.
func (fs *FS) WriteOp(req Req, fh uint32, offset int, data []byte) (int, error) {
	h, err := fs.handler(fh, req.Pid)
	if err != nil {
		return 0, err
	}
	h.Offset = offset
	n, err := fs.WriteSystem(offset, h.InodeID, data, false)
	if err != nil {
		return 0, err
	}
	h.Offset += n
	return n, nil
}

// FlushOp syncs the handle's inode blocks to the device.
func (fs *FS) FlushOp(req Req, fh uint32) error {
	h, err := fs.handler(fh, req.Pid)
	if err != nil {
		return err
	}
	fs.FlushInternal(h.InodeID)
	return nil
}

// ReleaseOp closes the handle.
func (fs *FS) ReleaseOp(req Req, fh uint32, flush bool) error {
	return fs.CloseInternal(fh, req.Pid, flush)
}

// OpenDir opens a handle on a directory.
func (fs *FS) OpenDir(req Req, inodeID, flags int) (uint32, error) {
	ino := fs.Inode(inodeID)
	if !ino.Exists() {
		return 0, ErrNoEntry
	}
	if !ino.IsDir() {
		return 0, ErrNotDirectory
	}
	return fs.OpenOp(req, inodeID, flags)
}

// ReadDirOp lists the handle's directory starting at the entry cursor.
// Each row carries the cursor to resume after it.
func (fs *FS) ReadDirOp(req Req, fh uint32, offset int) ([]DirEntryDetail, error) {
	h, err := fs.handler(fh, req.Pid)
	if err != nil {
		return nil, err
	}
	entries, err := fs.lsInternal(fs.Inode(h.InodeID))
	if err != nil {
		return nil, err
	}
	if offset > len(entries) {
		offset = len(entries)
	}
	details := make([]DirEntryDetail, 0, len(entries)-offset)
	for i, e := range entries[offset:] {
		details = append(details, DirEntryDetail{
			Name:    e.Name.String(),
			InodeID: int(e.Inode),
			Offset:  offset + i + 1,
			Inode:   fs.Inode(int(e.Inode)),
		})
	}
	return details, nil
}

// GetXAttr is unsupported; extended attributes are out of scope.
func (fs *FS) GetXAttr(Req, int, string) ([]byte, error) {
	return nil, ErrNotSupported
}

// AccessOp answers access(2) against the inode.
func (fs *FS) AccessOp(req Req, inodeID, mask int) error {
	ino := fs.Inode(inodeID)
	if !ino.Exists() {
		return ErrNoEntry
	}
	return ino.accessGuard(req, maskFromAccess(mask))
}

// Create makes a regular file and opens it in one step. Needs WX on the
// parent.
func (fs *FS) Create(req Req, parentID int, name string, mode uint32, flags int) (Inode, int, uint32, error) {
	if err := fs.Inode(parentID).accessGuard(req, MaskWX); err != nil {
		return Inode{}, 0, 0, err
	}
	id, err := fs.makeNodeInternal(name, parentID, uint16(TypeRegular)<<TypeShift|uint16(mode&0o7777), req.Uid, req.Gid)
	if err != nil {
		return Inode{}, 0, 0, err
	}
	fh, err := fs.OpenInternal(id, 0, flags, req.Pid)
	if err != nil {
		return Inode{}, 0, 0, err
	}
	return fs.Inode(id), id, fh, nil
}
