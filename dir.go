package simplefs

import (
	"bytes"
	"encoding/binary"
	"strings"
)

const (
	// DirEntrySize is the fixed on-disk size of a directory entry.
	DirEntrySize = 64
	// NameLen is the entry name capacity.
	NameLen = 56
	// EntriesPerBlock directory entries fit in one block.
	EntriesPerBlock = BlockSize / DirEntrySize
)

// FileName is a NUL-padded entry name. Comparison is byte-exact.
type FileName [NameLen]byte

// NewFileName packs a string, truncating past the capacity.
func NewFileName(name string) FileName {
	var fn FileName
	copy(fn[:], name)
	return fn
}

func (f FileName) String() string {
	if i := bytes.IndexByte(f[:], 0); i >= 0 {
		return string(f[:i])
	}
	return string(f[:])
}

func (f FileName) Empty() bool {
	return f == FileName{}
}

// DirEntry is one packed record inside a directory's data blocks:
// the name followed by the inode id. A zero entry is a tombstone.
type DirEntry struct {
	Name  FileName
	Inode uint64
}

// Valid reports whether the entry references a live inode.
func (e DirEntry) Valid() bool {
	return !e.Name.Empty() && e.Inode != 0
}

func decodeDirEntry(data []byte) DirEntry {
	var e DirEntry
	copy(e.Name[:], data[:NameLen])
	e.Inode = binary.LittleEndian.Uint64(data[NameLen:])
	return e
}

func (e DirEntry) encode(data []byte) {
	copy(data[:NameLen], e.Name[:])
	binary.LittleEndian.PutUint64(data[NameLen:], e.Inode)
}

// DirEntryDetail is a listing row: the entry joined with its inode and
// a cursor for readdir continuation.
type DirEntryDetail struct {
	Name    string
	InodeID int
	Offset  int
	Inode   Inode
}

// lsInternal decodes the valid entries of a directory inode.
func (fs *FS) lsInternal(ino Inode) ([]DirEntry, error) {
	if !ino.Exists() {
		return nil, ErrNoEntry
	}
	if !ino.IsDir() {
		return nil, ErrNotDirectory
	}
	var entries []DirEntry
	for _, blk := range fs.DataBlocks(ino) {
		fs.readData(blk, 0, func(data []byte) {
			for i := 0; i < EntriesPerBlock; i++ {
				e := decodeDirEntry(data[i*DirEntrySize:])
				if e.Valid() {
					entries = append(entries, e)
				}
			}
		})
	}
	return entries, nil
}

// lookupInternal finds name in the parent and returns the child inode
// with its id.
func (fs *FS) lookupInternal(parent Inode, name FileName) (Inode, int, error) {
	entries, err := fs.lsInternal(parent)
	if err != nil {
		return Inode{}, 0, err
	}
	for _, e := range entries {
		if e.Name == name {
			id := int(e.Inode)
			return fs.Inode(id), id, nil
		}
	}
	return Inode{}, 0, ErrNoEntry
}

// writeEntries re-serializes a directory's entry list, zero-padded to
// whole blocks, and writes it back with truncation.
func (fs *FS) writeEntries(parentID int, entries []DirEntry) error {
	buf := make([]byte, (len(entries)*DirEntrySize+BlockSize-1)/BlockSize*BlockSize)
	for i, e := range entries {
		e.encode(buf[i*DirEntrySize:])
	}
	_, err := fs.WriteSystem(0, parentID, buf, true)
	return err
}

// makeNodeInternal allocates an inode of the given mode and links it
// into the parent under name. Returns the new inode id.
func (fs *FS) makeNodeInternal(name string, parentID int, mode uint16, uid, gid uint32) (int, error) {
	parent := fs.Inode(parentID)
	entries, err := fs.lsInternal(parent)
	if err != nil {
		return 0, err
	}
	fn := NewFileName(name)
	for _, e := range entries {
		if e.Name == fn {
			return 0, ErrExists
		}
	}
	inodeID, err := fs.Alloc(true)
	if err != nil {
		return 0, err
	}
	fs.ModifyInode(inodeID, func(ino *Inode) {
		*ino = NewInode(mode, uid, gid)
	})
	entries = append(entries, DirEntry{Name: fn, Inode: uint64(inodeID)})
	if err := fs.writeEntries(parentID, entries); err != nil {
		fs.Free(inodeID, true, true)
		return 0, err
	}
	return inodeID, nil
}

// removeEntry drops name from the parent. With adjustLink set the
// target's link count is decremented and, at zero, its index tree and
// inode slot are freed; the move path of rename clears it to keep the
// inode alive.
func (fs *FS) removeEntry(parentID int, name FileName, adjustLink bool) error {
	entries, err := fs.lsInternal(fs.Inode(parentID))
	if err != nil {
		return err
	}
	for i, e := range entries {
		if e.Name != name {
			continue
		}
		rest := append(entries[:i:i], entries[i+1:]...)
		if adjustLink {
			targetID := int(e.Inode)
			target := fs.ModifyInode(targetID, func(ino *Inode) {
				ino.LinkCount--
			})
			if target.LinkCount == 0 {
				fs.freeTree(target.Index, target.IndexLevel, true)
				fs.Free(targetID, true, true)
			}
		}
		return fs.writeEntries(parentID, rest)
	}
	return ErrNoEntry
}

// unlinkInternal removes a directory entry and drops the target's link.
func (fs *FS) unlinkInternal(parentID int, name FileName) error {
	return fs.removeEntry(parentID, name, true)
}

// renameInternal moves (parentID, name) to (newParentID, newName),
// replacing any entry already there. The moved inode's link count is
// untouched.
func (fs *FS) renameInternal(parentID int, name FileName, newParentID int, newName FileName) error {
	if parentID == newParentID && name == newName {
		return nil
	}
	_, inodeID, err := fs.lookupInternal(fs.Inode(parentID), name)
	if err != nil {
		return err
	}
	if err := fs.removeEntry(newParentID, newName, true); err != nil && err != ErrNoEntry {
		return err
	}
	entries, err := fs.lsInternal(fs.Inode(newParentID))
	if err != nil {
		return err
	}
	entries = append(entries, DirEntry{Name: newName, Inode: uint64(inodeID)})
	if err := fs.writeEntries(newParentID, entries); err != nil {
		return err
	}
	return fs.removeEntry(parentID, name, false)
}

// Ls walks an absolute slash-separated path from the root and lists the
// directory it names.
func (fs *FS) Ls(path string) ([]DirEntryDetail, error) {
	parent := fs.Inode(RootInode)
	for _, part := range strings.Split(path, "/") {
		if part == "" {
			continue
		}
		child, _, err := fs.lookupInternal(parent, NewFileName(part))
		if err != nil {
			return nil, err
		}
		parent = child
	}
	entries, err := fs.lsInternal(parent)
	if err != nil {
		return nil, err
	}
	details := make([]DirEntryDetail, 0, len(entries))
	for i, e := range entries {
		details = append(details, DirEntryDetail{
			Name:    e.Name.String(),
			InodeID: int(e.Inode),
			Offset:  i + 1,
			Inode:   fs.Inode(int(e.Inode)),
		})
	}
	return details, nil
}
