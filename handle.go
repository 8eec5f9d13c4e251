package simplefs

import (
	"syscall"

	"github.com/google/btree"
)

// FileHandler is the open-file state behind one handle id: the target
// inode, a handle-local byte cursor and the open flags.
type FileHandler struct {
	InodeID int
	Offset  int
	Flags   int
}

// handleEntry keys the handle table by (pid << 32 | fh) so each process
// has a private handle namespace.
type handleEntry struct {
	key uint64
	h   *FileHandler
}

func (e handleEntry) Less(than btree.Item) bool {
	return e.key < than.(handleEntry).key
}

func handleKey(fh, pid uint32) uint64 {
	return uint64(pid)<<32 | uint64(fh)
}

// handler resolves a (fh, pid) pair, ErrBadHandle if unknown.
func (fs *FS) handler(fh, pid uint32) (*FileHandler, error) {
	item := fs.handles.Get(handleEntry{key: handleKey(fh, pid)})
	if item == nil {
		return nil, ErrBadHandle
	}
	return item.(handleEntry).h, nil
}

// nextHandleID reuses a recycled id for the pid when one exists,
// otherwise mints one past the pid's current maximum.
func (fs *FS) nextHandleID(pid uint32) uint32 {
	if free := fs.recycled[pid]; len(free) > 0 {
		id := free[len(free)-1]
		fs.recycled[pid] = free[:len(free)-1]
		return id
	}
	var max uint32
	fs.handles.AscendRange(handleEntry{key: handleKey(0, pid)}, handleEntry{key: handleKey(0, pid) + 1<<32}, func(item btree.Item) bool {
		max = uint32(item.(handleEntry).key)
		return true
	})
	return max + 1
}

// OpenInternal constructs a handle on the inode. O_TRUNC discards the
// current contents before the handle is handed out.
func (fs *FS) OpenInternal(inodeID, offset, flags int, pid uint32) (uint32, error) {
	if !fs.Inode(inodeID).Exists() {
		return 0, ErrNoEntry
	}
	if flags&syscall.O_TRUNC != 0 {
		if _, err := fs.WriteSystem(0, inodeID, nil, true); err != nil {
			return 0, err
		}
	}
	fh := fs.nextHandleID(pid)
	fs.handles.ReplaceOrInsert(handleEntry{
		key: handleKey(fh, pid),
		h:   &FileHandler{InodeID: inodeID, Offset: offset, Flags: flags},
	})
	return fh, nil
}

// CloseInternal removes the handle, optionally flushing the inode's
// blocks first, and recycles the id.
func (fs *FS) CloseInternal(fh, pid uint32, flush bool) error {
	item := fs.handles.Delete(handleEntry{key: handleKey(fh, pid)})
	if item == nil {
		return ErrBadHandle
	}
	if flush {
		fs.FlushInternal(item.(handleEntry).h.InodeID)
	}
	fs.recycled[pid] = append(fs.recycled[pid], fh)
	return nil
}
