package simplefs

import (
	"sort"
	"time"
)

// modifyData runs f over a whole data block (by data-region id) and
// writes it through.
func (fs *FS) modifyData(id int, f func(data []byte)) {
	fs.blockCache(fs.DataBlockAddr(id)).Modify(0, f)
}

// readData runs f over a data block starting at offset.
func (fs *FS) readData(id, offset int, f func(data []byte)) {
	fs.blockCache(fs.DataBlockAddr(id)).Read(offset, f)
}

// WriteSystem writes buf at the byte offset inside the inode's data,
// growing the index tree as needed. With truncate set the call is
// authoritative: afterwards size == offset+len(buf) and the tree holds
// exactly the blocks that size spans; without it the write extends but
// never contracts. Data blocks allocated for an extend that cannot be
// completed are returned to the free list before the error is
// reported. Returns the number of bytes written.
func (fs *FS) WriteSystem(offset, inodeID int, buf []byte, truncate bool) (int, error) {
	ino := fs.Inode(inodeID)
	blocks := fs.DataBlocks(ino)

	need := (offset + len(buf) + BlockSize - 1) / BlockSize
	var grown []int
	for len(blocks) < need {
		id, err := fs.Alloc(false)
		if err != nil {
			for _, g := range grown {
				fs.Free(g, false, false)
			}
			return 0, err
		}
		blocks = append(blocks, id)
		grown = append(grown, id)
	}
	if truncate && need < len(blocks) {
		for _, id := range blocks[need:] {
			fs.Free(id, false, true)
		}
		blocks = blocks[:need]
	}
	// the tree encodes runs of sorted ids, so reads traverse blocks in
	// ascending order; writes must target the same order
	sort.Ints(blocks)

	// first block may be partial, so may the last
	for written := 0; written < len(buf); {
		pos := offset + written
		blk := pos / BlockSize
		inner := pos % BlockSize
		n := min(BlockSize-inner, len(buf)-written)
		slice := buf[written : written+n]
		fs.modifyData(blocks[blk], func(data []byte) {
			copy(data[inner:inner+n], slice)
		})
		written += n
	}

	end := uint64(offset + len(buf))
	prevSize := ino.Size
	fs.ModifyInode(inodeID, func(ino *Inode) {
		if truncate {
			ino.Size = end
		} else if end > ino.Size {
			ino.Size = end
		}
		ino.Modified = uint64(time.Now().Unix())
	})
	if err := fs.makeIndexPart(inodeID, blocks, 0); err != nil {
		for _, g := range grown {
			fs.Free(g, false, true)
		}
		fs.ModifyInode(inodeID, func(ino *Inode) {
			ino.Size = prevSize
		})
		return 0, err
	}
	return len(buf), nil
}

// readInternal copies from the handle's inode into buf starting at the
// handle's byte offset, clamped to the declared size, and advances the
// cursor. Returns the bytes actually read.
func (fs *FS) readInternal(h *FileHandler, buf []byte) int {
	ino := fs.Inode(h.InodeID)
	if uint64(h.Offset) >= ino.Size {
		return 0
	}
	if rest := ino.Size - uint64(h.Offset); uint64(len(buf)) > rest {
		buf = buf[:rest]
	}
	blocks := fs.DataBlocks(ino)

	read := 0
	for read < len(buf) {
		blk := h.Offset / BlockSize
		inner := h.Offset % BlockSize
		if blk >= len(blocks) {
			break
		}
		n := min(BlockSize-inner, len(buf)-read)
		fs.readData(blocks[blk], inner, func(data []byte) {
			copy(buf[read:read+n], data[:n])
		})
		read += n
		h.Offset += n
	}
	return read
}

// ReadAll returns the inode's full contents.
func (fs *FS) ReadAll(inodeID int) []byte {
	ino := fs.Inode(inodeID)
	buf := make([]byte, ino.Size)
	h := FileHandler{InodeID: inodeID}
	n := fs.readInternal(&h, buf)
	return buf[:n]
}

// FlushInternal syncs the cached blocks belonging to one inode, its
// data blocks and the block holding the record, then the device.
func (fs *FS) FlushInternal(inodeID int) {
	ino := fs.Inode(inodeID)
	for _, id := range fs.DataBlocks(ino) {
		if c, ok := fs.cache.Peek(fs.DataBlockAddr(id)); ok {
			c.Sync()
		}
	}
	blk, _ := fs.Super().InodeBlockAddr(inodeID)
	if c, ok := fs.cache.Peek(blk); ok {
		c.Sync()
	}
	fs.dev.Sync()
}
