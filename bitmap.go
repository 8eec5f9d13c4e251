package simplefs

import (
	"fmt"
	"log"
)

// The two allocation bitmaps are managed identically; isInode selects
// the region. Inode ids are 1-based (bit i tracks inode i+1), data
// block ids are 0-based.

// Alloc scans the selected bitmap for the first clear bit, sets it and
// returns the slot id. Returns ErrNoSpace when the region is full.
func (fs *FS) Alloc(isInode bool) (int, error) {
	sb := fs.Super()
	size := sb.DataBlks
	if isInode {
		size = sb.InodeCount()
	}
	for index := 0; index < size; index++ {
		if fs.used(index, isInode) {
			continue
		}
		fs.setBit(index, isInode, true)
		if isInode {
			return index + 1, nil
		}
		return index, nil
	}
	return 0, ErrNoSpace
}

// Free clears the slot's bit. With scrub set, the backing storage is
// cleared as well: data blocks are zeroed, inode slots overwritten with
// the nil inode. Freeing a free slot is logged and ignored.
func (fs *FS) Free(id int, isInode, scrub bool) {
	index := id
	if isInode {
		index = id - 1
	}
	if !fs.used(index, isInode) {
		log.Printf("exfs: double free of %s %d", regionName(isInode), id)
		return
	}
	fs.setBit(index, isInode, false)
	if !scrub {
		return
	}
	if isInode {
		blk, offset := fs.Super().InodeBlockAddr(id)
		fs.blockCache(blk).Modify(offset, func(data []byte) {
			NilInode().encode(data)
		})
	} else {
		fs.blockCache(fs.DataBlockAddr(id)).Free()
	}
}

// bitmapOffset resolves a slot index to (physical block, byte, bit).
// An index outside the region is a fatal caller bug.
func (fs *FS) bitmapOffset(index int, isInode bool) (blk, byteOff, bitOff int) {
	sb := fs.Super()
	start, size, limit := sb.dataBitmapStart(), sb.DataBitmapBlks, sb.DataBlks
	if isInode {
		start, size, limit = sb.inodeBitmapStart(), sb.InodeBitmapBlks, sb.InodeCount()
	}
	if index < 0 || index >= limit {
		panic(fmt.Sprintf("exfs: %s bitmap index %d out of range", regionName(isInode), index))
	}
	blk = index / bitsPerBitmapBlock
	if blk >= size {
		panic(fmt.Sprintf("exfs: %s bitmap block %d out of range", regionName(isInode), blk))
	}
	rest := index % bitsPerBitmapBlock
	return start + blk, rest / 8, rest % 8
}

func (fs *FS) used(index int, isInode bool) bool {
	blk, byteOff, bitOff := fs.bitmapOffset(index, isInode)
	var set bool
	fs.blockCache(blk).Read(byteOff, func(data []byte) {
		set = data[0]&(1<<bitOff) != 0
	})
	return set
}

func (fs *FS) setBit(index int, isInode, v bool) {
	blk, byteOff, bitOff := fs.bitmapOffset(index, isInode)
	fs.blockCache(blk).Modify(byteOff, func(data []byte) {
		if v {
			data[0] |= 1 << bitOff
		} else {
			data[0] &^= 1 << bitOff
		}
	})
}

func (fs *FS) clearBitmaps() {
	sb := fs.Super()
	for blk := sb.inodeBitmapStart(); blk < sb.inodeTableStart(); blk++ {
		fs.blockCache(blk).Free()
	}
}

// Usage counts the allocated slots in both bitmaps.
func (fs *FS) Usage() (inodes, dataBlocks int) {
	sb := fs.Super()
	for i := 0; i < sb.InodeCount(); i++ {
		if fs.used(i, true) {
			inodes++
		}
	}
	for i := 0; i < sb.DataBlks; i++ {
		if fs.used(i, false) {
			dataBlocks++
		}
	}
	return inodes, dataBlocks
}

func regionName(isInode bool) string {
	if isInode {
		return "inode"
	}
	return "data"
}
