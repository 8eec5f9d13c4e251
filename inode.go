package simplefs

import (
	"encoding/binary"
	"time"
)

const (
	// InodeSize is the fixed on-disk size of an inode record.
	InodeSize = 64
	// InodesPerBlock inode records fit in one block.
	InodesPerBlock = BlockSize / InodeSize
	// RootInode is the id of the root directory; it always exists on a
	// formatted image.
	RootInode = 1
)

// Inode is one file's metadata and the root of its index tree.
//
// On disk (64 bytes, little-endian, natural alignment):
//
//	index_level(1) | reserved(9) | mode(2) | link_count(4) |
//	created(8) | modified(8) | size(8) | uid(4) | gid(4) |
//	index start(8) + len(8)
//
// IndexLevel is the height of the index tree; 0 means no blocks. Mode
// carries the 4-bit type tag in bits 12-15 and the permission bits
// (plus setuid/setgid/sticky, stored but not enforced) below.
type Inode struct {
	IndexLevel uint8
	Mode       uint16
	LinkCount  uint32
	Created    uint64
	Modified   uint64
	Size       uint64
	Uid        uint32
	Gid        uint32
	Index      IndexNode
}

// NewInode returns a fresh record with a link count of 1 and both
// timestamps set to now.
func NewInode(mode uint16, uid, gid uint32) Inode {
	now := uint64(time.Now().Unix())
	return Inode{
		Mode:      mode,
		LinkCount: 1,
		Created:   now,
		Modified:  now,
		Uid:       uid,
		Gid:       gid,
	}
}

// NilInode is the record stored in unallocated slots; its type tag
// decodes to TypeUnknown.
func NilInode() Inode {
	return Inode{}
}

// Exists reports whether the slot holds a live inode.
func (i Inode) Exists() bool {
	return i.FileType() != TypeUnknown
}

// FileType decodes the type tag from the mode bits.
func (i Inode) FileType() FileType {
	return FileType(i.Mode >> TypeShift)
}

func (i Inode) IsDir() bool {
	return i.FileType() == TypeDir
}

func (i Inode) IsSymlink() bool {
	return i.FileType() == TypeSymlink
}

// Blocks is the number of data blocks the declared size spans.
func (i Inode) Blocks() int {
	return int((i.Size + BlockSize - 1) / BlockSize)
}

// Perm returns the low permission bits including setuid/setgid/sticky.
func (i Inode) Perm() uint16 {
	return i.Mode & 0o7777
}

func decodeInode(data []byte) Inode {
	return Inode{
		IndexLevel: data[0],
		Mode:       binary.LittleEndian.Uint16(data[10:]),
		LinkCount:  binary.LittleEndian.Uint32(data[12:]),
		Created:    binary.LittleEndian.Uint64(data[16:]),
		Modified:   binary.LittleEndian.Uint64(data[24:]),
		Size:       binary.LittleEndian.Uint64(data[32:]),
		Uid:        binary.LittleEndian.Uint32(data[40:]),
		Gid:        binary.LittleEndian.Uint32(data[44:]),
		Index: IndexNode{
			Start: int(binary.LittleEndian.Uint64(data[48:])),
			Len:   int(binary.LittleEndian.Uint64(data[56:])),
		},
	}
}

func (i Inode) encode(data []byte) {
	data[0] = i.IndexLevel
	for n := 1; n < 10; n++ {
		data[n] = 0
	}
	binary.LittleEndian.PutUint16(data[10:], i.Mode)
	binary.LittleEndian.PutUint32(data[12:], i.LinkCount)
	binary.LittleEndian.PutUint64(data[16:], i.Created)
	binary.LittleEndian.PutUint64(data[24:], i.Modified)
	binary.LittleEndian.PutUint64(data[32:], i.Size)
	binary.LittleEndian.PutUint32(data[40:], i.Uid)
	binary.LittleEndian.PutUint32(data[44:], i.Gid)
	binary.LittleEndian.PutUint64(data[48:], uint64(i.Index.Start))
	binary.LittleEndian.PutUint64(data[56:], uint64(i.Index.Len))
}
