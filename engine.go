// Package simplefs implements exfs, a user-space block filesystem kept
// in a flat image of 4 KiB blocks: a super block, two allocation
// bitmaps, an inode table and a data region. Files map their bytes to
// data blocks through run-length index trees rooted in the inode, every
// mutation is written through a bounded block cache, and the
// POSIX-shaped operation surface on FS can be mounted through fuse.
package simplefs

import (
	"log"

	"github.com/google/btree"
	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultCacheBlocks = 128

// FS is the filesystem engine: the block cache, the allocator state and
// the file-handle table over one block device. It is single-owner; all
// operations are methods on it and callers serialize access themselves
// (the fuse bridge holds a mutex around it).
type FS struct {
	dev     BlockDevice
	cache   *lru.Cache[int, *CacheBlock]
	super   *CacheBlock
	handles *btree.BTree
	// recycled handle ids, reused before new ones are minted
	recycled  map[uint32][]uint32
	cacheSize int
}

// Option configures an FS.
type Option func(fs *FS) error

// New builds an engine over dev. The image is not validated; Mkfs may
// be called on a fresh device.
func New(dev BlockDevice, opts ...Option) (*FS, error) {
	fs := &FS{
		dev:       dev,
		super:     newCacheBlock(dev, 0),
		handles:   btree.New(8),
		recycled:  make(map[uint32][]uint32),
		cacheSize: defaultCacheBlocks,
	}
	for _, opt := range opts {
		if err := opt(fs); err != nil {
			return nil, err
		}
	}
	cache, err := lru.NewWithEvict[int, *CacheBlock](fs.cacheSize, func(_ int, c *CacheBlock) {
		c.Sync()
	})
	if err != nil {
		return nil, err
	}
	fs.cache = cache
	return fs, nil
}

// Open opens an image file and validates its super block.
func Open(path string, opts ...Option) (*FS, error) {
	dev, err := OpenImage(path)
	if err != nil {
		return nil, err
	}
	fs, err := New(dev, opts...)
	if err != nil {
		dev.Close()
		return nil, err
	}
	if !fs.Super().Valid() {
		dev.Close()
		return nil, ErrInvalidSuper
	}
	return fs, nil
}

// Super reads the super block.
func (fs *FS) Super() SuperBlock {
	var sb SuperBlock
	fs.super.Read(0, func(data []byte) {
		sb = decodeSuperBlock(data)
	})
	return sb
}

// blockCache returns the cached handle for a physical block, reading it
// in (and possibly evicting another block) if absent.
func (fs *FS) blockCache(block int) *CacheBlock {
	if block == 0 {
		return fs.super
	}
	if c, ok := fs.cache.Get(block); ok {
		return c
	}
	c := newCacheBlock(fs.dev, block)
	fs.cache.Add(block, c)
	return c
}

// DataBlockAddr maps a data block id to its physical block.
func (fs *FS) DataBlockAddr(id int) int {
	return fs.Super().DataBlockAddr(id)
}

// Inode reads the inode record with the given 1-based id.
func (fs *FS) Inode(id int) Inode {
	blk, offset := fs.Super().InodeBlockAddr(id)
	var ino Inode
	fs.blockCache(blk).Read(offset, func(data []byte) {
		ino = decodeInode(data)
	})
	return ino
}

// ModifyInode applies f to the inode record and writes it through.
func (fs *FS) ModifyInode(id int, f func(ino *Inode)) Inode {
	blk, offset := fs.Super().InodeBlockAddr(id)
	var ino Inode
	fs.blockCache(blk).Modify(offset, func(data []byte) {
		ino = decodeInode(data)
		f(&ino)
		ino.encode(data)
	})
	return ino
}

// Mkfs formats the device as an image of the given number of blocks:
// zero everything, write the super block, clear the bitmaps and create
// the root directory at inode 1. The format is complete once the final
// sync returns.
func (fs *FS) Mkfs(blocks int) {
	for blk := 0; blk < blocks; blk++ {
		fs.blockCache(blk).Free()
	}
	sb := NewSuperBlock(blocks)
	fs.super.Modify(0, func(data []byte) {
		sb.encode(data)
	})
	fs.clearBitmaps()
	fs.makeRoot()
	fs.Sync()
}

func (fs *FS) makeRoot() {
	id, err := fs.Alloc(true)
	if err != nil {
		panic("exfs: no room for the root inode")
	}
	if id != RootInode {
		log.Printf("exfs: root allocated as inode %d", id)
	}
	fs.ModifyInode(id, func(ino *Inode) {
		*ino = NewInode(uint16(TypeDir)<<TypeShift|0o755, 0, 0)
		ino.Size = BlockSize
	})
}

// Sync flushes every resident block, then the device. Idempotent.
func (fs *FS) Sync() {
	fs.super.Sync()
	for _, c := range fs.cache.Values() {
		c.Sync()
	}
	fs.dev.Sync()
}

// Close syncs the cache and, for file-backed devices, the image file.
func (fs *FS) Close() error {
	fs.Sync()
	if c, ok := fs.dev.(*FileDevice); ok {
		return c.Close()
	}
	return nil
}
