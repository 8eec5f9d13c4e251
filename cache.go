package simplefs

import (
	"fmt"
	"sync"
)

// CacheBlock is one resident, parsed block. The cache exclusively owns
// the buffer; callers get shared, lock-guarded access to byte views of
// it through Read and Modify. Every mutation is flushed to the device
// before the call returns (write-through).
type CacheBlock struct {
	mu    sync.Mutex
	block int
	dev   BlockDevice
	data  [BlockSize]byte
	dirty bool
}

func newCacheBlock(dev BlockDevice, block int) *CacheBlock {
	c := &CacheBlock{block: block, dev: dev}
	dev.ReadBlock(block, c.data[:])
	return c
}

// Read runs f over the block contents starting at offset. The view is
// only valid for the duration of the call.
func (c *CacheBlock) Read(offset int, f func(data []byte)) {
	if offset < 0 || offset > BlockSize {
		panic(fmt.Sprintf("exfs: view offset %d outside block", offset))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	f(c.data[offset:])
}

// Modify runs f over a mutable view starting at offset, then flushes
// the block.
func (c *CacheBlock) Modify(offset int, f func(data []byte)) {
	if offset < 0 || offset > BlockSize {
		panic(fmt.Sprintf("exfs: view offset %d outside block", offset))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirty = true
	f(c.data[offset:])
	c.syncLocked()
}

// Free zeroes the buffer and flushes it.
func (c *CacheBlock) Free() {
	c.Modify(0, func(data []byte) {
		for i := range data {
			data[i] = 0
		}
	})
}

// Sync writes the block back if dirty. Safe to call repeatedly.
func (c *CacheBlock) Sync() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syncLocked()
}

func (c *CacheBlock) syncLocked() {
	if c.dirty {
		c.dirty = false
		c.dev.WriteBlock(c.block, c.data[:])
	}
}
