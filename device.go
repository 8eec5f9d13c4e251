package simplefs

import (
	"fmt"
	"os"
)

// BlockSize is the fixed size of every block in the image.
const BlockSize = 4096

// BlockDevice is the backing store abstraction. Implementations move
// whole blocks; a short read or write is a contract violation and
// panics rather than returning an error.
type BlockDevice interface {
	ReadBlock(block int, buf []byte)
	WriteBlock(block int, buf []byte)
	Sync()
}

// FileDevice backs a block device onto a regular file using positional
// I/O. The file must be at least as large as the addressed image.
type FileDevice struct {
	f *os.File
}

// NewFileDevice wraps an already opened image file.
func NewFileDevice(f *os.File) *FileDevice {
	return &FileDevice{f: f}
}

// CreateImage creates (or truncates) an image file sized for the given
// number of blocks and returns a device over it.
func CreateImage(path string, blocks int) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(int64(blocks) * BlockSize); err != nil {
		f.Close()
		return nil, err
	}
	return &FileDevice{f: f}, nil
}

// OpenImage opens an existing image file read-write.
func OpenImage(path string) (*FileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return &FileDevice{f: f}, nil
}

func (d *FileDevice) ReadBlock(block int, buf []byte) {
	if len(buf) != BlockSize {
		panic(fmt.Sprintf("exfs: read of %d bytes is not a block", len(buf)))
	}
	n, err := d.f.ReadAt(buf, int64(block)*BlockSize)
	if err != nil || n != BlockSize {
		panic(fmt.Sprintf("exfs: short read of block %d: %d bytes (%v)", block, n, err))
	}
}

func (d *FileDevice) WriteBlock(block int, buf []byte) {
	if len(buf) != BlockSize {
		panic(fmt.Sprintf("exfs: write of %d bytes is not a block", len(buf)))
	}
	n, err := d.f.WriteAt(buf, int64(block)*BlockSize)
	if err != nil || n != BlockSize {
		panic(fmt.Sprintf("exfs: short write of block %d: %d bytes (%v)", block, n, err))
	}
}

func (d *FileDevice) Sync() {
	// fsync failure leaves nothing sensible to do at this layer
	_ = d.f.Sync()
}

// Close syncs and closes the underlying file.
func (d *FileDevice) Close() error {
	d.f.Sync()
	return d.f.Close()
}
