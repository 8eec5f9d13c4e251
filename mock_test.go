package simplefs_test

import (
	"testing"

	"github.com/OXeu/simplefs"
)

// memDevice backs the test suite with an in-memory image.
type memDevice struct {
	data  []byte
	syncs int
}

func newMemDevice(blocks int) *memDevice {
	return &memDevice{data: make([]byte, blocks*simplefs.BlockSize)}
}

func (m *memDevice) ReadBlock(block int, buf []byte) {
	copy(buf, m.data[block*simplefs.BlockSize:(block+1)*simplefs.BlockSize])
}

func (m *memDevice) WriteBlock(block int, buf []byte) {
	copy(m.data[block*simplefs.BlockSize:(block+1)*simplefs.BlockSize], buf)
}

func (m *memDevice) Sync() {
	m.syncs++
}

func (m *memDevice) snapshot() []byte {
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out
}

// newTestFS formats a fresh in-memory image.
func newTestFS(t *testing.T, blocks int) (*simplefs.FS, *memDevice) {
	t.Helper()
	dev := newMemDevice(blocks)
	fsys, err := simplefs.New(dev)
	if err != nil {
		t.Fatalf("failed to build engine: %s", err)
	}
	fsys.Mkfs(blocks)
	return fsys, dev
}

var (
	rootReq = simplefs.Req{Uid: 0, Gid: 0, Pid: 1}
	userReq = simplefs.Req{Uid: 1000, Gid: 1000, Pid: 2}
)
