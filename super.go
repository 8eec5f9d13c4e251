package simplefs

import (
	"encoding/binary"
)

// Magic identifies an exfs image in block 0.
const Magic uint64 = 0x0acabaca01a788cc

const (
	bitsPerBitmapBlock = BlockSize * 8
	superBlockSize     = 40
)

// SuperBlock records the image layout. The on-disk form is 40 bytes at
// the start of block 0, little-endian: the magic followed by the four
// region sizes in blocks.
//
//	| super | inode bitmap | data bitmap | inode table | data |
//	|   1   |      IB      |     DB      |     IN      |  DN  |
type SuperBlock struct {
	Magic            uint64
	InodeBitmapBlks  int
	DataBitmapBlks   int
	InodeTableBlks   int
	DataBlks         int
}

// NewSuperBlock computes the layout for an image of total blocks. The
// space after block 0 is split evenly between the (bitmap + region)
// pair for inodes and the one for data; each bitmap is sized to cover
// its region, and slack from integer division widens the data bitmap so
// the regions tile the image exactly.
func NewSuperBlock(total int) SuperBlock {
	if total < 8 {
		panic("exfs: image too small to format")
	}
	rem := total - 1
	half := rem / 2

	in := half
	for in+(in*InodesPerBlock+bitsPerBitmapBlock-1)/bitsPerBitmapBlock > half {
		in--
	}
	ib := (in*InodesPerBlock + bitsPerBitmapBlock - 1) / bitsPerBitmapBlock

	rest := rem - in - ib
	dn := rest
	for dn+(dn+bitsPerBitmapBlock-1)/bitsPerBitmapBlock > rest {
		dn--
	}
	db := rest - dn

	return SuperBlock{
		Magic:           Magic,
		InodeBitmapBlks: ib,
		DataBitmapBlks:  db,
		InodeTableBlks:  in,
		DataBlks:        dn,
	}
}

// Valid reports whether the magic matches.
func (sb SuperBlock) Valid() bool {
	return sb.Magic == Magic
}

// TotalBlocks is the number of blocks the layout addresses.
func (sb SuperBlock) TotalBlocks() int {
	return 1 + sb.InodeBitmapBlks + sb.DataBitmapBlks + sb.InodeTableBlks + sb.DataBlks
}

// InodeCount is the number of inode slots in the table.
func (sb SuperBlock) InodeCount() int {
	return sb.InodeTableBlks * InodesPerBlock
}

func (sb SuperBlock) inodeBitmapStart() int { return 1 }
func (sb SuperBlock) dataBitmapStart() int  { return 1 + sb.InodeBitmapBlks }
func (sb SuperBlock) inodeTableStart() int  { return 1 + sb.InodeBitmapBlks + sb.DataBitmapBlks }
func (sb SuperBlock) dataStart() int {
	return 1 + sb.InodeBitmapBlks + sb.DataBitmapBlks + sb.InodeTableBlks
}

// DataBlockAddr maps a 0-based data block id to its physical block.
func (sb SuperBlock) DataBlockAddr(id int) int {
	return sb.dataStart() + id
}

// InodeBlockAddr maps a 1-based inode id to its physical block and the
// byte offset of the record inside it.
func (sb SuperBlock) InodeBlockAddr(id int) (blk, offset int) {
	slot := id - 1
	return sb.inodeTableStart() + slot/InodesPerBlock, (slot % InodesPerBlock) * InodeSize
}

func decodeSuperBlock(data []byte) SuperBlock {
	return SuperBlock{
		Magic:           binary.LittleEndian.Uint64(data[0:]),
		InodeBitmapBlks: int(binary.LittleEndian.Uint64(data[8:])),
		DataBitmapBlks:  int(binary.LittleEndian.Uint64(data[16:])),
		InodeTableBlks:  int(binary.LittleEndian.Uint64(data[24:])),
		DataBlks:        int(binary.LittleEndian.Uint64(data[32:])),
	}
}

func (sb SuperBlock) encode(data []byte) {
	binary.LittleEndian.PutUint64(data[0:], sb.Magic)
	binary.LittleEndian.PutUint64(data[8:], uint64(sb.InodeBitmapBlks))
	binary.LittleEndian.PutUint64(data[16:], uint64(sb.DataBitmapBlks))
	binary.LittleEndian.PutUint64(data[24:], uint64(sb.InodeTableBlks))
	binary.LittleEndian.PutUint64(data[32:], uint64(sb.DataBlks))
}
