package simplefs

import (
	"encoding/binary"
	"sort"
)

const (
	// IndexNodeSize is the on-disk size of one descriptor.
	IndexNodeSize = 16
	// IndexPerBlock descriptors fit in one index block.
	IndexPerBlock = BlockSize / IndexNodeSize
)

// IndexNode describes a contiguous run of blocks [Start, Start+Len).
// Interpreted at height h it points at data blocks (h == 1) or blocks
// of height h-1 descriptors (h > 1). All ids are data-region ids.
type IndexNode struct {
	Start int
	Len   int
}

// Valid reports whether the descriptor covers any blocks.
func (n IndexNode) Valid() bool {
	return n.Len != 0
}

func decodeIndexNode(data []byte) IndexNode {
	return IndexNode{
		Start: int(binary.LittleEndian.Uint64(data[0:])),
		Len:   int(binary.LittleEndian.Uint64(data[8:])),
	}
}

func (n IndexNode) encode(data []byte) {
	binary.LittleEndian.PutUint64(data[0:], uint64(n.Start))
	binary.LittleEndian.PutUint64(data[8:], uint64(n.Len))
}

// foldRuns packs a list of block ids into the minimal descriptor list:
// consecutive ids fold into one run, isolated ids get their own.
func foldRuns(blocks []int) []IndexNode {
	if len(blocks) == 0 {
		return nil
	}
	sorted := make([]int, len(blocks))
	copy(sorted, blocks)
	sort.Ints(sorted)

	var runs []IndexNode
	cur := IndexNode{Start: sorted[0], Len: 1}
	for _, id := range sorted[1:] {
		if id == cur.Start+cur.Len {
			cur.Len++
			continue
		}
		runs = append(runs, cur)
		cur = IndexNode{Start: id, Len: 1}
	}
	return append(runs, cur)
}

// levelBlocks walks the tree under n (a descriptor of height h) and
// returns, in order, the block ids at height target: the data blocks
// for target == 1, the index blocks holding leaf descriptors for
// target == 2, and so on.
func (fs *FS) levelBlocks(n IndexNode, h, target uint8) []int {
	if h < target || !n.Valid() {
		return nil
	}
	if h == target {
		out := make([]int, 0, n.Len)
		for blk := n.Start; blk < n.Start+n.Len; blk++ {
			out = append(out, blk)
		}
		return out
	}
	var out []int
	for blk := n.Start; blk < n.Start+n.Len; blk++ {
		// copy the descriptors out before descending; recursing while
		// the block lock is held could evict-and-sync the same block
		var children []IndexNode
		fs.blockCache(fs.DataBlockAddr(blk)).Read(0, func(data []byte) {
			for i := 0; i < IndexPerBlock; i++ {
				child := decodeIndexNode(data[i*IndexNodeSize:])
				if child.Valid() {
					children = append(children, child)
				}
			}
		})
		for _, child := range children {
			out = append(out, fs.levelBlocks(child, h-1, target)...)
		}
	}
	return out
}

// DataBlocks lists the inode's data blocks in logical order.
func (fs *FS) DataBlocks(ino Inode) []int {
	return fs.levelBlocks(ino.Index, ino.IndexLevel, 1)
}

// indexBlocksAt lists the blocks that currently hold the descriptors of
// the given level (data blocks are level 0, so their descriptors live
// in the height-2 blocks). Empty when the tree is too shallow to have
// any.
func (fs *FS) indexBlocksAt(ino Inode, level uint8) []int {
	return fs.levelBlocks(ino.Index, ino.IndexLevel, level+2)
}

// freeTree releases every block under n: at height 1 the data blocks
// themselves, above that each index block after its children. scrub
// additionally zeroes freed data blocks.
func (fs *FS) freeTree(n IndexNode, h uint8, scrub bool) {
	if !n.Valid() {
		return
	}
	for blk := n.Start; blk < n.Start+n.Len; blk++ {
		if h <= 1 {
			fs.Free(blk, false, scrub)
			continue
		}
		var children []IndexNode
		fs.blockCache(fs.DataBlockAddr(blk)).Read(0, func(data []byte) {
			for i := 0; i < IndexPerBlock; i++ {
				child := decodeIndexNode(data[i*IndexNodeSize:])
				if child.Valid() {
					children = append(children, child)
				}
			}
		})
		for _, child := range children {
			fs.freeTree(child, h-1, scrub)
		}
		fs.Free(blk, false, true)
	}
}

// makeIndexPart rewrites the index tree of an inode whose complete
// block list at the given level is blocks (level 0 for data blocks).
// The descriptor list is folded; a single descriptor is embedded in the
// inode, otherwise the descriptors are serialized into index blocks
// (growing or shrinking the block set in place) and the rewrite
// recurses one level up.
func (fs *FS) makeIndexPart(inodeID int, blocks []int, level uint8) error {
	runs := foldRuns(blocks)
	if len(runs) <= 1 {
		// a shorter tree obsoletes the old upper index blocks
		old := fs.Inode(inodeID)
		for t := int(level) + 2; t <= int(old.IndexLevel); t++ {
			for _, blk := range fs.levelBlocks(old.Index, old.IndexLevel, uint8(t)) {
				fs.Free(blk, false, true)
			}
		}
		fs.ModifyInode(inodeID, func(ino *Inode) {
			if len(runs) == 0 {
				ino.Index = IndexNode{}
				ino.IndexLevel = 0
			} else {
				ino.Index = runs[0]
				ino.IndexLevel = level + 1
			}
		})
		return nil
	}

	buf := make([]byte, len(runs)*IndexNodeSize)
	for i, run := range runs {
		run.encode(buf[i*IndexNodeSize:])
	}
	need := (len(buf) + BlockSize - 1) / BlockSize

	index := fs.indexBlocksAt(fs.Inode(inodeID), level)
	var grown []int
	for len(index) < need {
		id, err := fs.Alloc(false)
		if err != nil {
			// hand back what this grow step took
			for _, g := range grown {
				fs.Free(g, false, false)
			}
			return err
		}
		index = append(index, id)
		grown = append(grown, id)
	}
	for len(index) > need {
		last := index[len(index)-1]
		index = index[:len(index)-1]
		fs.Free(last, false, true)
	}
	// the next level folds these ids into sorted runs, so the slices must
	// land in ascending-id order for reads to traverse them in sequence
	sort.Ints(index)

	for i := 0; i < need; i++ {
		slice := buf[i*BlockSize : min(len(buf), (i+1)*BlockSize)]
		fs.modifyData(index[i], func(data []byte) {
			copy(data, slice)
			for n := len(slice); n < BlockSize; n++ {
				data[n] = 0
			}
		})
	}
	return fs.makeIndexPart(inodeID, index, level+1)
}
