package scanner

import "encoding/binary"

// inodeItem mirrors struct btrfs_inode_item, decoded from the raw bytes a
// TREE_SEARCH INODE_ITEM_KEY result carries. Field names follow the
// kernel's (somewhat confusingly: "transid" not "generation" is the last
// transaction that touched the inode's contents — what spec §3 calls the
// inode record's generation).
type inodeItem struct {
	Transid  uint64 // last transaction that modified this inode
	Size     uint64
	Mode     uint32
	Flags    uint64
	MtimeSec int64
}

const (
	inodeItemMinLen = 160

	offGeneration = 0
	offTransid    = 8
	offSize       = 16
	offMode       = 52
	offFlags      = 64
	offMtime      = 136
)

const (
	sIFMT  = 0o170000
	sIFREG = 0o100000
)

// Btrfs inode flags that exclude a file from clone-safe dedup at source
// (spec §4.D: "files with NODATACOW or NODATASUM flags are excluded at
// insertion time").
const (
	inodeNoDataSum = 1 << 0
	inodeNoDataCow = 1 << 1
)

func parseInodeItem(data []byte) (*inodeItem, bool) {
	if len(data) < inodeItemMinLen {
		return nil, false
	}
	return &inodeItem{
		Transid:  binary.LittleEndian.Uint64(data[offTransid:]),
		Size:     binary.LittleEndian.Uint64(data[offSize:]),
		Mode:     binary.LittleEndian.Uint32(data[offMode:]),
		Flags:    binary.LittleEndian.Uint64(data[offFlags:]),
		MtimeSec: int64(binary.LittleEndian.Uint64(data[offMtime:])),
	}, true
}

func (it *inodeItem) isRegular() bool {
	return it.Mode&sIFMT == sIFREG
}

func (it *inodeItem) excludedByFlags() bool {
	return it.Flags&(inodeNoDataSum|inodeNoDataCow) != 0
}
