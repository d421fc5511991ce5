// Package btrfsioctl is the typed wrapper layer over the raw Btrfs and
// generic-filesystem ioctls this repository drives: TREE_SEARCH,
// INO_LOOKUP, SUBVOL_GETFLAGS, FS_IOC_GETFLAGS/SETFLAGS, CLONE/CLONE_RANGE,
// and DEFRAG_RANGE. Every struct here matches the kernel ABI bit-for-bit.
// Errors wrap the raw errno; Classify maps them to an outcome.Kind.
package btrfsioctl

import (
	"encoding/binary"
	"fmt"
	"os"
	"unsafe"

	"github.com/dennwc/ioctl"
)

// btrfsIoctlMagic is the ioctl magic number ('\x94') all Btrfs ioctls share.
const btrfsIoctlMagic = 0x94

// Tree and key constants needed to walk the FS_TREE for inode items.
const (
	FSTreeObjectID    = 5
	RootTreeObjectID  = 1
	FirstFreeObjectID = 256

	InodeItemKey = 1
	InodeRefKey  = 12
	DirItemKey   = 84
)

const searchKeySize = 104
const searchBufSize = 4096 - searchKeySize // one kernel batch: btrfs_ioctl_search_args is 4KiB

type searchKey struct {
	TreeID      uint64
	MinObjectID uint64
	MaxObjectID uint64
	MinOffset   uint64
	MaxOffset   uint64
	MinTransID  uint64
	MaxTransID  uint64
	MinType     uint32
	MaxType     uint32
	NrItems     uint32
	_unused     uint32
	_unused1    uint64
	_unused2    uint64
	_unused3    uint64
	_unused4    uint64
}

type searchArgs struct {
	Key searchKey
	Buf [searchBufSize]byte
}

type searchHeader struct {
	TransID  uint64
	ObjectID uint64
	Offset   uint64
	Type     uint32
	Len      uint32
}

// SearchResult is one item yielded by TreeSearch.
type SearchResult struct {
	TransID  uint64
	ObjectID uint64
	Offset   uint64
	Type     uint32
	Data     []byte
}

var ioctlTreeSearch = ioctl.IOWR(btrfsIoctlMagic, 17, unsafe.Sizeof(searchArgs{}))

// TreeSearch issues BTRFS_IOC_TREE_SEARCH against f's tree treeID, filtered
// to [minObjID,maxObjID] x [minType,maxType] and min transaction id
// minTransID, re-issuing the ioctl with an advancing cursor until the
// kernel returns zero items. The scanner uses minTransID to implement the
// incremental watermark; other callers pass 0 to see everything.
func TreeSearch(f *os.File, treeID, minObjID, maxObjID uint64, minType, maxType uint32, minTransID uint64) ([]SearchResult, error) {
	var results []SearchResult

	args := searchArgs{
		Key: searchKey{
			TreeID:      treeID,
			MinObjectID: minObjID,
			MaxObjectID: maxObjID,
			MinOffset:   0,
			MaxOffset:   ^uint64(0),
			MinTransID:  minTransID,
			MaxTransID:  ^uint64(0),
			MinType:     minType,
			MaxType:     maxType,
			NrItems:     4096,
		},
	}

	for {
		if err := ioctl.Do(f, ioctlTreeSearch, &args); err != nil {
			return nil, fmt.Errorf("TREE_SEARCH ioctl: %w", err)
		}

		if args.Key.NrItems == 0 {
			break
		}

		offset := 0
		var last searchHeader
		gotItems := false
		for i := uint32(0); i < args.Key.NrItems; i++ {
			if offset+32 > len(args.Buf) {
				break
			}
			hdr := searchHeader{
				TransID:  binary.LittleEndian.Uint64(args.Buf[offset:]),
				ObjectID: binary.LittleEndian.Uint64(args.Buf[offset+8:]),
				Offset:   binary.LittleEndian.Uint64(args.Buf[offset+16:]),
				Type:     binary.LittleEndian.Uint32(args.Buf[offset+24:]),
				Len:      binary.LittleEndian.Uint32(args.Buf[offset+28:]),
			}
			offset += 32

			if offset+int(hdr.Len) > len(args.Buf) {
				break
			}

			if hdr.Type >= minType && hdr.Type <= maxType {
				data := make([]byte, hdr.Len)
				copy(data, args.Buf[offset:offset+int(hdr.Len)])
				results = append(results, SearchResult{
					TransID:  hdr.TransID,
					ObjectID: hdr.ObjectID,
					Offset:   hdr.Offset,
					Type:     hdr.Type,
					Data:     data,
				})
			}
			offset += int(hdr.Len)
			last = hdr
			gotItems = true
		}

		if !gotItems {
			break
		}

		if last.Offset == ^uint64(0) {
			if last.Type == maxType {
				if last.ObjectID == maxObjID {
					break
				}
				args.Key.MinObjectID = last.ObjectID + 1
				args.Key.MinType = minType
			} else {
				args.Key.MinType = last.Type + 1
			}
			args.Key.MinOffset = 0
		} else {
			args.Key.MinObjectID = last.ObjectID
			args.Key.MinType = last.Type
			args.Key.MinOffset = last.Offset + 1
		}
		args.Key.NrItems = 4096
	}

	return results, nil
}
