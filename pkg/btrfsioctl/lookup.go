package btrfsioctl

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/dennwc/ioctl"
)

const inoLookupPathMax = 4080

type inoLookupArgs struct {
	TreeID   uint64
	ObjectID uint64
	Name     [inoLookupPathMax]byte
}

var ioctlInoLookup = ioctl.IOWR(btrfsIoctlMagic, 18, unsafe.Sizeof(inoLookupArgs{}))

// InoLookupResult is the raw result of BTRFS_IOC_INO_LOOKUP: the resolved
// path, and (when the query was for objectID 0) the root id of the
// subvolume containing the fd the ioctl was issued against.
type InoLookupResult struct {
	RootID uint64
	Path   string
}

// InoLookupFull issues BTRFS_IOC_INO_LOOKUP against treeID/objectID.
// Calling it with treeID=0, objectID=0 is the kernel's documented trick for
// "what subvolume root id contains this fd" — the kernel fills RootID with
// that root id instead of treating it as an echo of the input.
func InoLookupFull(f *os.File, treeID, objectID uint64) (*InoLookupResult, error) {
	args := inoLookupArgs{TreeID: treeID, ObjectID: objectID}
	if err := ioctl.Do(f, ioctlInoLookup, &args); err != nil {
		return nil, fmt.Errorf("INO_LOOKUP ioctl: %w", err)
	}

	n := 0
	for i, b := range args.Name {
		if b == 0 {
			n = i
			break
		}
	}
	return &InoLookupResult{RootID: args.TreeID, Path: string(args.Name[:n])}, nil
}

// InoLookup resolves objectID within treeID to a path relative to the
// subvolume root, via BTRFS_IOC_INO_LOOKUP.
func InoLookup(f *os.File, treeID, objectID uint64) (string, error) {
	res, err := InoLookupFull(f, treeID, objectID)
	if err != nil {
		return "", err
	}
	return res.Path, nil
}

// GetSubvolID returns the id of the subvolume (root tree) containing f.
func GetSubvolID(f *os.File) (uint64, error) {
	res, err := InoLookupFull(f, 0, 0)
	if err != nil {
		return 0, err
	}
	return res.RootID, nil
}

// BTRFS_IOC_SUBVOL_GETFLAGS returns the root item flags (readonly bit etc).
var ioctlSubvolGetFlags = ioctl.IOR(btrfsIoctlMagic, 25, unsafe.Sizeof(uint64(0)))

const SubvolReadonlyFlag = 1 << 1

// SubvolGetFlags reads the subvolume flags of the subvolume rooted at f.
func SubvolGetFlags(f *os.File) (uint64, error) {
	var flags uint64
	if err := ioctl.Do(f, ioctlSubvolGetFlags, &flags); err != nil {
		return 0, fmt.Errorf("SUBVOL_GETFLAGS ioctl: %w", err)
	}
	return flags, nil
}
