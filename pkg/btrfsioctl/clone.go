package btrfsioctl

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/dennwc/ioctl"
)

// BTRFS_IOC_CLONE takes the source fd as the ioctl argument value itself
// (not a pointer to one) — the clone covers the whole file. The kernel
// defines it as _IOW(0x94, 9, int) — C int, 4 bytes on every platform Go
// runs on, not Go's 8-byte int.
var ioctlClone = ioctl.IOW(btrfsIoctlMagic, 9, unsafe.Sizeof(int32(0)))

// Clone makes dst share src's extents for the whole file via
// BTRFS_IOC_CLONE. Both files must be the size the caller compared; the
// kernel does not re-verify content equality.
func Clone(dst, src *os.File) error {
	if err := ioctl.Ioctl(dst, ioctlClone, uintptr(src.Fd())); err != nil {
		return fmt.Errorf("BTRFS_IOC_CLONE: %w", err)
	}
	return nil
}

// cloneRangeArgs mirrors struct btrfs_ioctl_clone_range_args.
type cloneRangeArgs struct {
	SrcFD      int64
	SrcOffset  uint64
	SrcLength  uint64
	DestOffset uint64
}

var ioctlCloneRange = ioctl.IOW(btrfsIoctlMagic, 13, unsafe.Sizeof(cloneRangeArgs{}))

// CloneRange shares a byte range of src into dst via BTRFS_IOC_CLONE_RANGE.
// Unused by the whole-file dedup path (§4.F) but exposed for callers that
// only need to dedup a sub-range (e.g. a future extent-aligned strategy).
func CloneRange(dst, src *os.File, srcOffset, length, dstOffset uint64) error {
	args := cloneRangeArgs{
		SrcFD:      int64(src.Fd()),
		SrcOffset:  srcOffset,
		SrcLength:  length,
		DestOffset: dstOffset,
	}
	if err := ioctl.Do(dst, ioctlCloneRange, &args); err != nil {
		return fmt.Errorf("BTRFS_IOC_CLONE_RANGE: %w", err)
	}
	return nil
}

// defragRangeArgs mirrors struct btrfs_ioctl_defrag_range_args.
type defragRangeArgs struct {
	Start        uint64
	Len          uint64
	Flags        uint64
	ExtentThresh uint32
	CompressType uint32
	Unused       [4]uint32
}

var ioctlDefragRange = ioctl.IOW(btrfsIoctlMagic, 16, unsafe.Sizeof(defragRangeArgs{}))

// DefragRangeStartIOFlag requests synchronous defrag (wait for I/O).
const DefragRangeStartIOFlag uint64 = 1 << 1

// DefragRange issues BTRFS_IOC_DEFRAG_RANGE over f's whole length. Used
// only as the optional pre-compare defrag step (§4.F); callers are
// responsible for not invoking it on kernels < 3.9 where defrag breaks
// existing sharing.
func DefragRange(f *os.File, length uint64) error {
	args := defragRangeArgs{
		Start: 0,
		Len:   length,
		Flags: DefragRangeStartIOFlag,
	}
	if err := ioctl.Do(f, ioctlDefragRange, &args); err != nil {
		return fmt.Errorf("BTRFS_IOC_DEFRAG_RANGE: %w", err)
	}
	return nil
}

// SameExtent is a documented extension point, not an implementation:
// spec.md's open question permits short-circuiting the immutable-bit dance
// on kernels exposing BTRFS_IOC_FILE_EXTENT_SAME, but doesn't mandate it.
// Wiring it up would need its variable-length request/response structs;
// left unimplemented rather than half-built.
func SameExtent(dst, src *os.File, length uint64) error {
	return fmt.Errorf("btrfsioctl: FILE_EXTENT_SAME not implemented, use Clone")
}
