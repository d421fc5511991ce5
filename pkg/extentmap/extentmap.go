// Package extentmap reads a file's physical extent layout via the FIEMAP
// ioctl, grounded on the teacher's pkg/fragmap fragmentation scanner. The
// cloner uses it before a clone to skip a pair that already shares every
// extent (nothing to clone); the layout is not re-read after a clone.
package extentmap

import (
	"fmt"
	"os"
	"syscall"
	"unsafe"
)

const (
	fsIocFiemap = 0xc020660b

	fiemapFlagSync = 0x00000001

	fiemapExtentLast   = 0x00000001
	fiemapExtentShared = 0x00002000
)

type fiemapExtentRaw struct {
	Logical    uint64
	Physical   uint64
	Length     uint64
	Reserved64 [2]uint64
	Flags      uint32
	Reserved   [3]uint32
}

type fiemapRaw struct {
	Start         uint64
	Length        uint64
	Flags         uint32
	MappedExtents uint32
	ExtentCount   uint32
	Reserved      uint32
}

// Extent is one physically-contiguous run of a file.
type Extent struct {
	Logical  uint64
	Physical uint64
	Length   uint64
	Shared   bool
}

// Of returns f's extent layout via FIEMAP. size is the file's logical size;
// callers that already have it from fstat avoid a redundant stat.
func Of(f *os.File, size int64) ([]Extent, error) {
	if size == 0 {
		return nil, nil
	}

	var extents []Extent
	start := uint64(0)
	remaining := uint64(size)

	for {
		const maxExtents = 256
		bufSize := int(unsafe.Sizeof(fiemapRaw{})) + maxExtents*int(unsafe.Sizeof(fiemapExtentRaw{}))
		buf := make([]byte, bufSize)

		fm := (*fiemapRaw)(unsafe.Pointer(&buf[0]))
		fm.Start = start
		fm.Length = remaining
		fm.Flags = fiemapFlagSync
		fm.ExtentCount = maxExtents

		_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, f.Fd(), fsIocFiemap, uintptr(unsafe.Pointer(fm)))
		if errno != 0 {
			return nil, fmt.Errorf("FIEMAP: %w", errno)
		}
		if fm.MappedExtents == 0 {
			break
		}

		base := unsafe.Pointer(&buf[unsafe.Sizeof(fiemapRaw{})])
		last := false
		for i := uint32(0); i < fm.MappedExtents; i++ {
			raw := (*fiemapExtentRaw)(unsafe.Pointer(uintptr(base) + uintptr(i)*unsafe.Sizeof(fiemapExtentRaw{})))
			extents = append(extents, Extent{
				Logical:  raw.Logical,
				Physical: raw.Physical,
				Length:   raw.Length,
				Shared:   raw.Flags&fiemapExtentShared != 0,
			})
			if raw.Flags&fiemapExtentLast != 0 {
				last = true
			}
		}
		if last {
			break
		}

		tail := extents[len(extents)-1]
		start = tail.Logical + tail.Length
		if start >= uint64(size) {
			break
		}
		remaining = uint64(size) - start
	}

	return extents, nil
}

// SamePhysicalLayout reports whether a and b describe the same sequence of
// physical extents, meaning a clone would be a no-op.
func SamePhysicalLayout(a, b []Extent) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Physical != b[i].Physical || a[i].Length != b[i].Length {
			return false
		}
	}
	return true
}
