package btrfsioctl

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/dennwc/ioctl"
)

// fsInfoArgs mirrors struct btrfs_ioctl_fs_info_args.
type fsInfoArgs struct {
	MaxID          uint64
	NumDevices     uint64
	FSID           [16]byte
	NodeSize       uint32
	SectorSize     uint32
	CloneAlignment uint32
	CsumType       uint16
	CsumSize       uint16
	Flags          uint64
	Generation     uint64
	MetadataUUID   [16]byte
	Reserved       [944]byte
}

var ioctlFsInfo = ioctl.IOR(btrfsIoctlMagic, 31, unsafe.Sizeof(fsInfoArgs{}))

// FSInfoFlagGeneration is BTRFS_FS_INFO_FLAG_GENERATION: without it set on
// the request, the kernel leaves args.Generation at 0 instead of filling in
// the filesystem's current transaction id.
const FSInfoFlagGeneration uint64 = 1 << 0

// FSInfo is the subset of BTRFS_IOC_FS_INFO the scanner and volume registry
// need: the filesystem UUID and its current transaction id.
type FSInfo struct {
	UUID       string
	Generation uint64
}

// GetFSInfo issues BTRFS_IOC_FS_INFO on f. Generation is the filesystem's
// *current* transaction id at the moment of the call — the scanner uses
// this, not the max generation it observes among changed inodes, as the
// watermark to commit (any write ordered after this snapshot is still >=
// the watermark and so visible on the next pass).
func GetFSInfo(f *os.File) (*FSInfo, error) {
	args := fsInfoArgs{Flags: FSInfoFlagGeneration}
	if err := ioctl.Do(f, ioctlFsInfo, &args); err != nil {
		return nil, fmt.Errorf("FS_INFO ioctl: %w", err)
	}
	return &FSInfo{
		UUID:       formatUUID(args.FSID),
		Generation: args.Generation,
	}, nil
}

func formatUUID(u [16]byte) string {
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%012x",
		uint32(u[0])<<24|uint32(u[1])<<16|uint32(u[2])<<8|uint32(u[3]),
		uint16(u[4])<<8|uint16(u[5]),
		uint16(u[6])<<8|uint16(u[7]),
		uint16(u[8])<<8|uint16(u[9]),
		u[10:16])
}
