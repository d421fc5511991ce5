// Package volume is the volume registry (spec §4.B component B): it
// resolves the CLI's volume references to a (fs_uuid, subvol_root_id)
// pair, upserts them into the state store, and selects the writable,
// mounted set for a pass.
package volume

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/btrdedup/btrdedup/pkg/btrfsioctl"
	"github.com/btrdedup/btrdedup/pkg/store"
	"github.com/btrdedup/btrdedup/pkg/store/queries"
	"github.com/dennwc/btrfs"
	"go.uber.org/fx"
)

var Module = fx.Module("volume",
	fx.Provide(New),
)

type Registry struct {
	store  *store.Store
	logger *slog.Logger
}

func New(st *store.Store, logger *slog.Logger) *Registry {
	return &Registry{store: st, logger: logger.With("component", "volume")}
}

// Ref identifies one subvolume to operate on, resolved from whatever form
// the caller supplied on the command line (spec §6: mount-point path,
// /dev/... block path, or filesystem UUID).
type Ref struct {
	FSUUID       string
	SubvolRootID uint64
	MountPath    string
	ReadOnly     bool
}

// Resolve turns one CLI argument into a Ref by opening it and querying the
// kernel. Paths under a mount point resolve to their containing
// subvolume; /dev paths and bare UUIDs are resolved via the mount table.
func Resolve(arg string) (*Ref, error) {
	path := arg
	if strings.HasPrefix(arg, "/dev/") {
		resolved, err := resolveDevicePath(arg)
		if err != nil {
			return nil, fmt.Errorf("resolve device %s: %w", arg, err)
		}
		path = resolved
	} else if looksLikeUUID(arg) {
		resolved, err := resolveUUID(arg)
		if err != nil {
			return nil, fmt.Errorf("resolve uuid %s: %w", arg, err)
		}
		path = resolved
	}

	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	info, err := btrfsioctl.GetFSInfo(f)
	if err != nil {
		return nil, fmt.Errorf("not a btrfs path: %w", err)
	}

	rootID, err := btrfsioctl.GetSubvolID(f)
	if err != nil {
		return nil, fmt.Errorf("resolve subvolume id: %w", err)
	}

	flags, err := btrfsioctl.SubvolGetFlags(f)
	if err != nil {
		return nil, fmt.Errorf("read subvolume flags: %w", err)
	}

	return &Ref{
		FSUUID:       info.UUID,
		SubvolRootID: rootID,
		MountPath:    path,
		ReadOnly:     flags&btrfsioctl.SubvolReadonlyFlag != 0,
	}, nil
}

// Select resolves each argument, upserts it into the registry, and returns
// the writable volumes eligible for this pass (read-only volumes are
// excluded: spec §4.G step 1, "writable, mounted volumes").
func (r *Registry) Select(args []string) ([]*queries.Volume, error) {
	var out []*queries.Volume
	for _, arg := range args {
		ref, err := Resolve(arg)
		if err != nil {
			r.logger.Warn("skipping unresolvable volume argument", "arg", arg, "error", err)
			continue
		}

		v, err := queries.UpsertVolume(r.store.Conn(), ref.FSUUID, ref.SubvolRootID, ref.MountPath, ref.ReadOnly)
		if err != nil {
			return nil, fmt.Errorf("register volume %s: %w", arg, err)
		}

		if v.ReadOnly || !v.TrackingEnabled {
			r.logger.Info("excluding volume from pass", "path", v.MountPath, "read_only", v.ReadOnly, "tracking_enabled", v.TrackingEnabled)
			continue
		}
		out = append(out, v)
	}
	return out, nil
}

// List returns every volume known to the registry, tracked or not —
// used by the `show` subcommand. It opportunistically refreshes the
// online flag for volumes that have vanished since the last pass; a
// vanished volume's records are retained so they're valid again once it
// remounts (spec §3 Volume).
func (r *Registry) List() ([]*queries.Volume, error) {
	vols, err := queries.ListVolumes(r.store.Conn())
	if err != nil {
		return nil, err
	}
	for _, v := range vols {
		if _, err := openFS(v.MountPath); err != nil {
			if v.Online {
				r.logger.Info("volume no longer reachable, marking offline", "path", v.MountPath, "error", err)
				if err := queries.MarkOffline(r.store.Conn(), v.ID); err != nil {
					r.logger.Error("failed to mark volume offline", "error", err)
				}
				v.Online = false
			}
		}
	}
	return vols, nil
}

func looksLikeUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	for i, c := range s {
		if i == 8 || i == 13 || i == 18 || i == 23 {
			if c != '-' {
				return false
			}
			continue
		}
		if !strings.ContainsRune("0123456789abcdefABCDEF", c) {
			return false
		}
	}
	return true
}

// resolveDevicePath maps a block device path to its current mount point by
// reading /proc/self/mountinfo, mirroring how the teacher's device
// enumeration reads mount-table state from /proc rather than shelling out.
func resolveDevicePath(dev string) (string, error) {
	f, err := os.Open("/proc/self/mountinfo")
	if err != nil {
		return "", err
	}
	defer f.Close()

	real, err := os.Readlink(dev)
	if err != nil {
		real = dev
	} else if !strings.HasPrefix(real, "/") {
		real = "/dev/" + real
	}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		// mountinfo: ... mountpoint ... - fstype source options
		dashIdx := -1
		for i, fld := range fields {
			if fld == "-" {
				dashIdx = i
				break
			}
		}
		if dashIdx < 0 || dashIdx+2 >= len(fields) {
			continue
		}
		fstype := fields[dashIdx+1]
		source := fields[dashIdx+2]
		if fstype != "btrfs" {
			continue
		}
		if source == real || source == dev || strings.HasPrefix(source, real+"/") {
			return fields[4], nil
		}
	}
	return "", fmt.Errorf("no btrfs mount found for %s", dev)
}

// resolveUUID maps a filesystem UUID to one of its mount points by
// scanning mountinfo's btrfs entries and matching via GetFSInfo.
func resolveUUID(uuid string) (string, error) {
	f, err := os.Open("/proc/self/mountinfo")
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		dashIdx := -1
		for i, fld := range fields {
			if fld == "-" {
				dashIdx = i
				break
			}
		}
		if dashIdx < 0 || dashIdx+1 >= len(fields) {
			continue
		}
		if fields[dashIdx+1] != "btrfs" {
			continue
		}
		mountPoint := fields[4]

		fh, err := os.OpenFile(mountPoint, os.O_RDONLY, 0)
		if err != nil {
			continue
		}
		info, err := btrfsioctl.GetFSInfo(fh)
		fh.Close()
		if err != nil {
			continue
		}
		if strings.EqualFold(info.UUID, uuid) {
			return mountPoint, nil
		}
	}
	return "", fmt.Errorf("no mounted btrfs filesystem with uuid %s", uuid)
}

// openFS is a thin indirection over dennwc/btrfs's higher-level handle,
// used where the full device/chunk enumeration it provides is cheaper than
// hand-rolling another TREE_SEARCH (e.g. confirming a path is still a live
// btrfs mount before a long pass).
func openFS(path string) (*btrfs.FS, error) {
	return btrfs.Open(path, true)
}
