package locker

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// hasOpenWriters reports whether any process on the system currently holds
// a write-capable handle — an open fd or a writable mmap — on the inode
// identified by (ino, dev). This is userspace's substitute for a kernel
// exclusivity check: Btrfs has no equivalent of an O_EXCL for "nobody else
// has this open for write", so the sweep is done by hand over /proc.
func hasOpenWriters(ino uint64, dev uint64) (bool, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return false, fmt.Errorf("read /proc: %w", err)
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := strconv.Atoi(e.Name()); err != nil {
			continue
		}
		pid := e.Name()

		busy, err := pidHasWritableFD(pid, ino, dev)
		if err != nil {
			continue // process exited mid-sweep; not a writer anymore
		}
		if busy {
			return true, nil
		}

		if pidHasWritableMapping(pid, ino, dev) {
			return true, nil
		}
	}
	return false, nil
}

// pidHasWritableFD checks /proc/<pid>/fd for a descriptor pointing at
// (ino, dev) opened with a write-capable access mode, cross-referencing
// /proc/<pid>/fdinfo/<fd> for the actual open flags.
func pidHasWritableFD(pid string, ino uint64, dev uint64) (bool, error) {
	fdDir := filepath.Join("/proc", pid, "fd")
	entries, err := os.ReadDir(fdDir)
	if err != nil {
		return false, err
	}

	for _, e := range entries {
		fdPath := filepath.Join(fdDir, e.Name())
		var st unix.Stat_t
		if err := unix.Stat(fdPath, &st); err != nil {
			continue
		}
		if st.Ino != ino || uint64(st.Dev) != dev {
			continue
		}

		flags, err := readFdOpenFlags(filepath.Join("/proc", pid, "fdinfo", e.Name()))
		if err != nil {
			continue
		}
		if isWriteCapable(flags) {
			return true, nil
		}
	}
	return false, nil
}

// readFdOpenFlags parses the "flags:" line out of /proc/<pid>/fdinfo/<fd>,
// the octal open(2) flags the descriptor was created with.
func readFdOpenFlags(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if after, ok := strings.CutPrefix(line, "flags:"); ok {
			v, err := strconv.ParseInt(strings.TrimSpace(after), 8, 64)
			if err != nil {
				return 0, err
			}
			return int(v), nil
		}
	}
	return 0, fmt.Errorf("no flags line in %s", path)
}

func isWriteCapable(flags int) bool {
	accMode := flags & unix.O_ACCMODE
	return accMode == unix.O_WRONLY || accMode == unix.O_RDWR
}

// pidHasWritableMapping checks /proc/<pid>/maps for a writable (non
// copy-on-write-only... in practice shared-writable is what matters here)
// mapping backed by (ino, dev). A process can hold a file open read-only
// yet still write through an earlier shared mmap, which an fd-only sweep
// would miss.
func pidHasWritableMapping(pid string, ino uint64, dev uint64) bool {
	f, err := os.Open(filepath.Join("/proc", pid, "maps"))
	if err != nil {
		return false
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 {
			continue
		}
		perms := fields[1]
		if len(perms) < 4 || perms[1] != 'w' {
			continue
		}
		if perms[3] != 's' {
			// Private (copy-on-write) mappings never write back to the
			// file; only MAP_SHARED mappings threaten the clone.
			continue
		}

		mapDev := fields[3]
		mapIno, err := strconv.ParseUint(fields[4], 10, 64)
		if err != nil || mapIno != ino {
			continue
		}
		if devMatches(mapDev, dev) {
			return true
		}
	}
	return false
}

// devMatches compares /proc/.../maps's "major:minor" hex device field
// against the dev_t stat returned.
func devMatches(majMin string, dev uint64) bool {
	parts := strings.SplitN(majMin, ":", 2)
	if len(parts) != 2 {
		return false
	}
	maj, err1 := strconv.ParseUint(parts[0], 16, 32)
	min, err2 := strconv.ParseUint(parts[1], 16, 32)
	if err1 != nil || err2 != nil {
		return false
	}
	return unix.Mkdev(uint32(maj), uint32(min)) == dev
}
