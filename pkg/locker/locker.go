package locker

import (
	"fmt"
	"os"

	"github.com/btrdedup/btrdedup/pkg/btrfsioctl"
	"github.com/btrdedup/btrdedup/pkg/outcome"
	"golang.org/x/sys/unix"
)

// Handle is a file locked against concurrent writes for the duration of a
// compare-and-clone. Release must be called once Acquire has returned a
// Handle; when Acquire fails it has already reverted everything itself and
// returns no Handle.
type Handle struct {
	f                   *os.File
	ledger              *Ledger
	volumeID            int64
	inodeNumber         uint64
	wasImmutableAlready bool
}

// File returns the underlying read-only fd, valid until Release.
func (h *Handle) File() *os.File { return h.f }

// Acquire opens path read-only, sets its immutable attribute (unless it was
// already immutable, in which case this process must not clear it on
// release), confirms no other process holds it open for writing, and
// rechecks the open file against indexSize/indexMtimeUnix — the size and
// mtime the candidate index was built from — so a write that lands between
// the scan and this lock (not just between open and stat-recheck here) is
// still caught (spec §4.E step 4). Any failure classifies via outcome.Kind
// and leaves nothing locked.
func Acquire(ledger *Ledger, volumeID int64, inodeNumber uint64, path string, indexSize, indexMtimeUnix int64) (*Handle, error) {
	f, err := os.OpenFile(path, os.O_RDONLY|unix.O_NOFOLLOW, 0)
	if err != nil {
		return nil, outcome.New(btrfsioctl.Classify(err), fmt.Errorf("open %s: %w", path, err))
	}

	var before unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &before); err != nil {
		f.Close()
		return nil, outcome.New(outcome.IoError, fmt.Errorf("fstat %s: %w", path, err))
	}
	if before.Size != indexSize || before.Mtim.Sec != indexMtimeUnix {
		f.Close()
		return nil, outcome.New(outcome.Changed, fmt.Errorf("%s changed since it was indexed", path))
	}

	alreadyImmutable, err := btrfsioctl.IsImmutable(f)
	if err != nil {
		f.Close()
		return nil, outcome.New(btrfsioctl.Classify(err), err)
	}

	if !alreadyImmutable {
		if err := btrfsioctl.SetImmutable(f, true); err != nil {
			f.Close()
			return nil, outcome.New(btrfsioctl.Classify(err), err)
		}
		if err := ledger.Record(volumeID, inodeNumber); err != nil {
			btrfsioctl.SetImmutable(f, false)
			f.Close()
			return nil, outcome.New(outcome.StoreError, err)
		}
	}

	h := &Handle{f: f, ledger: ledger, volumeID: volumeID, inodeNumber: inodeNumber, wasImmutableAlready: alreadyImmutable}

	busy, err := hasOpenWriters(before.Ino, uint64(before.Dev))
	if err != nil {
		// A failed sweep is treated conservatively as "can't confirm
		// safety" rather than silently proceeding.
		h.Release()
		return nil, outcome.New(outcome.IoError, fmt.Errorf("scan for writers of %s: %w", path, err))
	}
	if busy {
		h.Release()
		return nil, outcome.New(outcome.Busy, fmt.Errorf("%s has another open writer", path))
	}

	var after unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &after); err != nil {
		h.Release()
		return nil, outcome.New(outcome.IoError, fmt.Errorf("recheck fstat %s: %w", path, err))
	}
	if after.Ino != before.Ino || after.Mtim != before.Mtim || after.Size != before.Size {
		h.Release()
		return nil, outcome.New(outcome.Changed, fmt.Errorf("%s changed while acquiring lock", path))
	}

	return h, nil
}

// Release reverts the immutable attribute (unless this process found it
// already set) and closes the fd. Safe to call once; idempotent against
// the ledger even if called after a partial failure during Acquire.
func (h *Handle) Release() error {
	defer h.f.Close()
	if h.wasImmutableAlready {
		return nil
	}
	if err := btrfsioctl.SetImmutable(h.f, false); err != nil {
		return fmt.Errorf("revert immutable flag: %w", err)
	}
	return h.ledger.Clear(h.volumeID, h.inodeNumber)
}
