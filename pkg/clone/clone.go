package clone

import (
	"fmt"
	"io"
	"os"

	"github.com/btrdedup/btrdedup/pkg/btrfsioctl"
	"github.com/btrdedup/btrdedup/pkg/extentmap"
	"github.com/btrdedup/btrdedup/pkg/index"
	"github.com/btrdedup/btrdedup/pkg/outcome"
	"golang.org/x/sys/unix"
)

// Options controls how a class is collapsed.
type Options struct {
	NoCrossVol bool // refuse to clone across distinct volumes (spec §6 --no-crossvol)
	Defrag     bool // DEFRAG_RANGE the target before cloning, to compact fragmented extents first
}

// Target pairs an index.Member with the locked, read-only fd the comparator
// and cloner will read and clone through.
type Target struct {
	Member index.Member
	File   *os.File
}

// Result is the per-member outcome of a DedupClass run. Verified is true for
// the reference of an equality sub-class of >=2 and for each member that was
// cloned onto it or already shared its extents; a member whose clone failed
// or was refused is not Verified. The orchestrator advances
// last_compared_generation only for Verified members, so a lone Mismatch
// stays eligible to pair against a future sibling.
type Result struct {
	Member   index.Member
	Kind     outcome.Kind
	Err      error
	Verified bool
}

// DedupClass reduces a same-size class to its equality sub-classes (spec
// §4.G step 4): each candidate is compared against the reference of every
// sub-class formed so far, joining the first one it matches or starting a
// new one if it matches none. Within each sub-class of >=2, every member
// but the first (canonical order) is cloned onto the first.
//
// Comparison failures against one reference don't eliminate a candidate —
// Mismatch only sticks if it fails against every reference tried.
func DedupClass(targets []Target, size int64, opts Options) []Result {
	if len(targets) < 2 {
		return nil
	}

	type subclass struct {
		rep     Target
		members []Target
	}
	var subclasses []*subclass

	for _, t := range targets {
		placed := false
		for _, sc := range subclasses {
			equal, err := compareRewind(sc.rep.File, t.File, size)
			if err != nil {
				continue
			}
			if equal {
				sc.members = append(sc.members, t)
				placed = true
				break
			}
		}
		if !placed {
			subclasses = append(subclasses, &subclass{rep: t})
		}
	}

	var results []Result
	for _, sc := range subclasses {
		if len(sc.members) == 0 {
			results = append(results, Result{Member: sc.rep.Member, Kind: outcome.Mismatch,
				Err: fmt.Errorf("%s did not match any other same-size candidate", sc.rep.Member.FullPath())})
			continue
		}

		results = append(results, Result{Member: sc.rep.Member, Kind: outcome.OK, Verified: true})
		for _, m := range sc.members {
			results = append(results, cloneOnto(sc.rep, m, size, opts))
		}
	}

	return results
}

func compareRewind(a, b *os.File, size int64) (bool, error) {
	if _, err := a.Seek(0, io.SeekStart); err != nil {
		return false, err
	}
	if _, err := b.Seek(0, io.SeekStart); err != nil {
		return false, err
	}
	return CompareBytes(a, b, size)
}

// cloneOnto makes tgt share src's extents (spec §4.F): the destination
// must be reopened read-write and have its immutable bit cleared for the
// duration of the ioctl only — the bit is an inode-level attribute, so
// clearing and resetting it through this second fd is consistent with the
// read-only fd the locker still holds open for tgt.
func cloneOnto(src, tgt Target, size int64, opts Options) Result {
	if opts.NoCrossVol && tgt.Member.VolumeID != src.Member.VolumeID {
		return Result{Member: tgt.Member, Kind: outcome.Unsupported,
			Err: fmt.Errorf("cross-volume clone disabled by --no-crossvol")}
	}

	if srcExtents, err := extentmap.Of(src.File, size); err == nil {
		if tgtExtents, err := extentmap.Of(tgt.File, size); err == nil {
			if extentmap.SamePhysicalLayout(srcExtents, tgtExtents) {
				return Result{Member: tgt.Member, Kind: outcome.OK, Verified: true}
			}
		}
	}

	path := tgt.Member.FullPath()
	rw, err := os.OpenFile(path, os.O_RDWR|unix.O_NOFOLLOW, 0)
	if err != nil {
		return Result{Member: tgt.Member, Kind: btrfsioctl.Classify(err), Err: fmt.Errorf("reopen %s read-write: %w", path, err)}
	}
	defer rw.Close()

	if err := btrfsioctl.SetImmutable(rw, false); err != nil {
		return Result{Member: tgt.Member, Kind: btrfsioctl.Classify(err), Err: fmt.Errorf("clear immutable on %s: %w", path, err)}
	}
	defer btrfsioctl.SetImmutable(rw, true)

	if opts.Defrag {
		// Defrag is an optimization, not a correctness requirement: a
		// failure here doesn't stop the clone attempt below.
		_ = btrfsioctl.DefragRange(rw, uint64(size))
	}

	if err := btrfsioctl.Clone(rw, src.File); err != nil {
		return Result{Member: tgt.Member, Kind: btrfsioctl.Classify(err), Err: err}
	}

	return Result{Member: tgt.Member, Kind: outcome.OK, Verified: true}
}
