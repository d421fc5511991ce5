// Package index builds the same-size equivalence classes the clone stage
// compares (spec §4.D component D). Grouping itself is a SQL predicate
// (queries.GroupBySize); this package resolves each grouped inode number
// back to a concrete path via INO_LOOKUP so the comparator has something to
// open.
package index

import (
	"database/sql"
	"os"
	"path/filepath"
	"sort"

	"github.com/btrdedup/btrdedup/pkg/btrfsioctl"
	"github.com/btrdedup/btrdedup/pkg/store/queries"
)

// Member is one file's place within a Class: enough to open, compare, and
// (if chosen as the dedup source or target) clone. Size/MtimeUnix are the
// values the index was built from (as of the last scan), not a fresh stat —
// the locker rechecks against these to catch any write that raced ahead of
// the scan-to-lock window (spec §4.E step 4).
type Member struct {
	VolumeID               int64
	InodeNumber            uint64
	MountPath              string
	RelPath                string
	Size                   int64
	MtimeUnix              int64
	Generation             uint64
	LastComparedGeneration uint64
}

// FullPath is the member's absolute path, reconstructed from its subvolume
// mount point and the path INO_LOOKUP resolved within it.
func (m Member) FullPath() string {
	return filepath.Join(m.MountPath, m.RelPath)
}

// Class is one same-size equivalence class: candidate files that might be
// byte-identical and so clone-safe to collapse onto shared extents.
type Class struct {
	Size    int64
	Members []Member
}

// Build groups every selected volume's eligible inode records by size and
// resolves each member's current path. openFDs must hold one read-only fd
// per volume id, keyed the same as vols; they are used only for INO_LOOKUP
// here, and the orchestrator owns their lifetime.
func Build(db *sql.DB, vols []*queries.Volume, openFDs map[int64]*os.File, minSize int64) ([]Class, error) {
	volByID := make(map[int64]*queries.Volume, len(vols))
	ids := make([]int64, 0, len(vols))
	for _, v := range vols {
		volByID[v.ID] = v
		ids = append(ids, v.ID)
	}

	bySize, err := queries.GroupBySize(db, ids, minSize)
	if err != nil {
		return nil, err
	}

	classes := make([]Class, 0, len(bySize))
	for size, records := range bySize {
		members := make([]Member, 0, len(records))
		for _, r := range records {
			v := volByID[r.VolumeID]
			fd := openFDs[r.VolumeID]
			if v == nil || fd == nil {
				continue
			}

			relPath, err := btrfsioctl.InoLookup(fd, v.SubvolRootID, r.InodeNumber)
			if err != nil {
				// Vanished between scan and index build; the comparator's
				// own stat/open will hit and classify the same failure for
				// any record that did resolve, so we simply drop it here.
				continue
			}

			members = append(members, Member{
				VolumeID:               r.VolumeID,
				InodeNumber:            r.InodeNumber,
				MountPath:              v.MountPath,
				RelPath:                relPath,
				Size:                   r.Size,
				MtimeUnix:              r.MtimeUnix,
				Generation:             r.Generation,
				LastComparedGeneration: r.LastComparedGeneration,
			})
		}
		if len(members) < 2 {
			continue
		}
		classes = append(classes, Class{Size: size, Members: members})
	}

	sort.Slice(classes, func(i, j int) bool { return classes[i].Size < classes[j].Size })
	return classes, nil
}
