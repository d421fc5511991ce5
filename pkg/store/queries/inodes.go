package queries

import (
	"database/sql"
	"fmt"
)

// InodeRecord is keyed by (volume_id, inode_number); see spec §3.
type InodeRecord struct {
	VolumeID                int64
	InodeNumber             uint64
	Size                    int64
	MtimeUnix               int64
	Generation              uint64
	LastComparedGeneration  uint64
}

// ChangedInode is what the scanner emits for one changed regular-file
// inode; it becomes an InodeRecord once absorbed by AdvanceScan.
type ChangedInode struct {
	InodeNumber uint64
	Size        int64
	MtimeUnix   int64
	Generation  uint64
}

// AdvanceScan absorbs a batch of changed inodes and advances the volume's
// watermark as a single transaction, per the invariant that a volume's
// last_tracked_generation is never advanced past generations whose changes
// haven't yet landed in the inode-record table.
func AdvanceScan(db *sql.DB, volumeID int64, changed []ChangedInode, newWatermark uint64) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO inode_records (volume_id, inode_number, size, mtime_unix, generation, last_compared_generation)
		VALUES (?, ?, ?, ?, ?, 0)
		ON CONFLICT(volume_id, inode_number) DO UPDATE SET
			size = excluded.size,
			mtime_unix = excluded.mtime_unix,
			generation = excluded.generation
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range changed {
		if _, err := stmt.Exec(volumeID, c.InodeNumber, c.Size, c.MtimeUnix, c.Generation); err != nil {
			return fmt.Errorf("upsert inode %d: %w", c.InodeNumber, err)
		}
	}

	if err := AdvanceWatermark(tx, volumeID, newWatermark); err != nil {
		return err
	}

	return tx.Commit()
}

// DeleteInode removes a record the scanner has confirmed no longer exists.
func DeleteInode(db *sql.DB, volumeID int64, inodeNumber uint64) error {
	_, err := db.Exec(`DELETE FROM inode_records WHERE volume_id = ? AND inode_number = ?`, volumeID, inodeNumber)
	return err
}

// SetLastComparedGeneration marks an inode as having participated in a
// dedup pass at its current generation, so it won't be reconsidered until
// it changes again.
func SetLastComparedGeneration(db *sql.DB, volumeID int64, inodeNumber uint64, generation uint64) error {
	_, err := db.Exec(`
		UPDATE inode_records SET last_compared_generation = ?
		WHERE volume_id = ? AND inode_number = ?
	`, generation, volumeID, inodeNumber)
	return err
}

// ListForVolume returns every inode record for one volume, optionally
// restricted to size >= minSize.
func ListForVolume(db *sql.DB, volumeID int64, minSize int64) ([]InodeRecord, error) {
	rows, err := db.Query(`
		SELECT volume_id, inode_number, size, mtime_unix, generation, last_compared_generation
		FROM inode_records WHERE volume_id = ? AND size >= ?
		ORDER BY inode_number
	`, volumeID, minSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInodeRows(rows)
}

// GroupBySize returns same-size equivalence classes (size -> records) for
// the given set of volumes, excluding size 0 and singletons, per spec §3/§4.D.
// Only inodes not yet compared at their current generation are eligible —
// this is the clone-idempotence property (spec §8): an unmodified inode
// with last_compared_generation == generation never forms a class again.
func GroupBySize(db *sql.DB, volumeIDs []int64, minSize int64) (map[int64][]InodeRecord, error) {
	if len(volumeIDs) == 0 {
		return map[int64][]InodeRecord{}, nil
	}

	placeholders := ""
	args := make([]any, 0, len(volumeIDs)+1)
	for i, id := range volumeIDs {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args = append(args, id)
	}
	args = append(args, minSize)

	query := fmt.Sprintf(`
		SELECT volume_id, inode_number, size, mtime_unix, generation, last_compared_generation
		FROM inode_records
		WHERE volume_id IN (%s) AND size >= ? AND size > 0
		  AND generation > last_compared_generation
		ORDER BY volume_id, inode_number
	`, placeholders)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records, err := scanInodeRows(rows)
	if err != nil {
		return nil, err
	}

	bySize := make(map[int64][]InodeRecord)
	for _, r := range records {
		bySize[r.Size] = append(bySize[r.Size], r)
	}
	for size, group := range bySize {
		if len(group) < 2 {
			delete(bySize, size)
		}
	}
	return bySize, nil
}

func scanInodeRows(rows *sql.Rows) ([]InodeRecord, error) {
	var out []InodeRecord
	for rows.Next() {
		var r InodeRecord
		if err := rows.Scan(&r.VolumeID, &r.InodeNumber, &r.Size, &r.MtimeUnix, &r.Generation, &r.LastComparedGeneration); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
