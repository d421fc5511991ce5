// Package queries holds the SQL-level operations against the state store's
// schema, kept free of any fx/logging concerns so they're easy to unit
// test against an in-memory sqlite connection.
package queries

import "database/sql"

// Volume is the registry's durable record of one (fs_uuid, subvol_root_id)
// pair, per spec §3.
type Volume struct {
	ID                    int64
	FSUUID                string
	SubvolRootID          uint64
	MountPath             string
	LastTrackedGeneration uint64
	LastTrackedSizeCutoff int64
	ReadOnly              bool
	TrackingEnabled       bool
	Online                bool
}

// UpsertVolume creates the volume if (fs_uuid, subvol_root_id) is unseen,
// or updates its mount path and online flag if it's remounted elsewhere.
// Re-mounting at a different path must not create a new record.
func UpsertVolume(db *sql.DB, fsUUID string, subvolRootID uint64, mountPath string, readOnly bool) (*Volume, error) {
	_, err := db.Exec(`
		INSERT INTO volumes (fs_uuid, subvol_root_id, mount_path, read_only, online, updated_at)
		VALUES (?, ?, ?, ?, 1, strftime('%s','now'))
		ON CONFLICT(fs_uuid, subvol_root_id) DO UPDATE SET
			mount_path = excluded.mount_path,
			read_only = excluded.read_only,
			online = 1,
			updated_at = strftime('%s','now')
	`, fsUUID, subvolRootID, mountPath, boolToInt(readOnly))
	if err != nil {
		return nil, err
	}
	return GetVolume(db, fsUUID, subvolRootID)
}

// GetVolume looks up a volume by its natural key.
func GetVolume(db *sql.DB, fsUUID string, subvolRootID uint64) (*Volume, error) {
	row := db.QueryRow(`
		SELECT id, fs_uuid, subvol_root_id, mount_path, last_tracked_generation,
		       last_tracked_size_cutoff, read_only, tracking_enabled, online
		FROM volumes WHERE fs_uuid = ? AND subvol_root_id = ?
	`, fsUUID, subvolRootID)
	return scanVolume(row)
}

// ListVolumes returns every registered volume, tracked or not.
func ListVolumes(db *sql.DB) ([]*Volume, error) {
	rows, err := db.Query(`
		SELECT id, fs_uuid, subvol_root_id, mount_path, last_tracked_generation,
		       last_tracked_size_cutoff, read_only, tracking_enabled, online
		FROM volumes ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Volume
	for rows.Next() {
		v, err := scanVolumeRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// MarkOffline flags a volume as no longer mounted. Its records are kept so
// they remain valid once it remounts.
func MarkOffline(db *sql.DB, volumeID int64) error {
	_, err := db.Exec(`UPDATE volumes SET online = 0, updated_at = strftime('%s','now') WHERE id = ?`, volumeID)
	return err
}

// AdvanceWatermark sets last_tracked_generation for a volume. Callers that
// also harvest inode records in the same pass must call this inside the
// same transaction as the record upserts (see inodes.go AdvanceScan).
func AdvanceWatermark(tx *sql.Tx, volumeID int64, newGeneration uint64) error {
	_, err := tx.Exec(`
		UPDATE volumes SET last_tracked_generation = ?, updated_at = strftime('%s','now')
		WHERE id = ?
	`, newGeneration, volumeID)
	return err
}

func scanVolume(row *sql.Row) (*Volume, error) {
	v := &Volume{}
	var readOnly, tracking, online int
	if err := row.Scan(&v.ID, &v.FSUUID, &v.SubvolRootID, &v.MountPath,
		&v.LastTrackedGeneration, &v.LastTrackedSizeCutoff, &readOnly, &tracking, &online); err != nil {
		return nil, err
	}
	v.ReadOnly = readOnly != 0
	v.TrackingEnabled = tracking != 0
	v.Online = online != 0
	return v, nil
}

func scanVolumeRows(rows *sql.Rows) (*Volume, error) {
	v := &Volume{}
	var readOnly, tracking, online int
	if err := rows.Scan(&v.ID, &v.FSUUID, &v.SubvolRootID, &v.MountPath,
		&v.LastTrackedGeneration, &v.LastTrackedSizeCutoff, &readOnly, &tracking, &online); err != nil {
		return nil, err
	}
	v.ReadOnly = readOnly != 0
	v.TrackingEnabled = tracking != 0
	v.Online = online != 0
	return v, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
