// Package locker implements the crash-safe locking protocol (spec §4.E
// component E): Btrfs has no atomic compare-and-clone, so before cloning we
// substitute for it by setting a file's immutable attribute, confirming no
// other process already has it open for writing, and only then handing the
// fd to the comparator/cloner. A pebble-backed ledger records every inode
// this process has set immutable, so files left immutable by a crash
// mid-pass are reported on the next run (spec §8 scenario 6) for the
// operator to clear by hand.
package locker

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble"
)

// Ledger is the durable record of inodes this process has set IMMUTABLE on
// but not yet reverted. It is deliberately a separate store from the sqlite
// state store: it must survive and be queryable even if the sqlite
// connection is the thing that's wedged.
type Ledger struct {
	db *pebble.DB
}

// OpenLedger opens (creating if absent) the pebble database backing the
// lock ledger at dir/locks.db.
func OpenLedger(dir string) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create lock ledger directory: %w", err)
	}
	db, err := pebble.Open(filepath.Join(dir, "locks.db"), &pebble.Options{
		Logger: &silentLogger{},
	})
	if err != nil {
		return nil, fmt.Errorf("open lock ledger: %w", err)
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

// Entry identifies one locked inode.
type Entry struct {
	VolumeID    int64
	InodeNumber uint64
}

func lockKey(volumeID int64, inodeNumber uint64) []byte {
	buf := make([]byte, 8+8)
	binary.BigEndian.PutUint64(buf[0:8], uint64(volumeID))
	binary.BigEndian.PutUint64(buf[8:16], inodeNumber)
	return buf
}

// Record notes that this process just set inodeNumber immutable, so a
// crash before Clear is called leaves a trace for the next run to find.
func (l *Ledger) Record(volumeID int64, inodeNumber uint64) error {
	return l.db.Set(lockKey(volumeID, inodeNumber), []byte{1}, pebble.Sync)
}

// Clear removes the ledger entry once the immutable bit has been reverted.
func (l *Ledger) Clear(volumeID int64, inodeNumber uint64) error {
	return l.db.Delete(lockKey(volumeID, inodeNumber), pebble.Sync)
}

// List returns every entry still in the ledger — inodes that, as far as
// this process's bookkeeping goes, may still be stuck IMMUTABLE from an
// interrupted pass.
func (l *Ledger) List() ([]Entry, error) {
	iter, err := l.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []Entry
	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		if len(key) != 16 {
			continue
		}
		out = append(out, Entry{
			VolumeID:    int64(binary.BigEndian.Uint64(key[0:8])),
			InodeNumber: binary.BigEndian.Uint64(key[8:16]),
		})
	}
	return out, iter.Error()
}

// silentLogger suppresses pebble's background info logs.
type silentLogger struct{}

func (l *silentLogger) Infof(format string, args ...interface{})  {}
func (l *silentLogger) Errorf(format string, args ...interface{}) {}
func (l *silentLogger) Fatalf(format string, args ...interface{}) {}
