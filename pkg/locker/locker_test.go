package locker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/btrdedup/btrdedup/pkg/outcome"
)

// TestAcquireDetectsIndexDrift exercises spec scenario 4: a file that was
// written to after it was indexed (but before the lock is acquired) must be
// rejected even though nothing races during the lock acquisition itself.
func TestAcquireDetectsIndexDrift(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	ledger, err := OpenLedger(t.TempDir())
	if err != nil {
		t.Fatalf("OpenLedger failed: %v", err)
	}
	defer ledger.Close()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}

	// Simulate a write that landed after the index was built: the size
	// Acquire is told to expect no longer matches what's on disk.
	staleSize := info.Size() + 1

	_, err = Acquire(ledger, 1, 1, path, staleSize, info.ModTime().Unix())
	if err == nil {
		t.Fatal("expected Acquire to fail on index/open drift, got nil error")
	}
	oe, ok := err.(*outcome.Error)
	if !ok {
		t.Fatalf("expected *outcome.Error, got %T: %v", err, err)
	}
	if oe.Kind != outcome.Changed {
		t.Errorf("Kind = %v, want Changed", oe.Kind)
	}

	entries, err := ledger.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no ledger entries after a rejected Acquire, got %d", len(entries))
	}
}

// TestAcquireDetectsMtimeDrift is the same scenario with size matching but
// mtime differing, which a mtime-less recheck would miss.
func TestAcquireDetectsMtimeDrift(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	ledger, err := OpenLedger(t.TempDir())
	if err != nil {
		t.Fatalf("OpenLedger failed: %v", err)
	}
	defer ledger.Close()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}

	_, err = Acquire(ledger, 1, 1, path, info.Size(), info.ModTime().Unix()-1)
	if err == nil {
		t.Fatal("expected Acquire to fail on mtime drift, got nil error")
	}
	oe, ok := err.(*outcome.Error)
	if !ok {
		t.Fatalf("expected *outcome.Error, got %T: %v", err, err)
	}
	if oe.Kind != outcome.Changed {
		t.Errorf("Kind = %v, want Changed", oe.Kind)
	}
}
