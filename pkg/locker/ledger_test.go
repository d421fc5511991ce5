package locker

import "testing"

func TestLedgerRecordClear(t *testing.T) {
	l, err := OpenLedger(t.TempDir())
	if err != nil {
		t.Fatalf("OpenLedger failed: %v", err)
	}
	defer l.Close()

	if err := l.Record(1, 100); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := l.Record(1, 200); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	entries, err := l.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}

	if err := l.Clear(1, 100); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	entries, err = l.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry after clear, got %d", len(entries))
	}
	if entries[0].InodeNumber != 200 {
		t.Errorf("remaining entry InodeNumber = %d, want 200", entries[0].InodeNumber)
	}
}

func TestLedgerEmpty(t *testing.T) {
	l, err := OpenLedger(t.TempDir())
	if err != nil {
		t.Fatalf("OpenLedger failed: %v", err)
	}
	defer l.Close()

	entries, err := l.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty ledger, got %d entries", len(entries))
	}
}
