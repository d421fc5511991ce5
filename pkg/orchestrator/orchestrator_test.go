package orchestrator

import (
	"testing"

	"github.com/btrdedup/btrdedup/pkg/outcome"
)

func TestNewSummaryStartsEmpty(t *testing.T) {
	s := newSummary()
	if s.Counts == nil {
		t.Fatal("expected Counts to be initialized")
	}
	if len(s.Counts) != 0 {
		t.Errorf("expected empty Counts, got %d entries", len(s.Counts))
	}
	if s.ClassesSeen != 0 || s.VolumesScanned != 0 {
		t.Errorf("expected zero-valued counters, got %+v", s)
	}
	if s.RunID == "" {
		t.Error("expected RunID to be assigned")
	}
}

func TestNewSummaryRunIDsAreUnique(t *testing.T) {
	a := newSummary()
	b := newSummary()
	if a.RunID == b.RunID {
		t.Errorf("expected distinct RunIDs, got %q twice", a.RunID)
	}
}

func TestSummaryCountsAccumulate(t *testing.T) {
	s := newSummary()
	s.Counts[outcome.OK]++
	s.Counts[outcome.OK]++
	s.Counts[outcome.Mismatch]++

	if s.Counts[outcome.OK] != 2 {
		t.Errorf("OK count = %d, want 2", s.Counts[outcome.OK])
	}
	if s.Counts[outcome.Mismatch] != 1 {
		t.Errorf("Mismatch count = %d, want 1", s.Counts[outcome.Mismatch])
	}
	if s.Counts[outcome.Busy] != 0 {
		t.Errorf("Busy count = %d, want 0", s.Counts[outcome.Busy])
	}
}
