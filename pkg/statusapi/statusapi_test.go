package statusapi

import (
	"testing"

	"github.com/btrdedup/btrdedup/pkg/store/queries"
)

func TestToVolumeStatus(t *testing.T) {
	v := &queries.Volume{
		ID:                    1,
		FSUUID:                "abc-123",
		SubvolRootID:          256,
		MountPath:             "/mnt/data",
		LastTrackedGeneration: 42,
		ReadOnly:              false,
		TrackingEnabled:       true,
		Online:                true,
	}

	got := toVolumeStatus(v)
	if got.MountPath != v.MountPath {
		t.Errorf("MountPath = %q, want %q", got.MountPath, v.MountPath)
	}
	if got.LastTrackedGeneration != 42 {
		t.Errorf("LastTrackedGeneration = %d, want 42", got.LastTrackedGeneration)
	}
	if !got.Online || !got.TrackingEnabled || got.ReadOnly {
		t.Errorf("flags mismatch: %+v", got)
	}
}
