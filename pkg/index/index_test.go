package index

import "testing"

func TestMemberFullPath(t *testing.T) {
	tests := []struct {
		name      string
		mountPath string
		relPath   string
		want      string
	}{
		{"simple", "/mnt/data", "foo/bar.txt", "/mnt/data/foo/bar.txt"},
		{"root relpath", "/mnt/data", "/", "/mnt/data"},
		{"nested mount", "/srv/pool/vol1", "a/b/c.bin", "/srv/pool/vol1/a/b/c.bin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Member{MountPath: tt.mountPath, RelPath: tt.relPath}
			if got := m.FullPath(); got != tt.want {
				t.Errorf("FullPath() = %q, want %q", got, tt.want)
			}
		})
	}
}
