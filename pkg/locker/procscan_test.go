package locker

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestIsWriteCapable(t *testing.T) {
	tests := []struct {
		name  string
		flags int
		want  bool
	}{
		{"O_RDONLY", 0x0, false},
		{"O_WRONLY", 0x1, true},
		{"O_RDWR", 0x2, true},
		{"O_RDONLY with extra bits", 0x80000, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isWriteCapable(tt.flags); got != tt.want {
				t.Errorf("isWriteCapable(%#o) = %v, want %v", tt.flags, got, tt.want)
			}
		})
	}
}

func TestDevMatches(t *testing.T) {
	dev := unix.Mkdev(8, 1)
	tests := []struct {
		name   string
		majMin string
		want   bool
	}{
		{"matching", "08:01", true},
		{"mismatched minor", "08:02", false},
		{"mismatched major", "09:01", false},
		{"malformed", "nope", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := devMatches(tt.majMin, dev); got != tt.want {
				t.Errorf("devMatches(%q) = %v, want %v", tt.majMin, got, tt.want)
			}
		})
	}
}
