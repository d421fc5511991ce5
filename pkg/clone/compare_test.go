package clone

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, content []byte) *os.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestCompareBytesIdentical(t *testing.T) {
	content := make([]byte, 300*1024) // spans multiple 128KiB chunks
	for i := range content {
		content[i] = byte(i % 251)
	}
	a := writeTempFile(t, content)
	b := writeTempFile(t, content)

	equal, err := CompareBytes(a, b, int64(len(content)))
	if err != nil {
		t.Fatalf("CompareBytes failed: %v", err)
	}
	if !equal {
		t.Error("expected identical contents to compare equal")
	}
}

func TestCompareBytesDiffersAtEnd(t *testing.T) {
	a := writeTempFile(t, append(make([]byte, 200*1024), 'a'))
	b := writeTempFile(t, append(make([]byte, 200*1024), 'b'))

	equal, err := CompareBytes(a, b, 200*1024+1)
	if err != nil {
		t.Fatalf("CompareBytes failed: %v", err)
	}
	if equal {
		t.Error("expected differing trailing byte to compare unequal")
	}
}

func TestCompareBytesDiffersEarly(t *testing.T) {
	a := writeTempFile(t, []byte("hello world"))
	b := writeTempFile(t, []byte("hellx world"))

	equal, err := CompareBytes(a, b, 11)
	if err != nil {
		t.Fatalf("CompareBytes failed: %v", err)
	}
	if equal {
		t.Error("expected differing contents to compare unequal")
	}
}

func TestCompareBytesEmpty(t *testing.T) {
	a := writeTempFile(t, nil)
	b := writeTempFile(t, nil)

	equal, err := CompareBytes(a, b, 0)
	if err != nil {
		t.Fatalf("CompareBytes failed: %v", err)
	}
	if !equal {
		t.Error("expected two empty files to compare equal")
	}
}
