package scanner

import "testing"

func makeInodeItem(transid, size uint64, mode uint32, flags uint64, mtime int64) []byte {
	buf := make([]byte, inodeItemMinLen)
	putU64 := func(off int, v uint64) {
		for i := 0; i < 8; i++ {
			buf[off+i] = byte(v >> (8 * i))
		}
	}
	putU32 := func(off int, v uint32) {
		for i := 0; i < 4; i++ {
			buf[off+i] = byte(v >> (8 * i))
		}
	}
	putU64(offTransid, transid)
	putU64(offSize, size)
	putU32(offMode, mode)
	putU64(offFlags, flags)
	putU64(offMtime, uint64(mtime))
	return buf
}

func TestParseInodeItem(t *testing.T) {
	data := makeInodeItem(42, 65536, sIFREG|0644, 0, 1700000000)

	item, ok := parseInodeItem(data)
	if !ok {
		t.Fatalf("parseInodeItem returned ok=false")
	}
	if item.Transid != 42 {
		t.Errorf("Transid = %d, want 42", item.Transid)
	}
	if item.Size != 65536 {
		t.Errorf("Size = %d, want 65536", item.Size)
	}
	if !item.isRegular() {
		t.Error("expected isRegular() true for S_IFREG mode")
	}
	if item.excludedByFlags() {
		t.Error("expected excludedByFlags() false with no flags set")
	}
}

func TestParseInodeItemTooShort(t *testing.T) {
	if _, ok := parseInodeItem(make([]byte, 16)); ok {
		t.Error("expected ok=false for undersized buffer")
	}
}

func TestIsRegular(t *testing.T) {
	tests := []struct {
		name string
		mode uint32
		want bool
	}{
		{"regular file", sIFREG | 0644, true},
		{"directory", 0o040000 | 0755, false},
		{"symlink", 0o120000 | 0777, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item, ok := parseInodeItem(makeInodeItem(1, 0, tt.mode, 0, 0))
			if !ok {
				t.Fatalf("parseInodeItem failed")
			}
			if got := item.isRegular(); got != tt.want {
				t.Errorf("isRegular() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExcludedByFlags(t *testing.T) {
	tests := []struct {
		name  string
		flags uint64
		want  bool
	}{
		{"no flags", 0, false},
		{"nodatasum", inodeNoDataSum, true},
		{"nodatacow", inodeNoDataCow, true},
		{"both", inodeNoDataSum | inodeNoDataCow, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item, ok := parseInodeItem(makeInodeItem(1, 0, sIFREG, tt.flags, 0))
			if !ok {
				t.Fatalf("parseInodeItem failed")
			}
			if got := item.excludedByFlags(); got != tt.want {
				t.Errorf("excludedByFlags() = %v, want %v", got, tt.want)
			}
		})
	}
}
