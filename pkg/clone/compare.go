// Package clone is the comparator and cloner (spec §4.F component F): it
// confirms two same-size candidates are byte-identical, then collapses the
// duplicate onto the first file's extents via BTRFS_IOC_CLONE.
package clone

import (
	"bytes"
	"io"
	"os"
)

const compareChunkSize = 128 * 1024

// CompareBytes reports whether a and b, both read from their current
// offset, contain size identical bytes. It always reads exactly size bytes
// from each (or fails trying), leaving both files positioned at size on a
// true result.
func CompareBytes(a, b *os.File, size int64) (bool, error) {
	bufA := make([]byte, compareChunkSize)
	bufB := make([]byte, compareChunkSize)

	var read int64
	for read < size {
		n := compareChunkSize
		if remaining := size - read; remaining < int64(n) {
			n = int(remaining)
		}
		if _, err := io.ReadFull(a, bufA[:n]); err != nil {
			return false, err
		}
		if _, err := io.ReadFull(b, bufB[:n]); err != nil {
			return false, err
		}
		if !bytes.Equal(bufA[:n], bufB[:n]) {
			return false, nil
		}
		read += int64(n)
	}
	return true, nil
}
