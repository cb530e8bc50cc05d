// Package hashutil computes the content hash the remote asset service reports
// for uploaded files: xxh64 rendered as 16 lowercase hex digits.
package hashutil

import (
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
)

// ChunkSize is the read size used when streaming a file through the hasher.
const ChunkSize = 1 << 20

// File hashes the file at path.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	return Reader(f)
}

// Reader hashes everything read from r.
func Reader(r io.Reader) (string, error) {
	h := xxhash.New()
	buf := make([]byte, ChunkSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", fmt.Errorf("hash: %w", err)
	}
	return Format(h.Sum64()), nil
}

// Format renders a raw xxh64 sum.
func Format(sum uint64) string {
	return fmt.Sprintf("%016x", sum)
}
