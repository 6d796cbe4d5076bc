package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// ebmlMagic opens every Matroska container; sample files carry it so they
// look like real media to anything that sniffs headers.
var ebmlMagic = []byte{0x1a, 0x45, 0xdf, 0xa3}

// WriteFile creates a fake media file of the given size, parent directories
// included. The payload is deterministic so copy tests can compare source and
// destination byte for byte. A size below one still produces a non-empty
// file.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, mediaPayload(size), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func mediaPayload(size int64) []byte {
	if size < 1 {
		size = 1
	}
	buf := make([]byte, size)
	n := copy(buf, ebmlMagic)
	for i := n; i < len(buf); i++ {
		buf[i] = byte(i * 31)
	}
	return buf
}
