package organizer

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// libraryUnavailableErrors lists syscall errors that indicate the library
// filesystem is unavailable rather than the operation being invalid.
var libraryUnavailableErrors = []error{
	syscall.ENODEV,
	syscall.ENOTCONN,
	syscall.EHOSTDOWN,
	syscall.EHOSTUNREACH,
	syscall.ETIMEDOUT,
	syscall.EIO,
	syscall.ESTALE,
}

// isLibraryUnavailable checks whether an error indicates the library mount is
// unreachable.
func isLibraryUnavailable(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range libraryUnavailableErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// sanitizeSlug converts input to a lowercase alphanumeric slug with hyphens.
// Spaces, underscores, periods, and hyphens become hyphens. Other characters
// are dropped. maxLen of 0 means unlimited length.
func sanitizeSlug(input string, maxLen int) string {
	input = strings.ToLower(strings.TrimSpace(input))
	var slug strings.Builder
	lastHyphen := false
	for _, r := range input {
		if maxLen > 0 && slug.Len() >= maxLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			slug.WriteRune(r)
			lastHyphen = false
		case r == ' ' || r == '-' || r == '_' || r == '.':
			if !lastHyphen {
				slug.WriteRune('-')
				lastHyphen = true
			}
		}
	}
	return strings.Trim(slug.String(), "-")
}

// copyFile copies a file from src to dst, verifying both size and content
// hash.
func copyFile(src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}
	srcSize := srcInfo.Size()

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		_ = out.Close()
	}()

	// Hash source while reading, hash destination while writing
	srcHasher := sha256.New()
	dstHasher := sha256.New()
	tee := io.TeeReader(in, srcHasher)
	multi := io.MultiWriter(out, dstHasher)

	written, err := io.Copy(multi, tee)
	if err != nil {
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	if written != srcSize {
		_ = os.Remove(dst)
		return fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", srcSize, written)
	}

	if !bytes.Equal(srcHasher.Sum(nil), dstHasher.Sum(nil)) {
		_ = os.Remove(dst)
		return fmt.Errorf("copy hash mismatch: file corrupted during copy")
	}

	return nil
}
