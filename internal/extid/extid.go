// Package extid computes the Chromium extension ID of an unpacked extension
// directory, which the native messaging manifest must list under
// allowed_origins.
package extid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
)

// Length is the number of characters in an extension ID.
const Length = 32

// FromPath returns the ID Chromium assigns to an extension loaded from
// path. The path is made absolute and symlinks are resolved first, as the
// browser does.
func FromPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	return FromResolvedPath(resolved), nil
}

// FromResolvedPath hashes an already canonical path.
func FromResolvedPath(path string) string {
	sum := sha256.Sum256([]byte(path))
	digits := hex.EncodeToString(sum[:])[:Length]

	id := make([]byte, Length)
	for i := 0; i < Length; i++ {
		d := digits[i]
		if d >= 'a' {
			d = d - 'a' + 10
		} else {
			d -= '0'
		}
		id[i] = 'a' + d
	}
	return string(id)
}
