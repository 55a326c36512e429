package cache

import (
	"fmt"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// HashKey derives a cache key segment from literal parts and the contents
// of the named files, in order. Typical use: a tool version string plus a
// dependency lock file. The digest is truncated for readable keys; 64 bits
// is plenty for a namespace a human also scopes with a prefix.
func HashKey(parts []string, files []string) (string, error) {
	h := blake3.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	for _, name := range files {
		f, err := os.Open(name)
		if err != nil {
			return "", fmt.Errorf("hashing cache input %q: %w", name, err)
		}
		if _, err := io.Copy(h, f); err != nil {
			f.Close()
			return "", fmt.Errorf("hashing cache input %q: %w", name, err)
		}
		f.Close()
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil)[:8]), nil
}
