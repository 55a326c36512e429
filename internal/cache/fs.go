package cache

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FSBackend stores cache entries as directories under a root. An entry is
// visible only once its completion marker exists, so a crashed or
// cancelled save never surfaces as a partial hit.
type FSBackend struct {
	root string
}

const completeMarker = ".complete"

// NewFSBackend creates the backend, ensuring the root directory exists.
func NewFSBackend(root string) (*FSBackend, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache root: %w", err)
	}
	return &FSBackend{root: root}, nil
}

// Restore implements Backend. It tries the exact key first, then each
// fallback prefix, picking the lexically greatest matching entry.
func (b *FSBackend) Restore(ctx context.Context, key string, prefixes []string, destDir string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	candidates := []string{sanitizeKey(key)}
	entries, err := os.ReadDir(b.root)
	if err != nil {
		return "", false, err
	}
	for _, prefix := range prefixes {
		sp := sanitizeKey(prefix)
		var matches []string
		for _, e := range entries {
			if e.IsDir() && strings.HasPrefix(e.Name(), sp) {
				matches = append(matches, e.Name())
			}
		}
		sort.Sort(sort.Reverse(sort.StringSlice(matches)))
		candidates = append(candidates, matches...)
	}

	for _, name := range candidates {
		entryDir := filepath.Join(b.root, name)
		if _, err := os.Stat(filepath.Join(entryDir, completeMarker)); err != nil {
			continue
		}
		if err := copyTree(filepath.Join(entryDir, "payload"), destDir); err != nil {
			return "", false, fmt.Errorf("materializing cache entry %q: %w", name, err)
		}
		return name, true, nil
	}
	return "", false, nil
}

// Save implements Backend. The payload is staged into a temporary
// directory and renamed into place; an already-existing entry makes the
// save a no-op, which also settles races between concurrent jobs
// computing the same key.
func (b *FSBackend) Save(ctx context.Context, key string, srcDir string, paths []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entryDir := filepath.Join(b.root, sanitizeKey(key))
	if _, err := os.Stat(filepath.Join(entryDir, completeMarker)); err == nil {
		return nil
	}

	stage, err := os.MkdirTemp(b.root, ".staging-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(stage)

	payload := filepath.Join(stage, "payload")
	for _, rel := range paths {
		src := filepath.Join(srcDir, rel)
		dst := filepath.Join(payload, rel)
		info, err := os.Stat(src)
		if err != nil {
			return fmt.Errorf("cache path %q: %w", rel, err)
		}
		if info.IsDir() {
			if err := copyTree(src, dst); err != nil {
				return err
			}
		} else {
			if err := copyFile(src, dst, info.Mode()); err != nil {
				return err
			}
		}
	}
	if err := os.WriteFile(filepath.Join(stage, completeMarker), nil, 0o644); err != nil {
		return err
	}

	if err := os.Rename(stage, entryDir); err != nil {
		// A concurrent writer got there first; their entry is as good as ours.
		if _, statErr := os.Stat(filepath.Join(entryDir, completeMarker)); statErr == nil {
			return nil
		}
		return err
	}
	return nil
}

// sanitizeKey maps a cache key to a safe directory name while preserving
// prefix relationships.
func sanitizeKey(key string) string {
	var sb strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	return sb.String()
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(path, target, info.Mode())
	})
}

func copyFile(src, dst string, mode fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

var _ Backend = (*FSBackend)(nil)
