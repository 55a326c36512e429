package actions

import (
	"context"
	"path/filepath"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/conveyorgo/internal/cache"
)

// cacheInput is the `with` block of a `uses = "cache"` step.
type cacheInput struct {
	// Key is the literal part of the cache key.
	Key string `hcl:"key"`
	// Paths are the workspace-relative paths the cache covers.
	Paths []string `hcl:"paths"`
	// HashFiles, when set, appends a content digest of the named files to
	// the key, so the cache turns over with the lock file.
	HashFiles []string `hcl:"hash_files,optional"`
	// RestorePrefixes are fallback key prefixes tried on a miss.
	RestorePrefixes []string `hcl:"restore_prefixes,optional"`
}

// cacheAction restores a cache entry at its step position and defers the
// matching save to the end of a successful job.
func cacheAction() *Action {
	return &Action{
		Name:     "cache",
		NewInput: func() any { return new(cacheInput) },
		Fn: func(ctx context.Context, sc *StepContext, input any) (map[string]cty.Value, error) {
			in := input.(*cacheInput)

			key := in.Key
			if len(in.HashFiles) > 0 {
				files := make([]string, len(in.HashFiles))
				for i, f := range in.HashFiles {
					files[i] = filepath.Join(sc.WorkDir, f)
				}
				digest, err := cache.HashKey(nil, files)
				if err != nil {
					return nil, err
				}
				key = key + "-" + digest
			}

			matched, hit := sc.Caches.Restore(ctx, key, in.RestorePrefixes, sc.WorkDir)
			sc.DeferCacheSave(cache.SaveRequest{Key: key, Paths: in.Paths})

			return map[string]cty.Value{
				"cache_hit":   cty.BoolVal(hit),
				"key":         cty.StringVal(key),
				"matched_key": cty.StringVal(matched),
			}, nil
		},
	}
}
