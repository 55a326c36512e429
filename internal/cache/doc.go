// Package cache provides restore/save of dependency caches around a job's
// setup phase. Caching is a performance optimization, never a correctness
// dependency: any backend error degrades to a cold start, and saving an
// already-existing key is a no-op.
package cache
