// Package scheduler builds the dependency graph of expanded job instances
// and executes it with a worker pool. Cross-job ordering is exactly the
// partial order induced by `needs` edges; instances with no dependency
// relation run concurrently. Failure of a dependency skips its dependents
// transitively, and an optional run-level fail-fast cancels everything
// still pending after the first failure.
package scheduler
