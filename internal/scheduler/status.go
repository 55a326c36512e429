package scheduler

// Status is the lifecycle state of a job instance.
type Status int32

const (
	Pending Status = iota
	Blocked
	Ready
	Running
	Succeeded
	Failed
	Skipped
	Cancelled
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Blocked:
		return "blocked"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	switch s {
	case Succeeded, Failed, Skipped, Cancelled:
		return true
	}
	return false
}

// severity orders terminal statuses for run-level aggregation:
// failed > cancelled > skipped > succeeded.
func severity(s Status) int {
	switch s {
	case Failed:
		return 3
	case Cancelled:
		return 2
	case Skipped:
		return 1
	default:
		return 0
	}
}

// Worse returns the more severe of two statuses.
func Worse(a, b Status) Status {
	if severity(b) > severity(a) {
		return b
	}
	return a
}
