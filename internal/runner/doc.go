// Package runner executes one job instance at a time: it walks the
// instance's steps strictly in order, evaluates each step's condition
// against the layered run/job/step context, invokes commands and built-in
// actions, and assembles the job-level outputs handed back to the
// scheduler. Step outputs stay inside the job; the only things that cross
// the job boundary are the terminal status and the declared outputs.
package runner
