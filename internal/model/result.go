package model

import "time"

// ExecutionResult is the terminal outcome of one controller run.
// Status is nil while the run is in flight and is written exactly once,
// immediately before the controller enters a terminal state.
type ExecutionResult struct {
	Status     *bool     `json:"status"`
	ErrorCount int       `json:"error_count"`
	Detail     string    `json:"detail"`
	Artifacts  []string  `json:"artifacts"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Passed reports whether the run reached Completed.
func (r ExecutionResult) Passed() bool {
	return r.Status != nil && *r.Status
}

// Terminal reports whether the result has been finalized.
func (r ExecutionResult) Terminal() bool {
	return r.Status != nil
}
