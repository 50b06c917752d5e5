package models

import "time"

// RunStatus is the lifecycle state of a refresh run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// -----------------------------------------------------------------------------

// Terminal reports whether no further transition is allowed.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// MPhaseResult records one collector phase of a run.
type MPhaseResult struct {
	Completed      bool              `json:"completed"`
	SuccessCount   int               `json:"success_count"`
	ErrorCount     int               `json:"error_count"`
	DuplicateCount int               `json:"duplicate_count"`
	Error          *string           `json:"error"`
	EntityErrors   map[string]string `json:"entity_errors,omitempty"`
}

// -----------------------------------------------------------------------------

// Succeeded is true when the phase completed with no errors.
func (p *MPhaseResult) Succeeded() bool {
	return p != nil && p.Completed && p.ErrorCount == 0 && p.Error == nil
}

// MRefreshRun is the persisted run-status artifact of one pipeline invocation.
type MRefreshRun struct {
	RunID           string                   `json:"run_id"`
	AsOf            string                   `json:"as_of"`
	Status          RunStatus                `json:"status"`
	OverallSuccess  bool                     `json:"overall_success"`
	StartTime       time.Time                `json:"start_time"`
	EndTime         *time.Time               `json:"end_time"`
	DurationSeconds float64                  `json:"duration_seconds"`
	PhaseResults    map[string]*MPhaseResult `json:"phase_results"`
	MetricsComputed int                      `json:"metrics_computed"`
	IntegrityIssues []string                 `json:"integrity_issues,omitempty"`
	Error           *string                  `json:"error"`
}
