package domain

import "time"

// RunStatus is the terminal state of one import run.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunEmpty     RunStatus = "empty"
	RunFailed    RunStatus = "failed"
	RunSkipped   RunStatus = "skipped"
)

// RunReport is the structured record produced for every import run.
type RunReport struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Status     RunStatus `json:"status"`
	Stage      Stage     `json:"stage,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Policy     string    `json:"policy,omitempty"`
	Fetched    int       `json:"fetched"`
	Parsed     int       `json:"parsed"`
	Rejected   int       `json:"rejected"`
	Fresh      int       `json:"fresh"`
	Events     int       `json:"events"`
}

// Duration returns how long the run took.
func (r RunReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
