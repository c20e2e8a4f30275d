package domain

import "time"

// Run status constants.
const (
	RunStatusPending = "PENDING"
	RunStatusRunning = "RUNNING"
	RunStatusSuccess = "SUCCESS"
	RunStatusFailed  = "FAILED"

	UnitStatusSuccess = "SUCCESS"
	UnitStatusFailed  = "FAILED"
	UnitStatusSkipped = "SKIPPED"

	TriggerTypeManual    = "MANUAL"
	TriggerTypeScheduled = "SCHEDULED"
	TriggerTypeProxied   = "PROXIED"
)

// Run is one execution of a selection of asset definitions.
type Run struct {
	ID           string
	TriggerType  string
	PartitionKey *string
	Status       string
	StartedAt    time.Time
	FinishedAt   *time.Time
	Units        []UnitResult
}

// UnitResult is the outcome of one asset definition within a run.
type UnitResult struct {
	Name         string
	AssetKeys    []string
	Status       string
	ErrorMessage *string
	Checks       []CheckEvaluation
}

// Failed reports whether any unit failed.
func (r *Run) Failed() bool {
	for _, u := range r.Units {
		if u.Status == UnitStatusFailed {
			return true
		}
	}
	return false
}
