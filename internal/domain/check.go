package domain

import "time"

// CheckSeverity is the severity attached to a failed check.
type CheckSeverity string

// Check severities.
const (
	CheckSeverityError CheckSeverity = "ERROR"
	CheckSeverityWarn  CheckSeverity = "WARN"
)

// CheckOutcome is the three-way classification of a check result.
type CheckOutcome string

// Check outcomes.
const (
	CheckOutcomePass CheckOutcome = "PASS"
	CheckOutcomeWarn CheckOutcome = "WARN"
	CheckOutcomeFail CheckOutcome = "FAIL"
)

// CheckResult is the value returned by an asset check. Failures are data,
// not errors, so callers can branch on them without aborting a run.
type CheckResult struct {
	Passed      bool
	Severity    CheckSeverity
	Description string
	Metadata    map[string]any
}

// Outcome classifies the result. A failed check with WARN severity is a
// warning; any other failure is FAIL.
func (r CheckResult) Outcome() CheckOutcome {
	switch {
	case r.Passed:
		return CheckOutcomePass
	case r.Severity == CheckSeverityWarn:
		return CheckOutcomeWarn
	default:
		return CheckOutcomeFail
	}
}

// CheckEvaluation is a recorded check result.
type CheckEvaluation struct {
	ID          string
	CheckName   string
	AssetKey    string
	RunID       string
	Outcome     CheckOutcome
	Severity    CheckSeverity
	Description string
	Metadata    map[string]any
	CreatedAt   time.Time
}
