package settings

import "time"

// Verdict is the coarse health status consumed by monitoring.
type Verdict string

const (
	VerdictHealthy  Verdict = "healthy"
	VerdictWarning  Verdict = "warning"
	VerdictError    Verdict = "error"
	VerdictDisabled Verdict = "disabled"
)

// HealthInput carries the fields the classifier inspects.
type HealthInput struct {
	Enabled         bool
	LastRunSuccess  bool
	LastRunAt       time.Time
	StaleAfterHours int
}

// ClassifyHealth maps last-run metadata to a verdict. A disabled automation is
// disabled no matter what; a failed run reports error regardless of recency;
// a successful run older than the staleness budget is a warning. Failure and
// staleness are independent axes and failure dominates.
func ClassifyHealth(in HealthInput, now time.Time) Verdict {
	if !in.Enabled {
		return VerdictDisabled
	}
	if !in.LastRunSuccess {
		return VerdictError
	}
	if now.Sub(in.LastRunAt) > time.Duration(in.StaleAfterHours)*time.Hour {
		return VerdictWarning
	}
	return VerdictHealthy
}
