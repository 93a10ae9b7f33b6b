package settings

import "time"

// AutomationEscalation is the run-record key for the dispute escalation engine.
const AutomationEscalation = "dispute_escalation"

// RunRecord is the logical singleton describing an automation's most recent
// run. Every run, dry or live, success or failure, overwrites it in place
// (last-writer-wins). Enabled and StaleAfterHours are operator settings: the
// runner reads them but never writes them.
type RunRecord struct {
	Automation           string
	LastRunAt            time.Time
	LastRunSuccess       bool
	LastRunDryRun        bool
	LastRunChecked       int
	LastRunEscalated     int
	LastRunWouldEscalate int
	LastRunSkipped       int
	LastRunError         *string
	Enabled              bool
	StaleAfterHours      int
}

// Failure is one entry in the bounded recent-failure list kept for display.
type Failure struct {
	ID         string
	Automation string
	Message    string
	OccurredAt time.Time
}
