package settings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"disputeflow/dispute"
)

// RunRecordStore abstracts the repository reads the health surface needs.
type RunRecordStore interface {
	GetRunRecord(ctx context.Context, automation string) (RunRecord, error)
	ListRecentFailures(ctx context.Context, automation string) ([]Failure, error)
}

// CaseStats supplies the raw counters displayed alongside the verdict.
type CaseStats interface {
	ListCandidates(ctx context.Context) ([]dispute.Case, error)
	CountEscalatedSince(ctx context.Context, since time.Time) (int, error)
}

// Service assembles the health report consumed by the monitoring dashboard.
// It reads state; it never runs the automation.
type Service struct {
	runs  RunRecordStore
	cases CaseStats
	now   func() time.Time
}

func NewService(runs RunRecordStore, cases CaseStats) *Service {
	return &Service{
		runs:  runs,
		cases: cases,
		now:   time.Now,
	}
}

// WithClock overrides the clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// HealthReport is the monitoring view: the classifier's verdict plus the raw
// numbers behind it.
type HealthReport struct {
	Verdict          Verdict   `json:"verdict"`
	Enabled          bool      `json:"enabled"`
	LastRunAt        time.Time `json:"last_run_at"`
	LastRunSuccess   bool      `json:"last_run_success"`
	LastRunDryRun    bool      `json:"last_run_dry_run"`
	Checked          int       `json:"checked"`
	Escalated        int       `json:"escalated"`
	WouldEscalate    int       `json:"would_escalate"`
	Skipped          int       `json:"skipped"`
	LastRunError     string    `json:"last_run_error,omitempty"`
	EligibleNow      int       `json:"eligible_now"`
	EscalatedLast24h int       `json:"escalated_last_24h"`
	RecentFailures   []Failure `json:"recent_failures,omitempty"`
}

// Health builds the report for one automation. A missing run record (never
// run yet) reports error: the automation is configured but has produced no
// evidence of life.
func (s *Service) Health(ctx context.Context, automation string) (HealthReport, error) {
	now := s.now()

	rec, err := s.runs.GetRunRecord(ctx, automation)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return HealthReport{Verdict: VerdictError, Enabled: true}, nil
		}
		return HealthReport{}, err
	}

	report := HealthReport{
		Verdict: ClassifyHealth(HealthInput{
			Enabled:         rec.Enabled,
			LastRunSuccess:  rec.LastRunSuccess,
			LastRunAt:       rec.LastRunAt,
			StaleAfterHours: rec.StaleAfterHours,
		}, now),
		Enabled:        rec.Enabled,
		LastRunAt:      rec.LastRunAt,
		LastRunSuccess: rec.LastRunSuccess,
		LastRunDryRun:  rec.LastRunDryRun,
		Checked:        rec.LastRunChecked,
		Escalated:      rec.LastRunEscalated,
		WouldEscalate:  rec.LastRunWouldEscalate,
		Skipped:        rec.LastRunSkipped,
	}
	if rec.LastRunError != nil {
		report.LastRunError = *rec.LastRunError
	}

	candidates, err := s.cases.ListCandidates(ctx)
	if err != nil {
		return HealthReport{}, fmt.Errorf("settings: count eligible: %w", err)
	}
	for _, c := range candidates {
		if _, ok := dispute.EligibleAt(c, now); ok {
			report.EligibleNow++
		}
	}

	escalated, err := s.cases.CountEscalatedSince(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return HealthReport{}, err
	}
	report.EscalatedLast24h = escalated

	failures, err := s.runs.ListRecentFailures(ctx, automation)
	if err != nil {
		return HealthReport{}, err
	}
	report.RecentFailures = failures

	return report, nil
}
