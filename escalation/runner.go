package escalation

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"disputeflow/dispute"
	"disputeflow/settings"
)

// CaseStore is the slice of the dispute repository the runner depends on.
type CaseStore interface {
	ListCandidates(ctx context.Context) ([]dispute.Case, error)
	ApplyEscalation(ctx context.Context, c dispute.Case, plan dispute.Plan) error
}

// RunStore persists run metadata and the failure sink.
type RunStore interface {
	UpsertRunRecord(ctx context.Context, rec settings.RunRecord) error
	RecordFailure(ctx context.Context, automation, message string) error
}

// RunOptions selects between a live run and a dry-run preview.
type RunOptions struct {
	DryRun bool
}

// RunResult is the public outcome contract of one run.
type RunResult struct {
	Success       bool   `json:"success"`
	DryRun        bool   `json:"dry_run"`
	Checked       int    `json:"checked"`
	Escalated     int    `json:"escalated"`
	WouldEscalate int    `json:"would_escalate"`
	Skipped       int    `json:"skipped"`
	Error         string `json:"error,omitempty"`
}

// Runner drives one escalation sweep: query candidates, re-check eligibility,
// plan, apply (or simulate), record the run. Dry-run and live share everything
// up to the effect executor.
type Runner struct {
	cases       CaseStore
	runs        RunStore
	now         func() time.Time
	concurrency int
}

func NewRunner(cases CaseStore, runs RunStore) *Runner {
	return &Runner{
		cases:       cases,
		runs:        runs,
		now:         time.Now,
		concurrency: 4,
	}
}

// WithClock overrides the clock, for tests.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

// WithConcurrency bounds parallel per-case processing.
func (r *Runner) WithConcurrency(n int) *Runner {
	if n > 0 {
		r.concurrency = n
	}
	return r
}

// Run executes one sweep. It always returns a structured result; run-level
// failures surface as Success=false with the error text, never as a panic,
// and the run record write is attempted on every path.
func (r *Runner) Run(ctx context.Context, opts RunOptions) RunResult {
	res := RunResult{DryRun: opts.DryRun}
	startedAt := r.now()

	candidates, err := r.cases.ListCandidates(ctx)
	if err != nil {
		return r.finish(ctx, startedAt, res, fmt.Errorf("escalation: list candidates: %w", err))
	}

	// The effect executor is the only difference between dry-run and live.
	apply := r.cases.ApplyEscalation
	if opts.DryRun {
		apply = func(context.Context, dispute.Case, dispute.Plan) error { return nil }
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for _, c := range candidates {
		trigger, ok := dispute.EligibleAt(c, startedAt)
		if !ok {
			continue
		}

		mu.Lock()
		res.Checked++
		mu.Unlock()

		c := c
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			plan, err := dispute.PlanEscalation(c.Round, trigger, c.Recipient)
			if err != nil {
				// A case without a decision-table row must not abort the batch.
				log.Printf("escalation: skip case %s: %v", c.ID, err)
				mu.Lock()
				res.Skipped++
				mu.Unlock()
				return nil
			}

			if err := apply(gctx, c, plan); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Printf("escalation: skip case %s: apply: %v", c.ID, err)
				mu.Lock()
				res.Skipped++
				mu.Unlock()
				return nil
			}

			mu.Lock()
			if opts.DryRun {
				res.WouldEscalate++
			} else {
				res.Escalated++
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return r.finish(ctx, startedAt, res, fmt.Errorf("escalation: run aborted: %w", err))
	}

	return r.finish(ctx, startedAt, res, nil)
}

// finish writes the run record on every path. When the surrounding context is
// already cancelled or expired, the write still gets a short best-effort
// budget of its own: losing the record would make monitoring blind to the
// outage it should be reporting.
func (r *Runner) finish(ctx context.Context, startedAt time.Time, res RunResult, runErr error) RunResult {
	if runErr != nil {
		res.Success = false
		res.Error = runErr.Error()
	} else {
		res.Success = true
	}

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	rec := settings.RunRecord{
		Automation:           settings.AutomationEscalation,
		LastRunAt:            startedAt,
		LastRunSuccess:       res.Success,
		LastRunDryRun:        res.DryRun,
		LastRunChecked:       res.Checked,
		LastRunEscalated:     res.Escalated,
		LastRunWouldEscalate: res.WouldEscalate,
		LastRunSkipped:       res.Skipped,
	}
	if res.Error != "" {
		rec.LastRunError = &res.Error
	}

	if err := r.runs.UpsertRunRecord(writeCtx, rec); err != nil {
		log.Printf("escalation: write run record: %v", err)
		if res.Success {
			res.Success = false
			res.Error = fmt.Sprintf("escalation: write run record: %v", err)
		}
	}

	if !res.Success {
		if err := r.runs.RecordFailure(writeCtx, settings.AutomationEscalation, res.Error); err != nil {
			log.Printf("escalation: record failure: %v", err)
		}
	}

	return res
}
