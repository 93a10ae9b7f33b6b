package settings

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals no run record exists yet for the automation.
var ErrNotFound = errors.New("settings: run record not found")

// recentFailureLimit bounds the failure list retained for display.
const recentFailureLimit = 20

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// UpsertRunRecord writes the run-metadata half of the record in a single
// statement: created on first run, overwritten atomically afterwards. The
// operator-owned columns (enabled, stale_after_hours) keep their stored
// values on conflict.
func (r *Repository) UpsertRunRecord(ctx context.Context, rec RunRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO automation_runs (
			automation, last_run_at, last_run_success, last_run_dry_run,
			last_run_checked, last_run_escalated, last_run_would_escalate,
			last_run_skipped, last_run_error
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (automation) DO UPDATE
		SET last_run_at = EXCLUDED.last_run_at,
		    last_run_success = EXCLUDED.last_run_success,
		    last_run_dry_run = EXCLUDED.last_run_dry_run,
		    last_run_checked = EXCLUDED.last_run_checked,
		    last_run_escalated = EXCLUDED.last_run_escalated,
		    last_run_would_escalate = EXCLUDED.last_run_would_escalate,
		    last_run_skipped = EXCLUDED.last_run_skipped,
		    last_run_error = EXCLUDED.last_run_error
	`, rec.Automation, rec.LastRunAt, rec.LastRunSuccess, rec.LastRunDryRun,
		rec.LastRunChecked, rec.LastRunEscalated, rec.LastRunWouldEscalate,
		rec.LastRunSkipped, rec.LastRunError)
	if err != nil {
		return fmt.Errorf("settings: upsert run record: %w", err)
	}
	return nil
}

func (r *Repository) GetRunRecord(ctx context.Context, automation string) (RunRecord, error) {
	const query = `
		SELECT automation, last_run_at, last_run_success, last_run_dry_run,
		       last_run_checked, last_run_escalated, last_run_would_escalate,
		       last_run_skipped, last_run_error, enabled, stale_after_hours
		FROM automation_runs
		WHERE automation = $1
	`

	var rec RunRecord
	err := r.pool.QueryRow(ctx, query, automation).Scan(
		&rec.Automation,
		&rec.LastRunAt,
		&rec.LastRunSuccess,
		&rec.LastRunDryRun,
		&rec.LastRunChecked,
		&rec.LastRunEscalated,
		&rec.LastRunWouldEscalate,
		&rec.LastRunSkipped,
		&rec.LastRunError,
		&rec.Enabled,
		&rec.StaleAfterHours,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RunRecord{}, ErrNotFound
		}
		return RunRecord{}, fmt.Errorf("settings: get run record: %w", err)
	}
	return rec, nil
}

// IsEnabled reads the operator kill switch. An automation that never ran has
// no record yet and defaults to enabled.
func (r *Repository) IsEnabled(ctx context.Context, automation string) (bool, error) {
	var enabled bool
	err := r.pool.QueryRow(ctx,
		`SELECT enabled FROM automation_runs WHERE automation = $1`, automation).Scan(&enabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return true, nil
		}
		return false, fmt.Errorf("settings: is enabled: %w", err)
	}
	return enabled, nil
}

// SetEnabled flips the operator kill switch. The switch must work before the
// automation has ever run, so a missing record is created with a zero run
// history rather than rejected.
func (r *Repository) SetEnabled(ctx context.Context, automation string, enabled bool) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO automation_runs (automation, last_run_at, last_run_success, last_run_dry_run, enabled)
		VALUES ($1, to_timestamp(0), false, false, $2)
		ON CONFLICT (automation) DO UPDATE
		SET enabled = EXCLUDED.enabled
	`, automation, enabled)
	if err != nil {
		return fmt.Errorf("settings: set enabled: %w", err)
	}
	return nil
}

// RecordFailure appends to the recent-failure list and trims it to the
// retention bound.
func (r *Repository) RecordFailure(ctx context.Context, automation, message string) error {
	if _, err := r.pool.Exec(ctx, `
		INSERT INTO automation_failures (id, automation, message)
		VALUES ($1, $2, $3)
	`, uuid.NewString(), automation, message); err != nil {
		return fmt.Errorf("settings: record failure: %w", err)
	}

	if _, err := r.pool.Exec(ctx, `
		DELETE FROM automation_failures
		WHERE automation = $1
		  AND id NOT IN (
			SELECT id FROM automation_failures
			WHERE automation = $1
			ORDER BY occurred_at DESC
			LIMIT $2
		  )
	`, automation, recentFailureLimit); err != nil {
		return fmt.Errorf("settings: trim failures: %w", err)
	}
	return nil
}

// ListRecentFailures returns the retained failures, newest first.
func (r *Repository) ListRecentFailures(ctx context.Context, automation string) ([]Failure, error) {
	const query = `
		SELECT id, automation, message, occurred_at
		FROM automation_failures
		WHERE automation = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, automation, recentFailureLimit)
	if err != nil {
		return nil, fmt.Errorf("settings: list failures: %w", err)
	}
	defer rows.Close()

	out := make([]Failure, 0, recentFailureLimit)
	for rows.Next() {
		var f Failure
		if err := rows.Scan(&f.ID, &f.Automation, &f.Message, &f.OccurredAt); err != nil {
			return nil, fmt.Errorf("settings: scan failure: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("settings: iterate failures: %w", err)
	}
	return out, nil
}
