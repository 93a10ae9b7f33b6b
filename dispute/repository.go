package dispute

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound = errors.New("dispute: not found")
	// ErrStaleCase signals the case changed under us, typically because a
	// concurrent run already escalated it.
	ErrStaleCase = errors.New("dispute: case modified concurrently")
)

const caseColumns = `
	id, client_id, bureau, recipient::text, round, dispatched_at,
	response_status::text, escalate_verified, dispute_type, methodology,
	reason_codes, last_escalated_at, created_at, updated_at
`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListCandidates returns every case that could be escalation-eligible: still
// awaiting a reply on a dispatched bureau/creditor round, or carrying the
// verified-unsatisfactory flag. The time-based eligibility re-check happens in
// Go via EligibleAt so dry-run and live share it verbatim.
func (r *Repository) ListCandidates(ctx context.Context) ([]Case, error) {
	const query = `
		SELECT ` + caseColumns + `
		FROM dispute_cases
		WHERE (response_status = 'awaiting'
		       AND dispatched_at IS NOT NULL
		       AND recipient IN ('bureau', 'creditor'))
		   OR (response_status = 'verified' AND escalate_verified)
		ORDER BY dispatched_at ASC NULLS LAST
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("dispute: list candidates: %w", err)
	}
	defer rows.Close()

	return collectCases(rows)
}

// ListByClient returns a client's cases, newest first.
func (r *Repository) ListByClient(ctx context.Context, clientID string) ([]Case, error) {
	const query = `
		SELECT ` + caseColumns + `
		FROM dispute_cases
		WHERE client_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, clientID)
	if err != nil {
		return nil, fmt.Errorf("dispute: list by client: %w", err)
	}
	defer rows.Close()

	return collectCases(rows)
}

func (r *Repository) GetByID(ctx context.Context, caseID string) (Case, error) {
	const query = `
		SELECT ` + caseColumns + `
		FROM dispute_cases
		WHERE id = $1
	`

	c, err := scanCase(r.pool.QueryRow(ctx, query, caseID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Case{}, ErrNotFound
		}
		return Case{}, fmt.Errorf("dispute: get case: %w", err)
	}
	return c, nil
}

// CreateCaseParams enumerates the fields required to open a new round-1 case.
type CreateCaseParams struct {
	ClientID    string
	Bureau      string
	DisputeType string
	Methodology string
	ReasonCodes []string
}

func (r *Repository) Create(ctx context.Context, params CreateCaseParams) (Case, error) {
	const query = `
		INSERT INTO dispute_cases (client_id, bureau, dispute_type, methodology, reason_codes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + caseColumns + `
	`

	c, err := scanCase(r.pool.QueryRow(ctx, query,
		params.ClientID, params.Bureau, params.DisputeType, params.Methodology, params.ReasonCodes))
	if err != nil {
		return Case{}, fmt.Errorf("dispute: create case: %w", err)
	}
	return c, nil
}

// MarkDispatched records that the current round's correspondence went out,
// opening the statutory response window.
func (r *Repository) MarkDispatched(ctx context.Context, caseID string, at time.Time) (Case, error) {
	const query = `
		UPDATE dispute_cases
		SET dispatched_at = $2, updated_at = now()
		WHERE id = $1
		RETURNING ` + caseColumns + `
	`

	c, err := scanCase(r.pool.QueryRow(ctx, query, caseID, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Case{}, ErrNotFound
		}
		return Case{}, fmt.Errorf("dispute: mark dispatched: %w", err)
	}
	return c, nil
}

// MarkResponse records the recipient's reply for the current round. Staff set
// escalateVerified when a verified outcome should still be escalated.
func (r *Repository) MarkResponse(ctx context.Context, caseID string, status ResponseStatus, escalateVerified bool) (Case, error) {
	const query = `
		UPDATE dispute_cases
		SET response_status = $2::dispute_response_status,
		    escalate_verified = $3,
		    updated_at = now()
		WHERE id = $1
		RETURNING ` + caseColumns + `
	`

	c, err := scanCase(r.pool.QueryRow(ctx, query, caseID, status, escalateVerified))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Case{}, ErrNotFound
		}
		return Case{}, fmt.Errorf("dispute: mark response: %w", err)
	}
	return c, nil
}

// ApplyEscalation advances a case to its next round inside one transaction:
// the case row update, the SLA tracker upsert and the letter-generation outbox
// enqueue all land together or not at all. The UPDATE is guarded by the round
// the plan was computed from, so a concurrently escalated case surfaces as
// ErrStaleCase instead of a double escalation.
func (r *Repository) ApplyEscalation(ctx context.Context, c Case, plan Plan) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("dispute: begin escalation tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE dispute_cases
		SET round = $2,
		    recipient = $3::dispute_recipient,
		    dispute_type = $4,
		    methodology = $5,
		    reason_codes = $6,
		    response_status = 'awaiting',
		    escalate_verified = false,
		    dispatched_at = NULL,
		    last_escalated_at = now(),
		    updated_at = now()
		WHERE id = $1 AND round = $7
	`, c.ID, plan.NextRound, plan.TargetRecipient, plan.DisputeType, plan.Methodology, plan.ReasonCodes, c.Round)
	if err != nil {
		return fmt.Errorf("dispute: escalate case: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleCase
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO sla_trackers (name, case_id, round, response_deadline, escalation_ready_at, updated_at)
		VALUES ($1, $2, $3, NULL, NULL, now())
		ON CONFLICT (name) DO UPDATE
		SET round = EXCLUDED.round,
		    response_deadline = NULL,
		    escalation_ready_at = NULL,
		    updated_at = now()
	`, SLAInstanceName(c.ID), c.ID, plan.NextRound); err != nil {
		return fmt.Errorf("dispute: upsert sla tracker: %w", err)
	}

	payload := map[string]any{
		"case_id":      c.ID,
		"client_id":    c.ClientID,
		"bureau":       c.Bureau,
		"round":        plan.NextRound,
		"recipient":    plan.TargetRecipient,
		"dispute_type": plan.DisputeType,
		"methodology":  plan.Methodology,
		"reason_codes": plan.ReasonCodes,
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO outbox (topic, payload)
		VALUES ($1, $2::jsonb)
	`, OutboxTopicEscalated, toJSON(payload)); err != nil {
		return fmt.Errorf("dispute: enqueue outbox: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("dispute: commit escalation: %w", err)
	}
	return nil
}

// CountEscalatedSince reports how many cases advanced a round after the given
// instant. Consumed by the health surface.
func (r *Repository) CountEscalatedSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM dispute_cases WHERE last_escalated_at > $1`, since).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("dispute: count escalated: %w", err)
	}
	return n, nil
}

func collectCases(rows pgx.Rows) ([]Case, error) {
	out := make([]Case, 0, 8)
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan case: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate cases: %w", err)
	}
	return out, nil
}

func scanCase(row pgx.Row) (Case, error) {
	var c Case
	err := row.Scan(
		&c.ID,
		&c.ClientID,
		&c.Bureau,
		&c.Recipient,
		&c.Round,
		&c.DispatchedAt,
		&c.ResponseStatus,
		&c.EscalateVerified,
		&c.DisputeType,
		&c.Methodology,
		&c.ReasonCodes,
		&c.LastEscalatedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return Case{}, err
	}
	return c, nil
}

func toJSON(m map[string]any) string {
	b, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}
	return string(b)
}
