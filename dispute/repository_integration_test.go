package dispute_test

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"disputeflow/dispute"
	"disputeflow/test/infra"
)

func TestRepository_Escalation(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test, skipped in short mode")
	}
	if os.Getenv(infra.DSNEnv) == "" && !dockerAvailable() {
		t.Skipf("no docker and %s unset", infra.DSNEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	h, err := infra.NewHarness(ctx)
	if err != nil {
		t.Fatalf("new harness: %v", err)
	}
	defer h.Close(context.Background())

	repo := dispute.NewRepository(h.Pool())

	t.Run("applies the plan atomically", func(t *testing.T) {
		resetOrFail(t, ctx, h)
		c := seedOverdueCase(t, ctx, h.Pool(), repo)

		candidates, err := repo.ListCandidates(ctx)
		if err != nil {
			t.Fatalf("list candidates: %v", err)
		}
		if len(candidates) != 1 || candidates[0].ID != c.ID {
			t.Fatalf("expected the seeded case as sole candidate, got %d", len(candidates))
		}

		plan, err := dispute.PlanEscalation(c.Round, dispute.TriggerNoResponse, c.Recipient)
		if err != nil {
			t.Fatalf("plan: %v", err)
		}
		if err := repo.ApplyEscalation(ctx, c, plan); err != nil {
			t.Fatalf("apply escalation: %v", err)
		}

		got, err := repo.GetByID(ctx, c.ID)
		if err != nil {
			t.Fatalf("get case: %v", err)
		}
		if got.Round != 2 {
			t.Fatalf("round = %d, want 2", got.Round)
		}
		if got.Recipient != dispute.RecipientBureau {
			t.Fatalf("recipient = %s, want bureau", got.Recipient)
		}
		if got.ResponseStatus != dispute.StatusAwaiting {
			t.Fatalf("response status = %s, want awaiting", got.ResponseStatus)
		}
		if got.DispatchedAt != nil {
			t.Fatalf("dispatched_at should clear on escalation, got %v", got.DispatchedAt)
		}
		if got.EscalateVerified {
			t.Fatal("escalate_verified should reset on escalation")
		}
		if got.LastEscalatedAt == nil {
			t.Fatal("last_escalated_at should be set")
		}

		var slaRound int
		err = h.Pool().QueryRow(ctx,
			`SELECT round FROM sla_trackers WHERE name = $1`,
			dispute.SLAInstanceName(c.ID)).Scan(&slaRound)
		if err != nil {
			t.Fatalf("sla tracker row: %v", err)
		}
		if slaRound != 2 {
			t.Fatalf("sla round = %d, want 2", slaRound)
		}

		var outboxCount int
		err = h.Pool().QueryRow(ctx,
			`SELECT count(*) FROM outbox WHERE topic = $1`,
			dispute.OutboxTopicEscalated).Scan(&outboxCount)
		if err != nil {
			t.Fatalf("outbox count: %v", err)
		}
		if outboxCount != 1 {
			t.Fatalf("outbox count = %d, want 1", outboxCount)
		}
	})

	t.Run("stale snapshot is rejected", func(t *testing.T) {
		resetOrFail(t, ctx, h)
		c := seedOverdueCase(t, ctx, h.Pool(), repo)

		plan, err := dispute.PlanEscalation(c.Round, dispute.TriggerNoResponse, c.Recipient)
		if err != nil {
			t.Fatalf("plan: %v", err)
		}
		if err := repo.ApplyEscalation(ctx, c, plan); err != nil {
			t.Fatalf("first apply: %v", err)
		}

		// Same snapshot again: the guarded round no longer matches.
		err = repo.ApplyEscalation(ctx, c, plan)
		if !errors.Is(err, dispute.ErrStaleCase) {
			t.Fatalf("second apply error = %v, want ErrStaleCase", err)
		}

		var outboxCount int
		if err := h.Pool().QueryRow(ctx,
			`SELECT count(*) FROM outbox`).Scan(&outboxCount); err != nil {
			t.Fatalf("outbox count: %v", err)
		}
		if outboxCount != 1 {
			t.Fatalf("stale apply must not enqueue, outbox count = %d", outboxCount)
		}
	})

	t.Run("sla tracker is upserted not duplicated", func(t *testing.T) {
		resetOrFail(t, ctx, h)
		c := seedOverdueCase(t, ctx, h.Pool(), repo)

		for round := 1; round <= 2; round++ {
			fresh, err := repo.GetByID(ctx, c.ID)
			if err != nil {
				t.Fatalf("get case: %v", err)
			}
			if fresh.DispatchedAt == nil {
				fresh, err = repo.MarkDispatched(ctx, c.ID, time.Now().AddDate(0, 0, -60))
				if err != nil {
					t.Fatalf("mark dispatched: %v", err)
				}
			}
			plan, err := dispute.PlanEscalation(fresh.Round, dispute.TriggerNoResponse, fresh.Recipient)
			if err != nil {
				t.Fatalf("plan round %d: %v", fresh.Round, err)
			}
			if err := repo.ApplyEscalation(ctx, fresh, plan); err != nil {
				t.Fatalf("apply round %d: %v", fresh.Round, err)
			}
		}

		var trackers, slaRound int
		err := h.Pool().QueryRow(ctx,
			`SELECT count(*), max(round) FROM sla_trackers WHERE case_id = $1`,
			c.ID).Scan(&trackers, &slaRound)
		if err != nil {
			t.Fatalf("sla trackers: %v", err)
		}
		if trackers != 1 {
			t.Fatalf("sla trackers = %d, want 1", trackers)
		}
		if slaRound != 3 {
			t.Fatalf("sla round = %d, want 3", slaRound)
		}
	})

	t.Run("counts recent escalations", func(t *testing.T) {
		resetOrFail(t, ctx, h)
		c := seedOverdueCase(t, ctx, h.Pool(), repo)

		plan, err := dispute.PlanEscalation(c.Round, dispute.TriggerNoResponse, c.Recipient)
		if err != nil {
			t.Fatalf("plan: %v", err)
		}
		if err := repo.ApplyEscalation(ctx, c, plan); err != nil {
			t.Fatalf("apply: %v", err)
		}

		n, err := repo.CountEscalatedSince(ctx, time.Now().Add(-time.Hour))
		if err != nil {
			t.Fatalf("count escalated: %v", err)
		}
		if n != 1 {
			t.Fatalf("count = %d, want 1", n)
		}
	})
}

func resetOrFail(t *testing.T, ctx context.Context, h *infra.Harness) {
	t.Helper()
	if err := h.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
}

// seedOverdueCase creates a round-1 bureau case dispatched 60 days ago, well
// past the escalation-ready point.
func seedOverdueCase(t *testing.T, ctx context.Context, pool *pgxpool.Pool, repo *dispute.Repository) dispute.Case {
	t.Helper()

	var clientID string
	err := pool.QueryRow(ctx, `
		INSERT INTO clients (full_name, email)
		VALUES ('Jordan Reyes', 'jordan@example.com')
		RETURNING id
	`).Scan(&clientID)
	if err != nil {
		t.Fatalf("seed client: %v", err)
	}

	c, err := repo.Create(ctx, dispute.CreateCaseParams{
		ClientID:    clientID,
		Bureau:      "equifax",
		DisputeType: "direct_dispute",
		Methodology: "factual_dispute",
		ReasonCodes: []string{"not_mine"},
	})
	if err != nil {
		t.Fatalf("seed case: %v", err)
	}

	c, err = repo.MarkDispatched(ctx, c.ID, time.Now().AddDate(0, 0, -60))
	if err != nil {
		t.Fatalf("mark dispatched: %v", err)
	}
	return c
}

func dockerAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return exec.CommandContext(ctx, "docker", "info").Run() == nil
}
