package dispute

import (
	"errors"
	"fmt"
)

// ErrNoPlan signals that no decision-table row covers the (round, trigger)
// combination. Unmapped combinations must fail loudly: silently defaulting
// could route a case to the wrong legal recipient.
var ErrNoPlan = errors.New("dispute: no escalation plan for combination")

// roundBucket groups rounds for the decision table. finalBucket marks an
// open-ended row covering minRound and everything above it.
type roundBucket struct {
	minRound int
	maxRound int // 0 means unbounded
}

func (b roundBucket) contains(round int) bool {
	if round < b.minRound {
		return false
	}
	return b.maxRound == 0 || round <= b.maxRound
}

func (b roundBucket) overlaps(o roundBucket) bool {
	if b.maxRound != 0 && b.maxRound < o.minRound {
		return false
	}
	if o.maxRound != 0 && o.maxRound < b.minRound {
		return false
	}
	return true
}

// planRow is one row of the escalation decision table. sameRecipient rows keep
// the case's current target (the bureau being re-disputed); otherwise
// targetRecipient applies.
type planRow struct {
	bucket          roundBucket
	trigger         Trigger
	sameRecipient   bool
	targetRecipient Recipient
	disputeType     string
	methodology     string
	reasonCodes     []string
}

// The escalation policy. New stages are added as rows, never as branches in
// the runner.
var planTable = []planRow{
	{
		bucket:        roundBucket{minRound: 1, maxRound: 1},
		trigger:       TriggerVerified,
		sameRecipient: true,
		disputeType:   "method_of_verification",
		methodology:   "method_of_verification",
		reasonCodes:   []string{"previously_disputed", "request_verification_method"},
	},
	{
		bucket:        roundBucket{minRound: 1, maxRound: 1},
		trigger:       TriggerNoResponse,
		sameRecipient: true,
		disputeType:   "direct_dispute",
		methodology:   "factual_dispute",
		reasonCodes:   []string{"no_response", "previously_disputed"},
	},
	{
		bucket:          roundBucket{minRound: 2, maxRound: 2},
		trigger:         TriggerVerified,
		targetRecipient: RecipientCreditor,
		disputeType:     "direct_creditor_dispute",
		methodology:     "fcra_623",
		reasonCodes:     []string{"previously_verified", "request_investigation"},
	},
	{
		bucket:          roundBucket{minRound: 2, maxRound: 2},
		trigger:         TriggerNoResponse,
		targetRecipient: RecipientCreditor,
		disputeType:     "direct_creditor_dispute",
		methodology:     "fcra_623",
		reasonCodes:     []string{"no_response", "request_investigation"},
	},
	{
		bucket:          roundBucket{minRound: 3},
		trigger:         TriggerVerified,
		targetRecipient: RecipientCFPB,
		disputeType:     "fcra_violation_notice",
		methodology:     "consumer_law",
		reasonCodes:     []string{"previously_verified", "regulator_complaint"},
	},
	{
		bucket:          roundBucket{minRound: 3},
		trigger:         TriggerNoResponse,
		targetRecipient: RecipientCFPB,
		disputeType:     "fcra_violation_notice",
		methodology:     "consumer_law",
		reasonCodes:     []string{"no_response", "regulator_complaint"},
	},
}

func init() {
	if err := validateTable(planTable); err != nil {
		panic(err)
	}
}

// validateTable rejects tables where two rows could match the same
// (round, trigger) pair. Overlap is a configuration error, not a runtime
// fallback.
func validateTable(rows []planRow) error {
	for i := range rows {
		for j := i + 1; j < len(rows); j++ {
			if rows[i].trigger != rows[j].trigger {
				continue
			}
			if rows[i].bucket.overlaps(rows[j].bucket) {
				return fmt.Errorf("dispute: decision table rows %d and %d overlap for trigger %s", i, j, rows[i].trigger)
			}
		}
	}
	return nil
}

// PlanEscalation maps a case's current round, trigger and recipient to the
// next-stage plan. Pure: it never consults the clock or the store, so the
// table can be tested exhaustively.
func PlanEscalation(currentRound int, trigger Trigger, currentRecipient Recipient) (Plan, error) {
	if currentRound < 1 {
		return Plan{}, fmt.Errorf("%w: round %d", ErrNoPlan, currentRound)
	}

	for _, row := range planTable {
		if row.trigger != trigger || !row.bucket.contains(currentRound) {
			continue
		}

		target := row.targetRecipient
		if row.sameRecipient {
			target = currentRecipient
		}

		codes := make([]string, len(row.reasonCodes))
		copy(codes, row.reasonCodes)

		return Plan{
			NextRound:       currentRound + 1,
			TargetRecipient: target,
			DisputeType:     row.disputeType,
			Methodology:     row.methodology,
			ReasonCodes:     codes,
		}, nil
	}

	return Plan{}, fmt.Errorf("%w: round %d trigger %s", ErrNoPlan, currentRound, trigger)
}
