package dispute

import "time"

// Recipient classifies the party a dispute round is addressed to. Only bureau
// and creditor carry statutory response windows; cfpb and attorney_general are
// regulatory escalation targets.
type Recipient string

const (
	RecipientBureau          Recipient = "bureau"
	RecipientCreditor        Recipient = "creditor"
	RecipientCFPB            Recipient = "cfpb"
	RecipientAttorneyGeneral Recipient = "attorney_general"
)

// ResponseStatus tracks the outcome of the current round's correspondence.
type ResponseStatus string

const (
	StatusAwaiting      ResponseStatus = "awaiting"
	StatusVerified      ResponseStatus = "verified"
	StatusNoResponse    ResponseStatus = "no_response"
	StatusDeleted       ResponseStatus = "deleted"
	StatusUpdated       ResponseStatus = "updated"
	StatusDisputedAgain ResponseStatus = "disputed_again"
)

// Trigger names the condition that makes a case eligible for escalation.
type Trigger string

const (
	// TriggerNoResponse fires when the escalation-ready timestamp has passed
	// without any reply from the recipient.
	TriggerNoResponse Trigger = "no_response"
	// TriggerVerified fires when staff flagged a verified outcome as
	// unsatisfactory and requested escalation.
	TriggerVerified Trigger = "verified"
)

// Case mirrors the dispute_cases table. Round only increases, and only via
// escalation; the recipient, dispute type, methodology and reason codes for
// round N+1 are determined entirely by the planner.
type Case struct {
	ID               string
	ClientID         string
	Bureau           string
	Recipient        Recipient
	Round            int
	DispatchedAt     *time.Time
	ResponseStatus   ResponseStatus
	EscalateVerified bool
	DisputeType      string
	Methodology      string
	ReasonCodes      []string
	LastEscalatedAt  *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Plan is the next-stage escalation plan produced by the planner. It is
// consumed immediately by the runner and never persisted as its own entity.
type Plan struct {
	NextRound       int
	TargetRecipient Recipient
	DisputeType     string
	Methodology     string
	ReasonCodes     []string
}

const (
	// OutboxTopicEscalated is enqueued for the letter-generation subsystem
	// whenever a case advances a round.
	OutboxTopicEscalated = "dispute.escalated"
)
