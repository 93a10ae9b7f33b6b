package dispute

import (
	"fmt"
	"time"
)

const (
	responseWindow         = 30 * 24 * time.Hour
	bureauEscalationWait   = 35 * 24 * time.Hour
	creditorEscalationWait = 45 * 24 * time.Hour
)

// DeadlineSet holds the statutory response deadline and the point at which a
// silent case becomes eligible for automatic escalation.
type DeadlineSet struct {
	ResponseDeadline  time.Time
	EscalationReadyAt time.Time
}

// Deadlines computes the deadline set for one dispatched round. The response
// window is 30 days for both recipient classes; bureaus get a 35-day grace
// before escalation, creditors 45.
//
// Only bureau and creditor carry deadline rules. Passing any other recipient
// is a programming error.
func Deadlines(dispatchedAt time.Time, recipient Recipient) DeadlineSet {
	set := DeadlineSet{ResponseDeadline: dispatchedAt.Add(responseWindow)}

	switch recipient {
	case RecipientBureau:
		set.EscalationReadyAt = dispatchedAt.Add(bureauEscalationWait)
	case RecipientCreditor:
		set.EscalationReadyAt = dispatchedAt.Add(creditorEscalationWait)
	default:
		panic(fmt.Sprintf("dispute: no deadline rule for recipient %q", recipient))
	}

	return set
}
