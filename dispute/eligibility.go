package dispute

import "time"

// EligibleAt reports whether a case qualifies for escalation at the given
// instant and which trigger applies. A verified-but-unsatisfactory flag wins
// immediately; otherwise a case must still be awaiting a reply with its
// escalation-ready timestamp behind us. Cases already parked with a regulator
// never match.
func EligibleAt(c Case, now time.Time) (Trigger, bool) {
	if c.ResponseStatus == StatusVerified && c.EscalateVerified {
		return TriggerVerified, true
	}

	if c.ResponseStatus != StatusAwaiting || c.DispatchedAt == nil {
		return "", false
	}
	if c.Recipient != RecipientBureau && c.Recipient != RecipientCreditor {
		return "", false
	}

	if Deadlines(*c.DispatchedAt, c.Recipient).EscalationReadyAt.After(now) {
		return "", false
	}
	return TriggerNoResponse, true
}
