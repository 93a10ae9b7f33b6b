package dispute

// SLAInstanceName derives the deterministic identifier for the recurring
// deadline tracker of one case. The same case always maps to the same tracker
// across processes and runs, so a re-run updates the tracked deadline instead
// of duplicating it.
func SLAInstanceName(caseID string) string {
	return "sla-dispute-" + caseID
}
