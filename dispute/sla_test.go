package dispute

import "testing"

func TestSLAInstanceName(t *testing.T) {
	if got := SLAInstanceName("disp-123"); got != "sla-dispute-disp-123" {
		t.Fatalf("expected sla-dispute-disp-123 got %q", got)
	}

	// Deterministic across invocations.
	for i := 0; i < 5; i++ {
		if SLAInstanceName("case-9") != "sla-dispute-case-9" {
			t.Fatal("namer is not stable")
		}
	}

	if SLAInstanceName("a") == SLAInstanceName("b") {
		t.Fatal("distinct cases must map to distinct trackers")
	}
}
