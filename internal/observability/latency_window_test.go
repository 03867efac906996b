package observability

import "testing"

func TestLatencyWindowSnapshot(t *testing.T) {
	w := newLatencyWindow(8)
	w.Observe("send_message", "", 500)
	w.Observe("send_message", "rate_limited", 700)
	w.Observe("send_message", "ok", 25000)
	w.Observe("send_message", "", 900)
	w.ObserveIndicator("synthetic_error_turn")
	w.ObserveIndicator("synthetic_error_turn")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Operations) != 1 {
		t.Fatalf("len(Operations) = %d, want 1", len(snap.Operations))
	}
	s := snap.Operations[0]
	if s.Operation != "send_message" || s.Samples != 4 {
		t.Fatalf("stats = %+v, want 4 send_message samples", s)
	}
	if s.LastMS != 900 {
		t.Fatalf("LastMS = %.2f, want 900", s.LastMS)
	}
	if s.P50MS != 700 {
		t.Fatalf("P50MS = %.2f, want 700", s.P50MS)
	}
	if s.P95MS != 25000 || s.MaxMS != 25000 {
		t.Fatalf("P95MS = %.2f MaxMS = %.2f, want 25000", s.P95MS, s.MaxMS)
	}
	if s.Outcomes["ok"] != 3 || s.Outcomes["rate_limited"] != 1 {
		t.Fatalf("Outcomes = %v, want 3 ok and 1 rate_limited", s.Outcomes)
	}
	if s.ErrorRate != 0.25 {
		t.Fatalf("ErrorRate = %.2f, want 0.25", s.ErrorRate)
	}
	if s.BudgetMS != 20000 || s.OverBudget != 1 {
		t.Fatalf("BudgetMS = %.0f OverBudget = %d, want 20000 and 1", s.BudgetMS, s.OverBudget)
	}
	if len(snap.Indicators) != 1 || snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators = %+v, want one indicator with count 2", snap.Indicators)
	}
}

func TestLatencyWindowKeepsNewestSamples(t *testing.T) {
	w := newLatencyWindow(2)
	w.Observe("profile", "network", 10)
	w.Observe("profile", "", 20)
	w.Observe("profile", "", 30)

	s := w.Snapshot().Operations[0]
	if s.Samples != 2 {
		t.Fatalf("Samples = %d, want 2", s.Samples)
	}
	if s.AvgMS != 25 {
		t.Fatalf("AvgMS = %.2f, want 25", s.AvgMS)
	}
	if s.ErrorRate != 0 {
		t.Fatalf("ErrorRate = %.2f, want 0 once the failure left the window", s.ErrorRate)
	}
}
