package observability

import "testing"

func TestStageWindowSnapshot(t *testing.T) {
	w := newStageWindow(8)
	w.Observe("pause_to_commit", 2900)
	w.Observe("pause_to_commit", 3100)
	w.Observe("pause_to_commit", 3250)
	w.ObserveIndicator("stale_timer_discard")
	w.ObserveIndicator("stale_timer_discard")

	snap := w.Snapshot()
	if snap.WindowSize != 8 {
		t.Fatalf("WindowSize = %d, want 8", snap.WindowSize)
	}
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != "pause_to_commit" {
		t.Fatalf("Stage = %q, want %q", s.Stage, "pause_to_commit")
	}
	if s.Samples != 3 {
		t.Fatalf("Samples = %d, want 3", s.Samples)
	}
	if s.LastMS != 3250 {
		t.Fatalf("LastMS = %.2f, want 3250", s.LastMS)
	}
	if s.P50MS != 3100 {
		t.Fatalf("P50MS = %.2f, want 3100", s.P50MS)
	}
	if s.P95MS <= 3100 || s.P95MS > 3250 {
		t.Fatalf("P95MS = %.2f, want (3100,3250]", s.P95MS)
	}
	if s.TargetP95MS != 3300 {
		t.Fatalf("TargetP95MS = %.2f, want 3300", s.TargetP95MS)
	}
	if len(snap.Indicators) != 1 {
		t.Fatalf("len(Indicators) = %d, want 1", len(snap.Indicators))
	}
	if snap.Indicators[0].Name != "stale_timer_discard" {
		t.Fatalf("Indicators[0].Name = %q", snap.Indicators[0].Name)
	}
	if snap.Indicators[0].Count != 2 {
		t.Fatalf("Indicators[0].Count = %d, want 2", snap.Indicators[0].Count)
	}
}

func TestStageWindowWrapAround(t *testing.T) {
	w := newStageWindow(4)
	for i := 0; i < 10; i++ {
		w.Observe("speak_to_audio", float64(100*i))
	}
	snap := w.Snapshot()
	if len(snap.Stages) != 1 {
		t.Fatalf("len(Stages) = %d, want 1", len(snap.Stages))
	}
	if snap.Stages[0].Samples != 4 {
		t.Fatalf("Samples = %d, want 4 after wrap", snap.Stages[0].Samples)
	}
	if snap.Stages[0].LastMS != 900 {
		t.Fatalf("LastMS = %.2f, want 900", snap.Stages[0].LastMS)
	}
}
