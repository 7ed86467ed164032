package observability

import "testing"

func TestLatencyWindowSnapshot(t *testing.T) {
	w := newLatencyWindow(4)
	w.Observe("teaching", 100)
	w.Observe("teaching", 200)
	w.Observe("teaching", 300)

	snap := w.Snapshot()
	if len(snap.Stages) != 1 {
		t.Fatalf("stages = %d, want 1", len(snap.Stages))
	}
	s := snap.Stages[0]
	if s.Stage != "teaching" || s.Samples != 3 {
		t.Fatalf("unexpected stats: %+v", s)
	}
	if s.LastMS != 300 {
		t.Fatalf("LastMS = %f, want 300", s.LastMS)
	}
	if s.AvgMS != 200 {
		t.Fatalf("AvgMS = %f, want 200", s.AvgMS)
	}
	if s.P50MS != 200 {
		t.Fatalf("P50MS = %f, want 200", s.P50MS)
	}
}

func TestLatencyWindowWrapsRing(t *testing.T) {
	w := newLatencyWindow(2)
	w.Observe("teaching", 10)
	w.Observe("teaching", 20)
	w.Observe("teaching", 30) // evicts 10

	snap := w.Snapshot()
	s := snap.Stages[0]
	if s.Samples != 2 {
		t.Fatalf("Samples = %d, want 2", s.Samples)
	}
	if s.AvgMS != 25 {
		t.Fatalf("AvgMS = %f, want 25", s.AvgMS)
	}
}

func TestLatencyWindowIgnoresInvalid(t *testing.T) {
	w := newLatencyWindow(4)
	w.Observe("", 100)
	w.Observe("teaching", -1)
	if snap := w.Snapshot(); len(snap.Stages) != 0 {
		t.Fatalf("invalid observations should be dropped")
	}
}
