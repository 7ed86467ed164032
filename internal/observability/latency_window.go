package observability

import (
	"math"
	"sort"
	"sync"
	"time"
)

// LatencyStats summarizes recent samples for one lesson stage.
type LatencyStats struct {
	Stage   string  `json:"stage"`
	Samples int     `json:"samples"`
	LastMS  float64 `json:"last_ms"`
	AvgMS   float64 `json:"avg_ms"`
	P50MS   float64 `json:"p50_ms"`
	P95MS   float64 `json:"p95_ms"`
}

// LatencySnapshot is the JSON payload behind the perf endpoint.
type LatencySnapshot struct {
	GeneratedAt time.Time      `json:"generated_at"`
	WindowSize  int            `json:"window_size"`
	Stages      []LatencyStats `json:"stages"`
}

// latencyWindow keeps a fixed-size ring of recent check-in round-trip
// latencies per stage. Prometheus histograms answer long-horizon questions;
// this window answers "how is the session doing right now".
type latencyWindow struct {
	mu         sync.RWMutex
	maxSamples int
	stages     map[string]*ring
}

type ring struct {
	values []float64
	next   int
	filled bool
	last   float64
}

func newLatencyWindow(maxSamples int) *latencyWindow {
	if maxSamples <= 0 {
		maxSamples = 256
	}
	return &latencyWindow{
		maxSamples: maxSamples,
		stages:     make(map[string]*ring),
	}
}

func (w *latencyWindow) Observe(stage string, ms float64) {
	if stage == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	r, ok := w.stages[stage]
	if !ok {
		r = &ring{values: make([]float64, w.maxSamples)}
		w.stages[stage] = r
	}
	r.values[r.next] = ms
	r.last = ms
	r.next++
	if r.next >= len(r.values) {
		r.next = 0
		r.filled = true
	}
}

func (w *latencyWindow) Snapshot() LatencySnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	keys := make([]string, 0, len(w.stages))
	for stage := range w.stages {
		keys = append(keys, stage)
	}
	sort.Strings(keys)

	stages := make([]LatencyStats, 0, len(keys))
	for _, stage := range keys {
		r := w.stages[stage]
		n := r.next
		if r.filled {
			n = len(r.values)
		}
		if n == 0 {
			continue
		}
		samples := make([]float64, n)
		copy(samples, r.values[:n])
		sort.Float64s(samples)

		var sum float64
		for _, v := range samples {
			sum += v
		}
		stages = append(stages, LatencyStats{
			Stage:   stage,
			Samples: n,
			LastMS:  r.last,
			AvgMS:   sum / float64(n),
			P50MS:   quantile(samples, 0.50),
			P95MS:   quantile(samples, 0.95),
		})
	}

	return LatencySnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.maxSamples,
		Stages:      stages,
	}
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
