package observability

import (
	"maps"
	"math"
	"slices"
	"strings"
	"sync"
	"time"
)

// OperationStats summarises the recent round trips of one backend operation.
// Latency quantiles cover every outcome; Outcomes counts failures by kind.
type OperationStats struct {
	Operation  string         `json:"operation"`
	Samples    int            `json:"samples"`
	LastMS     float64        `json:"last_ms"`
	AvgMS      float64        `json:"avg_ms"`
	P50MS      float64        `json:"p50_ms"`
	P95MS      float64        `json:"p95_ms"`
	MaxMS      float64        `json:"max_ms"`
	Outcomes   map[string]int `json:"outcomes"`
	ErrorRate  float64        `json:"error_rate"`
	BudgetMS   float64        `json:"budget_ms,omitempty"`
	OverBudget int            `json:"over_budget"`
}

type Indicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type LatencySnapshot struct {
	GeneratedAt time.Time        `json:"generated_at"`
	WindowSize  int              `json:"window_size"`
	Operations  []OperationStats `json:"operations"`
	Indicators  []Indicator      `json:"indicators,omitempty"`
}

type requestSample struct {
	ms      float64
	outcome string
}

// latencyWindow keeps the newest size samples per operation.
type latencyWindow struct {
	mu         sync.Mutex
	size       int
	samples    map[string][]requestSample
	indicators map[string]int
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = 256
	}
	return &latencyWindow{
		size:       size,
		samples:    make(map[string][]requestSample),
		indicators: make(map[string]int),
	}
}

// Observe records one round trip. An empty outcome means success.
func (w *latencyWindow) Observe(op, outcome string, ms float64) {
	if op == "" || ms < 0 {
		return
	}
	if outcome == "" {
		outcome = "ok"
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	recent := append(w.samples[op], requestSample{ms: ms, outcome: outcome})
	if len(recent) > w.size {
		recent = slices.Delete(recent, 0, len(recent)-w.size)
	}
	w.samples[op] = recent
}

func (w *latencyWindow) ObserveIndicator(name string) {
	name = strings.TrimSpace(name)
	if w == nil || name == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.indicators[name]++
}

func (w *latencyWindow) Snapshot() LatencySnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	snap := LatencySnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Operations:  make([]OperationStats, 0, len(w.samples)),
	}
	for _, op := range slices.Sorted(maps.Keys(w.samples)) {
		if recent := w.samples[op]; len(recent) > 0 {
			snap.Operations = append(snap.Operations, summarize(op, recent))
		}
	}
	for _, name := range slices.Sorted(maps.Keys(w.indicators)) {
		snap.Indicators = append(snap.Indicators, Indicator{Name: name, Count: w.indicators[name]})
	}
	return snap
}

func summarize(op string, recent []requestSample) OperationStats {
	stats := OperationStats{
		Operation: op,
		Samples:   len(recent),
		LastMS:    recent[len(recent)-1].ms,
		Outcomes:  make(map[string]int),
		BudgetMS:  operationBudgetMS(op),
	}
	durations := make([]float64, 0, len(recent))
	failed := 0
	sum := 0.0
	for _, s := range recent {
		durations = append(durations, s.ms)
		sum += s.ms
		stats.Outcomes[s.outcome]++
		if s.outcome != "ok" {
			failed++
		}
		if stats.BudgetMS > 0 && s.ms > stats.BudgetMS {
			stats.OverBudget++
		}
	}
	slices.Sort(durations)

	n := float64(len(durations))
	stats.AvgMS = round2(sum / n)
	stats.P50MS = nearestRank(durations, 0.50)
	stats.P95MS = nearestRank(durations, 0.95)
	stats.MaxMS = durations[len(durations)-1]
	stats.ErrorRate = round2(float64(failed) / n)
	return stats
}

// nearestRank returns the smallest sample with at least q of the samples at
// or below it.
func nearestRank(sorted []float64, q float64) float64 {
	rank := int(math.Ceil(q * float64(len(sorted))))
	return sorted[min(max(rank, 1), len(sorted))-1]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Chat turns wait on the drafting pipeline, so their budget is an order of
// magnitude above plain reads.
func operationBudgetMS(op string) float64 {
	switch op {
	case "create_issue":
		return 2000
	case "send_message":
		return 20000
	case "chat_history":
		return 1500
	case "download_document":
		return 5000
	case "profile", "documents":
		return 800
	default:
		return 0
	}
}
