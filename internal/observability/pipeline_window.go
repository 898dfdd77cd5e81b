package observability

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Interview pipeline stages.
const (
	StageGrade         = "grade"
	StageFirstFragment = "respond_first_fragment"
	StageRespond       = "respond"
	StageTurnTotal     = "turn_total"
	StageReport        = "report"
)

// stageBudgets are the p95 latency objectives per stage.
var stageBudgets = map[string]time.Duration{
	StageGrade:         1500 * time.Millisecond,
	StageFirstFragment: 1200 * time.Millisecond,
	StageRespond:       4 * time.Second,
	StageTurnTotal:     5500 * time.Millisecond,
	StageReport:        20 * time.Second,
}

// StageStats summarizes one stage. Latency figures cover the sliding window;
// Observed, Fallbacks and FallbackRate count everything since the last reset.
type StageStats struct {
	Stage   string  `json:"stage"`
	Samples int     `json:"samples"`
	LastMS  float64 `json:"last_ms"`
	MeanMS  float64 `json:"mean_ms"`
	P50MS   float64 `json:"p50_ms"`
	P90MS   float64 `json:"p90_ms"`
	P95MS   float64 `json:"p95_ms"`
	MaxMS   float64 `json:"max_ms"`

	BudgetMS   float64 `json:"budget_ms,omitempty"`
	OverBudget int     `json:"over_budget,omitempty"`

	Observed        int            `json:"observed"`
	Fallbacks       int            `json:"fallbacks"`
	FallbackRate    float64        `json:"fallback_rate"`
	FallbackReasons map[string]int `json:"fallback_reasons,omitempty"`
}

// PipelineSnapshot is the /v1/perf/latency payload.
type PipelineSnapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	WindowSize  int          `json:"window_size"`
	Stages      []StageStats `json:"stages"`
}

type pipelineWindow struct {
	mu     sync.Mutex
	size   int
	stages map[string]*stageRecord
}

type stageRecord struct {
	samples   []time.Duration
	head      int
	last      time.Duration
	observed  int
	fallbacks map[string]int
}

func newPipelineWindow(size int) *pipelineWindow {
	if size <= 0 {
		size = 256
	}
	return &pipelineWindow{size: size, stages: make(map[string]*stageRecord)}
}

func (w *pipelineWindow) record(stage string) *stageRecord {
	rec, ok := w.stages[stage]
	if !ok {
		rec = &stageRecord{
			samples:   make([]time.Duration, 0, w.size),
			fallbacks: make(map[string]int),
		}
		w.stages[stage] = rec
	}
	return rec
}

func (w *pipelineWindow) observe(stage string, d time.Duration) {
	if stage == "" || d < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	rec := w.record(stage)
	if len(rec.samples) < w.size {
		rec.samples = append(rec.samples, d)
	} else {
		rec.samples[rec.head] = d
		rec.head = (rec.head + 1) % w.size
	}
	rec.last = d
	rec.observed++
}

func (w *pipelineWindow) fallback(stage, reason string) {
	if stage == "" {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.record(stage).fallbacks[reason]++
}

func (w *pipelineWindow) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stages = make(map[string]*stageRecord)
}

func (w *pipelineWindow) snapshot() PipelineSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()

	names := make([]string, 0, len(w.stages))
	for name := range w.stages {
		names = append(names, name)
	}
	sort.Strings(names)

	out := PipelineSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Stages:      make([]StageStats, 0, len(names)),
	}
	for _, name := range names {
		out.Stages = append(out.Stages, w.stages[name].stats(name))
	}
	return out
}

func (r *stageRecord) stats(stage string) StageStats {
	st := StageStats{Stage: stage, Samples: len(r.samples), Observed: r.observed}

	for reason, n := range r.fallbacks {
		if st.FallbackReasons == nil {
			st.FallbackReasons = make(map[string]int, len(r.fallbacks))
		}
		st.FallbackReasons[reason] = n
		st.Fallbacks += n
	}
	if r.observed > 0 {
		st.FallbackRate = round2(float64(st.Fallbacks) / float64(r.observed))
	}

	budget := stageBudgets[stage]
	st.BudgetMS = millis(budget)
	if len(r.samples) == 0 {
		return st
	}

	sorted := append([]time.Duration(nil), r.samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	var total time.Duration
	for _, d := range sorted {
		total += d
		if budget > 0 && d > budget {
			st.OverBudget++
		}
	}
	st.LastMS = millis(r.last)
	st.MeanMS = millis(total / time.Duration(len(sorted)))
	st.P50MS = millis(nearestRank(sorted, 0.50))
	st.P90MS = millis(nearestRank(sorted, 0.90))
	st.P95MS = millis(nearestRank(sorted, 0.95))
	st.MaxMS = millis(sorted[len(sorted)-1])
	return st
}

// nearestRank returns the smallest sample with at least q of the window at or below it.
func nearestRank(sorted []time.Duration, q float64) time.Duration {
	rank := int(math.Ceil(q * float64(len(sorted))))
	rank = min(max(rank, 1), len(sorted))
	return sorted[rank-1]
}

func millis(d time.Duration) float64 {
	return round2(float64(d) / float64(time.Millisecond))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
