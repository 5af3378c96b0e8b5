package observability

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// StageStats summarises recent latency samples for one stage of a chat turn.
type StageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
}

type Indicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type TurnSnapshot struct {
	GeneratedAt time.Time    `json:"generated_at"`
	WindowSize  int          `json:"window_size"`
	Stages      []StageStats `json:"stages"`
	Indicators  []Indicator  `json:"indicators,omitempty"`
}

// turnWindow keeps a fixed-size ring of samples per stage.
type turnWindow struct {
	mu         sync.RWMutex
	size       int
	rings      map[string]*sampleRing
	indicators map[string]int
}

type sampleRing struct {
	values []float64
	next   int
	full   bool
	last   float64
}

func newTurnWindow(size int) *turnWindow {
	if size <= 0 {
		size = 256
	}
	return &turnWindow{
		size:       size,
		rings:      make(map[string]*sampleRing),
		indicators: make(map[string]int),
	}
}

func (w *turnWindow) Observe(stage string, ms float64) {
	if stage == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	ring, ok := w.rings[stage]
	if !ok {
		ring = &sampleRing{values: make([]float64, w.size)}
		w.rings[stage] = ring
	}
	ring.values[ring.next] = ms
	ring.last = ms
	ring.next++
	if ring.next == len(ring.values) {
		ring.next = 0
		ring.full = true
	}
}

func (w *turnWindow) Count(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.indicators[name]++
}

func (w *turnWindow) Snapshot() TurnSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	names := make([]string, 0, len(w.rings))
	for name := range w.rings {
		names = append(names, name)
	}
	sort.Strings(names)

	stages := make([]StageStats, 0, len(names))
	for _, name := range names {
		ring := w.rings[name]
		n := ring.next
		if ring.full {
			n = len(ring.values)
		}
		if n == 0 {
			continue
		}
		sorted := make([]float64, n)
		copy(sorted, ring.values[:n])
		sort.Float64s(sorted)

		sum := 0.0
		for _, v := range sorted {
			sum += v
		}
		stages = append(stages, StageStats{
			Stage:       name,
			Samples:     n,
			LastMS:      round2(ring.last),
			AvgMS:       round2(sum / float64(n)),
			P50MS:       round2(quantile(sorted, 0.50)),
			P95MS:       round2(quantile(sorted, 0.95)),
			TargetP95MS: stageTargetP95MS(name),
		})
	}

	keys := make([]string, 0, len(w.indicators))
	for k := range w.indicators {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	indicators := make([]Indicator, 0, len(keys))
	for _, k := range keys {
		indicators = append(indicators, Indicator{Name: k, Count: w.indicators[k]})
	}

	return TurnSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Stages:      stages,
		Indicators:  indicators,
	}
}

func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	idx := q * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func stageTargetP95MS(stage string) float64 {
	switch stage {
	case StageCompletion:
		return 4000
	case StageNormalize:
		return 5
	case StageMemoPersist:
		return 50
	case StageTurnTotal:
		return 4500
	default:
		return 0
	}
}
