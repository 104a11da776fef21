package stats

import (
	"sort"
	"sync"
	"time"
)

// LatencySummary 投递延迟分位
type LatencySummary struct {
	Count uint64
	P50   time.Duration
	P95   time.Duration
	P99   time.Duration
	Max   time.Duration
}

type latencyRing struct {
	samples []time.Duration
	next    int
	full    bool
	count   uint64
	max     time.Duration
}

func (r *latencyRing) add(d time.Duration) {
	r.samples[r.next] = d
	r.next = (r.next + 1) % len(r.samples)
	if r.next == 0 {
		r.full = true
	}
	r.count++
	if d > r.max {
		r.max = d
	}
}

func (r *latencyRing) sorted() []time.Duration {
	n := r.next
	if r.full {
		n = len(r.samples)
	}
	values := make([]time.Duration, n)
	copy(values, r.samples[:n])
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	return values
}

// LatencyRecorder 每个名字保留最近 capacity 个样本
type LatencyRecorder struct {
	mu       sync.Mutex
	capacity int
	rings    map[string]*latencyRing
}

func NewLatencyRecorder(capacity int) *LatencyRecorder {
	if capacity <= 0 {
		capacity = 2048
	}
	return &LatencyRecorder{capacity: capacity, rings: make(map[string]*latencyRing)}
}

func (r *LatencyRecorder) Record(name string, d time.Duration) {
	if d < 0 {
		d = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ring, ok := r.rings[name]
	if !ok {
		ring = &latencyRing{samples: make([]time.Duration, r.capacity)}
		r.rings[name] = ring
	}
	ring.add(d)
}

// Snapshot reset=true 时同时清空
func (r *LatencyRecorder) Snapshot(reset bool) map[string]LatencySummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make(map[string]LatencySummary, len(r.rings))
	for name, ring := range r.rings {
		values := ring.sorted()
		if len(values) > 0 {
			result[name] = LatencySummary{
				Count: ring.count,
				P50:   percentile(values, 0.50),
				P95:   percentile(values, 0.95),
				P99:   percentile(values, 0.99),
				Max:   ring.max,
			}
		}
		if reset {
			delete(r.rings, name)
		}
	}
	return result
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
