// Package concurrency implements the per-broker and cluster-wide
// concurrency caps (C2 in the execution core) that the task tracker
// consults on admission and the adjuster mutates in response to cluster
// health.
package concurrency

import (
	"sync"
	"sync/atomic"

	"github.com/cyw0ng95/execore/pkg/execconfig"
	"github.com/cyw0ng95/execore/pkg/execmodel"
)

// capSnapshot is an immutable view of every dimension's caps, published via
// atomic pointer swap so readers never observe a torn write.
type capSnapshot struct {
	perBroker map[execmodel.ConcurrencyType]map[int32]int
	cluster   map[execmodel.ConcurrencyType]int
}

func emptySnapshot() *capSnapshot {
	return &capSnapshot{
		perBroker: make(map[execmodel.ConcurrencyType]map[int32]int),
		cluster:   make(map[execmodel.ConcurrencyType]int),
	}
}

func (s *capSnapshot) clone() *capSnapshot {
	out := emptySnapshot()
	for ct, byBroker := range s.perBroker {
		cp := make(map[int32]int, len(byBroker))
		for b, v := range byBroker {
			cp[b] = v
		}
		out.perBroker[ct] = cp
	}
	for ct, v := range s.cluster {
		out.cluster[ct] = v
	}
	return out
}

// Manager holds the four concurrency dimensions' caps. Writes are
// serialized by mu; reads go through an atomic.Pointer snapshot so a
// concurrent admission decision never blocks on a writer.
type Manager struct {
	mu       sync.Mutex
	snapshot atomic.Pointer[capSnapshot]
	aimd     map[execmodel.ConcurrencyType]execconfig.AIMDConstants
}

// NewManager constructs an uninitialized Manager; call Initialize before use.
func NewManager(aimd map[execmodel.ConcurrencyType]execconfig.AIMDConstants) *Manager {
	m := &Manager{aimd: aimd}
	m.snapshot.Store(emptySnapshot())
	return m
}

func (m *Manager) clampFor(t execmodel.ConcurrencyType, v int) int {
	c, ok := m.aimd[t]
	if !ok {
		return v
	}
	return c.Clamp(v)
}

// Initialize seeds per-broker caps for every broker from requested (or a
// dimension default if requested is zero), for every dimension.
func (m *Manager) Initialize(brokers []int32, requested map[execmodel.ConcurrencyType]int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := emptySnapshot()
	for _, ct := range execmodel.AllConcurrencyTypes {
		v := requested[ct]
		if v <= 0 {
			v = m.clampFor(ct, m.aimd[ct].Max)
		} else {
			v = m.clampFor(ct, v)
		}
		if ct.PerBroker() {
			byBroker := make(map[int32]int, len(brokers))
			for _, b := range brokers {
				byBroker[b] = v
			}
			next.perBroker[ct] = byBroker
		} else {
			next.cluster[ct] = v
		}
	}
	m.snapshot.Store(next)
}

// IsInitialized reports whether Initialize has ever been called.
func (m *Manager) IsInitialized() bool {
	snap := m.snapshot.Load()
	return len(snap.perBroker) > 0 || len(snap.cluster) > 0
}

// SetForAllBrokersOrCluster writes a uniform value across every broker (or
// the single cluster value) for one dimension.
func (m *Manager) SetForAllBrokersOrCluster(concurrency int, t execmodel.ConcurrencyType) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := m.clampFor(t, concurrency)
	cur := m.snapshot.Load()
	next := cur.clone()
	if t.PerBroker() {
		byBroker := next.perBroker[t]
		if byBroker == nil {
			byBroker = make(map[int32]int)
		}
		for b := range byBroker {
			byBroker[b] = v
		}
		next.perBroker[t] = byBroker
	} else {
		next.cluster[t] = v
	}
	m.snapshot.Store(next)
}

// SetForBroker writes one broker's cap for one dimension. No-op for
// cluster-wide dimensions.
func (m *Manager) SetForBroker(broker int32, concurrency int, t execmodel.ConcurrencyType) {
	if !t.PerBroker() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	v := m.clampFor(t, concurrency)
	cur := m.snapshot.Load()
	next := cur.clone()
	byBroker := next.perBroker[t]
	if byBroker == nil {
		byBroker = make(map[int32]int)
	}
	byBroker[broker] = v
	next.perBroker[t] = byBroker
	m.snapshot.Store(next)
}

// CapForBroker returns the current cap for (broker, dimension). Lock-free.
func (m *Manager) CapForBroker(broker int32, t execmodel.ConcurrencyType) int {
	snap := m.snapshot.Load()
	if byBroker, ok := snap.perBroker[t]; ok {
		return byBroker[broker]
	}
	return 0
}

// ClusterCap returns the current cluster-wide cap for a dimension.
// Lock-free.
func (m *Manager) ClusterCap(t execmodel.ConcurrencyType) int {
	snap := m.snapshot.Load()
	return snap.cluster[t]
}

// Summary is min/max/avg over a dimension's per-broker caps.
type Summary struct {
	Min int
	Max int
	Avg float64
}

// GetExecutionConcurrencySummary returns min/max/avg over per-broker caps
// for t. For cluster-wide dimensions min=max=avg=the single value.
func (m *Manager) GetExecutionConcurrencySummary(t execmodel.ConcurrencyType) Summary {
	snap := m.snapshot.Load()
	if !t.PerBroker() {
		v := snap.cluster[t]
		return Summary{Min: v, Max: v, Avg: float64(v)}
	}

	byBroker := snap.perBroker[t]
	if len(byBroker) == 0 {
		return Summary{}
	}
	min, max, sum := -1, -1, 0
	for _, v := range byBroker {
		if min == -1 || v < min {
			min = v
		}
		if max == -1 || v > max {
			max = v
		}
		sum += v
	}
	return Summary{Min: min, Max: max, Avg: float64(sum) / float64(len(byBroker))}
}

// Brokers returns the set of brokers known to a per-broker dimension.
func (m *Manager) Brokers(t execmodel.ConcurrencyType) []int32 {
	snap := m.snapshot.Load()
	byBroker, ok := snap.perBroker[t]
	if !ok {
		return nil
	}
	out := make([]int32, 0, len(byBroker))
	for b := range byBroker {
		out = append(out, b)
	}
	return out
}
