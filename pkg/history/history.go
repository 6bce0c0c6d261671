// Package history implements the time-bounded broker-history maps (C9):
// last demote/remove start timestamps per broker, with a PERMANENT
// sentinel for user-pinned entries that never expire.
package history

import (
	"sync"
	"time"
)

// Permanent is the sentinel timestamp marking a user-pinned entry that
// never expires, regardless of retention.
const Permanent int64 = -1

// Kind is one of the two histories tracked (demote, remove). Each has its
// own retention window.
type Kind int

const (
	Demote Kind = iota
	Remove
)

// Keeper holds the per-broker last-start-time maps for both demote and
// remove history, each with its own retention window.
type Keeper struct {
	mu sync.RWMutex

	demoted map[int32]int64
	removed map[int32]int64

	demotionRetentionMs int64
	removalRetentionMs  int64
}

// NewKeeper constructs a Keeper with the given per-kind retention windows.
func NewKeeper(demotionRetentionMs, removalRetentionMs int64) *Keeper {
	return &Keeper{
		demoted:             make(map[int32]int64),
		removed:             make(map[int32]int64),
		demotionRetentionMs: demotionRetentionMs,
		removalRetentionMs:  removalRetentionMs,
	}
}

func (k *Keeper) mapFor(kind Kind) map[int32]int64 {
	if kind == Demote {
		return k.demoted
	}
	return k.removed
}

func (k *Keeper) retentionFor(kind Kind) int64 {
	if kind == Demote {
		return k.demotionRetentionMs
	}
	return k.removalRetentionMs
}

// Add records brokers as recently touched under kind at nowMs. Passing
// Permanent as nowMs pins the entry so it never expires.
func (k *Keeper) Add(kind Kind, brokers []int32, nowMs int64) {
	k.mu.Lock()
	defer k.mu.Unlock()

	m := k.mapFor(kind)
	for _, b := range brokers {
		m[b] = nowMs
	}
}

// Drop removes brokers from kind's history, except entries marked
// Permanent, which stay permanent (per the round-trip idempotence
// invariant: add-then-drop restores prior membership, but a pin survives).
func (k *Keeper) Drop(kind Kind, brokers []int32) {
	k.mu.Lock()
	defer k.mu.Unlock()

	m := k.mapFor(kind)
	for _, b := range brokers {
		if m[b] == Permanent {
			continue
		}
		delete(m, b)
	}
}

// Brokers returns the current set of brokers tracked under kind, as of
// nowMs — entries older than the kind's retention (and not Permanent) are
// treated as already expired and excluded.
func (k *Keeper) Brokers(kind Kind, nowMs int64) []int32 {
	k.mu.RLock()
	defer k.mu.RUnlock()

	m := k.mapFor(kind)
	retention := k.retentionFor(kind)
	out := make([]int32, 0, len(m))
	for b, startedAt := range m {
		if startedAt == Permanent {
			out = append(out, b)
			continue
		}
		if nowMs-startedAt <= retention {
			out = append(out, b)
		}
	}
	return out
}

// Sweep evicts every non-Permanent entry older than its kind's retention,
// as of nowMs. Intended to run on a periodic timer independent of reads.
func (k *Keeper) Sweep(nowMs int64) {
	k.mu.Lock()
	defer k.mu.Unlock()

	for _, kind := range []Kind{Demote, Remove} {
		m := k.mapFor(kind)
		retention := k.retentionFor(kind)
		for b, startedAt := range m {
			if startedAt == Permanent {
				continue
			}
			if nowMs-startedAt > retention {
				delete(m, b)
			}
		}
	}
}

// RunSweeper starts a goroutine sweeping every interval until stop is
// closed. It returns nothing and uses no WaitGroup: closing stop is the
// only way to end it, matching the module's other periodic-timer
// components.
func (k *Keeper) RunSweeper(interval time.Duration, nowFn func() int64, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				k.Sweep(nowFn())
			}
		}
	}()
}
