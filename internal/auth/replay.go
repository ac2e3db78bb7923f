package auth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ReplayWindowMS is the default acceptance window around "now" (spec §4.1).
const ReplayWindowMS = 60_000

// ReplayMax bounds the replay table; beyond this, the oldest entry is
// evicted FIFO (spec §3 ReplayEntry).
const ReplayMax = 32

type replayEntry struct {
	nodeID        uint32
	lastTimestamp int64
}

// ReplayTable tracks, per node, the last-accepted beacon timestamp, with a
// bounded FIFO-evicted table and a 5-second throttle on "table full"
// warnings (mirrors the neighbor table's own throttle, spec §4.5).
type ReplayTable struct {
	mu        sync.Mutex
	entries   []replayEntry // ordered oldest-first for FIFO eviction
	byNode    map[uint32]int
	windowMS  int64
	warnLimit *rate.Limiter
}

// NewReplayTable constructs an empty table with the default window.
func NewReplayTable() *ReplayTable {
	return &ReplayTable{
		byNode:    make(map[uint32]int),
		windowMS:  ReplayWindowMS,
		warnLimit: rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
}

// Check validates timestampMs against nowMs ± window and against the last
// timestamp seen from nodeID, then records the new timestamp on success.
// It never mutates state on rejection.
func (t *ReplayTable) Check(nodeID uint32, timestampMs int64, nowMs int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if timestampMs > nowMs+t.windowMS || timestampMs < nowMs-t.windowMS {
		return ErrNotFresh
	}

	if idx, ok := t.byNode[nodeID]; ok {
		if timestampMs <= t.entries[idx].lastTimestamp {
			return ErrReplay
		}
		t.entries[idx].lastTimestamp = timestampMs
		return nil
	}

	if len(t.entries) >= ReplayMax {
		t.evictOldestLocked()
	}
	t.entries = append(t.entries, replayEntry{nodeID: nodeID, lastTimestamp: timestampMs})
	t.byNode[nodeID] = len(t.entries) - 1
	return nil
}

// ShouldWarnFull reports whether a "replay table full" log line should be
// emitted right now, throttled to at most once per 5 seconds.
func (t *ReplayTable) ShouldWarnFull() bool {
	return t.warnLimit.Allow()
}

func (t *ReplayTable) evictOldestLocked() {
	evicted := t.entries[0]
	t.entries = t.entries[1:]
	delete(t.byNode, evicted.nodeID)
	for id, idx := range t.byNode {
		t.byNode[id] = idx - 1
	}
}

// LastSeen returns the last-accepted timestamp for nodeID, if any.
func (t *ReplayTable) LastSeen(nodeID uint32) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	idx, ok := t.byNode[nodeID]
	if !ok {
		return 0, false
	}
	return t.entries[idx].lastTimestamp, true
}

// Len reports the current number of tracked nodes.
func (t *ReplayTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// ReplaySnapshotEntry is one row of a persisted replay-table snapshot
// (spec.md is silent on surviving a reboot; see DESIGN.md's resolution).
type ReplaySnapshotEntry struct {
	NodeID        uint32
	LastTimestamp int64
}

// Snapshot copies the table's current FIFO order for persistence.
func (t *ReplayTable) Snapshot() []ReplaySnapshotEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ReplaySnapshotEntry, len(t.entries))
	for i, e := range t.entries {
		out[i] = ReplaySnapshotEntry{NodeID: e.nodeID, LastTimestamp: e.lastTimestamp}
	}
	return out
}

// Restore replaces the table's contents with a previously saved snapshot,
// keeping only its newest ReplayMax entries (still in oldest-first order) if
// the snapshot is larger.
func (t *ReplayTable) Restore(snapshot []ReplaySnapshotEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(snapshot) > ReplayMax {
		snapshot = snapshot[len(snapshot)-ReplayMax:]
	}
	t.entries = t.entries[:0]
	t.byNode = make(map[uint32]int, len(snapshot))
	for _, e := range snapshot {
		t.entries = append(t.entries, replayEntry{nodeID: e.NodeID, lastTimestamp: e.LastTimestamp})
		t.byNode[e.NodeID] = len(t.entries) - 1
	}
}
