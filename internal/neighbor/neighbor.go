// Package neighbor implements the fixed-size one-hop peer table: RSSI/PDR
// smoothing, CH-liveness tracking and trust bookkeeping (spec §4.5).
package neighbor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"wsnnode/internal/metrics"
)

// MaxNeighbors bounds the table (spec §3, grounded on config.h MAX_NEIGHBORS).
const MaxNeighbors = 20

// NeighborTimeout drops an entry once it has been silent this long.
const NeighborTimeout = 30 * time.Second

// CHBeaconTimeout is how stale a CH announcement may be before it no longer
// counts as "current" (spec §4.5 current_ch).
const CHBeaconTimeout = 15 * time.Second

// ClusterRadiusRSSI is the minimum smoothed RSSI a neighbor must sustain to
// be considered in-radius for election eligibility (spec §4.6, grounded on
// config.h CLUSTER_RADIUS_RSSI_THRESHOLD).
const ClusterRadiusRSSI = -85.0

// ErrTableFull is returned by Update when inserting a new node_id would
// exceed MaxNeighbors.
var ErrTableFull = errors.New("neighbor: table full")

// ErrNotFound is returned by node_id-keyed operations for an unknown peer.
var ErrNotFound = errors.New("neighbor: not found")

// Entry mirrors a one-hop peer's last-known state (spec §3 NeighborEntry).
type Entry struct {
	NodeID   uint32
	MAC      [6]byte
	RSSIEwma float64
	LastRSSI float64

	Battery     float64
	Uptime      uint64
	Trust       float64
	LinkQuality float64
	Score       float64

	IsCH                bool
	CHAnnounceTimestamp time.Time

	LastSeen   time.Time
	Verified   bool
	LastSeqNum uint8
}

func (e Entry) fresh(now time.Time) bool {
	return now.Sub(e.LastSeen) < NeighborTimeout
}

func (e Entry) chFresh(now time.Time) bool {
	return now.Sub(e.CHAnnounceTimestamp) < CHBeaconTimeout
}

// LinkFeed receives the PER/HMAC signal a successful neighbor update derives,
// so the self metrics engine can fold it into trust and link quality. This
// is satisfied by *metrics.Engine in production wiring.
type LinkFeed interface {
	RecordBLEReception(successes, failures int)
}

// Table is the fixed-size peer table, guarded by a non-recursive mutex.
// Every public operation blocks until it acquires the mutex; there is no
// bounded wait and no Busy result. Readers always copy entries out so no
// reference escapes the lock (spec §9).
type Table struct {
	mu      sync.Mutex
	entries map[uint32]*Entry
	order   []uint32 // insertion order, for deterministic GetAll

	warnFullLimiter *rate.Limiter

	// Feed receives PER accounting derived from sequence-number gaps.
	Feed LinkFeed
}

// NewTable constructs an empty table.
func NewTable() *Table {
	return &Table{
		entries:         make(map[uint32]*Entry),
		warnFullLimiter: rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
}

// ShouldWarnFull reports whether a "table full" log line should be emitted
// now, throttled to once per 5 seconds (spec §4.5).
func (t *Table) ShouldWarnFull() bool {
	return t.warnFullLimiter.Allow()
}

// seqGap computes the number of beacons missed between lastSeq and seq per
// spec §4.4 PER accounting: gap = ((seq - lastSeq) mod 256) - 1. A gap over
// 20 is treated as a reboot and ignored (returns 0 missed, 0 received delta).
func seqGap(lastSeq, seq uint8) (missed int, reboot bool) {
	diff := int(seq) - int(lastSeq)
	if diff < 0 {
		diff += 256
	}
	gap := diff - 1
	if gap > 20 {
		return 0, true
	}
	if gap < 0 {
		gap = 0
	}
	return gap, false
}

// Update upserts a peer's state from a freshly authenticated beacon.
// On a hit, it updates the RSSI EWMA, refreshes LastSeen, computes the
// sequence-number gap and feeds the derived PER into Feed. On a miss it
// inserts a new entry, returning ErrTableFull if the table is already at
// MaxNeighbors (spec §4.5 update()).
func (t *Table) Update(nodeID uint32, mac [6]byte, rssi float64, score, battery float64, uptime uint64, trust, linkQuality float64, isCH bool, seq uint8, now time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[nodeID]
	if !ok {
		if len(t.entries) >= MaxNeighbors {
			return ErrTableFull
		}
		e = &Entry{NodeID: nodeID}
		t.entries[nodeID] = e
		t.order = append(t.order, nodeID)
	} else {
		missed, reboot := seqGap(e.LastSeqNum, seq)
		if !reboot && t.Feed != nil {
			t.Feed.RecordBLEReception(1, missed)
		}
	}

	e.MAC = mac
	e.LastRSSI = rssi
	e.RSSIEwma = metrics.RSSIEwmaAlpha*rssi + (1-metrics.RSSIEwmaAlpha)*e.RSSIEwma
	e.Battery = battery
	e.Uptime = uptime
	e.Trust = trust
	e.LinkQuality = linkQuality
	e.Score = score
	e.LastSeqNum = seq
	e.LastSeen = now
	if isCH {
		e.IsCH = true
		e.CHAnnounceTimestamp = now
	} else {
		e.IsCH = false
	}

	return nil
}

// GetAll copies out every tracked entry in insertion order.
func (t *Table) GetAll() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, 0, len(t.order))
	for _, id := range t.order {
		if e, ok := t.entries[id]; ok {
			out = append(out, *e)
		}
	}
	return out
}

// Get copies out a single entry.
func (t *Table) Get(nodeID uint32) (Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[nodeID]
	if !ok {
		return Entry{}, fmt.Errorf("%w: node %d", ErrNotFound, nodeID)
	}
	return *e, nil
}

// CleanupStale drops entries whose LastSeen is older than NeighborTimeout.
func (t *Table) CleanupStale(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.order[:0]
	for _, id := range t.order {
		e := t.entries[id]
		if e.fresh(now) {
			kept = append(kept, id)
			continue
		}
		delete(t.entries, id)
	}
	t.order = kept
}

// CurrentCH returns the node_id of the best verified, trusted, fresh CH
// among the table, or 0 if none qualifies (spec §4.5 current_ch()).
func (t *Table) CurrentCH(now time.Time) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()

	var best uint32
	var bestScore float64
	for _, id := range t.order {
		e := t.entries[id]
		if !e.IsCH || !e.Verified || e.Trust < metrics.TrustFloor {
			continue
		}
		if !e.chFresh(now) {
			continue
		}
		if best == 0 || e.Score > bestScore {
			best = id
			bestScore = e.Score
		}
	}
	return best
}

// UpdateTrust folds a delivery outcome into a peer's trust EWMA:
// trust ← 0.9·trust + 0.1·(1|0); Verified flips on once trust exceeds 0.3
// (spec §4.5 update_trust).
func (t *Table) UpdateTrust(nodeID uint32, success bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[nodeID]
	if !ok {
		return fmt.Errorf("%w: node %d", ErrNotFound, nodeID)
	}
	var val float64
	if success {
		val = 1.0
	}
	e.Trust = 0.9*e.Trust + 0.1*val
	if e.Trust > 0.3 {
		e.Verified = true
	}
	return nil
}

// Len reports how many peers are currently tracked.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
