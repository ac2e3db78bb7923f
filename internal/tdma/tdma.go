// Package tdma implements the CH-side slot scheduler and the member-side
// slot-aware send gating (spec §4.8).
package tdma

import (
	"sort"
	"time"

	"wsnnode/internal/wireproto"
)

// CycleInterval is how often the CH recomputes and redistributes the
// schedule (spec §4.8 "Every CYCLE_MS (≈ 10 s)").
const CycleInterval = 10 * time.Second

// StartDelay is how far into the future the CH places the new epoch, giving
// members time to receive their Schedule before it begins (spec §4.8).
const StartDelay = 5 * time.Second

// DefaultSlotDuration is used when the caller does not need a different
// per-cycle slot width.
const DefaultSlotDuration = 1 * time.Second

// ScheduleStaleAfter bounds how old a cached Schedule may be before members
// fall back to the default cadence (spec §4.8 "no older than CYCLE_MS × 10").
const ScheduleStaleAfter = 10 * CycleInterval

// MemberFallbackCadence is the send interval members use outside a slot.
const MemberFallbackCadence = 1 * time.Second

// SlotExitMargin is how much time must remain in a slot before a member
// stops bursting queued sends (spec §4.8 "fewer than 1 s remain").
const SlotExitMargin = 1 * time.Second

// Member is one cluster member's snapshot input to slot assignment.
type Member struct {
	NodeID      uint32
	LinkQuality float64 // [0,1]
	Battery     float64 // [0,1]
}

// priority = link_quality*100 + (100 - battery*100): higher link quality and
// lower battery sort first (spec §4.8 step 2).
func priority(m Member) float64 {
	return m.LinkQuality*100 + (100 - m.Battery*100)
}

// Assignment is one member's slot within the new cycle.
type Assignment struct {
	NodeID    uint32
	SlotIndex uint8
}

// BuildCycle snapshots members, sorts them by priority and assigns
// ascending slot indices, returning the epoch all members should schedule
// against (spec §4.8 steps 1-3). slotDuration is carried by the caller into
// each unicast Schedule message.
func BuildCycle(members []Member, now time.Time) (epoch time.Time, assignments []Assignment) {
	ordered := make([]Member, len(members))
	copy(ordered, members)
	sort.SliceStable(ordered, func(i, j int) bool {
		return priority(ordered[i]) > priority(ordered[j])
	})

	epoch = now.Add(StartDelay)
	assignments = make([]Assignment, len(ordered))
	for i, m := range ordered {
		assignments[i] = Assignment{NodeID: m.NodeID, SlotIndex: uint8(i)}
	}
	return epoch, assignments
}

// BuildSchedule renders one member's unicast Schedule message (spec §6).
func BuildSchedule(epoch time.Time, slotIndex uint8, slotDuration time.Duration) wireproto.Schedule {
	return wireproto.Schedule{
		Magic:         wireproto.ScheduleMagic,
		EpochMicros:   epoch.UnixMicro(),
		SlotIndex:     slotIndex,
		SlotDurationS: uint8(slotDuration / time.Second),
	}
}

// CachedSchedule is what a member retains between CH unicasts.
type CachedSchedule struct {
	Epoch        time.Time
	SlotIndex    uint8
	SlotDuration time.Duration
	ReceivedAt   time.Time
}

// FromWire decodes a wireproto.Schedule into a CachedSchedule stamped with
// receivedAt (the member's local arrival time).
func FromWire(s wireproto.Schedule, receivedAt time.Time) CachedSchedule {
	return CachedSchedule{
		Epoch:        time.UnixMicro(s.EpochMicros),
		SlotIndex:    s.SlotIndex,
		SlotDuration: time.Duration(s.SlotDurationS) * time.Second,
		ReceivedAt:   receivedAt,
	}
}

// Fresh reports whether the cached schedule is still usable (spec §4.8: no
// older than CYCLE_MS*10 since it was received).
func (c CachedSchedule) Fresh(now time.Time) bool {
	if c.ReceivedAt.IsZero() {
		return false
	}
	return now.Sub(c.ReceivedAt) < ScheduleStaleAfter
}

// slotWindow returns [start, end) for c's assigned slot index.
func (c CachedSchedule) slotWindow() (start, end time.Time) {
	start = c.Epoch.Add(time.Duration(c.SlotIndex) * c.SlotDuration)
	end = start.Add(c.SlotDuration)
	return start, end
}

// InSlot reports whether now falls within c's assigned slot (spec §4.8
// "epoch + i·dur ≤ now < epoch + (i+1)·dur").
func (c CachedSchedule) InSlot(now time.Time) bool {
	start, end := c.slotWindow()
	return !now.Before(start) && now.Before(end)
}

// ShouldContinueBurst reports whether a member mid-burst in its slot may
// send another payload: it must still be in-slot with at least
// SlotExitMargin remaining (spec §4.8 "yielding between sends to avoid
// overruns").
func (c CachedSchedule) ShouldContinueBurst(now time.Time) bool {
	_, end := c.slotWindow()
	return c.InSlot(now) && now.Before(end.Add(-SlotExitMargin))
}

// NextSlotStart returns the start of c's slot if it is still ahead of now,
// used by the state machine's smart-sleep calculation (spec §4.7).
func (c CachedSchedule) NextSlotStart(now time.Time) (time.Time, bool) {
	start, _ := c.slotWindow()
	if start.After(now) {
		return start, true
	}
	return time.Time{}, false
}
