// Package statemachine implements the node role state machine: Init →
// Discover → Candidate → {ClusterHead | Member}, conflict resolution and
// re-election triggers (spec §4.7).
package statemachine

import (
	"sync"
	"time"
)

// State is one of the node's tagged-variant roles (spec §3 NodeState).
type State int

const (
	Init State = iota
	Discover
	Candidate
	ClusterHead
	Member
	UavOnboarding
	Sleep
)

func (s State) String() string {
	switch s {
	case Init:
		return "INIT"
	case Discover:
		return "DISCOVER"
	case Candidate:
		return "CANDIDATE"
	case ClusterHead:
		return "CH"
	case Member:
		return "MEMBER"
	case UavOnboarding:
		return "UAV_ONBOARDING"
	case Sleep:
		return "SLEEP"
	default:
		return "UNKNOWN"
	}
}

// Timing constants (spec §4.7, grounded on state_machine.c's observed
// delays and config.h's ELECTION_WINDOW_MS).
const (
	InitSettle      = 2 * time.Second
	DiscoverWindow  = 5 * time.Second
	ElectionWindow  = 5 * time.Second
	CHDiscoverDelay = 2 * time.Second // minimum time in Discover before an observed CH is accepted

	// ObservedRoleHoldInterval is how long a Member display is held before a
	// demotion to Candidate/Discover is allowed to show (spec §4.7 "Debounce
	// for observable state").
	ObservedRoleHoldInterval = 15 * time.Second
)

// Inputs are the value-typed callbacks the machine drives on each Tick
// (spec §9 "prefer cooperating tasks communicating by value-typed messages
// rather than shared pointers"). All are required.
type Inputs struct {
	// CurrentCH returns the best live CH's node_id, or 0 (neighbor.Table.CurrentCH).
	CurrentCH func(now time.Time) uint32
	// CleanupStale drops timed-out neighbor entries (neighbor.Table.CleanupStale).
	CleanupStale func(now time.Time)
	// RunElection runs one election round and returns the winner's node_id,
	// or 0 if no candidate qualified.
	RunElection func() uint32
	// ShouldYieldCH reports whether a CH-role node should step down this tick.
	ShouldYieldCH func() bool
}

// Machine owns the current role and the timers that drive its transitions.
// Not safe for concurrent Tick calls; the orchestrator's state_machine_task
// is the sole caller (spec §5).
type Machine struct {
	SelfNodeID uint32

	state      State
	stateEntry time.Time

	electionWindowStart time.Time

	observed DebouncedRole
}

// NewMachine constructs a Machine in Init, entered at now.
func NewMachine(selfNodeID uint32, now time.Time) *Machine {
	return &Machine{SelfNodeID: selfNodeID, state: Init, stateEntry: now}
}

// State returns the current authoritative role.
func (m *Machine) State() State { return m.state }

// IsCH mirrors spec §4.7's global is_ch flag: true iff state == ClusterHead.
func (m *Machine) IsCH() bool { return m.state == ClusterHead }

// ObservedState returns the debounced role suitable for a flicker-prone
// observer (e.g. an LED), per spec §4.7.
func (m *Machine) ObservedState(now time.Time) State {
	return m.observed.Update(m.state, now)
}

func (m *Machine) transition(to State, now time.Time) {
	if m.state == to {
		return
	}
	m.state = to
	m.stateEntry = now
}

func (m *Machine) resetElectionWindow(now time.Time) {
	m.electionWindowStart = now
}

// Tick runs one state_machine_task invocation (spec §5, 10 Hz).
func (m *Machine) Tick(now time.Time, in Inputs) {
	switch m.state {
	case Init:
		if now.Sub(m.stateEntry) >= InitSettle {
			m.transition(Discover, now)
		}

	case Discover:
		elapsed := now.Sub(m.stateEntry)
		if elapsed >= CHDiscoverDelay {
			if in.CurrentCH(now) != 0 {
				m.transition(Member, now)
				return
			}
		}
		if elapsed >= DiscoverWindow {
			m.transition(Candidate, now)
			m.resetElectionWindow(now)
		}

	case Candidate:
		in.CleanupStale(now)
		if m.electionWindowStart.IsZero() {
			m.resetElectionWindow(now)
		}
		if now.Sub(m.electionWindowStart) >= ElectionWindow {
			winner := in.RunElection()
			switch {
			case winner == m.SelfNodeID && winner != 0:
				m.transition(ClusterHead, now)
			case winner != 0:
				m.transition(Member, now)
			default:
				m.transition(Discover, now)
			}
		}

	case ClusterHead:
		in.CleanupStale(now)
		if in.ShouldYieldCH() {
			if other := in.CurrentCH(now); other != 0 {
				m.transition(Member, now)
			} else {
				m.transition(Candidate, now)
				m.resetElectionWindow(now)
			}
		}

	case Member:
		in.CleanupStale(now)
		if in.CurrentCH(now) == 0 {
			m.transition(Candidate, now)
			m.resetElectionWindow(now)
		}

	case UavOnboarding, Sleep:
		// out of core: entry/exit handled by TriggerUavOnboarding/Resume below.
	}
}

// TriggerUavOnboarding forces an immediate transition out of core duties
// (spec §6 control-surface TRIGGER_UAV).
func (m *Machine) TriggerUavOnboarding(now time.Time) {
	m.transition(UavOnboarding, now)
}

// ResumeFromOnboarding returns to ClusterHead after UavOnboarding completes
// (spec §4.7 "return to CH on completion").
func (m *Machine) ResumeFromOnboarding(now time.Time) {
	if m.state == UavOnboarding {
		m.transition(ClusterHead, now)
	}
}

// DebouncedRole suppresses CH/Member flicker for an observer display: once
// shown as Member, a demotion to Candidate or Discover is held back for
// ObservedRoleHoldInterval. Promotions to ClusterHead or a reset to Init
// always apply immediately (spec §4.7).
type DebouncedRole struct {
	mu        sync.Mutex
	displayed State
	since     time.Time
}

// Update folds the authoritative state into the debounced display value.
func (d *DebouncedRole) Update(actual State, now time.Time) State {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.since.IsZero() {
		d.displayed = actual
		d.since = now
		return d.displayed
	}

	if d.displayed == Member && (actual == Candidate || actual == Discover) {
		if now.Sub(d.since) < ObservedRoleHoldInterval {
			return d.displayed
		}
	}

	if actual != d.displayed {
		d.displayed = actual
		d.since = now
	}
	return d.displayed
}

// SmartSleepDuration picks the next sleep interval (spec §4.7 "Smart
// sleep"): a Member with a fresh schedule sleeps until its next slot start;
// otherwise it sleeps modeDefault.
func SmartSleepDuration(state State, scheduleFresh bool, now, nextSlotStart time.Time, modeDefault time.Duration) time.Duration {
	if state == Member && scheduleFresh && nextSlotStart.After(now) {
		return nextSlotStart.Sub(now)
	}
	return modeDefault
}
