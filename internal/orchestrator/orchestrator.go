// Package orchestrator wires the per-node components into the periodic
// task set spec §5 describes: state_machine_task at 10 Hz, metrics_task at
// 1 Hz, and the CH-side TDMA cycle rebuild every tdma.CycleInterval.
// Grounded on the pack's taskManager package (gocron.NewScheduler,
// s.NewJob(gocron.DurationJob(d), gocron.NewTask(...)), Start/Shutdown).
package orchestrator

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"

	"wsnnode/internal/election"
	"wsnnode/internal/metrics"
	"wsnnode/internal/neighbor"
	"wsnnode/internal/statemachine"
	"wsnnode/internal/tdma"
	"wsnnode/internal/telemetry"
)

// StateMachineTickInterval is the state_machine_task cadence (spec §5).
const StateMachineTickInterval = 100 * time.Millisecond

// MetricsTickInterval is the metrics_task cadence (spec §5).
const MetricsTickInterval = 1 * time.Second

// Deps bundles the already-constructed per-node components the orchestrator
// drives. Machine, Metrics and Neighbors are required; Telemetry and
// SlotDuration are optional.
type Deps struct {
	SelfNodeID uint32
	Machine    *statemachine.Machine
	Metrics    *metrics.Engine
	Neighbors  *neighbor.Table

	// Telemetry, if set, receives ElectionRuns increments (spec §7's
	// non-fatal-event counters).
	Telemetry *telemetry.Registry

	// OnScheduleRebuilt receives the epoch and per-member assignments a CH
	// cycle rebuild produced, so the caller can unicast wireproto.Schedule
	// messages (out of this package's scope; spec §4.8 step 4).
	OnScheduleRebuilt func(epoch time.Time, assignments []tdma.Assignment)
	// SlotDuration is carried into BuildSchedule by the caller via
	// OnScheduleRebuilt; BuildCycle itself is duration-agnostic.
	SlotDuration time.Duration
}

// Orchestrator owns the gocron.Scheduler driving Deps's periodic tasks.
type Orchestrator struct {
	deps      Deps
	scheduler gocron.Scheduler
}

// New constructs an Orchestrator. It does not start the scheduler; call
// Start for that.
func New(deps Deps) (*Orchestrator, error) {
	if deps.Machine == nil || deps.Metrics == nil || deps.Neighbors == nil {
		return nil, fmt.Errorf("orchestrator: Machine, Metrics and Neighbors are required")
	}
	if deps.SlotDuration <= 0 {
		deps.SlotDuration = tdma.DefaultSlotDuration
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("orchestrator: new scheduler: %w", err)
	}
	return &Orchestrator{deps: deps, scheduler: s}, nil
}

// stateMachineInputs builds the statemachine.Inputs closures over o.deps,
// evaluated fresh on every Tick since the neighbor table and metrics engine
// mutate underneath them.
func (o *Orchestrator) stateMachineInputs() statemachine.Inputs {
	return statemachine.Inputs{
		CurrentCH:     o.deps.Neighbors.CurrentCH,
		CleanupStale:  o.deps.Neighbors.CleanupStale,
		RunElection:   o.runElection,
		ShouldYieldCH: o.shouldYieldCH,
	}
}

// runElection gathers self plus every eligible neighbor into one
// election.Run call and returns the winner's node_id (spec §4.6, §4.7
// Candidate state).
func (o *Orchestrator) runElection() uint32 {
	cands := o.candidates()
	if len(cands) == 0 {
		return 0
	}
	result := election.Run(cands, o.deps.Metrics.Weights())
	if o.deps.Telemetry != nil {
		o.deps.Telemetry.ElectionRuns.Inc()
	}
	return result.WinnerID
}

// candidates snapshots self and every election-eligible neighbor into
// election candidates. A neighbor is eligible only once it is verified,
// trusted, and within cluster radius (spec §4.6 phase 1 preconditions);
// self centrality is derived from the RSSI of that same eligible set
// rather than defaulting to a fixed κ. Remote nodes use
// election.RemoteCentrality (spec §4.6 phase 1 "no local RSSI variance
// estimate for a remote peer").
func (o *Orchestrator) candidates() []election.Candidate {
	self := o.deps.Metrics.Current()
	all := o.deps.Neighbors.GetAll()

	rssiSamples := make([]float64, 0, len(all))
	for _, e := range all {
		if e.Verified && e.Trust >= metrics.TrustFloor && e.RSSIEwma >= neighbor.ClusterRadiusRSSI {
			rssiSamples = append(rssiSamples, e.RSSIEwma)
		}
	}

	cands := []election.Candidate{{
		NodeID:     o.deps.SelfNodeID,
		Metrics:    self,
		Centrality: election.SelfCentrality(rssiSamples),
	}}
	for _, e := range all {
		if !e.Verified || e.Trust < metrics.TrustFloor || e.RSSIEwma < neighbor.ClusterRadiusRSSI {
			continue
		}
		cands = append(cands, election.Candidate{
			NodeID: e.NodeID,
			Metrics: metrics.NodeMetrics{
				Battery:       e.Battery,
				UptimeSeconds: e.Uptime,
				Trust:         e.Trust,
				LinkQuality:   e.LinkQuality,
				StellarScore:  e.Score,
			},
			Centrality: election.RemoteCentrality,
		})
	}
	return cands
}

// shouldYieldCH reports whether a verified remote CH's score beats self's by
// more than election.ReelectionEpsilon (spec §4.6 re-election trigger).
func (o *Orchestrator) shouldYieldCH() bool {
	now := time.Now()
	chID := o.deps.Neighbors.CurrentCH(now)
	if chID == 0 || chID == o.deps.SelfNodeID {
		return false
	}
	chEntry, err := o.deps.Neighbors.Get(chID)
	if err != nil {
		return false
	}
	self := o.deps.Metrics.Current()
	return chEntry.Score > self.StellarScore+election.ReelectionEpsilon
}

// tickStateMachine runs one state_machine_task invocation.
func (o *Orchestrator) tickStateMachine() {
	o.deps.Machine.Tick(time.Now(), o.stateMachineInputs())
}

// tickMetrics runs one metrics_task invocation.
func (o *Orchestrator) tickMetrics() {
	o.deps.Metrics.Update(time.Now())
}

// rebuildCycle rebuilds the TDMA cycle when self is CH, feeding the result
// to OnScheduleRebuilt (spec §4.8 steps 1-4). A non-CH tick is a no-op: the
// CH is the only node that assigns slots.
func (o *Orchestrator) rebuildCycle() {
	if !o.deps.Machine.IsCH() {
		return
	}
	now := time.Now()
	members := make([]tdma.Member, 0, o.deps.Neighbors.Len())
	for _, e := range o.deps.Neighbors.GetAll() {
		members = append(members, tdma.Member{NodeID: e.NodeID, LinkQuality: e.LinkQuality, Battery: e.Battery})
	}
	epoch, assignments := tdma.BuildCycle(members, now)
	if o.deps.OnScheduleRebuilt != nil {
		o.deps.OnScheduleRebuilt(epoch, assignments)
	}
}

// Start registers every periodic job and starts the scheduler.
func (o *Orchestrator) Start() error {
	if _, err := o.scheduler.NewJob(
		gocron.DurationJob(StateMachineTickInterval),
		gocron.NewTask(o.tickStateMachine),
	); err != nil {
		return fmt.Errorf("orchestrator: register state machine task: %w", err)
	}

	if _, err := o.scheduler.NewJob(
		gocron.DurationJob(MetricsTickInterval),
		gocron.NewTask(o.tickMetrics),
	); err != nil {
		return fmt.Errorf("orchestrator: register metrics task: %w", err)
	}

	if _, err := o.scheduler.NewJob(
		gocron.DurationJob(tdma.CycleInterval),
		gocron.NewTask(o.rebuildCycle),
	); err != nil {
		return fmt.Errorf("orchestrator: register tdma cycle task: %w", err)
	}

	o.scheduler.Start()
	return nil
}

// Shutdown stops the scheduler and waits for in-flight jobs to return.
func (o *Orchestrator) Shutdown() error {
	return o.scheduler.Shutdown()
}
