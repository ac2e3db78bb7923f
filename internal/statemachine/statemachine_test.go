package statemachine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func noCH(time.Time) uint32 { return 0 }
func noop(time.Time)        {}
func noElection() uint32    { return 0 }
func neverYield() bool      { return false }

func baseInputs() Inputs {
	return Inputs{
		CurrentCH:     noCH,
		CleanupStale:  noop,
		RunElection:   noElection,
		ShouldYieldCH: neverYield,
	}
}

func TestInitSettlesIntoDiscover(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := NewMachine(1, now)
	m.Tick(now, baseInputs())
	require.Equal(t, Init, m.State())

	m.Tick(now.Add(InitSettle+time.Millisecond), baseInputs())
	require.Equal(t, Discover, m.State())
}

func TestDiscoverBecomesMemberWhenCHObserved(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := NewMachine(1, now)
	m.transition(Discover, now)

	in := baseInputs()
	in.CurrentCH = func(time.Time) uint32 { return 42 }
	m.Tick(now.Add(CHDiscoverDelay+time.Millisecond), in)
	require.Equal(t, Member, m.State())
}

func TestDiscoverTimesOutIntoCandidate(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := NewMachine(1, now)
	m.transition(Discover, now)
	m.Tick(now.Add(DiscoverWindow+time.Millisecond), baseInputs())
	require.Equal(t, Candidate, m.State())
}

func TestCandidateSelfWinsBecomesCH(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := NewMachine(7, now)
	m.transition(Candidate, now)
	m.resetElectionWindow(now)

	in := baseInputs()
	in.RunElection = func() uint32 { return 7 }
	m.Tick(now.Add(ElectionWindow+time.Millisecond), in)
	require.Equal(t, ClusterHead, m.State())
	require.True(t, m.IsCH())
}

func TestCandidateOtherWinsBecomesMember(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := NewMachine(7, now)
	m.transition(Candidate, now)
	m.resetElectionWindow(now)

	in := baseInputs()
	in.RunElection = func() uint32 { return 9 }
	m.Tick(now.Add(ElectionWindow+time.Millisecond), in)
	require.Equal(t, Member, m.State())
	require.False(t, m.IsCH())
}

func TestCandidateNoWinnerReturnsToDiscover(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := NewMachine(7, now)
	m.transition(Candidate, now)
	m.resetElectionWindow(now)
	m.Tick(now.Add(ElectionWindow+time.Millisecond), baseInputs())
	require.Equal(t, Discover, m.State())
}

func TestCHYieldsToExistingCH(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := NewMachine(1, now)
	m.transition(ClusterHead, now)

	in := baseInputs()
	in.ShouldYieldCH = func() bool { return true }
	in.CurrentCH = func(time.Time) uint32 { return 55 }
	m.Tick(now.Add(time.Second), in)
	require.Equal(t, Member, m.State())
}

func TestCHYieldsToReelectionWithNoOtherCH(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := NewMachine(1, now)
	m.transition(ClusterHead, now)

	in := baseInputs()
	in.ShouldYieldCH = func() bool { return true }
	m.Tick(now.Add(time.Second), in)
	require.Equal(t, Candidate, m.State())
}

func TestMemberReturnsToCandidateWhenCHLost(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := NewMachine(1, now)
	m.transition(Member, now)
	m.Tick(now.Add(time.Second), baseInputs())
	require.Equal(t, Candidate, m.State())
}

func TestUavOnboardingTriggerAndResume(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := NewMachine(1, now)
	m.transition(ClusterHead, now)

	m.TriggerUavOnboarding(now.Add(time.Second))
	require.Equal(t, UavOnboarding, m.State())
	require.False(t, m.IsCH())

	m.ResumeFromOnboarding(now.Add(2 * time.Second))
	require.Equal(t, ClusterHead, m.State())
}

func TestDebouncedRoleSuppressesMemberFlicker(t *testing.T) {
	var d DebouncedRole
	now := time.Unix(1_700_000_000, 0)

	require.Equal(t, Member, d.Update(Member, now))
	// Flicker to Candidate shortly after: suppressed.
	require.Equal(t, Member, d.Update(Candidate, now.Add(time.Second)))
	// After the hold interval elapses, the demotion is allowed through.
	require.Equal(t, Candidate, d.Update(Candidate, now.Add(ObservedRoleHoldInterval+time.Second)))
}

func TestDebouncedRolePromotionsApplyImmediately(t *testing.T) {
	var d DebouncedRole
	now := time.Unix(1_700_000_000, 0)

	require.Equal(t, Member, d.Update(Member, now))
	require.Equal(t, ClusterHead, d.Update(ClusterHead, now.Add(time.Millisecond)))
}

func TestSmartSleepDurationUsesSlotWhenFresh(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	next := now.Add(3 * time.Second)
	d := SmartSleepDuration(Member, true, now, next, time.Second)
	require.Equal(t, 3*time.Second, d)
}

func TestSmartSleepDurationFallsBackToDefault(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	d := SmartSleepDuration(Candidate, false, now, now, 750*time.Millisecond)
	require.Equal(t, 750*time.Millisecond, d)
}

func TestLivenessReachesTerminalRoleWithinBudget(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := NewMachine(1, now)

	in := baseInputs()
	in.RunElection = func() uint32 { return 1 }

	deadline := now.Add(DiscoverWindow + ElectionWindow + 200*time.Millisecond)
	for t := now; !t.After(deadline); t = t.Add(100 * time.Millisecond) {
		m.Tick(t, in)
	}
	require.Contains(t, []State{ClusterHead, Member}, m.State())
}
