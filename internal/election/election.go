// Package election implements STELLAR cluster-head selection: non-linear
// utility shaping, Pareto filtering and a Nash-bargaining tie-break over the
// frontier, with a legacy lexicographic fallback (spec §4.6).
package election

import (
	"math"
	"sort"

	"wsnnode/internal/metrics"
)

// ReelectionEpsilon is the score margin a remote verified CH must exceed
// before the current CH yields (spec §4.6 re-election trigger).
const ReelectionEpsilon = 0.01

// Disagreement point d = (battery, uptime, trust, linkq) for Nash bargaining
// (spec §4.6, grounded on config.h DISAGREE_*).
var Disagreement = [4]float64{0.1, 0.1, 0.1, 0.1}

// Candidate is one contestant's input to an election round: a node_id, its
// metrics snapshot, and a centrality estimate (see SelfCentrality).
type Candidate struct {
	NodeID     uint32
	Metrics    metrics.NodeMetrics
	Centrality float64

	utility    [4]float64
	onFrontier bool
}

// Result is the outcome of one election round.
type Result struct {
	WinnerID   uint32
	Candidates []Candidate // annotated with utility/onFrontier after Run
}

// SelfCentrality computes κ's input from the variance of neighbor RSSI
// samples: κ = 1 − min(1, var(rssi)/400) (spec §4.6 phase 1). Remote
// candidates default to κ = 0.8 when no such estimate is available.
func SelfCentrality(rssiSamples []float64) float64 {
	if len(rssiSamples) == 0 {
		return 1.0
	}
	var mean float64
	for _, v := range rssiSamples {
		mean += v
	}
	mean /= float64(len(rssiSamples))
	var variance float64
	for _, v := range rssiSamples {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(rssiSamples))
	c := 1 - variance/400
	if c < 0 {
		c = 0
	}
	if c > 1 {
		c = 1
	}
	return c
}

// RemoteCentrality is the default centrality assigned to non-self candidates
// (spec §4.6 phase 1).
const RemoteCentrality = 0.8

func dominates(a, b [4]float64) bool {
	atLeastOneStrict := false
	for i := range a {
		if a[i] < b[i] {
			return false
		}
		if a[i] > b[i] {
			atLeastOneStrict = true
		}
	}
	return atLeastOneStrict
}

// paretoFrontier marks each candidate's onFrontier flag and pareto_rank
// (count of candidates it dominates), per spec §4.6 phase 2.
func paretoFrontier(cands []Candidate) {
	for i := range cands {
		dominated := false
		rank := 0
		for j := range cands {
			if i == j {
				continue
			}
			if dominates(cands[j].utility, cands[i].utility) {
				dominated = true
			}
			if dominates(cands[i].utility, cands[j].utility) {
				rank++
			}
		}
		cands[i].onFrontier = !dominated
		cands[i].Metrics.ParetoRank = rank
	}
}

// logNash computes Σ_i α_i·ln(max(u_i − d_i, 0)) for one candidate, returning
// ok=false if any surplus is non-positive (spec §4.6 phase 3).
func logNash(u [4]float64, alpha [4]float64, d [4]float64) (value float64, ok bool) {
	for i := range u {
		surplus := u[i] - d[i]
		if surplus <= 0 {
			return 0, false
		}
		value += alpha[i] * math.Log(surplus)
	}
	return value, true
}

// Run executes one STELLAR election round over cands (which must include
// self) using w as the current adaptive weights. cands is sorted into a
// stable node_id order first so results are deterministic for a fixed
// snapshot (spec §8 property 8, election idempotence).
func Run(cands []Candidate, w metrics.AdaptiveWeights) Result {
	ordered := make([]Candidate, len(cands))
	copy(ordered, cands)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].NodeID < ordered[j].NodeID })

	for i := range ordered {
		ordered[i].utility = metrics.UtilityVector(ordered[i].Metrics)
	}
	paretoFrontier(ordered)

	for i := range ordered {
		ordered[i].Metrics.StellarScore = metrics.StellarScore(ordered[i].Metrics, w, ordered[i].Centrality)
	}

	alpha := w.Weights

	var (
		bestFrontierID     uint32
		bestFrontierNash   float64
		haveFrontierWinner bool
		bestFrontierScore  uint32
		bestFrontierScoreV float64
		haveFrontierScore  bool
		bestOverallID      uint32
		bestOverallScoreV  float64
		haveOverall        bool
	)

	for _, c := range ordered {
		if c.onFrontier {
			if v, ok := logNash(c.utility, alpha, Disagreement); ok {
				if !haveFrontierWinner || v > bestFrontierNash ||
					(v == bestFrontierNash && c.NodeID < bestFrontierID) {
					bestFrontierNash = v
					bestFrontierID = c.NodeID
					haveFrontierWinner = true
				}
			}
			if !haveFrontierScore || c.Metrics.StellarScore > bestFrontierScoreV ||
				(c.Metrics.StellarScore == bestFrontierScoreV && c.NodeID < bestFrontierScore) {
				bestFrontierScore = c.NodeID
				bestFrontierScoreV = c.Metrics.StellarScore
				haveFrontierScore = true
			}
		}
		if !haveOverall || c.Metrics.StellarScore > bestOverallScoreV ||
			(c.Metrics.StellarScore == bestOverallScoreV && c.NodeID < bestOverallID) {
			bestOverallID = c.NodeID
			bestOverallScoreV = c.Metrics.StellarScore
			haveOverall = true
		}
	}

	var winner uint32
	switch {
	case haveFrontierWinner:
		winner = bestFrontierID
	case haveFrontierScore:
		winner = bestFrontierScore
	default:
		winner = bestOverallID
	}

	return Result{WinnerID: winner, Candidates: ordered}
}

// LegacyCandidate is the sort key for the non-STELLAR fallback.
type LegacyCandidate struct {
	NodeID  uint32
	Score   float64
	LinkQ   float64
	Battery float64
	Trust   float64
}

// RunLegacy implements the lexicographic fallback: sort by
// (score desc, linkq desc, battery desc, trust desc, node_id asc); the top
// entry wins (spec §4.6 "Legacy mode").
func RunLegacy(cands []LegacyCandidate) uint32 {
	if len(cands) == 0 {
		return 0
	}
	ordered := make([]LegacyCandidate, len(cands))
	copy(ordered, cands)
	sort.Slice(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.LinkQ != b.LinkQ {
			return a.LinkQ > b.LinkQ
		}
		if a.Battery != b.Battery {
			return a.Battery > b.Battery
		}
		if a.Trust != b.Trust {
			return a.Trust > b.Trust
		}
		return a.NodeID < b.NodeID
	})
	return ordered[0].NodeID
}

// ShouldYieldCH reports whether a current CH with selfMetrics should step
// down in favor of re-election (spec §4.6 re-election trigger, CH branch).
func ShouldYieldCH(self metrics.NodeMetrics, bestRemoteVerifiedScore float64, haveRemote bool) bool {
	if self.Battery < metrics.BatteryLowThreshold {
		return true
	}
	if self.Trust < metrics.TrustFloor {
		return true
	}
	if self.LinkQuality < metrics.LinkQualityFloor {
		return true
	}
	if haveRemote && bestRemoteVerifiedScore > self.StellarScore+ReelectionEpsilon {
		return true
	}
	return false
}
