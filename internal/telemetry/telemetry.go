// Package telemetry exposes prometheus counters for the non-fatal error
// taxonomy spec §7 calls out ("non-fatal errors are counted and logged at
// throttle"). The pack's ClusterCockpit-cc-backend depends on
// prometheus/client_golang as an API *client*; here the same library backs
// this node's own counter registration/export instead.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles every counter a node instance exposes. Construct one per
// node with NewRegistry(prometheus.NewRegistry()) (or prometheus.DefaultRegisterer).
type Registry struct {
	AuthFailures             *prometheus.CounterVec
	NeighborTableFull        prometheus.Counter
	LogPipelineBusy          prometheus.Counter
	HuffmanCompressFallback  prometheus.Counter
	ElectionRuns             prometheus.Counter
}

// NewRegistry registers and returns the node's counters against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		AuthFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "wsn_auth_failures_total",
			Help: "HMAC authentication failures by reason (tampered, replay, not_fresh).",
		}, []string{"reason"}),
		NeighborTableFull: factory.NewCounter(prometheus.CounterOpts{
			Name: "wsn_neighbor_table_full_total",
			Help: "Times a beacon was dropped because the neighbor table was at capacity.",
		}),
		LogPipelineBusy: factory.NewCounter(prometheus.CounterOpts{
			Name: "wsn_log_pipeline_busy_total",
			Help: "Times a log flush/append timed out waiting for the pipeline mutex.",
		}),
		HuffmanCompressFallback: factory.NewCounter(prometheus.CounterOpts{
			Name: "wsn_huffman_compress_fallback_total",
			Help: "Times a log chunk fell back to raw storage instead of Huffman.",
		}),
		ElectionRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "wsn_election_runs_total",
			Help: "Number of completed election rounds.",
		}),
	}
}

// AuthFailureReason labels AuthFailures.
type AuthFailureReason string

const (
	ReasonTampered AuthFailureReason = "tampered"
	ReasonReplay   AuthFailureReason = "replay"
	ReasonNotFresh AuthFailureReason = "not_fresh"
)

// RecordAuthFailure increments the auth failure counter for reason.
func (r *Registry) RecordAuthFailure(reason AuthFailureReason) {
	r.AuthFailures.WithLabelValues(string(reason)).Inc()
}
