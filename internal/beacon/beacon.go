// Package beacon glues the wire layout, HMAC authentication and the
// neighbor table together: encoding self metrics into an advert packet and
// decoding/authenticating/ingesting peers' (spec §4.9).
package beacon

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"wsnnode/internal/auth"
	"wsnnode/internal/metrics"
	"wsnnode/internal/neighbor"
	"wsnnode/internal/telemetry"
	"wsnnode/internal/wireproto"
)

// ErrSelf is returned by Decode when the packet's node_id is our own.
var ErrSelf = errors.New("beacon: self")

// ErrInvalidNodeID is returned for the reserved node_id values (spec §4.9
// "reject node_id ∈ {0, 0xFFFFFFFF}").
var ErrInvalidNodeID = errors.New("beacon: invalid node id")

func scale10000(v float64) uint16 {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	return uint16(math.Round(v * 10000))
}

func unscale10000(v uint16) float64 {
	return float64(v) / 10000.0
}

// Encoder holds the process-local sequence counter and identity used to
// emit beacons (spec §4.9 "increment a process-local sequence number on each
// emission").
type Encoder struct {
	NodeID  uint32
	MACTail [2]byte
	seq     atomic.Uint32 // stored mod 256 in the low byte
}

// NewEncoder constructs an Encoder for nodeID/macTail starting at seq 0.
func NewEncoder(nodeID uint32, macTail [2]byte) *Encoder {
	return &Encoder{NodeID: nodeID, MACTail: macTail}
}

// Encode renders the current self metrics into a 21-byte beacon, HMACing it
// under key (the caller passes the HKDF-derived beacon subkey, not the raw
// cluster key; see auth.DeriveSubkey / auth.BeaconKeyInfo).
func (e *Encoder) Encode(m metrics.NodeMetrics, isCH bool, key []byte) ([]byte, error) {
	seq := uint8(e.seq.Add(1) - 1)

	b := wireproto.Beacon{
		CompanyID:     wireproto.CompanyID,
		NodeID:        e.NodeID,
		Score:         float32(m.StellarScore),
		BatteryScaled: scale10000(m.Battery),
		TrustScaled:   scale10000(m.Trust),
		LinkQScaled:   scale10000(m.LinkQuality),
		MACTail:       e.MACTail,
		IsCH:          isCH,
		SeqNum:        seq,
	}
	encoded := b.Encode()

	digest, err := auth.Generate(wireproto.HMACRange(encoded), key)
	if err != nil {
		return nil, err
	}
	copy(encoded[wireproto.BeaconSize-1:], auth.Truncate(digest, 1))
	return encoded, nil
}

// Decoded is the result of successfully authenticating a peer's beacon.
type Decoded struct {
	NodeID      uint32
	Score       float64
	Battery     float64
	Trust       float64
	LinkQuality float64
	MACTail     [2]byte
	IsCH        bool
	SeqNum      uint8
}

// Decode validates and parses a received beacon buffer. selfNodeID is used
// to drop self-originated packets (a node may overhear its own advert via
// loopback/reflection); key is the HKDF-derived beacon subkey.
func Decode(buf []byte, selfNodeID uint32, key []byte) (Decoded, error) {
	b, err := wireproto.DecodeBeacon(buf)
	if err != nil {
		return Decoded{}, err
	}
	if b.NodeID == selfNodeID {
		return Decoded{}, ErrSelf
	}
	if b.NodeID == 0 || b.NodeID == 0xFFFFFFFF {
		return Decoded{}, fmt.Errorf("%w: %d", ErrInvalidNodeID, b.NodeID)
	}

	if err := auth.Verify(wireproto.HMACRange(buf), key, b.HMAC[:]); err != nil {
		return Decoded{}, err
	}

	return Decoded{
		NodeID:      b.NodeID,
		Score:       float64(b.Score),
		Battery:     unscale10000(b.BatteryScaled),
		Trust:       unscale10000(b.TrustScaled),
		LinkQuality: unscale10000(b.LinkQScaled),
		MACTail:     b.MACTail,
		IsCH:        b.IsCH,
		SeqNum:      b.SeqNum,
	}, nil
}

// Ingest feeds a successfully decoded+authenticated beacon into tbl, using
// rssi as the observed signal strength at reception time. This is the glue
// named in spec §4.9 "feed the record into the neighbor table".
func Ingest(tbl *neighbor.Table, d Decoded, rssi float64, now time.Time) error {
	var mac [6]byte
	mac[4], mac[5] = d.MACTail[0], d.MACTail[1]
	return tbl.Update(d.NodeID, mac, rssi, d.Score, d.Battery, 0, d.Trust, d.LinkQuality, d.IsCH, d.SeqNum, now)
}

// Receiver wraps Decode+Ingest for one node's RX path, recording the
// non-fatal event counters spec §7 calls for (auth failures, a full
// neighbor table) as they actually occur. Telemetry is optional; a nil
// Telemetry just skips the counter increments.
type Receiver struct {
	SelfNodeID uint32
	Key        []byte
	Telemetry  *telemetry.Registry
}

// Receive decodes, authenticates and ingests one beacon buffer into tbl.
func (r *Receiver) Receive(tbl *neighbor.Table, buf []byte, rssi float64, now time.Time) (Decoded, error) {
	d, err := Decode(buf, r.SelfNodeID, r.Key)
	if err != nil {
		if r.Telemetry != nil {
			switch {
			case errors.Is(err, auth.ErrTampered):
				r.Telemetry.RecordAuthFailure(telemetry.ReasonTampered)
			case errors.Is(err, auth.ErrReplay):
				r.Telemetry.RecordAuthFailure(telemetry.ReasonReplay)
			case errors.Is(err, auth.ErrNotFresh):
				r.Telemetry.RecordAuthFailure(telemetry.ReasonNotFresh)
			}
		}
		return Decoded{}, err
	}

	if err := Ingest(tbl, d, rssi, now); err != nil {
		if r.Telemetry != nil && errors.Is(err, neighbor.ErrTableFull) {
			r.Telemetry.NeighborTableFull.Inc()
		}
		return Decoded{}, err
	}
	return d, nil
}
