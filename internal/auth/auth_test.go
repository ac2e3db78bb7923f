package auth

import (
	"bytes"
	"errors"
	"testing"
)

func testKey() []byte {
	k := make([]byte, ClusterKeySize)
	for i := range k {
		k[i] = byte(i)
	}
	return k
}

func TestGenerateVerifyRoundTrip(t *testing.T) {
	key := testKey()
	msg := []byte("cluster-head-beacon-payload")
	digest, err := Generate(msg, key)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	truncated := Truncate(digest, 1)
	if err := Verify(msg, key, truncated); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestVerifyRejectsBitFlip(t *testing.T) {
	key := testKey()
	msg := []byte("cluster-head-beacon-payload")
	digest, err := Generate(msg, key)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	truncated := Truncate(digest, 1)

	for i := range msg {
		flipped := bytes.Clone(msg)
		flipped[i] ^= 0x01
		if err := Verify(flipped, key, truncated); !errors.Is(err, ErrTampered) {
			t.Fatalf("byte %d: expected ErrTampered, got %v", i, err)
		}
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	key := testKey()
	other := testKey()
	other[0] ^= 0xFF
	msg := []byte("schedule-message")
	digest, err := Generate(msg, key)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	truncated := Truncate(digest, 1)
	if err := Verify(msg, other, truncated); !errors.Is(err, ErrTampered) {
		t.Fatalf("expected ErrTampered, got %v", err)
	}
}

func TestGenerateRejectsBadKeyLength(t *testing.T) {
	if _, err := Generate([]byte("x"), []byte("short")); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected ErrInvalidKey, got %v", err)
	}
}

func TestDeriveSubkeyIsDomainSeparated(t *testing.T) {
	key := testKey()
	beaconKey, err := DeriveSubkey(key, BeaconKeyInfo, ClusterKeySize)
	if err != nil {
		t.Fatalf("derive beacon subkey: %v", err)
	}
	scheduleKey, err := DeriveSubkey(key, ScheduleKeyInfo, ClusterKeySize)
	if err != nil {
		t.Fatalf("derive schedule subkey: %v", err)
	}
	if bytes.Equal(beaconKey, scheduleKey) {
		t.Fatalf("beacon and schedule subkeys must differ")
	}

	// Deterministic: same info+key always derives the same subkey.
	again, err := DeriveSubkey(key, BeaconKeyInfo, ClusterKeySize)
	if err != nil {
		t.Fatalf("re-derive: %v", err)
	}
	if !bytes.Equal(beaconKey, again) {
		t.Fatalf("subkey derivation is not deterministic")
	}
}

func TestReplayAcceptsMonotonicTimestamps(t *testing.T) {
	tbl := NewReplayTable()
	const node = uint32(1)
	now := int64(1_000_000)

	if err := tbl.Check(node, now, now); err != nil {
		t.Fatalf("first timestamp: %v", err)
	}
	if err := tbl.Check(node, now+1, now+1); err != nil {
		t.Fatalf("second timestamp: %v", err)
	}
}

func TestReplayRejectsDuplicateTimestamp(t *testing.T) {
	tbl := NewReplayTable()
	const node = uint32(2)
	now := int64(1_000_000)

	if err := tbl.Check(node, now, now); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := tbl.Check(node, now, now); !errors.Is(err, ErrReplay) {
		t.Fatalf("expected ErrReplay for duplicate timestamp, got %v", err)
	}
}

func TestReplayRejectsStaleOrOlderTimestamp(t *testing.T) {
	tbl := NewReplayTable()
	const node = uint32(3)
	now := int64(1_000_000)

	if err := tbl.Check(node, now, now); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	// An older timestamp than the last accepted one from this node is a replay.
	if err := tbl.Check(node, now-1, now); !errors.Is(err, ErrReplay) {
		t.Fatalf("expected ErrReplay for older timestamp, got %v", err)
	}
	// A timestamp outside the window around "now" is stale, regardless of node history.
	const other = uint32(4)
	if err := tbl.Check(other, now-ReplayWindowMS-1, now); !errors.Is(err, ErrNotFresh) {
		t.Fatalf("expected ErrNotFresh, got %v", err)
	}
}

func TestReplayTableEvictsFIFOWhenFull(t *testing.T) {
	tbl := NewReplayTable()
	now := int64(1_000_000)

	for i := 0; i < ReplayMax; i++ {
		if err := tbl.Check(uint32(i), now, now); err != nil {
			t.Fatalf("node %d: %v", i, err)
		}
	}
	if tbl.Len() != ReplayMax {
		t.Fatalf("table len = %d, want %d", tbl.Len(), ReplayMax)
	}

	// One more distinct node evicts node 0.
	if err := tbl.Check(uint32(ReplayMax), now, now); err != nil {
		t.Fatalf("overflow insert: %v", err)
	}
	if tbl.Len() != ReplayMax {
		t.Fatalf("table len after eviction = %d, want %d", tbl.Len(), ReplayMax)
	}
	if _, ok := tbl.LastSeen(0); ok {
		t.Fatalf("expected node 0 to have been evicted")
	}
	if _, ok := tbl.LastSeen(uint32(ReplayMax)); !ok {
		t.Fatalf("expected newly inserted node to be present")
	}
}
