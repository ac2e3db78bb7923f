// Package auth implements HMAC-SHA256 generation/verification with
// truncation and a replay window over node timestamps (spec §4.1).
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// ClusterKeySize is the shared cluster key length (spec §4.1).
const ClusterKeySize = 32

var (
	// ErrInvalidKey is returned when the supplied key is not ClusterKeySize bytes.
	ErrInvalidKey = errors.New("auth: invalid key")
	// ErrTampered is returned by Verify on an HMAC mismatch.
	ErrTampered = errors.New("auth: tampered")
	// ErrReplay is returned by CheckReplay when the timestamp is stale or
	// duplicates one already seen from this node.
	ErrReplay = errors.New("auth: replay")
	// ErrNotFresh is returned by CheckReplay when the timestamp falls
	// outside the replay window around now.
	ErrNotFresh = errors.New("auth: not fresh")
)

// Generate computes the full 32-byte HMAC-SHA256 digest of msg under key.
func Generate(msg []byte, key []byte) ([32]byte, error) {
	var out [32]byte
	if len(key) != ClusterKeySize {
		return out, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidKey, ClusterKeySize, len(key))
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	copy(out[:], mac.Sum(nil))
	return out, nil
}

// Truncate returns the first l bytes of a 32-byte digest. l must be in [1,32].
func Truncate(digest [32]byte, l int) []byte {
	if l <= 0 {
		return nil
	}
	if l > len(digest) {
		l = len(digest)
	}
	return digest[:l]
}

// Verify recomputes the HMAC of msg under key and compares it, in constant
// time over len(truncated), against truncated. Returns ErrTampered on
// mismatch.
func Verify(msg []byte, key []byte, truncated []byte) error {
	full, err := Generate(msg, key)
	if err != nil {
		return err
	}
	want := Truncate(full, len(truncated))
	if subtle.ConstantTimeCompare(want, truncated) != 1 {
		return ErrTampered
	}
	return nil
}

// DeriveSubkey derives a context-bound subkey from the shared cluster key
// via HKDF-Expand (RFC 5869), so a forged beacon cannot be replayed as a
// forged Schedule message and vice versa (spec.md Open Question #2). info
// should be a short fixed ASCII label such as "wsn-beacon-v1".
func DeriveSubkey(clusterKey []byte, info string, outLen int) ([]byte, error) {
	if len(clusterKey) != ClusterKeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidKey, ClusterKeySize, len(clusterKey))
	}
	r := hkdf.Expand(sha256.New, clusterKey, []byte(info))
	out := make([]byte, outLen)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("auth: derive subkey: %w", err)
	}
	return out, nil
}

const (
	// BeaconKeyInfo derives the beacon-HMAC subkey.
	BeaconKeyInfo = "wsn-beacon-v1"
	// ScheduleKeyInfo derives the Schedule-message-HMAC subkey.
	ScheduleKeyInfo = "wsn-schedule-v1"
)
