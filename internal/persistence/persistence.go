// Package persistence is the bbolt-backed durable store: the uptime
// counter, the "sensor_cfg" key-value namespace (spec §6) and a bounded
// on-disk snapshot of the auth replay table. Grounded on the teacher's
// bucket-per-concern bolt.DB wrapper.
package persistence

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"wsnnode/internal/auth"
)

var (
	metricsBucket   = []byte("metrics")
	sensorCfgBucket = []byte("sensor_cfg")
	replayBucket    = []byte("replay")
)

const uptimeKey = "uptime_seconds"
const replaySnapshotKey = "snapshot"

// Store wraps a single bbolt.DB file holding all three namespaces.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if absent) the bbolt file at path and ensures all
// buckets exist.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("persistence: open: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{metricsBucket, sensorCfgBucket, replayBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("persistence: init buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying file handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// LoadUptime returns the last-saved cumulative uptime in seconds, or 0 if
// never saved (spec §4.4 "on boot, load and use as the base").
func (s *Store) LoadUptime() (uint64, error) {
	var val uint64
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(metricsBucket).Get([]byte(uptimeKey))
		if b == nil {
			return nil
		}
		if len(b) != 8 {
			return fmt.Errorf("persistence: uptime value corrupt (%d bytes)", len(b))
		}
		val = binary.LittleEndian.Uint64(b)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return val, nil
}

// SaveUptime persists the cumulative uptime in seconds.
func (s *Store) SaveUptime(seconds uint64) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, seconds)
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(metricsBucket).Put([]byte(uptimeKey), buf)
	})
}

// SetSensorCfg stores one control-surface option (spec §6 CONFIG key=value).
func (s *Store) SetSensorCfg(key, value string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(sensorCfgBucket).Put([]byte(key), []byte(value))
	})
}

// GetSensorCfg returns a stored option value, or ok=false if absent.
func (s *Store) GetSensorCfg(key string) (value string, ok bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(sensorCfgBucket).Get([]byte(key))
		if v != nil {
			value, ok = string(v), true
		}
		return nil
	})
	return value, ok, err
}

// AllSensorCfg returns every persisted control-surface option.
func (s *Store) AllSensorCfg() (map[string]string, error) {
	out := make(map[string]string)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(sensorCfgBucket).ForEach(func(k, v []byte) error {
			out[string(k)] = string(v)
			return nil
		})
	})
	return out, err
}

// SaveReplaySnapshot persists the replay table's current FIFO contents,
// best-effort: a failed write never blocks the auth path. cmd/wsnnoded
// calls this once at shutdown, off the hot path (spec.md is silent on
// reboot behavior here; see DESIGN.md).
func (s *Store) SaveReplaySnapshot(entries []auth.ReplaySnapshotEntry) error {
	buf, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("persistence: marshal replay snapshot: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(replayBucket).Put([]byte(replaySnapshotKey), buf)
	})
}

// LoadReplaySnapshot loads a previously saved replay-table snapshot, or nil
// if none was ever saved.
func (s *Store) LoadReplaySnapshot() ([]auth.ReplaySnapshotEntry, error) {
	var entries []auth.ReplaySnapshotEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		buf := tx.Bucket(replayBucket).Get([]byte(replaySnapshotKey))
		if buf == nil {
			return nil
		}
		return json.Unmarshal(buf, &entries)
	})
	return entries, err
}
