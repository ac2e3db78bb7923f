// Package logpipeline implements the chunked, CRC-protected, optionally
// compressed log stream: a fixed-capacity block buffer, flush-time framing
// via wireproto.LogChunkHeader, three-slot rotation, and circular eviction
// under storage pressure (spec §4.3). Grounded on the original firmware's logger.c /
// blockbuf.c component.
package logpipeline

import (
	"errors"
	"fmt"
	"hash/crc32"
	"time"

	"golang.org/x/time/rate"

	"wsnnode/internal/huffman"
	"wsnnode/internal/wireproto"
)

// ErrFull is returned by BlockBuffer.Append when the write would exceed capacity.
var ErrFull = errors.New("logpipeline: full")

// ErrBusy is returned by Pipeline.Flush/AppendLine when the flush mutex could
// not be acquired within the bounded wait (spec §4.3 "Concurrency").
var ErrBusy = errors.New("logpipeline: busy")

// Tunables (spec §4.3; constants grounded on logger.c's LOGGER_* defaults).
const (
	BlockCapacity    = 16 * 1024
	FlushThreshold   = 16 * 1024
	CompressLevel    = 3
	MinCompressBytes = 1024
	MinSavingsDiv    = 20
	MaxFileSize      = 1024 * 1024

	WarnPct     = 90
	CriticalPct = 95

	FlushWaitBound = 5 * time.Second
)

const (
	CurrentFile = "samples.lz"
	OldFile     = "samples_old.lz"
	BackupFile  = "samples_backup.lz"
)

// BlockBuffer is a contiguous byte buffer of fixed capacity (spec §4.3).
type BlockBuffer struct {
	buf []byte
	cap int
}

// NewBlockBuffer allocates a BlockBuffer with the given capacity.
func NewBlockBuffer(capacity int) *BlockBuffer {
	return &BlockBuffer{buf: make([]byte, 0, capacity), cap: capacity}
}

// Append adds data to the buffer, or fails with ErrFull.
func (b *BlockBuffer) Append(data []byte) error {
	if len(b.buf)+len(data) > b.cap {
		return ErrFull
	}
	b.buf = append(b.buf, data...)
	return nil
}

// Reset clears the buffer's length without freeing its backing array.
func (b *BlockBuffer) Reset() {
	b.buf = b.buf[:0]
}

// Len reports the current buffered length.
func (b *BlockBuffer) Len() int { return len(b.buf) }

// Cap reports the buffer's fixed capacity.
func (b *BlockBuffer) Cap() int { return b.cap }

// Bytes returns the buffer's current contents (not a copy; callers must not
// retain it past the next mutating call).
func (b *BlockBuffer) Bytes() []byte { return b.buf }

// tokenMutex is a mutex that supports a bounded-wait Lock, the idiomatic
// stand-in for the original firmware's xSemaphoreTake(..., timeout) pattern.
type tokenMutex struct {
	ch chan struct{}
}

func newTokenMutex() *tokenMutex {
	m := &tokenMutex{ch: make(chan struct{}, 1)}
	m.ch <- struct{}{}
	return m
}

func (m *tokenMutex) tryLock(bound time.Duration) bool {
	select {
	case <-m.ch:
		return true
	case <-time.After(bound):
		return false
	}
}

func (m *tokenMutex) unlock() {
	m.ch <- struct{}{}
}

// Pipeline owns the block buffer, the flush mutex and the node identity
// stamped into every chunk header.
type Pipeline struct {
	mu     tokenMutex
	bb     *BlockBuffer
	store  Storage
	nodeID uint64

	// Now lets tests control the chunk timestamp; defaults to time.Now.
	Now func() time.Time

	// WaitBound is the bounded wait for the flush mutex (spec §4.3); defaults
	// to FlushWaitBound. Tests shrink it to avoid blocking on contention.
	WaitBound time.Duration

	// OnCompressFallback, if set, is called each time a chunk that qualified
	// for compression is written raw instead (huffman.Compress failed, or
	// the result didn't clear MinSavingsDiv), so callers can count it
	// (spec §7's non-fatal-event counters).
	OnCompressFallback func()

	storageWarnings *rate.Limiter
}

// NewPipeline constructs a Pipeline writing through store, stamping nodeID
// into every chunk header.
func NewPipeline(store Storage, nodeID uint64) *Pipeline {
	return &Pipeline{
		mu:              *newTokenMutex(),
		bb:              NewBlockBuffer(BlockCapacity),
		store:           store,
		nodeID:          nodeID,
		Now:             time.Now,
		WaitBound:       FlushWaitBound,
		storageWarnings: rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
}

func crc32Of(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// checkStorageAndCleanup implements spec §4.3's circular eviction: at
// CRITICAL_PCT, delete the backup and re-check; if still critical, delete
// "old" too. At WARN_PCT (and not critical), just flag a warning.
func (p *Pipeline) checkStorageAndCleanup() (warned bool) {
	pct, ok := p.store.Usage()
	if !ok {
		return false
	}
	if pct >= CriticalPct {
		p.store.Remove(BackupFile)
		if pct2, ok2 := p.store.Usage(); ok2 && pct2 >= CriticalPct {
			p.store.Remove(OldFile)
		}
		return false
	}
	if pct >= WarnPct {
		return true
	}
	return false
}

// rotate implements spec §4.3's three-slot rotation: performed only when the
// incoming write would push "current" past MaxFileSize.
func (p *Pipeline) rotate(incomingBytes int) {
	size := p.store.Size(CurrentFile)
	if size == 0 {
		return
	}
	if size+int64(incomingBytes) < MaxFileSize {
		return
	}
	p.store.Remove(BackupFile)
	_ = p.store.Rename(OldFile, BackupFile)
	_ = p.store.Rename(CurrentFile, OldFile)
}

func (p *Pipeline) writeChunkRaw(raw []byte) error {
	p.checkStorageAndCleanup()
	p.rotate(wireproto.LogChunkHeaderSize + len(raw))

	hdr := wireproto.LogChunkHeader{
		Magic:     wireproto.LogChunkMagic,
		Version:   wireproto.LogChunkVersion,
		Algo:      wireproto.LogAlgoRaw,
		Level:     0,
		RawLen:    uint32(len(raw)),
		DataLen:   uint32(len(raw)),
		CRC32:     crc32Of(raw),
		NodeID:    p.nodeID,
		Timestamp: uint32(p.Now().Unix()),
	}
	return p.store.Append(CurrentFile, append(hdr.Encode(), raw...))
}

func (p *Pipeline) writeChunkCompressed(raw []byte) error {
	if len(raw) < MinCompressBytes {
		return p.writeChunkRaw(raw)
	}

	compressed, err := huffman.Compress(raw)
	if err != nil {
		if p.OnCompressFallback != nil {
			p.OnCompressFallback()
		}
		return p.writeChunkRaw(raw)
	}

	// Require at least a 1/MinSavingsDiv fractional saving (spec §4.3).
	if len(compressed) >= len(raw)-(len(raw)/MinSavingsDiv) {
		if p.OnCompressFallback != nil {
			p.OnCompressFallback()
		}
		return p.writeChunkRaw(raw)
	}

	p.checkStorageAndCleanup()
	p.rotate(wireproto.LogChunkHeaderSize + len(compressed))

	hdr := wireproto.LogChunkHeader{
		Magic:     wireproto.LogChunkMagic,
		Version:   wireproto.LogChunkVersion,
		Algo:      wireproto.LogAlgoHuffman,
		Level:     CompressLevel,
		RawLen:    uint32(len(raw)),
		DataLen:   uint32(len(compressed)),
		CRC32:     crc32Of(compressed),
		NodeID:    p.nodeID,
		Timestamp: uint32(p.Now().Unix()),
	}
	return p.store.Append(CurrentFile, append(hdr.Encode(), compressed...))
}

// Flush serializes the buffered block to storage, choosing raw or compressed
// framing per spec §4.3, and clears the buffer on success.
func (p *Pipeline) Flush() error {
	if !p.mu.tryLock(p.WaitBound) {
		return ErrBusy
	}
	defer p.mu.unlock()
	return p.flushLocked()
}

func (p *Pipeline) flushLocked() error {
	if p.bb.Len() == 0 {
		return nil
	}
	raw := make([]byte, p.bb.Len())
	copy(raw, p.bb.Bytes())

	var err error
	if len(raw) >= MinCompressBytes {
		err = p.writeChunkCompressed(raw)
	} else {
		err = p.writeChunkRaw(raw)
	}
	if err != nil {
		return err
	}
	p.bb.Reset()
	return nil
}

// storageCritical reports whether usage is at or above CriticalPct.
func (p *Pipeline) storageCritical() bool {
	pct, ok := p.store.Usage()
	return ok && pct >= CriticalPct
}

// Clear flushes then removes all three log files: current, old and backup.
func (p *Pipeline) Clear() error {
	if !p.mu.tryLock(p.WaitBound) {
		return ErrBusy
	}
	defer p.mu.unlock()
	_ = p.flushLocked()
	p.store.Remove(CurrentFile)
	p.store.Remove(OldFile)
	p.store.Remove(BackupFile)
	return nil
}

// AppendLine implements spec §4.3's line-ingestion policy.
func (p *Pipeline) AppendLine(line string) error {
	if p.storageCritical() {
		if err := p.Clear(); err != nil {
			return err
		}
	}

	n := len(line)
	need := n + 1 // + "\n"

	if !p.mu.tryLock(p.WaitBound) {
		return ErrBusy
	}
	defer p.mu.unlock()

	if need > p.bb.Cap() {
		if err := p.flushLocked(); err != nil {
			return err
		}
		if err := p.writeChunkRaw([]byte(line)); err != nil {
			return err
		}
		return p.writeChunkRaw([]byte("\n"))
	}

	if p.bb.Len()+need > p.bb.Cap() {
		if err := p.flushLocked(); err != nil {
			return err
		}
	}

	if err := p.bb.Append([]byte(line)); err != nil {
		return fmt.Errorf("logpipeline: append line: %w", err)
	}
	if err := p.bb.Append([]byte("\n")); err != nil {
		return fmt.Errorf("logpipeline: append newline: %w", err)
	}

	if p.bb.Len() >= FlushThreshold {
		return p.flushLocked()
	}
	return nil
}

// StorageWarning reports whether usage is at or above WarnPct (without
// mutating anything); callers use this to drive a throttled warning counter.
func (p *Pipeline) StorageWarning() bool {
	pct, ok := p.store.Usage()
	return ok && pct >= WarnPct && pct < CriticalPct
}

// ShouldLogStorageWarning applies the same 5s throttle used elsewhere in the
// node for repeated warnings (spec §4.5's table-full throttle, reused here
// per SPEC_FULL.md's ambient-logging note).
func (p *Pipeline) ShouldLogStorageWarning() bool {
	if !p.StorageWarning() {
		return false
	}
	return p.storageWarnings.Allow()
}
