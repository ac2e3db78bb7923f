// Package wireproto defines the fixed-layout binary structures exchanged
// between cluster nodes and persisted to flash. Every struct here is a
// packed, little-endian layout per spec/§6; encode/decode never allocate
// beyond the returned byte slice.
package wireproto

import (
	"encoding/binary"
	"fmt"
	"math"
)

// BeaconSize is the wire size of a Beacon packet (spec §3, §6).
const BeaconSize = 21

// CompanyID is the fixed vendor identifier carried in every beacon.
const CompanyID = 0x02E5

// Beacon mirrors the 20-byte BeaconPacket layout plus its trailing 1-byte
// HMAC truncation (the spec's field table lists offset 20 as the HMAC byte,
// making the full wire size 21 bytes).
type Beacon struct {
	CompanyID     uint16
	NodeID        uint32
	Score         float32
	BatteryScaled uint16
	TrustScaled   uint16
	LinkQScaled   uint16
	MACTail       [2]byte
	IsCH          bool
	SeqNum        uint8
	HMAC          [1]byte
}

// HMACRangeStart and HMACRangeEnd bound the byte range (within the encoded
// beacon) that is HMAC'd:
// from node_id through seq_num, i.e. bytes [2, 20).
const HMACRangeStart = 2
const HMACRangeEnd = 20

// Encode writes b into a fresh 21-byte slice.
func (b Beacon) Encode() []byte {
	out := make([]byte, BeaconSize)
	binary.LittleEndian.PutUint16(out[0:2], b.CompanyID)
	binary.LittleEndian.PutUint32(out[2:6], b.NodeID)
	binary.LittleEndian.PutUint32(out[6:10], math.Float32bits(b.Score))
	binary.LittleEndian.PutUint16(out[10:12], b.BatteryScaled)
	binary.LittleEndian.PutUint16(out[12:14], b.TrustScaled)
	binary.LittleEndian.PutUint16(out[14:16], b.LinkQScaled)
	copy(out[16:18], b.MACTail[:])
	if b.IsCH {
		out[18] = 1
	}
	out[19] = b.SeqNum
	out[20] = b.HMAC[0]
	return out
}

// DecodeBeacon parses a 21-byte wire beacon.
func DecodeBeacon(buf []byte) (Beacon, error) {
	if len(buf) != BeaconSize {
		return Beacon{}, fmt.Errorf("wireproto: beacon: expected %d bytes, got %d", BeaconSize, len(buf))
	}
	var b Beacon
	b.CompanyID = binary.LittleEndian.Uint16(buf[0:2])
	b.NodeID = binary.LittleEndian.Uint32(buf[2:6])
	b.Score = math.Float32frombits(binary.LittleEndian.Uint32(buf[6:10]))
	b.BatteryScaled = binary.LittleEndian.Uint16(buf[10:12])
	b.TrustScaled = binary.LittleEndian.Uint16(buf[12:14])
	b.LinkQScaled = binary.LittleEndian.Uint16(buf[14:16])
	copy(b.MACTail[:], buf[16:18])
	b.IsCH = buf[18] != 0
	b.SeqNum = buf[19]
	b.HMAC[0] = buf[20]
	return b, nil
}

// HMACRange returns the slice of buf that must be HMAC'd for a beacon (the
// caller is expected to pass the 21-byte encoded form; the trailing hmac
// byte itself is excluded).
func HMACRange(encoded []byte) []byte {
	if len(encoded) < HMACRangeEnd {
		return nil
	}
	return encoded[HMACRangeStart:HMACRangeEnd]
}

// ScheduleMagic identifies a Schedule unicast message.
const ScheduleMagic = 0x53434844 // "SCHD" read as a little-endian u32 below is not literal ASCII; kept as a stable constant.

// ScheduleSize is the wire size of a Schedule message.
const ScheduleSize = 4 + 8 + 1 + 1

// Schedule is the CH->member TDMA slot assignment (spec §3, §6).
type Schedule struct {
	Magic         uint32
	EpochMicros   int64
	SlotIndex     uint8
	SlotDurationS uint8
}

func (s Schedule) Encode() []byte {
	out := make([]byte, ScheduleSize)
	binary.LittleEndian.PutUint32(out[0:4], s.Magic)
	binary.LittleEndian.PutUint64(out[4:12], uint64(s.EpochMicros))
	out[12] = s.SlotIndex
	out[13] = s.SlotDurationS
	return out
}

func DecodeSchedule(buf []byte) (Schedule, error) {
	if len(buf) != ScheduleSize {
		return Schedule{}, fmt.Errorf("wireproto: schedule: expected %d bytes, got %d", ScheduleSize, len(buf))
	}
	var s Schedule
	s.Magic = binary.LittleEndian.Uint32(buf[0:4])
	s.EpochMicros = int64(binary.LittleEndian.Uint64(buf[4:12]))
	s.SlotIndex = buf[12]
	s.SlotDurationS = buf[13]
	return s, nil
}

// LogChunkMagic is "MSLG" read little-endian per spec §6.
const LogChunkMagic = 0x474C534D

// LogChunkVersion is the only version this codec emits/accepts.
const LogChunkVersion = 2

// LogChunkHeaderSize is the fixed header size preceding the payload.
const LogChunkHeaderSize = 36

// LogChunkHeader is the packed chunk header written before each payload in
// the log pipeline (spec §3, §6).
type LogChunkHeader struct {
	Magic     uint32
	Version   uint16
	Algo      uint8
	Level     uint8
	RawLen    uint32
	DataLen   uint32
	CRC32     uint32
	NodeID    uint64
	Timestamp uint32
	Reserved  uint32
}

const (
	LogAlgoRaw     uint8 = 0
	LogAlgoHuffman uint8 = 1
)

func (h LogChunkHeader) Encode() []byte {
	out := make([]byte, LogChunkHeaderSize)
	binary.LittleEndian.PutUint32(out[0:4], h.Magic)
	binary.LittleEndian.PutUint16(out[4:6], h.Version)
	out[6] = h.Algo
	out[7] = h.Level
	binary.LittleEndian.PutUint32(out[8:12], h.RawLen)
	binary.LittleEndian.PutUint32(out[12:16], h.DataLen)
	binary.LittleEndian.PutUint32(out[16:20], h.CRC32)
	binary.LittleEndian.PutUint64(out[20:28], h.NodeID)
	binary.LittleEndian.PutUint32(out[28:32], h.Timestamp)
	binary.LittleEndian.PutUint32(out[32:36], h.Reserved)
	return out
}

func DecodeLogChunkHeader(buf []byte) (LogChunkHeader, error) {
	if len(buf) < LogChunkHeaderSize {
		return LogChunkHeader{}, fmt.Errorf("wireproto: log chunk header: truncated")
	}
	var h LogChunkHeader
	h.Magic = binary.LittleEndian.Uint32(buf[0:4])
	h.Version = binary.LittleEndian.Uint16(buf[4:6])
	h.Algo = buf[6]
	h.Level = buf[7]
	h.RawLen = binary.LittleEndian.Uint32(buf[8:12])
	h.DataLen = binary.LittleEndian.Uint32(buf[12:16])
	h.CRC32 = binary.LittleEndian.Uint32(buf[16:20])
	h.NodeID = binary.LittleEndian.Uint64(buf[20:28])
	h.Timestamp = binary.LittleEndian.Uint32(buf[28:32])
	h.Reserved = binary.LittleEndian.Uint32(buf[32:36])
	if h.Magic != LogChunkMagic {
		return LogChunkHeader{}, fmt.Errorf("wireproto: log chunk header: bad magic %#x", h.Magic)
	}
	return h, nil
}

// HuffmanMagic is "HUF1" read little-endian per spec §6.
const HuffmanMagic = 0x31465548

// HuffmanHeaderSize is magic(4) + orig_len(4) + code_lengths(256).
const HuffmanHeaderSize = 4 + 4 + 256
