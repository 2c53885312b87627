// Package ld19 decodes the serial data stream of LD19-family 2D lidars.
//
// Every frame on the wire has the layout below (multi-byte fields are
// little-endian):
//
//	offset  size  field
//	0       1     indicator (0x54)
//	1       1     version (bits 7-5) / sample count N (bits 4-0)
//	2       2     rotation speed (deg/s)
//	4       2     start angle (0.01 deg)
//	6       3*N   samples: distance (mm, 2 bytes) + confidence (1 byte)
//	6+3N    2     end angle (0.01 deg)
//	8+3N    2     timestamp (ms, wraps at 65536)
//	10+3N   1     CRC-8 over all preceding bytes
//
// The sensor normally emits 12 samples per frame (47 bytes), but the sample
// count is always taken from the header.
package ld19

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

const (
	// Indicator is the first byte of every frame.
	Indicator byte = 0x54

	// HeaderLen is the size of the indicator + version/count prefix.
	HeaderLen = 2
	// SampleLen is the wire size of one distance/confidence sample.
	SampleLen = 3
	// TrailerLen covers speed, start angle, end angle, timestamp and CRC.
	TrailerLen = 9

	// MaxSamples is the largest count the 5-bit header field can carry.
	MaxSamples = 0x1f

	// DefaultVersion is the protocol version reported by current sensors.
	DefaultVersion = 1
	// DefaultSamples is the per-frame sample count of current sensors.
	DefaultSamples = 12

	offSpeed      = 2
	offStartAngle = 4
	offSamples    = 6
)

var (
	ErrTooManySamples      = errors.New("ld19: too many samples for one frame")
	ErrSampleCountMismatch = errors.New("ld19: header sample count does not match samples")
)

// Header is the two-byte frame prefix.
type Header struct {
	Indicator byte
	VerLen    byte
}

// parseHeader reads a header from the first two bytes of b. ok is false when
// the indicator byte is wrong. b must hold at least HeaderLen bytes.
func parseHeader(b []byte) (Header, bool) {
	if b[0] != Indicator {
		return Header{}, false
	}
	return Header{Indicator: b[0], VerLen: b[1]}, true
}

// NewHeader packs a version and sample count into a header.
func NewHeader(version, samples int) (Header, error) {
	if samples < 0 || samples > MaxSamples {
		return Header{}, fmt.Errorf("%w: %d", ErrTooManySamples, samples)
	}
	return Header{
		Indicator: Indicator,
		VerLen:    byte(version&0x07)<<5 | byte(samples),
	}, nil
}

// Version returns the 3-bit protocol version.
func (h Header) Version() int { return int(h.VerLen >> 5) }

// SampleCount returns the number of samples the frame carries.
func (h Header) SampleCount() int { return int(h.VerLen & 0x1f) }

// FrameLen returns the full described frame size in bytes.
func (h Header) FrameLen() int {
	return HeaderLen + h.SampleCount()*SampleLen + TrailerLen
}

func (h Header) String() string {
	return fmt.Sprintf("Header{indicator: 0x%02X, version: %d, samples: %d}",
		h.Indicator, h.Version(), h.SampleCount())
}

// Sample is one raw range reading.
type Sample struct {
	Distance   uint16 `json:"distance"`   // mm
	Confidence uint8  `json:"confidence"` // signal strength, ~200 is a solid return
}

// Packet is one decoded and checksum-verified frame. Packets are values:
// nothing in this package modifies one after it has been built.
type Packet struct {
	Header     Header   `json:"-"`
	Speed      uint16   `json:"speed"`      // deg/s
	StartAngle uint16   `json:"startAngle"` // 0.01 deg
	Samples    []Sample `json:"samples"`
	EndAngle   uint16   `json:"endAngle"`  // 0.01 deg
	Timestamp  uint16   `json:"timestamp"` // ms, wraps
	Checksum   uint8    `json:"checksum"`
}

// decodeFrame builds a Packet from a frame whose length and checksum have
// already been verified against h.
func decodeFrame(h Header, frame []byte) *Packet {
	n := h.SampleCount()
	p := &Packet{
		Header:     h,
		Speed:      binary.LittleEndian.Uint16(frame[offSpeed:]),
		StartAngle: binary.LittleEndian.Uint16(frame[offStartAngle:]),
		Samples:    make([]Sample, n),
	}
	for i := 0; i < n; i++ {
		off := offSamples + i*SampleLen
		p.Samples[i] = Sample{
			Distance:   binary.LittleEndian.Uint16(frame[off:]),
			Confidence: frame[off+2],
		}
	}
	end := offSamples + n*SampleLen
	p.EndAngle = binary.LittleEndian.Uint16(frame[end:])
	p.Timestamp = binary.LittleEndian.Uint16(frame[end+2:])
	p.Checksum = frame[end+4]
	return p
}

// NewPacket builds a current-version packet around samples and seals it with
// a valid checksum.
func NewPacket(speed, startAngle, endAngle, timestamp uint16, samples []Sample) (*Packet, error) {
	h, err := NewHeader(DefaultVersion, len(samples))
	if err != nil {
		return nil, err
	}
	p := &Packet{
		Header:     h,
		Speed:      speed,
		StartAngle: startAngle,
		Samples:    make([]Sample, len(samples)),
		EndAngle:   endAngle,
		Timestamp:  timestamp,
	}
	copy(p.Samples, samples)
	frame := p.appendFields(make([]byte, 0, h.FrameLen()))
	p.Checksum = Checksum(frame)
	return p, nil
}

// MarshalBinary encodes the packet back into its wire frame, including the
// stored checksum byte as-is.
func (p *Packet) MarshalBinary() ([]byte, error) {
	if p.Header.SampleCount() != len(p.Samples) {
		return nil, fmt.Errorf("%w: header says %d, have %d",
			ErrSampleCountMismatch, p.Header.SampleCount(), len(p.Samples))
	}
	frame := p.appendFields(make([]byte, 0, p.Header.FrameLen()))
	return append(frame, p.Checksum), nil
}

// appendFields writes everything except the checksum byte.
func (p *Packet) appendFields(b []byte) []byte {
	b = append(b, p.Header.Indicator, p.Header.VerLen)
	b = binary.LittleEndian.AppendUint16(b, p.Speed)
	b = binary.LittleEndian.AppendUint16(b, p.StartAngle)
	for _, s := range p.Samples {
		b = binary.LittleEndian.AppendUint16(b, s.Distance)
		b = append(b, s.Confidence)
	}
	b = binary.LittleEndian.AppendUint16(b, p.EndAngle)
	b = binary.LittleEndian.AppendUint16(b, p.Timestamp)
	return b
}

func (p *Packet) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Packet{ts: %dms, version: %d, speed: %d deg/s, start: %d, end: %d, samples: [",
		p.Timestamp, p.Header.Version(), p.Speed, p.StartAngle, p.EndAngle)
	for i, s := range p.Samples {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%d/%d", s.Distance, s.Confidence)
	}
	fmt.Fprintf(&sb, "], crc: 0x%02X}", p.Checksum)
	return sb.String()
}
