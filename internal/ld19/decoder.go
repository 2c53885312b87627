package ld19

import "bytes"

// Status is the outcome of a single decode attempt.
type Status int

const (
	// StatusNeedMore means the buffer does not yet hold a full header or
	// frame. Result.Need says how many more bytes are required at minimum.
	StatusNeedMore Status = iota
	// StatusResync means the first buffered byte was not an indicator and
	// was discarded.
	StatusResync
	// StatusRejected means a complete frame was removed from the buffer but
	// failed its checksum.
	StatusRejected
	// StatusPacket means Result.Packet holds a decoded frame.
	StatusPacket
)

func (s Status) String() string {
	switch s {
	case StatusNeedMore:
		return "need-more"
	case StatusResync:
		return "resync"
	case StatusRejected:
		return "rejected"
	case StatusPacket:
		return "packet"
	}
	return "unknown"
}

// Result is returned by Decode.
type Result struct {
	Status Status
	Need   int     // set with StatusNeedMore
	Packet *Packet // set with StatusPacket
}

// FrameDecoder attempts to decode one item from the front of buf. It never
// blocks; feeding buf is the caller's job.
type FrameDecoder interface {
	Decode(buf *bytes.Buffer) Result
}

// Observer receives framing events. All methods are called synchronously
// from Decode, so implementations must be cheap.
type Observer interface {
	ByteDiscarded(b byte)
	FrameRejected(h Header, want, got byte)
	PacketDecoded(p *Packet)
}

// Decoder is the LD19 frame decoder. It holds no stream state of its own;
// everything lives in the caller's buffer, so one Decoder may serve several
// streams as long as each stream has its own buffer.
type Decoder struct {
	obs Observer
}

// NewDecoder returns a Decoder reporting to obs, which may be nil.
func NewDecoder(obs Observer) *Decoder {
	return &Decoder{obs: obs}
}

var _ FrameDecoder = (*Decoder)(nil)

// Decode examines the front of buf and makes at most one step of progress:
// it either leaves buf untouched and asks for more bytes, drops a single
// noise byte, or removes one complete frame and reports whether it passed
// the checksum.
func (d *Decoder) Decode(buf *bytes.Buffer) Result {
	avail := buf.Len()
	if avail < HeaderLen {
		return Result{Status: StatusNeedMore, Need: HeaderLen - avail}
	}

	b := buf.Bytes()
	h, ok := parseHeader(b)
	if !ok {
		noise, _ := buf.ReadByte()
		if d.obs != nil {
			d.obs.ByteDiscarded(noise)
		}
		return Result{Status: StatusResync}
	}

	size := h.FrameLen()
	if avail < size {
		return Result{Status: StatusNeedMore, Need: size - avail}
	}

	// The frame leaves the buffer whether or not it checks out, so a bad
	// frame is never rescanned.
	frame := buf.Next(size)
	valid, want, got := validFrame(frame)
	if !valid {
		if d.obs != nil {
			d.obs.FrameRejected(h, want, got)
		}
		return Result{Status: StatusRejected}
	}

	p := decodeFrame(h, frame)
	if d.obs != nil {
		d.obs.PacketDecoded(p)
	}
	return Result{Status: StatusPacket, Packet: p}
}
