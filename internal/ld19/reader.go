package ld19

import (
	"bytes"
	"fmt"
	"io"
	"sync"
)

// readChunk is the minimum read size; 230400 baud delivers ~23 KB/s, so a
// few frames per read is plenty.
const readChunk = 512

// Stats counts decoder outcomes for one stream.
type Stats struct {
	BytesRead      uint64 `json:"bytesRead"`
	Packets        uint64 `json:"packets"`
	Rejected       uint64 `json:"rejected"`
	DiscardedBytes uint64 `json:"discardedBytes"`
}

// Reader pulls frames out of a byte source. Checksum failures and noise are
// absorbed; only errors from the source are returned.
type Reader struct {
	src io.Reader
	dec FrameDecoder
	buf bytes.Buffer
	tmp []byte
	err error

	mu    sync.Mutex
	stats Stats
}

// NewReader wraps src with the given decoder. A nil dec uses a Decoder with
// no observer.
func NewReader(src io.Reader, dec FrameDecoder) *Reader {
	if dec == nil {
		dec = NewDecoder(nil)
	}
	return &Reader{
		src: src,
		dec: dec,
		tmp: make([]byte, readChunk),
	}
}

// ReadPacket returns the next valid packet in stream order.
//
// A nil packet with a nil error means the source returned no data (e.g. a
// serial read timeout) before a full frame was available; call again.
// Buffered bytes are kept, so a call after a timeout resumes mid-frame.
// Errors from the source are returned once the bytes read before them are
// used up (io.EOF as-is, anything else wrapped) and are sticky.
func (r *Reader) ReadPacket() (*Packet, error) {
	for {
		res := r.dec.Decode(&r.buf)
		switch res.Status {
		case StatusPacket:
			r.count(func(s *Stats) { s.Packets++ })
			return res.Packet, nil
		case StatusResync:
			r.count(func(s *Stats) { s.DiscardedBytes++ })
			continue
		case StatusRejected:
			r.count(func(s *Stats) { s.Rejected++ })
			continue
		}

		// StatusNeedMore
		if r.err != nil {
			return nil, r.err
		}
		want := res.Need
		if want < readChunk {
			want = readChunk
		}
		if cap(r.tmp) < want {
			r.tmp = make([]byte, want)
		}
		n, err := r.src.Read(r.tmp[:want])
		if n > 0 {
			r.buf.Write(r.tmp[:n])
			r.count(func(s *Stats) { s.BytesRead += uint64(n) })
		}
		if err != nil {
			if err != io.EOF {
				err = fmt.Errorf("ld19: read: %w", err)
			}
			r.err = err
			if n > 0 {
				continue
			}
			return nil, err
		}
		if n == 0 {
			return nil, nil
		}
	}
}

// Buffered returns the number of bytes waiting to be decoded.
func (r *Reader) Buffered() int { return r.buf.Len() }

// Stats returns a snapshot of the stream counters. Safe to call from any
// goroutine.
func (r *Reader) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *Reader) count(f func(*Stats)) {
	r.mu.Lock()
	f(&r.stats)
	r.mu.Unlock()
}
