package lidar

import (
	"log"
	"sync"
	"time"

	"github.com/shaunagostinho/lidardash/internal/ld19"
	"github.com/shaunagostinho/lidardash/internal/metrics"
)

// decodeObserver feeds framing events into metrics and logs checksum
// failures, at most one line per logEvery.
type decodeObserver struct {
	name     string
	logEvery time.Duration

	mu         sync.Mutex
	lastLog    time.Time
	suppressed int
	logf       func(format string, args ...any)
}

func newDecodeObserver(name string) *decodeObserver {
	return &decodeObserver{
		name:     name,
		logEvery: time.Second,
		logf:     log.Printf,
	}
}

func (o *decodeObserver) ByteDiscarded(byte) {
	metrics.BytesDiscarded.Inc()
}

func (o *decodeObserver) FrameRejected(h ld19.Header, want, got byte) {
	metrics.FramesRejected.Inc()

	o.mu.Lock()
	defer o.mu.Unlock()
	now := time.Now()
	if now.Sub(o.lastLog) < o.logEvery {
		o.suppressed++
		return
	}
	if o.suppressed > 0 {
		o.logf("[%s] checksum mismatch on %v: frame says 0x%02X, computed 0x%02X (%d more since last report)",
			o.name, h, want, got, o.suppressed)
	} else {
		o.logf("[%s] checksum mismatch on %v: frame says 0x%02X, computed 0x%02X",
			o.name, h, want, got)
	}
	o.lastLog = now
	o.suppressed = 0
}

func (o *decodeObserver) PacketDecoded(p *ld19.Packet) {
	metrics.PacketsDecoded.Inc()
	metrics.RotationSpeed.Set(float64(p.Speed))
}
