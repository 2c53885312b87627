package lidar

import (
	"bytes"
	"io"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/shaunagostinho/lidardash/internal/ld19"
)

const (
	demoSpeed       = 3600 // deg/s, 10 Hz
	demoSampleStep  = 0.8  // deg between samples
	demoNoiseEvery  = 97   // frames between injected noise bytes
	demoCorruptEach = 251  // frames between corrupted frames
)

// Demo generates a simulated room scan for development and testing. It emits
// real LD19 wire frames (with the odd noise byte and corrupted frame thrown
// in) and decodes them through the same Reader the serial provider uses.
type Demo struct {
	mu        sync.Mutex
	src       *demoSource
	reader    *ld19.Reader
	connected bool
	interval  time.Duration
}

// NewDemo creates a demo provider that paces frames like a real sensor.
func NewDemo() *Demo {
	// 12 samples at 4500 samples/s
	return &Demo{interval: 12 * time.Second / 4500}
}

func (d *Demo) Name() string { return "Demo (Simulated)" }

func (d *Demo) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.src = newDemoSource(d.interval, time.Now().UnixNano())
	d.reader = ld19.NewReader(d.src, ld19.NewDecoder(newDecodeObserver("demo")))
	d.connected = true
	return nil
}

func (d *Demo) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
	if d.src != nil {
		d.src.close()
	}
	return nil
}

func (d *Demo) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *Demo) ReadPacket() (*ld19.Packet, error) {
	d.mu.Lock()
	r := d.reader
	ok := d.connected
	d.mu.Unlock()
	if r == nil || !ok {
		return nil, ErrNotConnected
	}
	p, err := r.ReadPacket()
	if err != nil {
		d.mu.Lock()
		d.connected = false
		d.mu.Unlock()
		return nil, err
	}
	return p, nil
}

func (d *Demo) Stats() ld19.Stats {
	d.mu.Lock()
	r := d.reader
	d.mu.Unlock()
	if r == nil {
		return ld19.Stats{}
	}
	return r.Stats()
}

// demoSource is an io.Reader producing one synthetic frame per Read.
type demoSource struct {
	interval time.Duration
	rng      *rand.Rand

	mu     sync.Mutex
	closed bool
	pend   bytes.Buffer
	angle  float64 // deg
	ms     float64 // virtual sensor clock
	frames int
}

func newDemoSource(interval time.Duration, seed int64) *demoSource {
	return &demoSource{
		interval: interval,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

func (s *demoSource) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *demoSource) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	if s.pend.Len() == 0 {
		if s.interval > 0 {
			s.mu.Unlock()
			time.Sleep(s.interval)
			s.mu.Lock()
		}
		s.pend.Write(s.nextFrame())
	}
	return s.pend.Read(p)
}

// nextFrame renders the next 12 samples of the rotating scan.
func (s *demoSource) nextFrame() []byte {
	samples := make([]ld19.Sample, ld19.DefaultSamples)
	for i := range samples {
		a := s.angle + float64(i)*demoSampleStep
		dist := roomDistance(a) + s.rng.Float64()*20 - 10
		conf := 240 - dist/60 + s.rng.Float64()*10
		samples[i] = ld19.Sample{
			Distance:   uint16(clamp(dist, 0, math.MaxUint16)),
			Confidence: uint8(clamp(conf, 0, 255)),
		}
	}

	span := demoSampleStep * float64(len(samples))
	start := uint16(math.Round(s.angle * 100))
	end := uint16(math.Round(math.Mod(s.angle+span, 360) * 100))
	p, _ := ld19.NewPacket(demoSpeed, start, end, uint16(int64(s.ms)%65536), samples)
	frame, _ := p.MarshalBinary()

	s.angle = math.Mod(s.angle+span, 360)
	s.ms += span / demoSpeed * 1000
	s.frames++

	switch {
	case s.frames%demoCorruptEach == 0:
		frame[len(frame)/2] ^= 0x5a
	case s.frames%demoNoiseEvery == 0:
		frame = append([]byte{0x00}, frame...)
	}
	return frame
}

// roomDistance returns the range in mm to a 4 x 3 m room with a round pillar,
// sensor at the centre.
func roomDistance(deg float64) float64 {
	const (
		halfW   = 2000.0
		halfH   = 1500.0
		pillarX = 800.0
		pillarY = 600.0
		pillarR = 200.0
	)
	rad := deg * math.Pi / 180
	dx, dy := math.Cos(rad), math.Sin(rad)

	wall := math.Inf(1)
	if dx != 0 {
		wall = math.Min(wall, halfW/math.Abs(dx))
	}
	if dy != 0 {
		wall = math.Min(wall, halfH/math.Abs(dy))
	}

	// Ray/circle: |t*d - c|^2 = r^2
	b := dx*pillarX + dy*pillarY
	c := pillarX*pillarX + pillarY*pillarY - pillarR*pillarR
	if disc := b*b - c; disc >= 0 && b > 0 {
		if t := b - math.Sqrt(disc); t > 0 && t < wall {
			return t
		}
	}
	return wall
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
