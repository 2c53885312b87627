package lidar

import (
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/shaunagostinho/lidardash/internal/ld19"
	"github.com/shaunagostinho/lidardash/internal/metrics"
)

// Port is the subset of serial.Port the LD19 provider needs.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// PortOpener opens a serial port. Tests swap in an in-memory port.
type PortOpener func(path string, mode *serial.Mode) (Port, error)

func openSerial(path string, mode *serial.Mode) (Port, error) {
	return serial.Open(path, mode)
}

// LD19 reads the lidar's free-running UART stream. The sensor starts
// transmitting on power-up, so there is no handshake: Connect just opens the
// port and starts a fresh decoder buffer.
type LD19 struct {
	portPath    string
	baudRate    int
	readTimeout time.Duration
	open        PortOpener

	mu        sync.Mutex
	port      Port
	reader    *ld19.Reader
	connected bool
}

// LD19Config holds connection configuration for the LD19 provider.
type LD19Config struct {
	PortPath      string `yaml:"port_path" json:"portPath"`
	BaudRate      int    `yaml:"baud_rate" json:"baudRate"`
	ReadTimeoutMs int    `yaml:"read_timeout_ms" json:"readTimeoutMs"`

	// Opener overrides serial.Open; nil uses the real serial driver.
	Opener PortOpener `yaml:"-" json:"-"`
}

// NewLD19 creates a new LD19 serial provider.
func NewLD19(cfg LD19Config) *LD19 {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 230400 // fixed by the sensor
	}
	if cfg.ReadTimeoutMs <= 0 {
		cfg.ReadTimeoutMs = 200
	}
	if cfg.Opener == nil {
		cfg.Opener = openSerial
	}
	return &LD19{
		portPath:    cfg.PortPath,
		baudRate:    cfg.BaudRate,
		readTimeout: time.Duration(cfg.ReadTimeoutMs) * time.Millisecond,
		open:        cfg.Opener,
	}
}

func (l *LD19) Name() string { return "LD19" }

// Connect opens the serial port at 8N1, no flow control.
func (l *LD19) Connect() error {
	mode := &serial.Mode{
		BaudRate: l.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := l.open(l.portPath, mode)
	if err != nil {
		return fmt.Errorf("ld19: failed to open %s: %w", l.portPath, err)
	}
	if err := port.SetReadTimeout(l.readTimeout); err != nil {
		port.Close()
		return fmt.Errorf("ld19: failed to set timeout: %w", err)
	}
	// Whatever is queued is a stale partial scan.
	if err := port.ResetInputBuffer(); err != nil {
		log.Printf("[lidar] reset input buffer on %s: %v", l.portPath, err)
	}

	dec := ld19.NewDecoder(newDecodeObserver("lidar"))

	l.mu.Lock()
	if l.port != nil {
		l.port.Close()
	}
	l.port = port
	l.reader = ld19.NewReader(port, dec)
	l.connected = true
	l.mu.Unlock()

	log.Printf("[lidar] connected to %s at %d baud", l.portPath, l.baudRate)
	return nil
}

func (l *LD19) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = false
	if l.port != nil {
		err := l.port.Close()
		l.port = nil
		return err
	}
	return nil
}

func (l *LD19) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

// ReadPacket blocks for at most one read timeout when no data is flowing.
func (l *LD19) ReadPacket() (*ld19.Packet, error) {
	l.mu.Lock()
	r := l.reader
	ok := l.connected
	l.mu.Unlock()
	if r == nil || !ok {
		return nil, ErrNotConnected
	}

	start := time.Now()
	p, err := r.ReadPacket()
	if err != nil {
		metrics.TransportErrors.WithLabelValues("ld19").Inc()
		l.mu.Lock()
		l.connected = false
		l.mu.Unlock()
		return nil, err
	}
	if p != nil {
		metrics.ObserveReadLatency(start)
	}
	return p, nil
}

func (l *LD19) Stats() ld19.Stats {
	l.mu.Lock()
	r := l.reader
	l.mu.Unlock()
	if r == nil {
		return ld19.Stats{}
	}
	return r.Stats()
}
