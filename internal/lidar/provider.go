package lidar

import (
	"errors"

	"github.com/shaunagostinho/lidardash/internal/ld19"
)

// ErrNotConnected is returned by ReadPacket before Connect succeeds or after
// the stream has died.
var ErrNotConnected = errors.New("lidar: not connected")

// Provider is the interface every lidar backend implements. The LD19 serial
// provider is the real one; Demo synthesises a scan for development.
type Provider interface {
	// Name returns the human-readable name of this provider.
	Name() string
	// Connect opens the byte source and starts a fresh decode stream.
	Connect() error
	// Close shuts the byte source down. A blocked ReadPacket returns an error.
	Close() error
	// IsConnected reports whether the stream is alive.
	IsConnected() bool

	// ReadPacket returns the next checksum-valid packet. A nil packet with a
	// nil error means no complete frame arrived before the read timeout.
	// Any error is fatal for the current connection; reconnect to continue.
	// Only one goroutine may call ReadPacket at a time.
	ReadPacket() (*ld19.Packet, error)

	// Stats returns decoder counters for the current connection.
	Stats() ld19.Stats
}
