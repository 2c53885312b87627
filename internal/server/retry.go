package server

import (
	"context"
	"log"
	"time"
)

// connectable is satisfied by every lidar.Provider.
type connectable interface {
	Connect() error
	Close() error
}

// Backoff controls reconnect pacing.
type Backoff struct {
	Initial     time.Duration
	Max         time.Duration
	MaxAttempts int // attempts logged as n/MaxAttempts before going quiet-ish
}

// DefaultBackoff starts at 1s, doubles each attempt up to 60s.
var DefaultBackoff = Backoff{Initial: time.Second, Max: 60 * time.Second, MaxAttempts: 10}

// connectWithRetry attempts to connect with exponential backoff. After
// MaxAttempts it keeps trying at the max interval indefinitely. Returns false
// only if ctx was cancelled first.
func connectWithRetry(ctx context.Context, name string, c connectable, b Backoff) bool {
	delay := b.Initial
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return false
		default:
		}

		err := c.Connect()
		if err == nil {
			log.Printf("[%s] connected successfully (attempt %d)", name, attempt+1)
			return true
		}

		attempt++
		if attempt <= b.MaxAttempts {
			log.Printf("[%s] connect attempt %d/%d failed: %v (retry in %v)",
				name, attempt, b.MaxAttempts, err, delay)
		} else {
			log.Printf("[%s] connect attempt %d failed: %v (retry in %v)",
				name, attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}

		delay *= 2
		if delay > b.Max {
			delay = b.Max
		}
	}
}
