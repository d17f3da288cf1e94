package session

import (
	"time"

	"github.com/danmuck/homelink/internal/transport"
)

// BackoffConfig defines caller-side retry backoff for connect.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines the I/O budget of one session.
type Config struct {
	ConnectTimeout time.Duration
	// IOTimeout bounds each send/receive attempt, not the whole exchange.
	IOTimeout   time.Duration
	MaxAttempts int
	Backoff     BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 5 * time.Second,
		IOTimeout:      5 * time.Second,
		MaxAttempts:    transport.DefaultMaxAttempts,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.IOTimeout <= 0 {
		c.IOTimeout = d.IOTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.Backoff.InitialDelay <= 0 && c.Backoff.MaxDelay <= 0 {
		c.Backoff = d.Backoff
	}
	return c
}

func (c Config) transport() transport.Reliable {
	return transport.New(c.MaxAttempts, c.IOTimeout)
}
