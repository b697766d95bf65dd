package protocol

import (
	"log/slog"
	"time"
)

// Default timing values.
const (
	DefaultPingInterval     = 10 * time.Second
	DefaultPingTimeout      = 30 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultRequestTimeout   = 10 * time.Second
)

// Config configures a session.
type Config struct {
	// PingInterval is the time between keepalive pings.
	PingInterval time.Duration

	// PingTimeout closes the session when no line arrived for this long.
	PingTimeout time.Duration

	// HandshakeTimeout bounds each handshake step.
	HandshakeTimeout time.Duration

	// RequestTimeout bounds each port command.
	RequestTimeout time.Duration

	// Checksums announces checksum support to the device.
	Checksums bool

	// MasterName identifies this master in logs.
	MasterName string

	// Logger receives operational messages (default: slog.Default()).
	Logger *slog.Logger
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		PingInterval:     DefaultPingInterval,
		PingTimeout:      DefaultPingTimeout,
		HandshakeTimeout: DefaultHandshakeTimeout,
		RequestTimeout:   DefaultRequestTimeout,
		Checksums:        true,
		MasterName:       "opdi-master",
	}
}

// withDefaults replaces zero durations and a nil logger.
func (c Config) withDefaults() Config {
	if c.PingInterval == 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.PingTimeout == 0 {
		c.PingTimeout = DefaultPingTimeout
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}
