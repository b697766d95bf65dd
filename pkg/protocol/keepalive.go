package protocol

import (
	"context"
	"sync"
	"time"
)

// KeepAliveConfig configures keep-alive behavior.
type KeepAliveConfig struct {
	// PingInterval is the interval between pings.
	PingInterval time.Duration

	// Timeout is how long the link may stay silent before it is
	// considered dead.
	Timeout time.Duration
}

// DefaultKeepAliveConfig returns the default keep-alive configuration.
func DefaultKeepAliveConfig() KeepAliveConfig {
	return KeepAliveConfig{
		PingInterval: DefaultPingInterval,
		Timeout:      DefaultPingTimeout,
	}
}

// DetectionDelay is the longest time a dead link can go unnoticed.
func (c KeepAliveConfig) DetectionDelay() time.Duration {
	return c.Timeout + c.PingInterval
}

// KeepAlive sends periodic pings and reports a link that stayed silent
// past the timeout. Any inbound line counts as activity.
type KeepAlive struct {
	config KeepAliveConfig

	sendPing     func() error
	lastActivity func() time.Time
	onTimeout    func()

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	pings   uint64
	lastErr error
}

// NewKeepAlive creates a keep-alive manager. onTimeout is called at most
// once per Start, from the keep-alive goroutine.
func NewKeepAlive(config KeepAliveConfig, sendPing func() error, lastActivity func() time.Time, onTimeout func()) *KeepAlive {
	if config.PingInterval == 0 {
		config.PingInterval = DefaultPingInterval
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultPingTimeout
	}
	return &KeepAlive{
		config:       config,
		sendPing:     sendPing,
		lastActivity: lastActivity,
		onTimeout:    onTimeout,
		stopCh:       make(chan struct{}),
	}
}

// Start begins the keep-alive loop.
func (ka *KeepAlive) Start(ctx context.Context) {
	ka.mu.Lock()
	if ka.running {
		ka.mu.Unlock()
		return
	}
	ka.running = true
	ka.stopCh = make(chan struct{})
	stop := ka.stopCh
	ka.mu.Unlock()

	go ka.loop(ctx, stop)
}

// Stop stops the keep-alive loop.
func (ka *KeepAlive) Stop() {
	ka.mu.Lock()
	defer ka.mu.Unlock()

	if !ka.running {
		return
	}
	ka.running = false
	close(ka.stopCh)
}

// IsRunning returns true if the loop is active.
func (ka *KeepAlive) IsRunning() bool {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return ka.running
}

// KeepAliveStats contains keep-alive statistics.
type KeepAliveStats struct {
	PingsSent    uint64
	LastActivity time.Time
	LastError    error
}

// Stats returns current keep-alive statistics.
func (ka *KeepAlive) Stats() KeepAliveStats {
	ka.mu.Lock()
	defer ka.mu.Unlock()
	return KeepAliveStats{
		PingsSent:    ka.pings,
		LastActivity: ka.lastActivity(),
		LastError:    ka.lastErr,
	}
}

func (ka *KeepAlive) loop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(ka.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if time.Since(ka.lastActivity()) >= ka.config.Timeout {
				ka.Stop()
				if ka.onTimeout != nil {
					ka.onTimeout()
				}
				return
			}
			ka.ping()
		}
	}
}

func (ka *KeepAlive) ping() {
	err := ka.sendPing()
	ka.mu.Lock()
	ka.pings++
	ka.lastErr = err
	ka.mu.Unlock()
}
