package connection

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Default backoff parameters.
const (
	DefaultInitialBackoff = 1 * time.Second
	DefaultMaxBackoff     = 60 * time.Second
	DefaultMultiplier     = 2.0
	DefaultJitter         = 0.25
)

// BackoffConfig configures exponential backoff. Zero durations and a
// multiplier of at most 1 are replaced by the defaults. Jitter is the
// largest random fraction added to a delay; zero disables it.
type BackoffConfig struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// DefaultBackoffConfig returns the default backoff parameters.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Initial:    DefaultInitialBackoff,
		Max:        DefaultMaxBackoff,
		Multiplier: DefaultMultiplier,
		Jitter:     DefaultJitter,
	}
}

func (c BackoffConfig) withDefaults() BackoffConfig {
	if c.Initial <= 0 {
		c.Initial = DefaultInitialBackoff
	}
	if c.Max <= 0 {
		c.Max = DefaultMaxBackoff
	}
	if c.Max < c.Initial {
		c.Max = c.Initial
	}
	if c.Multiplier <= 1 {
		c.Multiplier = DefaultMultiplier
	}
	if c.Jitter < 0 {
		c.Jitter = 0
	}
	return c
}

// Sequence returns the base delays (without jitter) from Initial up to
// and including the first delay that reaches Max.
func (c BackoffConfig) Sequence() []time.Duration {
	c = c.withDefaults()
	var seq []time.Duration
	for d := c.Initial; ; d = c.next(d) {
		seq = append(seq, d)
		if d >= c.Max {
			return seq
		}
	}
}

func (c BackoffConfig) next(d time.Duration) time.Duration {
	n := time.Duration(float64(d) * c.Multiplier)
	if n > c.Max {
		return c.Max
	}
	return n
}

// Backoff hands out exponentially growing delays with jitter.
type Backoff struct {
	cfg BackoffConfig

	mu       sync.Mutex
	current  time.Duration
	attempts int
}

// NewBackoff returns a backoff with the given configuration.
func NewBackoff(cfg BackoffConfig) *Backoff {
	cfg = cfg.withDefaults()
	return &Backoff{cfg: cfg, current: cfg.Initial}
}

// Next returns the next delay with jitter and advances the backoff.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	delay := b.jitter(b.current)
	b.attempts++
	b.current = b.cfg.next(b.current)
	return delay
}

// Reset returns to the initial delay.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.cfg.Initial
	b.attempts = 0
}

// Attempts returns the number of delays handed out since the last reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Current returns the next base delay without jitter.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

func (b *Backoff) jitter(d time.Duration) time.Duration {
	if b.cfg.Jitter == 0 {
		return d
	}
	return d + time.Duration(float64(d)*b.cfg.Jitter*rand.Float64())
}
