package protocol

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leomeyer/OPDI-deprecated/internal/simdevice"
	"github.com/leomeyer/OPDI-deprecated/pkg/wire"
)

type activityClock struct {
	mu   sync.Mutex
	last time.Time
}

func (c *activityClock) touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = time.Now()
}

func (c *activityClock) get() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func TestKeepAliveConfigDefaults(t *testing.T) {
	cfg := DefaultKeepAliveConfig()
	assert.Equal(t, DefaultPingInterval, cfg.PingInterval)
	assert.Equal(t, DefaultPingTimeout, cfg.Timeout)
	assert.Equal(t, 40*time.Second, cfg.DetectionDelay())

	ka := NewKeepAlive(KeepAliveConfig{}, func() error { return nil }, time.Now, nil)
	assert.Equal(t, DefaultPingInterval, ka.config.PingInterval)
	assert.Equal(t, DefaultPingTimeout, ka.config.Timeout)
}

func TestKeepAlivePingsWhileActive(t *testing.T) {
	clock := &activityClock{}
	clock.touch()
	var pings atomic.Int32
	var timeouts atomic.Int32

	ka := NewKeepAlive(KeepAliveConfig{PingInterval: 10 * time.Millisecond, Timeout: 100 * time.Millisecond},
		func() error {
			pings.Add(1)
			clock.touch()
			return nil
		}, clock.get, func() { timeouts.Add(1) })
	ka.Start(context.Background())
	defer ka.Stop()

	require.Eventually(t, func() bool { return pings.Load() >= 5 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), timeouts.Load())
	assert.True(t, ka.IsRunning())
	assert.GreaterOrEqual(t, ka.Stats().PingsSent, uint64(5))
}

func TestKeepAliveTimeout(t *testing.T) {
	clock := &activityClock{}
	clock.touch()
	fired := make(chan struct{}, 2)

	ka := NewKeepAlive(KeepAliveConfig{PingInterval: 10 * time.Millisecond, Timeout: 50 * time.Millisecond},
		func() error { return nil }, clock.get, func() { fired <- struct{}{} })
	ka.Start(context.Background())

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timeout not reported")
	}
	assert.False(t, ka.IsRunning())

	select {
	case <-fired:
		t.Fatal("timeout reported twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestKeepAliveStop(t *testing.T) {
	var pings atomic.Int32
	ka := NewKeepAlive(KeepAliveConfig{PingInterval: 5 * time.Millisecond, Timeout: time.Minute},
		func() error {
			pings.Add(1)
			return nil
		}, time.Now, nil)
	ka.Start(context.Background())
	ka.Start(context.Background())
	require.Eventually(t, func() bool { return pings.Load() > 0 }, time.Second, time.Millisecond)

	ka.Stop()
	ka.Stop()
	assert.False(t, ka.IsRunning())
	n := pings.Load()
	time.Sleep(30 * time.Millisecond)
	assert.LessOrEqual(t, pings.Load(), n+1)
}

func TestSessionKeepalive(t *testing.T) {
	cfg := Config{PingInterval: 20 * time.Millisecond, PingTimeout: 150 * time.Millisecond}

	t.Run("answering device stays connected", func(t *testing.T) {
		sim, p := connect(t, simdevice.Config{AnswerPings: true}, cfg, nil)
		time.Sleep(400 * time.Millisecond)
		assert.Equal(t, StateBound, p.State())
		assert.Greater(t, sim.Count(wire.Ping), 5)
	})

	t.Run("silent device is dropped", func(t *testing.T) {
		_, p := connect(t, simdevice.Config{}, cfg, nil)
		b := p.(*Basic)
		select {
		case <-b.router.Done():
		case <-time.After(2 * time.Second):
			t.Fatal("silent session not closed")
		}
		assert.ErrorIs(t, b.router.Cause(), ErrKeepaliveTimeout)
	})
}
