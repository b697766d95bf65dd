package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/leomeyer/OPDI-deprecated/pkg/device"
)

// DefaultAttemptTimeout bounds a single reconnect attempt.
const DefaultAttemptTimeout = 30 * time.Second

// Supervisor errors.
var (
	ErrClosed           = errors.New("supervisor closed")
	ErrAlreadyConnected = errors.New("already connected")
)

// State is the supervisor state.
type State uint8

const (
	// StateDisconnected indicates no session and no pending reconnect.
	StateDisconnected State = iota

	// StateConnecting indicates the initial connect is running.
	StateConnecting

	// StateConnected indicates a bound session.
	StateConnected

	// StateReconnecting indicates the session was lost and retries run.
	StateReconnecting

	// StateClosed indicates the supervisor was closed.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Connector is the part of a device the supervisor drives.
type Connector interface {
	Connect(ctx context.Context, l device.Listener) error
	Disconnect(regular bool) error
}

// Config configures a Supervisor.
type Config struct {
	Backoff BackoffConfig

	// AttemptTimeout bounds each reconnect attempt (default 30s).
	AttemptTimeout time.Duration

	// MaxAttempts stops reconnecting after this many failed attempts.
	// Zero retries forever.
	MaxAttempts int

	// Logger receives operational messages (default: slog.Default()).
	Logger *slog.Logger
}

// DefaultConfig returns the default supervisor configuration.
func DefaultConfig() Config {
	return Config{
		Backoff:        DefaultBackoffConfig(),
		AttemptTimeout: DefaultAttemptTimeout,
	}
}

// Supervisor connects a device and reconnects it after abnormal loss.
type Supervisor struct {
	dev      Connector
	listener device.Listener
	cfg      Config
	backoff  *Backoff
	logger   *slog.Logger

	mu             sync.Mutex
	state          State
	lost           bool
	onStateChange  func(old, next State)
	onReconnecting func(attempt int, delay time.Duration)

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	loopOnce sync.Once
	trigger  chan struct{}
}

// NewSupervisor creates a supervisor for dev. Events are forwarded to l,
// which may be nil. Close must be called to stop the reconnect loop.
func NewSupervisor(dev Connector, l device.Listener, cfg Config) *Supervisor {
	if l == nil {
		l = device.NopListener{}
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		dev:      dev,
		listener: l,
		cfg:      cfg,
		backoff:  NewBackoff(cfg.Backoff),
		logger:   cfg.Logger,
		ctx:      ctx,
		cancel:   cancel,
		trigger:  make(chan struct{}, 1),
	}
}

// State returns the supervisor state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempts returns the number of reconnect attempts since the last
// successful connect.
func (s *Supervisor) Attempts() int {
	return s.backoff.Attempts()
}

// OnStateChange sets a callback for state changes.
func (s *Supervisor) OnStateChange(fn func(old, next State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStateChange = fn
}

// OnReconnecting sets a callback called before each reconnect delay.
func (s *Supervisor) OnReconnecting(fn func(attempt int, delay time.Duration)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReconnecting = fn
}

// Connect connects the device. A failed initial connect is returned and
// not retried.
func (s *Supervisor) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return ErrClosed
	case StateConnecting, StateConnected, StateReconnecting:
		s.mu.Unlock()
		return ErrAlreadyConnected
	}
	s.mu.Unlock()

	s.setState(StateConnecting)
	if err := s.dev.Connect(ctx, supervised{Listener: s.listener, s: s}); err != nil {
		s.transition(StateConnecting, StateDisconnected)
		return err
	}
	if !s.transition(StateConnecting, StateConnected) {
		s.dev.Disconnect(true)
		return ErrClosed
	}
	s.backoff.Reset()
	s.loopOnce.Do(func() {
		s.wg.Add(1)
		go s.loop()
	})
	return nil
}

// Disconnect disconnects the device regularly and stops reconnecting.
func (s *Supervisor) Disconnect() error {
	s.mu.Lock()
	old := s.state
	if old == StateClosed || old == StateDisconnected {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	s.transition(old, StateDisconnected)
	return s.dev.Disconnect(true)
}

// Close stops the reconnect loop and disconnects the device.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.setState(StateClosed)
	s.cancel()
	s.wg.Wait()
	return s.dev.Disconnect(true)
}

// setState changes the state unconditionally.
func (s *Supervisor) setState(next State) {
	s.mu.Lock()
	old := s.state
	s.state = next
	fn := s.onStateChange
	s.mu.Unlock()
	if fn != nil && old != next {
		fn(old, next)
	}
}

// transition changes the state only when it is from.
func (s *Supervisor) transition(from, next State) bool {
	s.mu.Lock()
	if s.state != from {
		s.mu.Unlock()
		return false
	}
	s.state = next
	fn := s.onStateChange
	s.mu.Unlock()
	if fn != nil && from != next {
		fn(from, next)
	}
	return true
}

// sessionEnded runs after OnConnectionClosed.
func (s *Supervisor) sessionEnded() {
	s.mu.Lock()
	lost := s.lost
	s.lost = false
	s.mu.Unlock()

	if !lost {
		s.transition(StateConnected, StateDisconnected)
		return
	}
	if s.transition(StateConnected, StateReconnecting) {
		select {
		case s.trigger <- struct{}{}:
		default:
		}
	}
}

func (s *Supervisor) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.trigger:
			s.reconnect()
		}
	}
}

// reconnect retries with backoff until connected, stopped or exhausted.
func (s *Supervisor) reconnect() {
	for {
		if s.State() != StateReconnecting {
			return
		}
		if s.cfg.MaxAttempts > 0 && s.backoff.Attempts() >= s.cfg.MaxAttempts {
			s.logger.Warn("giving up reconnect", "attempts", s.backoff.Attempts())
			s.transition(StateReconnecting, StateDisconnected)
			return
		}

		delay := s.backoff.Next()
		attempt := s.backoff.Attempts()
		s.mu.Lock()
		fn := s.onReconnecting
		s.mu.Unlock()
		if fn != nil {
			fn(attempt, delay)
		}

		select {
		case <-s.ctx.Done():
			return
		case <-time.After(delay):
		}
		if s.State() != StateReconnecting {
			return
		}

		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.AttemptTimeout)
		err := s.dev.Connect(ctx, supervised{Listener: s.listener, s: s})
		cancel()
		if err != nil && !errors.Is(err, device.ErrAlreadyConnected) {
			s.logger.Debug("reconnect failed", "attempt", attempt, "error", err)
			continue
		}

		if !s.transition(StateReconnecting, StateConnected) {
			// Disconnected or closed while the attempt ran.
			s.dev.Disconnect(true)
			return
		}
		s.logger.Info("reconnected", "attempts", attempt)
		s.backoff.Reset()
		return
	}
}

// supervised forwards device events and tracks abnormal session loss.
type supervised struct {
	device.Listener
	s *Supervisor
}

func (w supervised) OnConnectionError(d *device.Device, err error) {
	w.s.mu.Lock()
	w.s.lost = true
	w.s.mu.Unlock()
	w.Listener.OnConnectionError(d, err)
}

func (w supervised) OnConnectionClosed(d *device.Device) {
	w.Listener.OnConnectionClosed(d)
	w.s.sessionEnded()
}
