package ports

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Streaming port capability flags.
const (
	// FlagAutobind marks a port that is bound while connecting.
	FlagAutobind uint32 = 0x01
)

// DefaultSinkCapacity is the number of undelivered payloads a streaming
// port buffers before dropping the oldest.
const DefaultSinkCapacity = 64

// Streaming is a port carrying an asynchronous byte stream on a
// dedicated channel.
type Streaming struct {
	base
	backend Backend

	driverID string
	channel  atomic.Uint32
	sink     chan string
	dropped  atomic.Uint64
}

// NewStreaming creates a streaming port with the default sink capacity.
func NewStreaming(backend Backend, info Info, driverID string) *Streaming {
	return NewStreamingSize(backend, info, driverID, DefaultSinkCapacity)
}

// NewStreamingSize creates a streaming port buffering up to capacity payloads.
func NewStreamingSize(backend Backend, info Info, driverID string, capacity int) *Streaming {
	if capacity <= 0 {
		capacity = DefaultSinkCapacity
	}
	s := &Streaming{backend: backend, driverID: driverID, sink: make(chan string, capacity)}
	s.init(info, KindStreaming)
	return s
}

// DriverID names the driver that interprets the stream.
func (s *Streaming) DriverID() string { return s.driverID }

// Autobind reports whether the port is bound while connecting.
func (s *Streaming) Autobind() bool { return s.info.Flags&FlagAutobind != 0 }

// Channel returns the bound channel, or 0 when unbound.
func (s *Streaming) Channel() uint32 { return s.channel.Load() }

// Bound reports whether the port is bound to a channel.
func (s *Streaming) Bound() bool { return s.channel.Load() != 0 }

// Bind asks the device for a channel and starts accepting data on it.
// Binding a bound port is a no-op.
func (s *Streaming) Bind(ctx context.Context) error {
	if s.Bound() {
		return nil
	}
	s.begin()
	ch, err := s.backend.BindStreaming(ctx, s)
	if err != nil {
		return s.fail(err)
	}
	s.channel.Store(ch)
	return nil
}

// Unbind releases the channel. Later data on it is dropped.
func (s *Streaming) Unbind(ctx context.Context) error {
	if !s.Bound() {
		return fmt.Errorf("%w: port %s", ErrNotBound, s.info.ID)
	}
	s.begin()
	if err := s.backend.UnbindStreaming(ctx, s); err != nil {
		return s.fail(err)
	}
	s.channel.Store(0)
	return nil
}

// Send writes data on the bound channel without waiting for an
// acknowledgement.
func (s *Streaming) Send(data string) error {
	if !s.Bound() {
		return fmt.Errorf("%w: port %s", ErrNotBound, s.info.ID)
	}
	return s.backend.SendStreaming(s, data)
}

// Detach marks the port unbound without any I/O. It is called when the
// session ends.
func (s *Streaming) Detach() {
	s.channel.Store(0)
}

// Deliver queues an inbound payload. When the sink is full the oldest
// payload is discarded and Deliver reports false.
func (s *Streaming) Deliver(payload string) bool {
	delivered := true
	for {
		select {
		case s.sink <- payload:
			return delivered
		default:
		}
		select {
		case <-s.sink:
			s.dropped.Add(1)
			delivered = false
		default:
		}
	}
}

// Receive returns the next inbound payload in wire order.
func (s *Streaming) Receive(ctx context.Context) (string, error) {
	select {
	case payload := <-s.sink:
		return payload, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Data returns the inbound payload queue for range loops.
func (s *Streaming) Data() <-chan string {
	return s.sink
}

// Buffered returns the number of payloads waiting in the sink.
func (s *Streaming) Buffered() int {
	return len(s.sink)
}

// Dropped returns the number of payloads discarded on overflow.
func (s *Streaming) Dropped() uint64 {
	return s.dropped.Load()
}

// Refresh clears the attached error. Binding and buffered data are kept.
func (s *Streaming) Refresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invalidate()
}

func (s *Streaming) String() string {
	return fmt.Sprintf("StreamingPort id=%s name=%q driver=%s channel=%d", s.info.ID, s.info.Name, s.driverID, s.Channel())
}
