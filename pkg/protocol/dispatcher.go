package protocol

import (
	"log/slog"
	"sync"

	"github.com/leomeyer/OPDI-deprecated/pkg/ports"
	"github.com/leomeyer/OPDI-deprecated/pkg/router"
)

// Dispatcher tracks streaming bindings and feeds inbound payloads to
// the bound port's sink.
type Dispatcher struct {
	router  *router.Router
	logger  *slog.Logger
	capture Capture

	mu    sync.Mutex
	ports map[uint32]*ports.Streaming
}

// NewDispatcher creates a dispatcher routing through r.
func NewDispatcher(r *router.Router, logger *slog.Logger, capture Capture) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		router:  r,
		logger:  logger,
		capture: capture,
		ports:   make(map[uint32]*ports.Streaming),
	}
}

// Bind routes channel to port.
func (d *Dispatcher) Bind(channel uint32, port *ports.Streaming) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	sink := func(payload string) {
		if !port.Deliver(payload) {
			d.logger.Warn("streaming sink full, dropped oldest payload",
				"port", port.ID(), "channel", channel, "dropped", port.Dropped())
		}
	}
	if err := d.router.Bind(channel, sink); err != nil {
		return err
	}
	d.ports[channel] = port
	d.capture.streaming(port.ID(), channel, true)
	return nil
}

// Unbind removes the binding for channel and returns the port it served.
func (d *Dispatcher) Unbind(channel uint32) (*ports.Streaming, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	port, ok := d.ports[channel]
	if !ok {
		return nil, false
	}
	delete(d.ports, channel)
	d.router.Unbind(channel)
	d.capture.streaming(port.ID(), channel, false)
	return port, true
}

// Lookup returns the port bound to channel.
func (d *Dispatcher) Lookup(channel uint32) (*ports.Streaming, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	port, ok := d.ports[channel]
	return port, ok
}

// Len returns the number of bound channels.
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ports)
}

// Reset drops every binding and marks the ports unbound.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	bound := d.ports
	d.ports = make(map[uint32]*ports.Streaming)
	d.mu.Unlock()

	for channel, port := range bound {
		d.router.Unbind(channel)
		port.Detach()
	}
}
