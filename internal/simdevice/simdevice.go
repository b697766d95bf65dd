// Package simdevice provides an in-memory OPDI device for tests.
//
// A Device speaks the device side of the handshake and the Basic
// command set over a net.Pipe, or over an accepted connection with Serve.
// Tests hand the master end to a router or to a device.Device through
// Transport, and can override the answer to any command with Handle.
package simdevice

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/leomeyer/OPDI-deprecated/pkg/ports"
	"github.com/leomeyer/OPDI-deprecated/pkg/transport"
	"github.com/leomeyer/OPDI-deprecated/pkg/wire"
)

// ErrNoRequest is returned by Next when no request arrived in time.
var ErrNoRequest = errors.New("no request")

// DefaultStreamChannel is the first channel handed out by bSP.
const DefaultStreamChannel = 7

// Port is the description and state of a simulated port.
type Port struct {
	ID        string
	Name      string
	Kind      ports.Kind
	Direction ports.Direction
	Flags     uint32

	// Digital: Mode and Line. Analog: Mode, Resolution, Reference, Value.
	Mode       int
	Line       int
	Resolution int
	Reference  int
	Value      int

	// Select: Position and Labels. Dial: Position, Min, Max, Step.
	Position int32
	Labels   []string
	Min      int32
	Max      int32
	Step     int32

	DriverID string
}

// Config configures a simulated device.
type Config struct {
	// Magic is the protocol the device announces (default "BP").
	Magic string

	// Flags are the handshake flags the device announces.
	Flags uint32

	// User and Password are the accepted credentials when Flags
	// includes wire.FlagAuthRequired.
	User     string
	Password string

	// Disagreement, when set, rejects the handshake with this reason.
	Disagreement string

	Ports []Port

	// Info is returned by gDI.
	Info map[string]string

	// AnswerPings makes the device echo every Ping.
	AnswerPings bool

	// StreamChannel is the first channel assigned by bSP
	// (default DefaultStreamChannel).
	StreamChannel uint32
}

// Handler answers a request. Returning ok false sends no reply.
type Handler func(req wire.Message) (reply string, ok bool)

// Device is a simulated OPDI device.
type Device struct {
	cfg    Config
	stream *transport.LineStream
	master *transport.LineStream
	codec  *wire.Codec

	mu          sync.Mutex
	ports       map[string]*Port
	order       []string
	handlers    map[string]Handler
	requests    []wire.Message
	bindings    map[uint32]string
	streamed    map[uint32][]string
	nextChannel uint32
	authPending bool
	checksums   bool

	reqCh chan wire.Message
	done  chan struct{}
}

// New starts a simulated device.
func New(cfg Config) *Device {
	deviceEnd, masterEnd := net.Pipe()
	d := start(cfg, deviceEnd)
	d.master = transport.NewLineStream(masterEnd, "sim")
	return d
}

// Serve starts a simulated device on an accepted connection. Stream and
// Transport return nil; the master dials the connection's peer.
func Serve(conn net.Conn, cfg Config) *Device {
	return start(cfg, conn)
}

func start(cfg Config, conn net.Conn) *Device {
	if cfg.Magic == "" {
		cfg.Magic = "BP"
	}
	if cfg.StreamChannel == 0 {
		cfg.StreamChannel = DefaultStreamChannel
	}
	d := &Device{
		cfg:         cfg,
		stream:      transport.NewLineStream(conn, "sim"),
		codec:       wire.NewCodec(),
		ports:       make(map[string]*Port),
		handlers:    make(map[string]Handler),
		bindings:    make(map[uint32]string),
		streamed:    make(map[uint32][]string),
		nextChannel: cfg.StreamChannel,
		reqCh:       make(chan wire.Message, 256),
		done:        make(chan struct{}),
	}
	for i := range cfg.Ports {
		p := cfg.Ports[i]
		p.Labels = slices.Clone(p.Labels)
		d.ports[p.ID] = &p
		d.order = append(d.order, p.ID)
	}
	go d.run()
	return d
}

// Stream returns the master end of the link.
func (d *Device) Stream() transport.Stream {
	if d.master == nil {
		return nil
	}
	return d.master
}

// Transport returns a transport whose Open yields the master end.
func (d *Device) Transport() transport.Transport {
	return transport.TransportFunc(func(context.Context, string) (transport.Stream, error) {
		if d.master == nil {
			return nil, transport.ErrClosed
		}
		return d.master, nil
	})
}

// Handle overrides the answer to requests with the given magic.
func (d *Device) Handle(magic string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[magic] = h
}

// Silence makes the device ignore requests with the given magic.
func (d *Device) Silence(magic string) {
	d.Handle(magic, func(wire.Message) (string, bool) { return "", false })
}

// Push sends an unsolicited message built from parts.
func (d *Device) Push(channel uint32, parts ...string) error {
	return d.send(channel, wire.JoinParts(parts...))
}

// PushRaw sends an unsolicited message with a raw payload.
func (d *Device) PushRaw(channel uint32, payload string) error {
	return d.send(channel, payload)
}

// Requests returns every message received so far.
func (d *Device) Requests() []wire.Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.requests)
}

// Count returns the number of received messages with the given magic.
func (d *Device) Count(magic string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, m := range d.requests {
		if m.Magic() == magic {
			n++
		}
	}
	return n
}

// Next returns the next received message that is not streaming data.
func (d *Device) Next(timeout time.Duration) (wire.Message, error) {
	select {
	case m := <-d.reqCh:
		return m, nil
	case <-time.After(timeout):
		return wire.Message{}, ErrNoRequest
	}
}

// Port returns a snapshot of the port with the given ID.
func (d *Device) Port(id string) (Port, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.ports[id]
	if !ok {
		return Port{}, false
	}
	return *p, true
}

// Streamed returns the payloads received on a bound channel.
func (d *Device) Streamed(channel uint32) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.streamed[channel])
}

// Checksums reports whether the device switched to checksummed lines.
func (d *Device) Checksums() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.checksums
}

// Close closes the device end of the link.
func (d *Device) Close() error {
	return d.stream.Close()
}

// Done is closed when the device stopped reading.
func (d *Device) Done() <-chan struct{} {
	return d.done
}

func (d *Device) send(channel uint32, payload string) error {
	return d.stream.WriteLine(d.codec.Encode(wire.Message{Channel: channel, Payload: payload}))
}

func (d *Device) run() {
	defer close(d.done)
	for {
		line, err := d.stream.ReadLine(time.Time{})
		if err != nil {
			if errors.Is(err, transport.ErrReadTimeout) {
				continue
			}
			return
		}
		msg, err := d.codec.Decode(line)
		if err != nil {
			continue
		}

		d.mu.Lock()
		d.requests = append(d.requests, msg)
		if _, bound := d.bindings[msg.Channel]; bound {
			d.streamed[msg.Channel] = append(d.streamed[msg.Channel], msg.Payload)
			d.mu.Unlock()
			continue
		}
		h, overridden := d.handlers[msg.Magic()]
		d.mu.Unlock()

		select {
		case d.reqCh <- msg:
		default:
		}

		var reply string
		var ok bool
		if overridden {
			reply, ok = h(msg)
		} else {
			reply, ok = d.answer(msg)
		}
		if ok {
			// The link may already be closed by the master.
			_ = d.send(msg.Channel, reply)
		}
		d.afterReply(msg)
		if msg.IsControl() && msg.Magic() == wire.Disconnect {
			d.stream.Close()
			return
		}
	}
}

// afterReply switches to checksums once the handshake is complete.
func (d *Device) afterReply(msg wire.Message) {
	if !msg.IsControl() {
		return
	}
	parts := msg.Parts()
	d.mu.Lock()
	defer d.mu.Unlock()
	switch parts[0] {
	case wire.Handshake:
		if d.cfg.Disagreement != "" || len(parts) < 4 {
			return
		}
		masterFlags, _ := strconv.ParseUint(parts[3], 10, 32)
		d.checksums = uint32(masterFlags)&wire.FlagChecksum != 0 && d.cfg.Flags&wire.FlagChecksum != 0
		d.authPending = d.cfg.Flags&wire.FlagAuthRequired != 0
		if !d.authPending && d.checksums {
			d.codec.SetChecksums(true)
		}
	case wire.Auth:
		if d.authPending && d.checksums && len(parts) == 3 && parts[1] == d.cfg.User && parts[2] == d.cfg.Password {
			d.codec.SetChecksums(true)
		}
		d.authPending = false
	}
}

func (d *Device) answer(msg wire.Message) (string, bool) {
	parts := msg.Parts()
	if msg.IsControl() {
		return d.control(parts)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	switch parts[0] {
	case wire.GetCapabilities:
		out := []string{wire.Capabilities}
		for _, id := range d.order {
			out = append(out, id, strconv.Itoa(int(d.ports[id].Kind)))
		}
		return wire.JoinParts(out...), true
	case wire.GetDeviceInfo:
		out := []string{wire.DeviceInfo}
		keys := make([]string, 0, len(d.cfg.Info))
		for k := range d.cfg.Info {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			out = append(out, k+"="+d.cfg.Info[k])
		}
		return wire.JoinParts(out...), true
	}

	if len(parts) < 2 {
		return "", false
	}
	p, ok := d.ports[parts[1]]
	if !ok {
		return wire.JoinParts(wire.PortError, parts[1], "1", "unknown port"), true
	}
	arg := func(i int) int {
		if i >= len(parts) {
			return -1
		}
		v, err := strconv.Atoi(parts[i])
		if err != nil {
			return -1
		}
		return v
	}

	switch parts[0] {
	case wire.GetPortInfo:
		return portInfo(p), true
	case wire.GetPortState:
		if p.Kind == ports.KindAnalog {
			return join(wire.PortState, p.ID, p.Mode, p.Resolution, p.Reference, p.Value), true
		}
		return join(wire.PortState, p.ID, p.Mode, p.Line), true
	case wire.SetPortMode:
		p.Mode = arg(2)
		return join(wire.PortMode, p.ID, p.Mode), true
	case wire.SetPortLine:
		p.Line = arg(2)
		return join(wire.PortLine, p.ID, p.Line), true
	case wire.SetPortValue:
		p.Value = arg(2)
		return join(wire.PortValue, p.ID, p.Value), true
	case wire.SetPortResolution:
		bits := arg(2)
		if p.Resolution > 0 && bits > 0 {
			p.Value = p.Value << bits >> p.Resolution
		}
		p.Resolution = bits
		return join(wire.PortResolution, p.ID, p.Resolution), true
	case wire.SetPortReference:
		p.Reference = arg(2)
		return join(wire.PortReference, p.ID, p.Reference), true
	case wire.GetPosition:
		return join(wire.Position, p.ID, int(p.Position)), true
	case wire.SetPosition:
		p.Position = int32(arg(2))
		return join(wire.Position, p.ID, int(p.Position)), true
	case wire.GetLabel:
		pos := arg(2)
		if pos < 0 || pos >= len(p.Labels) {
			return wire.JoinParts(wire.PortError, p.ID, "2", "no such position"), true
		}
		return wire.JoinParts(wire.Label, p.ID, strconv.Itoa(pos), p.Labels[pos]), true
	case wire.BindStreaming:
		ch := d.nextChannel
		d.nextChannel++
		d.bindings[ch] = p.ID
		return wire.JoinParts(wire.BindStreaming, p.ID, strconv.FormatUint(uint64(ch), 10)), true
	case wire.UnbindStreaming:
		for ch, id := range d.bindings {
			if id == p.ID {
				delete(d.bindings, ch)
			}
		}
		return wire.JoinParts(wire.UnbindStreaming, p.ID), true
	}
	return "", false
}

func (d *Device) control(parts []string) (string, bool) {
	switch parts[0] {
	case wire.Handshake:
		if d.cfg.Disagreement != "" {
			return wire.JoinParts(wire.Disagreement, d.cfg.Disagreement), true
		}
		return wire.JoinParts(wire.Handshake, d.cfg.Magic, "1", strconv.FormatUint(uint64(d.cfg.Flags), 10), wire.EncodingUTF8), true
	case wire.Auth:
		if len(parts) == 3 && parts[1] == d.cfg.User && parts[2] == d.cfg.Password {
			return wire.AuthOK, true
		}
		return wire.JoinParts(wire.AuthFailed, "invalid credentials"), true
	case wire.Ping:
		return wire.Ping, d.cfg.AnswerPings
	}
	return "", false
}

func portInfo(p *Port) string {
	head := []string{"", p.ID, p.Name, strconv.Itoa(int(p.Direction)), strconv.FormatUint(uint64(p.Flags), 10)}
	switch p.Kind {
	case ports.KindDigital:
		head[0] = wire.DigitalPortInfo
	case ports.KindAnalog:
		head[0] = wire.AnalogPortInfo
	case ports.KindSelect:
		head[0] = wire.SelectPortInfo
		head = append(head, strconv.Itoa(len(p.Labels)))
	case ports.KindDial:
		head[0] = wire.DialPortInfo
		head = append(head, fmt.Sprint(p.Min), fmt.Sprint(p.Max), fmt.Sprint(p.Step))
	case ports.KindStreaming:
		head[0] = wire.StreamingPortInfo
		head = append(head, p.DriverID)
	}
	return wire.JoinParts(head...)
}

func join(magic, id string, values ...int) string {
	parts := []string{magic, id}
	for _, v := range values {
		parts = append(parts, strconv.Itoa(v))
	}
	return wire.JoinParts(parts...)
}
