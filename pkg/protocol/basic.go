package protocol

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/leomeyer/OPDI-deprecated/pkg/ports"
	"github.com/leomeyer/OPDI-deprecated/pkg/router"
	"github.com/leomeyer/OPDI-deprecated/pkg/wire"
)

// Basic implements the BP command set.
type Basic struct {
	router     *router.Router
	cfg        Config
	agreement  Agreement
	events     Events
	capture    Capture
	logger     *slog.Logger
	dispatcher *Dispatcher
	keepalive  *KeepAlive

	state    atomic.Uint32
	initOnce sync.Once

	// loadMu serializes capability loading; mu guards caps only.
	loadMu  sync.Mutex
	mu      sync.Mutex
	caps    *ports.Capabilities
	capsGen uint64
}

// NewBasic creates the Basic protocol for a bound session.
func NewBasic(s *Session) *Basic {
	cfg := s.Config.withDefaults()
	events := s.Events
	if events == nil {
		events = NopEvents{}
	}
	b := &Basic{
		router:    s.Router,
		cfg:       cfg,
		agreement: s.Agreement,
		events:    events,
		capture:   s.Capture,
		logger:    cfg.Logger.With("conn_id", s.Capture.ConnID, "protocol", s.Agreement.Magic),
	}
	b.state.Store(uint32(StateBound))
	b.dispatcher = NewDispatcher(s.Router, b.logger, s.Capture)
	b.keepalive = NewKeepAlive(
		KeepAliveConfig{PingInterval: cfg.PingInterval, Timeout: cfg.PingTimeout},
		b.ping, s.Router.LastActivity, b.keepaliveExpired)
	return b
}

// Magic returns "BP".
func (b *Basic) Magic() string { return MagicBasic }

// Agreement returns the handshake parameters.
func (b *Basic) Agreement() Agreement { return b.agreement }

// Dispatcher returns the streaming dispatcher.
func (b *Basic) Dispatcher() *Dispatcher { return b.dispatcher }

// KeepAlive returns the keepalive manager.
func (b *Basic) KeepAlive() *KeepAlive { return b.keepalive }

// State returns the session state.
func (b *Basic) State() State {
	if b.router.Cause() != nil {
		return StateClosed
	}
	return State(b.state.Load())
}

func (b *Basic) setState(next State, reason string) {
	old := State(b.state.Swap(uint32(next)))
	if old != next {
		b.capture.state(old, next, reason)
	}
}

// Initiate takes over the control channel and starts the keepalive.
// When the router closes the keepalive stops and all streaming bindings
// are reset.
func (b *Basic) Initiate() {
	b.initOnce.Do(func() {
		b.router.SetControlHandler(b.handleControl)

		ctx, cancel := context.WithCancel(context.Background())
		b.keepalive.Start(ctx)

		go func() {
			<-b.router.Done()
			cancel()
			b.keepalive.Stop()
			b.dispatcher.Reset()
			b.setState(StateClosed, b.router.Cause().Error())
		}()
	})
}

// Disconnect sends Dis and closes the session.
func (b *Basic) Disconnect() error {
	if !b.state.CompareAndSwap(uint32(StateBound), uint32(StateTerminating)) {
		return nil
	}
	b.capture.state(StateBound, StateTerminating, "disconnect")
	if err := b.router.Send(wire.ControlChannel, wire.Disconnect); err != nil {
		b.logger.Debug("sending disconnect failed", "error", err)
	}
	return b.router.Close(router.ErrDisconnected)
}

func (b *Basic) ping() error {
	return b.router.Send(wire.ControlChannel, wire.Ping)
}

func (b *Basic) keepaliveExpired() {
	b.logger.Warn("no activity from device, closing session", "timeout", b.cfg.PingTimeout)
	b.router.Close(ErrKeepaliveTimeout)
}

// Capabilities returns the declared ports. The list is requested once
// and cached until the device sends Reconfigure. Streaming ports with
// the autobind flag are bound after loading.
func (b *Basic) Capabilities(ctx context.Context) (*ports.Capabilities, error) {
	if caps := b.cachedCapabilities(); caps != nil {
		return caps, nil
	}

	b.loadMu.Lock()
	defer b.loadMu.Unlock()

	b.mu.Lock()
	if b.caps != nil {
		caps := b.caps
		b.mu.Unlock()
		return caps, nil
	}
	gen := b.capsGen
	b.mu.Unlock()

	caps, err := b.loadCapabilities(ctx)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	if b.capsGen == gen {
		b.caps = caps
	}
	b.mu.Unlock()

	b.autobind(ctx, caps)
	return caps, nil
}

func (b *Basic) cachedCapabilities() *ports.Capabilities {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.caps
}

// FindPort returns the declared port with the given ID.
func (b *Basic) FindPort(ctx context.Context, id string) (ports.Port, error) {
	caps, err := b.Capabilities(ctx)
	if err != nil {
		return nil, err
	}
	p, ok := caps.Find(id)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPort, id)
	}
	return p, nil
}

func (b *Basic) loadCapabilities(ctx context.Context) (*ports.Capabilities, error) {
	reply, err := b.request(ctx, "", wire.GetCapabilities)
	if err != nil {
		return nil, err
	}
	if reply[0] != wire.Capabilities || len(reply)%2 != 1 {
		return nil, fmt.Errorf("%w: %s: unexpected reply %q", wire.ErrProtocolMismatch, wire.GetCapabilities, strings.Join(reply, ":"))
	}

	list := make([]ports.Port, 0, len(reply)/2)
	seen := make(map[string]bool, len(reply)/2)
	for i := 1; i < len(reply); i += 2 {
		id := reply[i]
		if id == "" || seen[id] {
			return nil, fmt.Errorf("%w: %s: invalid or duplicate port ID %q", wire.ErrProtocolMismatch, wire.GetCapabilities, id)
		}
		seen[id] = true
		kind, err := wire.ParseOrdinal(reply[i+1], "port type", ports.KindCount)
		if err != nil {
			return nil, err
		}
		p, err := b.portInfo(ctx, id, ports.Kind(kind))
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return ports.NewCapabilities(list), nil
}

var infoMagics = [ports.KindCount]string{
	ports.KindDigital:   wire.DigitalPortInfo,
	ports.KindAnalog:    wire.AnalogPortInfo,
	ports.KindSelect:    wire.SelectPortInfo,
	ports.KindDial:      wire.DialPortInfo,
	ports.KindStreaming: wire.StreamingPortInfo,
}

var infoParts = [ports.KindCount]int{
	ports.KindDigital:   5,
	ports.KindAnalog:    5,
	ports.KindSelect:    6,
	ports.KindDial:      8,
	ports.KindStreaming: 6,
}

// portInfo requests the description of one port and builds it.
func (b *Basic) portInfo(ctx context.Context, id string, kind ports.Kind) (ports.Port, error) {
	reply, err := b.request(ctx, id, wire.GetPortInfo, id)
	if err != nil {
		return nil, err
	}
	if err := expect(reply, infoMagics[kind], infoParts[kind], id); err != nil {
		return nil, err
	}
	dir, err := wire.ParseOrdinal(reply[3], "direction", ports.DirectionCount)
	if err != nil {
		return nil, err
	}
	flags, err := wire.ParseFlags(reply[4], "flags")
	if err != nil {
		return nil, err
	}
	info := ports.Info{ID: id, Name: reply[2], Direction: ports.Direction(dir), Flags: flags}

	switch kind {
	case ports.KindDigital:
		return ports.NewDigital(b, info), nil
	case ports.KindAnalog:
		return ports.NewAnalog(b, info), nil
	case ports.KindSelect:
		count, err := wire.ParseUint16(reply[5], "position count")
		if err != nil {
			return nil, err
		}
		if count == 0 {
			return nil, fmt.Errorf("%w: select port %s has no positions", wire.ErrProtocolMismatch, id)
		}
		return ports.NewSelect(b, info, count), nil
	case ports.KindDial:
		var bounds [3]int32
		for i, name := range []string{"min", "max", "step"} {
			if bounds[i], err = wire.ParseInt32(reply[5+i], name); err != nil {
				return nil, err
			}
		}
		d, err := ports.NewDial(b, info, bounds[0], bounds[1], bounds[2])
		if err != nil {
			return nil, fmt.Errorf("%w: %w", wire.ErrProtocolMismatch, err)
		}
		return d, nil
	default:
		return ports.NewStreaming(b, info, reply[5]), nil
	}
}

func (b *Basic) autobind(ctx context.Context, caps *ports.Capabilities) {
	for _, s := range caps.Streaming() {
		if !s.Autobind() || s.Bound() {
			continue
		}
		if err := s.Bind(ctx); err != nil {
			b.logger.Warn("autobind failed", "port", s.ID(), "error", err)
		}
	}
}

// request sends one command and returns the reply parts. Port error
// replies for portID are converted to *ports.PortError and
// *ports.AccessDeniedError.
func (b *Basic) request(ctx context.Context, portID string, parts ...string) ([]string, error) {
	return b.requestHook(ctx, portID, nil, parts...)
}

// requestHook is request with a hook run on the reader goroutine when the
// reply arrives.
func (b *Basic) requestHook(ctx context.Context, portID string, hook router.ReplyHook, parts ...string) ([]string, error) {
	payload := wire.JoinParts(parts...)
	msg, err := b.router.ExchangeHook(ctx, payload, b.cfg.RequestTimeout, hook)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", parts[0], err)
	}

	reply := msg.Parts()
	switch reply[0] {
	case wire.PortError:
		if len(reply) < 3 || reply[1] != portID {
			return nil, fmt.Errorf("%w: %s: malformed port error %q", wire.ErrProtocolMismatch, parts[0], msg.Payload)
		}
		code, err := wire.ParseRange(reply[2], "error code", 0, 255)
		if err != nil {
			return nil, err
		}
		pe := &ports.PortError{PortID: portID, Code: uint8(code), Message: strings.Join(reply[3:], ":")}
		b.capture.portError(pe, payload)
		return nil, pe
	case wire.AccessDenied:
		if len(reply) < 2 || reply[1] != portID {
			return nil, fmt.Errorf("%w: %s: malformed access denied %q", wire.ErrProtocolMismatch, parts[0], msg.Payload)
		}
		return nil, &ports.AccessDeniedError{PortID: portID, Reason: strings.Join(reply[2:], ":")}
	}
	return reply, nil
}

// expect checks the reply magic, part count and port ID.
func expect(reply []string, magic string, n int, portID string) error {
	if err := wire.ExpectParts(reply, magic, n); err != nil {
		return err
	}
	if reply[1] != portID {
		return fmt.Errorf("%w: %s: reply for port %q, want %q", wire.ErrProtocolMismatch, magic, reply[1], portID)
	}
	return nil
}

// DigitalState implements ports.Backend.
func (b *Basic) DigitalState(ctx context.Context, id string) (ports.DigitalState, error) {
	reply, err := b.request(ctx, id, wire.GetPortState, id)
	if err != nil {
		return ports.DigitalState{}, err
	}
	if err := expect(reply, wire.PortState, 4, id); err != nil {
		return ports.DigitalState{}, err
	}
	mode, err := wire.ParseOrdinal(reply[2], "mode", ports.DigitalModeCount)
	if err != nil {
		return ports.DigitalState{}, err
	}
	line, err := wire.ParseOrdinal(reply[3], "line", ports.DigitalLineCount)
	if err != nil {
		return ports.DigitalState{}, err
	}
	return ports.DigitalState{Mode: ports.DigitalMode(mode), Line: ports.DigitalLine(line)}, nil
}

// SetDigitalMode implements ports.Backend.
func (b *Basic) SetDigitalMode(ctx context.Context, id string, mode ports.DigitalMode) (ports.DigitalMode, error) {
	v, err := b.setOrdinal(ctx, id, wire.SetPortMode, wire.PortMode, int(mode), "mode", ports.DigitalModeCount)
	return ports.DigitalMode(v), err
}

// SetDigitalLine implements ports.Backend.
func (b *Basic) SetDigitalLine(ctx context.Context, id string, line ports.DigitalLine) (ports.DigitalLine, error) {
	v, err := b.setOrdinal(ctx, id, wire.SetPortLine, wire.PortLine, int(line), "line", ports.DigitalLineCount)
	return ports.DigitalLine(v), err
}

// AnalogState implements ports.Backend.
func (b *Basic) AnalogState(ctx context.Context, id string) (ports.AnalogState, error) {
	reply, err := b.request(ctx, id, wire.GetPortState, id)
	if err != nil {
		return ports.AnalogState{}, err
	}
	if err := expect(reply, wire.PortState, 6, id); err != nil {
		return ports.AnalogState{}, err
	}
	mode, err := wire.ParseOrdinal(reply[2], "mode", ports.AnalogModeCount)
	if err != nil {
		return ports.AnalogState{}, err
	}
	res, err := wire.ParseRange(reply[3], "resolution", int32(ports.MinResolution), int32(ports.MaxResolution))
	if err != nil {
		return ports.AnalogState{}, err
	}
	ref, err := wire.ParseOrdinal(reply[4], "reference", ports.AnalogReferenceCount)
	if err != nil {
		return ports.AnalogState{}, err
	}
	value, err := wire.ParseUint16(reply[5], "value")
	if err != nil {
		return ports.AnalogState{}, err
	}
	return ports.AnalogState{
		Mode:       ports.AnalogMode(mode),
		Resolution: uint8(res),
		Reference:  ports.AnalogReference(ref),
		Value:      value,
	}, nil
}

// SetAnalogMode implements ports.Backend.
func (b *Basic) SetAnalogMode(ctx context.Context, id string, mode ports.AnalogMode) (ports.AnalogMode, error) {
	v, err := b.setOrdinal(ctx, id, wire.SetPortMode, wire.PortMode, int(mode), "mode", ports.AnalogModeCount)
	return ports.AnalogMode(v), err
}

// SetAnalogValue implements ports.Backend.
func (b *Basic) SetAnalogValue(ctx context.Context, id string, value uint16) (uint16, error) {
	v, err := b.setInt(ctx, id, wire.SetPortValue, wire.PortValue, int32(value), "value", 0, 0xFFFF)
	return uint16(v), err
}

// SetAnalogResolution implements ports.Backend.
func (b *Basic) SetAnalogResolution(ctx context.Context, id string, bits uint8) (uint8, error) {
	v, err := b.setInt(ctx, id, wire.SetPortResolution, wire.PortResolution, int32(bits), "resolution",
		int32(ports.MinResolution), int32(ports.MaxResolution))
	return uint8(v), err
}

// SetAnalogReference implements ports.Backend.
func (b *Basic) SetAnalogReference(ctx context.Context, id string, ref ports.AnalogReference) (ports.AnalogReference, error) {
	v, err := b.setOrdinal(ctx, id, wire.SetPortReference, wire.PortReference, int(ref), "reference", ports.AnalogReferenceCount)
	return ports.AnalogReference(v), err
}

// SelectPosition implements ports.Backend.
func (b *Basic) SelectPosition(ctx context.Context, id string) (uint16, error) {
	v, err := b.position(ctx, id, 0, 0xFFFF, wire.GetPosition, id)
	return uint16(v), err
}

// SetSelectPosition implements ports.Backend.
func (b *Basic) SetSelectPosition(ctx context.Context, id string, pos uint16) (uint16, error) {
	v, err := b.position(ctx, id, 0, 0xFFFF, wire.SetPosition, id, fmt.Sprint(pos))
	return uint16(v), err
}

// SelectLabel implements ports.Backend.
func (b *Basic) SelectLabel(ctx context.Context, id string, pos uint16) (string, error) {
	reply, err := b.request(ctx, id, wire.GetLabel, id, fmt.Sprint(pos))
	if err != nil {
		return "", err
	}
	if err := expect(reply, wire.Label, 4, id); err != nil {
		return "", err
	}
	got, err := wire.ParseUint16(reply[2], "position")
	if err != nil {
		return "", err
	}
	if got != pos {
		return "", fmt.Errorf("%w: %s: label for position %d, want %d", wire.ErrProtocolMismatch, wire.GetLabel, got, pos)
	}
	return reply[3], nil
}

// DialPosition implements ports.Backend.
func (b *Basic) DialPosition(ctx context.Context, id string) (int32, error) {
	return b.position(ctx, id, -1<<31, 1<<31-1, wire.GetPosition, id)
}

// SetDialPosition implements ports.Backend.
func (b *Basic) SetDialPosition(ctx context.Context, id string, pos int32) (int32, error) {
	return b.position(ctx, id, -1<<31, 1<<31-1, wire.SetPosition, id, fmt.Sprint(pos))
}

// BindStreaming implements ports.Backend. The channel the device
// assigns is registered with the dispatcher on the reader goroutine, so
// data the device sends right after its answer reaches the port.
func (b *Basic) BindStreaming(ctx context.Context, port *ports.Streaming) (uint32, error) {
	id := port.ID()

	// Written by the hook before the reply is handed over.
	var bound uint32
	var bindErr error
	hook := func(msg wire.Message) {
		reply := msg.Parts()
		if expect(reply, wire.BindStreaming, 3, id) != nil {
			return
		}
		channel, err := wire.ParseChannel(reply[2])
		if err != nil {
			return
		}
		if bindErr = b.dispatcher.Bind(channel, port); bindErr == nil {
			bound = channel
		}
	}

	reply, err := b.requestHook(ctx, id, hook, wire.BindStreaming, id)
	if err != nil {
		if bound != 0 {
			b.dispatcher.Unbind(bound)
		}
		return 0, err
	}
	if err := expect(reply, wire.BindStreaming, 3, id); err != nil {
		return 0, err
	}
	channel, err := wire.ParseChannel(reply[2])
	if err != nil {
		return 0, err
	}
	if bindErr != nil {
		return 0, fmt.Errorf("bind %s: %w", id, bindErr)
	}
	return channel, nil
}

// UnbindStreaming implements ports.Backend.
func (b *Basic) UnbindStreaming(ctx context.Context, port *ports.Streaming) error {
	id := port.ID()
	reply, err := b.request(ctx, id, wire.UnbindStreaming, id)
	if err != nil {
		return err
	}
	if err := expect(reply, wire.UnbindStreaming, 2, id); err != nil {
		return err
	}
	b.dispatcher.Unbind(port.Channel())
	return nil
}

// SendStreaming implements ports.Backend. The data is written as the raw
// payload and must not contain line terminators.
func (b *Basic) SendStreaming(port *ports.Streaming, data string) error {
	if strings.ContainsAny(data, "\r\n") {
		return fmt.Errorf("%w: port %s: streaming data contains a line terminator", ports.ErrInvalidArgument, port.ID())
	}
	return b.router.Send(port.Channel(), data)
}

// setOrdinal sends "<cmd>:<id>:<v>" and parses "<reply>:<id>:<v>".
func (b *Basic) setOrdinal(ctx context.Context, id, cmd, magic string, v int, name string, count int) (int, error) {
	reply, err := b.request(ctx, id, cmd, id, fmt.Sprint(v))
	if err != nil {
		return 0, err
	}
	if err := expect(reply, magic, 3, id); err != nil {
		return 0, err
	}
	return wire.ParseOrdinal(reply[2], name, count)
}

func (b *Basic) setInt(ctx context.Context, id, cmd, magic string, v int32, name string, min, max int32) (int32, error) {
	reply, err := b.request(ctx, id, cmd, id, fmt.Sprint(v))
	if err != nil {
		return 0, err
	}
	if err := expect(reply, magic, 3, id); err != nil {
		return 0, err
	}
	return wire.ParseRange(reply[2], name, min, max)
}

// position sends a gP or sP command and parses "P:<id>:<pos>".
func (b *Basic) position(ctx context.Context, id string, min, max int32, parts ...string) (int32, error) {
	reply, err := b.request(ctx, id, parts...)
	if err != nil {
		return 0, err
	}
	if err := expect(reply, wire.Position, 3, id); err != nil {
		return 0, err
	}
	return wire.ParseRange(reply[2], "position", min, max)
}

var _ Protocol = (*Basic)(nil)
