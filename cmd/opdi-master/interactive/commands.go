package interactive

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/leomeyer/OPDI-deprecated/pkg/device"
	"github.com/leomeyer/OPDI-deprecated/pkg/ports"
)

// portArgs resolves "<dev> <port>" and returns the remaining arguments.
func (m *Master) portArgs(ctx context.Context, args []string, usage string) (*device.Device, ports.Port, []string, bool) {
	if len(args) < 2 {
		fmt.Fprintf(m.out, "Usage: %s\n", usage)
		return nil, nil, nil, false
	}
	d, ok := m.findDevice(args[0])
	if !ok {
		return nil, nil, nil, false
	}
	p, err := d.FindPort(ctx, args[1])
	if err != nil {
		fmt.Fprintf(m.out, "Error: %v\n", err)
		return nil, nil, nil, false
	}
	return d, p, args[2:], true
}

func (m *Master) commandContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.opts.CommandTimeout)
}

func (m *Master) cmdPorts(ctx context.Context, args []string) {
	d, ok := m.deviceArg(args, "ports <dev>")
	if !ok {
		return
	}
	ctx, cancel := m.commandContext(ctx)
	defer cancel()

	caps, err := d.Capabilities(ctx)
	if err != nil {
		fmt.Fprintf(m.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(m.out, "\nPorts of %s (%d):\n", d.Label(), caps.Len())
	fmt.Fprintln(m.out, "-------------------------------------------")
	for _, p := range caps.Ports() {
		fmt.Fprintf(m.out, "  %-10s %-9s %-13s %s%s\n", p.ID(), p.Kind(), p.Direction(), p.Name(), portTraits(p))
	}
}

func portTraits(p ports.Port) string {
	var traits []string
	if p.ReadOnly() {
		traits = append(traits, "read-only")
	}
	switch p := p.(type) {
	case *ports.Digital:
		if p.HasPullup() {
			traits = append(traits, "pullup")
		}
		if p.HasPulldown() {
			traits = append(traits, "pulldown")
		}
	case *ports.Select:
		traits = append(traits, fmt.Sprintf("%d positions", p.PosCount()))
	case *ports.Dial:
		traits = append(traits, fmt.Sprintf("%d..%d step %d", p.Min(), p.Max(), p.Step()))
	case *ports.Streaming:
		traits = append(traits, "driver "+p.DriverID())
		if p.Bound() {
			traits = append(traits, fmt.Sprintf("bound to channel %d", p.Channel()))
		}
	}
	if err := p.Err(); err != nil {
		traits = append(traits, "error: "+err.Error())
	}
	if len(traits) == 0 {
		return ""
	}
	return " [" + strings.Join(traits, ", ") + "]"
}

func (m *Master) cmdInfo(ctx context.Context, args []string) {
	d, ok := m.deviceArg(args, "info <dev>")
	if !ok {
		return
	}
	ctx, cancel := m.commandContext(ctx)
	defer cancel()

	info, err := d.DeviceInfo(ctx)
	if errors.Is(err, device.ErrNotSupported) {
		fmt.Fprintf(m.out, "%s does not report device information\n", d.Label())
		return
	}
	if err != nil {
		fmt.Fprintf(m.out, "Error: %v\n", err)
		return
	}
	keys := make([]string, 0, len(info))
	for k := range info {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(m.out, "  %s: %s\n", k, info[k])
	}
}

func (m *Master) cmdGet(ctx context.Context, args []string) {
	ctx, cancel := m.commandContext(ctx)
	defer cancel()
	_, p, _, ok := m.portArgs(ctx, args, "get <dev> <port>")
	if !ok {
		return
	}
	state, err := describeState(ctx, p)
	if err != nil {
		fmt.Fprintf(m.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(m.out, "%s: %s\n", p.ID(), state)
}

// describeState loads the port state and formats it.
func describeState(ctx context.Context, p ports.Port) (string, error) {
	switch p := p.(type) {
	case *ports.Digital:
		st, err := p.State(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("mode=%s line=%s", st.Mode, st.Line), nil
	case *ports.Analog:
		st, err := p.State(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("mode=%s resolution=%d reference=%s value=%d/%d",
			st.Mode, st.Resolution, st.Reference, st.Value, st.MaxValue()), nil
	case *ports.Select:
		pos, err := p.Position(ctx)
		if err != nil {
			return "", err
		}
		label, err := p.Label(ctx, pos)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("position=%d (%s)", pos, label), nil
	case *ports.Dial:
		pos, err := p.Position(ctx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("position=%d", pos), nil
	case *ports.Streaming:
		if !p.Bound() {
			return "unbound", nil
		}
		return fmt.Sprintf("bound to channel %d, %d buffered, %d dropped", p.Channel(), p.Buffered(), p.Dropped()), nil
	default:
		return "", fmt.Errorf("unsupported port kind %s", p.Kind())
	}
}

func (m *Master) cmdSet(ctx context.Context, args []string) {
	ctx, cancel := m.commandContext(ctx)
	defer cancel()
	_, p, rest, ok := m.portArgs(ctx, args, "set <dev> <port> <value>")
	if !ok {
		return
	}
	if len(rest) < 1 {
		fmt.Fprintln(m.out, "Usage: set <dev> <port> <value>")
		return
	}
	if err := setValue(ctx, p, strings.Join(rest, " ")); err != nil {
		fmt.Fprintf(m.out, "Error: %v\n", err)
		return
	}
	m.printState(ctx, p)
}

// setValue applies value to the port according to its kind.
func setValue(ctx context.Context, p ports.Port, value string) error {
	switch p := p.(type) {
	case *ports.Digital:
		line, err := parseLine(value)
		if err != nil {
			return err
		}
		return p.SetLine(ctx, line)
	case *ports.Analog:
		v, err := strconv.ParseUint(value, 10, 16)
		if err != nil {
			return fmt.Errorf("invalid analog value %q", value)
		}
		return p.SetValue(ctx, uint16(v))
	case *ports.Select:
		pos, err := selectPosition(ctx, p, value)
		if err != nil {
			return err
		}
		return p.SetPosition(ctx, pos)
	case *ports.Dial:
		v, err := strconv.ParseInt(value, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid dial position %q", value)
		}
		return p.SetPosition(ctx, int32(v))
	case *ports.Streaming:
		return fmt.Errorf("use 'send' for streaming ports")
	default:
		return fmt.Errorf("unsupported port kind %s", p.Kind())
	}
}

// selectPosition accepts a position number or a label.
func selectPosition(ctx context.Context, p *ports.Select, value string) (uint16, error) {
	if v, err := strconv.ParseUint(value, 10, 16); err == nil {
		return uint16(v), nil
	}
	labels, err := p.Labels(ctx)
	if err != nil {
		return 0, err
	}
	for i, l := range labels {
		if strings.EqualFold(l, value) {
			return uint16(i), nil
		}
	}
	return 0, fmt.Errorf("no position labelled %q", value)
}

func (m *Master) cmdMode(ctx context.Context, args []string) {
	ctx, cancel := m.commandContext(ctx)
	defer cancel()
	_, p, rest, ok := m.portArgs(ctx, args, "mode <dev> <port> <mode>")
	if !ok {
		return
	}
	if len(rest) < 1 {
		fmt.Fprintln(m.out, "Usage: mode <dev> <port> <mode>")
		return
	}

	var err error
	switch p := p.(type) {
	case *ports.Digital:
		var mode ports.DigitalMode
		if mode, err = parseDigitalMode(rest[0]); err == nil {
			err = p.SetMode(ctx, mode)
		}
	case *ports.Analog:
		var mode ports.AnalogMode
		if mode, err = parseAnalogMode(rest[0]); err == nil {
			err = p.SetMode(ctx, mode)
		}
	default:
		err = fmt.Errorf("%s ports have no mode", p.Kind())
	}
	if err != nil {
		fmt.Fprintf(m.out, "Error: %v\n", err)
		return
	}
	m.printState(ctx, p)
}

func (m *Master) cmdResolution(ctx context.Context, args []string) {
	ctx, cancel := m.commandContext(ctx)
	defer cancel()
	a, rest, ok := m.analogArgs(ctx, args, "res <dev> <port> <bits>")
	if !ok {
		return
	}
	bits, err := strconv.ParseUint(rest[0], 10, 8)
	if err != nil {
		fmt.Fprintf(m.out, "Invalid resolution: %s\n", rest[0])
		return
	}
	if err := a.SetResolution(ctx, uint8(bits)); err != nil {
		fmt.Fprintf(m.out, "Error: %v\n", err)
		return
	}
	m.printState(ctx, a)
}

func (m *Master) cmdReference(ctx context.Context, args []string) {
	ctx, cancel := m.commandContext(ctx)
	defer cancel()
	a, rest, ok := m.analogArgs(ctx, args, "ref <dev> <port> <internal|external>")
	if !ok {
		return
	}
	ref, err := parseReference(rest[0])
	if err == nil {
		err = a.SetReference(ctx, ref)
	}
	if err != nil {
		fmt.Fprintf(m.out, "Error: %v\n", err)
		return
	}
	m.printState(ctx, a)
}

func (m *Master) analogArgs(ctx context.Context, args []string, usage string) (*ports.Analog, []string, bool) {
	if len(args) < 3 {
		fmt.Fprintf(m.out, "Usage: %s\n", usage)
		return nil, nil, false
	}
	d, ok := m.findDevice(args[0])
	if !ok {
		return nil, nil, false
	}
	a, err := d.AnalogPort(ctx, args[1])
	if err != nil {
		fmt.Fprintf(m.out, "Error: %v\n", err)
		return nil, nil, false
	}
	return a, args[2:], true
}

func (m *Master) cmdLabels(ctx context.Context, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(m.out, "Usage: labels <dev> <port>")
		return
	}
	d, ok := m.findDevice(args[0])
	if !ok {
		return
	}
	ctx, cancel := m.commandContext(ctx)
	defer cancel()

	s, err := d.SelectPort(ctx, args[1])
	if err != nil {
		fmt.Fprintf(m.out, "Error: %v\n", err)
		return
	}
	labels, err := s.Labels(ctx)
	if err != nil {
		fmt.Fprintf(m.out, "Error: %v\n", err)
		return
	}
	for i, l := range labels {
		fmt.Fprintf(m.out, "  %d: %s\n", i, l)
	}
}

func (m *Master) cmdRefresh(ctx context.Context, args []string) {
	d, ok := m.deviceArg(args, "refresh <dev> [port]")
	if !ok {
		return
	}
	ctx, cancel := m.commandContext(ctx)
	defer cancel()

	if len(args) > 1 {
		p, err := d.FindPort(ctx, args[1])
		if err != nil {
			fmt.Fprintf(m.out, "Error: %v\n", err)
			return
		}
		p.Refresh()
		m.printState(ctx, p)
		return
	}
	caps, err := d.Capabilities(ctx)
	if err != nil {
		fmt.Fprintf(m.out, "Error: %v\n", err)
		return
	}
	caps.Refresh()
	fmt.Fprintf(m.out, "Dropped cached state of %d port(s)\n", caps.Len())
}

func (m *Master) cmdBind(ctx context.Context, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(m.out, "Usage: bind <dev> <port>")
		return
	}
	d, ok := m.findDevice(args[0])
	if !ok {
		return
	}
	bindCtx, cancel := m.commandContext(ctx)
	s, err := d.BindStreaming(bindCtx, args[1])
	cancel()
	if err != nil {
		fmt.Fprintf(m.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(m.out, "%s bound to channel %d\n", s.ID(), s.Channel())
	m.watch(ctx, d, s)
}

// watch prints inbound streaming data until the stream is stopped.
func (m *Master) watch(ctx context.Context, d *device.Device, s *ports.Streaming) {
	key := streamKey(d.ID(), s.ID())
	ctx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	if old, ok := m.streams[key]; ok {
		old()
	}
	m.streams[key] = cancel
	m.mu.Unlock()

	go func() {
		for {
			data, err := s.Receive(ctx)
			if err != nil {
				return
			}
			fmt.Fprintf(m.out, "[STREAM] %s/%s: %s\n", d.Label(), s.ID(), data)
		}
	}()
}

func (m *Master) cmdUnbind(ctx context.Context, args []string) {
	if len(args) < 2 {
		fmt.Fprintln(m.out, "Usage: unbind <dev> <port>")
		return
	}
	d, ok := m.findDevice(args[0])
	if !ok {
		return
	}
	m.stopStream(streamKey(d.ID(), args[1]))

	ctx, cancel := m.commandContext(ctx)
	defer cancel()
	if err := d.UnbindStreaming(ctx, args[1]); err != nil {
		fmt.Fprintf(m.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(m.out, "%s unbound\n", args[1])
}

func (m *Master) cmdSend(ctx context.Context, args []string) {
	if len(args) < 3 {
		fmt.Fprintln(m.out, "Usage: send <dev> <port> <data>")
		return
	}
	d, ok := m.findDevice(args[0])
	if !ok {
		return
	}
	ctx, cancel := m.commandContext(ctx)
	defer cancel()
	if err := d.SendStreamingData(ctx, args[1], strings.Join(args[2:], " ")); err != nil {
		fmt.Fprintf(m.out, "Error: %v\n", err)
	}
}

func (m *Master) printState(ctx context.Context, p ports.Port) {
	state, err := describeState(ctx, p)
	if err != nil {
		fmt.Fprintf(m.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(m.out, "%s: %s\n", p.ID(), state)
}

func streamKey(deviceID, portID string) string {
	return deviceID + "/" + portID
}

func (m *Master) stopStream(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cancel, ok := m.streams[key]; ok {
		cancel()
		delete(m.streams, key)
	}
}

// stopStreams stops every stream watcher of the device.
func (m *Master) stopStreams(deviceID string) {
	prefix := deviceID + "/"
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, cancel := range m.streams {
		if strings.HasPrefix(key, prefix) {
			cancel()
			delete(m.streams, key)
		}
	}
}

func parseLine(s string) (ports.DigitalLine, error) {
	switch strings.ToLower(s) {
	case "high", "1", "on":
		return ports.LineHigh, nil
	case "low", "0", "off":
		return ports.LineLow, nil
	default:
		return 0, fmt.Errorf("invalid line %q (use: high, low)", s)
	}
}

func parseDigitalMode(s string) (ports.DigitalMode, error) {
	switch strings.ToLower(s) {
	case "input", "in", "floating":
		return ports.ModeInputFloating, nil
	case "pullup":
		return ports.ModeInputPullup, nil
	case "pulldown":
		return ports.ModeInputPulldown, nil
	case "output", "out":
		return ports.ModeOutput, nil
	default:
		return 0, fmt.Errorf("invalid digital mode %q (use: input, pullup, pulldown, output)", s)
	}
}

func parseAnalogMode(s string) (ports.AnalogMode, error) {
	switch strings.ToLower(s) {
	case "input", "in":
		return ports.AnalogInput, nil
	case "output", "out":
		return ports.AnalogOutput, nil
	default:
		return 0, fmt.Errorf("invalid analog mode %q (use: input, output)", s)
	}
}

func parseReference(s string) (ports.AnalogReference, error) {
	switch strings.ToLower(s) {
	case "internal", "int":
		return ports.ReferenceInternal, nil
	case "external", "ext":
		return ports.ReferenceExternal, nil
	default:
		return 0, fmt.Errorf("invalid reference %q (use: internal, external)", s)
	}
}
