// Package interactive provides the interactive command-line interface
// for the OPDI master.
package interactive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"

	"github.com/leomeyer/OPDI-deprecated/pkg/connection"
	"github.com/leomeyer/OPDI-deprecated/pkg/device"
	"github.com/leomeyer/OPDI-deprecated/pkg/discovery"
	"github.com/leomeyer/OPDI-deprecated/pkg/persistence"
	"github.com/leomeyer/OPDI-deprecated/pkg/transport"
)

// DefaultCommandTimeout bounds a single command's device I/O.
const DefaultCommandTimeout = 15 * time.Second

// Collector finds devices on the network.
type Collector interface {
	Collect(ctx context.Context) ([]*discovery.Service, error)
}

// Options configures a Master.
type Options struct {
	// Store persists the device list. Nil keeps devices in memory only.
	Store *persistence.DeviceStore

	// Browser is used by the discover command. Nil disables discovery.
	Browser Collector

	// Reconnect connects devices through a reconnect supervisor.
	Reconnect bool

	// Connection configures the reconnect supervisors.
	Connection connection.Config

	// CommandTimeout bounds each command (default 15s).
	CommandTimeout time.Duration
}

// Master handles interactive mode for opdi-master.
type Master struct {
	opts    Options
	rl      *readline.Instance
	out     io.Writer
	errOut  io.Writer
	prompt  Prompter
	manager *device.Manager
	logger  *slog.Logger

	mu          sync.Mutex
	supervisors map[string]*connection.Supervisor
	streams     map[string]context.CancelFunc
	found       []*discovery.Service
}

// New creates a master reading commands from the terminal.
func New(opts Options) (*Master, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "opdi> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	m := newMaster(rl.Stdout(), opts)
	m.rl = rl
	m.errOut = rl.Stderr()
	m.prompt = &terminalPrompter{rl: rl, in: os.Stdin}
	return m, nil
}

func newMaster(out io.Writer, opts Options) *Master {
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	return &Master{
		opts:        opts,
		out:         out,
		errOut:      out,
		logger:      slog.Default(),
		supervisors: make(map[string]*connection.Supervisor),
		streams:     make(map[string]context.CancelFunc),
	}
}

// Stdout returns a writer that coordinates with the readline input.
func (m *Master) Stdout() io.Writer {
	return m.out
}

// Stderr returns a writer that coordinates with the readline input.
func (m *Master) Stderr() io.Writer {
	return m.errOut
}

// Manager returns the device manager. It is nil before Init.
func (m *Master) Manager() *device.Manager {
	return m.manager
}

// Init creates the device manager and loads the stored devices.
func (m *Master) Init(cfg device.Config, logger *slog.Logger) error {
	if logger != nil {
		m.logger = logger
	}
	if m.opts.Connection.Logger == nil {
		m.opts.Connection.Logger = m.logger
	}
	m.manager = device.NewManager(cfg)
	m.manager.RegisterListener(&consoleListener{m: m})

	if m.opts.Store == nil {
		return nil
	}
	n, err := m.opts.Store.LoadManager(m.manager)
	if err != nil {
		return err
	}
	if n > 0 {
		m.logger.Info("loaded devices", "count", n, "file", m.opts.Store.Path())
	}
	return nil
}

// Run starts the interactive command loop.
func (m *Master) Run(ctx context.Context, cancel context.CancelFunc) {
	defer m.rl.Close()

	m.printHelp()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := m.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			fmt.Fprintln(m.out, "Exiting...")
			cancel()
			return
		}

		if quit := m.Exec(ctx, line); quit {
			fmt.Fprintln(m.out, "Exiting...")
			cancel()
			return
		}
	}
}

// Exec runs one command line and reports whether the user asked to quit.
func (m *Master) Exec(ctx context.Context, line string) bool {
	parts := strings.Fields(strings.TrimSpace(line))
	if len(parts) == 0 {
		return false
	}
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		m.printHelp()

	case "devices", "list", "ls":
		m.cmdDevices()

	case "add":
		m.cmdAdd(args)

	case "remove", "rm":
		m.cmdRemove(args)

	case "label":
		m.cmdLabel(args)

	case "forget":
		m.cmdForget(args)

	case "connect", "c":
		m.cmdConnect(ctx, args)

	case "connectall":
		m.ConnectAll(ctx)

	case "disconnect", "dc":
		m.cmdDisconnect(args)

	case "ports", "caps":
		m.cmdPorts(ctx, args)

	case "info":
		m.cmdInfo(ctx, args)

	case "get", "g":
		m.cmdGet(ctx, args)

	case "set", "s":
		m.cmdSet(ctx, args)

	case "mode":
		m.cmdMode(ctx, args)

	case "res", "resolution":
		m.cmdResolution(ctx, args)

	case "ref", "reference":
		m.cmdReference(ctx, args)

	case "labels":
		m.cmdLabels(ctx, args)

	case "refresh":
		m.cmdRefresh(ctx, args)

	case "bind":
		m.cmdBind(ctx, args)

	case "unbind":
		m.cmdUnbind(ctx, args)

	case "send":
		m.cmdSend(ctx, args)

	case "discover":
		m.cmdDiscover(ctx, args)

	case "adopt":
		m.cmdAdopt(args)

	case "save":
		m.save()

	case "quit", "exit", "q":
		return true

	default:
		fmt.Fprintf(m.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (m *Master) printHelp() {
	fmt.Fprintln(m.out, `
OPDI Master Commands:
  Devices:
    devices                           - List devices and their status
    add <address> [label]             - Add a device (host[:port] or /dev/tty...[@baud])
    remove <dev>                      - Remove a device
    label <dev> <label>               - Change a device label
    forget <dev>                      - Forget remembered credentials
    discover [seconds]                - Browse the network for devices
    adopt <n>                         - Add the n-th discovered device
    save                              - Write the device file

  Connection:
    connect <dev>                     - Connect a device
    connectall                        - Connect all disconnected devices
    disconnect <dev>                  - Disconnect a device

  Ports:
    ports <dev>                       - List the device's ports
    info <dev>                        - Show device information
    get <dev> <port>                  - Show a port's state
    set <dev> <port> <value>          - Set line, value or position
    mode <dev> <port> <mode>          - Set mode (input, pullup, pulldown, output)
    res <dev> <port> <bits>           - Set analog resolution (8-12)
    ref <dev> <port> <internal|external> - Set analog reference
    labels <dev> <port>               - Show select port labels
    refresh <dev> [port]              - Drop cached port state
    bind <dev> <port>                 - Bind a streaming port and print its data
    unbind <dev> <port>               - Unbind a streaming port
    send <dev> <port> <data>          - Send data to a streaming port

  General:
    help                              - Show this help
    quit                              - Exit

  <dev> is a list index, device ID, label or address.`)
}

// ConnectAll connects every disconnected device.
func (m *Master) ConnectAll(ctx context.Context) {
	for _, d := range m.manager.Devices() {
		if d.Status() == device.StatusDisconnected {
			m.connect(ctx, d)
		}
	}
}

// Shutdown stops streams and supervisors, disconnects every device and
// saves the device file.
func (m *Master) Shutdown() {
	m.mu.Lock()
	for key, cancel := range m.streams {
		cancel()
		delete(m.streams, key)
	}
	sups := m.supervisors
	m.supervisors = make(map[string]*connection.Supervisor)
	m.mu.Unlock()

	for _, s := range sups {
		s.Close()
	}
	if m.manager != nil {
		m.manager.DisconnectAll(true)
		m.save()
	}
}

func (m *Master) cmdDevices() {
	devices := m.manager.Devices()
	if len(devices) == 0 {
		fmt.Fprintln(m.out, "No devices (use 'add' or 'discover')")
		return
	}

	fmt.Fprintf(m.out, "\nDevices (%d):\n", len(devices))
	fmt.Fprintln(m.out, "-------------------------------------------")
	for idx, d := range devices {
		fmt.Fprintf(m.out, "  %d. %s\n", idx+1, d.Label())
		fmt.Fprintf(m.out, "      ID: %s\n", d.ID())
		fmt.Fprintf(m.out, "      Address: %s (%s)\n", d.Address(), kindOrDefault(d.TransportKind()))
		fmt.Fprintf(m.out, "      Status: %s\n", m.statusOf(d))
		if a, ok := d.Agreement(); ok {
			fmt.Fprintf(m.out, "      Protocol: %s v%d (checksums: %v)\n", a.Magic, a.Version, a.Checksums)
		}
		if _, ok := d.Credentials(); ok {
			fmt.Fprintln(m.out, "      Credentials: remembered")
		}
	}
}

func (m *Master) statusOf(d *device.Device) string {
	m.mu.Lock()
	sup := m.supervisors[d.ID()]
	m.mu.Unlock()
	if sup != nil && sup.State() == connection.StateReconnecting {
		return fmt.Sprintf("%s (reconnecting, attempt %d)", d.Status(), sup.Attempts())
	}
	return d.Status().String()
}

func (m *Master) cmdAdd(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(m.out, "Usage: add <address> [label]")
		return
	}
	address, kind := parseAddress(args[0])
	desc := device.Descriptor{
		Address:   address,
		Label:     strings.Join(args[1:], " "),
		Transport: kind,
	}
	if _, ok := m.manager.FindByAddress(address); ok {
		fmt.Fprintf(m.out, "A device with address %s already exists\n", address)
		return
	}
	d, err := m.manager.Create(desc)
	if err != nil {
		fmt.Fprintf(m.out, "Failed to add device: %v\n", err)
		return
	}
	fmt.Fprintf(m.out, "Added %s\n", d)
	m.save()
}

func (m *Master) cmdRemove(args []string) {
	d, ok := m.deviceArg(args, "remove <dev>")
	if !ok {
		return
	}
	m.stopSupervisor(d.ID())
	if err := m.manager.Remove(d.ID()); err != nil {
		fmt.Fprintf(m.out, "Failed to remove device: %v\n", err)
		return
	}
	fmt.Fprintf(m.out, "Removed %s\n", d)
	m.save()
}

func (m *Master) cmdLabel(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(m.out, "Usage: label <dev> <label>")
		return
	}
	d, ok := m.findDevice(args[0])
	if !ok {
		return
	}
	d.SetLabel(strings.Join(args[1:], " "))
	fmt.Fprintf(m.out, "Renamed to %s\n", d)
	m.save()
}

func (m *Master) cmdForget(args []string) {
	d, ok := m.deviceArg(args, "forget <dev>")
	if !ok {
		return
	}
	d.SetCredentials(nil)
	fmt.Fprintf(m.out, "Credentials of %s forgotten\n", d)
	m.save()
}

func (m *Master) cmdConnect(ctx context.Context, args []string) {
	d, ok := m.deviceArg(args, "connect <dev>")
	if !ok {
		return
	}
	m.connect(ctx, d)
}

func (m *Master) connect(ctx context.Context, d *device.Device) {
	ctx, cancel := context.WithTimeout(ctx, m.opts.CommandTimeout)
	defer cancel()

	var err error
	if m.opts.Reconnect {
		sup := m.supervisor(d)
		err = sup.Connect(ctx)
	} else {
		err = m.manager.Connect(ctx, d, nil)
	}
	if err != nil {
		fmt.Fprintf(m.out, "Failed to connect %s: %v\n", d, err)
		return
	}
	// Remembered credentials are saved.
	m.save()
}

func (m *Master) cmdDisconnect(args []string) {
	d, ok := m.deviceArg(args, "disconnect <dev>")
	if !ok {
		return
	}
	m.stopStreams(d.ID())
	if m.stopSupervisor(d.ID()) {
		return
	}
	if err := d.Disconnect(true); err != nil {
		fmt.Fprintf(m.out, "Failed to disconnect %s: %v\n", d, err)
	}
}

// supervisor returns the device's supervisor, creating it on first use.
func (m *Master) supervisor(d *device.Device) *connection.Supervisor {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.supervisors[d.ID()]; ok && s.State() != connection.StateClosed {
		return s
	}
	s := connection.NewSupervisor(managed{m: m.manager, d: d}, nil, m.opts.Connection)
	s.OnReconnecting(func(attempt int, delay time.Duration) {
		fmt.Fprintf(m.out, "[RECONNECT] %s: attempt %d in %s\n", d.Label(), attempt, delay.Round(time.Millisecond))
	})
	m.supervisors[d.ID()] = s
	return s
}

// stopSupervisor closes the device's supervisor and reports whether one
// existed.
func (m *Master) stopSupervisor(id string) bool {
	m.mu.Lock()
	s, ok := m.supervisors[id]
	delete(m.supervisors, id)
	m.mu.Unlock()
	if ok {
		s.Close()
	}
	return ok
}

func (m *Master) cmdDiscover(ctx context.Context, args []string) {
	if m.opts.Browser == nil {
		fmt.Fprintln(m.out, "Discovery is not available")
		return
	}
	timeout := discovery.BrowseTimeout
	if len(args) > 0 {
		secs, err := strconv.Atoi(args[0])
		if err != nil || secs <= 0 {
			fmt.Fprintf(m.out, "Invalid duration: %s\n", args[0])
			return
		}
		timeout = time.Duration(secs) * time.Second
	}

	fmt.Fprintln(m.out, "Discovering OPDI devices...")
	ctx, cancel := context.WithTimeout(ctx, timeout)
	found, err := m.opts.Browser.Collect(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(m.out, "Discovery error: %v\n", err)
		return
	}

	m.mu.Lock()
	m.found = found
	m.mu.Unlock()

	if len(found) == 0 {
		fmt.Fprintln(m.out, "No devices found")
		return
	}
	fmt.Fprintf(m.out, "Found %d device(s):\n", len(found))
	for idx, svc := range found {
		known := ""
		if _, ok := m.manager.FindByAddress(svc.Address()); ok {
			known = " [known]"
		}
		fmt.Fprintf(m.out, "  %d. %s (%s, magic: %s)%s\n", idx+1, svc.Label(), svc.Address(), orDash(svc.Magic), known)
	}
}

func (m *Master) cmdAdopt(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(m.out, "Usage: adopt <n>")
		return
	}
	n, err := strconv.Atoi(args[0])
	m.mu.Lock()
	found := m.found
	m.mu.Unlock()
	if err != nil || n < 1 || n > len(found) {
		fmt.Fprintf(m.out, "No discovered device %s (run 'discover' first)\n", args[0])
		return
	}
	svc := found[n-1]
	if _, ok := m.manager.FindByAddress(svc.Address()); ok {
		fmt.Fprintf(m.out, "%s is already known\n", svc.Address())
		return
	}
	d, err := m.manager.Create(svc.Descriptor())
	if err != nil {
		fmt.Fprintf(m.out, "Failed to add device: %v\n", err)
		return
	}
	fmt.Fprintf(m.out, "Added %s\n", d)
	m.save()
}

func (m *Master) save() {
	if m.opts.Store == nil {
		return
	}
	if err := m.opts.Store.SaveManager(m.manager); err != nil {
		fmt.Fprintf(m.out, "Failed to save %s: %v\n", m.opts.Store.Path(), err)
	}
}

// deviceArg resolves the first argument or prints the usage line.
func (m *Master) deviceArg(args []string, usage string) (*device.Device, bool) {
	if len(args) < 1 {
		fmt.Fprintf(m.out, "Usage: %s\n", usage)
		return nil, false
	}
	return m.findDevice(args[0])
}

// findDevice resolves a list index, ID, label or address.
func (m *Master) findDevice(ref string) (*device.Device, bool) {
	devices := m.manager.Devices()
	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(devices) {
		return devices[n-1], true
	}
	if d, ok := m.manager.FindByID(ref); ok {
		return d, true
	}
	for _, d := range devices {
		if strings.EqualFold(d.Label(), ref) {
			return d, true
		}
	}
	if d, ok := m.manager.FindByAddress(ref); ok {
		return d, true
	}
	fmt.Fprintf(m.out, "Unknown device: %s\n", ref)
	return nil, false
}

// parseAddress returns the address and its transport kind. Serial
// addresses name a device node, optionally prefixed with "serial:".
func parseAddress(s string) (string, string) {
	if rest, ok := strings.CutPrefix(s, "serial:"); ok {
		return rest, transport.KindSerial
	}
	if strings.HasPrefix(s, "/dev/") || strings.HasPrefix(strings.ToUpper(s), "COM") {
		return s, transport.KindSerial
	}
	return transport.WithDefaultPort(strings.TrimPrefix(s, "tcp:")), transport.KindTCP
}

func kindOrDefault(kind string) string {
	if kind == "" {
		return transport.KindTCP
	}
	return kind
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// managed connects a device through the manager so registered listeners
// see reconnects.
type managed struct {
	m *device.Manager
	d *device.Device
}

func (c managed) Connect(ctx context.Context, l device.Listener) error {
	return c.m.Connect(ctx, c.d, l)
}

func (c managed) Disconnect(regular bool) error {
	return c.d.Disconnect(regular)
}
