package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leomeyer/OPDI-deprecated/pkg/log"
	"github.com/leomeyer/OPDI-deprecated/pkg/ports"
	"github.com/leomeyer/OPDI-deprecated/pkg/protocol"
	"github.com/leomeyer/OPDI-deprecated/pkg/router"
	"github.com/leomeyer/OPDI-deprecated/pkg/transport"
)

// Device errors.
var (
	// ErrNotConnected indicates an operation that needs a bound session.
	ErrNotConnected = errors.New("device not connected")

	// ErrAlreadyConnected indicates Connect on a connected device.
	ErrAlreadyConnected = errors.New("device already connected")

	// ErrBusy indicates Connect while a connect or disconnect is running.
	ErrBusy = errors.New("connection in progress")

	// ErrWrongKind indicates a typed lookup of a port of another kind.
	ErrWrongKind = errors.New("wrong port kind")

	// ErrNotSupported indicates an operation the bound protocol lacks.
	ErrNotSupported = errors.New("not supported by protocol")
)

// Status is the connection status of a device.
type Status uint8

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusDisconnecting
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "DISCONNECTED"
	case StatusConnecting:
		return "CONNECTING"
	case StatusConnected:
		return "CONNECTED"
	case StatusDisconnecting:
		return "DISCONNECTING"
	default:
		return "UNKNOWN"
	}
}

// Config configures how devices connect.
type Config struct {
	// Protocol configures the session (zero durations use defaults).
	Protocol protocol.Config

	// Registry selects protocol variants (default: protocol.DefaultRegistry).
	Registry *protocol.Registry

	// Transport opens the device address (default: TCP).
	Transport transport.Transport

	// Transports maps descriptor transport kinds to transports. Kinds not
	// listed use Transport.
	Transports map[string]transport.Transport

	// Logger receives operational messages (default: slog.Default()).
	Logger *slog.Logger

	// ProtocolLogger receives protocol capture events. Nil disables capture.
	ProtocolLogger log.Logger
}

// DefaultConfig returns a configuration with the default session timing
// and a TCP transport.
func DefaultConfig() Config {
	return Config{
		Protocol:  protocol.DefaultConfig(),
		Transport: &transport.TCP{},
	}
}

func (c Config) withDefaults() Config {
	if c.Registry == nil {
		c.Registry = protocol.DefaultRegistry
	}
	if c.Transport == nil {
		c.Transport = &transport.TCP{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Protocol.Logger == nil {
		c.Protocol.Logger = c.Logger
	}
	return c
}

func (c Config) transportFor(kind string) transport.Transport {
	if t, ok := c.Transports[kind]; ok && t != nil {
		return t
	}
	return c.Transport
}

// Descriptor is the persistent description of a device.
type Descriptor struct {
	// ID identifies the device. New generates one when empty.
	ID string

	// Address is passed to the transport.
	Address string

	// Label is a display name (default: Address).
	Label string

	// PSK is the pre-shared key, kept for the application.
	PSK string

	// Transport names the transport kind looked up in Config.Transports.
	Transport string

	// Credentials are used when the device requires authentication.
	Credentials *Credentials
}

// session is one bound connection.
type session struct {
	router   *router.Router
	proto    protocol.Protocol
	listener Listener
	connID   string

	// guarded by Device.mu
	opened   bool
	cause    error
	regular  bool
	notified bool
}

// Device is a remote OPDI device.
type Device struct {
	id        string
	address   string
	transport string
	cfg       Config
	logger    *slog.Logger

	mu     sync.Mutex
	label  string
	psk    string
	creds  *Credentials
	status Status
	cancel context.CancelFunc
	sess   *session
}

// New creates a disconnected device.
func New(desc Descriptor, cfg Config) *Device {
	cfg = cfg.withDefaults()
	if desc.ID == "" {
		desc.ID = uuid.New().String()
	}
	if desc.Label == "" {
		desc.Label = desc.Address
	}
	d := &Device{
		id:        desc.ID,
		address:   desc.Address,
		transport: desc.Transport,
		cfg:       cfg,
		logger:    cfg.Logger.With("device", desc.ID, "address", desc.Address),
		label:     desc.Label,
		psk:       desc.PSK,
	}
	if desc.Credentials != nil {
		creds := *desc.Credentials
		d.creds = &creds
	}
	return d
}

// ID returns the device ID.
func (d *Device) ID() string { return d.id }

// Address returns the transport address.
func (d *Device) Address() string { return d.address }

// TransportKind returns the transport name from the descriptor.
func (d *Device) TransportKind() string { return d.transport }

// Label returns the display name.
func (d *Device) Label() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.label
}

// SetLabel changes the display name.
func (d *Device) SetLabel(label string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.label = label
}

// PSK returns the pre-shared key.
func (d *Device) PSK() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.psk
}

// Credentials returns the stored credentials, if any.
func (d *Device) Credentials() (Credentials, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.creds == nil {
		return Credentials{}, false
	}
	return *d.creds, true
}

// SetCredentials stores credentials for later connects. Nil clears them.
func (d *Device) SetCredentials(creds *Credentials) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if creds == nil {
		d.creds = nil
		return
	}
	c := *creds
	d.creds = &c
}

// Descriptor returns a snapshot of the persistent fields, including
// remembered credentials.
func (d *Device) Descriptor() Descriptor {
	d.mu.Lock()
	defer d.mu.Unlock()
	desc := Descriptor{
		ID:        d.id,
		Address:   d.address,
		Label:     d.label,
		PSK:       d.psk,
		Transport: d.transport,
	}
	if d.creds != nil {
		c := *d.creds
		desc.Credentials = &c
	}
	return desc
}

// Status returns the connection status.
func (d *Device) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// ConnectionID returns the ID of the current or last connection attempt.
func (d *Device) ConnectionID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sess == nil {
		return ""
	}
	return d.sess.connID
}

// Agreement returns the handshake parameters of the bound session.
func (d *Device) Agreement() (protocol.Agreement, bool) {
	p, err := d.protocol()
	if err != nil {
		return protocol.Agreement{}, false
	}
	return p.Agreement(), true
}

// Protocol returns the bound protocol.
func (d *Device) Protocol() (protocol.Protocol, error) {
	return d.protocol()
}

// Connect opens the transport, runs the handshake and loads the port
// capabilities. Streaming ports with the autobind flag are bound before
// it returns. A nil listener is replaced by NopListener.
//
// Cancelling ctx or calling AbortConnect stops the attempt with
// router.ErrAborted.
func (d *Device) Connect(ctx context.Context, l Listener) error {
	if l == nil {
		l = NopListener{}
	}

	d.mu.Lock()
	switch d.status {
	case StatusConnected:
		d.mu.Unlock()
		return ErrAlreadyConnected
	case StatusConnecting, StatusDisconnecting:
		d.mu.Unlock()
		return ErrBusy
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.cancel = cancel
	d.setStatusLocked(StatusConnecting, "connect")
	d.mu.Unlock()

	connID := uuid.New().String()
	d.logger.Debug("connecting", "conn", connID)
	l.OnConnectionInitiated(d)

	s, err := d.open(ctx, l, connID)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, router.ErrAborted) {
			err = fmt.Errorf("%w: %w", router.ErrAborted, err)
		}
		if errors.Is(err, protocol.ErrAuthenticationFailed) {
			d.SetCredentials(nil)
		}

		d.mu.Lock()
		d.cancel = nil
		d.setStatusLocked(StatusDisconnected, err.Error())
		d.mu.Unlock()

		if errors.Is(err, router.ErrAborted) {
			d.logger.Info("connect aborted", "conn", connID)
			l.OnConnectionAborted(d)
		} else {
			d.logger.Warn("connect failed", "conn", connID, "error", err)
			l.OnConnectionFailed(d, err)
		}
		return err
	}

	d.mu.Lock()
	d.cancel = nil
	d.sess = s
	d.setStatusLocked(StatusConnected, s.proto.Magic())
	d.mu.Unlock()

	s.router.SetCloseHandler(func(cause error) { d.closed(s, cause) })
	d.logger.Info("connected", "conn", connID, "protocol", s.proto.Magic())
	l.OnConnectionOpened(d)

	d.mu.Lock()
	s.opened = true
	pending := s.cause != nil && !s.notified
	s.notified = s.notified || pending
	d.mu.Unlock()
	if pending {
		d.notifyClosed(s)
		return nil
	}

	select {
	case <-s.router.Done():
		d.closed(s, s.router.Cause())
	default:
	}
	return nil
}

// open connects the transport and binds the protocol.
func (d *Device) open(ctx context.Context, l Listener, connID string) (*session, error) {
	stream, err := d.cfg.transportFor(d.transport).Open(ctx, d.address)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.address, err)
	}
	if c, ok := stream.(transport.Capturer); ok && d.cfg.ProtocolLogger != nil {
		c.SetCapture(d.cfg.ProtocolLogger, connID)
	}

	r := router.New(stream, router.Config{
		Logger:         d.logger,
		ProtocolLogger: d.cfg.ProtocolLogger,
		ConnID:         connID,
		Address:        d.address,
	})
	r.Start()

	hs := &protocol.Handshaker{
		Router:      r,
		Registry:    d.cfg.Registry,
		Config:      d.cfg.Protocol,
		Credentials: d.credentialsFunc(l),
		Events:      events{d: d, l: l},
		Capture: protocol.Capture{
			Logger:  d.cfg.ProtocolLogger,
			ConnID:  connID,
			Address: d.address,
		},
	}
	p, err := hs.Run(ctx)
	if err != nil {
		r.Close(err)
		return nil, err
	}

	p.Initiate()
	if _, err := p.Capabilities(ctx); err != nil {
		r.Close(err)
		return nil, fmt.Errorf("load capabilities: %w", err)
	}
	return &session{router: r, proto: p, listener: l, connID: connID}, nil
}

// credentialsFunc prefers stored credentials and falls back to the
// listener.
func (d *Device) credentialsFunc(l Listener) protocol.CredentialsFunc {
	return func(context.Context) (Credentials, error) {
		if creds, ok := d.Credentials(); ok {
			return creds, nil
		}
		creds, remember, ok := l.GetCredentials(d)
		if !ok {
			return Credentials{}, protocol.ErrCredentialsDenied
		}
		if remember {
			d.SetCredentials(&creds)
		}
		return creds, nil
	}
}

// AbortConnect interrupts a running Connect. It has no effect otherwise.
func (d *Device) AbortConnect() {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Disconnect ends the session. A regular disconnect sends Dis first.
// Pending requests fail with router.ErrDisconnected. Only the first call
// has an effect; during Connect it behaves like AbortConnect.
func (d *Device) Disconnect(regular bool) error {
	d.mu.Lock()
	if d.status == StatusConnecting {
		d.mu.Unlock()
		d.AbortConnect()
		return nil
	}
	s := d.sess
	if d.status != StatusConnected || s == nil {
		d.mu.Unlock()
		return nil
	}
	d.setStatusLocked(StatusDisconnecting, "disconnect")
	d.mu.Unlock()

	var err error
	if regular {
		err = s.proto.Disconnect()
	}
	if cerr := s.router.Close(router.ErrDisconnected); err == nil {
		err = cerr
	}
	return err
}

// closed runs once per session when its router closes.
func (d *Device) closed(s *session, cause error) {
	d.mu.Lock()
	if d.sess != s {
		d.mu.Unlock()
		return
	}
	d.sess = nil
	s.cause = cause
	s.regular = d.status == StatusDisconnecting
	d.setStatusLocked(StatusDisconnected, cause.Error())
	deliver := s.opened && !s.notified
	s.notified = s.notified || deliver
	d.mu.Unlock()

	if deliver {
		d.notifyClosed(s)
	}
}

func (d *Device) notifyClosed(s *session) {
	if !s.regular && !errors.Is(s.cause, protocol.ErrDeviceDisconnected) {
		d.logger.Warn("connection lost", "conn", s.connID, "error", s.cause)
		s.listener.OnConnectionError(d, s.cause)
	} else {
		d.logger.Info("disconnected", "conn", s.connID)
	}
	s.listener.OnConnectionClosed(d)
}

// setStatusLocked changes the status and captures the change. d.mu must
// be held.
func (d *Device) setStatusLocked(next Status, reason string) {
	old := d.status
	d.status = next
	if old == next || d.cfg.ProtocolLogger == nil {
		return
	}
	d.cfg.ProtocolLogger.Log(log.Event{
		Timestamp:     time.Now(),
		Layer:         log.LayerSession,
		Category:      log.CategoryState,
		DeviceAddress: d.address,
		DeviceID:      d.id,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityDevice,
			OldState: old.String(),
			NewState: next.String(),
			Reason:   reason,
		},
	})
}

func (d *Device) protocol() (protocol.Protocol, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status != StatusConnected || d.sess == nil {
		return nil, ErrNotConnected
	}
	return d.sess.proto, nil
}

// Capabilities returns the ports the device declared.
func (d *Device) Capabilities(ctx context.Context) (*ports.Capabilities, error) {
	p, err := d.protocol()
	if err != nil {
		return nil, err
	}
	return p.Capabilities(ctx)
}

// FindPort returns the port with the given ID.
func (d *Device) FindPort(ctx context.Context, id string) (ports.Port, error) {
	p, err := d.protocol()
	if err != nil {
		return nil, err
	}
	return p.FindPort(ctx, id)
}

// DeviceInfo returns the device information of an extended protocol.
func (d *Device) DeviceInfo(ctx context.Context) (map[string]string, error) {
	p, err := d.protocol()
	if err != nil {
		return nil, err
	}
	inf, ok := p.(protocol.DeviceInformer)
	if !ok {
		return nil, fmt.Errorf("device info: %w: %s", ErrNotSupported, p.Magic())
	}
	return inf.DeviceInfo(ctx)
}

// String returns the label and address.
func (d *Device) String() string {
	return fmt.Sprintf("%s (%s)", d.Label(), d.address)
}
