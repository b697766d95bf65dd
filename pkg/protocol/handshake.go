package protocol

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/leomeyer/OPDI-deprecated/pkg/router"
	"github.com/leomeyer/OPDI-deprecated/pkg/version"
	"github.com/leomeyer/OPDI-deprecated/pkg/wire"
)

// Credentials authenticate the master to a device.
type Credentials struct {
	User     string
	Password string
}

// CredentialsFunc supplies credentials when the device requires them.
// An error aborts the handshake with router.ErrAborted.
type CredentialsFunc func(ctx context.Context) (Credentials, error)

// ErrCredentialsDenied is returned by a CredentialsFunc when no
// credentials are available.
var ErrCredentialsDenied = errors.New("credentials denied")

// Handshaker drives the handshake on the control channel of a started
// router and returns the bound protocol.
type Handshaker struct {
	Router *router.Router

	// Registry selects the protocol (default: DefaultRegistry).
	Registry *Registry

	Config      Config
	Credentials CredentialsFunc
	Events      Events
	Capture     Capture

	mu    sync.Mutex
	state State
}

// State returns the current handshake state.
func (h *Handshaker) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handshaker) setState(next State, reason string) {
	h.mu.Lock()
	old := h.state
	h.state = next
	h.mu.Unlock()
	if old != next {
		h.Capture.state(old, next, reason)
	}
}

// Run performs the handshake. Cancelling ctx interrupts the pending
// read and fails with router.ErrAborted. On any error the state ends in
// StateClosed; closing the router is left to the caller.
func (h *Handshaker) Run(ctx context.Context) (Protocol, error) {
	cfg := h.Config.withDefaults()
	registry := h.Registry
	if registry == nil {
		registry = DefaultRegistry
	}
	logger := cfg.Logger.With("conn_id", h.Capture.ConnID, "master", cfg.MasterName)

	p, err := h.run(ctx, cfg, registry)
	if err != nil {
		h.setState(StateClosed, err.Error())
		logger.Debug("handshake failed", "error", err)
		return nil, err
	}
	h.setState(StateBound, "")
	logger.Debug("handshake complete", "magic", p.Magic(), "checksums", p.Agreement().Checksums)
	return p, nil
}

func (h *Handshaker) run(ctx context.Context, cfg Config, registry *Registry) (Protocol, error) {
	var flags uint32
	if cfg.Checksums {
		flags |= wire.FlagChecksum
	}

	h.setState(StateAwaitMagic, "")
	hello := wire.JoinParts(wire.Handshake, MagicBasic, strconv.Itoa(Version), strconv.FormatUint(uint64(flags), 10), wire.EncodingUTF8)
	msg, err := h.Router.Control(ctx, hello, cfg.HandshakeTimeout)
	if err != nil {
		return nil, fmt.Errorf("handshake: %w", err)
	}
	agreement, err := parseAgreement(msg.Parts())
	if err != nil {
		return nil, err
	}
	agreement.Checksums = flags&wire.FlagChecksum != 0 && agreement.Flags&wire.FlagChecksum != 0

	if agreement.AuthRequired() {
		h.setState(StateAwaitAuth, "")
		if err := h.authenticate(ctx, cfg); err != nil {
			return nil, err
		}
	}

	ctor, ok := registry.Lookup(agreement.Magic)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, agreement.Magic)
	}

	// Checksums start once the session is bound; Auth travels plain.
	if agreement.Checksums {
		h.Router.Codec().SetChecksums(true)
	}

	events := h.Events
	if events == nil {
		events = NopEvents{}
	}
	return ctor(&Session{
		Router:    h.Router,
		Config:    cfg,
		Agreement: agreement,
		Events:    events,
		Capture:   h.Capture,
	}), nil
}

func parseAgreement(parts []string) (Agreement, error) {
	if len(parts) > 0 && parts[0] == wire.Disagreement {
		reason := strings.Join(parts[1:], string(wire.Separator))
		return Agreement{}, fmt.Errorf("%w: %w: %s", ErrHandshakeRejected, wire.ErrProtocolMismatch, reason)
	}
	if err := wire.ExpectParts(parts, wire.Handshake, 5); err != nil {
		return Agreement{}, fmt.Errorf("handshake: %w", err)
	}
	ver, err := wire.ParseRange(parts[2], "version", 1, 1<<31-1)
	if err != nil {
		return Agreement{}, fmt.Errorf("handshake: %w", err)
	}
	if !version.ProtocolSupported(int(ver)) {
		return Agreement{}, fmt.Errorf("%w: handshake: unsupported version %d", wire.ErrProtocolMismatch, ver)
	}
	flags, err := wire.ParseFlags(parts[3], "flags")
	if err != nil {
		return Agreement{}, fmt.Errorf("handshake: %w", err)
	}
	if parts[4] != wire.EncodingUTF8 {
		return Agreement{}, fmt.Errorf("%w: handshake: unsupported encoding %q", wire.ErrProtocolMismatch, parts[4])
	}
	return Agreement{
		Magic:    parts[1],
		Version:  int(ver),
		Flags:    flags,
		Encoding: parts[4],
	}, nil
}

func (h *Handshaker) authenticate(ctx context.Context, cfg Config) error {
	if h.Credentials == nil {
		return fmt.Errorf("%w: device requires credentials", router.ErrAborted)
	}
	creds, err := h.Credentials(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", router.ErrAborted, err)
	}

	msg, err := h.Router.Control(ctx, wire.JoinParts(wire.Auth, creds.User, creds.Password), cfg.HandshakeTimeout)
	if err != nil {
		return fmt.Errorf("authentication: %w", err)
	}
	parts := msg.Parts()
	switch parts[0] {
	case wire.AuthOK:
		return nil
	case wire.AuthFailed:
		return fmt.Errorf("%w: %s", ErrAuthenticationFailed, strings.Join(parts[1:], string(wire.Separator)))
	default:
		return fmt.Errorf("%w: expected %s, got %q", wire.ErrProtocolMismatch, wire.AuthOK, parts[0])
	}
}
