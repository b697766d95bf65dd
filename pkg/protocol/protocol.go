package protocol

import (
	"context"
	"errors"
	"fmt"

	"github.com/leomeyer/OPDI-deprecated/pkg/ports"
	"github.com/leomeyer/OPDI-deprecated/pkg/router"
	"github.com/leomeyer/OPDI-deprecated/pkg/version"
	"github.com/leomeyer/OPDI-deprecated/pkg/wire"
)

// Protocol magics and versions.
const (
	MagicBasic    = "BP"
	MagicExtended = "EP"

	// Version is the protocol version the master prefers.
	Version = version.Protocol
)

// Session errors.
var (
	// ErrUnsupportedProtocol indicates a device magic with no registered
	// constructor.
	ErrUnsupportedProtocol = errors.New("unsupported protocol")

	// ErrAuthenticationFailed indicates that the device rejected the
	// credentials.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrHandshakeRejected indicates a Disagreement answer. It is always
	// reported together with wire.ErrProtocolMismatch.
	ErrHandshakeRejected = errors.New("handshake rejected")

	// ErrUnknownPort indicates a port ID the device did not declare.
	ErrUnknownPort = errors.New("unknown port")

	// ErrDeviceDisconnected is the close cause when the device sends Dis.
	// It matches router.ErrDisconnected.
	ErrDeviceDisconnected = fmt.Errorf("%w by device", router.ErrDisconnected)

	// ErrKeepaliveTimeout is the close cause when the device stays silent
	// past the ping timeout. It matches router.ErrDisconnected.
	ErrKeepaliveTimeout = fmt.Errorf("%w: keepalive timeout", router.ErrDisconnected)
)

// State is the session state.
type State uint8

const (
	StateInit State = iota
	StateAwaitMagic
	StateAwaitAuth
	StateBound
	StateTerminating
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateAwaitMagic:
		return "AWAIT_MAGIC"
	case StateAwaitAuth:
		return "AWAIT_AUTH"
	case StateBound:
		return "BOUND"
	case StateTerminating:
		return "TERMINATING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Agreement holds the parameters the device answered in the handshake.
type Agreement struct {
	Magic     string
	Version   int
	Flags     uint32
	Encoding  string
	Checksums bool
}

// AuthRequired reports whether the device asked for credentials.
func (a Agreement) AuthRequired() bool {
	return a.Flags&wire.FlagAuthRequired != 0
}

// Events receives unsolicited control messages from the device. The
// methods run on the reader goroutine and must not block on device I/O.
type Events interface {
	OnDebug(text string)
	OnDeviceError(text string)
	OnReconfigure()
	OnRefresh(portIDs []string)
}

// NopEvents ignores every event. Embed it to implement a subset.
type NopEvents struct{}

func (NopEvents) OnDebug(string)       {}
func (NopEvents) OnDeviceError(string) {}
func (NopEvents) OnReconfigure()       {}
func (NopEvents) OnRefresh([]string)   {}

// Session is what a Constructor receives to build a protocol.
type Session struct {
	Router    *router.Router
	Config    Config
	Agreement Agreement
	Events    Events
	Capture   Capture
}

// Protocol is a bound protocol variant.
type Protocol interface {
	ports.Backend

	// Magic returns the protocol magic.
	Magic() string

	// Agreement returns the handshake parameters.
	Agreement() Agreement

	// State returns the session state.
	State() State

	// Initiate takes over the control channel and starts the keepalive.
	Initiate()

	// Capabilities returns the declared ports, loading them once.
	Capabilities(ctx context.Context) (*ports.Capabilities, error)

	// FindPort returns the port with the given ID.
	FindPort(ctx context.Context, id string) (ports.Port, error)

	// Disconnect sends Dis and closes the session. Later calls are no-ops.
	Disconnect() error
}

// DeviceInformer is implemented by protocols that report device
// information.
type DeviceInformer interface {
	DeviceInfo(ctx context.Context) (map[string]string, error)
}
