package ports

import (
	"errors"
	"fmt"
	"sync"
)

// Port errors.
var (
	// ErrPortError matches a *PortError reported by the device.
	ErrPortError = errors.New("port error")

	// ErrAccessDenied matches an *AccessDeniedError reported by the device.
	ErrAccessDenied = errors.New("port access denied")

	// ErrInvalidArgument indicates a request rejected locally without I/O.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotBound indicates a streaming operation on an unbound port.
	ErrNotBound = errors.New("streaming port not bound")
)

// PortError is a port-scoped error reported by the device. It stays
// attached to the port until the next operation on that port.
type PortError struct {
	PortID  string
	Code    uint8
	Message string
}

func (e *PortError) Error() string {
	return fmt.Sprintf("port %s: error %d: %s", e.PortID, e.Code, e.Message)
}

// Is reports whether target is ErrPortError.
func (e *PortError) Is(target error) bool {
	return target == ErrPortError
}

// AccessDeniedError is returned when the device refuses access to a port.
type AccessDeniedError struct {
	PortID string
	Reason string
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("port %s: access denied: %s", e.PortID, e.Reason)
}

// Is reports whether target is ErrAccessDenied.
func (e *AccessDeniedError) Is(target error) bool {
	return target == ErrAccessDenied
}

// Kind identifies the port variant. The values are the wire ordinals.
type Kind uint8

const (
	KindDigital Kind = iota
	KindAnalog
	KindSelect
	KindDial
	KindStreaming
)

// KindCount is the number of port kinds.
const KindCount = 5

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindDigital:
		return "DIGITAL"
	case KindAnalog:
		return "ANALOG"
	case KindSelect:
		return "SELECT"
	case KindDial:
		return "DIAL"
	case KindStreaming:
		return "STREAMING"
	default:
		return "UNKNOWN"
	}
}

// Direction is the direction capability of a port.
type Direction uint8

const (
	DirectionInput Direction = iota
	DirectionOutput
	DirectionBidi
)

// DirectionCount is the number of directions.
const DirectionCount = 3

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionInput:
		return "INPUT"
	case DirectionOutput:
		return "OUTPUT"
	case DirectionBidi:
		return "BIDI"
	default:
		return "UNKNOWN"
	}
}

// Flags shared by all port kinds.
const (
	// FlagReadOnly marks a port whose state may not be changed by the master.
	FlagReadOnly uint32 = 0x4000

	// FlagTemporary marks a port that may disappear; access to a vanished
	// port yields an access-denied error.
	FlagTemporary uint32 = 0x8000
)

// Info is the header shared by all ports, as reported by the device.
type Info struct {
	ID        string
	Name      string
	Direction Direction
	Flags     uint32
}

// Port is implemented by every port kind.
type Port interface {
	ID() string
	Name() string
	Kind() Kind
	Direction() Direction
	Flags() uint32
	ReadOnly() bool

	// Err returns the error the device reported for the last operation,
	// or nil.
	Err() *PortError

	// Refresh drops all cached state and the attached error.
	Refresh()
}

// base holds the header, the attached error and the cache generation.
// The generation increases on every refresh; a response is only cached
// when the generation is unchanged since the request started.
type base struct {
	info Info
	kind Kind

	mu  sync.Mutex
	err *PortError
	gen uint64
}

func (b *base) init(info Info, kind Kind) {
	b.info = info
	b.kind = kind
}

// ID returns the port identifier, unique on the device.
func (b *base) ID() string { return b.info.ID }

// Name returns the display name.
func (b *base) Name() string { return b.info.Name }

// Kind returns the port variant.
func (b *base) Kind() Kind { return b.kind }

// Direction returns the direction capability.
func (b *base) Direction() Direction { return b.info.Direction }

// Flags returns the raw capability flags.
func (b *base) Flags() uint32 { return b.info.Flags }

// Info returns the port header.
func (b *base) Info() Info { return b.info }

// ReadOnly reports whether the port rejects state changes.
func (b *base) ReadOnly() bool { return b.info.Flags&FlagReadOnly != 0 }

// Temporary reports whether the port may vanish.
func (b *base) Temporary() bool { return b.info.Flags&FlagTemporary != 0 }

// Err returns the attached port error.
func (b *base) Err() *PortError {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// begin clears the attached error and returns the cache generation.
func (b *base) begin() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = nil
	return b.gen
}

// fail attaches err when it is a port error and returns it.
func (b *base) fail(err error) error {
	var pe *PortError
	if errors.As(err, &pe) {
		b.mu.Lock()
		b.err = pe
		b.mu.Unlock()
	}
	return err
}

// invalidate bumps the generation and clears the error. b.mu must be held.
func (b *base) invalidate() {
	b.gen++
	b.err = nil
}

func (b *base) invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: port %s: %s", ErrInvalidArgument, b.info.ID, fmt.Sprintf(format, args...))
}

func (b *base) checkWritable() error {
	if b.ReadOnly() {
		return b.invalidf("port is read-only")
	}
	return nil
}
