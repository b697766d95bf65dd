package log

import "time"

// Event represents a protocol capture event at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the connection attempt (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates message flow relative to the master.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// DeviceAddress is the transport address of the device.
	DeviceAddress string `cbor:"6,keyasint,omitempty"`

	// DeviceID is the device identifier, when known.
	DeviceID string `cbor:"7,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Line        *LineEvent        `cbor:"10,keyasint,omitempty"` // Transport layer
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"` // Wire layer (decoded)
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // Device/session state
	ControlMsg  *ControlMsgEvent  `cbor:"13,keyasint,omitempty"` // Control channel traffic
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates a line received from the device.
	DirectionIn Direction = 0
	// DirectionOut indicates a line sent to the device.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which protocol layer captured the event.
type Layer uint8

const (
	// LayerTransport is the line layer (raw text including checksums).
	LayerTransport Layer = 0
	// LayerWire is the decoded message layer (channel and payload).
	LayerWire Layer = 1
	// LayerSession is the handshake and device session layer.
	LayerSession Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerSession:
		return "SESSION"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a protocol message on a request or streaming channel.
	CategoryMessage Category = 0
	// CategoryControl indicates control channel traffic (ping, disconnect, refresh).
	CategoryControl Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryControl:
		return "CONTROL"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// LineEvent captures a raw line at the transport layer.
type LineEvent struct {
	// Size is the line length in bytes, excluding the terminator.
	Size int `cbor:"1,keyasint"`

	// Text is the line content (may be truncated for long lines).
	Text string `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Text was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// MaxLineCapture is the number of bytes of a line kept in a LineEvent.
const MaxLineCapture = 1024

// NewLineEvent builds a LineEvent, truncating text to MaxLineCapture bytes.
func NewLineEvent(text string) *LineEvent {
	ev := &LineEvent{Size: len(text), Text: text}
	if len(text) > MaxLineCapture {
		ev.Text = text[:MaxLineCapture]
		ev.Truncated = true
	}
	return ev
}

// MessageEvent captures a decoded message at the wire layer.
type MessageEvent struct {
	// Channel the message travelled on.
	Channel uint32 `cbor:"1,keyasint"`

	// Magic is the first payload part.
	Magic string `cbor:"2,keyasint,omitempty"`

	// Payload is the full message payload.
	Payload string `cbor:"3,keyasint,omitempty"`

	// Elapsed is the time from request to reply (replies only).
	Elapsed *time.Duration `cbor:"4,keyasint,omitempty"`
}

// StateChangeEvent captures device and session lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityDevice indicates a device status change.
	StateEntityDevice StateEntity = 0
	// StateEntitySession indicates a handshake or session change.
	StateEntitySession StateEntity = 1
	// StateEntityStreaming indicates a streaming port bind or unbind.
	StateEntityStreaming StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityDevice:
		return "DEVICE"
	case StateEntitySession:
		return "SESSION"
	case StateEntityStreaming:
		return "STREAMING"
	default:
		return "UNKNOWN"
	}
}

// ControlMsgEvent captures control channel messages.
type ControlMsgEvent struct {
	// Type of control message.
	Type ControlMsgType `cbor:"1,keyasint"`

	// Text carries the argument of debug, error and refresh messages.
	Text string `cbor:"2,keyasint,omitempty"`
}

// ControlMsgType indicates the type of control message.
type ControlMsgType uint8

const (
	ControlMsgPing ControlMsgType = iota
	ControlMsgDisconnect
	ControlMsgDebug
	ControlMsgError
	ControlMsgReconfigure
	ControlMsgRefresh
)

// String returns the control message type name.
func (c ControlMsgType) String() string {
	switch c {
	case ControlMsgPing:
		return "PING"
	case ControlMsgDisconnect:
		return "DISCONNECT"
	case ControlMsgDebug:
		return "DEBUG"
	case ControlMsgError:
		return "ERROR"
	case ControlMsgReconfigure:
		return "RECONFIGURE"
	case ControlMsgRefresh:
		return "REFRESH"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Code is the device error code (port errors only).
	Code *int `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
