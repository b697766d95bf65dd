package ports

import "context"

// Backend performs the device requests behind port operations. The
// protocol implementation provides it. Methods return the state the
// device reported; a device-reported port error is returned as
// *PortError and an access refusal as *AccessDeniedError.
type Backend interface {
	DigitalState(ctx context.Context, id string) (DigitalState, error)
	SetDigitalMode(ctx context.Context, id string, mode DigitalMode) (DigitalMode, error)
	SetDigitalLine(ctx context.Context, id string, line DigitalLine) (DigitalLine, error)

	AnalogState(ctx context.Context, id string) (AnalogState, error)
	SetAnalogMode(ctx context.Context, id string, mode AnalogMode) (AnalogMode, error)
	SetAnalogValue(ctx context.Context, id string, value uint16) (uint16, error)
	SetAnalogResolution(ctx context.Context, id string, bits uint8) (uint8, error)
	SetAnalogReference(ctx context.Context, id string, ref AnalogReference) (AnalogReference, error)

	SelectPosition(ctx context.Context, id string) (uint16, error)
	SetSelectPosition(ctx context.Context, id string, pos uint16) (uint16, error)
	SelectLabel(ctx context.Context, id string, pos uint16) (string, error)

	DialPosition(ctx context.Context, id string) (int32, error)
	SetDialPosition(ctx context.Context, id string, pos int32) (int32, error)

	// BindStreaming binds the port and returns the channel assigned by
	// the device. Inbound data must be delivered through port.Deliver.
	BindStreaming(ctx context.Context, port *Streaming) (uint32, error)
	UnbindStreaming(ctx context.Context, port *Streaming) error
	SendStreaming(port *Streaming, data string) error
}
