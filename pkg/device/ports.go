package device

import (
	"context"
	"fmt"

	"github.com/leomeyer/OPDI-deprecated/pkg/ports"
)

// DigitalPort returns the digital port with the given ID.
func (d *Device) DigitalPort(ctx context.Context, id string) (*ports.Digital, error) {
	return findPort[*ports.Digital](ctx, d, id)
}

// AnalogPort returns the analog port with the given ID.
func (d *Device) AnalogPort(ctx context.Context, id string) (*ports.Analog, error) {
	return findPort[*ports.Analog](ctx, d, id)
}

// SelectPort returns the select port with the given ID.
func (d *Device) SelectPort(ctx context.Context, id string) (*ports.Select, error) {
	return findPort[*ports.Select](ctx, d, id)
}

// DialPort returns the dial port with the given ID.
func (d *Device) DialPort(ctx context.Context, id string) (*ports.Dial, error) {
	return findPort[*ports.Dial](ctx, d, id)
}

// StreamingPort returns the streaming port with the given ID.
func (d *Device) StreamingPort(ctx context.Context, id string) (*ports.Streaming, error) {
	return findPort[*ports.Streaming](ctx, d, id)
}

// BindStreaming binds the streaming port with the given ID. Binding a
// bound port is a no-op.
func (d *Device) BindStreaming(ctx context.Context, id string) (*ports.Streaming, error) {
	s, err := d.StreamingPort(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.Bind(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// UnbindStreaming unbinds the streaming port with the given ID.
func (d *Device) UnbindStreaming(ctx context.Context, id string) error {
	s, err := d.StreamingPort(ctx, id)
	if err != nil {
		return err
	}
	return s.Unbind(ctx)
}

// SendStreamingData sends data on the channel of a bound streaming port.
func (d *Device) SendStreamingData(ctx context.Context, id, data string) error {
	s, err := d.StreamingPort(ctx, id)
	if err != nil {
		return err
	}
	return s.Send(data)
}

func findPort[T ports.Port](ctx context.Context, d *Device, id string) (T, error) {
	var zero T
	p, err := d.FindPort(ctx, id)
	if err != nil {
		return zero, err
	}
	t, ok := p.(T)
	if !ok {
		return zero, fmt.Errorf("%w: port %s is %s", ErrWrongKind, id, p.Kind())
	}
	return t, nil
}
