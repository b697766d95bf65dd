package ports

import (
	"context"
	"fmt"

	"github.com/leomeyer/OPDI-deprecated/pkg/wire"
)

// Dial is a stepped value between a minimum and a maximum.
type Dial struct {
	base
	backend Backend

	min, max, step int32
	position       *int32
}

// NewDial creates a dial port. It fails with ErrInvalidArgument unless
// min <= max and step > 0.
func NewDial(backend Backend, info Info, min, max, step int32) (*Dial, error) {
	if min > max {
		return nil, fmt.Errorf("%w: dial %s: min %d above max %d", ErrInvalidArgument, info.ID, min, max)
	}
	if step <= 0 {
		return nil, fmt.Errorf("%w: dial %s: step %d not positive", ErrInvalidArgument, info.ID, step)
	}
	d := &Dial{backend: backend, min: min, max: max, step: step}
	d.init(info, KindDial)
	return d, nil
}

// Min returns the lowest position.
func (d *Dial) Min() int32 { return d.min }

// Max returns the highest position.
func (d *Dial) Max() int32 { return d.max }

// Step returns the distance between valid positions.
func (d *Dial) Step() int32 { return d.step }

// CheckPosition reports whether pos lies within range and on a step.
func (d *Dial) CheckPosition(pos int32) error {
	if pos < d.min || pos > d.max {
		return d.invalidf("position %d outside %d..%d", pos, d.min, d.max)
	}
	if (int64(pos)-int64(d.min))%int64(d.step) != 0 {
		return d.invalidf("position %d not on step %d from %d", pos, d.step, d.min)
	}
	return nil
}

// Position returns the current position.
func (d *Dial) Position(ctx context.Context) (int32, error) {
	d.mu.Lock()
	if d.position != nil {
		pos := *d.position
		d.mu.Unlock()
		return pos, nil
	}
	d.mu.Unlock()
	return d.Load(ctx)
}

// Load requests the current position from the device.
func (d *Dial) Load(ctx context.Context) (int32, error) {
	gen := d.begin()
	pos, err := d.backend.DialPosition(ctx, d.info.ID)
	if err != nil {
		return 0, d.fail(err)
	}
	if err := d.checkReported(pos); err != nil {
		return 0, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gen == gen {
		d.position = &pos
	}
	return pos, nil
}

// SetPosition moves the dial to pos.
func (d *Dial) SetPosition(ctx context.Context, pos int32) error {
	if err := d.checkWritable(); err != nil {
		return err
	}
	if err := d.CheckPosition(pos); err != nil {
		return err
	}

	gen := d.begin()
	got, err := d.backend.SetDialPosition(ctx, d.info.ID, pos)
	if err != nil {
		return d.fail(err)
	}
	if err := d.checkReported(got); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gen == gen {
		d.position = &got
	}
	return nil
}

// Refresh drops the cached position.
func (d *Dial) Refresh() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.invalidate()
	d.position = nil
}

func (d *Dial) checkReported(pos int32) error {
	if d.CheckPosition(pos) != nil {
		return fmt.Errorf("%w: port %s: device reported position %d", wire.ErrProtocolMismatch, d.info.ID, pos)
	}
	return nil
}

func (d *Dial) String() string {
	return fmt.Sprintf("DialPort id=%s name=%q range=%d..%d step=%d", d.info.ID, d.info.Name, d.min, d.max, d.step)
}
