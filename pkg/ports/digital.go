package ports

import (
	"context"
	"fmt"

	"github.com/leomeyer/OPDI-deprecated/pkg/wire"
)

// Digital port capability flags.
const (
	FlagHasPullup   uint32 = 0x01
	FlagHasPulldown uint32 = 0x02
)

// DigitalMode is the configuration of a digital port.
type DigitalMode uint8

const (
	ModeInputFloating DigitalMode = iota
	ModeInputPullup
	ModeInputPulldown
	ModeOutput
)

// DigitalModeCount is the number of digital modes.
const DigitalModeCount = 4

// String returns the mode name.
func (m DigitalMode) String() string {
	switch m {
	case ModeInputFloating:
		return "INPUT_FLOATING"
	case ModeInputPullup:
		return "INPUT_PULLUP"
	case ModeInputPulldown:
		return "INPUT_PULLDOWN"
	case ModeOutput:
		return "OUTPUT"
	default:
		return "UNKNOWN"
	}
}

// IsInput reports whether m is one of the input modes.
func (m DigitalMode) IsInput() bool {
	return m == ModeInputFloating || m == ModeInputPullup || m == ModeInputPulldown
}

// DigitalLine is the logic level of a digital port.
type DigitalLine uint8

const (
	LineLow DigitalLine = iota
	LineHigh
)

// DigitalLineCount is the number of line levels.
const DigitalLineCount = 2

// String returns the line name.
func (l DigitalLine) String() string {
	switch l {
	case LineLow:
		return "LOW"
	case LineHigh:
		return "HIGH"
	default:
		return "UNKNOWN"
	}
}

// DigitalState is the state tuple of a digital port.
type DigitalState struct {
	Mode DigitalMode
	Line DigitalLine
}

// Digital is a digital I/O pin.
type Digital struct {
	base
	backend Backend

	mode *DigitalMode
	line *DigitalLine
}

// NewDigital creates a digital port.
func NewDigital(backend Backend, info Info) *Digital {
	d := &Digital{backend: backend}
	d.init(info, KindDigital)
	return d
}

// HasPullup reports whether the port supports INPUT_PULLUP.
func (d *Digital) HasPullup() bool { return d.info.Flags&FlagHasPullup != 0 }

// HasPulldown reports whether the port supports INPUT_PULLDOWN.
func (d *Digital) HasPulldown() bool { return d.info.Flags&FlagHasPulldown != 0 }

// CheckMode reports whether mode is permitted for this port.
func (d *Digital) CheckMode(mode DigitalMode) error {
	switch {
	case mode >= DigitalModeCount:
		return d.invalidf("unknown digital mode %d", mode)
	case mode == ModeOutput && d.info.Direction == DirectionInput:
		return d.invalidf("cannot configure input-only digital port for output")
	case mode.IsInput() && d.info.Direction == DirectionOutput:
		return d.invalidf("cannot configure output-only digital port for input")
	case mode == ModeInputPullup && !d.HasPullup():
		return d.invalidf("digital port has no pullup")
	case mode == ModeInputPulldown && !d.HasPulldown():
		return d.invalidf("digital port has no pulldown")
	}
	return nil
}

// State returns the cached state, loading it when incomplete.
func (d *Digital) State(ctx context.Context) (DigitalState, error) {
	d.mu.Lock()
	if d.mode != nil && d.line != nil {
		st := DigitalState{Mode: *d.mode, Line: *d.line}
		d.mu.Unlock()
		return st, nil
	}
	d.mu.Unlock()
	return d.Load(ctx)
}

// Load requests the current state from the device.
func (d *Digital) Load(ctx context.Context) (DigitalState, error) {
	gen := d.begin()
	st, err := d.backend.DigitalState(ctx, d.info.ID)
	if err != nil {
		return DigitalState{}, d.fail(err)
	}
	if err := d.checkReported(st.Mode); err != nil {
		return DigitalState{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gen == gen {
		d.mode, d.line = &st.Mode, &st.Line
	}
	return st, nil
}

// Mode returns the port mode.
func (d *Digital) Mode(ctx context.Context) (DigitalMode, error) {
	d.mu.Lock()
	if d.mode != nil {
		mode := *d.mode
		d.mu.Unlock()
		return mode, nil
	}
	d.mu.Unlock()
	st, err := d.Load(ctx)
	return st.Mode, err
}

// Line returns the line level.
func (d *Digital) Line(ctx context.Context) (DigitalLine, error) {
	d.mu.Lock()
	if d.line != nil {
		line := *d.line
		d.mu.Unlock()
		return line, nil
	}
	d.mu.Unlock()
	st, err := d.Load(ctx)
	return st.Line, err
}

// SetMode configures the port. The mode reported by the device is cached.
func (d *Digital) SetMode(ctx context.Context, mode DigitalMode) error {
	if err := d.checkWritable(); err != nil {
		return err
	}
	if err := d.CheckMode(mode); err != nil {
		return err
	}

	gen := d.begin()
	got, err := d.backend.SetDigitalMode(ctx, d.info.ID, mode)
	if err != nil {
		return d.fail(err)
	}
	if err := d.checkReported(got); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gen == gen {
		d.mode = &got
	}
	return nil
}

// SetLine drives the line. The port must be in OUTPUT mode; when the mode
// is not cached it is loaded first.
func (d *Digital) SetLine(ctx context.Context, line DigitalLine) error {
	if err := d.checkWritable(); err != nil {
		return err
	}
	if line >= DigitalLineCount {
		return d.invalidf("unknown line level %d", line)
	}
	if d.info.Direction == DirectionInput {
		return d.invalidf("cannot set line on input-only digital port")
	}
	mode, err := d.Mode(ctx)
	if err != nil {
		return err
	}
	if mode != ModeOutput {
		return d.invalidf("cannot set line on digital port in mode %s", mode)
	}

	gen := d.begin()
	got, err := d.backend.SetDigitalLine(ctx, d.info.ID, line)
	if err != nil {
		return d.fail(err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.gen == gen {
		d.line = &got
	}
	return nil
}

// Refresh drops the cached mode and line.
func (d *Digital) Refresh() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.invalidate()
	d.mode, d.line = nil, nil
}

// checkReported rejects a device-reported mode the port cannot be in.
func (d *Digital) checkReported(mode DigitalMode) error {
	if err := d.CheckMode(mode); err != nil {
		return fmt.Errorf("%w: port %s: device reported mode %s", wire.ErrProtocolMismatch, d.info.ID, mode)
	}
	return nil
}

func (d *Digital) String() string {
	return fmt.Sprintf("DigitalPort id=%s name=%q dir=%s flags=%#x", d.info.ID, d.info.Name, d.info.Direction, d.info.Flags)
}
