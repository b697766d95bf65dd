package ports

import (
	"context"
	"fmt"

	"github.com/leomeyer/OPDI-deprecated/pkg/wire"
)

// Analog port capability flags.
const (
	FlagCanChangeResolution uint32 = 0x01
	FlagResolution8         uint32 = 0x02
	FlagResolution9         uint32 = 0x04
	FlagResolution10        uint32 = 0x08
	FlagResolution11        uint32 = 0x10
	FlagResolution12        uint32 = 0x20
	FlagCanChangeReference  uint32 = 0x200
	FlagReferenceInternal   uint32 = 0x400
	FlagReferenceExternal   uint32 = 0x800

	resolutionFlags = FlagResolution8 | FlagResolution9 | FlagResolution10 | FlagResolution11 | FlagResolution12
	referenceFlags  = FlagReferenceInternal | FlagReferenceExternal
)

// Resolution bounds in bits.
const (
	MinResolution uint8 = 8
	MaxResolution uint8 = 12
)

// AnalogMode is the configuration of an analog port.
type AnalogMode uint8

const (
	AnalogInput AnalogMode = iota
	AnalogOutput
)

// AnalogModeCount is the number of analog modes.
const AnalogModeCount = 2

// String returns the mode name.
func (m AnalogMode) String() string {
	switch m {
	case AnalogInput:
		return "INPUT"
	case AnalogOutput:
		return "OUTPUT"
	default:
		return "UNKNOWN"
	}
}

// AnalogReference selects the reference voltage.
type AnalogReference uint8

const (
	ReferenceInternal AnalogReference = iota
	ReferenceExternal
)

// AnalogReferenceCount is the number of references.
const AnalogReferenceCount = 2

// String returns the reference name.
func (r AnalogReference) String() string {
	switch r {
	case ReferenceInternal:
		return "INTERNAL"
	case ReferenceExternal:
		return "EXTERNAL"
	default:
		return "UNKNOWN"
	}
}

// AnalogState is the state tuple of an analog port.
type AnalogState struct {
	Mode       AnalogMode
	Resolution uint8
	Reference  AnalogReference
	Value      uint16
}

// MaxValue returns the largest value representable at the state's resolution.
func (s AnalogState) MaxValue() uint16 {
	return uint16(1)<<s.Resolution - 1
}

// Analog is an analog input or output.
type Analog struct {
	base
	backend Backend

	mode       *AnalogMode
	resolution *uint8
	reference  *AnalogReference
	value      *uint16
}

// NewAnalog creates an analog port.
func NewAnalog(backend Backend, info Info) *Analog {
	a := &Analog{backend: backend}
	a.init(info, KindAnalog)
	return a
}

// CheckResolution reports whether bits is a resolution the port accepts.
func (a *Analog) CheckResolution(bits uint8) error {
	if bits < MinResolution || bits > MaxResolution {
		return a.invalidf("resolution %d outside %d..%d bits", bits, MinResolution, MaxResolution)
	}
	declared := a.info.Flags & resolutionFlags
	if declared != 0 && declared&resolutionFlag(bits) == 0 {
		return a.invalidf("resolution %d bits not supported", bits)
	}
	return nil
}

// CheckReference reports whether ref is a reference the port accepts.
func (a *Analog) CheckReference(ref AnalogReference) error {
	if ref >= AnalogReferenceCount {
		return a.invalidf("unknown reference %d", ref)
	}
	declared := a.info.Flags & referenceFlags
	if declared == 0 {
		return nil
	}
	want := FlagReferenceInternal
	if ref == ReferenceExternal {
		want = FlagReferenceExternal
	}
	if declared&want == 0 {
		return a.invalidf("reference %s not supported", ref)
	}
	return nil
}

// CheckMode reports whether mode is permitted for this port.
func (a *Analog) CheckMode(mode AnalogMode) error {
	switch {
	case mode >= AnalogModeCount:
		return a.invalidf("unknown analog mode %d", mode)
	case mode == AnalogOutput && a.info.Direction == DirectionInput:
		return a.invalidf("cannot configure input-only analog port for output")
	case mode == AnalogInput && a.info.Direction == DirectionOutput:
		return a.invalidf("cannot configure output-only analog port for input")
	}
	return nil
}

// State returns the cached state, loading it when incomplete.
func (a *Analog) State(ctx context.Context) (AnalogState, error) {
	a.mu.Lock()
	if a.mode != nil && a.resolution != nil && a.reference != nil && a.value != nil {
		st := AnalogState{Mode: *a.mode, Resolution: *a.resolution, Reference: *a.reference, Value: *a.value}
		a.mu.Unlock()
		return st, nil
	}
	a.mu.Unlock()
	return a.Load(ctx)
}

// Load requests the current state from the device.
func (a *Analog) Load(ctx context.Context) (AnalogState, error) {
	gen := a.begin()
	st, err := a.backend.AnalogState(ctx, a.info.ID)
	if err != nil {
		return AnalogState{}, a.fail(err)
	}
	if err := a.checkReported(st); err != nil {
		return AnalogState{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.gen == gen {
		a.mode, a.resolution, a.reference, a.value = &st.Mode, &st.Resolution, &st.Reference, &st.Value
	}
	return st, nil
}

// Mode returns the port mode.
func (a *Analog) Mode(ctx context.Context) (AnalogMode, error) {
	st, err := a.cachedOr(ctx, func() bool { return a.mode != nil })
	return st.Mode, err
}

// Resolution returns the resolution in bits.
func (a *Analog) Resolution(ctx context.Context) (uint8, error) {
	st, err := a.cachedOr(ctx, func() bool { return a.resolution != nil })
	return st.Resolution, err
}

// Reference returns the reference voltage selection.
func (a *Analog) Reference(ctx context.Context) (AnalogReference, error) {
	st, err := a.cachedOr(ctx, func() bool { return a.reference != nil })
	return st.Reference, err
}

// Value returns the current value, always below 2^resolution.
func (a *Analog) Value(ctx context.Context) (uint16, error) {
	st, err := a.cachedOr(ctx, func() bool { return a.value != nil })
	return st.Value, err
}

// cachedOr returns a snapshot of the cache when have reports the wanted
// field present, and loads the full state otherwise. Absent fields of
// the snapshot are zero.
func (a *Analog) cachedOr(ctx context.Context, have func() bool) (AnalogState, error) {
	a.mu.Lock()
	if have() {
		var st AnalogState
		if a.mode != nil {
			st.Mode = *a.mode
		}
		if a.resolution != nil {
			st.Resolution = *a.resolution
		}
		if a.reference != nil {
			st.Reference = *a.reference
		}
		if a.value != nil {
			st.Value = *a.value
		}
		a.mu.Unlock()
		return st, nil
	}
	a.mu.Unlock()
	return a.Load(ctx)
}

// SetMode configures the port.
func (a *Analog) SetMode(ctx context.Context, mode AnalogMode) error {
	if err := a.checkWritable(); err != nil {
		return err
	}
	if err := a.CheckMode(mode); err != nil {
		return err
	}

	gen := a.begin()
	got, err := a.backend.SetAnalogMode(ctx, a.info.ID, mode)
	if err != nil {
		return a.fail(err)
	}
	if got >= AnalogModeCount {
		return a.mismatch("mode %d", got)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.gen == gen {
		a.mode = &got
	}
	return nil
}

// SetResolution changes the resolution. The cached value is dropped
// because the device rescales it.
func (a *Analog) SetResolution(ctx context.Context, bits uint8) error {
	if err := a.checkWritable(); err != nil {
		return err
	}
	if err := a.CheckResolution(bits); err != nil {
		return err
	}

	gen := a.begin()
	got, err := a.backend.SetAnalogResolution(ctx, a.info.ID, bits)
	if err != nil {
		return a.fail(err)
	}
	if got < MinResolution || got > MaxResolution {
		return a.mismatch("resolution %d", got)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.gen == gen {
		a.resolution = &got
		a.value = nil
	}
	return nil
}

// SetReference changes the reference voltage selection.
func (a *Analog) SetReference(ctx context.Context, ref AnalogReference) error {
	if err := a.checkWritable(); err != nil {
		return err
	}
	if err := a.CheckReference(ref); err != nil {
		return err
	}

	gen := a.begin()
	got, err := a.backend.SetAnalogReference(ctx, a.info.ID, ref)
	if err != nil {
		return a.fail(err)
	}
	if got >= AnalogReferenceCount {
		return a.mismatch("reference %d", got)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.gen == gen {
		a.reference = &got
	}
	return nil
}

// SetValue writes an output value. The value must be below 2^resolution;
// the resolution is loaded first when it is not cached.
func (a *Analog) SetValue(ctx context.Context, value uint16) error {
	if err := a.checkWritable(); err != nil {
		return err
	}
	if a.info.Direction == DirectionInput {
		return a.invalidf("cannot set value on input-only analog port")
	}
	bits, err := a.Resolution(ctx)
	if err != nil {
		return err
	}
	limit := uint16(1)<<bits - 1
	if value > limit {
		return a.invalidf("value %d exceeds %d at %d bits", value, limit, bits)
	}

	gen := a.begin()
	got, err := a.backend.SetAnalogValue(ctx, a.info.ID, value)
	if err != nil {
		return a.fail(err)
	}
	if got > limit {
		return a.mismatch("value %d at %d bits", got, bits)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.gen != gen {
		return nil
	}
	// A resolution change that completed meanwhile rescaled the value.
	if a.resolution == nil || *a.resolution != bits {
		a.value = nil
		return nil
	}
	a.value = &got
	return nil
}

// Refresh drops all cached state.
func (a *Analog) Refresh() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.invalidate()
	a.mode, a.resolution, a.reference, a.value = nil, nil, nil, nil
}

func (a *Analog) checkReported(st AnalogState) error {
	switch {
	case st.Mode >= AnalogModeCount:
		return a.mismatch("mode %d", st.Mode)
	case st.Resolution < MinResolution || st.Resolution > MaxResolution:
		return a.mismatch("resolution %d", st.Resolution)
	case st.Reference >= AnalogReferenceCount:
		return a.mismatch("reference %d", st.Reference)
	case st.Value > st.MaxValue():
		return a.mismatch("value %d at %d bits", st.Value, st.Resolution)
	}
	return nil
}

func (a *Analog) mismatch(format string, args ...any) error {
	return fmt.Errorf("%w: port %s: device reported %s", wire.ErrProtocolMismatch, a.info.ID, fmt.Sprintf(format, args...))
}

func (a *Analog) String() string {
	return fmt.Sprintf("AnalogPort id=%s name=%q dir=%s flags=%#x", a.info.ID, a.info.Name, a.info.Direction, a.info.Flags)
}

func resolutionFlag(bits uint8) uint32 {
	return FlagResolution8 << (bits - MinResolution)
}
