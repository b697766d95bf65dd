package ports

import (
	"context"
	"errors"
	"testing"

	"github.com/leomeyer/OPDI-deprecated/pkg/wire"
)

func TestAnalogValueBelowResolution(t *testing.T) {
	ctx := context.Background()
	be := newFakeBackend()
	a := NewAnalog(be, Info{ID: "A1", Direction: DirectionBidi})

	if err := a.SetValue(ctx, 1023); err != nil {
		t.Fatalf("SetValue(1023) at 10 bits = %v", err)
	}
	if err := a.SetValue(ctx, 1024); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("SetValue(1024) at 10 bits = %v, want ErrInvalidArgument", err)
	}

	if err := a.SetResolution(ctx, 8); err != nil {
		t.Fatalf("SetResolution(8) = %v", err)
	}
	v, err := a.Value(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if v >= 1<<8 {
		t.Errorf("Value() = %d after switching to 8 bits", v)
	}
	if n := be.count("gPS"); n != 2 {
		t.Errorf("gPS calls = %d, want 2 (initial load and reload after resolution change)", n)
	}
}

func TestAnalogRejectsReportedValueOutOfRange(t *testing.T) {
	be := newFakeBackend()
	be.analog = AnalogState{Resolution: 8, Value: 300}
	a := NewAnalog(be, Info{ID: "A1", Direction: DirectionInput})

	if _, err := a.Value(context.Background()); !errors.Is(err, wire.ErrProtocolMismatch) {
		t.Errorf("Value() = %v, want ErrProtocolMismatch", err)
	}

	be.analog = AnalogState{Resolution: 8, Value: 10}
	reply := uint16(400)
	be.valueReply = &reply
	b := NewAnalog(be, Info{ID: "A2", Direction: DirectionOutput})
	if err := b.SetValue(context.Background(), 5); !errors.Is(err, wire.ErrProtocolMismatch) {
		t.Errorf("SetValue with out-of-range answer = %v, want ErrProtocolMismatch", err)
	}
}

func TestAnalogCapabilityFlags(t *testing.T) {
	tests := []struct {
		name   string
		flags  uint32
		bits   uint8
		ref    AnalogReference
		bitsOK bool
		refOK  bool
	}{
		{"no flags accept all", 0, 12, ReferenceExternal, true, true},
		{"below range", 0, 7, ReferenceInternal, false, true},
		{"above range", 0, 13, ReferenceInternal, false, true},
		{"declared resolution", FlagResolution10 | FlagResolution12, 12, ReferenceInternal, true, true},
		{"undeclared resolution", FlagResolution10, 8, ReferenceInternal, false, true},
		{"declared reference", FlagReferenceInternal, 10, ReferenceInternal, true, true},
		{"undeclared reference", FlagReferenceInternal, 10, ReferenceExternal, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewAnalog(newFakeBackend(), Info{ID: "A1", Flags: tt.flags})
			if err := a.CheckResolution(tt.bits); (err == nil) != tt.bitsOK {
				t.Errorf("CheckResolution(%d) = %v", tt.bits, err)
			}
			if err := a.CheckReference(tt.ref); (err == nil) != tt.refOK {
				t.Errorf("CheckReference(%s) = %v", tt.ref, err)
			}
		})
	}
}

func TestAnalogModeDirection(t *testing.T) {
	ctx := context.Background()
	be := newFakeBackend()
	in := NewAnalog(be, Info{ID: "A1", Direction: DirectionInput})
	if err := in.SetMode(ctx, AnalogOutput); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("SetMode(OUTPUT) on input-only = %v", err)
	}
	if err := in.SetValue(ctx, 1); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("SetValue on input-only = %v", err)
	}
	if be.total() != 0 {
		t.Errorf("backend called: %v", be.calls)
	}

	out := NewAnalog(be, Info{ID: "A2", Direction: DirectionOutput})
	if err := out.SetMode(ctx, AnalogOutput); err != nil {
		t.Errorf("SetMode(OUTPUT) = %v", err)
	}
	if err := out.SetReference(ctx, ReferenceExternal); err != nil {
		t.Errorf("SetReference = %v", err)
	}
	ref, err := out.Reference(ctx)
	if err != nil || ref != ReferenceExternal {
		t.Errorf("Reference() = %v, %v", ref, err)
	}
}

func TestAnalogStateAndRefresh(t *testing.T) {
	ctx := context.Background()
	be := newFakeBackend()
	a := NewAnalog(be, Info{ID: "A1", Direction: DirectionBidi})

	st, err := a.State(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st != be.analog {
		t.Errorf("State() = %+v, want %+v", st, be.analog)
	}
	if st.MaxValue() != 1023 {
		t.Errorf("MaxValue() = %d", st.MaxValue())
	}
	a.Mode(ctx)
	a.Resolution(ctx)
	a.Reference(ctx)
	if n := be.count("gPS"); n != 1 {
		t.Errorf("gPS calls = %d, want 1", n)
	}

	a.Refresh()
	a.Value(ctx)
	if n := be.count("gPS"); n != 2 {
		t.Errorf("gPS calls after refresh = %d, want 2", n)
	}
}

func TestAnalogValueRacesResolutionChange(t *testing.T) {
	ctx := context.Background()
	be := newFakeBackend()
	be.analog = AnalogState{Mode: AnalogOutput, Resolution: 12, Reference: ReferenceInternal}
	a := NewAnalog(be, Info{ID: "A1", Direction: DirectionBidi})
	if _, err := a.Load(ctx); err != nil {
		t.Fatal(err)
	}

	// The resolution change completes while the sPV answer is outstanding.
	be.hook = func() {
		be.hook = nil
		if err := a.SetResolution(ctx, 8); err != nil {
			t.Errorf("SetResolution(8) = %v", err)
		}
	}
	if err := a.SetValue(ctx, 4000); err != nil {
		t.Fatalf("SetValue(4000) = %v", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.resolution == nil || *a.resolution != 8 {
		t.Fatalf("cached resolution = %v, want 8", a.resolution)
	}
	if a.value != nil && *a.value > 255 {
		t.Errorf("cached value = %d at 8 bits", *a.value)
	}
}
