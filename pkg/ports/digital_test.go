package ports

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/leomeyer/OPDI-deprecated/pkg/wire"
)

func TestDigitalCheckMode(t *testing.T) {
	tests := []struct {
		name    string
		dir     Direction
		flags   uint32
		mode    DigitalMode
		wantErr string
	}{
		{"output on bidi", DirectionBidi, 0, ModeOutput, ""},
		{"output on input-only", DirectionInput, 0, ModeOutput, "input-only"},
		{"floating on output-only", DirectionOutput, 0, ModeInputFloating, "output-only"},
		{"pullup without flag", DirectionBidi, 0, ModeInputPullup, "digital port has no pullup"},
		{"pullup with flag", DirectionInput, FlagHasPullup, ModeInputPullup, ""},
		{"pulldown without flag", DirectionBidi, FlagHasPullup, ModeInputPulldown, "digital port has no pulldown"},
		{"pulldown with flag", DirectionBidi, FlagHasPulldown, ModeInputPulldown, ""},
		{"unknown mode", DirectionBidi, 0, DigitalMode(9), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDigital(newFakeBackend(), Info{ID: "D1", Direction: tt.dir, Flags: tt.flags})
			err := d.CheckMode(tt.mode)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("CheckMode() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidArgument) {
				t.Fatalf("CheckMode() = %v, want ErrInvalidArgument", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("CheckMode() = %q, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestDigitalSetModeRejectsLocallyWithoutIO(t *testing.T) {
	be := newFakeBackend()
	d := NewDigital(be, Info{ID: "D1", Direction: DirectionBidi, Flags: 0})

	err := d.SetMode(context.Background(), ModeInputPullup)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("SetMode() = %v, want ErrInvalidArgument", err)
	}
	if n := be.total(); n != 0 {
		t.Errorf("backend called %d times, want 0", n)
	}
}

func TestDigitalReadOnly(t *testing.T) {
	be := newFakeBackend()
	d := NewDigital(be, Info{ID: "D1", Direction: DirectionBidi, Flags: FlagReadOnly})
	if !d.ReadOnly() {
		t.Fatal("ReadOnly() = false")
	}
	if err := d.SetMode(context.Background(), ModeOutput); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("SetMode on read-only = %v", err)
	}
	if err := d.SetLine(context.Background(), LineHigh); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("SetLine on read-only = %v", err)
	}
	if n := be.total(); n != 0 {
		t.Errorf("backend called %d times, want 0", n)
	}
}

func TestDigitalSetLine(t *testing.T) {
	ctx := context.Background()

	t.Run("output mode", func(t *testing.T) {
		be := newFakeBackend()
		d := NewDigital(be, Info{ID: "D1", Direction: DirectionBidi})
		if err := d.SetMode(ctx, ModeOutput); err != nil {
			t.Fatal(err)
		}
		if err := d.SetLine(ctx, LineHigh); err != nil {
			t.Fatalf("SetLine() = %v", err)
		}
		line, err := d.Line(ctx)
		if err != nil || line != LineHigh {
			t.Errorf("Line() = %v, %v", line, err)
		}
		if n := be.count("gPS"); n != 0 {
			t.Errorf("gPS calls = %d, want 0", n)
		}
	})

	t.Run("input mode rejected", func(t *testing.T) {
		be := newFakeBackend()
		be.digital.Mode = ModeInputFloating
		d := NewDigital(be, Info{ID: "D1", Direction: DirectionBidi})
		if _, err := d.Mode(ctx); err != nil {
			t.Fatal(err)
		}
		if err := d.SetLine(ctx, LineHigh); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("SetLine() = %v, want ErrInvalidArgument", err)
		}
		if n := be.count("sPL"); n != 0 {
			t.Errorf("sPL sent %d times", n)
		}
	})

	t.Run("unknown mode loads state first", func(t *testing.T) {
		be := newFakeBackend()
		d := NewDigital(be, Info{ID: "D1", Direction: DirectionOutput})
		if err := d.SetLine(ctx, LineHigh); err != nil {
			t.Fatalf("SetLine() = %v", err)
		}
		if be.count("gPS") != 1 || be.count("sPL") != 1 {
			t.Errorf("calls = %v", be.calls)
		}
	})

	t.Run("input-only rejected", func(t *testing.T) {
		be := newFakeBackend()
		d := NewDigital(be, Info{ID: "D1", Direction: DirectionInput})
		if err := d.SetLine(ctx, LineHigh); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("SetLine() = %v", err)
		}
		if be.total() != 0 {
			t.Errorf("backend called: %v", be.calls)
		}
	})
}

func TestDigitalPortErrorAttachedAndCleared(t *testing.T) {
	ctx := context.Background()
	be := newFakeBackend()
	d := NewDigital(be, Info{ID: "D1", Direction: DirectionBidi})

	be.err = &PortError{PortID: "D1", Code: 2, Message: "busy"}
	err := d.SetMode(ctx, ModeOutput)
	if !errors.Is(err, ErrPortError) {
		t.Fatalf("SetMode() = %v, want ErrPortError", err)
	}
	var pe *PortError
	if !errors.As(err, &pe) || pe.Code != 2 || pe.Message != "busy" {
		t.Errorf("error = %#v", err)
	}
	if got := d.Err(); got == nil || got.Code != 2 || got.Message != "busy" {
		t.Errorf("Err() = %+v, want {2 busy}", got)
	}

	if err := d.SetMode(ctx, ModeOutput); err != nil {
		t.Fatalf("second SetMode() = %v", err)
	}
	if got := d.Err(); got != nil {
		t.Errorf("Err() after successful operation = %+v", got)
	}
}

func TestDigitalAccessDeniedNotAttached(t *testing.T) {
	be := newFakeBackend()
	d := NewDigital(be, Info{ID: "D1", Direction: DirectionBidi})
	be.err = &AccessDeniedError{PortID: "D1", Reason: "locked"}

	_, err := d.Mode(context.Background())
	if !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("Mode() = %v, want ErrAccessDenied", err)
	}
	if d.Err() != nil {
		t.Errorf("Err() = %+v, want nil", d.Err())
	}
}

func TestDigitalCachesDeviceAnswer(t *testing.T) {
	ctx := context.Background()
	be := newFakeBackend()
	d := NewDigital(be, Info{ID: "D1", Direction: DirectionBidi, Flags: FlagHasPullup})

	substituted := ModeInputFloating
	be.modeReply = &substituted
	if err := d.SetMode(ctx, ModeInputPullup); err != nil {
		t.Fatal(err)
	}
	mode, _ := d.Mode(ctx)
	if mode != ModeInputFloating {
		t.Errorf("Mode() = %v, want device answer INPUT_FLOATING", mode)
	}
}

func TestDigitalRejectsImpossibleReportedMode(t *testing.T) {
	be := newFakeBackend()
	be.digital.Mode = ModeOutput
	d := NewDigital(be, Info{ID: "D1", Direction: DirectionInput})

	if _, err := d.Mode(context.Background()); !errors.Is(err, wire.ErrProtocolMismatch) {
		t.Errorf("Mode() = %v, want ErrProtocolMismatch", err)
	}
}

func TestDigitalRefreshTriggersOneStateRequest(t *testing.T) {
	ctx := context.Background()
	be := newFakeBackend()
	d := NewDigital(be, Info{ID: "D1", Direction: DirectionBidi})

	if _, err := d.Mode(ctx); err != nil {
		t.Fatal(err)
	}
	d.Mode(ctx)
	d.Line(ctx)
	if n := be.count("gPS"); n != 1 {
		t.Fatalf("gPS calls before refresh = %d, want 1", n)
	}

	d.Refresh()
	d.Mode(ctx)
	d.Line(ctx)
	if n := be.count("gPS"); n != 2 {
		t.Errorf("gPS calls after refresh = %d, want 2", n)
	}
}

func TestDigitalRefreshWinsOverInflightResponse(t *testing.T) {
	ctx := context.Background()
	be := newFakeBackend()
	d := NewDigital(be, Info{ID: "D1", Direction: DirectionBidi})

	be.hook = func() {
		be.hook = nil
		d.Refresh()
	}
	if _, err := d.Mode(ctx); err != nil {
		t.Fatal(err)
	}
	// The response raced with a refresh, so it was not cached.
	d.Mode(ctx)
	if n := be.count("gPS"); n != 2 {
		t.Errorf("gPS calls = %d, want 2", n)
	}
}

func TestEnumNames(t *testing.T) {
	if ModeInputPulldown.String() != "INPUT_PULLDOWN" || LineHigh.String() != "HIGH" {
		t.Error("digital names")
	}
	if KindStreaming.String() != "STREAMING" || DirectionBidi.String() != "BIDI" || Kind(9).String() != "UNKNOWN" {
		t.Error("kind/direction names")
	}
	if AnalogOutput.String() != "OUTPUT" || ReferenceExternal.String() != "EXTERNAL" {
		t.Error("analog names")
	}
}
