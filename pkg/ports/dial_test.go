package ports

import (
	"context"
	"errors"
	"testing"

	"github.com/leomeyer/OPDI-deprecated/pkg/wire"
)

func TestDial(t *testing.T) {
	ctx := context.Background()

	if _, err := NewDial(newFakeBackend(), Info{ID: "L1"}, 10, 0, 1); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("NewDial(min > max) = %v", err)
	}
	if _, err := NewDial(newFakeBackend(), Info{ID: "L1"}, 0, 10, 0); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("NewDial(step 0) = %v", err)
	}

	be := newFakeBackend()
	d, err := NewDial(be, Info{ID: "L1", Direction: DirectionOutput}, -10, 10, 5)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		pos int32
		ok  bool
	}{
		{-10, true}, {-5, true}, {0, true}, {10, true},
		{-11, false}, {11, false}, {3, false}, {-9, false},
	}
	for _, tt := range tests {
		err := d.SetPosition(ctx, tt.pos)
		if tt.ok && err != nil {
			t.Errorf("SetPosition(%d) = %v", tt.pos, err)
		}
		if !tt.ok && !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("SetPosition(%d) = %v, want ErrInvalidArgument", tt.pos, err)
		}
	}
	if n := be.count("sP"); n != 4 {
		t.Errorf("sP calls = %d, want 4", n)
	}
	if pos, _ := d.Position(ctx); pos != 10 {
		t.Errorf("Position() = %d, want 10", pos)
	}

	be.dialPos = 7
	d.Refresh()
	if _, err := d.Position(ctx); !errors.Is(err, wire.ErrProtocolMismatch) {
		t.Errorf("Position() with off-step report = %v, want ErrProtocolMismatch", err)
	}
}
