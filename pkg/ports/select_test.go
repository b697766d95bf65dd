package ports

import (
	"context"
	"errors"
	"testing"

	"github.com/leomeyer/OPDI-deprecated/pkg/wire"
)

func TestSelectPositionInvariant(t *testing.T) {
	ctx := context.Background()
	be := newFakeBackend()
	s := NewSelect(be, Info{ID: "S1", Direction: DirectionOutput}, 3)

	if err := s.SetPosition(ctx, 3); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("SetPosition(3) of 3 = %v, want ErrInvalidArgument", err)
	}
	if be.total() != 0 {
		t.Errorf("backend called: %v", be.calls)
	}
	if err := s.SetPosition(ctx, 2); err != nil {
		t.Fatalf("SetPosition(2) = %v", err)
	}
	pos, err := s.Position(ctx)
	if err != nil || pos != 2 {
		t.Errorf("Position() = %d, %v", pos, err)
	}
	if be.count("gP") != 0 {
		t.Error("Position() requested state despite cached answer")
	}

	be.selPos = 5
	s.Refresh()
	if _, err := s.Position(ctx); !errors.Is(err, wire.ErrProtocolMismatch) {
		t.Errorf("Position() with reported 5 of 3 = %v, want ErrProtocolMismatch", err)
	}
}

func TestSelectLabels(t *testing.T) {
	ctx := context.Background()
	be := newFakeBackend()
	s := NewSelect(be, Info{ID: "S1"}, 3)

	labels, err := s.Labels(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"Off", "Low", "High"}
	for i := range want {
		if labels[i] != want[i] {
			t.Errorf("Labels() = %v, want %v", labels, want)
			break
		}
	}
	if label, _ := s.Label(ctx, 1); label != "Low" {
		t.Errorf("Label(1) = %q", label)
	}
	if n := be.count("gL"); n != 3 {
		t.Errorf("gL calls = %d, want 3 (labels cached)", n)
	}
	if _, err := s.Label(ctx, 3); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Label(3) = %v", err)
	}

	s.Refresh()
	s.Label(ctx, 0)
	if n := be.count("gL"); n != 4 {
		t.Errorf("gL calls after refresh = %d, want 4", n)
	}
}
