package log

import (
	"io"
	"path/filepath"
	"testing"
	"time"
)

func createTestLogFile(t *testing.T, events []Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test"+FileExtension)

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create test log: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	logger.Close()
	return path
}

func readAll(t *testing.T, r *Reader) []Event {
	t.Helper()
	var out []Event
	for {
		ev, err := r.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		out = append(out, ev)
	}
}

func TestFilteredReader(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []Event{
		{Timestamp: base, ConnectionID: "c1", Direction: DirectionOut, Layer: LayerWire, Category: CategoryMessage,
			DeviceAddress: "dev-a", Message: &MessageEvent{Channel: 1, Magic: "gDC"}},
		{Timestamp: base.Add(time.Second), ConnectionID: "c1", Direction: DirectionIn, Layer: LayerWire, Category: CategoryMessage,
			DeviceAddress: "dev-a", Message: &MessageEvent{Channel: 1, Magic: "DC"}},
		{Timestamp: base.Add(2 * time.Second), ConnectionID: "c2", Direction: DirectionIn, Layer: LayerWire, Category: CategoryControl,
			DeviceAddress: "dev-b", Message: &MessageEvent{Channel: 0, Magic: "Ping"}},
		{Timestamp: base.Add(3 * time.Second), ConnectionID: "c2", Direction: DirectionIn, Layer: LayerSession, Category: CategoryState,
			DeviceAddress: "dev-b", StateChange: &StateChangeEvent{NewState: "DISCONNECTED"}},
	}
	path := createTestLogFile(t, events)

	in := DirectionIn
	wire := LayerWire
	state := CategoryState
	ch1 := uint32(1)
	start := base.Add(time.Second)
	end := base.Add(3 * time.Second)

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{"all", Filter{}, 4},
		{"connection", Filter{ConnectionID: "c1"}, 2},
		{"address", Filter{DeviceAddress: "dev-b"}, 2},
		{"direction", Filter{Direction: &in}, 3},
		{"layer", Filter{Layer: &wire}, 3},
		{"category", Filter{Category: &state}, 1},
		{"channel", Filter{Channel: &ch1}, 2},
		{"time window", Filter{TimeStart: &start, TimeEnd: &end}, 2},
		{"combined", Filter{ConnectionID: "c1", Direction: &in}, 1},
		{"no match", Filter{ConnectionID: "nope"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewFilteredReader(path, tt.filter)
			if err != nil {
				t.Fatalf("NewFilteredReader failed: %v", err)
			}
			defer r.Close()
			if got := len(readAll(t, r)); got != tt.want {
				t.Errorf("got %d events, want %d", got, tt.want)
			}
		})
	}
}

func TestReaderHandlesEmptyFile(t *testing.T) {
	path := createTestLogFile(t, nil)
	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer r.Close()
	if _, err := r.Next(); err != io.EOF {
		t.Errorf("Next on empty file = %v, want io.EOF", err)
	}
}

func TestNewReaderMissingFile(t *testing.T) {
	if _, err := NewReader(filepath.Join(t.TempDir(), "absent.olog")); err == nil {
		t.Error("expected error for missing file")
	}
}
