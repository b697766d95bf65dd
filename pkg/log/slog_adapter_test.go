package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"
)

func logOne(t *testing.T, event Event) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	NewSlogAdapter(slog.New(handler)).Log(event)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output %q: %v", buf.String(), err)
	}
	return entry
}

func TestSlogAdapterLine(t *testing.T) {
	entry := logOne(t, Event{
		Timestamp:     time.Now(),
		ConnectionID:  "conn-123",
		Direction:     DirectionIn,
		Layer:         LayerTransport,
		DeviceAddress: "/dev/ttyUSB0@9600",
		Line:          NewLineEvent("3:PS:D1:3:1"),
	})

	if entry["msg"] != "protocol" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["level"] != "DEBUG" {
		t.Errorf("level = %v", entry["level"])
	}
	if entry["conn_id"] != "conn-123" || entry["direction"] != "IN" || entry["layer"] != "TRANSPORT" {
		t.Errorf("header attrs = %v", entry)
	}
	if entry["address"] != "/dev/ttyUSB0@9600" {
		t.Errorf("address = %v", entry["address"])
	}
	if entry["line"] != "3:PS:D1:3:1" || entry["size"] != float64(11) {
		t.Errorf("line attrs = %v / %v", entry["line"], entry["size"])
	}
	if _, ok := entry["truncated"]; ok {
		t.Error("truncated attr present for a short line")
	}
}

func TestSlogAdapterMessage(t *testing.T) {
	elapsed := 2 * time.Millisecond
	entry := logOne(t, Event{
		Layer:   LayerWire,
		Message: &MessageEvent{Channel: 7, Magic: "PV", Payload: "PV:A1:512", Elapsed: &elapsed},
	})
	if entry["channel"] != float64(7) || entry["magic"] != "PV" || entry["payload"] != "PV:A1:512" {
		t.Errorf("message attrs = %v", entry)
	}
	if entry["elapsed"] != float64(elapsed) {
		t.Errorf("elapsed = %v", entry["elapsed"])
	}
}

func TestSlogAdapterStateControlError(t *testing.T) {
	entry := logOne(t, Event{
		Category:    CategoryState,
		StateChange: &StateChangeEvent{Entity: StateEntityDevice, OldState: "CONNECTED", NewState: "DISCONNECTED", Reason: "ping timeout"},
	})
	if entry["entity"] != "DEVICE" || entry["new_state"] != "DISCONNECTED" || entry["reason"] != "ping timeout" {
		t.Errorf("state attrs = %v", entry)
	}

	entry = logOne(t, Event{Category: CategoryControl, ControlMsg: &ControlMsgEvent{Type: ControlMsgDebug, Text: "hello"}})
	if entry["ctrl_type"] != "DEBUG" || entry["text"] != "hello" {
		t.Errorf("control attrs = %v", entry)
	}

	code := 2
	entry = logOne(t, Event{Category: CategoryError, Error: &ErrorEventData{Layer: LayerSession, Message: "boom", Code: &code}})
	if entry["error_layer"] != "SESSION" || entry["error_msg"] != "boom" || entry["error_code"] != float64(2) {
		t.Errorf("error attrs = %v", entry)
	}
}

func TestSlogAdapterRedactsAuth(t *testing.T) {
	entry := logOne(t, Event{
		Direction: DirectionOut,
		Layer:     LayerWire,
		Message:   &MessageEvent{Channel: 0, Magic: "Auth", Payload: "Auth:admin:secret"},
	})
	if entry["payload"] != "Auth:admin:"+Redacted {
		t.Errorf("payload = %v", entry["payload"])
	}
}
