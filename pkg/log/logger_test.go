package log

import (
	"testing"
	"time"
)

func TestRedactCredentials(t *testing.T) {
	tests := []struct {
		name        string
		event       Event
		wantLine    string
		wantPayload string
	}{
		{
			name:     "plain line",
			event:    Event{Direction: DirectionOut, Line: NewLineEvent("0:Auth:admin:secret")},
			wantLine: "0:Auth:admin:" + Redacted,
		},
		{
			name:     "checksummed line keeps prefix",
			event:    Event{Direction: DirectionOut, Line: NewLineEvent("0A1B:0:Auth:admin:s:e:c")},
			wantLine: "0A1B:0:Auth:admin:" + Redacted,
		},
		{
			name: "message",
			event: Event{
				Direction: DirectionOut,
				Message:   &MessageEvent{Channel: 0, Magic: "Auth", Payload: "Auth:admin:secret"},
			},
			wantPayload: "Auth:admin:" + Redacted,
		},
		{
			name:     "incoming untouched",
			event:    Event{Direction: DirectionIn, Line: NewLineEvent("0:Auth:admin:secret")},
			wantLine: "0:Auth:admin:secret",
		},
		{
			name:     "auth without password",
			event:    Event{Direction: DirectionOut, Line: NewLineEvent("0:Auth:admin")},
			wantLine: "0:Auth:admin",
		},
		{
			name:     "port named Auth",
			event:    Event{Direction: DirectionOut, Line: NewLineEvent("1:gDPS:Auth")},
			wantLine: "1:gDPS:Auth",
		},
		{
			name: "other message",
			event: Event{
				Direction: DirectionOut,
				Message:   &MessageEvent{Channel: 1, Magic: "sDL", Payload: "sDL:D1:1"},
			},
			wantPayload: "sDL:D1:1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RedactCredentials(tt.event)
			if tt.wantLine != "" {
				if got.Line == nil || got.Line.Text != tt.wantLine {
					t.Errorf("Line = %+v, want %q", got.Line, tt.wantLine)
				}
				if got.Line.Size != tt.event.Line.Size {
					t.Errorf("Size = %d, want original %d", got.Line.Size, tt.event.Line.Size)
				}
			}
			if tt.wantPayload != "" && (got.Message == nil || got.Message.Payload != tt.wantPayload) {
				t.Errorf("Message = %+v, want payload %q", got.Message, tt.wantPayload)
			}
		})
	}
}

func TestRedactCredentialsCopies(t *testing.T) {
	msg := &MessageEvent{Magic: "Auth", Payload: "Auth:admin:secret"}
	line := NewLineEvent("0:Auth:admin:secret")
	RedactCredentials(Event{Timestamp: time.Now(), Direction: DirectionOut, Message: msg, Line: line})

	if msg.Payload != "Auth:admin:secret" || line.Text != "0:Auth:admin:secret" {
		t.Errorf("caller's event modified: %q / %q", msg.Payload, line.Text)
	}
}

func TestNoopLogger(t *testing.T) {
	var l Logger = NoopLogger{}
	l.Log(Event{ConnectionID: "ignored"})
}
