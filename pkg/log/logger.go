package log

import "strings"

// Logger receives protocol capture events: raw lines from the transport,
// decoded channel messages from the router and session state from the
// handshake and device layers. Pass nil or NoopLogger to disable capture.
type Logger interface {
	// Log records a protocol event. Implementations must be thread-safe
	// and must not block for long: the reader goroutine calls Log.
	Log(event Event)
}

// NoopLogger discards all events. It is usable as a zero value.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

// Compile-time interface satisfaction check.
var _ Logger = NoopLogger{}

// Redacted replaces the password of a captured Auth message.
const Redacted = "***"

// authMagic mirrors the wire package's Auth magic; the wire layer imports
// this package, not the other way round.
const authMagic = "Auth"

// RedactCredentials returns event with the password of an outgoing
// Auth:<user>:<password> message replaced by Redacted, both in the raw
// line and in the decoded message. Other events are returned unchanged.
// The event's payload structs are copied, never modified.
func RedactCredentials(event Event) Event {
	if event.Direction != DirectionOut {
		return event
	}
	if m := event.Message; m != nil && m.Magic == authMagic {
		c := *m
		c.Payload = redactAuth(c.Payload)
		event.Message = &c
	}
	if l := event.Line; l != nil {
		if i := strings.Index(l.Text, ":"+authMagic+":"); i >= 0 {
			c := *l
			c.Text = l.Text[:i+1] + redactAuth(l.Text[i+1:])
			event.Line = &c
		}
	}
	return event
}

func redactAuth(payload string) string {
	parts := strings.SplitN(payload, ":", 3)
	if len(parts) < 3 || parts[0] != authMagic {
		return payload
	}
	return parts[0] + ":" + parts[1] + ":" + Redacted
}
