package wire

import (
	"strconv"
	"strings"
)

// ControlChannel is the channel reserved for handshake, ping and disconnect.
const ControlChannel uint32 = 0

// Separator separates the parts of a payload.
const Separator = ':'

const escapeChar = '\\'

// Message is a decoded OPDI message.
type Message struct {
	// Channel multiplexes the message within the stream.
	Channel uint32

	// Payload is the raw payload with escapes intact.
	Payload string
}

// NewMessage builds a message from unescaped parts.
func NewMessage(channel uint32, parts ...string) Message {
	return Message{Channel: channel, Payload: JoinParts(parts...)}
}

// Parts splits the payload into its unescaped parts.
func (m Message) Parts() []string {
	return SplitParts(m.Payload)
}

// Magic returns the first part of the payload, which identifies the
// message kind.
func (m Message) Magic() string {
	parts := SplitParts(m.Payload)
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}

// IsControl reports whether the message travels on the control channel.
func (m Message) IsControl() bool {
	return m.Channel == ControlChannel
}

// String returns the unchecksummed line form of the message.
func (m Message) String() string {
	return strconv.FormatUint(uint64(m.Channel), 10) + string(Separator) + m.Payload
}

// EscapePart escapes separators and escape characters in a single part.
func EscapePart(part string) string {
	if !strings.ContainsAny(part, `:\`) {
		return part
	}
	var b strings.Builder
	b.Grow(len(part) + 4)
	for i := 0; i < len(part); i++ {
		c := part[i]
		if c == Separator || c == escapeChar {
			b.WriteByte(escapeChar)
		}
		b.WriteByte(c)
	}
	return b.String()
}

// JoinParts escapes each part and joins them with the separator.
func JoinParts(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = EscapePart(p)
	}
	return strings.Join(escaped, string(Separator))
}

// SplitParts splits a payload on unescaped separators and removes escapes.
// An empty payload yields a single empty part.
func SplitParts(payload string) []string {
	if !strings.ContainsRune(payload, escapeChar) {
		return strings.Split(payload, string(Separator))
	}

	var parts []string
	var cur strings.Builder
	for i := 0; i < len(payload); i++ {
		c := payload[i]
		switch {
		case c == escapeChar && i+1 < len(payload):
			i++
			cur.WriteByte(payload[i])
		case c == Separator:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	return append(parts, cur.String())
}
