package wire

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
)

// Codec errors.
var (
	// ErrMalformed indicates a line that cannot be decoded into a message.
	ErrMalformed = errors.New("malformed message")

	// ErrProtocolMismatch indicates a well-framed message whose content
	// does not match what the protocol expects.
	ErrProtocolMismatch = errors.New("protocol mismatch")
)

// ChecksumDigits is the number of hex digits in a checksum.
const ChecksumDigits = 4

// Checksum returns the unsigned 16-bit sum of all bytes in s.
func Checksum(s string) uint16 {
	var sum uint16
	for i := 0; i < len(s); i++ {
		sum += uint16(s[i])
	}
	return sum
}

// FormatChecksum renders a checksum as four uppercase hex digits.
func FormatChecksum(sum uint16) string {
	return fmt.Sprintf("%04X", sum)
}

// Codec encodes and decodes message lines. The checksum mode is negotiated
// during the handshake and may be switched while the codec is in use.
type Codec struct {
	checksums atomic.Bool
}

// NewCodec creates a codec with checksums initially disabled.
func NewCodec() *Codec {
	return &Codec{}
}

// SetChecksums enables or disables checksums for subsequent messages.
func (c *Codec) SetChecksums(enabled bool) {
	c.checksums.Store(enabled)
}

// Checksums reports whether checksums are enabled.
func (c *Codec) Checksums() bool {
	return c.checksums.Load()
}

// Encode renders a message as a line without the terminator.
func (c *Codec) Encode(m Message) string {
	body := m.String()
	if !c.checksums.Load() {
		return body
	}
	return FormatChecksum(Checksum(body)) + string(Separator) + body
}

// Decode parses a line (without terminator) into a message. Only the
// canonical form Encode produces is accepted: uppercase checksum digits
// and a channel without leading zeros.
func (c *Codec) Decode(line string) (Message, error) {
	body := line
	if c.checksums.Load() {
		if len(line) < ChecksumDigits+1 || line[ChecksumDigits] != Separator {
			return Message{}, fmt.Errorf("%w: missing checksum", ErrMalformed)
		}
		want, err := strconv.ParseUint(line[:ChecksumDigits], 16, 16)
		if err != nil || !upperHex(line[:ChecksumDigits]) {
			return Message{}, fmt.Errorf("%w: invalid checksum %q", ErrMalformed, line[:ChecksumDigits])
		}
		body = line[ChecksumDigits+1:]
		if got := Checksum(body); got != uint16(want) {
			return Message{}, fmt.Errorf("%w: checksum mismatch: got %s, want %s",
				ErrMalformed, FormatChecksum(got), FormatChecksum(uint16(want)))
		}
	}
	return decodeBody(body)
}

// decodeBody parses "<channel>:<payload>".
func decodeBody(body string) (Message, error) {
	idx := strings.IndexByte(body, Separator)
	if idx < 0 {
		return Message{}, fmt.Errorf("%w: missing channel separator", ErrMalformed)
	}
	if idx == 0 {
		return Message{}, fmt.Errorf("%w: missing channel", ErrMalformed)
	}
	ch, err := strconv.ParseUint(body[:idx], 10, 32)
	if err != nil {
		return Message{}, fmt.Errorf("%w: non-numeric channel %q", ErrMalformed, body[:idx])
	}
	if idx > 1 && body[0] == '0' {
		return Message{}, fmt.Errorf("%w: leading zero in channel %q", ErrMalformed, body[:idx])
	}
	return Message{Channel: uint32(ch), Payload: body[idx+1:]}, nil
}

func upperHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}
