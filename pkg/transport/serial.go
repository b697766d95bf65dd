package transport

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// DefaultBaudRate is used for serial addresses without a rate.
const DefaultBaudRate = 9600

// Serial opens streams over a serial line. Addresses are
// "<device>[@<baud>]", for example "/dev/ttyUSB0@115200".
type Serial struct {
	// BaudRate is used when the address names none (default: 9600).
	BaudRate int
}

// Open configures the serial device in raw 8N1 mode and opens a stream.
func (s *Serial) Open(ctx context.Context, address string) (Stream, error) {
	def := s.BaudRate
	if def == 0 {
		def = DefaultBaudRate
	}
	path, baud, err := ParseSerialAddress(address, def)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conn, err := openSerial(path, baud)
	if err != nil {
		return nil, err
	}
	return NewLineStream(conn, address), nil
}

// ParseSerialAddress splits "<device>[@<baud>]".
func ParseSerialAddress(address string, defaultBaud int) (string, int, error) {
	path, rate, found := strings.Cut(address, "@")
	if path == "" {
		return "", 0, fmt.Errorf("%w: empty serial device", ErrInvalidAddress)
	}
	if !found {
		return path, defaultBaud, nil
	}
	baud, err := strconv.Atoi(rate)
	if err != nil || baud <= 0 {
		return "", 0, fmt.Errorf("%w: baud rate %q", ErrInvalidAddress, rate)
	}
	return path, baud, nil
}
