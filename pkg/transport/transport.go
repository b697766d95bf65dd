package transport

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/leomeyer/OPDI-deprecated/pkg/log"
)

// Transport kinds as stored in device descriptors.
const (
	KindTCP    = "tcp"
	KindSerial = "serial"
)

// Transport errors.
var (
	// ErrReadTimeout indicates that no complete line arrived before the deadline.
	ErrReadTimeout = errors.New("read timeout")

	// ErrClosed indicates an operation on a closed stream.
	ErrClosed = errors.New("stream closed")

	// ErrLineTooLong indicates an inbound line exceeding the maximum length.
	// The rest of the line is discarded.
	ErrLineTooLong = errors.New("line too long")

	// ErrInvalidAddress indicates an address the transport cannot parse.
	ErrInvalidAddress = errors.New("invalid address")
)

// Transport opens streams to devices.
type Transport interface {
	// Open connects to the device at address.
	Open(ctx context.Context, address string) (Stream, error)
}

// Stream is an open, line-oriented link to a device.
type Stream interface {
	// ReadLine returns the next line without its terminator. It returns
	// ErrReadTimeout when the deadline passes first and io.EOF when the
	// peer closed the link. A zero deadline waits indefinitely.
	ReadLine(deadline time.Time) (string, error)

	// WriteLine writes one line. Concurrent calls do not interleave.
	WriteLine(line string) error

	// Close closes the link and interrupts a blocked ReadLine.
	// It is safe to call more than once.
	Close() error
}

// Capturer is implemented by streams that record their traffic as
// transport-layer protocol events.
type Capturer interface {
	SetCapture(logger log.Logger, connID string)
}

// Conn is the byte-level link a LineStream runs on.
type Conn interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, address string) (Stream, error)

// Open calls f.
func (f TransportFunc) Open(ctx context.Context, address string) (Stream, error) {
	return f(ctx, address)
}

// Compile-time interface satisfaction checks.
var (
	_ Stream    = (*LineStream)(nil)
	_ Capturer  = (*LineStream)(nil)
	_ Transport = (*TCP)(nil)
	_ Transport = (*Serial)(nil)
	_ Transport = TransportFunc(nil)
)
