//go:build !linux

package transport

import (
	"errors"
	"os"
)

// ErrSerialUnsupported is returned by Serial.Open on platforms without
// a termios implementation.
var ErrSerialUnsupported = errors.New("serial transport not supported on this platform")

func openSerial(string, int) (*os.File, error) {
	return nil, ErrSerialUnsupported
}
