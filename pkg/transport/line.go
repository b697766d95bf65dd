package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/leomeyer/OPDI-deprecated/pkg/log"
)

// DefaultMaxLineLength is the longest inbound line accepted, excluding
// the terminator.
const DefaultMaxLineLength = 4096

// LineStream implements Stream over a Conn.
type LineStream struct {
	conn    Conn
	address string
	reader  *bufio.Reader
	maxLine int

	readMu   sync.Mutex
	partial  []byte
	skipping bool

	writeMu sync.Mutex

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	// Capture support (optional)
	logger log.Logger
	connID string
}

// NewLineStream wraps conn. The address is only used in capture events.
func NewLineStream(conn Conn, address string) *LineStream {
	return &LineStream{
		conn:    conn,
		address: address,
		reader:  bufio.NewReader(conn),
		maxLine: DefaultMaxLineLength,
	}
}

// SetMaxLineLength changes the inbound line limit.
func (s *LineStream) SetMaxLineLength(n int) {
	s.readMu.Lock()
	defer s.readMu.Unlock()
	if n > 0 {
		s.maxLine = n
	}
}

// SetCapture records every line read or written to logger.
// Pass nil to disable capture. Call before the stream is in use.
func (s *LineStream) SetCapture(logger log.Logger, connID string) {
	s.logger = logger
	s.connID = connID
}

// Address returns the address the stream was opened for.
func (s *LineStream) Address() string {
	return s.address
}

// ReadLine reads the next line. A partial line received before a timeout
// is kept and completed by the next call. A trailing "\r" is stripped.
func (s *LineStream) ReadLine(deadline time.Time) (string, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	if s.closed.Load() {
		return "", ErrClosed
	}
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		if s.closed.Load() {
			return "", ErrClosed
		}
		return "", fmt.Errorf("set read deadline: %w", err)
	}

	for {
		chunk, err := s.reader.ReadSlice('\n')
		s.partial = append(s.partial, chunk...)

		switch {
		case err == nil:
			line := trimTerminator(s.partial)
			s.partial = s.partial[:0]
			if s.skipping {
				s.skipping = false
				continue
			}
			s.capture(line, log.DirectionIn)
			return line, nil

		case errors.Is(err, bufio.ErrBufferFull):
			if len(s.partial) > s.maxLine {
				s.partial = s.partial[:0]
				if !s.skipping {
					s.skipping = true
					return "", ErrLineTooLong
				}
			}

		case isTimeout(err):
			return "", ErrReadTimeout

		case s.closed.Load():
			return "", ErrClosed

		case errors.Is(err, io.EOF):
			s.partial = s.partial[:0]
			return "", io.EOF

		default:
			return "", fmt.Errorf("read line: %w", err)
		}
	}
}

// WriteLine writes line followed by "\n" in a single write.
func (s *LineStream) WriteLine(line string) error {
	if s.closed.Load() {
		return ErrClosed
	}

	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.conn.Write(buf); err != nil {
		if s.closed.Load() {
			return ErrClosed
		}
		return fmt.Errorf("write line: %w", err)
	}
	s.capture(line, log.DirectionOut)
	return nil
}

// Close closes the underlying connection.
func (s *LineStream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// IsClosed reports whether Close has been called.
func (s *LineStream) IsClosed() bool {
	return s.closed.Load()
}

func (s *LineStream) capture(line string, direction log.Direction) {
	if s.logger == nil {
		return
	}
	s.logger.Log(log.Event{
		Timestamp:     time.Now(),
		ConnectionID:  s.connID,
		Direction:     direction,
		Layer:         log.LayerTransport,
		Category:      log.CategoryMessage,
		DeviceAddress: s.address,
		Line:          log.NewLineEvent(line),
	})
}

func trimTerminator(b []byte) string {
	n := len(b)
	if n > 0 && b[n-1] == '\n' {
		n--
	}
	if n > 0 && b[n-1] == '\r' {
		n--
	}
	return string(b[:n])
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
