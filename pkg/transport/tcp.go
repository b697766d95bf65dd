package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// DefaultTCPPort is the port an OPDI device listens on.
const DefaultTCPPort = 13110

// DefaultConnectTimeout bounds dialing when the context has no deadline.
const DefaultConnectTimeout = 30 * time.Second

// TCP opens streams over TCP/IP. Addresses are "host[:port]".
type TCP struct {
	// ConnectTimeout is used when the context has no deadline (default: 30s).
	ConnectTimeout time.Duration

	// KeepAlive is the TCP keep-alive period. Zero uses the system default.
	KeepAlive time.Duration
}

// Open dials the device.
func (t *TCP) Open(ctx context.Context, address string) (Stream, error) {
	if address == "" {
		return nil, fmt.Errorf("%w: empty TCP address", ErrInvalidAddress)
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		timeout := t.ConnectTimeout
		if timeout == 0 {
			timeout = DefaultConnectTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	target := WithDefaultPort(address)
	dialer := &net.Dialer{KeepAlive: t.KeepAlive}
	conn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return NewLineStream(conn, target), nil
}

// WithDefaultPort appends DefaultTCPPort to address when it has no port.
func WithDefaultPort(address string) string {
	if _, _, err := net.SplitHostPort(address); err == nil {
		return address
	}
	host := strings.TrimSuffix(strings.TrimPrefix(address, "["), "]")
	return net.JoinHostPort(host, strconv.Itoa(DefaultTCPPort))
}
