package transport

import (
	"context"
	"fmt"
	"net"
	"time"
)

// TCP dials plain TCP connections.
type TCP struct {
	// KeepAlive enables TCP keep-alive probes on dialed sockets.
	KeepAlive bool
	// KeepAlivePeriod overrides the system probe interval when positive.
	KeepAlivePeriod time.Duration
}

// New returns a TCP transport.
func New(keepAlive bool) *TCP {
	return &TCP{KeepAlive: keepAlive}
}

// Connect dials address. A positive timeout bounds the dial on top of any
// deadline carried by ctx.
func (t *TCP) Connect(ctx context.Context, address string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout, KeepAlive: -1}
	if t.KeepAlive {
		d.KeepAlive = t.KeepAlivePeriod
	}

	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}
	return conn, nil
}

// Close closes conn, ignoring a nil connection.
func (t *TCP) Close(conn net.Conn) error {
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// IsAlive reports whether conn is still open at the peer without consuming
// any pending data.
func (t *TCP) IsAlive(conn net.Conn) bool {
	if conn == nil {
		return false
	}
	return isAlive(conn)
}
