//go:build !unix

package transport

import (
	"errors"
	"net"
	"os"
	"time"
)

// isAlive falls back to a read with an expired deadline. Unlike the peek
// used on unix it may not see a half-closed socket.
func isAlive(conn net.Conn) bool {
	if err := conn.SetReadDeadline(time.Now()); err != nil {
		return false
	}
	defer conn.SetReadDeadline(time.Time{})

	var buf [0]byte
	_, err := conn.Read(buf[:])
	return err == nil || errors.Is(err, os.ErrDeadlineExceeded)
}
