// Package server defines transport helpers shared by the TCP and WebSocket
// line connections.
package server

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"

	"github.com/Tyrowin/gobulletin/internal/board"
)

// errConnClosed is returned by writes on a connection that was already closed.
var errConnClosed = errors.New("connection closed")

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, errConnClosed) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}

// throttledConn answers lines over the rate limit with ERR RATE_LIMITED
// and drops them before the board sees them.
type throttledConn struct {
	board.Conn
	limiter *rateLimiter
	log     *slog.Logger
}

func newThrottledConn(conn board.Conn, limiter *rateLimiter, log *slog.Logger) *throttledConn {
	return &throttledConn{Conn: conn, limiter: limiter, log: log}
}

func (c *throttledConn) ReadLine() (string, error) {
	for {
		line, err := c.Conn.ReadLine()
		if err != nil {
			return "", err
		}
		if c.limiter.allow() {
			return line, nil
		}
		c.log.Warn("Rate limit exceeded; discarding line")
		if err := c.Conn.WriteLine(board.ErrLine(board.CodeRateLimited, "")); err != nil {
			return "", err
		}
	}
}
