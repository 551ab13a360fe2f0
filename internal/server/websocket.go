// Package server carries line-protocol sessions over WebSocket. Each text
// frame holds one line, or several separated by newlines.
package server

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

var errSendQueueFull = errors.New("send queue full")

// wsConn adapts a gorilla connection to board.Conn. ReadLine is called
// only by the board's connection goroutine; all writes go through the
// write pump.
type wsConn struct {
	conn         *websocket.Conn
	peer         string
	maxLineSize  int
	writeTimeout time.Duration
	log          *slog.Logger

	pending []string

	mu        sync.Mutex
	send      chan string
	closed    bool
	done      chan struct{}
	pumpDone  chan struct{}
	closeOnce sync.Once
}

func newWSConn(conn *websocket.Conn, peer string, maxLineSize int, writeTimeout time.Duration, log *slog.Logger) *wsConn {
	conn.SetReadLimit(int64(maxLineSize))

	c := &wsConn{
		conn:         conn,
		peer:         peer,
		maxLineSize:  maxLineSize,
		writeTimeout: writeTimeout,
		log:          log,
		send:         make(chan string, sendBuffer),
		done:         make(chan struct{}),
		pumpDone:     make(chan struct{}),
	}
	c.setupReadConnection()
	go c.writePump()
	return c
}

// setupReadConnection configures read deadlines and the pong handler.
func (c *wsConn) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn("Error setting initial read deadline", "err", err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

func (c *wsConn) ReadLine() (string, error) {
	for len(c.pending) == 0 {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return "", c.translateReadError(err)
		}
		c.pending = strings.Split(strings.TrimSuffix(string(payload), "\n"), "\n")
	}

	line := c.pending[0]
	c.pending = c.pending[1:]
	return strings.TrimSuffix(line, "\r"), nil
}

// translateReadError maps orderly closes to io.EOF so the board logs them
// as ordinary disconnects.
func (c *wsConn) translateReadError(err error) error {
	if errors.Is(err, websocket.ErrReadLimit) {
		c.log.Warn("Frame exceeded maximum line size", "limit", c.maxLineSize)
		return err
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure) || isExpectedCloseError(err) {
		return io.EOF
	}
	return err
}

// WriteLine queues line for the write pump. A full queue is reported as a
// failed delivery rather than blocking the caller.
func (c *wsConn) WriteLine(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errConnClosed
	}
	select {
	case c.send <- line:
		return nil
	default:
		return errSendQueueFull
	}
}

// Close flushes queued lines, sends a close frame and waits for the write
// pump to release the socket.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.done)
		c.mu.Unlock()
	})
	<-c.pumpDone
	return nil
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.closeSocket()
		close(c.pumpDone)
	}()

	for {
		select {
		case line := <-c.send:
			if !c.writeLines(line) {
				return
			}
		case <-ticker.C:
			if !c.writePing() {
				return
			}
		case <-c.done:
			c.flush()
			c.writeClose()
			return
		}
	}
}

// writeLines writes line and everything already queued behind it as one frame.
func (c *wsConn) writeLines(line string) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		c.log.Warn("Error setting write deadline", "err", err)
		return false
	}

	w, err := c.conn.NextWriter(websocket.TextMessage)
	if err != nil {
		c.logWriteError("Error creating writer", err)
		return false
	}
	if _, err := io.WriteString(w, line); err != nil {
		c.logWriteError("Error writing line", err)
		return false
	}

	n := len(c.send)
	for i := 0; i < n; i++ {
		if _, err := io.WriteString(w, "\n"+<-c.send); err != nil {
			c.logWriteError("Error writing queued line", err)
			return false
		}
	}

	if err := w.Close(); err != nil {
		c.logWriteError("Error closing writer", err)
		return false
	}
	return true
}

// flush drains whatever was queued before Close, such as OK BYE.
func (c *wsConn) flush() {
	select {
	case line := <-c.send:
		c.writeLines(line)
	default:
	}
}

func (c *wsConn) writePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		c.log.Warn("Error setting write deadline for ping", "err", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logWriteError("Error writing ping message", err)
		return false
	}
	return true
}

func (c *wsConn) writeClose() {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.writeTimeout)); err != nil {
		c.logWriteError("Error writing close message", err)
	}
}

func (c *wsConn) closeSocket() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Warn("Error closing connection", "err", err)
	}
}

func (c *wsConn) logWriteError(msg string, err error) {
	if isExpectedCloseError(err) {
		c.log.Debug(msg, "err", err)
		return
	}
	c.log.Warn(msg, "err", err)
}
