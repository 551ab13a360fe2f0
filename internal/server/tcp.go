// Package server accepts line-protocol clients over plain TCP and hands each
// connection to the hub.
package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

// acceptBackoff bounds how fast a failing Accept is retried.
const acceptBackoff = 50 * time.Millisecond

// tcpConn frames a net.Conn as newline-terminated lines. Writes carry a
// deadline so one stuck peer cannot block a broadcast for long.
type tcpConn struct {
	conn         net.Conn
	scanner      *bufio.Scanner
	maxLineSize  int
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newTCPConn(conn net.Conn, maxLineSize int, writeTimeout time.Duration) *tcpConn {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, min(maxLineSize, 4096)), maxLineSize)

	return &tcpConn{
		conn:         conn,
		scanner:      scanner,
		maxLineSize:  maxLineSize,
		writeTimeout: writeTimeout,
	}
}

// ReadLine returns the next line without its terminator. A line longer
// than the configured maximum is a fatal error for the connection.
func (c *tcpConn) ReadLine() (string, error) {
	if c.scanner.Scan() {
		return strings.TrimSuffix(c.scanner.Text(), "\r"), nil
	}

	err := c.scanner.Err()
	switch {
	case err == nil:
		return "", io.EOF
	case errors.Is(err, bufio.ErrTooLong):
		return "", fmt.Errorf("line exceeds %d bytes: %w", c.maxLineSize, err)
	default:
		return "", err
	}
}

func (c *tcpConn) WriteLine(line string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	_, err := io.WriteString(c.conn, line+"\n")
	return err
}

func (c *tcpConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// TCPServer is the plain line-protocol listener.
type TCPServer struct {
	addr         string
	maxLineSize  int
	writeTimeout time.Duration
	hub          *Hub
	log          *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

// NewTCPServer creates a listener bound to cfg.TCPAddr once Listen is called.
func NewTCPServer(cfg Config, hub *Hub, log *slog.Logger) *TCPServer {
	return &TCPServer{
		addr:         cfg.TCPAddr,
		maxLineSize:  cfg.MaxLineSize,
		writeTimeout: cfg.WriteTimeout,
		hub:          hub,
		log:          log,
	}
}

// Listen binds the TCP address without accepting yet.
func (s *TCPServer) Listen() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *TCPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts connections until Close is called, then returns nil.
func (s *TCPServer) Serve() error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return errors.New("tcp server is not listening")
	}

	s.log.Info("TCP server listening", "addr", listener.Addr().String())
	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn("Accept failed", "err", err)
			time.Sleep(acceptBackoff)
			continue
		}

		peer := conn.RemoteAddr().String()
		s.hub.Serve(newTCPConn(conn, s.maxLineSize, s.writeTimeout), peer)
	}
}

// ListenAndServe is Listen followed by Serve.
func (s *TCPServer) ListenAndServe() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Close stops accepting. Live connections belong to the hub.
func (s *TCPServer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *TCPServer) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
