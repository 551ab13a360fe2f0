// Package testhelpers provides common utilities for testing the bulletin
// board server.
//
// It contains a line-protocol client that speaks to the server over TCP or
// WebSocket, plus small HTTP helpers, to reduce duplication across the
// package tests.
package testhelpers

import (
	"bufio"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const (
	// DefaultTimeout bounds every wait for a server line.
	DefaultTimeout = 2 * time.Second
	// TestOrigin is the Origin header sent by ConnectWebSocket.
	TestOrigin = "http://localhost:8080"
	// WelcomeLine is the first line of every connection.
	WelcomeLine = "OK WELCOME Use: USER <username>"
)

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MakeRequest creates and executes an HTTP request, returning the response.
// It includes a 5-second timeout and fails the test if the request cannot be
// created or executed successfully.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequest(method, url, http.NoBody)
	require.NoError(t, err, "failed to create request")

	resp, err := client.Do(req)
	require.NoError(t, err, "failed to make request")
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// ConnectWebSocket dials url with the test Origin header set.
func ConnectWebSocket(url string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	headers := http.Header{}
	headers.Set("Origin", TestOrigin)

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// LineClient reads server lines in the background so tests can wait for
// them with a timeout.
type LineClient struct {
	t         *testing.T
	lines     chan string
	write     func(string) error
	closeFn   func() error
	closeOnce sync.Once
}

func newLineClient(t *testing.T, read func() ([]string, error), write func(string) error, closeFn func() error) *LineClient {
	c := &LineClient{
		t:       t,
		lines:   make(chan string, 1024),
		write:   write,
		closeFn: closeFn,
	}
	go func() {
		defer close(c.lines)
		for {
			batch, err := read()
			if err != nil {
				return
			}
			for _, line := range batch {
				c.lines <- line
			}
		}
	}()
	t.Cleanup(c.Close)
	return c
}

// DialTCP connects to a line-protocol listener and consumes the welcome line.
func DialTCP(t *testing.T, addr string) *LineClient {
	t.Helper()

	conn, err := net.DialTimeout("tcp", addr, DefaultTimeout)
	require.NoError(t, err, "failed to dial %s", addr)

	reader := bufio.NewReader(conn)
	read := func() ([]string, error) {
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		return []string{strings.TrimRight(line, "\r\n")}, nil
	}
	write := func(line string) error {
		if err := conn.SetWriteDeadline(time.Now().Add(DefaultTimeout)); err != nil {
			return err
		}
		_, err := io.WriteString(conn, line+"\n")
		return err
	}

	c := newLineClient(t, read, write, conn.Close)
	c.Expect(WelcomeLine)
	return c
}

// DialWebSocket connects to a /ws endpoint and consumes the welcome line.
// Each Send becomes one text frame.
func DialWebSocket(t *testing.T, url string) *LineClient {
	t.Helper()

	conn, _, err := ConnectWebSocket(url)
	require.NoError(t, err, "failed to connect to %s", url)

	read := func() ([]string, error) {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		return strings.Split(string(payload), "\n"), nil
	}
	write := func(line string) error {
		return conn.WriteMessage(websocket.TextMessage, []byte(line))
	}

	c := newLineClient(t, read, write, conn.Close)
	c.Expect(WelcomeLine)
	return c
}

// Send writes one line. Over WebSocket the payload may hold several lines.
func (c *LineClient) Send(line string) {
	c.t.Helper()
	require.NoError(c.t, c.write(line), "failed to send %q", line)
}

// Next returns the next server line, failing the test on timeout or close.
func (c *LineClient) Next() string {
	c.t.Helper()
	select {
	case line, ok := <-c.lines:
		require.True(c.t, ok, "connection closed while waiting for a line")
		return line
	case <-time.After(DefaultTimeout):
		c.t.Fatal("timed out waiting for a line")
		return ""
	}
}

// Expect fails the test unless the next line equals want.
func (c *LineClient) Expect(want string) {
	c.t.Helper()
	require.Equal(c.t, want, c.Next())
}

// ExpectNothing fails the test if a line arrives within wait.
func (c *LineClient) ExpectNothing(wait time.Duration) {
	c.t.Helper()
	select {
	case line, ok := <-c.lines:
		if ok {
			c.t.Fatalf("expected no line, got %q", line)
		}
	case <-time.After(wait):
	}
}

// ExpectClosed waits for the server to close the connection, returning any
// lines received before it did.
func (c *LineClient) ExpectClosed() []string {
	c.t.Helper()
	var rest []string
	deadline := time.After(DefaultTimeout)
	for {
		select {
		case line, ok := <-c.lines:
			if !ok {
				return rest
			}
			rest = append(rest, line)
		case <-deadline:
			c.t.Fatal("timed out waiting for the server to close the connection")
			return rest
		}
	}
}

// Login sends USER and reads through the LOBBY_USERS line. It returns the
// replayed history lines and the lobby member list.
func (c *LineClient) Login(name string) ([]string, string) {
	c.t.Helper()
	c.Send("USER " + name)
	c.Expect("OK USER_ACCEPTED " + name)

	var history []string
	for {
		line := c.Next()
		if members, ok := strings.CutPrefix(line, "OK LOBBY_USERS"); ok {
			return history, strings.TrimSpace(members)
		}
		history = append(history, line)
	}
}

// Close closes the client side of the connection.
func (c *LineClient) Close() {
	c.closeOnce.Do(func() {
		_ = c.closeFn()
	})
}
