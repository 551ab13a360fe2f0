package server_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Tyrowin/gobulletin/internal/board"
	"github.com/Tyrowin/gobulletin/internal/server"
	"github.com/Tyrowin/gobulletin/internal/testhelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingConn never yields a line and, when stubborn, ignores Close so
// the handler goroutine cannot finish until release is called.
type blockingConn struct {
	stubborn  bool
	release   chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	freeOnce  sync.Once
}

func newBlockingConn(stubborn bool) *blockingConn {
	return &blockingConn{
		stubborn: stubborn,
		release:  make(chan struct{}),
		closed:   make(chan struct{}),
	}
}

func (c *blockingConn) ReadLine() (string, error) {
	select {
	case <-c.release:
	case <-c.closed:
	}
	return "", io.EOF
}

func (c *blockingConn) WriteLine(string) error { return nil }

func (c *blockingConn) Close() error {
	if !c.stubborn {
		c.closeOnce.Do(func() { close(c.closed) })
	}
	return nil
}

func (c *blockingConn) free() {
	c.freeOnce.Do(func() { close(c.release) })
}

func newTestHub() *server.Hub {
	log := testhelpers.Logger()
	b := board.New(board.Options{Groups: []string{"lobby"}, DefaultGroup: "lobby", RecentHistory: 2}, log)
	return server.NewHub(b, server.RateLimitConfig{Burst: 10, RefillInterval: time.Second}, log)
}

// TestHubShutdownClosesConnections verifies that Shutdown drives every live
// connection through teardown and then refuses new ones.
func TestHubShutdownClosesConnections(t *testing.T) {
	hub := newTestHub()

	conns := []*blockingConn{newBlockingConn(false), newBlockingConn(false), newBlockingConn(false)}
	for i, conn := range conns {
		require.True(t, hub.Serve(conn, "peer-"+string(rune('a'+i))))
	}
	assert.Equal(t, 3, hub.Count())

	require.NoError(t, hub.Shutdown(testhelpers.DefaultTimeout))
	assert.Equal(t, 0, hub.Count())

	late := newBlockingConn(false)
	assert.False(t, hub.Serve(late, "late"))
	select {
	case <-late.closed:
	default:
		t.Fatal("connection offered after shutdown was not closed")
	}
}

// TestHubShutdownTimeout verifies that a connection which ignores Close
// makes Shutdown report a deadline.
func TestHubShutdownTimeout(t *testing.T) {
	hub := newTestHub()

	stuck := newBlockingConn(true)
	t.Cleanup(stuck.free)
	require.True(t, hub.Serve(stuck, "stuck"))

	err := hub.Shutdown(50 * time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// TestHubShutdownWithLiveClients verifies real clients are disconnected on
// shutdown over both transports.
func TestHubShutdownWithLiveClients(t *testing.T) {
	s := startStack(t, nil)

	tcpClient := s.dialTCP(t)
	tcpClient.Login("alice")
	wsClient := s.dialWS(t)
	wsClient.Login("bob")

	require.NoError(t, s.hub.Shutdown(testhelpers.DefaultTimeout))

	tcpClient.ExpectClosed()
	wsClient.ExpectClosed()
	assert.Equal(t, 0, s.board.Store().Stats().Sessions)
}
