// Package server tracks live transport connections for the board via the
// Hub type, so they can be counted and closed on shutdown.
package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/Tyrowin/gobulletin/internal/board"
)

// Hub owns the goroutine of every live connection, whichever transport
// accepted it. Each connection is rate limited on its own bucket.
type Hub struct {
	board     *board.Board
	rateLimit RateLimitConfig
	log       *slog.Logger

	mutex   sync.Mutex
	conns   map[board.Conn]string
	closing bool
	wg      sync.WaitGroup
}

// NewHub creates a Hub that hands connections to b.
func NewHub(b *board.Board, rateLimit RateLimitConfig, log *slog.Logger) *Hub {
	return &Hub{
		board:     b,
		rateLimit: rateLimit,
		log:       log,
		conns:     make(map[board.Conn]string),
	}
}

// Serve registers conn and runs the board's connection handler for it in a
// new goroutine. After Shutdown has begun, conn is closed immediately and
// Serve returns false.
func (h *Hub) Serve(conn board.Conn, peer string) bool {
	h.mutex.Lock()
	if h.closing {
		h.mutex.Unlock()
		h.closeConn(conn, peer)
		return false
	}
	h.conns[conn] = peer
	clientCount := len(h.conns)
	h.wg.Add(1)
	h.mutex.Unlock()

	h.log.Info("Client registered", "peer", peer, "clients", clientCount)

	go func() {
		defer h.wg.Done()
		defer h.unregister(conn, peer)

		limiter := newRateLimiter(h.rateLimit.Burst, h.rateLimit.RefillInterval)
		h.board.HandleConnection(newThrottledConn(conn, limiter, h.log.With("peer", peer)), peer)
	}()
	return true
}

func (h *Hub) unregister(conn board.Conn, peer string) {
	h.mutex.Lock()
	delete(h.conns, conn)
	clientCount := len(h.conns)
	h.mutex.Unlock()

	h.log.Info("Client unregistered", "peer", peer, "clients", clientCount)
}

// Count returns the number of live connections, authenticated or not.
func (h *Hub) Count() int {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return len(h.conns)
}

func (h *Hub) closeConn(conn board.Conn, peer string) {
	if err := conn.Close(); err != nil && !isExpectedCloseError(err) {
		h.log.Warn("Error closing client connection", "peer", peer, "err", err)
	}
}

// Shutdown closes every live connection, which drives each through the
// board's normal teardown, and waits for their goroutines to finish or
// for the timeout to elapse.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.log.Info("Initiating hub shutdown")

	h.mutex.Lock()
	h.closing = true
	conns := lo.Entries(h.conns)
	h.mutex.Unlock()

	for _, entry := range conns {
		h.closeConn(entry.Key, entry.Value)
	}
	h.log.Info("Closed client connections", "count", len(conns))

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.log.Info("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		h.log.Warn("Hub shutdown timeout reached, some connections may still be running")
		return context.DeadlineExceeded
	}
}
