package server_test

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/gobulletin/internal/board"
	"github.com/Tyrowin/gobulletin/internal/server"
	"github.com/Tyrowin/gobulletin/internal/testhelpers"
	"github.com/stretchr/testify/require"
)

var (
	fixedTime      = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	fixedTimestamp = "2026-01-02T03:04:05Z"
)

// stack is a full server with both listeners bound to loopback.
type stack struct {
	cfg   server.Config
	board *board.Board
	hub   *server.Hub
	tcp   *server.TCPServer
	http  *httptest.Server
}

func startStack(t *testing.T, mutate func(*server.Config)) *stack {
	t.Helper()

	cfg := server.NewConfig()
	cfg.TCPAddr = "127.0.0.1:0"
	cfg.AllowedOrigins = testhelpers.TestOrigin
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	log := testhelpers.Logger()
	opts := cfg.BoardOptions()
	opts.Clock = func() time.Time { return fixedTime }
	b := board.New(opts, log)

	hub := server.NewHub(b, cfg.RateLimit(), log)
	tcp := server.NewTCPServer(*cfg, hub, log)
	require.NoError(t, tcp.Listen())

	served := make(chan error, 1)
	go func() { served <- tcp.Serve() }()

	httpServer := httptest.NewServer(server.SetupRoutes(server.NewHandlers(b, hub, *cfg, log)))

	t.Cleanup(func() {
		_ = tcp.Close()
		require.NoError(t, <-served)
		_ = hub.Shutdown(2 * time.Second)
		httpServer.Close()
	})

	return &stack{cfg: *cfg, board: b, hub: hub, tcp: tcp, http: httpServer}
}

func (s *stack) tcpAddr() string {
	return s.tcp.Addr().String()
}

func (s *stack) wsURL() string {
	return "ws" + strings.TrimPrefix(s.http.URL, "http") + "/ws"
}

func (s *stack) dialTCP(t *testing.T) *testhelpers.LineClient {
	t.Helper()
	return testhelpers.DialTCP(t, s.tcpAddr())
}

func (s *stack) dialWS(t *testing.T) *testhelpers.LineClient {
	t.Helper()
	return testhelpers.DialWebSocket(t, s.wsURL())
}
