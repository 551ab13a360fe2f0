package server_test

import (
	"encoding/json"
	"io"
	"net/http"
	"testing"

	"github.com/Tyrowin/gobulletin/internal/board"
	"github.com/Tyrowin/gobulletin/internal/server"
	"github.com/Tyrowin/gobulletin/internal/testhelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHealthHandler verifies the plain text health endpoint.
func TestHealthHandler(t *testing.T) {
	s := startStack(t, nil)

	resp := testhelpers.MakeRequest(t, http.MethodGet, s.http.URL+"/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "Bulletin board server is running!", string(body))
}

// TestStatsHandler verifies that /stats reflects sessions, posts and
// connections.
func TestStatsHandler(t *testing.T) {
	s := startStack(t, nil)

	alice := s.dialTCP(t)
	alice.Login("alice")
	alice.Send("POST lobby hi|there")
	alice.Expect("OK POSTED lobby 1")
	alice.Next()
	s.dialTCP(t)

	resp := testhelpers.MakeRequest(t, http.MethodGet, s.http.URL+"/stats")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var stats server.StatsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))

	assert.Equal(t, 1, stats.Sessions)
	assert.Equal(t, int64(1), stats.LastMessageID)
	assert.Equal(t, 2, stats.Connections)
	assert.GreaterOrEqual(t, stats.UptimeSeconds, 0.0)
	assert.Contains(t, stats.Groups, board.GroupStats{Name: "lobby", Members: 1, Messages: 1})
	assert.Len(t, stats.Groups, 5)
}

// TestStatsHandlerRejectsNonGet verifies the method check on /stats.
func TestStatsHandlerRejectsNonGet(t *testing.T) {
	s := startStack(t, nil)

	resp := testhelpers.MakeRequest(t, http.MethodDelete, s.http.URL+"/stats")
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

// TestTestPageHandler verifies the browser page is served as HTML.
func TestTestPageHandler(t *testing.T) {
	s := startStack(t, nil)

	resp := testhelpers.MakeRequest(t, http.MethodGet, s.http.URL+"/test")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/html", resp.Header.Get("Content-Type"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "/ws")
}
