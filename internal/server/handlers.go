// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, board statistics, and the built-in test page.
package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shirou/gopsutil/process"

	"github.com/Tyrowin/gobulletin/internal/board"
)

// Handlers serves the HTTP side of the service.
type Handlers struct {
	board        *board.Board
	hub          *Hub
	upgrader     websocket.Upgrader
	maxLineSize  int
	writeTimeout time.Duration
	started      time.Time
	proc         *process.Process
	log          *slog.Logger
}

// ProcessStats reports resource usage of the server process.
type ProcessStats struct {
	PID        int32   `json:"pid"`
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
}

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	board.Stats
	Connections   int           `json:"connections"`
	UptimeSeconds float64       `json:"uptime_seconds"`
	Process       *ProcessStats `json:"process,omitempty"`
}

// NewHandlers creates the HTTP handlers for b. Connections upgraded on /ws
// are handed to hub.
func NewHandlers(b *board.Board, hub *Hub, cfg Config, log *slog.Logger) *Handlers {
	origins := newOriginPolicy(cfg.Origins(), log)

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Warn("Process metrics unavailable", "err", err)
		proc = nil
	}

	return &Handlers{
		board: b,
		hub:   hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.checkOrigin,
		},
		maxLineSize:  cfg.MaxLineSize,
		writeTimeout: cfg.WriteTimeout,
		started:      time.Now(),
		proc:         proc,
		log:          log,
	}
}

// WebSocketHandler upgrades GET requests and hands the connection to the hub,
// which runs the same session lifecycle as a TCP client.
func (h *Handlers) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", "peer", r.RemoteAddr, "err", err)
		return
	}

	lineConn := newWSConn(conn, r.RemoteAddr, h.maxLineSize, h.writeTimeout, h.log.With("peer", r.RemoteAddr))
	h.hub.Serve(lineConn, r.RemoteAddr)
}

// HealthHandler responds with a plain text message indicating the server is running.
func (h *Handlers) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Bulletin board server is running!")
}

// StatsHandler returns a JSON snapshot of the board and the process.
func (h *Handlers) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := StatsResponse{
		Stats:         h.board.Store().Stats(),
		Connections:   h.hub.Count(),
		UptimeSeconds: time.Since(h.started).Seconds(),
		Process:       h.processStats(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Warn("Error writing stats response", "err", err)
	}
}

func (h *Handlers) processStats() *ProcessStats {
	if h.proc == nil {
		return nil
	}

	memInfo, err := h.proc.MemoryInfo()
	if err != nil {
		h.log.Debug("Failed to collect memory stats", "err", err)
		return nil
	}
	cpuPercent, err := h.proc.CPUPercent()
	if err != nil {
		h.log.Debug("Failed to collect cpu stats", "err", err)
		return nil
	}
	return &ProcessStats{
		PID:        h.proc.Pid,
		RSSBytes:   memInfo.RSS,
		CPUPercent: cpuPercent,
	}
}

// TestPageHandler serves an HTML page for driving the line protocol over /ws
// from a browser.
func (h *Handlers) TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPage); err != nil {
		h.log.Warn("Error writing HTML response", "err", err)
	}
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>Bulletin Board Test</title>
    <style>
        body { font-family: monospace; margin: 20px; }
        #lines { border: 1px solid #ccc; height: 360px; padding: 10px; overflow-y: scroll; margin: 10px 0; background-color: #f9f9f9; }
        input[type="text"] { width: 420px; padding: 5px; margin-right: 10px; }
        .sent { color: #555; }
        .ok { color: #155724; }
        .err { color: #721c24; }
        .event { color: #004085; }
    </style>
</head>
<body>
    <h1>Bulletin Board Test</h1>
    <div>
        <input type="text" id="line" placeholder="USER alice" disabled>
        <button id="send" onclick="sendLine()" disabled>Send</button>
        <button id="toggle" onclick="toggle()">Connect</button>
    </div>
    <div id="lines"></div>
    <script>
        let ws = null;
        const lines = document.getElementById('lines');
        const input = document.getElementById('line');
        const send = document.getElementById('send');
        const toggleButton = document.getElementById('toggle');

        function show(text, cls) {
            const el = document.createElement('div');
            el.className = cls;
            el.textContent = text;
            lines.appendChild(el);
            lines.scrollTop = lines.scrollHeight;
        }

        function classify(line) {
            if (line.startsWith('OK ')) return 'ok';
            if (line.startsWith('ERR ')) return 'err';
            return 'event';
        }

        function setConnected(connected) {
            input.disabled = !connected;
            send.disabled = !connected;
            toggleButton.textContent = connected ? 'Disconnect' : 'Connect';
        }

        function toggle() {
            if (ws && ws.readyState === WebSocket.OPEN) {
                ws.close();
                return;
            }
            ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws');
            ws.onopen = () => setConnected(true);
            ws.onmessage = (event) => event.data.split('\n').forEach(l => show(l, classify(l)));
            ws.onclose = () => { show('connection closed', 'sent'); setConnected(false); ws = null; };
        }

        function sendLine() {
            const line = input.value.trim();
            if (line && ws && ws.readyState === WebSocket.OPEN) {
                ws.send(line);
                show('> ' + line, 'sent');
                input.value = '';
            }
        }

        input.addEventListener('keypress', (e) => { if (e.key === 'Enter') sendLine(); });
    </script>
</body>
</html>`
