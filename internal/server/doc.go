// Package server implements the transports of the bulletin board service.
//
// Line-protocol clients connect over plain TCP or over WebSocket; both kinds
// of connection are adapted to board.Conn and handed to a Hub, which runs
// the board's session lifecycle for each one and closes them on shutdown.
// The HTTP listener also serves health, statistics, and a browser test page.
package server
