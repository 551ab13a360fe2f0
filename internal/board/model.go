// Package board defines the bulletin board records shared by the store,
// the command engine and the session lifecycle.
package board

import (
	"sync"
	"time"
)

// Conn is a line-oriented, persistent connection to one client. The
// transport decides how lines are framed on the wire.
type Conn interface {
	ReadLine() (string, error)
	WriteLine(line string) error
	Close() error
}

// Message is a single post in a group. It is never modified after creation.
type Message struct {
	ID        int64
	Sender    string
	Subject   string
	Body      string
	CreatedAt time.Time
}

// Group is a pre-configured board with an append-only message log and a set
// of member usernames. All fields are guarded by the owning Store.
type Group struct {
	Name     string
	messages []Message
	members  map[string]struct{}
}

func newGroup(name string) *Group {
	return &Group{
		Name:    name,
		members: make(map[string]struct{}),
	}
}

// Session is the server-side state of one authenticated connection.
// The groups set is guarded by the Store; writes to conn are serialized by
// writeMu so broadcasts and direct replies never interleave on the wire.
type Session struct {
	Username string
	ConnID   string
	Peer     string

	conn    Conn
	writeMu sync.Mutex
	groups  map[string]struct{}
}

// NewSession creates a session bound to conn. It is not visible to other
// connections until it is registered with a Store.
func NewSession(username, connID, peer string, conn Conn) *Session {
	return &Session{
		Username: username,
		ConnID:   connID,
		Peer:     peer,
		conn:     conn,
		groups:   make(map[string]struct{}),
	}
}

func (s *Session) writeLine(line string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteLine(line)
}
