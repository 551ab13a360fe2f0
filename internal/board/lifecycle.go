package board

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Options configures a Board.
type Options struct {
	// Groups are created once at startup; the board never invents others.
	Groups []string
	// DefaultGroup is joined automatically by every new session.
	DefaultGroup string
	// RecentHistory is how many DefaultGroup messages are replayed at login.
	RecentHistory int
	// Clock stamps new messages. Nil means time.Now in UTC.
	Clock func() time.Time
}

// Board ties the store, notifier and engine together and drives every
// connection from handshake to teardown.
type Board struct {
	store  *Store
	notify *Notifier
	engine *Engine
	log    *slog.Logger
	opts   Options
}

// New creates a Board with its groups pre-created.
func New(opts Options, log *slog.Logger) *Board {
	var storeOpts []StoreOption
	if opts.Clock != nil {
		storeOpts = append(storeOpts, WithClock(opts.Clock))
	}
	store := NewStore(opts.Groups, storeOpts...)
	notify := NewNotifier(store, log)

	return &Board{
		store:  store,
		notify: notify,
		engine: NewEngine(store, notify, log),
		log:    log,
		opts:   opts,
	}
}

// Store exposes the shared state, mainly for inspection.
func (b *Board) Store() *Store {
	return b.store
}

// connection is the per-connection state machine. It is owned by the
// goroutine running HandleConnection.
type connection struct {
	board  *Board
	conn   Conn
	id     string
	peer   string
	log    *slog.Logger
	sess   *Session
	closed sync.Once
}

// HandleConnection serves one client until it quits, disconnects or fails.
// It blocks for the lifetime of the connection and always closes conn.
// Peer is informational and only used for logging.
func (b *Board) HandleConnection(conn Conn, peer string) {
	id := uuid.NewString()
	c := &connection{
		board: b,
		conn:  conn,
		id:    id,
		peer:  peer,
		log:   b.log.With("conn", id, "peer", peer),
	}
	defer c.terminate()

	c.log.Info("Incoming connection")

	if err := conn.WriteLine(formatLine(PrefixOK, CodeWelcome, "Use: USER <username>")); err != nil {
		c.log.Warn("Failed to send welcome", "err", err)
		return
	}

	if !c.handshake() {
		return
	}
	c.serve()
}

// handshake accepts only USER until a username is registered. It returns
// false if the connection ended first.
func (c *connection) handshake() bool {
	for {
		line, err := c.conn.ReadLine()
		if err != nil {
			c.logReadError("Disconnected before USER", err)
			return false
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		cmd := ParseCommand(line)
		if cmd.Verb != VerbUser {
			if !c.reject(CodeFirstCommandMustBeUser, "") {
				return false
			}
			continue
		}
		if cmd.Args == "" {
			if !c.reject(CodeUsernameRequired, "") {
				return false
			}
			continue
		}

		sess := NewSession(cmd.Args, c.id, c.peer, c.conn)
		welcome, err := c.board.store.Register(sess, c.board.opts.DefaultGroup, c.board.opts.RecentHistory)
		if err != nil {
			if !c.reject(CodeUsernameInUse, cmd.Args) {
				return false
			}
			continue
		}

		c.sess = sess
		c.log = c.log.With("user", sess.Username)
		c.log.Info("User logged in")
		c.greet(welcome)
		return true
	}
}

// reject answers a pre-login command. Nothing else writes to the
// connection before it is registered, so no session lock is needed.
func (c *connection) reject(code Code, detail string) bool {
	if err := c.conn.WriteLine(formatLine(PrefixErr, code, detail)); err != nil {
		c.log.Warn("Failed to send handshake error", "code", code, "err", err)
		return false
	}
	return true
}

// greet sends the login acknowledgment, the recent default-group history,
// the default-group member list and finally announces the newcomer.
func (c *connection) greet(w Welcome) {
	notify := c.board.notify
	notify.SendOK(c.sess, CodeUserAccepted, c.sess.Username)
	for _, msg := range w.Recent {
		notify.SendEvent(c.sess, historyEvent(w.Group, msg))
	}
	if w.Group == "" {
		return
	}
	notify.SendOK(c.sess, CodeLobbyUsers, strings.Join(w.Members, ","))
	notify.Broadcast(w.Group, userJoinedEvent(w.Group, c.sess.Username), c.sess.Username)
}

func (c *connection) serve() {
	for {
		line, err := c.conn.ReadLine()
		if err != nil {
			c.logReadError("Client disconnected", err)
			return
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !c.board.engine.Dispatch(c.sess, ParseCommand(line)) {
			c.log.Info("Client quit")
			return
		}
	}
}

// terminate runs exactly once per connection, whichever path ends it.
// The session leaves every group in one locked section; the USER_LEFT
// broadcasts follow, with no ordering between groups.
func (c *connection) terminate() {
	c.closed.Do(func() {
		if c.sess != nil {
			left := c.board.store.Deregister(c.sess)
			c.log.Info("Cleaning up user", "groups", len(left))
			for _, group := range left {
				c.board.notify.Broadcast(group, userLeftEvent(group, c.sess.Username), "")
			}
		}
		if err := c.conn.Close(); err != nil {
			c.log.Debug("Error closing connection", "err", err)
		}
		c.log.Info("Connection closed")
	})
}

func (c *connection) logReadError(msg string, err error) {
	if errors.Is(err, io.EOF) {
		c.log.Info(msg)
		return
	}
	c.log.Warn(msg, "err", err)
}
