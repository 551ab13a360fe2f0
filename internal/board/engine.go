package board

import (
	"errors"
	"log/slog"
	"math"
	"strconv"
	"strings"
)

// unusedMessageID is below the first id the store allocates.
const unusedMessageID int64 = 0

// Engine runs the commands of authenticated sessions. Each handler holds the
// store lock only for validation and mutation; replies and broadcasts are
// written after the lock is released.
type Engine struct {
	store  *Store
	notify *Notifier
	log    *slog.Logger
}

// NewEngine creates an Engine operating on store.
func NewEngine(store *Store, notify *Notifier, log *slog.Logger) *Engine {
	return &Engine{store: store, notify: notify, log: log}
}

// Dispatch routes cmd to its handler. It returns false when the session
// asked to end the connection.
func (e *Engine) Dispatch(sess *Session, cmd Command) bool {
	first, rest := cmd.Split()

	switch cmd.Verb {
	case VerbPing:
		e.Ping(sess)
	case VerbGroups:
		e.Groups(sess)
	case VerbJoin:
		e.Join(sess, first)
	case VerbLeave:
		e.Leave(sess, first)
	case VerbWho:
		e.Who(sess, first)
	case VerbPost:
		if first == "" || rest == "" {
			e.notify.SendErr(sess, CodeBadArgs, "POST <group> <subject>|<body>")
			return true
		}
		e.Post(sess, first, rest)
	case VerbGet:
		if first == "" || rest == "" {
			e.notify.SendErr(sess, CodeBadArgs, "GET <group> <id>")
			return true
		}
		e.Get(sess, first, rest)
	case VerbHistory:
		if first == "" || rest == "" {
			e.notify.SendErr(sess, CodeBadArgs, "HISTORY <group> <N>")
			return true
		}
		e.History(sess, first, rest)
	case VerbQuit:
		e.Quit(sess)
		return false
	default:
		e.notify.SendErr(sess, CodeUnknownCommand, cmd.Verb)
	}
	return true
}

// Ping is a liveness check that touches no state.
func (e *Engine) Ping(sess *Session) {
	e.notify.SendOK(sess, CodePong, "")
}

// Groups lists every group name, sorted and comma-joined.
func (e *Engine) Groups(sess *Session) {
	e.notify.SendOK(sess, CodeGroupList, strings.Join(e.store.GroupNames(), ","))
}

// Join adds the session to a pre-created group and tells the other members.
func (e *Engine) Join(sess *Session, group string) {
	group = strings.TrimSpace(group)
	if group == "" {
		e.notify.SendErr(sess, CodeBadArgs, "JOIN requires a group name")
		return
	}

	joined, err := e.store.Join(sess, group)
	if err != nil {
		e.notify.SendError(sess, err)
		return
	}
	if !joined {
		e.notify.SendOK(sess, CodeAlreadyInGroup, group)
		return
	}

	e.log.Info("User joined group", "user", sess.Username, "group", group)
	e.notify.SendOK(sess, CodeJoined, group)
	e.notify.Broadcast(group, userJoinedEvent(group, sess.Username), sess.Username)
}

// Leave removes the session from a group and tells the remaining members.
func (e *Engine) Leave(sess *Session, group string) {
	group = strings.TrimSpace(group)
	if group == "" {
		e.notify.SendErr(sess, CodeBadArgs, "LEAVE requires a group name")
		return
	}

	if err := e.store.Leave(sess, group); err != nil {
		e.notify.SendError(sess, err)
		return
	}

	e.log.Info("User left group", "user", sess.Username, "group", group)
	e.notify.SendOK(sess, CodeLeft, group)
	e.notify.Broadcast(group, userLeftEvent(group, sess.Username), sess.Username)
}

// Who lists the members of a group, prefixed by the group name.
func (e *Engine) Who(sess *Session, group string) {
	group = strings.TrimSpace(group)
	if group == "" {
		e.notify.SendErr(sess, CodeBadArgs, "WHO requires a group name")
		return
	}

	members, err := e.store.Members(group)
	if err != nil {
		e.notify.SendError(sess, err)
		return
	}
	e.notify.SendOK(sess, CodeGroupUsers, group+" "+strings.Join(members, ","))
}

// Post appends subject|body to a group the session belongs to and
// broadcasts the body-less summary to every member, the poster included.
func (e *Engine) Post(sess *Session, group, payload string) {
	group = strings.TrimSpace(group)
	subject, body, ok := parseSubjectBody(payload)
	if !ok {
		e.notify.SendErr(sess, CodeBadArgs, "POST payload must be 'subject|body'")
		return
	}

	msg, err := e.store.Post(sess, group, subject, body)
	if err != nil {
		e.notify.SendError(sess, err)
		return
	}

	e.log.Debug("Message posted", "user", sess.Username, "group", group, "id", msg.ID)
	e.notify.SendOK(sess, CodePosted, group+" "+strconv.FormatInt(msg.ID, 10))
	e.notify.Broadcast(group, messageEvent(group, msg), "")
}

// Get returns one message in full, body included.
func (e *Engine) Get(sess *Session, group, rawID string) {
	group = strings.TrimSpace(group)
	rawID = strings.TrimSpace(rawID)

	// ParseUint rejects signs; bit size 63 keeps the value inside int64.
	id, err := strconv.ParseUint(rawID, 10, 63)
	switch {
	case errors.Is(err, strconv.ErrRange):
		e.messageOutOfRange(sess, group, rawID)
		return
	case err != nil:
		e.notify.SendErr(sess, CodeBadMessageID, rawID)
		return
	}

	msg, err := e.store.Message(sess, group, int64(id))
	if err != nil {
		e.notify.SendError(sess, err)
		return
	}
	e.notify.SendOK(sess, CodeMessage, group+" "+Full(msg))
}

// messageOutOfRange answers a well-formed id that no message can carry. The
// group and membership checks still apply first.
func (e *Engine) messageOutOfRange(sess *Session, group, rawID string) {
	_, err := e.store.Message(sess, group, unusedMessageID)
	if errors.Is(err, ErrMessageNotFound) {
		err = newError(CodeMessageNotFound, group+":"+rawID)
	}
	e.notify.SendError(sess, err)
}

// History replays the last n messages of a group as EVENT lines and ends
// with a single HISTORY_END acknowledgment.
func (e *Engine) History(sess *Session, group, rawCount string) {
	group = strings.TrimSpace(group)
	rawCount = strings.TrimSpace(rawCount)
	n, err := parseHistoryCount(rawCount)
	if err != nil {
		e.notify.SendError(sess, err)
		return
	}

	msgs, err := e.store.History(sess, group, n)
	if err != nil {
		e.notify.SendError(sess, err)
		return
	}

	for _, msg := range msgs {
		e.notify.SendEvent(sess, historyEvent(group, msg))
	}
	e.notify.SendOK(sess, CodeHistoryEnd, group)
}

// Quit acknowledges; the caller closes the connection after the reply.
func (e *Engine) Quit(sess *Session) {
	e.notify.SendOK(sess, CodeBye, "")
}

// parseHistoryCount accepts a positive decimal integer. Counts too large to
// represent mean "everything".
func parseHistoryCount(raw string) (int, error) {
	n, err := strconv.ParseUint(raw, 10, 63)
	switch {
	case errors.Is(err, strconv.ErrRange):
		return math.MaxInt, nil
	case err != nil:
		return 0, newError(CodeBadHistoryCount, raw)
	case n == 0:
		return 0, newError(CodeBadHistoryCount, "N must be > 0")
	}
	return int(min(n, uint64(math.MaxInt))), nil
}
