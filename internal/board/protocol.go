package board

import (
	"strconv"
	"strings"
	"time"
)

// Verbs accepted on the wire. Matching is done after upper-casing.
const (
	VerbUser    = "USER"
	VerbPing    = "PING"
	VerbGroups  = "GROUPS"
	VerbJoin    = "JOIN"
	VerbLeave   = "LEAVE"
	VerbWho     = "WHO"
	VerbPost    = "POST"
	VerbGet     = "GET"
	VerbHistory = "HISTORY"
	VerbQuit    = "QUIT"
)

// Line prefixes of everything the server sends.
const (
	PrefixOK    = "OK"
	PrefixErr   = "ERR"
	PrefixEvent = "EVENT"
)

// Event names carried after the EVENT prefix.
const (
	EventUserJoined = "USER_JOINED"
	EventUserLeft   = "USER_LEFT"
	EventMessage    = "MESSAGE"
	EventHistory    = "HISTORY"
)

// Command is one inbound line split into its verb and the raw remainder.
type Command struct {
	Verb string
	Args string
}

// ParseCommand splits a trimmed line on the first space. The verb is
// upper-cased; Args keeps its inner spacing so POST bodies survive intact.
func ParseCommand(line string) Command {
	verb, args, _ := strings.Cut(strings.TrimSpace(line), " ")
	return Command{
		Verb: strings.ToUpper(verb),
		Args: strings.TrimSpace(args),
	}
}

// Split returns the first space-delimited argument and everything after it.
func (c Command) Split() (string, string) {
	first, rest, _ := strings.Cut(c.Args, " ")
	return strings.TrimSpace(first), strings.TrimSpace(rest)
}

// FormatTimestamp renders message times as UTC RFC 3339 with nanoseconds.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Summary is the body-less form used by broadcasts and history replay:
// id|sender|timestamp|subject.
func Summary(m Message) string {
	return strings.Join([]string{
		strconv.FormatInt(m.ID, 10),
		m.Sender,
		FormatTimestamp(m.CreatedAt),
		m.Subject,
	}, "|")
}

// Full is Summary followed by |body, as returned by GET.
func Full(m Message) string {
	return Summary(m) + "|" + m.Body
}

// parseSubjectBody splits subject|body on the first pipe. Both halves are
// trimmed; the subject must not be empty, the body may be.
func parseSubjectBody(payload string) (string, string, bool) {
	subject, body, found := strings.Cut(payload, "|")
	if !found {
		return "", "", false
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", "", false
	}
	return subject, strings.TrimSpace(body), true
}

// ErrLine formats an ERR reply for transports that answer a line without
// handing it to the board.
func ErrLine(code Code, detail string) string {
	return formatLine(PrefixErr, code, detail)
}

func formatLine(prefix string, code Code, detail string) string {
	if detail == "" {
		return prefix + " " + string(code)
	}
	return prefix + " " + string(code) + " " + detail
}

func userJoinedEvent(group, username string) string {
	return EventUserJoined + " " + group + " " + username
}

func userLeftEvent(group, username string) string {
	return EventUserLeft + " " + group + " " + username
}

func messageEvent(group string, m Message) string {
	return EventMessage + " " + group + " " + Summary(m)
}

func historyEvent(group string, m Message) string {
	return EventHistory + " " + group + " " + Summary(m)
}
