// Package client implements the interactive line client: it translates
// %-prefixed user commands into protocol lines and renders server replies.
package client

import (
	"errors"
	"net"
	"strconv"
	"strings"
)

// Kind says what the client should do with a translated command.
type Kind int

const (
	// KindSend writes Action.Line to the server.
	KindSend Kind = iota
	// KindConnect dials Action.Addr; an empty Addr means the configured default.
	KindConnect
	// KindHelp prints the command list.
	KindHelp
	// KindExit sends QUIT when connected and stops the client.
	KindExit
)

// Action is the result of translating one line of user input.
type Action struct {
	Kind Kind
	Line string
	Addr string
}

var (
	// ErrNotACommand is returned for input without the % prefix.
	ErrNotACommand = errors.New("commands must start with %")
	// ErrUnknownCommand is returned for an unrecognised %command.
	ErrUnknownCommand = errors.New("unknown client command, use %help for a list")
)

// UsageError reports a recognised command with bad arguments.
type UsageError struct {
	Usage string
}

func (e *UsageError) Error() string {
	return "Usage: " + e.Usage
}

type commandDef struct {
	usage     string
	help      string
	translate func(args string) (Action, bool)
}

func send(line string) (Action, bool) {
	return Action{Kind: KindSend, Line: line}, true
}

// noArgs accepts the command only when nothing follows it.
func noArgs(line string) func(string) (Action, bool) {
	return func(args string) (Action, bool) {
		if args != "" {
			return Action{}, false
		}
		return send(line)
	}
}

// oneArg forwards the trimmed remainder, which must not be empty.
func oneArg(verb string) func(string) (Action, bool) {
	return func(args string) (Action, bool) {
		if args == "" {
			return Action{}, false
		}
		return send(verb + " " + args)
	}
}

// twoFields requires exactly two whitespace-separated fields.
func twoFields(verb string) func(string) (Action, bool) {
	return func(args string) (Action, bool) {
		fields := strings.Fields(args)
		if len(fields) != 2 {
			return Action{}, false
		}
		return send(verb + " " + fields[0] + " " + fields[1])
	}
}

func postTo(group string, payload string) (Action, bool) {
	if !strings.Contains(payload, "|") {
		return Action{}, false
	}
	return send("POST " + group + " " + payload)
}

func connect(args string) (Action, bool) {
	fields := strings.Fields(args)
	switch len(fields) {
	case 0:
		return Action{Kind: KindConnect}, true
	case 2:
		if _, err := strconv.ParseUint(fields[1], 10, 16); err != nil {
			return Action{}, false
		}
		return Action{Kind: KindConnect, Addr: net.JoinHostPort(fields[0], fields[1])}, true
	default:
		return Action{}, false
	}
}

// commandOrder fixes the help listing.
var commandOrder = []string{
	"%connect", "%user", "%join", "%post", "%users", "%message", "%leave",
	"%groups", "%groupjoin", "%grouppost", "%groupusers", "%groupleave",
	"%groupmessage", "%history", "%help", "%exit",
}

var commands = map[string]commandDef{
	"%connect": {usage: "%connect [<host> <port>]", help: "connect, defaulting to the configured address", translate: connect},
	"%user":    {usage: "%user <username>", translate: oneArg("USER")},
	"%join":    {usage: "%join", help: "join lobby", translate: noArgs("JOIN lobby")},
	"%post": {usage: "%post <subject>|<body>", translate: func(args string) (Action, bool) {
		return postTo("lobby", args)
	}},
	"%users":   {usage: "%users", help: "users in lobby", translate: noArgs("WHO lobby")},
	"%message": {usage: "%message <id>", help: "get one lobby message", translate: oneArg("GET lobby")},
	"%leave":   {usage: "%leave", help: "leave lobby", translate: noArgs("LEAVE lobby")},
	"%groups":  {usage: "%groups", translate: noArgs("GROUPS")},
	"%groupjoin": {usage: "%groupjoin <group>", translate: oneArg("JOIN")},
	"%grouppost": {usage: "%grouppost <group> <subject>|<body>", translate: func(args string) (Action, bool) {
		group, payload, _ := strings.Cut(args, " ")
		if group == "" {
			return Action{}, false
		}
		return postTo(group, strings.TrimSpace(payload))
	}},
	"%groupusers":   {usage: "%groupusers <group>", translate: oneArg("WHO")},
	"%groupleave":   {usage: "%groupleave <group>", translate: oneArg("LEAVE")},
	"%groupmessage": {usage: "%groupmessage <group> <id>", translate: twoFields("GET")},
	"%history":      {usage: "%history <group> <N>", translate: twoFields("HISTORY")},
	"%help": {usage: "%help", translate: func(string) (Action, bool) {
		return Action{Kind: KindHelp}, true
	}},
	"%exit": {usage: "%exit", translate: func(string) (Action, bool) {
		return Action{Kind: KindExit, Line: "QUIT"}, true
	}},
}

// Translate turns one line of user input into an Action. Arguments are
// checked locally so malformed commands never reach the server.
func Translate(input string) (Action, error) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "%") {
		return Action{}, ErrNotACommand
	}

	name, args, _ := strings.Cut(input, " ")
	name = strings.ToLower(name)
	if name == "%h" {
		name = "%help"
	}

	entry, ok := commands[name]
	if !ok {
		return Action{}, ErrUnknownCommand
	}
	action, ok := entry.translate(strings.TrimSpace(args))
	if !ok {
		return Action{}, &UsageError{Usage: entry.usage}
	}
	return action, nil
}
