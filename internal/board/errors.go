package board

import "fmt"

// Code is the wire name of a reply or error, sent after OK or ERR.
type Code string

// Error codes. All of them are request-scoped: the connection stays usable.
const (
	CodeBadArgs                Code = "BAD_ARGS"
	CodeUnknownGroup           Code = "UNKNOWN_GROUP"
	CodeNotInGroup             Code = "NOT_IN_GROUP"
	CodeAlreadyInGroup         Code = "ALREADY_IN_GROUP"
	CodeBadMessageID           Code = "BAD_MESSAGE_ID"
	CodeMessageNotFound        Code = "MESSAGE_NOT_FOUND"
	CodeBadHistoryCount        Code = "BAD_HISTORY_COUNT"
	CodeUsernameRequired       Code = "USERNAME_REQUIRED"
	CodeUsernameInUse          Code = "USERNAME_IN_USE"
	CodeFirstCommandMustBeUser Code = "FIRST_COMMAND_MUST_BE_USER"
	CodeUnknownCommand         Code = "UNKNOWN_COMMAND"

	// CodeRateLimited is produced by the transport, not the engine. The
	// offending line is discarded unprocessed.
	CodeRateLimited Code = "RATE_LIMITED"
)

// Success codes.
const (
	CodeWelcome      Code = "WELCOME"
	CodeUserAccepted Code = "USER_ACCEPTED"
	CodeLobbyUsers   Code = "LOBBY_USERS"
	CodePong         Code = "PONG"
	CodeGroupList    Code = "GROUP_LIST"
	CodeJoined       Code = "JOINED"
	CodeLeft         Code = "LEFT"
	CodeGroupUsers   Code = "GROUP_USERS"
	CodePosted       Code = "POSTED"
	CodeMessage      Code = "MESSAGE"
	CodeHistoryEnd   Code = "HISTORY_END"
	CodeBye          Code = "BYE"
)

// Error is a protocol error carrying the code reported to the client.
// errors.Is matches two Errors by code only, so the package-level sentinels
// can be compared against errors with a detail attached.
type Error struct {
	Code   Code
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Detail)
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrBadArgs         = &Error{Code: CodeBadArgs}
	ErrUnknownGroup    = &Error{Code: CodeUnknownGroup}
	ErrNotInGroup      = &Error{Code: CodeNotInGroup}
	ErrBadMessageID    = &Error{Code: CodeBadMessageID}
	ErrMessageNotFound = &Error{Code: CodeMessageNotFound}
	ErrBadHistoryCount = &Error{Code: CodeBadHistoryCount}
	ErrUsernameInUse   = &Error{Code: CodeUsernameInUse}
)

func newError(code Code, detail string) *Error {
	return &Error{Code: code, Detail: detail}
}
