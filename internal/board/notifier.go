package board

import (
	"errors"
	"log/slog"
)

// Notifier delivers outbound lines to sessions. Every send is best-effort:
// a failed write is logged and reported to the caller, who discards it, so a
// slow or dead peer never affects anyone else.
type Notifier struct {
	store *Store
	log   *slog.Logger
}

// NewNotifier creates a Notifier that resolves broadcast recipients
// through store.
func NewNotifier(store *Store, log *slog.Logger) *Notifier {
	return &Notifier{store: store, log: log}
}

// SendLine writes one line to sess.
func (n *Notifier) SendLine(sess *Session, line string) error {
	if err := sess.writeLine(line); err != nil {
		n.log.Warn("Failed to send line",
			"user", sess.Username,
			"conn", sess.ConnID,
			"err", err)
		return err
	}
	return nil
}

// SendOK writes "OK <code> [detail]".
func (n *Notifier) SendOK(sess *Session, code Code, detail string) error {
	return n.SendLine(sess, formatLine(PrefixOK, code, detail))
}

// SendErr writes "ERR <code> [detail]".
func (n *Notifier) SendErr(sess *Session, code Code, detail string) error {
	return n.SendLine(sess, formatLine(PrefixErr, code, detail))
}

// SendError reports a store error to sess. Errors that are not protocol
// errors are logged and otherwise swallowed.
func (n *Notifier) SendError(sess *Session, err error) error {
	var protoErr *Error
	if !errors.As(err, &protoErr) {
		n.log.Error("Unexpected error while handling command",
			"user", sess.Username,
			"err", err)
		return err
	}
	return n.SendErr(sess, protoErr.Code, protoErr.Detail)
}

// SendEvent writes "EVENT <payload>".
func (n *Notifier) SendEvent(sess *Session, payload string) error {
	return n.SendLine(sess, PrefixEvent+" "+payload)
}

// Broadcast sends "EVENT <payload>" to every live member of group except
// exclude (empty excludes nobody). Recipients are snapshotted under the
// store lock and written to after it is released. An unknown group is a
// no-op. It returns the number of successful deliveries.
func (n *Notifier) Broadcast(group, payload, exclude string) int {
	recipients, ok := n.store.Recipients(group, exclude)
	if !ok {
		return 0
	}

	delivered := 0
	for _, sess := range recipients {
		if n.SendEvent(sess, payload) == nil {
			delivered++
		}
	}
	n.log.Debug("Broadcast delivered",
		"group", group,
		"targets", len(recipients),
		"delivered", delivered)
	return delivered
}
