package responder

import (
	"errors"
	"fmt"
)

// Phase identifies which half of the reply action failed.
type Phase string

const (
	PhaseSend     Phase = "send"
	PhaseMarkRead Phase = "mark_read"
)

// ActionError is returned when replying to a matched message fails part way.
// A PhaseMarkRead failure means the reply already went out and the message is
// still unread, so the next run will reply to it again.
type ActionError struct {
	Phase   Phase
	Subject string
	Sender  string
	Err     error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s failed for %q from %s: %v", e.Phase, e.Subject, e.Sender, e.Err)
}

func (e *ActionError) Unwrap() error {
	return e.Err
}

// ReplySent reports whether err happened after the reply was delivered.
func ReplySent(err error) bool {
	var actionErr *ActionError
	if errors.As(err, &actionErr) {
		return actionErr.Phase == PhaseMarkRead
	}
	return false
}
