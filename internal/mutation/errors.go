package mutation

import (
	"errors"
	"fmt"
)

var (
	// policy violations, terminal
	ErrNotSender      = errors.New("not the sender of this message")
	ErrAlreadyDeleted = errors.New("message already deleted")
	ErrNotDeleted     = errors.New("message is not deleted")
	ErrWindowExpired  = errors.New("mutation window expired")
	ErrGraceExpired   = errors.New("undo grace period expired")
	ErrEmptyContent   = errors.New("content is empty")

	ErrNotFound        = errors.New("message not found")
	ErrUnauthenticated = errors.New("unauthenticated")

	// retryable
	ErrConflict       = errors.New("concurrent modification")
	ErrStorageFailure = errors.New("storage failure")
)

// Op names the operation that failed.
type Op string

const (
	OpEdit    Op = "edit"
	OpDelete  Op = "delete"
	OpHide    Op = "hide"
	OpUndo    Op = "undo"
	OpHistory Op = "history"
	OpCheck   Op = "check"
)

// Error ties a failure to the operation and message it happened on.
type Error struct {
	Op        Op
	MessageID string
	Err       error
}

func (e *Error) Error() string {
	if e.MessageID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s message %s: %v", e.Op, e.MessageID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the caller may repeat the request after a fresh read.
func Retryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrStorageFailure)
}

// UserMessage maps an error to a short text suitable for showing to a person.
func UserMessage(err error, p Policy) string {
	var op Op
	var me *Error
	if errors.As(err, &me) {
		op = me.Op
	}

	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthenticated):
		return "Please sign in again"
	case errors.Is(err, ErrNotFound):
		return "Message not found"
	case errors.Is(err, ErrNotSender):
		if op == OpDelete || op == OpUndo {
			return "You can only delete your own messages"
		}
		return "You can only edit your own messages"
	case errors.Is(err, ErrAlreadyDeleted):
		return "This message was deleted"
	case errors.Is(err, ErrNotDeleted):
		return "This message is not deleted"
	case errors.Is(err, ErrWindowExpired):
		if op == OpDelete {
			return fmt.Sprintf("Delete window expired (%s)", humanWindow(p.DeleteWindow))
		}
		return fmt.Sprintf("Edit window expired (%s)", humanWindow(p.EditWindow))
	case errors.Is(err, ErrGraceExpired):
		return "Too late to undo"
	case errors.Is(err, ErrEmptyContent):
		return "Message cannot be empty"
	case errors.Is(err, ErrConflict):
		return "Message changed, please try again"
	default:
		return "Something went wrong, please try again"
	}
}
