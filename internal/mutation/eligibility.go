package mutation

import (
	"time"

	"github.com/google/uuid"
	"github.com/thereayou/voxus/internal/models"
)

// Reason explains why a mutation is not allowed.
type Reason int

const (
	ReasonNone Reason = iota
	ReasonNotSender
	ReasonAlreadyDeleted
	ReasonWindowExpired
)

func (r Reason) String() string {
	switch r {
	case ReasonNotSender:
		return "not_sender"
	case ReasonAlreadyDeleted:
		return "already_deleted"
	case ReasonWindowExpired:
		return "window_expired"
	default:
		return ""
	}
}

// Err returns the sentinel error for r, nil for ReasonNone.
func (r Reason) Err() error {
	switch r {
	case ReasonNotSender:
		return ErrNotSender
	case ReasonAlreadyDeleted:
		return ErrAlreadyDeleted
	case ReasonWindowExpired:
		return ErrWindowExpired
	default:
		return nil
	}
}

type EligibilityResult struct {
	Allowed     bool
	RemainingMs int64
	Reason      Reason
}

// RemainingMs is the time left in a window anchored at createdAt, floored at zero.
// A createdAt in the future counts as zero elapsed time.
func RemainingMs(createdAt, now time.Time, window time.Duration) int64 {
	elapsed := now.Sub(createdAt)
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := window - elapsed
	if remaining <= 0 {
		return 0
	}
	return remaining.Milliseconds()
}

// CanMutate evaluates the ownership, deletion and window rules in that order.
// The first failing rule sets Reason. RemainingMs is reported even on failure
// so callers can render the countdown.
func CanMutate(msg *models.Message, actorID uuid.UUID, now time.Time, window time.Duration) EligibilityResult {
	remaining := RemainingMs(msg.CreatedAt, now, window)

	if actorID != msg.SenderID {
		return EligibilityResult{RemainingMs: remaining, Reason: ReasonNotSender}
	}
	if msg.IsDeleted {
		return EligibilityResult{RemainingMs: remaining, Reason: ReasonAlreadyDeleted}
	}
	if remaining <= 0 {
		return EligibilityResult{Reason: ReasonWindowExpired}
	}
	return EligibilityResult{Allowed: true, RemainingMs: remaining}
}

// CanEdit applies the edit window of p.
func (p Policy) CanEdit(msg *models.Message, actorID uuid.UUID, now time.Time) EligibilityResult {
	return CanMutate(msg, actorID, now, p.EditWindow)
}

// CanDelete applies the delete window of p.
func (p Policy) CanDelete(msg *models.Message, actorID uuid.UUID, now time.Time) EligibilityResult {
	return CanMutate(msg, actorID, now, p.DeleteWindow)
}
