package mutation

import (
	"time"

	"github.com/google/uuid"
	"github.com/thereayou/voxus/internal/models"
)

// PendingUndo is the compensating action offered after a delete-for-everyone.
// It carries no server state: the window is recomputed from DeletedAt.
type PendingUndo struct {
	MessageID   uuid.UUID `json:"message_id"`
	DeletedAt   time.Time `json:"deleted_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	RemainingMs int64     `json:"remaining_ms"`
}

// UndoCoordinator answers "can this delete still be reversed" on demand.
type UndoCoordinator struct {
	grace time.Duration
}

func NewUndoCoordinator(grace time.Duration) UndoCoordinator {
	return UndoCoordinator{grace: grace}
}

// RemainingUndoMs is zero for messages that are not deleted.
func (u UndoCoordinator) RemainingUndoMs(msg *models.Message, now time.Time) int64 {
	if !msg.IsDeleted || msg.DeletedAt == nil {
		return 0
	}
	remaining := u.grace - now.Sub(*msg.DeletedAt)
	if remaining <= 0 {
		return 0
	}
	if remaining > u.grace {
		remaining = u.grace
	}
	return remaining.Milliseconds()
}

// Pending returns nil when msg is not deleted.
func (u UndoCoordinator) Pending(msg *models.Message, now time.Time) *PendingUndo {
	if !msg.IsDeleted || msg.DeletedAt == nil {
		return nil
	}
	return &PendingUndo{
		MessageID:   msg.ID,
		DeletedAt:   *msg.DeletedAt,
		ExpiresAt:   msg.DeletedAt.Add(u.grace),
		RemainingMs: u.RemainingUndoMs(msg, now),
	}
}

// check validates a restore by actorID at now. The boundary now-DeletedAt == grace
// is still inside the window.
func (u UndoCoordinator) check(msg *models.Message, actorID uuid.UUID, now time.Time) error {
	if actorID != msg.SenderID {
		return ErrNotSender
	}
	if !msg.IsDeleted || msg.DeletedAt == nil {
		return ErrNotDeleted
	}
	if now.Sub(*msg.DeletedAt) > u.grace {
		return ErrGraceExpired
	}
	return nil
}
