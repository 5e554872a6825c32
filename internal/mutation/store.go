package mutation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/thereayou/voxus/internal/models"
	"github.com/thereayou/voxus/internal/propagation"
)

// MessageRepository is the durable message store. Get returns ErrNotFound for
// unknown ids. CompareAndSwap writes next only if the stored version still
// equals expectedVersion, otherwise it returns ErrConflict.
type MessageRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Message, error)
	CompareAndSwap(ctx context.Context, expectedVersion int64, next *models.Message) error
	Hide(ctx context.Context, messageID, userID uuid.UUID, at time.Time) error
	HiddenBy(ctx context.Context, messageID uuid.UUID) ([]uuid.UUID, error)
}

// HistoryStore is append-only; there is no way to change or remove an entry.
type HistoryStore interface {
	Append(ctx context.Context, entry *models.EditHistoryEntry) (uuid.UUID, error)
	ListByMessage(ctx context.Context, messageID uuid.UUID) ([]models.EditHistoryEntry, error)
}

// Store groups both stores with a transaction boundary. Writes made through
// the Store passed to fn are committed together or not at all.
type Store interface {
	MessageRepository
	HistoryStore
	InTx(ctx context.Context, fn func(tx Store) error) error
}

// Publisher is the sending half of the propagation channel.
type Publisher interface {
	Publish(ctx context.Context, roomID uuid.UUID, ev propagation.Event) error
}
