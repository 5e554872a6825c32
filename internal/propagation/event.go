// Package propagation fans message mutation events out to every participant
// of a conversation and applies them idempotently on the receiving side.
package propagation

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	MessageEdited   EventType = "message_edited"
	MessageDeleted  EventType = "message_deleted"
	MessageRestored EventType = "message_restored"
)

// Event describes one committed mutation. Version is the message version the
// mutation produced, so events for one message are totally ordered by it.
type Event struct {
	ID        uuid.UUID `json:"id"`
	Type      EventType `json:"type"`
	RoomID    uuid.UUID `json:"room_id"`
	MessageID uuid.UUID `json:"message_id"`
	Version   int64     `json:"version"`
	Content   string    `json:"content,omitempty"`
	At        time.Time `json:"at"`
	By        uuid.UUID `json:"by"`
}

// DedupKey identifies a delivery regardless of how many times it arrives.
func (e Event) DedupKey() string {
	return fmt.Sprintf("%s:%s:%d", e.MessageID, e.Type, e.At.UnixNano())
}

func NewEdited(roomID, messageID uuid.UUID, version int64, content string, editedAt time.Time, by uuid.UUID) Event {
	return Event{
		ID:        uuid.New(),
		Type:      MessageEdited,
		RoomID:    roomID,
		MessageID: messageID,
		Version:   version,
		Content:   content,
		At:        editedAt,
		By:        by,
	}
}

func NewDeleted(roomID, messageID uuid.UUID, version int64, deletedAt time.Time, by uuid.UUID) Event {
	return Event{
		ID:        uuid.New(),
		Type:      MessageDeleted,
		RoomID:    roomID,
		MessageID: messageID,
		Version:   version,
		At:        deletedAt,
		By:        by,
	}
}

func NewRestored(roomID, messageID uuid.UUID, version int64, restoredAt time.Time, by uuid.UUID) Event {
	return Event{
		ID:        uuid.New(),
		Type:      MessageRestored,
		RoomID:    roomID,
		MessageID: messageID,
		Version:   version,
		At:        restoredAt,
		By:        by,
	}
}
