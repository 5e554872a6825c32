package models

import (
	"time"

	"github.com/google/uuid"
)

type Message struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	RoomID    uuid.UUID `gorm:"type:uuid;not null;index"`
	SenderID  uuid.UUID `gorm:"type:uuid;not null"`
	Content   string    `gorm:"not null"`
	Type      string    `gorm:"default:'text'"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime:false"`

	IsEdited bool `gorm:"not null;default:false"`
	EditedAt *time.Time

	// Мягкое удаление: контент остаётся для восстановления
	IsDeleted bool `gorm:"not null;default:false"`
	DeletedAt *time.Time
	DeletedBy *uuid.UUID `gorm:"type:uuid"`

	// Счётчик для compare-and-swap
	Version int64 `gorm:"not null;default:1"`

	// Связи
	Sender User `gorm:"foreignKey:SenderID"`
	Room   Room `gorm:"foreignKey:RoomID"`
}

// MessageHide скрывает сообщение только для одного пользователя ("удалить у себя")
type MessageHide struct {
	MessageID uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey"`
	HiddenAt  time.Time `gorm:"not null"`
}

// EditHistoryEntry is one append-only record of a content change.
type EditHistoryEntry struct {
	ID         uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	MessageID  uuid.UUID `gorm:"type:uuid;not null;index"`
	OldContent string    `gorm:"not null"`
	NewContent string    `gorm:"not null"`
	EditedBy   uuid.UUID `gorm:"type:uuid;not null"`
	EditedAt   time.Time `gorm:"not null;index"`
}

func (EditHistoryEntry) TableName() string {
	return "message_edit_history"
}

// Clone returns a copy without shared pointers, safe to mutate.
func (m *Message) Clone() *Message {
	c := *m
	if m.EditedAt != nil {
		t := *m.EditedAt
		c.EditedAt = &t
	}
	if m.DeletedAt != nil {
		t := *m.DeletedAt
		c.DeletedAt = &t
	}
	if m.DeletedBy != nil {
		id := *m.DeletedBy
		c.DeletedBy = &id
	}
	return &c
}
