package models

import (
	"time"

	"github.com/google/uuid"
)

// Room is a conversation; its members are the participants who receive mutation events.
type Room struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Name      string    `gorm:"not null"`
	Type      string    `gorm:"not null;check:type IN ('direct','group')"`
	CreatedBy uuid.UUID
	CreatedAt time.Time

	// Связи
	Members  []User    `gorm:"many2many:room_members"`
	Messages []Message `gorm:"foreignKey:RoomID"`
}

func (r *Room) HasMember(userID uuid.UUID) bool {
	for _, m := range r.Members {
		if m.ID == userID {
			return true
		}
	}
	return false
}
