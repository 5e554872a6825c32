package models

import (
	"time"

	"github.com/google/uuid"
)

// User is a participant; only the sender of a message may edit or delete it.
type User struct {
	ID           uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Username     string    `gorm:"uniqueIndex;not null"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null" json:"-"`
	CreatedAt    time.Time
}
