package database

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/thereayou/voxus/internal/models"
	"gorm.io/gorm"
)

func (d *Database) CreateRoom(room *models.Room) error {
	return d.db.Create(room).Error
}

func (d *Database) GetRoom(id string) (*models.Room, error) {
	var room models.Room
	if err := d.db.Preload("Members").First(&room, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &room, nil
}

func (d *Database) GetUserRooms(userID string) ([]models.Room, error) {
	var user models.User
	if err := d.db.First(&user, "id = ?", userID).Error; err != nil {
		return nil, err
	}

	var rooms []models.Room
	err := d.db.
		Joins("JOIN room_members rm ON rm.room_id = rooms.id").
		Where("rm.user_id = ?", user.ID).
		Preload("Members").
		Find(&rooms).Error
	return rooms, err
}

func (d *Database) AddUserToRoom(userID, roomID string) error {
	var user models.User
	var room models.Room

	if err := d.db.First(&user, "id = ?", userID).Error; err != nil {
		return err
	}

	if err := d.db.First(&room, "id = ?", roomID).Error; err != nil {
		return err
	}

	return d.db.Model(&room).Association("Members").Append(&user)
}

// IsRoomMember проверяет, участвует ли пользователь в беседе
func (d *Database) IsRoomMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error) {
	var count int64
	err := d.conn(ctx).
		Table("room_members").
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Count(&count).Error
	return count > 0, err
}

func (d *Database) GetOrCreateDirectRoom(user1ID, user2ID uuid.UUID) (*models.Room, error) {
	var room models.Room

	// Ищем существующую direct комнату
	err := d.db.
		Joins("JOIN room_members rm1 ON rm1.room_id = rooms.id").
		Joins("JOIN room_members rm2 ON rm2.room_id = rooms.id").
		Where("rooms.type = 'direct' AND rm1.user_id = ? AND rm2.user_id = ?", user1ID, user2ID).
		Preload("Members").
		First(&room).Error

	if err == nil {
		return &room, nil
	}

	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	room = models.Room{
		Name:      "Direct",
		Type:      "direct",
		CreatedBy: user1ID,
		CreatedAt: time.Now(),
	}

	err = d.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&room).Error; err != nil {
			return err
		}
		var members []models.User
		if err := tx.Where("id IN ?", []uuid.UUID{user1ID, user2ID}).Find(&members).Error; err != nil {
			return err
		}
		if len(members) != 2 {
			return gorm.ErrRecordNotFound
		}
		return tx.Model(&room).Association("Members").Append(&members)
	})
	if err != nil {
		return nil, err
	}

	return &room, nil
}
