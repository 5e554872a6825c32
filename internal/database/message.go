package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/thereayou/voxus/internal/models"
	"github.com/thereayou/voxus/internal/mutation"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Колонки, которые меняет движок правок; остальные поля сообщения неизменяемы
var mutableColumns = []string{
	"content", "is_edited", "edited_at", "is_deleted", "deleted_at", "deleted_by", "version",
}

func (d *Database) SaveMessage(ctx context.Context, message *models.Message) error {
	if message.Version == 0 {
		message.Version = 1
	}
	return d.conn(ctx).Omit(clause.Associations).Create(message).Error
}

// Get returns mutation.ErrNotFound for unknown ids.
func (d *Database) Get(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	var message models.Message
	if err := d.conn(ctx).First(&message, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, mutation.ErrNotFound
		}
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}
	return &message, nil
}

// CompareAndSwap пишет next только если версия в базе не изменилась
func (d *Database) CompareAndSwap(ctx context.Context, expectedVersion int64, next *models.Message) error {
	next.Version = expectedVersion + 1

	res := d.conn(ctx).
		Model(&models.Message{}).
		Where("id = ? AND version = ?", next.ID, expectedVersion).
		Select(mutableColumns).
		Updates(next)
	if res.Error != nil {
		return fmt.Errorf("update message %s: %w", next.ID, res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	// Ни одной строки: либо сообщения нет, либо его уже изменили
	var count int64
	if err := d.conn(ctx).Model(&models.Message{}).Where("id = ?", next.ID).Count(&count).Error; err != nil {
		return fmt.Errorf("check message %s: %w", next.ID, err)
	}
	if count == 0 {
		return mutation.ErrNotFound
	}
	return mutation.ErrConflict
}

func (d *Database) Hide(ctx context.Context, messageID, userID uuid.UUID, at time.Time) error {
	hide := models.MessageHide{MessageID: messageID, UserID: userID, HiddenAt: at}
	err := d.conn(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&hide).Error
	if err != nil {
		return fmt.Errorf("hide message %s: %w", messageID, err)
	}
	return nil
}

func (d *Database) HiddenBy(ctx context.Context, messageID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := d.conn(ctx).
		Model(&models.MessageHide{}).
		Where("message_id = ?", messageID).
		Order("user_id").
		Pluck("user_id", &ids).Error
	return ids, err
}

// GetRoomMessages получает сообщения комнаты с пагинацией, без скрытых viewerID
func (d *Database) GetRoomMessages(ctx context.Context, roomID, viewerID uuid.UUID, limit int, beforeID *uuid.UUID) ([]models.Message, error) {
	var messages []models.Message

	query := d.conn(ctx).
		Where("room_id = ?", roomID).
		Where("NOT EXISTS (SELECT 1 FROM message_hides h WHERE h.message_id = messages.id AND h.user_id = ?)", viewerID)

	// Если указан beforeID, получаем сообщения до него
	if beforeID != nil {
		var beforeMsg models.Message
		if err := d.conn(ctx).First(&beforeMsg, "id = ?", beforeID).Error; err == nil {
			query = query.Where("created_at < ?", beforeMsg.CreatedAt)
		}
	}

	err := query.
		Order("created_at DESC").
		Limit(limit).
		Preload("Sender").
		Find(&messages).Error

	if err != nil {
		return nil, err
	}

	// Разворачиваем порядок, чтобы старые сообщения были первыми
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}
