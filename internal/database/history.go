package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/thereayou/voxus/internal/models"
)

// Append only inserts; the history table is never updated or deleted from.
func (d *Database) Append(ctx context.Context, entry *models.EditHistoryEntry) (uuid.UUID, error) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if err := d.conn(ctx).Create(entry).Error; err != nil {
		return uuid.Nil, fmt.Errorf("append edit history for %s: %w", entry.MessageID, err)
	}
	return entry.ID, nil
}

func (d *Database) ListByMessage(ctx context.Context, messageID uuid.UUID) ([]models.EditHistoryEntry, error) {
	var entries []models.EditHistoryEntry
	err := d.conn(ctx).
		Where("message_id = ?", messageID).
		Order("edited_at DESC").
		Find(&entries).Error
	return entries, err
}
