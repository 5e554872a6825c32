package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/thereayou/voxus/internal/models"
	"github.com/thereayou/voxus/internal/mutation"
	"github.com/thereayou/voxus/internal/propagation"
)

// SendMessageRequest структура для новых сообщений
type SendMessageRequest struct {
	Content string `json:"content" binding:"required"`
	Type    string `json:"type,omitempty"` // text, image, file
}

// EditMessageRequest пустой content отклоняется сервисом, а не биндингом
type EditMessageRequest struct {
	Content string `json:"content"`
}

// MessageCommand полезная нагрузка WebSocket команд правки
type MessageCommand struct {
	MessageID uuid.UUID `json:"message_id"`
	Content   string    `json:"content,omitempty"`
}

// MessageResponse структура для исходящих сообщений
type MessageResponse struct {
	propagation.MessageView
	Type string    `json:"type"`
	User *UserInfo `json:"user,omitempty"`
}

type UserInfo struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
}

// NewMessageResponse отдаёт сообщение в виде для клиента: у удалённого нет текста
func NewMessageResponse(m *models.Message) MessageResponse {
	resp := MessageResponse{
		MessageView: propagation.ViewOf(m).Rendered(),
		Type:        m.Type,
	}
	if m.Sender.ID != uuid.Nil {
		resp.User = &UserInfo{ID: m.Sender.ID, Username: m.Sender.Username}
	}
	return resp
}

type EligibilityResponse struct {
	MessageID         uuid.UUID `json:"message_id"`
	CanEdit           bool      `json:"can_edit"`
	EditRemainingMs   int64     `json:"edit_remaining_ms"`
	EditLabel         string    `json:"edit_label"`
	EditReason        string    `json:"edit_reason,omitempty"`
	CanDelete         bool      `json:"can_delete"`
	DeleteRemainingMs int64     `json:"delete_remaining_ms"`
	DeleteLabel       string    `json:"delete_label"`
	DeleteReason      string    `json:"delete_reason,omitempty"`
	// Undo есть только у автора удалённого сообщения
	Undo       *mutation.PendingUndo `json:"undo,omitempty"`
	UndoLabel  string                `json:"undo_label,omitempty"`
	ServerTime time.Time             `json:"server_time"`
}

func NewEligibilityResponse(id uuid.UUID, el mutation.Eligibility) EligibilityResponse {
	edit, del := el.Edit, el.Delete
	resp := EligibilityResponse{
		MessageID:         id,
		CanEdit:           edit.Allowed,
		EditRemainingMs:   edit.RemainingMs,
		EditLabel:         mutation.FormatRemaining(edit.RemainingMs),
		EditReason:        edit.Reason.String(),
		CanDelete:         del.Allowed,
		DeleteRemainingMs: del.RemainingMs,
		DeleteLabel:       mutation.FormatRemaining(del.RemainingMs),
		DeleteReason:      del.Reason.String(),
		ServerTime:        el.Now,
	}
	if el.Undo != nil {
		resp.Undo = el.Undo
		resp.UndoLabel = mutation.FormatRemaining(el.Undo.RemainingMs)
	}
	return resp
}

// DeleteResponse для scope=everyone содержит окно отмены, для scope=me его нет
type DeleteResponse struct {
	MessageID uuid.UUID             `json:"message_id"`
	Scope     string                `json:"scope"`
	Undo      *mutation.PendingUndo `json:"undo,omitempty"`
	UndoLabel string                `json:"undo_label,omitempty"`
}

type HistoryEntry struct {
	ID         uuid.UUID `json:"id"`
	OldContent string    `json:"old_content"`
	NewContent string    `json:"new_content"`
	EditedAt   time.Time `json:"edited_at"`
	EditedBy   uuid.UUID `json:"edited_by"`
}

func NewHistory(entries []models.EditHistoryEntry) []HistoryEntry {
	out := make([]HistoryEntry, len(entries))
	for i, e := range entries {
		out[i] = HistoryEntry{
			ID:         e.ID,
			OldContent: e.OldContent,
			NewContent: e.NewContent,
			EditedAt:   e.EditedAt,
			EditedBy:   e.EditedBy,
		}
	}
	return out
}
