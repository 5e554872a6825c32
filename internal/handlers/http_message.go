package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thereayou/voxus/internal/handlers/dto"
	"github.com/thereayou/voxus/internal/middleware"
	"github.com/thereayou/voxus/internal/models"
	"github.com/thereayou/voxus/internal/mutation"
)

const (
	ScopeEveryone = "everyone"
	ScopeMe       = "me"
)

// MessageStore то, что нужно HTTP слою от хранилища помимо правок
type MessageStore interface {
	SaveMessage(ctx context.Context, m *models.Message) error
	GetRoomMessages(ctx context.Context, roomID, viewerID uuid.UUID, limit int, before *uuid.UUID) ([]models.Message, error)
	IsRoomMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error)
}

type HTTPMessageHandler struct {
	store MessageStore
	svc   *mutation.Service
	log   *zap.Logger
}

func NewHTTPMessageHandler(store MessageStore, svc *mutation.Service, log *zap.Logger) *HTTPMessageHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPMessageHandler{store: store, svc: svc, log: log}
}

// GetRoomMessages получает историю сообщений комнаты без скрытых у себя
func (h *HTTPMessageHandler) GetRoomMessages(c *gin.Context) {
	userID := middleware.ActorID(c)
	roomID, ok := h.roomParam(c, userID)
	if !ok {
		return
	}

	// Параметры пагинации
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	var beforeID *uuid.UUID
	if before := c.Query("before"); before != "" {
		if id, err := uuid.Parse(before); err == nil {
			beforeID = &id
		}
	}

	messages, err := h.store.GetRoomMessages(c.Request.Context(), roomID, userID, limit, beforeID)
	if err != nil {
		h.log.Error("load room messages", zap.Stringer("room_id", roomID), zap.Error(err))
		writeError(c, mutation.ErrStorageFailure, h.svc.Policy())
		return
	}

	result := make([]dto.MessageResponse, len(messages))
	for i := range messages {
		result[i] = dto.NewMessageResponse(&messages[i])
	}

	c.JSON(http.StatusOK, gin.H{
		"messages": result,
		"has_more": len(messages) == limit,
	})
}

// SendMessage сохраняет новое сообщение; время создания ставит сервер
func (h *HTTPMessageHandler) SendMessage(c *gin.Context) {
	userID := middleware.ActorID(c)
	roomID, ok := h.roomParam(c, userID)
	if !ok {
		return
	}

	var req dto.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	msgType := "text"
	if req.Type != "" {
		msgType = req.Type
	}

	message := &models.Message{
		RoomID:    roomID,
		SenderID:  userID,
		Content:   req.Content,
		Type:      msgType,
		CreatedAt: h.svc.Now(),
		Version:   1,
	}

	if err := h.store.SaveMessage(c.Request.Context(), message); err != nil {
		h.log.Error("save message", zap.Stringer("room_id", roomID), zap.Error(err))
		writeError(c, mutation.ErrStorageFailure, h.svc.Policy())
		return
	}

	c.JSON(http.StatusCreated, dto.NewMessageResponse(message))
}

// Eligibility возвращает, можно ли ещё править и удалять сообщение, и сколько осталось.
// Для чужой комнаты ответ тот же, что для несуществующего сообщения.
func (h *HTTPMessageHandler) Eligibility(c *gin.Context) {
	messageID, ok := messageParam(c)
	if !ok {
		return
	}
	actor := middleware.ActorID(c)
	ctx := c.Request.Context()

	el, err := h.svc.Eligibility(ctx, messageID, actor)
	if err != nil {
		writeError(c, err, h.svc.Policy())
		return
	}

	member, err := h.store.IsRoomMember(ctx, el.RoomID, actor)
	if err != nil {
		h.log.Error("check membership", zap.Stringer("room_id", el.RoomID), zap.Error(err))
		writeError(c, mutation.ErrStorageFailure, h.svc.Policy())
		return
	}
	if !member {
		writeError(c, mutation.ErrNotFound, h.svc.Policy())
		return
	}

	c.JSON(http.StatusOK, dto.NewEligibilityResponse(messageID, el))
}

// UpdateMessage редактирует сообщение в пределах окна правки
func (h *HTTPMessageHandler) UpdateMessage(c *gin.Context) {
	messageID, ok := messageParam(c)
	if !ok {
		return
	}

	var req dto.EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	message, err := h.svc.Edit(c.Request.Context(), messageID, middleware.ActorID(c), req.Content)
	if err != nil {
		writeError(c, err, h.svc.Policy())
		return
	}

	c.JSON(http.StatusOK, dto.NewMessageResponse(message))
}

// DeleteMessage удаляет у всех (scope=everyone, по умолчанию) или только у себя (scope=me)
func (h *HTTPMessageHandler) DeleteMessage(c *gin.Context) {
	messageID, ok := messageParam(c)
	if !ok {
		return
	}
	actor := middleware.ActorID(c)

	switch scope := c.DefaultQuery("scope", ScopeEveryone); scope {
	case ScopeMe:
		if err := h.svc.Hide(c.Request.Context(), messageID, actor); err != nil {
			writeError(c, err, h.svc.Policy())
			return
		}
		c.JSON(http.StatusOK, dto.DeleteResponse{MessageID: messageID, Scope: ScopeMe})

	case ScopeEveryone:
		undo, err := h.svc.Delete(c.Request.Context(), messageID, actor)
		if err != nil {
			writeError(c, err, h.svc.Policy())
			return
		}
		c.JSON(http.StatusOK, dto.DeleteResponse{
			MessageID: messageID,
			Scope:     ScopeEveryone,
			Undo:      undo,
			UndoLabel: mutation.FormatRemaining(undo.RemainingMs),
		})

	default:
		badRequest(c, "scope must be everyone or me")
	}
}

// RestoreMessage отменяет удаление у всех, пока не истекло окно отмены
func (h *HTTPMessageHandler) RestoreMessage(c *gin.Context) {
	messageID, ok := messageParam(c)
	if !ok {
		return
	}

	message, err := h.svc.UndoDelete(c.Request.Context(), messageID, middleware.ActorID(c))
	if err != nil {
		writeError(c, err, h.svc.Policy())
		return
	}

	c.JSON(http.StatusOK, dto.NewMessageResponse(message))
}

// GetHistory история правок; не автору отдаётся пустой список
func (h *HTTPMessageHandler) GetHistory(c *gin.Context) {
	messageID, ok := messageParam(c)
	if !ok {
		return
	}

	entries, err := h.svc.History(c.Request.Context(), messageID, middleware.ActorID(c))
	if err != nil {
		writeError(c, err, h.svc.Policy())
		return
	}

	c.JSON(http.StatusOK, gin.H{"history": dto.NewHistory(entries)})
}

func messageParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid message id")
		return uuid.Nil, false
	}
	return id, true
}

// roomParam разбирает id комнаты и проверяет участие пользователя
func (h *HTTPMessageHandler) roomParam(c *gin.Context, userID uuid.UUID) (uuid.UUID, bool) {
	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid room id")
		return uuid.Nil, false
	}

	isMember, err := h.store.IsRoomMember(c.Request.Context(), roomID, userID)
	if err != nil {
		h.log.Error("check room membership", zap.Stringer("room_id", roomID), zap.Error(err))
		writeError(c, mutation.ErrStorageFailure, h.svc.Policy())
		return uuid.Nil, false
	}
	if !isMember {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "you are not a member of this room"})
		return uuid.Nil, false
	}
	return roomID, true
}
