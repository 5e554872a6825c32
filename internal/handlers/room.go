package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thereayou/voxus/internal/middleware"
	"github.com/thereayou/voxus/internal/models"
)

type RoomStore interface {
	CreateRoom(room *models.Room) error
	GetRoom(id string) (*models.Room, error)
	GetUserRooms(userID string) ([]models.Room, error)
	AddUserToRoom(userID, roomID string) error
	GetOrCreateDirectRoom(user1ID, user2ID uuid.UUID) (*models.Room, error)
}

// OnlineUsers сообщает, кто из участников сейчас подключён к этому узлу
type OnlineUsers interface {
	GetRoomUsers(roomID uuid.UUID) []uuid.UUID
}

// RoomHandler создаёт беседы, участники которых получают события правок
type RoomHandler struct {
	rooms  RoomStore
	online OnlineUsers
	log    *zap.Logger
}

func NewRoomHandler(rooms RoomStore, online OnlineUsers, log *zap.Logger) *RoomHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &RoomHandler{rooms: rooms, online: online, log: log}
}

// CreateRoom создает новую групповую комнату
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	userID := middleware.ActorID(c)

	var req struct {
		Name      string      `json:"name" binding:"required"`
		MemberIDs []uuid.UUID `json:"member_ids"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	room := &models.Room{
		Name:      req.Name,
		Type:      "group",
		CreatedBy: userID,
		CreatedAt: time.Now(),
	}

	if err := h.rooms.CreateRoom(room); err != nil {
		h.log.Error("create room", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "failed to create room"})
		return
	}

	// Добавляем создателя в комнату
	if err := h.rooms.AddUserToRoom(userID.String(), room.ID.String()); err != nil {
		h.log.Error("add creator to room", zap.Stringer("room_id", room.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "failed to add creator to room"})
		return
	}

	// Добавляем других участников
	for _, memberID := range req.MemberIDs {
		if memberID == userID {
			continue
		}
		if err := h.rooms.AddUserToRoom(memberID.String(), room.ID.String()); err != nil {
			h.log.Warn("add member to room", zap.Stringer("room_id", room.ID), zap.Stringer("user_id", memberID), zap.Error(err))
		}
	}

	fullRoom, err := h.rooms.GetRoom(room.ID.String())
	if err != nil {
		fullRoom = room
	}

	c.JSON(http.StatusCreated, h.formatRoomResponse(fullRoom))
}

// CreateDirectRoom создает или получает direct комнату между двумя пользователями
func (h *RoomHandler) CreateDirectRoom(c *gin.Context) {
	userID := middleware.ActorID(c)

	var req struct {
		UserID uuid.UUID `json:"user_id" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	if userID == req.UserID {
		badRequest(c, "cannot create direct room with yourself")
		return
	}

	room, err := h.rooms.GetOrCreateDirectRoom(userID, req.UserID)
	if err != nil {
		h.log.Error("create direct room", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "failed to create direct room"})
		return
	}

	c.JSON(http.StatusOK, h.formatRoomResponse(room))
}

// GetMyRooms получает список комнат пользователя
func (h *RoomHandler) GetMyRooms(c *gin.Context) {
	userID := middleware.ActorID(c)

	rooms, err := h.rooms.GetUserRooms(userID.String())
	if err != nil {
		h.log.Error("list rooms", zap.Stringer("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "failed to get rooms"})
		return
	}

	result := make([]gin.H, len(rooms))
	for i := range rooms {
		result[i] = h.formatRoomResponse(&rooms[i])
	}

	c.JSON(http.StatusOK, gin.H{"rooms": result})
}

// GetRoom получает информацию о конкретной комнате
func (h *RoomHandler) GetRoom(c *gin.Context) {
	userID := middleware.ActorID(c)

	room, err := h.rooms.GetRoom(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "room not found"})
		return
	}

	if !room.HasMember(userID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "you are not a member of this room"})
		return
	}

	c.JSON(http.StatusOK, h.formatRoomResponse(room))
}

// formatRoomResponse форматирует ответ для комнаты
func (h *RoomHandler) formatRoomResponse(room *models.Room) gin.H {
	members := make([]gin.H, len(room.Members))
	for i, member := range room.Members {
		members[i] = gin.H{
			"id":       member.ID,
			"username": member.Username,
		}
	}

	response := gin.H{
		"id":         room.ID,
		"name":       room.Name,
		"type":       room.Type,
		"created_by": room.CreatedBy,
		"created_at": room.CreatedAt,
		"members":    members,
	}
	if h.online != nil {
		response["online_users"] = h.online.GetRoomUsers(room.ID)
	}
	return response
}
