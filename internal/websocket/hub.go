package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thereayou/voxus/internal/propagation"
)

// MessageType определяет типы сообщений
type MessageType string

const (
	// Системные типы
	TypePing  MessageType = "ping"
	TypePong  MessageType = "pong"
	TypeError MessageType = "error"

	// Команды клиента
	TypeEdit    MessageType = "message_edit"
	TypeDelete  MessageType = "message_delete"
	TypeHide    MessageType = "message_hide"
	TypeRestore MessageType = "message_restore"

	// События правок, рассылаемые участникам
	TypeMessageEdited   = MessageType(propagation.MessageEdited)
	TypeMessageDeleted  = MessageType(propagation.MessageDeleted)
	TypeMessageRestored = MessageType(propagation.MessageRestored)

	// Ответы только автору команды
	TypeMessageHidden MessageType = "message_hidden"
	TypeUndoPending   MessageType = "undo_pending"

	// Типы комнат
	TypeRoomJoin   MessageType = "room_join"
	TypeRoomLeave  MessageType = "room_leave"
	TypeRoomJoined MessageType = "room_joined"
	TypeRoomUsers  MessageType = "room_users"
)

type Message struct {
	Type      MessageType     `json:"type"`
	RoomID    *uuid.UUID      `json:"room_id,omitempty"`
	UserID    uuid.UUID       `json:"user_id"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Membership решает, может ли пользователь слушать комнату
type Membership interface {
	IsRoomMember(ctx context.Context, roomID, userID uuid.UUID) (bool, error)
}

type Hub struct {
	clients map[uuid.UUID]*Client

	// Клиенты по UserID (один пользователь может иметь несколько соединений)
	userClients map[uuid.UUID]map[uuid.UUID]*Client

	// Клиенты в комнатах
	rooms map[uuid.UUID]map[uuid.UUID]*Client

	// Подписки на шину событий, по одной на комнату с локальными клиентами
	relays map[uuid.UUID]context.CancelFunc

	register   chan *Client
	unregister chan *Client

	bus     propagation.Bus
	members Membership
	log     *zap.Logger

	mu sync.RWMutex

	// Контекст для graceful shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

// NewHub создает новый Hub
func NewHub(bus propagation.Bus, members Membership, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:     make(map[uuid.UUID]*Client),
		userClients: make(map[uuid.UUID]map[uuid.UUID]*Client),
		rooms:       make(map[uuid.UUID]map[uuid.UUID]*Client),
		relays:      make(map[uuid.UUID]context.CancelFunc),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		bus:         bus,
		members:     members,
		log:         log,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run запускает hub
func (h *Hub) Run() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case <-ticker.C:
			h.ping()
		}
	}
}

// Stop останавливает hub
func (h *Hub) Stop() {
	h.cancel()

	h.mu.Lock()
	defer h.mu.Unlock()

	for roomID, stop := range h.relays {
		stop()
		delete(h.relays, roomID)
	}
	for id, client := range h.clients {
		client.closeSend()
		if client.Conn != nil {
			client.Conn.Close()
		}
		delete(h.clients, id)
	}
	h.rooms = make(map[uuid.UUID]map[uuid.UUID]*Client)
	h.userClients = make(map[uuid.UUID]map[uuid.UUID]*Client)
}

// Register регистрирует нового клиента
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
	}
}

// Unregister отменяет регистрацию клиента
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client.ID] = client

	if _, ok := h.userClients[client.UserID]; !ok {
		h.userClients[client.UserID] = make(map[uuid.UUID]*Client)
	}
	h.userClients[client.UserID][client.ID] = client

	h.log.Debug("client registered", zap.Stringer("client_id", client.ID), zap.Stringer("user_id", client.UserID))
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client.ID]; !ok {
		return
	}

	// Удаляем из всех комнат
	for _, roomID := range client.GetRooms() {
		h.removeFromRoomUnsafe(client, roomID)
	}

	if userClients, ok := h.userClients[client.UserID]; ok {
		delete(userClients, client.ID)
		if len(userClients) == 0 {
			delete(h.userClients, client.UserID)
		}
	}

	delete(h.clients, client.ID)
	client.closeSend()

	h.log.Debug("client unregistered", zap.Stringer("client_id", client.ID), zap.Stringer("user_id", client.UserID))
}

// JoinRoom добавляет клиента в комнату, если он её участник
func (h *Hub) JoinRoom(client *Client, roomID uuid.UUID) error {
	if h.members != nil {
		ok, err := h.members.IsRoomMember(h.ctx, roomID, client.UserID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrUserNotInRoom
		}
	}

	h.mu.Lock()

	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[uuid.UUID]*Client)
	}
	h.rooms[roomID][client.ID] = client
	client.mu.Lock()
	client.Rooms[roomID] = true
	client.mu.Unlock()

	var relayCtx context.Context
	if _, ok := h.relays[roomID]; !ok && h.bus != nil {
		var cancel context.CancelFunc
		relayCtx, cancel = context.WithCancel(h.ctx)
		h.relays[roomID] = cancel
	}

	h.sendRoomUsers(client, roomID)
	h.mu.Unlock()

	// Подписка создаётся до возврата из JoinRoom, чтобы клиент не пропустил
	// событие сразу после входа
	if relayCtx != nil {
		h.startRelay(relayCtx, roomID)
	}
	return nil
}

// LeaveRoom удаляет клиента из комнаты
func (h *Hub) LeaveRoom(client *Client, roomID uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.removeFromRoomUnsafe(client, roomID)
}

func (h *Hub) removeFromRoomUnsafe(client *Client, roomID uuid.UUID) {
	room, ok := h.rooms[roomID]
	if !ok {
		return
	}
	if _, ok := room[client.ID]; !ok {
		return
	}

	delete(room, client.ID)
	client.mu.Lock()
	delete(client.Rooms, roomID)
	client.mu.Unlock()

	if len(room) == 0 {
		delete(h.rooms, roomID)
		if stop, ok := h.relays[roomID]; ok {
			stop()
			delete(h.relays, roomID)
		}
	}
}

// startRelay подписывает узел на события комнаты и пересылает их локальным клиентам
func (h *Hub) startRelay(ctx context.Context, roomID uuid.UUID) {
	sub, err := h.bus.Subscribe(ctx, roomID)
	if err != nil {
		h.log.Error("subscribe to room events", zap.Stringer("room_id", roomID), zap.Error(err))
		h.mu.Lock()
		if stop, ok := h.relays[roomID]; ok {
			stop()
			delete(h.relays, roomID)
		}
		h.mu.Unlock()
		return
	}

	go func() {
		defer sub.Close()
		for ev := range sub.C {
			data, err := encodeEvent(ev)
			if err != nil {
				h.log.Warn("encode room event", zap.Stringer("message_id", ev.MessageID), zap.Error(err))
				continue
			}
			h.SendToRoom(roomID, data)
		}
	}()
}

func encodeEvent(ev propagation.Event) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	roomID := ev.RoomID
	return json.Marshal(Message{
		Type:      MessageType(ev.Type),
		RoomID:    &roomID,
		UserID:    ev.By,
		Data:      payload,
		Timestamp: ev.At,
	})
}

// SendToUser отправляет сообщение всем соединениям пользователя
func (h *Hub) SendToUser(userID uuid.UUID, message []byte) {
	h.mu.RLock()
	slow := h.deliverAll(h.userClients[userID], message)
	h.mu.RUnlock()

	h.dropSlow(slow)
}

// SendToRoom отправляет сообщение в комнату
func (h *Hub) SendToRoom(roomID uuid.UUID, message []byte) {
	h.mu.RLock()
	slow := h.deliverAll(h.rooms[roomID], message)
	h.mu.RUnlock()

	h.dropSlow(slow)
}

// deliverAll возвращает клиентов, чья очередь переполнена
func (h *Hub) deliverAll(clients map[uuid.UUID]*Client, message []byte) []*Client {
	var slow []*Client
	for _, client := range clients {
		if !client.enqueue(message) {
			slow = append(slow, client)
		}
	}
	return slow
}

// dropSlow отключает клиентов, пропустивших событие. Пропущенное удаление
// оставило бы у них удалённый текст, поэтому клиент переподключается и
// перечитывает историю комнаты.
func (h *Hub) dropSlow(slow []*Client) {
	for _, client := range slow {
		h.log.Warn("client send queue full, disconnecting",
			zap.Stringer("client_id", client.ID),
			zap.Stringer("user_id", client.UserID))
		h.unregisterClient(client)
	}
}

func (h *Hub) sendRoomUsers(client *Client, roomID uuid.UUID) {
	userMap := make(map[uuid.UUID]bool)
	for _, c := range h.rooms[roomID] {
		userMap[c.UserID] = true
	}
	users := make([]uuid.UUID, 0, len(userMap))
	for userID := range userMap {
		users = append(users, userID)
	}

	msg := Message{
		Type:      TypeRoomUsers,
		RoomID:    &roomID,
		UserID:    client.UserID,
		Timestamp: time.Now(),
	}

	if data, err := json.Marshal(users); err == nil {
		msg.Data = data
		if msgData, err := json.Marshal(msg); err == nil {
			client.enqueue(msgData)
		}
	}
}

func (h *Hub) ping() {
	h.mu.RLock()
	defer h.mu.RUnlock()

	msg := Message{
		Type:      TypePing,
		Timestamp: time.Now(),
	}

	if data, err := json.Marshal(msg); err == nil {
		for _, client := range h.clients {
			client.enqueue(data)
		}
	}
}

// GetRoomUsers возвращает список пользователей в комнате
func (h *Hub) GetRoomUsers(roomID uuid.UUID) []uuid.UUID {
	h.mu.RLock()
	defer h.mu.RUnlock()

	userMap := make(map[uuid.UUID]bool)
	for _, client := range h.rooms[roomID] {
		userMap[client.UserID] = true
	}

	users := make([]uuid.UUID, 0, len(userMap))
	for userID := range userMap {
		users = append(users, userID)
	}
	return users
}

// HasRelay сообщает, слушает ли узел события комнаты
func (h *Hub) HasRelay(roomID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.relays[roomID]
	return ok
}
