package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Время ожидания записи
	writeWait = 10 * time.Second

	// Время ожидания pong от клиента
	pongWait = 60 * time.Second

	// Интервал отправки ping
	pingPeriod = (pongWait * 9) / 10

	// Команды правки короткие, больше 64KB не ждём
	maxMessageSize = 64 * 1024

	sendBuffer = 256
)

// Client представляет одно WebSocket соединение пользователя
type Client struct {
	ID     uuid.UUID
	UserID uuid.UUID
	Conn   *websocket.Conn
	Send   chan []byte
	Rooms  map[uuid.UUID]bool
	Hub    *Hub

	mu sync.RWMutex

	// sendMu защищает Send от записи после закрытия
	sendMu sync.Mutex
	closed bool
}

type ClientMessageHandler interface {
	HandleMessage(client *Client, msg *Message) error
}

func NewClient(hub *Hub, conn *websocket.Conn, userID uuid.UUID) *Client {
	return &Client{
		ID:     uuid.New(),
		UserID: userID,
		Conn:   conn,
		Send:   make(chan []byte, sendBuffer),
		Rooms:  make(map[uuid.UUID]bool),
		Hub:    hub,
	}
}

// ReadPump читает команды клиента, пока соединение живо
func (c *Client) ReadPump(handler ClientMessageHandler) {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		if err := c.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.log.Warn("websocket read", zap.Stringer("client_id", c.ID), zap.Error(err))
			}
			return
		}

		// Отправителем всегда считается владелец соединения
		msg.UserID = c.UserID

		if err := c.Dispatch(&msg, handler); err != nil {
			c.Hub.log.Debug("websocket command failed",
				zap.Stringer("client_id", c.ID),
				zap.String("type", string(msg.Type)),
				zap.Error(err))
		}
	}
}

// Dispatch обрабатывает одну команду: служебные типы сам, остальные через handler.
// Ошибка уже отправлена клиенту, наружу она возвращается только для логов.
func (c *Client) Dispatch(msg *Message, handler ClientMessageHandler) error {
	switch msg.Type {
	case TypePong:
		return nil

	case TypeRoomJoin:
		if msg.RoomID == nil {
			c.SendError("invalid_message", ErrInvalidMessage.Error())
			return ErrInvalidMessage
		}
		if err := c.Hub.JoinRoom(c, *msg.RoomID); err != nil {
			c.SendError("forbidden", err.Error())
			return err
		}
		return c.SendMessage(TypeRoomJoined, map[string]uuid.UUID{"room_id": *msg.RoomID})

	case TypeRoomLeave:
		if msg.RoomID != nil {
			c.Hub.LeaveRoom(c, *msg.RoomID)
		}
		return nil
	}

	if handler == nil {
		return nil
	}
	return handler.HandleMessage(c, msg)
}

// WritePump отправляет сообщения клиенту
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub закрыл канал
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// Дописываем накопившееся, порядок сохраняется
			n := len(c.Send)
			for i := 0; i < n; i++ {
				next, ok := <-c.Send
				if !ok {
					c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				if err := c.Conn.WriteMessage(websocket.TextMessage, next); err != nil {
					return
				}
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) SendMessage(msgType MessageType, data interface{}) error {
	msg := Message{
		Type:      msgType,
		UserID:    c.UserID,
		Timestamp: time.Now(),
	}

	if data != nil {
		jsonData, err := json.Marshal(data)
		if err != nil {
			return err
		}
		msg.Data = jsonData
	}

	msgData, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	if !c.enqueue(msgData) {
		return ErrClientQueueFull
	}
	return nil
}

// enqueue кладёт кадр в очередь без блокировки; false если очередь полна или закрыта
func (c *Client) enqueue(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// SendError отправляет ошибку в том же виде, что и HTTP API
func (c *Client) SendError(code, text string) {
	c.SendMessage(TypeError, map[string]string{
		"error":   code,
		"message": text,
	})
}

func (c *Client) IsInRoom(roomID uuid.UUID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Rooms[roomID]
}

func (c *Client) GetRooms() []uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rooms := make([]uuid.UUID, 0, len(c.Rooms))
	for roomID := range c.Rooms {
		rooms = append(rooms, roomID)
	}
	return rooms
}
