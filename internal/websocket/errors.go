package websocket

import "errors"

var (
	// ErrClientQueueFull клиент не успевает читать, сообщение отброшено
	ErrClientQueueFull = errors.New("client message queue is full")
	ErrInvalidMessage  = errors.New("invalid message format")
	// ErrUserNotInRoom события комнаты получают только её участники
	ErrUserNotInRoom = errors.New("user not in room")
)
