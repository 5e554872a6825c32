package handlers

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/thereayou/voxus/internal/handlers/dto"
	"github.com/thereayou/voxus/internal/mutation"
	"github.com/thereayou/voxus/internal/websocket"
)

const commandTimeout = 5 * time.Second

// MessageHandler выполняет команды правки, пришедшие по WebSocket.
// Событие для комнаты рассылает шина, автору команды уходит только ответ.
type MessageHandler struct {
	svc *mutation.Service
	log *zap.Logger
}

func NewMessageHandler(svc *mutation.Service, log *zap.Logger) *MessageHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &MessageHandler{svc: svc, log: log}
}

func (h *MessageHandler) HandleMessage(client *websocket.Client, msg *websocket.Message) error {
	var cmd dto.MessageCommand
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &cmd); err != nil {
			client.SendError("invalid_message", websocket.ErrInvalidMessage.Error())
			return websocket.ErrInvalidMessage
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	var err error
	switch msg.Type {
	case websocket.TypeEdit:
		_, err = h.svc.Edit(ctx, cmd.MessageID, client.UserID, cmd.Content)

	case websocket.TypeDelete:
		var undo *mutation.PendingUndo
		if undo, err = h.svc.Delete(ctx, cmd.MessageID, client.UserID); err == nil {
			err = client.SendMessage(websocket.TypeUndoPending, undo)
		}

	case websocket.TypeHide:
		if err = h.svc.Hide(ctx, cmd.MessageID, client.UserID); err == nil {
			err = client.SendMessage(websocket.TypeMessageHidden, dto.MessageCommand{MessageID: cmd.MessageID})
		}

	case websocket.TypeRestore:
		_, err = h.svc.UndoDelete(ctx, cmd.MessageID, client.UserID)

	default:
		h.log.Debug("unknown message type", zap.String("type", string(msg.Type)))
		return nil
	}

	if err != nil {
		_, code := errorCode(err)
		client.SendError(code, mutation.UserMessage(err, h.svc.Policy()))
	}
	return err
}
