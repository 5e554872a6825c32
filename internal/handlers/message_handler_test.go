package handlers

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thereayou/voxus/internal/mutation"
	"github.com/thereayou/voxus/internal/websocket"
)

func nextFrame(t *testing.T, c *websocket.Client) websocket.Message {
	t.Helper()
	select {
	case data := <-c.Send:
		var msg websocket.Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("no frame for client")
		return websocket.Message{}
	}
}

func command(t *testing.T, typ websocket.MessageType, id uuid.UUID, content string) *websocket.Message {
	t.Helper()
	data, err := json.Marshal(map[string]interface{}{"message_id": id, "content": content})
	require.NoError(t, err)
	return &websocket.Message{Type: typ, Data: data}
}

func TestWebSocketCommands(t *testing.T) {
	f := newAPIFixture(t)
	hub := websocket.NewHub(f.bus, f.store, nil)
	defer hub.Stop()
	h := NewMessageHandler(f.svc, nil)

	sender := websocket.NewClient(hub, nil, f.sender)
	other := websocket.NewClient(hub, nil, f.other)

	t.Run("edit", func(t *testing.T) {
		require.NoError(t, h.HandleMessage(sender, command(t, websocket.TypeEdit, f.msg, "B")))
		assert.Empty(t, sender.Send)

		msg, err := f.store.Get(context.Background(), f.msg)
		require.NoError(t, err)
		assert.Equal(t, "B", msg.Content)
	})

	t.Run("edit by other", func(t *testing.T) {
		err := h.HandleMessage(other, command(t, websocket.TypeEdit, f.msg, "X"))
		assert.ErrorIs(t, err, mutation.ErrNotSender)

		frame := nextFrame(t, other)
		assert.Equal(t, websocket.TypeError, frame.Type)
		assert.JSONEq(t, `{"error":"not_sender","message":"You can only edit your own messages"}`, string(frame.Data))
	})

	t.Run("hide", func(t *testing.T) {
		require.NoError(t, h.HandleMessage(other, command(t, websocket.TypeHide, f.msg, "")))
		frame := nextFrame(t, other)
		assert.Equal(t, websocket.TypeMessageHidden, frame.Type)

		hidden, err := f.store.HiddenBy(context.Background(), f.msg)
		require.NoError(t, err)
		assert.Equal(t, []uuid.UUID{f.other}, hidden)
	})

	t.Run("delete offers undo", func(t *testing.T) {
		require.NoError(t, h.HandleMessage(sender, command(t, websocket.TypeDelete, f.msg, "")))
		frame := nextFrame(t, sender)
		assert.Equal(t, websocket.TypeUndoPending, frame.Type)

		var undo mutation.PendingUndo
		require.NoError(t, json.Unmarshal(frame.Data, &undo))
		assert.Equal(t, f.msg, undo.MessageID)
		assert.Equal(t, int64(5000), undo.RemainingMs)
	})

	t.Run("restore after grace", func(t *testing.T) {
		f.clock.Advance(6 * time.Second)
		err := h.HandleMessage(sender, command(t, websocket.TypeRestore, f.msg, ""))
		assert.ErrorIs(t, err, mutation.ErrGraceExpired)

		frame := nextFrame(t, sender)
		assert.Contains(t, string(frame.Data), `"grace_expired"`)
	})

	t.Run("malformed payload", func(t *testing.T) {
		err := h.HandleMessage(sender, &websocket.Message{Type: websocket.TypeEdit, Data: json.RawMessage(`"x"`)})
		assert.ErrorIs(t, err, websocket.ErrInvalidMessage)
		assert.Equal(t, websocket.TypeError, nextFrame(t, sender).Type)
	})

	t.Run("unknown type is ignored", func(t *testing.T) {
		assert.NoError(t, h.HandleMessage(sender, &websocket.Message{Type: "typing"}))
		assert.Empty(t, sender.Send)
	})
}
