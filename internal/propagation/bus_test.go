package propagation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C:
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestMemoryBusDeliversToRoomOnly(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()
	defer bus.Close()

	room, otherRoom := uuid.New(), uuid.New()
	a, err := bus.Subscribe(ctx, room)
	require.NoError(t, err)
	b, err := bus.Subscribe(ctx, room)
	require.NoError(t, err)
	c, err := bus.Subscribe(ctx, otherRoom)
	require.NoError(t, err)

	ev := NewDeleted(room, uuid.New(), 2, time.Now(), uuid.New())
	require.NoError(t, bus.Publish(ctx, room, ev))

	assert.Equal(t, ev.ID, receive(t, a).ID)
	assert.Equal(t, ev.ID, receive(t, b).ID)

	select {
	case got := <-c.C:
		t.Fatalf("unexpected event in other room: %+v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryBusKeepsOrderPerSubscriber(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()
	defer bus.Close()

	room, msg := uuid.New(), uuid.New()
	sub, err := bus.Subscribe(ctx, room)
	require.NoError(t, err)

	// nobody reads while publishing: publishers must not block
	at := time.Now()
	for v := int64(2); v <= 101; v++ {
		require.NoError(t, bus.Publish(ctx, room, NewEdited(room, msg, v, "x", at.Add(time.Duration(v)), uuid.New())))
	}
	for v := int64(2); v <= 101; v++ {
		assert.Equal(t, v, receive(t, sub).Version)
	}
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	bus := NewMemoryBus()
	defer bus.Close()

	room := uuid.New()
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := bus.Subscribe(ctx, room)
	require.NoError(t, err)
	assert.Equal(t, 1, bus.Subscribers(room))

	cancel()
	_, open := <-sub.C
	assert.False(t, open)
	assert.Eventually(t, func() bool { return bus.Subscribers(room) == 0 }, time.Second, 10*time.Millisecond)

	sub.Close()
}

func TestMemoryBusClosed(t *testing.T) {
	ctx := context.Background()
	bus := NewMemoryBus()
	sub, err := bus.Subscribe(ctx, uuid.New())
	require.NoError(t, err)

	bus.Close()
	_, open := <-sub.C
	assert.False(t, open)

	assert.ErrorIs(t, bus.Publish(ctx, uuid.New(), Event{}), ErrBusClosed)
	_, err = bus.Subscribe(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrBusClosed)
}

func TestRedisChannelAndDecode(t *testing.T) {
	b := NewRedisBus(nil, "", nil)
	room := uuid.MustParse("7d6a3c1e-2b1f-4c55-9a7e-0c2f5e6b9a10")
	assert.Equal(t, "room:7d6a3c1e-2b1f-4c55-9a7e-0c2f5e6b9a10:mutations", b.Channel(room))

	_, err := decodeEvent([]byte(`{"type":"message_edited"}`))
	assert.Error(t, err)
	_, err = decodeEvent([]byte(`not json`))
	assert.Error(t, err)

	ev, err := decodeEvent([]byte(`{"type":"message_restored","message_id":"7d6a3c1e-2b1f-4c55-9a7e-0c2f5e6b9a10","version":4}`))
	require.NoError(t, err)
	assert.Equal(t, MessageRestored, ev.Type)
	assert.Equal(t, int64(4), ev.Version)
}
