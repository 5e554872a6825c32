package propagation

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RedisBus carries events between server instances over Redis Pub/Sub, one
// channel per room.
type RedisBus struct {
	rdb    *redis.Client
	prefix string
	log    *zap.Logger
}

func NewRedisBus(rdb *redis.Client, prefix string, log *zap.Logger) *RedisBus {
	if prefix == "" {
		prefix = "room"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisBus{rdb: rdb, prefix: prefix, log: log}
}

func (b *RedisBus) Channel(roomID uuid.UUID) string {
	return fmt.Sprintf("%s:%s:mutations", b.prefix, roomID)
}

func (b *RedisBus) Publish(ctx context.Context, roomID uuid.UUID, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.Channel(roomID), payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, roomID uuid.UUID) (*Subscription, error) {
	channel := b.Channel(roomID)
	ps := b.rdb.Subscribe(ctx, channel)

	// Ждём подтверждения подписки, иначе первые события могут потеряться
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", channel, err)
	}

	out := make(chan Event)
	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			ps.Close()
		})
	}

	go func() {
		defer close(out)
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				stop()
				return
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				ev, err := decodeEvent([]byte(msg.Payload))
				if err != nil {
					b.log.Warn("dropping malformed event", zap.String("channel", channel), zap.Error(err))
					continue
				}
				select {
				case out <- ev:
				case <-done:
					return
				case <-ctx.Done():
					stop()
					return
				}
			}
		}
	}()

	return &Subscription{C: out, close: stop}, nil
}

func decodeEvent(payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, err
	}
	if ev.MessageID == uuid.Nil || ev.Type == "" {
		return Event{}, fmt.Errorf("event missing message id or type")
	}
	return ev, nil
}
