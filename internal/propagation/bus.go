package propagation

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

var ErrBusClosed = errors.New("propagation bus closed")

// Bus delivers events to everyone subscribed to a room.
type Bus interface {
	Publish(ctx context.Context, roomID uuid.UUID, ev Event) error
	Subscribe(ctx context.Context, roomID uuid.UUID) (*Subscription, error)
}

// Subscription is one participant's event stream. C is closed after Close
// or when the subscribing context ends.
type Subscription struct {
	C <-chan Event

	once  sync.Once
	close func()
}

func (s *Subscription) Close() {
	s.once.Do(s.close)
}

// MemoryBus is the in-process Bus. Publish never waits on a subscriber: each
// subscriber has its own unbounded FIFO drained by its own goroutine.
type MemoryBus struct {
	mu     sync.RWMutex
	rooms  map[uuid.UUID]map[uuid.UUID]*subscriber
	closed bool
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{rooms: make(map[uuid.UUID]map[uuid.UUID]*subscriber)}
}

func (b *MemoryBus) Publish(ctx context.Context, roomID uuid.UUID, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrBusClosed
	}
	for _, sub := range b.rooms[roomID] {
		sub.enqueue(ev)
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, roomID uuid.UUID) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	id := uuid.New()
	sub := newSubscriber()
	if _, ok := b.rooms[roomID]; !ok {
		b.rooms[roomID] = make(map[uuid.UUID]*subscriber)
	}
	b.rooms[roomID][id] = sub

	go sub.pump()

	s := &Subscription{C: sub.out}
	s.close = func() {
		b.remove(roomID, id)
		sub.stop()
	}

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-sub.done:
		}
	}()

	return s, nil
}

// Subscribers returns how many streams are open for roomID.
func (b *MemoryBus) Subscribers(roomID uuid.UUID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms[roomID])
}

// Close ends every subscription and rejects further use.
func (b *MemoryBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var subs []*subscriber
	for _, room := range b.rooms {
		for _, sub := range room {
			subs = append(subs, sub)
		}
	}
	b.rooms = make(map[uuid.UUID]map[uuid.UUID]*subscriber)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
}

func (b *MemoryBus) remove(roomID, id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if room, ok := b.rooms[roomID]; ok {
		delete(room, id)
		if len(room) == 0 {
			delete(b.rooms, roomID)
		}
	}
}

type subscriber struct {
	mu     sync.Mutex
	queue  []Event
	notify chan struct{}
	out    chan Event
	done   chan struct{}
	once   sync.Once
}

func newSubscriber() *subscriber {
	return &subscriber{
		notify: make(chan struct{}, 1),
		out:    make(chan Event),
		done:   make(chan struct{}),
	}
}

func (s *subscriber) enqueue(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscriber) pump() {
	defer close(s.out)

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}
		ev := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}
