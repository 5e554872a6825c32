package propagation

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/thereayou/voxus/internal/models"
)

// DeletedPlaceholder is shown instead of the content of a deleted message.
const DeletedPlaceholder = "This message was deleted"

// MessageView is a participant's local copy of a rendered message.
type MessageView struct {
	ID        uuid.UUID  `json:"id"`
	RoomID    uuid.UUID  `json:"room_id"`
	SenderID  uuid.UUID  `json:"sender_id"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"created_at"`
	IsEdited  bool       `json:"is_edited"`
	EditedAt  *time.Time `json:"edited_at,omitempty"`
	IsDeleted bool       `json:"is_deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	Version   int64      `json:"version"`
}

// Rendered returns the view with content withheld when the message is deleted.
func (v MessageView) Rendered() MessageView {
	if v.IsDeleted {
		v.Content = DeletedPlaceholder
	}
	return v
}

func ViewOf(m *models.Message) MessageView {
	return MessageView{
		ID:        m.ID,
		RoomID:    m.RoomID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
		IsEdited:  m.IsEdited,
		EditedAt:  m.EditedAt,
		IsDeleted: m.IsDeleted,
		DeletedAt: m.DeletedAt,
		Version:   m.Version,
	}
}

// Projection is the subscriber side of the channel. Applying an event twice
// is a no-op, and an event older than what the view already reflects is dropped.
// Events for a message that is not loaded yet wait in pending until Load.
type Projection struct {
	mu       sync.Mutex
	messages map[uuid.UUID]*MessageView
	pending  map[uuid.UUID][]Event
	seen     map[string]struct{}
	hidden   map[uuid.UUID]map[uuid.UUID]struct{}
}

func NewProjection() *Projection {
	return &Projection{
		messages: make(map[uuid.UUID]*MessageView),
		pending:  make(map[uuid.UUID][]Event),
		seen:     make(map[string]struct{}),
		hidden:   make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}

// Load seeds the view from a stored message and replays events that arrived
// before it. A newer local version wins.
func (p *Projection) Load(m *models.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	v, ok := p.messages[m.ID]
	if !ok || v.Version < m.Version {
		view := ViewOf(m)
		v = &view
		p.messages[m.ID] = v
	}

	queued := p.pending[m.ID]
	delete(p.pending, m.ID)
	sort.SliceStable(queued, func(i, j int) bool { return queued[i].Version < queued[j].Version })
	for _, ev := range queued {
		applyTo(v, ev)
	}
}

// Apply reports whether ev changed the view.
func (p *Projection) Apply(ev Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := ev.DedupKey()
	if _, dup := p.seen[key]; dup {
		return false
	}
	p.seen[key] = struct{}{}

	v, ok := p.messages[ev.MessageID]
	if !ok {
		p.pending[ev.MessageID] = append(p.pending[ev.MessageID], ev)
		return false
	}
	return applyTo(v, ev)
}

func applyTo(v *MessageView, ev Event) bool {
	if ev.Version != 0 && ev.Version <= v.Version {
		return false
	}

	at := ev.At
	switch ev.Type {
	case MessageEdited:
		v.Content = ev.Content
		v.IsEdited = true
		v.EditedAt = &at
	case MessageDeleted:
		v.IsDeleted = true
		v.DeletedAt = &at
	case MessageRestored:
		v.IsDeleted = false
		v.DeletedAt = nil
	default:
		return false
	}
	if ev.Version != 0 {
		v.Version = ev.Version
	}
	return true
}

// Hide records a delete-for-me locally; only actorID stops seeing the message.
func (p *Projection) Hide(messageID, actorID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.hidden[actorID]; !ok {
		p.hidden[actorID] = make(map[uuid.UUID]struct{})
	}
	p.hidden[actorID][messageID] = struct{}{}
}

func (p *Projection) Get(messageID uuid.UUID) (MessageView, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	v, ok := p.messages[messageID]
	if !ok {
		return MessageView{}, false
	}
	return *v, true
}

// Visible lists what actorID sees, oldest first, deleted content withheld.
func (p *Projection) Visible(actorID uuid.UUID) []MessageView {
	p.mu.Lock()
	defer p.mu.Unlock()

	hidden := p.hidden[actorID]
	out := make([]MessageView, 0, len(p.messages))
	for id, v := range p.messages {
		if _, skip := hidden[id]; skip {
			continue
		}
		out = append(out, v.Rendered())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
