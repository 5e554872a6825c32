// Package memstore keeps messages, hides and edit history in process memory.
// It backs single-process runs and tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/thereayou/voxus/internal/models"
	"github.com/thereayou/voxus/internal/mutation"
)

type Store struct {
	mu       sync.Mutex
	messages map[uuid.UUID]*models.Message
	hides    map[uuid.UUID]map[uuid.UUID]time.Time
	history  []models.EditHistoryEntry
	members  map[uuid.UUID]map[uuid.UUID]struct{}
}

func New() *Store {
	return &Store{
		messages: make(map[uuid.UUID]*models.Message),
		hides:    make(map[uuid.UUID]map[uuid.UUID]time.Time),
		members:  make(map[uuid.UUID]map[uuid.UUID]struct{}),
	}
}

// SaveMessage stores a new message. A zero ID or Version is filled in.
func (s *Store) SaveMessage(_ context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.Version == 0 {
		m.Version = 1
	}
	s.messages[m.ID] = m.Clone()
	return nil
}

func (s *Store) AddMember(roomID, userID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.members[roomID]; !ok {
		s.members[roomID] = make(map[uuid.UUID]struct{})
	}
	s.members[roomID][userID] = struct{}{}
}

func (s *Store) IsRoomMember(_ context.Context, roomID, userID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.members[roomID][userID]
	return ok, nil
}

// GetRoomMessages lists up to limit messages of a room, oldest first, leaving
// out what viewerID has hidden.
func (s *Store) GetRoomMessages(_ context.Context, roomID, viewerID uuid.UUID, limit int, before *uuid.UUID) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cutoff *time.Time
	if before != nil {
		if b, ok := s.messages[*before]; ok {
			cutoff = &b.CreatedAt
		}
	}

	out := make([]models.Message, 0)
	for id, m := range s.messages {
		if m.RoomID != roomID {
			continue
		}
		if _, hidden := s.hides[id][viewerID]; hidden {
			continue
		}
		if cutoff != nil && !m.CreatedAt.Before(*cutoff) {
			continue
		}
		out = append(out, *m.Clone())
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Store) Get(_ context.Context, id uuid.UUID) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(id)
}

func (s *Store) CompareAndSwap(_ context.Context, expectedVersion int64, next *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cas(expectedVersion, next)
}

func (s *Store) Hide(_ context.Context, messageID, userID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hide(messageID, userID, at)
}

func (s *Store) HiddenBy(_ context.Context, messageID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hiddenBy(messageID), nil
}

func (s *Store) Append(_ context.Context, entry *models.EditHistoryEntry) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.append(entry), nil
}

func (s *Store) ListByMessage(_ context.Context, messageID uuid.UUID) ([]models.EditHistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list(messageID), nil
}

// InTx holds the store lock for the whole of fn and rolls every write back if
// fn returns an error.
func (s *Store) InTx(_ context.Context, fn func(tx mutation.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{s: s, saved: make(map[uuid.UUID]*models.Message), historyLen: len(s.history)}
	if err := fn(t); err != nil {
		t.rollback()
		return err
	}
	return nil
}

func (s *Store) get(id uuid.UUID) (*models.Message, error) {
	m, ok := s.messages[id]
	if !ok {
		return nil, mutation.ErrNotFound
	}
	return m.Clone(), nil
}

func (s *Store) cas(expectedVersion int64, next *models.Message) error {
	cur, ok := s.messages[next.ID]
	if !ok {
		return mutation.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return mutation.ErrConflict
	}
	stored := next.Clone()
	if stored.Version <= expectedVersion {
		stored.Version = expectedVersion + 1
	}
	next.Version = stored.Version
	s.messages[next.ID] = stored
	return nil
}

func (s *Store) hide(messageID, userID uuid.UUID, at time.Time) error {
	if _, ok := s.messages[messageID]; !ok {
		return mutation.ErrNotFound
	}
	if _, ok := s.hides[messageID]; !ok {
		s.hides[messageID] = make(map[uuid.UUID]time.Time)
	}
	if _, already := s.hides[messageID][userID]; !already {
		s.hides[messageID][userID] = at
	}
	return nil
}

func (s *Store) hiddenBy(messageID uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(s.hides[messageID]))
	for id := range s.hides[messageID] {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func (s *Store) append(entry *models.EditHistoryEntry) uuid.UUID {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	s.history = append(s.history, *entry)
	return entry.ID
}

func (s *Store) list(messageID uuid.UUID) []models.EditHistoryEntry {
	out := make([]models.EditHistoryEntry, 0)
	for _, e := range s.history {
		if e.MessageID == messageID {
			out = append(out, e)
		}
	}
	return out
}

// tx runs against the already locked store and remembers enough to undo.
type tx struct {
	s          *Store
	saved      map[uuid.UUID]*models.Message
	hidden     [][2]uuid.UUID
	historyLen int
}

func (t *tx) Get(_ context.Context, id uuid.UUID) (*models.Message, error) {
	return t.s.get(id)
}

func (t *tx) CompareAndSwap(_ context.Context, expectedVersion int64, next *models.Message) error {
	if _, ok := t.saved[next.ID]; !ok {
		if cur, exists := t.s.messages[next.ID]; exists {
			t.saved[next.ID] = cur
		}
	}
	return t.s.cas(expectedVersion, next)
}

func (t *tx) Hide(_ context.Context, messageID, userID uuid.UUID, at time.Time) error {
	if _, already := t.s.hides[messageID][userID]; !already {
		t.hidden = append(t.hidden, [2]uuid.UUID{messageID, userID})
	}
	return t.s.hide(messageID, userID, at)
}

func (t *tx) HiddenBy(_ context.Context, messageID uuid.UUID) ([]uuid.UUID, error) {
	return t.s.hiddenBy(messageID), nil
}

func (t *tx) Append(_ context.Context, entry *models.EditHistoryEntry) (uuid.UUID, error) {
	return t.s.append(entry), nil
}

func (t *tx) ListByMessage(_ context.Context, messageID uuid.UUID) ([]models.EditHistoryEntry, error) {
	return t.s.list(messageID), nil
}

// InTx nests by running fn inside the outer transaction.
func (t *tx) InTx(_ context.Context, fn func(tx mutation.Store) error) error {
	return fn(t)
}

func (t *tx) rollback() {
	for id, m := range t.saved {
		t.s.messages[id] = m
	}
	for _, h := range t.hidden {
		delete(t.s.hides[h[0]], h[1])
	}
	t.s.history = t.s.history[:t.historyLen]
}
