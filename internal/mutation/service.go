// Package mutation implements edit, delete, hide and restore of chat messages
// under time-windowed eligibility rules.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thereayou/voxus/internal/clock"
	"github.com/thereayou/voxus/internal/models"
	"github.com/thereayou/voxus/internal/propagation"
)

// maxAttempts bounds how often a mutation is tried: the first try plus one
// retry after a conflict or storage error.
const maxAttempts = 2

type Service struct {
	store  Store
	bus    Publisher
	clock  clock.Clock
	policy Policy
	undo   UndoCoordinator
	log    *zap.Logger
	locks  stripedLock
}

type Option func(*Service)

func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithPolicy(p Policy) Option {
	return func(s *Service) { s.policy = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.log = l }
}

func NewService(store Store, bus Publisher, opts ...Option) *Service {
	s := &Service{
		store:  store,
		bus:    bus,
		clock:  clock.System(),
		policy: DefaultPolicy(),
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.undo = NewUndoCoordinator(s.policy.UndoGrace)
	return s
}

func (s *Service) Policy() Policy {
	return s.policy
}

// Now is the server time used for every window computation.
func (s *Service) Now() time.Time {
	return s.clock.Now()
}

// CanEdit evaluates the edit window for actorID against the stored message.
func (s *Service) CanEdit(ctx context.Context, messageID, actorID uuid.UUID) (EligibilityResult, error) {
	msg, err := s.load(ctx, OpCheck, messageID, actorID)
	if err != nil {
		return EligibilityResult{}, err
	}
	return s.policy.CanEdit(msg, actorID, s.clock.Now()), nil
}

// CanDelete evaluates the delete window for actorID against the stored message.
func (s *Service) CanDelete(ctx context.Context, messageID, actorID uuid.UUID) (EligibilityResult, error) {
	msg, err := s.load(ctx, OpCheck, messageID, actorID)
	if err != nil {
		return EligibilityResult{}, err
	}
	return s.policy.CanDelete(msg, actorID, s.clock.Now()), nil
}

// Eligibility is one consistent read of both windows and, for the sender of a
// deleted message, the remaining undo grace.
type Eligibility struct {
	RoomID uuid.UUID
	Edit   EligibilityResult
	Delete EligibilityResult
	Undo   *PendingUndo
	Now    time.Time
}

func (s *Service) Eligibility(ctx context.Context, messageID, actorID uuid.UUID) (Eligibility, error) {
	msg, err := s.load(ctx, OpCheck, messageID, actorID)
	if err != nil {
		return Eligibility{}, err
	}
	now := s.clock.Now()
	out := Eligibility{
		RoomID: msg.RoomID,
		Edit:   s.policy.CanEdit(msg, actorID, now),
		Delete: s.policy.CanDelete(msg, actorID, now),
		Now:    now,
	}
	if actorID == msg.SenderID {
		out.Undo = s.undo.Pending(msg, now)
	}
	return out, nil
}

// Edit replaces the content of a message owned by actorID. Content equal to
// the current one after trimming succeeds without touching the message.
func (s *Service) Edit(ctx context.Context, messageID, actorID uuid.UUID, newContent string) (*models.Message, error) {
	if actorID == uuid.Nil {
		return nil, s.fail(ctx, OpEdit, messageID, ErrUnauthenticated)
	}
	content := strings.TrimSpace(newContent)
	if content == "" {
		return nil, s.fail(ctx, OpEdit, messageID, ErrEmptyContent)
	}

	return s.apply(ctx, OpEdit, messageID, func(cur *models.Message, now time.Time) (*change, error) {
		if res := s.policy.CanEdit(cur, actorID, now); !res.Allowed {
			return nil, res.Reason.Err()
		}
		if content == cur.Content {
			return &change{noop: true}, nil
		}

		next := cur.Clone()
		next.Content = content
		next.IsEdited = true
		next.EditedAt = &now
		next.Version = cur.Version + 1

		return &change{
			next: next,
			history: &models.EditHistoryEntry{
				ID:         uuid.New(),
				MessageID:  cur.ID,
				OldContent: cur.Content,
				NewContent: content,
				EditedBy:   actorID,
				EditedAt:   now,
			},
			event: propagation.NewEdited(cur.RoomID, cur.ID, next.Version, content, now, actorID),
		}, nil
	})
}

// Delete soft-deletes a message for every participant. The content is kept so
// the returned PendingUndo can reverse it within the grace period.
func (s *Service) Delete(ctx context.Context, messageID, actorID uuid.UUID) (*PendingUndo, error) {
	if actorID == uuid.Nil {
		return nil, s.fail(ctx, OpDelete, messageID, ErrUnauthenticated)
	}

	msg, err := s.apply(ctx, OpDelete, messageID, func(cur *models.Message, now time.Time) (*change, error) {
		if res := s.policy.CanDelete(cur, actorID, now); !res.Allowed {
			return nil, res.Reason.Err()
		}

		next := cur.Clone()
		next.IsDeleted = true
		next.DeletedAt = &now
		by := actorID
		next.DeletedBy = &by
		next.Version = cur.Version + 1

		return &change{
			next:  next,
			event: propagation.NewDeleted(cur.RoomID, cur.ID, next.Version, now, actorID),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return s.undo.Pending(msg, s.clock.Now()), nil
}

// Hide removes a message from actorID's own view only. Any participant may
// hide any message at any time; nothing is broadcast.
func (s *Service) Hide(ctx context.Context, messageID, actorID uuid.UUID) error {
	if actorID == uuid.Nil {
		return s.fail(ctx, OpHide, messageID, ErrUnauthenticated)
	}
	if _, err := s.load(ctx, OpHide, messageID, actorID); err != nil {
		return err
	}

	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err = s.store.Hide(ctx, messageID, actorID, s.clock.Now()); err == nil {
			s.log.Info("message hidden",
				zap.String("message_id", messageID.String()),
				zap.String("actor_id", actorID.String()))
			return nil
		}
		if errors.Is(err, ErrNotFound) {
			return s.fail(ctx, OpHide, messageID, ErrNotFound)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return s.fail(ctx, OpHide, messageID, fmt.Errorf("%w: %v", ErrStorageFailure, err))
}

// UndoDelete reverses a delete-for-everyone while the grace period is open.
func (s *Service) UndoDelete(ctx context.Context, messageID, actorID uuid.UUID) (*models.Message, error) {
	if actorID == uuid.Nil {
		return nil, s.fail(ctx, OpUndo, messageID, ErrUnauthenticated)
	}

	return s.apply(ctx, OpUndo, messageID, func(cur *models.Message, now time.Time) (*change, error) {
		if err := s.undo.check(cur, actorID, now); err != nil {
			return nil, err
		}

		next := cur.Clone()
		next.IsDeleted = false
		next.DeletedAt = nil
		next.DeletedBy = nil
		next.Version = cur.Version + 1

		return &change{
			next:  next,
			event: propagation.NewRestored(cur.RoomID, cur.ID, next.Version, now, actorID),
		}, nil
	})
}

// History returns the edits of a message newest first. Anyone but the sender
// gets an empty list so the existence of edits does not leak.
func (s *Service) History(ctx context.Context, messageID, requesterID uuid.UUID) ([]models.EditHistoryEntry, error) {
	msg, err := s.load(ctx, OpHistory, messageID, requesterID)
	if err != nil {
		return nil, err
	}
	if requesterID != msg.SenderID {
		return []models.EditHistoryEntry{}, nil
	}

	entries, err := s.store.ListByMessage(ctx, messageID)
	if err != nil {
		return nil, s.fail(ctx, OpHistory, messageID, fmt.Errorf("%w: %v", ErrStorageFailure, err))
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].EditedAt.After(entries[j].EditedAt)
	})
	if entries == nil {
		entries = []models.EditHistoryEntry{}
	}
	return entries, nil
}

// change is what a mutation wants to commit.
type change struct {
	next    *models.Message
	history *models.EditHistoryEntry
	event   propagation.Event
	noop    bool
}

type planFunc func(cur *models.Message, now time.Time) (*change, error)

// apply runs read, evaluate, compare-and-swap and publish for one message.
// Policy failures from plan are returned as is. A conflict or storage error
// triggers one fresh read and re-evaluation.
func (s *Service) apply(ctx context.Context, op Op, messageID uuid.UUID, plan planFunc) (*models.Message, error) {
	unlock := s.locks.lock(messageID)
	defer unlock()

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		cur, err := s.store.Get(ctx, messageID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, s.fail(ctx, op, messageID, ErrNotFound)
			}
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}

		now := s.clock.Now()
		ch, err := plan(cur.Clone(), now)
		if err != nil {
			return nil, s.fail(ctx, op, messageID, err)
		}
		if ch.noop {
			return cur, nil
		}

		err = s.store.InTx(ctx, func(tx Store) error {
			if err := tx.CompareAndSwap(ctx, cur.Version, ch.next); err != nil {
				return err
			}
			if ch.history != nil {
				if _, err := tx.Append(ctx, ch.history); err != nil {
					return err
				}
			}
			return nil
		})
		if err == nil {
			s.log.Info("message mutated",
				zap.String("op", string(op)),
				zap.String("message_id", messageID.String()),
				zap.Int64("version", ch.next.Version),
				zap.Int("attempt", attempt+1))
			s.publish(ctx, ch.event)
			return ch.next, nil
		}

		lastErr = err
		if errors.Is(err, ErrNotFound) {
			return nil, s.fail(ctx, op, messageID, ErrNotFound)
		}
		if ctx.Err() != nil {
			break
		}
		s.log.Debug("retrying mutation",
			zap.String("op", string(op)),
			zap.String("message_id", messageID.String()),
			zap.Error(err))
	}

	if errors.Is(lastErr, ErrConflict) {
		return nil, s.fail(ctx, op, messageID, ErrConflict)
	}
	return nil, s.fail(ctx, op, messageID, fmt.Errorf("%w: %v", ErrStorageFailure, lastErr))
}

// publish runs after commit. The mutation stands even if delivery fails, so a
// failure is only logged after one retry.
func (s *Service) publish(ctx context.Context, ev propagation.Event) {
	if s.bus == nil {
		return
	}
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err = s.bus.Publish(ctx, ev.RoomID, ev); err == nil {
			return
		}
	}
	s.log.Error("publish mutation event",
		zap.String("type", string(ev.Type)),
		zap.String("message_id", ev.MessageID.String()),
		zap.Int64("version", ev.Version),
		zap.Error(err))
}

func (s *Service) load(ctx context.Context, op Op, messageID, actorID uuid.UUID) (*models.Message, error) {
	if actorID == uuid.Nil {
		return nil, s.fail(ctx, op, messageID, ErrUnauthenticated)
	}

	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		var msg *models.Message
		msg, err = s.store.Get(ctx, messageID)
		if err == nil {
			return msg, nil
		}
		if errors.Is(err, ErrNotFound) {
			return nil, s.fail(ctx, op, messageID, ErrNotFound)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return nil, s.fail(ctx, op, messageID, fmt.Errorf("%w: %v", ErrStorageFailure, err))
}

func (s *Service) fail(ctx context.Context, op Op, messageID uuid.UUID, err error) error {
	e := &Error{Op: op, MessageID: messageID.String(), Err: err}
	if Retryable(err) {
		s.log.Warn("mutation failed", zap.String("op", string(op)), zap.String("message_id", e.MessageID), zap.Error(err))
	} else {
		s.log.Debug("mutation rejected", zap.String("op", string(op)), zap.String("message_id", e.MessageID), zap.Error(err))
	}
	return e
}
