package mutation_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thereayou/voxus/internal/clock"
	"github.com/thereayou/voxus/internal/memstore"
	"github.com/thereayou/voxus/internal/models"
	"github.com/thereayou/voxus/internal/mutation"
	"github.com/thereayou/voxus/internal/propagation"
)

var start = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

// --- helpers ---

type recordingBus struct {
	mu     sync.Mutex
	events []propagation.Event
	err    error
}

func (b *recordingBus) Publish(_ context.Context, _ uuid.UUID, ev propagation.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.events = append(b.events, ev)
	return nil
}

func (b *recordingBus) Events() []propagation.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]propagation.Event(nil), b.events...)
}

// flakyStore fails the next casFailures compare-and-swaps with casErr and the
// next getFailures reads with a storage error. A non-nil hideErr fails every Hide.
type flakyStore struct {
	*memstore.Store
	mu          sync.Mutex
	casFailures int
	casErr      error
	getFailures int
	beforeCAS   func()
	hideErr     error
	hideCalls   int
}

func (f *flakyStore) Hide(ctx context.Context, messageID, userID uuid.UUID, at time.Time) error {
	f.mu.Lock()
	f.hideCalls++
	err := f.hideErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Store.Hide(ctx, messageID, userID, at)
}

func (f *flakyStore) Get(ctx context.Context, id uuid.UUID) (*models.Message, error) {
	f.mu.Lock()
	if f.getFailures > 0 {
		f.getFailures--
		f.mu.Unlock()
		return nil, errors.New("connection reset")
	}
	f.mu.Unlock()
	return f.Store.Get(ctx, id)
}

func (f *flakyStore) InTx(ctx context.Context, fn func(tx mutation.Store) error) error {
	f.mu.Lock()
	hook := f.beforeCAS
	f.beforeCAS = nil
	fail := f.casFailures > 0
	if fail {
		f.casFailures--
	}
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if fail {
		return f.casErr
	}
	return f.Store.InTx(ctx, fn)
}

type fixture struct {
	store  *memstore.Store
	bus    *recordingBus
	clock  *clock.Manual
	svc    *mutation.Service
	sender uuid.UUID
	other  uuid.UUID
	msg    *models.Message
}

func newFixture(t *testing.T, policy mutation.Policy) *fixture {
	t.Helper()
	f := &fixture{
		store:  memstore.New(),
		bus:    &recordingBus{},
		clock:  clock.NewManual(start),
		sender: uuid.New(),
		other:  uuid.New(),
	}
	f.svc = mutation.NewService(f.store, f.bus, mutation.WithClock(f.clock), mutation.WithPolicy(policy))
	f.msg = f.seed(t, "A")
	return f
}

func (f *fixture) seed(t *testing.T, content string) *models.Message {
	t.Helper()
	m := &models.Message{
		RoomID:    uuid.New(),
		SenderID:  f.sender,
		Content:   content,
		Type:      "text",
		CreatedAt: f.clock.Now(),
	}
	require.NoError(t, f.store.SaveMessage(context.Background(), m))
	return m
}

func (f *fixture) at(d time.Duration) {
	f.clock.Set(start.Add(d))
}

func (f *fixture) stored(t *testing.T) *models.Message {
	t.Helper()
	m, err := f.store.Get(context.Background(), f.msg.ID)
	require.NoError(t, err)
	return m
}

// --- tests ---

func TestEditThenWindowExpires(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, mutation.DefaultPolicy())

	f.at(600 * time.Second)
	edited, err := f.svc.Edit(ctx, f.msg.ID, f.sender, "B")
	require.NoError(t, err)
	assert.Equal(t, "B", edited.Content)
	assert.True(t, edited.IsEdited)
	require.NotNil(t, edited.EditedAt)
	assert.Equal(t, start.Add(600*time.Second), *edited.EditedAt)

	history, err := f.svc.History(ctx, f.msg.ID, f.sender)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "A", history[0].OldContent)
	assert.Equal(t, "B", history[0].NewContent)

	f.at(950 * time.Second)
	_, err = f.svc.Edit(ctx, f.msg.ID, f.sender, "C")
	assert.ErrorIs(t, err, mutation.ErrWindowExpired)

	_, err = f.svc.Delete(ctx, f.msg.ID, f.sender)
	assert.ErrorIs(t, err, mutation.ErrWindowExpired)

	m := f.stored(t)
	assert.Equal(t, "B", m.Content)
	assert.False(t, m.IsDeleted)
}

func TestDeleteUsesItsOwnWindow(t *testing.T) {
	ctx := context.Background()
	p := mutation.DefaultPolicy()
	p.DeleteWindow = 30 * time.Minute
	f := newFixture(t, p)

	f.at(950 * time.Second)
	_, err := f.svc.Edit(ctx, f.msg.ID, f.sender, "C")
	assert.ErrorIs(t, err, mutation.ErrWindowExpired)

	pending, err := f.svc.Delete(ctx, f.msg.ID, f.sender)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), pending.RemainingMs)
}

func TestEditIdenticalContentIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, mutation.DefaultPolicy())

	f.at(time.Minute)
	_, err := f.svc.Edit(ctx, f.msg.ID, f.sender, "  A \n")
	require.NoError(t, err)

	m := f.stored(t)
	assert.False(t, m.IsEdited)
	assert.Nil(t, m.EditedAt)
	assert.Equal(t, int64(1), m.Version)

	history, err := f.svc.History(ctx, f.msg.ID, f.sender)
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Empty(t, f.bus.Events())

	// and after a real edit, repeating it keeps editedAt
	_, err = f.svc.Edit(ctx, f.msg.ID, f.sender, "B")
	require.NoError(t, err)
	f.at(2 * time.Minute)
	_, err = f.svc.Edit(ctx, f.msg.ID, f.sender, "B ")
	require.NoError(t, err)

	m = f.stored(t)
	assert.Equal(t, start.Add(time.Minute), *m.EditedAt)
	history, err = f.svc.History(ctx, f.msg.ID, f.sender)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestEditWindowIsAnchoredAtCreation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, mutation.DefaultPolicy())

	f.at(5 * time.Minute)
	_, err := f.svc.Edit(ctx, f.msg.ID, f.sender, "B")
	require.NoError(t, err)

	f.at(14 * time.Minute)
	_, err = f.svc.Edit(ctx, f.msg.ID, f.sender, "C")
	require.NoError(t, err)

	f.at(15*time.Minute + time.Millisecond)
	_, err = f.svc.Edit(ctx, f.msg.ID, f.sender, "D")
	assert.ErrorIs(t, err, mutation.ErrWindowExpired)

	history, err := f.svc.History(ctx, f.msg.ID, f.sender)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "C", history[0].NewContent, "newest first")
	assert.Equal(t, "B", history[1].NewContent)
}

func TestEditRejectsEmptyContent(t *testing.T) {
	f := newFixture(t, mutation.DefaultPolicy())

	_, err := f.svc.Edit(context.Background(), f.msg.ID, f.sender, " \t ")
	assert.ErrorIs(t, err, mutation.ErrEmptyContent)
}

func TestEditDeletedMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, mutation.DefaultPolicy())

	_, err := f.svc.Delete(ctx, f.msg.ID, f.sender)
	require.NoError(t, err)

	_, err = f.svc.Edit(ctx, f.msg.ID, f.sender, "B")
	assert.ErrorIs(t, err, mutation.ErrAlreadyDeleted)

	_, err = f.svc.Delete(ctx, f.msg.ID, f.sender)
	assert.ErrorIs(t, err, mutation.ErrAlreadyDeleted)
}

func TestDeleteThenUndo(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, mutation.DefaultPolicy())

	f.at(time.Minute)
	pending, err := f.svc.Delete(ctx, f.msg.ID, f.sender)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, start.Add(time.Minute+5*time.Second), pending.ExpiresAt)

	m := f.stored(t)
	assert.True(t, m.IsDeleted)
	assert.Equal(t, "A", m.Content, "content kept for restore")
	require.NotNil(t, m.DeletedBy)
	assert.Equal(t, f.sender, *m.DeletedBy)

	f.at(time.Minute + time.Second)
	restored, err := f.svc.UndoDelete(ctx, f.msg.ID, f.sender)
	require.NoError(t, err)
	assert.False(t, restored.IsDeleted)
	assert.Nil(t, restored.DeletedAt)
	assert.Equal(t, "A", restored.Content)

	_, err = f.svc.UndoDelete(ctx, f.msg.ID, f.sender)
	assert.ErrorIs(t, err, mutation.ErrNotDeleted)

	events := f.bus.Events()
	require.Len(t, events, 2)
	assert.Equal(t, propagation.MessageDeleted, events[0].Type)
	assert.Equal(t, f.sender, events[0].By)
	assert.Equal(t, propagation.MessageRestored, events[1].Type)
	assert.Less(t, events[0].Version, events[1].Version)
}

func TestUndoAfterGraceFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, mutation.DefaultPolicy())

	_, err := f.svc.Delete(ctx, f.msg.ID, f.sender)
	require.NoError(t, err)

	f.at(5001 * time.Millisecond)
	el, err := f.svc.Eligibility(ctx, f.msg.ID, f.sender)
	require.NoError(t, err)
	require.NotNil(t, el.Undo)
	assert.Zero(t, el.Undo.RemainingMs)

	_, err = f.svc.UndoDelete(ctx, f.msg.ID, f.sender)
	assert.ErrorIs(t, err, mutation.ErrGraceExpired)
	assert.True(t, f.stored(t).IsDeleted)
}

func TestUndoByOtherActor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, mutation.DefaultPolicy())

	_, err := f.svc.Delete(ctx, f.msg.ID, f.sender)
	require.NoError(t, err)

	_, err = f.svc.UndoDelete(ctx, f.msg.ID, f.other)
	assert.ErrorIs(t, err, mutation.ErrNotSender)
}

func TestOwnershipIsolation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, mutation.DefaultPolicy())

	for _, d := range []time.Duration{0, time.Minute, time.Hour} {
		f.at(d)
		_, err := f.svc.Edit(ctx, f.msg.ID, f.other, "hijack")
		assert.ErrorIs(t, err, mutation.ErrNotSender)
		_, err = f.svc.Delete(ctx, f.msg.ID, f.other)
		assert.ErrorIs(t, err, mutation.ErrNotSender)
	}

	require.NoError(t, f.svc.Hide(ctx, f.msg.ID, f.other))
	require.NoError(t, f.svc.Hide(ctx, f.msg.ID, f.other))

	hidden, err := f.store.HiddenBy(ctx, f.msg.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{f.other}, hidden)

	m := f.stored(t)
	assert.False(t, m.IsDeleted)
	assert.Empty(t, f.bus.Events(), "hide is not broadcast")

	ownView, err := f.store.GetRoomMessages(ctx, m.RoomID, f.sender, 10, nil)
	require.NoError(t, err)
	assert.Len(t, ownView, 1)
	otherView, err := f.store.GetRoomMessages(ctx, m.RoomID, f.other, 10, nil)
	require.NoError(t, err)
	assert.Empty(t, otherView)
}

func TestHistoryHiddenFromOthers(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, mutation.DefaultPolicy())

	_, err := f.svc.Edit(ctx, f.msg.ID, f.sender, "B")
	require.NoError(t, err)

	history, err := f.svc.History(ctx, f.msg.ID, f.other)
	require.NoError(t, err)
	assert.NotNil(t, history)
	assert.Empty(t, history)
}

func TestUnauthenticatedAndNotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, mutation.DefaultPolicy())

	_, err := f.svc.Edit(ctx, f.msg.ID, uuid.Nil, "B")
	assert.ErrorIs(t, err, mutation.ErrUnauthenticated)
	_, err = f.svc.Delete(ctx, f.msg.ID, uuid.Nil)
	assert.ErrorIs(t, err, mutation.ErrUnauthenticated)
	assert.ErrorIs(t, f.svc.Hide(ctx, f.msg.ID, uuid.Nil), mutation.ErrUnauthenticated)
	_, err = f.svc.UndoDelete(ctx, f.msg.ID, uuid.Nil)
	assert.ErrorIs(t, err, mutation.ErrUnauthenticated)

	missing := uuid.New()
	_, err = f.svc.Edit(ctx, missing, f.sender, "B")
	assert.ErrorIs(t, err, mutation.ErrNotFound)
	assert.ErrorIs(t, f.svc.Hide(ctx, missing, f.sender), mutation.ErrNotFound)
	_, err = f.svc.History(ctx, missing, f.sender)
	assert.ErrorIs(t, err, mutation.ErrNotFound)
}

func TestCanEditAndCanDelete(t *testing.T) {
	ctx := context.Background()
	p := mutation.DefaultPolicy()
	p.DeleteWindow = 10 * time.Minute
	f := newFixture(t, p)

	f.at(8 * time.Minute)
	edit, err := f.svc.CanEdit(ctx, f.msg.ID, f.sender)
	require.NoError(t, err)
	assert.True(t, edit.Allowed)
	assert.Equal(t, (7 * time.Minute).Milliseconds(), edit.RemainingMs)

	del, err := f.svc.CanDelete(ctx, f.msg.ID, f.sender)
	require.NoError(t, err)
	assert.True(t, del.Allowed)
	assert.Equal(t, (2 * time.Minute).Milliseconds(), del.RemainingMs)

	f.at(11 * time.Minute)
	del, err = f.svc.CanDelete(ctx, f.msg.ID, f.sender)
	require.NoError(t, err)
	assert.False(t, del.Allowed)
	assert.Equal(t, mutation.ReasonWindowExpired, del.Reason)
}

func TestConflictIsRetriedOnceWithFreshEligibility(t *testing.T) {
	ctx := context.Background()
	mem := memstore.New()
	fs := &flakyStore{Store: mem, casFailures: 1, casErr: mutation.ErrConflict}
	clk := clock.NewManual(start)
	bus := &recordingBus{}
	svc := mutation.NewService(fs, bus, mutation.WithClock(clk))

	sender := uuid.New()
	msg := &models.Message{RoomID: uuid.New(), SenderID: sender, Content: "A", CreatedAt: start}
	require.NoError(t, mem.SaveMessage(ctx, msg))

	_, err := svc.Edit(ctx, msg.ID, sender, "B")
	require.NoError(t, err)

	got, err := mem.Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "B", got.Content)
	assert.Equal(t, int64(2), got.Version)
	assert.Len(t, bus.Events(), 1)
}

func TestConflictRetryHonoursConcurrentDelete(t *testing.T) {
	ctx := context.Background()
	mem := memstore.New()
	clk := clock.NewManual(start)
	sender := uuid.New()
	msg := &models.Message{RoomID: uuid.New(), SenderID: sender, Content: "A", CreatedAt: start}
	require.NoError(t, mem.SaveMessage(ctx, msg))

	// another node deletes the message between our read and our write
	fs := &flakyStore{Store: mem}
	fs.beforeCAS = func() {
		cur, err := mem.Get(ctx, msg.ID)
		require.NoError(t, err)
		now := clk.Now()
		cur.IsDeleted = true
		cur.DeletedAt = &now
		require.NoError(t, mem.CompareAndSwap(ctx, cur.Version, cur))
	}
	svc := mutation.NewService(fs, &recordingBus{}, mutation.WithClock(clk))

	_, err := svc.Edit(ctx, msg.ID, sender, "B")
	assert.ErrorIs(t, err, mutation.ErrAlreadyDeleted)

	got, err := mem.Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "A", got.Content)
}

func TestRepeatedConflictSurfaces(t *testing.T) {
	ctx := context.Background()
	mem := memstore.New()
	fs := &flakyStore{Store: mem, casFailures: 2, casErr: mutation.ErrConflict}
	svc := mutation.NewService(fs, &recordingBus{}, mutation.WithClock(clock.NewManual(start)))

	sender := uuid.New()
	msg := &models.Message{RoomID: uuid.New(), SenderID: sender, Content: "A", CreatedAt: start}
	require.NoError(t, mem.SaveMessage(ctx, msg))

	_, err := svc.Delete(ctx, msg.ID, sender)
	assert.ErrorIs(t, err, mutation.ErrConflict)
	assert.True(t, mutation.Retryable(err))
}

func TestStorageFailure(t *testing.T) {
	ctx := context.Background()
	mem := memstore.New()
	sender := uuid.New()
	msg := &models.Message{RoomID: uuid.New(), SenderID: sender, Content: "A", CreatedAt: start}
	require.NoError(t, mem.SaveMessage(ctx, msg))

	t.Run("one failure is absorbed", func(t *testing.T) {
		fs := &flakyStore{Store: mem, getFailures: 1}
		svc := mutation.NewService(fs, nil, mutation.WithClock(clock.NewManual(start)))
		_, err := svc.Edit(ctx, msg.ID, sender, "B")
		assert.NoError(t, err)
	})

	t.Run("two failures surface", func(t *testing.T) {
		fs := &flakyStore{Store: mem, casFailures: 2, casErr: errors.New("disk full")}
		svc := mutation.NewService(fs, nil, mutation.WithClock(clock.NewManual(start)))
		_, err := svc.Edit(ctx, msg.ID, sender, "C")
		assert.ErrorIs(t, err, mutation.ErrStorageFailure)

		var me *mutation.Error
		require.ErrorAs(t, err, &me)
		assert.Equal(t, mutation.OpEdit, me.Op)
	})
}

func TestPublishFailureDoesNotUndoCommit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, mutation.DefaultPolicy())
	f.bus.err = errors.New("bus down")

	_, err := f.svc.Edit(ctx, f.msg.ID, f.sender, "B")
	require.NoError(t, err)
	assert.Equal(t, "B", f.stored(t).Content)
}

func TestConcurrentEditAndDeleteStayConsistent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, mutation.DefaultPolicy())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = f.svc.Edit(ctx, f.msg.ID, f.sender, uuid.NewString())
		}()
		go func() {
			defer wg.Done()
			_, _ = f.svc.Delete(ctx, f.msg.ID, f.sender)
		}()
	}
	wg.Wait()

	m := f.stored(t)
	assert.True(t, m.IsDeleted)

	events := f.bus.Events()
	require.NotEmpty(t, events)
	for i := 1; i < len(events); i++ {
		assert.Equal(t, events[i-1].Version+1, events[i].Version, "events leave in commit order")
	}
	assert.Equal(t, propagation.MessageDeleted, events[len(events)-1].Type)
	assert.Equal(t, m.Version, events[len(events)-1].Version)
}

func TestEligibilityShowsUndoToSenderOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, mutation.DefaultPolicy())

	el, err := f.svc.Eligibility(ctx, f.msg.ID, f.sender)
	require.NoError(t, err)
	assert.Equal(t, f.msg.RoomID, el.RoomID)
	assert.True(t, el.Edit.Allowed)
	assert.True(t, el.Delete.Allowed)
	assert.Nil(t, el.Undo)

	_, err = f.svc.Delete(ctx, f.msg.ID, f.sender)
	require.NoError(t, err)
	f.at(time.Second)

	el, err = f.svc.Eligibility(ctx, f.msg.ID, f.sender)
	require.NoError(t, err)
	require.NotNil(t, el.Undo)
	assert.Equal(t, int64(4000), el.Undo.RemainingMs)
	assert.Equal(t, start.Add(time.Second), el.Now)

	el, err = f.svc.Eligibility(ctx, f.msg.ID, f.other)
	require.NoError(t, err)
	assert.Nil(t, el.Undo)
	assert.False(t, el.Edit.Allowed)
}

func TestHideOfVanishedMessageIsNotFound(t *testing.T) {
	ctx := context.Background()
	mem := memstore.New()
	fs := &flakyStore{Store: mem, hideErr: mutation.ErrNotFound}
	svc := mutation.NewService(fs, &recordingBus{}, mutation.WithClock(clock.NewManual(start)))

	msg := &models.Message{RoomID: uuid.New(), SenderID: uuid.New(), Content: "A", CreatedAt: start}
	require.NoError(t, mem.SaveMessage(ctx, msg))

	err := svc.Hide(ctx, msg.ID, uuid.New())
	assert.ErrorIs(t, err, mutation.ErrNotFound)
	assert.NotErrorIs(t, err, mutation.ErrStorageFailure)
	assert.Equal(t, 1, fs.hideCalls, "not found is final, no retry")
}

func TestHideRetriesStorageFailureOnce(t *testing.T) {
	ctx := context.Background()
	mem := memstore.New()
	fs := &flakyStore{Store: mem, hideErr: errors.New("connection reset")}
	svc := mutation.NewService(fs, &recordingBus{}, mutation.WithClock(clock.NewManual(start)))

	msg := &models.Message{RoomID: uuid.New(), SenderID: uuid.New(), Content: "A", CreatedAt: start}
	require.NoError(t, mem.SaveMessage(ctx, msg))

	err := svc.Hide(ctx, msg.ID, uuid.New())
	assert.ErrorIs(t, err, mutation.ErrStorageFailure)
	assert.Equal(t, 2, fs.hideCalls)
}
