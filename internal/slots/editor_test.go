package slots

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tablebook/internal/model"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) SaveSlots(ctx context.Context, businessID string, list []model.TimeSlot) (bool, error) {
	args := m.Called(ctx, businessID, list)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) SetAcceptsReservations(ctx context.Context, businessID string, accepts bool) error {
	args := m.Called(ctx, businessID, accepts)
	return args.Error(0)
}

func newTestEditor(store Store, list []model.TimeSlot, accepts bool) *Editor {
	logger := zerolog.New(io.Discard)
	n := 0
	return NewEditor("biz-1", store, list, accepts, &logger).WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("gen-%d", n)
	})
}

func slot(id, from, to string, days ...model.Weekday) model.TimeSlot {
	return model.TimeSlot{ID: id, TimeFrom: from, TimeTo: to, Capacity: 4, MaxPartySize: 2, Days: days}
}

func TestEditor_AddAndDuplicate(t *testing.T) {
	e := newTestEditor(new(mockStore), nil, false)

	added := e.Add()
	assert.Equal(t, "gen-1", added.ID)
	assert.Equal(t, "18:00", added.TimeFrom)
	assert.Equal(t, "20:00", added.TimeTo)
	assert.Equal(t, 10, added.Capacity)
	assert.Equal(t, 7, added.MaxPartySize)
	assert.Len(t, added.Days, 7)

	require.NoError(t, e.Apply(SetCapacity{SlotID: added.ID, Value: 3}))
	dup, err := e.Duplicate(added.ID)
	require.NoError(t, err)
	assert.Equal(t, "gen-2", dup.ID)
	assert.Equal(t, 3, dup.Capacity)

	list := e.Slots()
	require.Len(t, list, 2)
	assert.Equal(t, "gen-1", list[0].ID)
	assert.Equal(t, "gen-2", list[1].ID)

	_, err = e.Duplicate("missing")
	assert.ErrorIs(t, err, ErrSlotNotFound)
}

func TestEditor_DuplicateInsertedAfterOriginal(t *testing.T) {
	e := newTestEditor(new(mockStore), []model.TimeSlot{
		slot("a", "12:00", "14:00", model.Monday),
		slot("b", "12:00", "13:00", model.Monday),
	}, false)

	_, err := e.Duplicate("a")
	require.NoError(t, err)

	ids := []string{}
	for _, s := range e.Slots() {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []string{"a", "gen-1", "b"}, ids)
}

func TestEditor_DisplayOrder(t *testing.T) {
	e := newTestEditor(new(mockStore), []model.TimeSlot{
		slot("late", "21:00", "23:00", model.Friday),
		slot("early", "09:00", "11:00", model.Friday),
	}, false)

	list := e.Slots()
	assert.Equal(t, "early", list[0].ID)

	require.NoError(t, e.Apply(SetTimeFrom{SlotID: "early", Value: "22:00"}))
	list = e.Slots()
	assert.Equal(t, "late", list[0].ID)
}

func TestEditor_Commands(t *testing.T) {
	e := newTestEditor(new(mockStore), []model.TimeSlot{slot("a", "18:00", "20:00", model.Monday)}, false)

	require.NoError(t, e.Apply(ToggleDay{SlotID: "a", Day: model.Sunday}))
	require.NoError(t, e.Apply(ToggleDay{SlotID: "a", Day: model.Wednesday}))
	assert.Equal(t, []model.Weekday{model.Monday, model.Wednesday, model.Sunday}, e.Slots()[0].Days)

	require.NoError(t, e.Apply(ToggleDay{SlotID: "a", Day: model.Monday}))
	assert.Equal(t, []model.Weekday{model.Wednesday, model.Sunday}, e.Slots()[0].Days)

	require.NoError(t, e.Apply(ApplyToAllDays{SlotID: "a"}))
	assert.Equal(t, model.AllWeekdays, e.Slots()[0].Days)

	assert.ErrorIs(t, e.Apply(SetCapacity{SlotID: "a", Value: 0}), ErrInvalidSlot)
	assert.ErrorIs(t, e.Apply(SetMaxPartySize{SlotID: "a", Value: -1}), ErrInvalidSlot)
	assert.ErrorIs(t, e.Apply(SetTimeTo{SlotID: "a", Value: "25:00"}), ErrInvalidSlot)
	assert.ErrorIs(t, e.Apply(ToggleDay{SlotID: "a", Day: "someday"}), ErrInvalidSlot)
	assert.ErrorIs(t, e.Apply(SetTimeTo{SlotID: "nope", Value: "20:00"}), ErrSlotNotFound)
}

func TestEditor_SaveValidation(t *testing.T) {
	ctx := context.Background()

	t.Run("no slots", func(t *testing.T) {
		store := new(mockStore)
		e := newTestEditor(store, nil, false)
		assert.False(t, e.CanSave())
		assert.ErrorIs(t, e.Save(ctx), ErrNoSlots)
		store.AssertNotCalled(t, "SaveSlots", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("inactive slot blocks save", func(t *testing.T) {
		store := new(mockStore)
		e := newTestEditor(store, []model.TimeSlot{slot("a", "18:00", "20:00")}, false)
		assert.ErrorIs(t, e.Save(ctx), ErrInactiveSlot)
		store.AssertNotCalled(t, "SaveSlots", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("valid list persisted sorted", func(t *testing.T) {
		store := new(mockStore)
		e := newTestEditor(store, []model.TimeSlot{
			slot("b", "20:00", "22:00", model.Monday),
			slot("a", "18:00", "20:00", model.Monday),
		}, false)
		store.On("SaveSlots", ctx, "biz-1", mock.MatchedBy(func(list []model.TimeSlot) bool {
			return len(list) == 2 && list[0].ID == "a"
		})).Return(false, nil).Once()

		require.NoError(t, e.Save(ctx))
		store.AssertExpectations(t)
	})

	t.Run("store failure surfaces", func(t *testing.T) {
		store := new(mockStore)
		e := newTestEditor(store, []model.TimeSlot{slot("a", "18:00", "20:00", model.Monday)}, false)
		store.On("SaveSlots", ctx, "biz-1", mock.Anything).Return(false, errors.New("db down")).Once()
		assert.Error(t, e.Save(ctx))
	})
}

func TestEditor_SetReservationsEnabled(t *testing.T) {
	ctx := context.Background()

	t.Run("zero slots rejected before persisting", func(t *testing.T) {
		store := new(mockStore)
		e := newTestEditor(store, nil, false)
		assert.ErrorIs(t, e.SetReservationsEnabled(ctx, true), ErrNoSlots)
		assert.False(t, e.ReservationsEnabled())
		store.AssertNotCalled(t, "SetAcceptsReservations", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("inactive slot rejected", func(t *testing.T) {
		store := new(mockStore)
		e := newTestEditor(store, []model.TimeSlot{slot("a", "18:00", "20:00")}, false)
		assert.ErrorIs(t, e.SetReservationsEnabled(ctx, true), ErrInactiveSlot)
		store.AssertNotCalled(t, "SetAcceptsReservations", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("persist failure reverts", func(t *testing.T) {
		store := new(mockStore)
		e := newTestEditor(store, []model.TimeSlot{slot("a", "18:00", "20:00", model.Monday)}, false)
		store.On("SetAcceptsReservations", ctx, "biz-1", true).Return(errors.New("timeout")).Once()

		assert.Error(t, e.SetReservationsEnabled(ctx, true))
		assert.False(t, e.ReservationsEnabled())
	})

	t.Run("success", func(t *testing.T) {
		store := new(mockStore)
		e := newTestEditor(store, []model.TimeSlot{slot("a", "18:00", "20:00", model.Monday)}, false)
		store.On("SetAcceptsReservations", ctx, "biz-1", true).Return(nil).Once()

		require.NoError(t, e.SetReservationsEnabled(ctx, true))
		assert.True(t, e.ReservationsEnabled())
		store.AssertExpectations(t)
	})
}

func TestEditor_DeleteLastSlotAutoDisables(t *testing.T) {
	ctx := context.Background()
	store := new(mockStore)
	e := newTestEditor(store, []model.TimeSlot{
		slot("a", "18:00", "20:00", model.Monday),
		slot("b", "20:00", "22:00", model.Monday),
	}, true)
	store.On("SaveSlots", ctx, "biz-1", []model.TimeSlot{}).Return(true, nil).Once()

	res, err := e.Delete(ctx, "a")
	require.NoError(t, err)
	assert.False(t, res.AutoDisabled)
	assert.False(t, res.Persisted)
	assert.True(t, e.ReservationsEnabled())

	res, err = e.Delete(ctx, "b")
	require.NoError(t, err)
	assert.True(t, res.AutoDisabled)
	assert.True(t, res.Persisted)
	assert.False(t, e.ReservationsEnabled())
	assert.Empty(t, e.Slots())
	store.AssertExpectations(t)
	store.AssertNotCalled(t, "SetAcceptsReservations", mock.Anything, mock.Anything, mock.Anything)
}

func TestEditor_DeleteLastSlotStoreFailureRestores(t *testing.T) {
	ctx := context.Background()
	store := new(mockStore)
	e := newTestEditor(store, []model.TimeSlot{slot("a", "18:00", "20:00", model.Monday)}, true)
	store.On("SaveSlots", ctx, "biz-1", []model.TimeSlot{}).Return(false, errors.New("db down")).Once()

	res, err := e.Delete(ctx, "a")
	require.Error(t, err)
	assert.False(t, res.AutoDisabled)
	assert.True(t, e.ReservationsEnabled())
	require.Len(t, e.Slots(), 1)
	assert.Equal(t, "a", e.Slots()[0].ID)
}

func TestEditor_DeleteWithReservationsOff(t *testing.T) {
	ctx := context.Background()
	store := new(mockStore)
	e := newTestEditor(store, []model.TimeSlot{slot("a", "18:00", "20:00", model.Monday)}, false)
	store.On("SaveSlots", ctx, "biz-1", []model.TimeSlot{}).Return(false, nil).Once()

	res, err := e.Delete(ctx, "a")
	require.NoError(t, err)
	assert.False(t, res.AutoDisabled)
	assert.True(t, res.Persisted)
	store.AssertNotCalled(t, "SetAcceptsReservations", mock.Anything, mock.Anything, mock.Anything)
}

func TestEditor_DuplicateStartBlocksSave(t *testing.T) {
	ctx := context.Background()
	store := new(mockStore)
	e := newTestEditor(store, []model.TimeSlot{slot("a", "18:00", "20:00", model.Monday, model.Friday)}, false)

	dup, err := e.Duplicate("a")
	require.NoError(t, err)
	require.NoError(t, e.Apply(SetCapacity{SlotID: dup.ID, Value: 5}))

	assert.False(t, e.CanSave())
	assert.ErrorIs(t, e.Save(ctx), ErrDuplicateStart)
	assert.ErrorIs(t, e.SaveRemaining(ctx), ErrDuplicateStart)
	store.AssertNotCalled(t, "SaveSlots", mock.Anything, mock.Anything, mock.Anything)

	// same start on disjoint days is fine
	require.NoError(t, e.Apply(ToggleDay{SlotID: dup.ID, Day: model.Monday}))
	assert.ErrorIs(t, e.Validate(), ErrDuplicateStart, "still shares friday")
	require.NoError(t, e.Apply(ToggleDay{SlotID: dup.ID, Day: model.Friday}))
	require.NoError(t, e.Apply(ToggleDay{SlotID: dup.ID, Day: model.Saturday}))
	assert.NoError(t, e.Validate())

	require.NoError(t, e.Apply(ToggleDay{SlotID: dup.ID, Day: model.Friday}))
	require.NoError(t, e.Apply(SetTimeFrom{SlotID: dup.ID, Value: "20:00"}))
	require.NoError(t, e.Apply(SetTimeTo{SlotID: dup.ID, Value: "22:00"}))
	assert.True(t, e.CanSave())
}
