package reservations

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tablebook/internal/db"
	"tablebook/internal/model"
	"tablebook/internal/realtime"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) GetBusiness(ctx context.Context, id string) (*model.Business, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Business), args.Error(1)
}

func (m *mockStore) CreateReservation(ctx context.Context, r *model.Reservation) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func (m *mockStore) GetReservation(ctx context.Context, id string) (*model.Reservation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Reservation), args.Error(1)
}

func (m *mockStore) UpdateReservationStatus(ctx context.Context, id string, to model.ReservationStatus) (*model.Reservation, error) {
	args := m.Called(ctx, id, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Reservation), args.Error(1)
}

func (m *mockStore) ListReservations(ctx context.Context, f db.ListFilter) ([]model.Reservation, error) {
	args := m.Called(ctx, f)
	return args.Get(0).([]model.Reservation), args.Error(1)
}

func (m *mockStore) MarkNoShows(ctx context.Context, cutoff time.Time) ([]model.Reservation, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).([]model.Reservation), args.Error(1)
}

func (m *mockStore) WriteAudit(ctx context.Context, entry model.AuditLog) error {
	return nil
}

type recordingNotifier struct {
	created []*model.Reservation
	changed []*model.Reservation
}

func (n *recordingNotifier) ReservationCreated(ctx context.Context, r *model.Reservation) {
	n.created = append(n.created, r)
}

func (n *recordingNotifier) ReservationStatusChanged(ctx context.Context, r *model.Reservation) {
	n.changed = append(n.changed, r)
}

type recordingPublisher struct {
	changes []realtime.Change
}

func (p *recordingPublisher) Publish(ctx context.Context, c realtime.Change) {
	p.changes = append(p.changes, c)
}

// Sunday 2025-06-01 10:00 UTC
var clock = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func testBusiness() *model.Business {
	return &model.Business{
		ID:                        "biz-1",
		AcceptsDirectReservations: true,
		Timezone:                  "Europe/Berlin",
		TimeSlots: []model.TimeSlot{{
			ID: "s1", TimeFrom: "19:00", TimeTo: "21:00", Capacity: 2, MaxPartySize: 4,
			Days: []model.Weekday{model.Monday},
		}},
	}
}

func newTestService(store Store, n Notifier, p Publisher) *Service {
	logger := zerolog.New(io.Discard)
	return NewService(store, n, p, Options{
		MaxAdvance: 30 * 24 * time.Hour,
		Now:        func() time.Time { return clock },
	}, &logger)
}

func validRequest() CreateRequest {
	return CreateRequest{
		BusinessID: "biz-1",
		GuestName:  " Ada ",
		PartySize:  2,
		Date:       "2025-06-02",
		SlotTime:   "19:00",
	}
}

func TestCreate_DirectReservation(t *testing.T) {
	ctx := context.Background()
	store := new(mockStore)
	notifier := &recordingNotifier{}
	pub := &recordingPublisher{}

	store.On("GetBusiness", ctx, "biz-1").Return(testBusiness(), nil).Once()
	store.On("CreateReservation", ctx, mock.AnythingOfType("*model.Reservation")).Return(nil).Once()

	r, err := newTestService(store, notifier, pub).Create(ctx, validRequest())
	require.NoError(t, err)

	assert.Equal(t, "Ada", r.GuestName)
	assert.Equal(t, model.StatusPending, r.Status)
	assert.Equal(t, "19:00", r.SlotTime)
	assert.Equal(t, "2025-06-02", r.ReservationDate)
	// 19:00 in Berlin summer time is 17:00 UTC
	assert.Equal(t, time.Date(2025, 6, 2, 17, 0, 0, 0, time.UTC), r.PreferredTime)
	assert.Equal(t, model.SeatingNoPreference, r.SeatingPreference)
	assert.Len(t, r.ConfirmationCode, 8)
	assert.NotEmpty(t, r.QRCodeToken)
	assert.Equal(t, model.TypeProfile, r.Type())

	require.Len(t, notifier.created, 1)
	require.Len(t, pub.changes, 1)
	assert.Equal(t, realtime.TableReservations, pub.changes[0].Table)
	assert.Equal(t, "2025-06-02", pub.changes[0].Date)
}

func TestCreate_Rejections(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		mutate  func(req *CreateRequest, b *model.Business)
		wantErr error
	}{
		{"missing name", func(req *CreateRequest, b *model.Business) { req.GuestName = " " }, ErrInvalidRequest},
		{"zero party", func(req *CreateRequest, b *model.Business) { req.PartySize = 0 }, ErrInvalidRequest},
		{"bad seating", func(req *CreateRequest, b *model.Business) { req.Seating = "roof" }, ErrInvalidRequest},
		{"party too large", func(req *CreateRequest, b *model.Business) { req.PartySize = 5 }, db.ErrPartyTooLarge},
		{"inactive weekday", func(req *CreateRequest, b *model.Business) { req.Date = "2025-06-03" }, db.ErrSlotNotFound},
		{"unknown slot", func(req *CreateRequest, b *model.Business) { req.SlotTime = "20:00" }, db.ErrSlotNotFound},
		{"paused", func(req *CreateRequest, b *model.Business) { b.ReservationsPaused = true }, db.ErrReservationsPaused},
		{"disabled", func(req *CreateRequest, b *model.Business) { b.AcceptsDirectReservations = false }, db.ErrReservationsDisabled},
		{"too far", func(req *CreateRequest, b *model.Business) { req.Date = "2025-09-01" }, ErrTooFar},
		{"bad date", func(req *CreateRequest, b *model.Business) { req.Date = "02.06.2025" }, ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(mockStore)
			b := testBusiness()
			req := validRequest()
			tt.mutate(&req, b)
			store.On("GetBusiness", ctx, "biz-1").Return(b, nil).Maybe()

			_, err := newTestService(store, nil, nil).Create(ctx, req)
			assert.ErrorIs(t, err, tt.wantErr)
			store.AssertNotCalled(t, "CreateReservation", mock.Anything, mock.Anything)
		})
	}
}

func TestCreate_StoreRejectsFullSlot(t *testing.T) {
	ctx := context.Background()
	store := new(mockStore)
	notifier := &recordingNotifier{}
	store.On("GetBusiness", ctx, "biz-1").Return(testBusiness(), nil).Once()
	store.On("CreateReservation", ctx, mock.Anything).Return(db.ErrSlotFull).Once()

	_, err := newTestService(store, notifier, nil).Create(ctx, validRequest())
	assert.ErrorIs(t, err, db.ErrSlotFull)
	assert.Empty(t, notifier.created)
}

func TestCreate_RetriesCodeCollision(t *testing.T) {
	ctx := context.Background()
	store := new(mockStore)
	store.On("GetBusiness", ctx, "biz-1").Return(testBusiness(), nil).Once()
	store.On("CreateReservation", ctx, mock.Anything).
		Return(errors.New("insert reservation: UNIQUE constraint failed: reservations.confirmation_code")).Once()
	store.On("CreateReservation", ctx, mock.Anything).Return(nil).Once()

	_, err := newTestService(store, nil, nil).Create(ctx, validRequest())
	require.NoError(t, err)
	store.AssertNumberOfCalls(t, "CreateReservation", 2)
}

func TestCreate_EventReservation(t *testing.T) {
	ctx := context.Background()
	store := new(mockStore)
	store.On("CreateReservation", ctx, mock.Anything).Return(nil).Once()

	at := time.Date(2025, 6, 5, 20, 0, 0, 0, time.UTC)
	offer := "op-9"
	r, err := newTestService(store, nil, nil).Create(ctx, CreateRequest{
		EventID: "ev-1", GuestName: "Bo", PartySize: 3, PreferredTime: &at, OfferPurchaseID: offer,
	})
	require.NoError(t, err)
	assert.False(t, r.Direct())
	assert.Equal(t, model.TypeOffer, r.Type())
	assert.Equal(t, "2025-06-05", r.ReservationDate)
	store.AssertNotCalled(t, "GetBusiness", mock.Anything, mock.Anything)

	_, err = newTestService(store, nil, nil).Create(ctx, CreateRequest{EventID: "ev-1", GuestName: "Bo", PartySize: 1})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestSetStatus(t *testing.T) {
	ctx := context.Background()
	store := new(mockStore)
	notifier := &recordingNotifier{}
	pub := &recordingPublisher{}

	updated := &model.Reservation{ID: "r1", BusinessID: "biz-1", Status: model.StatusAccepted}
	store.On("UpdateReservationStatus", ctx, "r1", model.StatusAccepted).Return(updated, nil).Once()
	store.On("UpdateReservationStatus", ctx, "r1", model.StatusPending).Return(nil, db.ErrInvalidTransition).Once()

	svc := newTestService(store, notifier, pub)
	got, err := svc.SetStatus(ctx, "staff-1", "r1", model.StatusAccepted)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAccepted, got.Status)
	assert.Len(t, notifier.changed, 1)
	assert.Len(t, pub.changes, 1)

	_, err = svc.SetStatus(ctx, "staff-1", "r1", model.StatusPending)
	assert.ErrorIs(t, err, db.ErrInvalidTransition)

	_, err = svc.SetStatus(ctx, "staff-1", "r1", "archived")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestList_DerivesDisplayStatus(t *testing.T) {
	ctx := context.Background()
	store := new(mockStore)

	late := model.Reservation{ID: "late", Status: model.StatusAccepted, PreferredTime: clock.Add(-10 * time.Minute)}
	gone := model.Reservation{ID: "gone", Status: model.StatusAccepted, PreferredTime: clock.Add(-time.Hour)}
	store.On("ListReservations", ctx, db.ListFilter{BusinessID: "biz-1"}).
		Return([]model.Reservation{late, gone}, nil).Once()

	views, err := newTestService(store, nil, nil).List(ctx, ListQuery{BusinessID: "biz-1"})
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, DisplayGraceEnding, views[0].DisplayStatus)
	assert.Equal(t, int64(300), views[0].GraceRemaining)
	assert.Equal(t, DisplayNoShow, views[1].DisplayStatus)
	assert.Equal(t, model.TypeProfile, views[1].Type)
}

func TestSweeper_MarksOverdue(t *testing.T) {
	ctx := context.Background()
	store := new(mockStore)
	pub := &recordingPublisher{}

	cutoff := clock.Add(-DefaultGracePeriod)
	store.On("MarkNoShows", ctx, cutoff).Return([]model.Reservation{
		{ID: "r1", BusinessID: "biz-1", Status: model.StatusNoShow},
	}, nil).Once()
	store.On("MarkNoShows", ctx, cutoff).Return([]model.Reservation{}, nil).Once()

	logger := zerolog.New(io.Discard)
	sweeper := NewSweeper(newTestService(store, nil, pub), "", &logger)

	n, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, pub.changes, 1)
	assert.Equal(t, "r1", pub.changes[0].RecordID)

	n, err = sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSweeper_InvalidSchedule(t *testing.T) {
	logger := zerolog.New(io.Discard)
	sweeper := NewSweeper(newTestService(new(mockStore), nil, nil), "not a schedule", &logger)
	assert.Error(t, sweeper.Start(context.Background()))
}
