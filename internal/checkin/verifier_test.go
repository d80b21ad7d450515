package checkin

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"testing"
	"time"

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

func (m *mockStore) FindReservationByToken(ctx context.Context, token string) (*model.Reservation, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Reservation), args.Error(1)
}

func (m *mockStore) CheckIn(ctx context.Context, id, staffID string, at time.Time) (*model.Reservation, error) {
	args := m.Called(ctx, id, staffID, at)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Reservation), args.Error(1)
}

func (m *mockStore) WriteAudit(ctx context.Context, entry model.AuditLog) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

type recordingPublisher struct {
	changes []realtime.Change
}

func (p *recordingPublisher) Publish(ctx context.Context, c realtime.Change) {
	p.changes = append(p.changes, c)
}

var arrival = time.Date(2025, 6, 2, 17, 5, 0, 0, time.UTC)

func newVerifier(store Store, pub Publisher, record bool) *Verifier {
	return NewVerifier(store, pub, VerifierOptions{
		RecordCheckIn: record,
		Now:           func() time.Time { return arrival },
	}, nil)
}

func reservation(status model.ReservationStatus) *model.Reservation {
	return &model.Reservation{ID: "r1", BusinessID: "biz-1", Status: status, ReservationDate: "2025-06-02"}
}

func TestVerify_Rejections(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		found      *model.Reservation
		err        error
		wantReason Reason
		leaks      bool
	}{
		{"not found", nil, nil, ReasonNotFound, false},
		{"lookup error", nil, errors.New("disk I/O error"), ReasonLookupFailed, false},
		{"other business", &model.Reservation{ID: "r9", BusinessID: "biz-2", Status: model.StatusAccepted}, nil, ReasonWrongBusiness, false},
		{"other business cancelled", &model.Reservation{ID: "r9", BusinessID: "biz-2", Status: model.StatusCancelled}, nil, ReasonWrongBusiness, false},
		{"cancelled", reservation(model.StatusCancelled), nil, ReasonCancelled, true},
		{"declined", reservation(model.StatusDeclined), nil, ReasonDeclined, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := new(mockStore)
			store.On("FindReservationByToken", ctx, "CODE1234").Return(tt.found, tt.err).Once()

			res := newVerifier(store, nil, true).Verify(ctx, "biz-1", "staff-1", "CODE1234")
			assert.Equal(t, StateRejected, res.State)
			assert.Equal(t, tt.wantReason, res.Reason)
			assert.Equal(t, tt.leaks, res.Reservation != nil)
			store.AssertNotCalled(t, "CheckIn", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestVerify_RecordsArrival(t *testing.T) {
	ctx := context.Background()
	store := new(mockStore)
	pub := &recordingPublisher{}

	checked := reservation(model.StatusAccepted)
	at := arrival
	checked.CheckedInAt = &at
	checked.CheckedInBy = "staff-1"

	store.On("FindReservationByToken", ctx, "qr-token").Return(reservation(model.StatusAccepted), nil).Once()
	store.On("CheckIn", ctx, "r1", "staff-1", arrival).Return(checked, nil).Once()
	store.On("WriteAudit", ctx, mock.MatchedBy(func(e model.AuditLog) bool {
		return e.Action == model.ActionCheckedIn && e.Target == "r1"
	})).Return(nil).Once()

	res := newVerifier(store, pub, true).Verify(ctx, "biz-1", "staff-1", "qr-token")
	assert.Equal(t, StateVerified, res.State)
	assert.True(t, res.Recorded)
	require.NotNil(t, res.Reservation)
	assert.True(t, res.Reservation.CheckedIn())
	require.Len(t, pub.changes, 1)
	assert.Equal(t, "biz-1", pub.changes[0].BusinessID)
	store.AssertExpectations(t)
}

func TestVerify_PendingAndNoShowAccepted(t *testing.T) {
	ctx := context.Background()
	for _, status := range []model.ReservationStatus{model.StatusPending, model.StatusNoShow} {
		store := new(mockStore)
		store.On("FindReservationByToken", ctx, "c").Return(reservation(status), nil).Once()

		res := newVerifier(store, nil, false).Verify(ctx, "biz-1", "staff-1", "c")
		assert.Equal(t, StateVerified, res.State, status)
		assert.False(t, res.Recorded)
	}
}

func TestVerify_AlreadyCheckedInNotRecordedTwice(t *testing.T) {
	ctx := context.Background()
	store := new(mockStore)
	r := reservation(model.StatusAccepted)
	at := arrival.Add(-time.Hour)
	r.CheckedInAt = &at
	store.On("FindReservationByToken", ctx, "c").Return(r, nil).Once()

	res := newVerifier(store, nil, true).Verify(ctx, "biz-1", "staff-1", "c")
	assert.Equal(t, StateVerified, res.State)
	assert.False(t, res.Recorded)
	store.AssertNotCalled(t, "CheckIn", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestVerify_RecordFailureStillVerified(t *testing.T) {
	ctx := context.Background()
	store := new(mockStore)
	store.On("FindReservationByToken", ctx, "c").Return(reservation(model.StatusAccepted), nil).Once()
	store.On("CheckIn", ctx, "r1", "staff-1", arrival).Return(nil, db.ErrAlreadyCheckedIn).Once()

	res := newVerifier(store, nil, true).Verify(ctx, "biz-1", "staff-1", "c")
	assert.Equal(t, StateVerified, res.State)
	assert.False(t, res.Recorded)
}

func TestRenderQR(t *testing.T) {
	data, err := RenderQR("4f1c8d0e-2b7a-4c1e-9a57-1b2c3d4e5f60", 0)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, defaultQRSize, img.Bounds().Dx())

	_, err = RenderQR("", 128)
	assert.Error(t, err)
}
