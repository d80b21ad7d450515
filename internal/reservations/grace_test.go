package reservations

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablebook/internal/model"
)

func TestClassify(t *testing.T) {
	reserved := time.Date(2025, 6, 2, 19, 0, 0, 0, time.UTC)
	checkedAt := reserved.Add(-5 * time.Minute)

	tests := []struct {
		name      string
		status    model.ReservationStatus
		checkedIn *time.Time
		now       time.Time
		want      DisplayStatus
	}{
		{"before time keeps stored", model.StatusAccepted, nil, reserved.Add(-time.Minute), DisplayAccepted},
		{"pending before time", model.StatusPending, nil, reserved.Add(-time.Hour), DisplayPending},
		{"at reserved time", model.StatusAccepted, nil, reserved, DisplayGraceEnding},
		{"ten minutes late", model.StatusAccepted, nil, reserved.Add(10 * time.Minute), DisplayGraceEnding},
		{"grace boundary", model.StatusAccepted, nil, reserved.Add(15 * time.Minute), DisplayNoShow},
		{"twenty minutes late", model.StatusAccepted, nil, reserved.Add(20 * time.Minute), DisplayNoShow},
		{"checked in wins", model.StatusAccepted, &checkedAt, reserved.Add(2 * time.Hour), DisplayCheckedIn},
		{"cancelled stays cancelled", model.StatusCancelled, nil, reserved.Add(time.Hour), DisplayCancelled},
		{"declined stays declined", model.StatusDeclined, nil, reserved.Add(5 * time.Minute), DisplayDeclined},
		{"stored no-show", model.StatusNoShow, nil, reserved.Add(-time.Hour), DisplayNoShow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &model.Reservation{Status: tt.status, PreferredTime: reserved, CheckedInAt: tt.checkedIn}
			assert.Equal(t, tt.want, Classify(r, tt.now, DefaultGracePeriod))
		})
	}
}

func TestClassify_CustomGrace(t *testing.T) {
	reserved := time.Date(2025, 6, 2, 19, 0, 0, 0, time.UTC)
	r := &model.Reservation{Status: model.StatusAccepted, PreferredTime: reserved}

	assert.Equal(t, DisplayGraceEnding, Classify(r, reserved.Add(20*time.Minute), 30*time.Minute))
	assert.Equal(t, DisplayGraceEnding, Classify(r, reserved.Add(10*time.Minute), 0), "zero grace falls back to default")
}

func TestGraceRemaining(t *testing.T) {
	reserved := time.Date(2025, 6, 2, 19, 0, 0, 0, time.UTC)
	r := &model.Reservation{Status: model.StatusAccepted, PreferredTime: reserved}

	assert.Equal(t, 5*time.Minute, GraceRemaining(r, reserved.Add(10*time.Minute), DefaultGracePeriod))
	assert.Zero(t, GraceRemaining(r, reserved.Add(-time.Minute), DefaultGracePeriod))
	assert.Zero(t, GraceRemaining(r, reserved.Add(time.Hour), DefaultGracePeriod))
}

func TestNewConfirmationCode(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		code, err := NewConfirmationCode()
		require.NoError(t, err)
		require.Len(t, code, codeLength)
		for _, ch := range code {
			assert.True(t, strings.ContainsRune(codeAlphabet, ch), "unexpected %q", ch)
		}
		seen[code] = true
	}
	assert.Greater(t, len(seen), 190)
	assert.NotEqual(t, NewQRToken(), NewQRToken())
}
