package slots

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tablebook/internal/db"
	"tablebook/internal/model"
)

func TestEditor_StaleDraftDeleteDisablesStoredReservations(t *testing.T) {
	ctx := context.Background()
	logger := zerolog.New(io.Discard)
	database, err := db.NewDB(filepath.Join(t.TempDir(), "slots.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	require.NoError(t, database.UpsertBusiness(ctx, &model.Business{
		ID:        "biz-1",
		Name:      "Trattoria",
		Timezone:  "UTC",
		TimeSlots: []model.TimeSlot{slot("s1", "18:00", "20:00", model.Monday)},
	}))

	b, err := database.GetBusiness(ctx, "biz-1")
	require.NoError(t, err)
	require.False(t, b.AcceptsDirectReservations)

	first := NewEditor("biz-1", database, b.TimeSlots, b.AcceptsDirectReservations, &logger)
	second := NewEditor("biz-1", database, b.TimeSlots, b.AcceptsDirectReservations, &logger)

	require.NoError(t, second.SetReservationsEnabled(ctx, true))
	assert.False(t, first.ReservationsEnabled(), "first draft has not seen the change")

	res, err := first.Delete(ctx, "s1")
	require.NoError(t, err)
	assert.True(t, res.AutoDisabled)
	assert.True(t, res.Persisted)

	stored, err := database.GetBusiness(ctx, "biz-1")
	require.NoError(t, err)
	assert.Empty(t, stored.TimeSlots)
	assert.False(t, stored.AcceptsDirectReservations)
}
