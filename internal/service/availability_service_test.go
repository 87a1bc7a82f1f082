package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tutorhub-api/internal/dto"
	appErrors "github.com/noah-isme/tutorhub-api/pkg/errors"
)

func TestIsAvailableUsesHalfOpenSlots(t *testing.T) {
	e := newEngine(t)
	e.seed(t)
	monday := nextMonday(0)
	ctx := context.Background()

	cases := []struct {
		at   time.Time
		want bool
	}{
		{monday.Add(9 * time.Hour), true},
		{monday.Add(16*time.Hour + 59*time.Minute), true},
		{monday.Add(17 * time.Hour), false},
		{monday.Add(8*time.Hour + 59*time.Minute), false},
		{monday.AddDate(0, 0, 1).Add(10 * time.Hour), false},
	}
	for _, tc := range cases {
		got, err := e.availability.IsAvailable(ctx, nil, testTeacher, tc.at)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, tc.at.String())
	}

	e.world.blocked[testTeacher+"|"+monday.Format("2006-01-02")] = true
	got, err := e.availability.IsAvailable(ctx, nil, testTeacher, monday.Add(10*time.Hour))
	require.NoError(t, err)
	assert.False(t, got)
}

func TestIsAvailableForNeedsOneCoveringSlot(t *testing.T) {
	e := newEngine(t)
	e.seed(t)
	monday := nextMonday(0)
	ctx := context.Background()

	ok, err := e.availability.IsAvailableFor(ctx, nil, testTeacher, monday.Add(16*time.Hour), monday.Add(17*time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.availability.IsAvailableFor(ctx, nil, testTeacher, monday.Add(16*time.Hour+30*time.Minute), monday.Add(17*time.Hour+30*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = e.availability.IsAvailableFor(ctx, nil, testTeacher, monday.Add(23*time.Hour), monday.Add(25*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok, "windows crossing midnight are unavailable")

	ok, err = e.availability.IsAvailableFor(ctx, nil, testTeacher, monday.Add(10*time.Hour), monday.Add(10*time.Hour))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReplaceSlotsSwapsTemplate(t *testing.T) {
	e := newEngine(t)
	e.seed(t)
	ctx := context.Background()

	availability, err := e.availability.ReplaceSlots(ctx, testTeacher, dto.ReplaceAvailabilityRequest{Slots: []dto.AvailabilitySlotRequest{
		{DayOfWeek: int(time.Tuesday), StartTime: "13:00", EndTime: "15:30"},
	}})
	require.NoError(t, err)
	require.Len(t, availability.Slots, 1)
	assert.Equal(t, int(time.Tuesday), availability.Slots[0].DayOfWeek)

	monday := nextMonday(10)
	ok, err := e.availability.IsAvailable(ctx, nil, testTeacher, monday)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = e.availability.IsAvailable(ctx, nil, testTeacher, monday.AddDate(0, 0, 1).Add(4*time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = e.availability.ReplaceSlots(ctx, testTeacher, dto.ReplaceAvailabilityRequest{Slots: []dto.AvailabilitySlotRequest{
		{DayOfWeek: 1, StartTime: "15:00", EndTime: "09:00"},
	}})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, errCode(err))

	_, err = e.availability.ReplaceSlots(ctx, testTeacher, dto.ReplaceAvailabilityRequest{Slots: []dto.AvailabilitySlotRequest{
		{DayOfWeek: 9, StartTime: "09:00", EndTime: "10:00"},
	}})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, errCode(err))
	assert.Len(t, e.world.slots, 1)
}

func TestReplaceSlotsStoresPaddedClock(t *testing.T) {
	e := newEngine(t)
	e.seed(t)
	ctx := context.Background()

	availability, err := e.availability.ReplaceSlots(ctx, testTeacher, dto.ReplaceAvailabilityRequest{Slots: []dto.AvailabilitySlotRequest{
		{DayOfWeek: int(time.Monday), StartTime: "9:00", EndTime: "10:00"},
	}})
	require.NoError(t, err)
	require.Len(t, availability.Slots, 1)
	assert.Equal(t, "09:00", availability.Slots[0].StartTime)
	assert.Equal(t, "10:00", availability.Slots[0].EndTime)
	assert.Less(t, availability.Slots[0].StartTime, availability.Slots[0].EndTime)

	ok, err := e.availability.IsAvailable(ctx, nil, testTeacher, nextMonday(9).Add(30*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAddUnavailabilityBlocksDate(t *testing.T) {
	e := newEngine(t)
	e.seed(t)
	monday := nextMonday(10)

	entry, err := e.availability.AddUnavailability(context.Background(), testTeacher, dto.AddUnavailabilityRequest{Date: monday.Format("2006-01-02")})
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)

	ok, err := e.availability.Check(context.Background(), testTeacher, monday, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = e.availability.AddUnavailability(context.Background(), testTeacher, dto.AddUnavailabilityRequest{Date: "13/01/2025"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, errCode(err))
}
