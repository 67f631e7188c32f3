package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(t *testing.T, s string) time.Time {
	t.Helper()
	v, err := time.ParseInLocation(MinuteLayout, s, time.UTC)
	require.NoError(t, err)
	return v
}

func TestOneShotReminderFiresOnce(t *testing.T) {
	r := &Reminder{ID: 1, Kind: ReminderOnce, FireAt: "2025-10-22 09:30", Content: "standup"}

	assert.False(t, r.Due(at(t, "2025-10-22 09:29")))
	now := at(t, "2025-10-22 09:30").Add(25 * time.Second)
	require.True(t, r.Due(now))

	r.MarkFired(now)
	assert.True(t, r.Fired)
	assert.True(t, r.Exhausted())
	assert.False(t, r.Due(now))
	assert.False(t, r.Due(at(t, "2025-10-22 09:31")))
	assert.False(t, r.Due(at(t, "2025-10-23 09:30")))
}

func TestDailyReminderOncePerDay(t *testing.T) {
	r := &Reminder{ID: 2, Kind: ReminderDaily, FireAt: "08:00", Content: "water"}

	d1 := at(t, "2025-01-01 08:00")
	require.True(t, r.Due(d1))
	r.MarkFired(d1)
	assert.Equal(t, "2025-01-01", r.LastFiredDate)
	assert.False(t, r.Due(d1.Add(30*time.Second)))
	assert.False(t, r.Due(at(t, "2025-01-01 08:01")))
	assert.True(t, r.Due(at(t, "2025-01-02 08:00")))
	assert.False(t, r.Exhausted())
}

func TestNewReminder(t *testing.T) {
	now := at(t, "2025-05-01 10:00")

	r, err := NewReminder("s1", "2025-05-02 09:00", "call mom", false, now)
	require.NoError(t, err)
	assert.Equal(t, ReminderOnce, r.Kind)
	assert.Equal(t, "2025-05-02 09:00", r.FireAt)

	r, err = NewReminder("s1", "09:00", "tomorrow", false, now)
	require.NoError(t, err)
	assert.Equal(t, "2025-05-02 09:00", r.FireAt, "a passed time of day rolls to tomorrow")

	r, err = NewReminder("s1", "11:15", "later", false, now)
	require.NoError(t, err)
	assert.Equal(t, "2025-05-01 11:15", r.FireAt)

	r, err = NewReminder("s1", "7：05", "daily pill", true, now)
	require.NoError(t, err)
	assert.Equal(t, ReminderDaily, r.Kind)
	assert.Equal(t, "07:05", r.FireAt)

	_, err = NewReminder("s1", "2025-04-30 09:00", "past", false, now)
	assert.True(t, IsValidation(err))

	_, err = NewReminder("s1", "tomorrow", "x", false, now)
	assert.True(t, IsValidation(err))

	_, err = NewReminder("s1", "09:00", "  ", false, now)
	assert.True(t, IsValidation(err))
}

func TestReminderDescribe(t *testing.T) {
	r := &Reminder{ID: 3, Kind: ReminderDaily, FireAt: "07:00", Content: "run"}
	assert.Equal(t, "3 | daily 07:00 | run", r.Describe())

	r = &Reminder{ID: 4, Kind: ReminderOnce, FireAt: "2025-01-01 07:00", Content: "x", Fired: true}
	assert.Equal(t, "4 | 2025-01-01 07:00 | x (fired)", r.Describe())
}
