package usecase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DevRickLin/feishu-nudge/internal/biz/domain"
)

func TestReminderAddAssignsPerSessionIDs(t *testing.T) {
	f := newFixture(t, testSettings(), at(t, "2025-10-22 08:00"))
	ctx := context.Background()

	r1, err := f.reminder.Add(ctx, "oc_1", "2025-10-22 09:30", "stand-up", false, "ou_user")
	require.NoError(t, err)
	r2, err := f.reminder.Add(ctx, "oc_1", "21:00", "stretch", true, "ou_user")
	require.NoError(t, err)
	r3, err := f.reminder.Add(ctx, "oc_2", "21:00", "water", true, "ou_user")
	require.NoError(t, err)

	assert.Equal(t, int64(1), r1.ID)
	assert.Equal(t, int64(2), r2.ID)
	assert.Equal(t, int64(1), r3.ID)
	assert.Equal(t, "ou_user", r1.CreatedBy)

	_, err = f.reminder.Add(ctx, "oc_1", "2025-10-21 09:30", "late", false, "ou_user")
	assert.True(t, domain.IsValidation(err))
}

func TestOneShotReminderFiresOnceAndIsRetained(t *testing.T) {
	f := newFixture(t, testSettings(), at(t, "2025-10-22 08:00"))
	ctx := context.Background()
	_, err := f.reminder.Add(ctx, "oc_1", "2025-10-22 09:30", "stand-up", false, "ou_user")
	require.NoError(t, err)

	res := f.tick(t, at(t, "2025-10-22 09:29"))
	assert.Empty(t, res.Events)

	res = f.tick(t, at(t, "2025-10-22 09:30"))
	require.Len(t, res.Events, 1)
	assert.Equal(t, domain.TriggerReminder, res.Events[0].Kind)
	assert.Equal(t, "stand-up", res.Events[0].Content)

	sent := f.messages.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, ReminderPrefix+"hello there", sent[0].Text)

	res = f.tick(t, at(t, "2025-10-22 09:30"))
	assert.Empty(t, res.Events)

	list, err := f.reminder.List(ctx, "oc_1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Fired)
	assert.Contains(t, list[0].Describe(), "(fired)")
}

func TestDailyReminderFiresOncePerDay(t *testing.T) {
	f := newFixture(t, testSettings(), at(t, "2025-10-22 08:00"))
	_, err := f.reminder.Add(context.Background(), "oc_1", "09:30", "vitamins", true, "ou_user")
	require.NoError(t, err)

	assert.Len(t, f.tick(t, at(t, "2025-10-22 09:30")).Events, 1)
	assert.Empty(t, f.tick(t, at(t, "2025-10-22 09:30")).Events)
	assert.Len(t, f.tick(t, at(t, "2025-10-23 09:30")).Events, 1)
}

func TestReminderFiresForUnsubscribedSession(t *testing.T) {
	f := newFixture(t, testSettings(), at(t, "2025-10-22 08:00"))
	_, err := f.reminder.Add(context.Background(), "oc_1", "09:30", "vitamins", true, "ou_user")
	require.NoError(t, err)

	res := f.tick(t, at(t, "2025-10-22 09:30"))
	assert.Len(t, res.Events, 1)
	assert.Nil(t, f.sessions.get("oc_1"), "delivery does not create a session")
}

func TestReminderSuppressedByQuietHoursIsMissed(t *testing.T) {
	cfg := testSettings()
	cfg.Quiet = domain.QuietHours{Start: 22 * 60, End: 7 * 60}
	f := newFixture(t, cfg, at(t, "2025-10-22 20:00"))
	_, err := f.reminder.Add(context.Background(), "oc_1", "2025-10-22 23:00", "sleep", false, "ou_user")
	require.NoError(t, err)

	assert.Empty(t, f.tick(t, at(t, "2025-10-22 23:00")).Events)
	assert.Empty(t, f.tick(t, at(t, "2025-10-23 07:00")).Events)

	list, err := f.reminder.List(context.Background(), "oc_1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].Fired)
}

func TestRemindersDisabled(t *testing.T) {
	cfg := testSettings()
	cfg.RemindersEnabled = false
	f := newFixture(t, cfg, at(t, "2025-10-22 08:00"))
	_, err := f.reminder.Add(context.Background(), "oc_1", "09:30", "x", true, "ou_user")
	require.NoError(t, err)

	assert.Empty(t, f.tick(t, at(t, "2025-10-22 09:30")).Events)
}

func TestReminderDelete(t *testing.T) {
	f := newFixture(t, testSettings(), at(t, "2025-10-22 08:00"))
	ctx := context.Background()
	r, err := f.reminder.Add(ctx, "oc_1", "09:30", "x", true, "ou_user")
	require.NoError(t, err)

	assert.ErrorIs(t, f.reminder.Delete(ctx, "oc_2", r.ID), domain.ErrNotFound)
	require.NoError(t, f.reminder.Delete(ctx, "oc_1", r.ID))
	assert.ErrorIs(t, f.reminder.Delete(ctx, "oc_1", r.ID), domain.ErrNotFound)
}
