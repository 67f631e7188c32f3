package conf

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DevRickLin/feishu-nudge/internal/biz/domain"
)

const sampleSettings = `
enabled: true
timezone: UTC
subscribe_mode: auto
idle:
  minutes: 60
  jitter_percent: 5
daily:
  slot1:
    time: "09:00"
    enabled: true
  slot2:
    time: "09:00"
    enabled: true
    prompt: "lunch?"
quiet_hours: "23:00-07:00"
history_depth: 12
dispatch:
  interval_seconds: 3
subscription:
  max_no_reply_days: 4
admin_user_ids: ["ou_admin"]
`

func writeSettings(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nudge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestSettingsFromFile(t *testing.T) {
	v, err := NewViper(writeSettings(t, sampleSettings))
	require.NoError(t, err)

	s, err := SettingsFromViper(v, DefaultPromptsConfig())
	require.NoError(t, err)

	assert.True(t, s.Enabled)
	assert.Equal(t, time.UTC, s.Location)
	assert.Equal(t, domain.SubscribeAuto, s.SubscribeMode)
	assert.Equal(t, 60*time.Minute, s.IdleBaseline)
	assert.Equal(t, 5, s.IdleJitterPercent)
	assert.Equal(t, "09:00", s.Slots[0].Time())
	assert.Equal(t, "09:01", s.Slots[1].Time(), "duplicate slot minute is shifted")
	assert.Equal(t, "lunch?", s.Slots[1].Prompt)
	assert.Equal(t, DefaultPromptsConfig().Daily.Slot1, s.Slots[0].Prompt)
	assert.False(t, s.Slots[2].Enabled)
	assert.Equal(t, "23:00-07:00", s.Quiet.String())
	assert.Equal(t, 12, s.HistoryDepth)
	assert.Equal(t, 3*time.Second, s.DispatchInterval)
	assert.Equal(t, 4, s.MaxNoReplyDays)
	assert.True(t, s.IsAdmin("ou_admin"))
	assert.False(t, s.IsAdmin("ou_other"))
}

func TestSettingsRejectsMalformedQuietHours(t *testing.T) {
	v, err := NewViper(writeSettings(t, "quiet_hours: \"23-07\"\n"))
	require.NoError(t, err)

	_, err = SettingsFromViper(v, nil)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, keyQuietHours, cfgErr.Field)
}

func TestSettingsEnvOverride(t *testing.T) {
	t.Setenv("NUDGE_HISTORY_DEPTH", "3")
	v, err := NewViper(writeSettings(t, sampleSettings))
	require.NoError(t, err)

	s, err := SettingsFromViper(v, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, s.HistoryDepth)
}

func TestStoreUpdateIsCopyOnWrite(t *testing.T) {
	path := writeSettings(t, sampleSettings)
	v, err := NewViper(path)
	require.NoError(t, err)
	st, err := NewStore(v, nil)
	require.NoError(t, err)

	before := st.Current()
	after, err := st.Update(context.Background(), func(s *domain.Settings) error {
		s.Enabled = false
		s.HistoryDepth = 2
		return nil
	})
	require.NoError(t, err)

	assert.True(t, before.Enabled, "published snapshot must not change in place")
	assert.False(t, after.Enabled)
	assert.Same(t, after, st.Current())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "history_depth: 2")
}

func TestStoreUpdateRejectsInvalid(t *testing.T) {
	st := NewStaticStore(domain.DefaultSettings())
	before := st.Current()

	_, err := st.Update(context.Background(), func(s *domain.Settings) error {
		return &domain.ValidationError{Field: "x", Message: "nope"}
	})
	require.Error(t, err)
	assert.Same(t, before, st.Current())
}

func TestLoadPromptsConfigDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("idle:\n  templates: [\"\", \"hey {{now}}\"]\npersona:\n  default: \"You are kind.\"\n"), 0o644))

	p, err := LoadPromptsConfig(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, []string{"hey {{now}}"}, p.Idle.Templates)
	assert.Equal(t, DefaultPromptsConfig().Reminder.Template, p.Reminder.Template)
	assert.Equal(t, "default", p.Persona.Name)
}

func TestStoreReloadSeesFileEditsAfterUpdate(t *testing.T) {
	path := writeSettings(t, sampleSettings)
	v, err := NewViper(path)
	require.NoError(t, err)
	st, err := NewStore(v, nil)
	require.NoError(t, err)

	_, err = st.Update(context.Background(), func(s *domain.Settings) error {
		s.HistoryDepth = 2
		s.Quiet = domain.QuietHours{}
		return nil
	})
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "reminders:", "defaults are not written back")

	edited := strings.Replace(string(raw), "history_depth: 2", "history_depth: 7", 1)
	require.NotEqual(t, string(raw), edited)
	require.NoError(t, os.WriteFile(path, []byte(edited), 0o644))

	require.NoError(t, st.Reload())
	assert.Equal(t, 7, st.Current().HistoryDepth, "file edit wins over the earlier chat update")
	assert.True(t, st.Current().Quiet.IsEmpty())
	assert.Equal(t, 60*time.Minute, st.Current().IdleBaseline, "untouched keys survive the write")
}
