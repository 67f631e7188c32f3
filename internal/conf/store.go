package conf

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"goa.design/clue/log"

	"github.com/DevRickLin/feishu-nudge/internal/biz/domain"
)

// Settings keys (nudge.yaml, or NUDGE_* env with dots as underscores)
const (
	keyEnabled          = "enabled"
	keyTimezone         = "timezone"
	keySubscribeMode    = "subscribe_mode"
	keyIdleEnabled      = "idle.enabled"
	keyIdleMinutes      = "idle.minutes"
	keyIdleJitter       = "idle.jitter_percent"
	keyIdleMinMinutes   = "idle.min_minutes"
	keyDailyEnabled     = "daily.enabled"
	keyQuietHours       = "quiet_hours"
	keyHistoryDepth     = "history_depth"
	keyDispatchInterval = "dispatch.interval_seconds"
	keyDispatchTimeout  = "dispatch.timeout_seconds"
	keyAutoResubscribe  = "subscription.auto_resubscribe"
	keyMaxNoReplyDays   = "subscription.max_no_reply_days"
	keyRemindersEnabled = "reminders.enabled"
	keyPersonaOverride  = "persona_override"
	keyProviderOverride = "provider_override"
	keyAppendTime       = "append_time_field"
	keyTimeFormat       = "time_format"
	keyAdmins           = "admin_user_ids"
)

func slotKey(index int, field string) string {
	return fmt.Sprintf("daily.slot%d.%s", index, field)
}

func setDefaults(v *viper.Viper) {
	d := domain.DefaultSettings()
	v.SetDefault(keyEnabled, d.Enabled)
	v.SetDefault(keyTimezone, "")
	v.SetDefault(keySubscribeMode, d.SubscribeMode)
	v.SetDefault(keyIdleEnabled, d.IdleEnabled)
	v.SetDefault(keyIdleMinutes, d.IdleBaseline.Minutes())
	v.SetDefault(keyIdleJitter, d.IdleJitterPercent)
	v.SetDefault(keyIdleMinMinutes, d.IdleMinimum.Minutes())
	v.SetDefault(keyDailyEnabled, d.DailyEnabled)
	for _, slot := range d.Slots {
		v.SetDefault(slotKey(slot.Index, "time"), slot.Time())
		v.SetDefault(slotKey(slot.Index, "enabled"), false)
		v.SetDefault(slotKey(slot.Index, "prompt"), "")
	}
	v.SetDefault(keyQuietHours, "")
	v.SetDefault(keyHistoryDepth, d.HistoryDepth)
	v.SetDefault(keyDispatchInterval, d.DispatchInterval.Seconds())
	v.SetDefault(keyDispatchTimeout, d.DispatchTimeout.Seconds())
	v.SetDefault(keyAutoResubscribe, d.AutoResubscribe)
	v.SetDefault(keyMaxNoReplyDays, d.MaxNoReplyDays)
	v.SetDefault(keyRemindersEnabled, d.RemindersEnabled)
	v.SetDefault(keyPersonaOverride, "")
	v.SetDefault(keyProviderOverride, "")
	v.SetDefault(keyAppendTime, d.AppendTimeField)
	v.SetDefault(keyTimeFormat, d.TimeFormat)
	v.SetDefault(keyAdmins, []string{})
}

// NewViper builds the settings source. path may be empty, in which case
// nudge.yaml is searched in the working directory, ./configs and ~/.feishu-nudge.
// A missing file is not an error; defaults and NUDGE_* env apply.
func NewViper(path string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("NUDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("nudge")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("configs")
		if homeDir, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(homeDir, ".feishu-nudge"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read settings file: %w", err)
		}
	}
	return v, nil
}

// SettingsFromViper builds a normalized Settings snapshot
func SettingsFromViper(v *viper.Viper, prompts *PromptsConfig) (*domain.Settings, error) {
	if prompts == nil {
		prompts = DefaultPromptsConfig()
	}
	s := domain.DefaultSettings()

	s.Enabled = v.GetBool(keyEnabled)
	s.Timezone = v.GetString(keyTimezone)
	loc, err := loadLocation(s.Timezone)
	if err != nil {
		return nil, &ConfigError{Field: keyTimezone, Message: err.Error()}
	}
	s.Location = loc
	s.SubscribeMode = strings.ToLower(v.GetString(keySubscribeMode))

	s.IdleEnabled = v.GetBool(keyIdleEnabled)
	s.IdleBaseline = minutes(v.GetFloat64(keyIdleMinutes))
	s.IdleJitterPercent = v.GetInt(keyIdleJitter)
	s.IdleMinimum = minutes(v.GetFloat64(keyIdleMinMinutes))

	s.DailyEnabled = v.GetBool(keyDailyEnabled)
	s.Slots = s.Slots[:0]
	for i := 1; i <= domain.MaxDailySlots; i++ {
		minute, err := domain.ParseTimeOfDay(v.GetString(slotKey(i, "time")))
		if err != nil {
			return nil, &ConfigError{Field: slotKey(i, "time"), Message: err.Error()}
		}
		prompt := v.GetString(slotKey(i, "prompt"))
		if prompt == "" {
			prompt = prompts.SlotPrompt(i)
		}
		s.Slots = append(s.Slots, domain.DailySlot{
			Index:   i,
			Minute:  minute,
			Prompt:  prompt,
			Enabled: v.GetBool(slotKey(i, "enabled")),
		})
	}

	if raw := strings.TrimSpace(v.GetString(keyQuietHours)); raw != "" && raw != "off" {
		q, err := domain.ParseQuietHours(raw)
		if err != nil {
			return nil, &ConfigError{Field: keyQuietHours, Message: err.Error()}
		}
		s.Quiet = q
	}

	s.HistoryDepth = v.GetInt(keyHistoryDepth)
	s.DispatchInterval = seconds(v.GetFloat64(keyDispatchInterval))
	s.DispatchTimeout = seconds(v.GetFloat64(keyDispatchTimeout))
	s.AutoResubscribe = v.GetBool(keyAutoResubscribe)
	s.MaxNoReplyDays = v.GetInt(keyMaxNoReplyDays)
	s.RemindersEnabled = v.GetBool(keyRemindersEnabled)
	s.PersonaOverride = v.GetString(keyPersonaOverride)
	s.ProviderOverride = strings.ToLower(v.GetString(keyProviderOverride))
	s.AppendTimeField = v.GetBool(keyAppendTime)
	s.TimeFormat = v.GetString(keyTimeFormat)
	s.Admins = v.GetStringSlice(keyAdmins)

	s.Prompts = domain.PromptTemplates{
		Idle:     append([]string(nil), prompts.Idle.Templates...),
		Reminder: prompts.Reminder.Template,
	}

	s.Normalize()
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(name)
}

func minutes(v float64) time.Duration {
	return time.Duration(v * float64(time.Minute))
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

// Store publishes Settings snapshots. Readers call Current once per pass and
// keep that pointer; writers build a changed copy and swap it in whole.
type Store struct {
	v       *viper.Viper
	prompts *PromptsConfig

	current atomic.Pointer[domain.Settings]
	mu      sync.Mutex // serializes Update and Reload
}

// NewStore builds the first snapshot from v
func NewStore(v *viper.Viper, prompts *PromptsConfig) (*Store, error) {
	s, err := SettingsFromViper(v, prompts)
	if err != nil {
		return nil, err
	}
	st := &Store{v: v, prompts: prompts}
	st.current.Store(s)
	return st, nil
}

// NewStaticStore wraps a fixed snapshot without a backing file
func NewStaticStore(s *domain.Settings) *Store {
	st := &Store{}
	st.current.Store(s)
	return st
}

// Current returns the published snapshot. Callers must not mutate it.
func (st *Store) Current() *domain.Settings {
	return st.current.Load()
}

// Update derives a new snapshot with fn, validates and publishes it, and
// persists the runtime-editable keys when a settings file is in use.
// The published snapshot is unchanged if fn or validation fails.
func (st *Store) Update(ctx context.Context, fn func(*domain.Settings) error) (*domain.Settings, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	next := st.Current().Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Normalize()
	if err := next.Validate(); err != nil {
		return nil, err
	}

	if st.v != nil {
		if err := st.persist(next); err != nil {
			log.Warnf(ctx, "settings changed in memory but could not be written: %v", err)
		}
	}
	st.current.Store(next)
	return next, nil
}

// persist writes the keys editable through chat commands. With a settings
// file they go through a scratch viper into the file and are read back, so
// later file edits still win on reload. Without one they are held as
// overrides for the life of the process.
func (st *Store) persist(s *domain.Settings) error {
	path := st.v.ConfigFileUsed()
	if path == "" {
		setEditable(st.v, s)
		return nil
	}

	w := viper.New()
	w.SetConfigFile(path)
	if err := w.ReadInConfig(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	setEditable(w, s)
	if err := w.WriteConfig(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := st.v.ReadInConfig(); err != nil {
		return fmt.Errorf("reread %s: %w", path, err)
	}
	return nil
}

func setEditable(v *viper.Viper, s *domain.Settings) {
	v.Set(keyEnabled, s.Enabled)
	v.Set(keyHistoryDepth, s.HistoryDepth)
	if s.Quiet.IsEmpty() {
		v.Set(keyQuietHours, "off")
	} else {
		v.Set(keyQuietHours, s.Quiet.String())
	}
	for _, slot := range s.Slots {
		v.Set(slotKey(slot.Index, "time"), slot.Time())
		v.Set(slotKey(slot.Index, "enabled"), slot.Enabled)
	}
}

// Reload rebuilds the snapshot from the backing source
func (st *Store) Reload() error {
	if st.v == nil {
		return nil
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	next, err := SettingsFromViper(st.v, st.prompts)
	if err != nil {
		return err
	}
	st.current.Store(next)
	return nil
}

// Watch reloads the snapshot whenever the settings file changes.
// An invalid edit is rejected and the previous snapshot stays active.
func (st *Store) Watch(ctx context.Context) {
	if st.v == nil || st.v.ConfigFileUsed() == "" {
		return
	}
	st.v.OnConfigChange(func(e fsnotify.Event) {
		if err := st.Reload(); err != nil {
			log.Errorf(ctx, err, "settings reload rejected, keeping previous snapshot")
			return
		}
		log.Info(ctx, log.KV{K: "component", V: "config"}, log.KV{K: "msg", V: "settings reloaded"}, log.KV{K: "file", V: e.Name})
	})
	st.v.WatchConfig()
	log.Info(ctx, log.KV{K: "component", V: "config"}, log.KV{K: "msg", V: "watching settings"}, log.KV{K: "file", V: st.v.ConfigFileUsed()})
}
