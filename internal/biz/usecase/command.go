package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"goa.design/clue/log"

	"github.com/DevRickLin/feishu-nudge/internal/biz/domain"
)

// Command prefixes
const (
	CommandPrefix = "/nudge"
	CommandAlias  = "/ng"
)

// Accepted range of "set after" values
const (
	MinIdleOverride = 30 * time.Minute
	MaxIdleOverride = 30 * 24 * time.Hour
)

// ErrPermissionDenied is returned for admin commands run by non-admins
var ErrPermissionDenied = errors.New("this command is for admins only")

// CommandRequest is one command message
type CommandRequest struct {
	SessionID string
	SenderID  string
	Text      string
}

// CommandUsecase implements the chat command surface
type CommandUsecase struct {
	registry  *Registry
	settings  SettingsSource
	triggers  *TriggerEvaluator
	lifecycle *LifecycleUsecase
	reminders *ReminderUsecase
	contexts  *ContextBuilderUsecase
	proactive *ProactiveUsecase
}

// NewCommandUsecase creates a new command usecase
func NewCommandUsecase(
	registry *Registry,
	settings SettingsSource,
	triggers *TriggerEvaluator,
	lifecycle *LifecycleUsecase,
	reminders *ReminderUsecase,
	contexts *ContextBuilderUsecase,
	proactive *ProactiveUsecase,
) *CommandUsecase {
	return &CommandUsecase{
		registry:  registry,
		settings:  settings,
		triggers:  triggers,
		lifecycle: lifecycle,
		reminders: reminders,
		contexts:  contexts,
		proactive: proactive,
	}
}

// IsCommand reports whether text is addressed to the command surface
func IsCommand(text string) bool {
	_, ok := splitCommand(text)
	return ok
}

func splitCommand(text string) ([]string, bool) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return nil, false
	}
	switch strings.ToLower(fields[0]) {
	case CommandPrefix, CommandAlias:
		return fields[1:], true
	}
	return nil, false
}

// Handle runs a command and returns the reply text. Validation and
// permission errors are rendered into the reply; only storage failures
// are returned as errors.
func (uc *CommandUsecase) Handle(ctx context.Context, req CommandRequest) (string, error) {
	args, ok := splitCommand(req.Text)
	if !ok {
		return "", fmt.Errorf("not a command: %q", req.Text)
	}
	ctx = log.With(ctx, log.KV{K: "session", V: req.SessionID}, log.KV{K: "sender", V: req.SenderID})

	reply, err := uc.dispatch(ctx, req, args)
	var verr *domain.ValidationError
	switch {
	case err == nil:
		return reply, nil
	case errors.Is(err, ErrPermissionDenied):
		return "Error: " + err.Error() + ".", nil
	case errors.As(err, &verr):
		return "Error: " + verr.Message, nil
	case errors.Is(err, domain.ErrNotFound):
		return "Not found.", nil
	}
	log.Errorf(ctx, err, "command %q failed", req.Text)
	return "Command failed, see logs.", err
}

func (uc *CommandUsecase) dispatch(ctx context.Context, req CommandRequest, args []string) (string, error) {
	if len(args) == 0 {
		return helpText(), nil
	}
	sub := strings.ToLower(args[0])
	switch sub {
	case "help":
		return helpText(), nil
	case "on", "off":
		return uc.toggle(ctx, req, sub == "on")
	case "watch":
		_, changed, err := uc.lifecycle.Subscribe(ctx, req.SessionID)
		if err != nil {
			return "", err
		}
		if !changed {
			return "Already watching this chat.", nil
		}
		return "📌 Watching this chat.", nil
	case "unwatch":
		_, changed, err := uc.lifecycle.Unsubscribe(ctx, req.SessionID)
		if err != nil {
			return "", err
		}
		if !changed {
			return "This chat was not being watched.", nil
		}
		return "📭 Stopped watching this chat.", nil
	case "show":
		return uc.show(ctx, req.SessionID)
	case "debug":
		return uc.debug(ctx, req)
	case "set":
		return uc.set(ctx, req, args[1:])
	case "remind":
		return uc.remind(ctx, req, args[1:])
	}
	return "Unknown command.\n" + helpText(), nil
}

func (uc *CommandUsecase) requireAdmin(req CommandRequest) error {
	if !uc.settings.Current().IsAdmin(req.SenderID) {
		return ErrPermissionDenied
	}
	return nil
}

func (uc *CommandUsecase) toggle(ctx context.Context, req CommandRequest, on bool) (string, error) {
	if err := uc.requireAdmin(req); err != nil {
		return "", err
	}
	if _, err := uc.settings.Update(ctx, func(s *domain.Settings) error {
		s.Enabled = on
		return nil
	}); err != nil {
		return "", err
	}
	if on {
		return "✅ Proactive messaging enabled.", nil
	}
	return "🛑 Proactive messaging disabled.", nil
}

func (uc *CommandUsecase) show(ctx context.Context, sessionID string) (string, error) {
	cfg := uc.settings.Current()
	s, err := uc.registry.Session(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if s == nil {
		s = domain.NewSessionState(sessionID)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Session: %s\n", s.SessionID)
	fmt.Fprintf(&b, "Subscribed: %t", s.Subscribed)
	if s.AutoUnsubscribed {
		b.WriteString(" (auto-unsubscribed)")
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Idle threshold: %s", formatHours(s.IdleThreshold(cfg.IdleBaseline)))
	if s.IdleOverride > 0 {
		b.WriteString(" (session)")
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "Next idle: %s\n", formatTime(s.NextIdleAt, cfg))
	fmt.Fprintf(&b, "Last message: %s\n", formatTime(s.LastMessageAt, cfg))
	fmt.Fprintf(&b, "No-reply days: %d\n", s.NoReplyDays)

	quiet := domain.EffectiveQuietHours(s.QuietOverride, cfg.Quiet)
	source := "global"
	if s.QuietOverride != nil {
		source = "session"
	}
	fmt.Fprintf(&b, "Quiet hours: %s (%s)\n", quiet, source)

	b.WriteString("Daily:")
	if !cfg.DailyEnabled {
		b.WriteString(" disabled")
	}
	for _, slot := range cfg.Slots {
		state := "off"
		if slot.Enabled {
			state = "on"
		}
		fmt.Fprintf(&b, " daily%d=%s(%s)", slot.Index, slot.Time(), state)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "History depth: %d", cfg.HistoryDepth)
	return b.String(), nil
}

func (uc *CommandUsecase) debug(ctx context.Context, req CommandRequest) (string, error) {
	cfg := uc.settings.Current()
	sessions, err := uc.registry.Sessions(ctx)
	if err != nil {
		return "", err
	}
	subscribed := 0
	for _, s := range sessions {
		if s.Subscribed {
			subscribed++
		}
	}

	var b strings.Builder
	b.WriteString("🔍 Debug\n")
	fmt.Fprintf(&b, "Enabled: %t (idle=%t daily=%t reminders=%t)\n", cfg.Enabled, cfg.IdleEnabled, cfg.DailyEnabled, cfg.RemindersEnabled)
	fmt.Fprintf(&b, "Subscribe mode: %s\n", cfg.SubscribeMode)
	fmt.Fprintf(&b, "Timezone: %s\n", cfg.Location)
	fmt.Fprintf(&b, "Idle baseline: %s ±%d%% (min %s)\n", formatHours(cfg.IdleBaseline), cfg.IdleJitterPercent, formatHours(cfg.IdleMinimum))
	fmt.Fprintf(&b, "Global quiet hours: %s\n", cfg.Quiet)
	fmt.Fprintf(&b, "Max no-reply days: %d\n", cfg.MaxNoReplyDays)
	fmt.Fprintf(&b, "Sessions: %d (%d subscribed)\n", len(sessions), subscribed)
	fmt.Fprintf(&b, "You: %s admin=%t\n", req.SenderID, cfg.IsAdmin(req.SenderID))

	if uc.proactive != nil {
		if t := uc.proactive.LastTick(); t != nil {
			fmt.Fprintf(&b, "Last tick: %s events=%d suppressed=%d\n", formatTime(t.At, cfg), len(t.Events), t.Suppressed)
		}
	}
	if res := uc.contexts.LastResolution(req.SessionID); res != nil {
		fmt.Fprintf(&b, "Last context: history=%s(%d) persona=%s\n", res.HistorySource, len(res.History), res.PersonaSource)
		fmt.Fprintf(&b, "Attempts: %s", res.Summary())
	} else {
		b.WriteString("Last context: none yet")
	}
	return b.String(), nil
}

func (uc *CommandUsecase) set(ctx context.Context, req CommandRequest, args []string) (string, error) {
	if len(args) < 2 {
		return helpText(), nil
	}
	target := strings.ToLower(args[0])
	value := args[1:]

	switch {
	case target == "after":
		return uc.setAfter(ctx, req.SessionID, value[0])
	case strings.HasPrefix(target, "daily"):
		return uc.setDaily(ctx, req, target, value[0])
	case target == "quiet":
		return uc.setQuiet(ctx, req, value)
	case target == "history":
		return uc.setHistory(ctx, req, value[0])
	}
	return "Unknown setting.\n" + helpText(), nil
}

func (uc *CommandUsecase) setAfter(ctx context.Context, sessionID, value string) (string, error) {
	hours, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(hours) || math.IsInf(hours, 0) {
		return "", &domain.ValidationError{Field: "after", Message: fmt.Sprintf("%q is not a number of hours", value)}
	}
	// compare in hours so huge values never reach the Duration conversion
	if hours < MinIdleOverride.Hours() {
		return "", &domain.ValidationError{Field: "after", Message: "the idle delay must be at least 0.5 hours"}
	}
	if hours > MaxIdleOverride.Hours() {
		return "", &domain.ValidationError{Field: "after", Message: fmt.Sprintf("the idle delay must be at most %g hours", MaxIdleOverride.Hours())}
	}
	d := time.Duration(hours * float64(time.Hour))

	cfg := uc.settings.Current()
	s, err := uc.registry.Mutate(ctx, sessionID, func(s *domain.SessionState, _ bool) error {
		s.IdleOverride = d
		from := s.LastMessageAt
		if from.IsZero() {
			from = uc.registry.Now()
		}
		uc.triggers.ScheduleIdle(s, from, cfg)
		return nil
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("⏱️ Idle delay for this chat set to %s. Next idle: %s", formatHours(d), formatTime(s.NextIdleAt, cfg)), nil
}

func (uc *CommandUsecase) setDaily(ctx context.Context, req CommandRequest, target, value string) (string, error) {
	if err := uc.requireAdmin(req); err != nil {
		return "", err
	}
	index, err := strconv.Atoi(strings.TrimPrefix(target, "daily"))
	if err != nil || index < 1 || index > domain.MaxDailySlots {
		return "", &domain.ValidationError{Field: "daily", Message: "use daily1, daily2 or daily3"}
	}

	off := strings.EqualFold(value, "off")
	minute := 0
	if !off {
		if minute, err = domain.ParseTimeOfDay(value); err != nil {
			return "", err
		}
	}

	next, err := uc.settings.Update(ctx, func(s *domain.Settings) error {
		slot := s.Slot(index)
		if slot == nil {
			return &domain.ValidationError{Field: "daily", Message: fmt.Sprintf("slot %d is not configured", index)}
		}
		if off {
			slot.Enabled = false
			return nil
		}
		slot.Minute = minute
		slot.Enabled = true
		s.DailyEnabled = true
		return nil
	})
	if err != nil {
		return "", err
	}
	if off {
		return fmt.Sprintf("🗓️ daily%d disabled.", index), nil
	}
	// normalization may have shifted the minute
	return fmt.Sprintf("🗓️ daily%d set to %s.", index, next.Slot(index).Time()), nil
}

func (uc *CommandUsecase) setQuiet(ctx context.Context, req CommandRequest, value []string) (string, error) {
	global := len(value) > 1 && strings.EqualFold(value[len(value)-1], "global")
	raw := value[0]
	off := strings.EqualFold(raw, "off")

	var q domain.QuietHours
	if !off {
		var err error
		if q, err = domain.ParseQuietHours(raw); err != nil {
			return "", err
		}
	}

	if global {
		if err := uc.requireAdmin(req); err != nil {
			return "", err
		}
		if _, err := uc.settings.Update(ctx, func(s *domain.Settings) error {
			s.Quiet = q
			return nil
		}); err != nil {
			return "", err
		}
		return fmt.Sprintf("🔕 Global quiet hours: %s", q), nil
	}

	_, err := uc.registry.Mutate(ctx, req.SessionID, func(s *domain.SessionState, _ bool) error {
		if off {
			s.QuietOverride = nil
			return nil
		}
		s.QuietOverride = &q
		return nil
	})
	if err != nil {
		return "", err
	}
	if off {
		return fmt.Sprintf("🔕 Session quiet hours cleared, using global: %s", uc.settings.Current().Quiet), nil
	}
	return fmt.Sprintf("🔕 Quiet hours for this chat: %s", q), nil
}

func (uc *CommandUsecase) setHistory(ctx context.Context, req CommandRequest, value string) (string, error) {
	if err := uc.requireAdmin(req); err != nil {
		return "", err
	}
	depth, err := strconv.Atoi(value)
	if err != nil || depth < 0 {
		return "", &domain.ValidationError{Field: "history", Message: fmt.Sprintf("%q is not a non-negative number", value)}
	}
	if _, err := uc.settings.Update(ctx, func(s *domain.Settings) error {
		s.HistoryDepth = depth
		return nil
	}); err != nil {
		return "", err
	}
	return fmt.Sprintf("🧵 History depth set to %d.", depth), nil
}

func (uc *CommandUsecase) remind(ctx context.Context, req CommandRequest, args []string) (string, error) {
	if !uc.settings.Current().RemindersEnabled {
		return "Reminders are disabled by the administrator.", nil
	}
	if len(args) == 0 {
		return helpText(), nil
	}

	switch strings.ToLower(args[0]) {
	case "list":
		list, err := uc.reminders.List(ctx, req.SessionID)
		if err != nil {
			return "", err
		}
		if len(list) == 0 {
			return "No reminders.", nil
		}
		lines := make([]string, 0, len(list))
		for _, r := range list {
			lines = append(lines, r.Describe())
		}
		return "Reminders:\n" + strings.Join(lines, "\n"), nil

	case "del":
		if len(args) < 2 {
			return "Usage: " + CommandPrefix + " remind del <id>", nil
		}
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return "", &domain.ValidationError{Field: "id", Message: fmt.Sprintf("%q is not a reminder id", args[1])}
		}
		if err := uc.reminders.Delete(ctx, req.SessionID, id); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Sprintf("Reminder %d not found.", id), nil
			}
			return "", err
		}
		return fmt.Sprintf("🗑️ Reminder %d deleted.", id), nil

	case "add":
		when, content, daily, err := parseRemindAdd(args[1:])
		if err != nil {
			return "", err
		}
		r, err := uc.reminders.Add(ctx, req.SessionID, when, content, daily, req.SenderID)
		if err != nil {
			return "", err
		}
		if r.Kind == domain.ReminderDaily {
			return fmt.Sprintf("⏰ Daily reminder %d added at %s.", r.ID, r.FireAt), nil
		}
		return fmt.Sprintf("⏰ Reminder %d added for %s.", r.ID, r.FireAt), nil
	}
	return helpText(), nil
}

// parseRemindAdd splits "<YYYY-MM-DD HH:MM|HH:MM> <text> [daily]"
func parseRemindAdd(args []string) (when, content string, daily bool, err error) {
	usage := &domain.ValidationError{Field: "remind", Message: "usage: remind add <YYYY-MM-DD HH:MM|HH:MM> <text> [daily]"}
	if len(args) < 2 {
		return "", "", false, usage
	}
	rest := args
	if _, perr := time.Parse(domain.DateLayout, args[0]); perr == nil {
		if len(args) < 3 {
			return "", "", false, usage
		}
		when = args[0] + " " + args[1]
		rest = args[2:]
	} else {
		when = args[0]
		rest = args[1:]
	}
	if n := len(rest); n > 1 && strings.EqualFold(rest[n-1], "daily") {
		daily = true
		rest = rest[:n-1]
	}
	return when, strings.Join(rest, " "), daily, nil
}

func formatHours(d time.Duration) string {
	return strconv.FormatFloat(d.Hours(), 'f', -1, 64) + "h"
}

func formatTime(t time.Time, cfg *domain.Settings) string {
	if t.IsZero() {
		return "not scheduled"
	}
	return t.In(cfg.Location).Format(domain.MinuteLayout)
}

func helpText() string {
	return `Commands (` + CommandPrefix + ` or ` + CommandAlias + `):
  help                          show this help
  on | off                      enable or disable proactive messaging (admin)
  watch | unwatch               subscribe or unsubscribe this chat
  show                          show this chat's state
  debug                         show scheduler diagnostics
  set after <hours>             idle delay for this chat (0.5 to 720)
  set daily<1-3> <HH:MM|off>    daily slot time (admin)
  set quiet <HH:MM-HH:MM|off>   quiet hours for this chat
  set quiet <HH:MM-HH:MM|off> global   global quiet hours (admin)
  set history <N>               context history depth (admin)
  remind add <YYYY-MM-DD HH:MM|HH:MM> <text> [daily]
  remind list
  remind del <id>`
}
