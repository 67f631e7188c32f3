package mcp

import (
	"context"
	"errors"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/DevRickLin/feishu-nudge/internal/api"
	"github.com/DevRickLin/feishu-nudge/internal/biz/domain"
)

// Server exposes scheduler operations as MCP tools backed by the HTTP API
type Server struct {
	server *mcp.Server
	client *Client
}

// NewServer creates the MCP server and registers its tools
func NewServer(client *Client, version string) *Server {
	s := &Server{
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "feishu-nudge",
			Version: version,
		}, nil),
		client: client,
	}
	s.registerTools()
	return s
}

// Run serves MCP over stdio until ctx is done or the peer disconnects
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "nudge_list_sessions",
		Description: "List chats known to the proactive scheduler with their subscription state and next idle time.",
	}, s.listSessions)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "nudge_session_show",
		Description: "Show one chat's scheduling state: subscription, idle threshold, quiet hours and fired triggers.",
	}, s.showSession)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "nudge_watch",
		Description: "Subscribe a chat to proactive messages. Use when the user says 'check on me', 'ping me if I go quiet', etc.",
	}, s.watch)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "nudge_unwatch",
		Description: "Unsubscribe a chat from proactive messages. Use when the user says 'stop pinging me'.",
	}, s.unwatch)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "nudge_remind_add",
		Description: "Add a reminder. 'when' is 'YYYY-MM-DD HH:MM' or 'HH:MM'; HH:MM without daily means the next occurrence.",
	}, s.remindAdd)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "nudge_remind_list",
		Description: "List a chat's reminders, including fired one-shot reminders.",
	}, s.remindList)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "nudge_remind_del",
		Description: "Delete a reminder by its per-chat ID.",
	}, s.remindDel)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "nudge_persona_set",
		Description: "Set the persona (system prompt) used for a chat's proactive messages. An empty prompt restores the default.",
	}, s.personaSet)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "nudge_tick",
		Description: "Run one scheduler pass now and deliver whatever is due.",
	}, s.tick)
}

var errNoSession = errors.New("session_id is required")

// SessionInput names a chat
type SessionInput struct {
	SessionID string `json:"session_id" jsonschema:"the Feishu chat_id"`
}

// ListSessionsInput filters the session list
type ListSessionsInput struct {
	SubscribedOnly bool `json:"subscribed_only,omitempty" jsonschema:"only return subscribed chats"`
}

// SessionInfo is the tool view of a session. Times are "YYYY-MM-DD HH:MM"
// in the scheduler timezone, empty when unknown.
type SessionInfo struct {
	SessionID     string   `json:"session_id"`
	Subscribed    bool     `json:"subscribed"`
	LastMessageAt string   `json:"last_message_at,omitempty"`
	NextIdleAt    string   `json:"next_idle_at,omitempty"`
	NoReplyDays   int      `json:"no_reply_days"`
	IdleMinutes   float64  `json:"idle_minutes"`
	Quiet         string   `json:"quiet"`
	QuietSource   string   `json:"quiet_source"`
	FiredTags     []string `json:"fired_tags,omitempty"`
}

func formatOptional(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(domain.MinuteLayout)
}

func sessionInfo(v api.SessionView) SessionInfo {
	return SessionInfo{
		SessionID:     v.SessionID,
		Subscribed:    v.Subscribed,
		LastMessageAt: formatOptional(v.LastMessageAt),
		NextIdleAt:    formatOptional(v.NextIdleAt),
		NoReplyDays:   v.NoReplyDays,
		IdleMinutes:   v.IdleMinutes,
		Quiet:         v.Quiet,
		QuietSource:   v.QuietSource,
		FiredTags:     v.FiredTags,
	}
}

// ListSessionsOutput contains the session list
type ListSessionsOutput struct {
	Sessions []SessionInfo `json:"sessions"`
}

// SubscriptionOutput reports a subscription change
type SubscriptionOutput struct {
	Changed bool        `json:"changed"`
	Session SessionInfo `json:"session"`
}

// ReminderInfo is the tool view of a reminder
type ReminderInfo struct {
	ID      int64  `json:"id"`
	Kind    string `json:"kind"`
	FireAt  string `json:"fire_at"`
	Content string `json:"content"`
	Fired   bool   `json:"fired"`
	Line    string `json:"line"`
}

func reminderInfo(r *domain.Reminder) ReminderInfo {
	return ReminderInfo{
		ID:      r.ID,
		Kind:    string(r.Kind),
		FireAt:  r.FireAt,
		Content: r.Content,
		Fired:   r.Fired,
		Line:    r.Describe(),
	}
}

func (s *Server) listSessions(ctx context.Context, _ *mcp.CallToolRequest, in ListSessionsInput) (*mcp.CallToolResult, ListSessionsOutput, error) {
	sessions, err := s.client.ListSessions(ctx, in.SubscribedOnly)
	if err != nil {
		return nil, ListSessionsOutput{}, err
	}
	out := ListSessionsOutput{Sessions: make([]SessionInfo, 0, len(sessions))}
	for _, v := range sessions {
		out.Sessions = append(out.Sessions, sessionInfo(v))
	}
	return nil, out, nil
}

func (s *Server) showSession(ctx context.Context, _ *mcp.CallToolRequest, in SessionInput) (*mcp.CallToolResult, SessionInfo, error) {
	if in.SessionID == "" {
		return nil, SessionInfo{}, errNoSession
	}
	view, err := s.client.GetSession(ctx, in.SessionID)
	if err != nil {
		return nil, SessionInfo{}, err
	}
	return nil, sessionInfo(*view), nil
}

func (s *Server) watch(ctx context.Context, _ *mcp.CallToolRequest, in SessionInput) (*mcp.CallToolResult, SubscriptionOutput, error) {
	if in.SessionID == "" {
		return nil, SubscriptionOutput{}, errNoSession
	}
	out, err := s.client.Subscribe(ctx, in.SessionID)
	if err != nil {
		return nil, SubscriptionOutput{}, err
	}
	return nil, SubscriptionOutput{Changed: out.Changed, Session: sessionInfo(out.Session)}, nil
}

func (s *Server) unwatch(ctx context.Context, _ *mcp.CallToolRequest, in SessionInput) (*mcp.CallToolResult, SubscriptionOutput, error) {
	if in.SessionID == "" {
		return nil, SubscriptionOutput{}, errNoSession
	}
	out, err := s.client.Unsubscribe(ctx, in.SessionID)
	if err != nil {
		return nil, SubscriptionOutput{}, err
	}
	return nil, SubscriptionOutput{Changed: out.Changed, Session: sessionInfo(out.Session)}, nil
}

// RemindAddInput is the input of nudge_remind_add
type RemindAddInput struct {
	SessionID string `json:"session_id" jsonschema:"the Feishu chat_id"`
	When      string `json:"when" jsonschema:"YYYY-MM-DD HH:MM or HH:MM in the scheduler timezone"`
	Content   string `json:"content" jsonschema:"what to remind about"`
	Daily     bool   `json:"daily,omitempty" jsonschema:"repeat every day at HH:MM"`
}

func (s *Server) remindAdd(ctx context.Context, _ *mcp.CallToolRequest, in RemindAddInput) (*mcp.CallToolResult, ReminderInfo, error) {
	if in.SessionID == "" {
		return nil, ReminderInfo{}, errNoSession
	}
	rem, err := s.client.AddReminder(ctx, in.SessionID, api.AddReminderRequest{
		When:      in.When,
		Content:   in.Content,
		Daily:     in.Daily,
		CreatedBy: "mcp",
	})
	if err != nil {
		return nil, ReminderInfo{}, err
	}
	return nil, reminderInfo(rem), nil
}

// RemindListOutput contains a chat's reminders
type RemindListOutput struct {
	Reminders []ReminderInfo `json:"reminders"`
}

func (s *Server) remindList(ctx context.Context, _ *mcp.CallToolRequest, in SessionInput) (*mcp.CallToolResult, RemindListOutput, error) {
	if in.SessionID == "" {
		return nil, RemindListOutput{}, errNoSession
	}
	list, err := s.client.ListReminders(ctx, in.SessionID)
	if err != nil {
		return nil, RemindListOutput{}, err
	}
	out := RemindListOutput{Reminders: make([]ReminderInfo, 0, len(list))}
	for i := range list {
		out.Reminders = append(out.Reminders, reminderInfo(&list[i]))
	}
	return nil, out, nil
}

// RemindDelInput is the input of nudge_remind_del
type RemindDelInput struct {
	SessionID string `json:"session_id" jsonschema:"the Feishu chat_id"`
	ID        int64  `json:"id" jsonschema:"reminder id as shown by nudge_remind_list"`
}

// DoneOutput acknowledges a mutation
type DoneOutput struct {
	Success bool `json:"success"`
}

func (s *Server) remindDel(ctx context.Context, _ *mcp.CallToolRequest, in RemindDelInput) (*mcp.CallToolResult, DoneOutput, error) {
	if in.SessionID == "" {
		return nil, DoneOutput{}, errNoSession
	}
	if err := s.client.DeleteReminder(ctx, in.SessionID, in.ID); err != nil {
		return nil, DoneOutput{}, err
	}
	return nil, DoneOutput{Success: true}, nil
}

// PersonaSetInput is the input of nudge_persona_set
type PersonaSetInput struct {
	SessionID string `json:"session_id" jsonschema:"the Feishu chat_id"`
	Name      string `json:"name,omitempty" jsonschema:"short label for the persona"`
	Prompt    string `json:"prompt" jsonschema:"system prompt text; empty restores the default persona"`
}

func (s *Server) personaSet(ctx context.Context, _ *mcp.CallToolRequest, in PersonaSetInput) (*mcp.CallToolResult, DoneOutput, error) {
	if in.SessionID == "" {
		return nil, DoneOutput{}, errNoSession
	}
	if err := s.client.SetPersona(ctx, in.SessionID, domain.Persona{Name: in.Name, Prompt: in.Prompt}); err != nil {
		return nil, DoneOutput{}, err
	}
	return nil, DoneOutput{Success: true}, nil
}

// TickInput is empty
type TickInput struct{}

// TickOutput summarizes a scheduler pass
type TickOutput struct {
	TickID       string `json:"tick_id"`
	Sessions     int    `json:"sessions"`
	Suppressed   int    `json:"suppressed"`
	Unsubscribed int    `json:"unsubscribed"`
	Sent         int    `json:"sent"`
	Failed       int    `json:"failed"`
}

func (s *Server) tick(ctx context.Context, _ *mcp.CallToolRequest, _ TickInput) (*mcp.CallToolResult, TickOutput, error) {
	report, err := s.client.Tick(ctx)
	if err != nil {
		return nil, TickOutput{}, err
	}
	out := TickOutput{TickID: report.TickID, Sent: report.Dispatch.Sent, Failed: report.Dispatch.Failed}
	if report.Result != nil {
		out.Sessions = report.Result.Sessions
		out.Suppressed = report.Result.Suppressed
		out.Unsubscribed = report.Result.Unsubscribed
	}
	return nil, out, nil
}
