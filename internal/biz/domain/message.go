package domain

import (
	"strings"
	"time"
)

// Role of a history turn
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is one (role, text) entry of conversation history
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// ParseRole maps loosely spelled roles onto the known set
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "user", "human":
		return RoleUser, true
	case "assistant", "bot", "ai":
		return RoleAssistant, true
	case "system":
		return RoleSystem, true
	}
	return "", false
}

// LastTurns keeps the most recent n turns
func LastTurns(turns []Turn, n int) []Turn {
	if n <= 0 {
		return nil
	}
	if len(turns) <= n {
		return turns
	}
	return turns[len(turns)-n:]
}

// LastText returns the text of the latest turn with the given role
func LastText(turns []Turn, role Role) string {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == role {
			return turns[i].Text
		}
	}
	return ""
}

// Message is a chat message as read back from the platform transcript
type Message struct {
	ID         string
	ChatID     string
	Content    string
	SenderID   string
	MsgType    string // text, image, post, etc.
	CreateTime time.Time
	IsBot      bool
}

// AsTurn converts a transcript message into a history turn
func (m *Message) AsTurn() Turn {
	role := RoleUser
	if m.IsBot {
		role = RoleAssistant
	}
	return Turn{Role: role, Text: m.Content}
}

// InboundMessage is a user message observed by the intake server
type InboundMessage struct {
	SessionID string
	MessageID string
	SenderID  string
	Text      string
	At        time.Time
}
