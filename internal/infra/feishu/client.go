package feishu

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	"github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"
	"goa.design/clue/log"
)

// Message represents a received Feishu message
type Message struct {
	ChatID     string
	MsgID      string
	MsgType    string // text, post
	ChatType   string // p2p (private), group
	Content    string // Text content
	Sender     *Sender
	CreateTime int64 // milliseconds Unix timestamp from Feishu
}

// Sender represents the message sender
type Sender struct {
	SenderID   string // open_id for users, app id for bots
	SenderType string // user, app (events) or user, app, bot (history)
	TenantKey  string
}

// IsBot reports whether the sender is an app or bot
func (s *Sender) IsBot() bool {
	return s != nil && (s.SenderType == "app" || s.SenderType == "bot")
}

// HistoryMessage represents a message from chat history
type HistoryMessage struct {
	MsgID      string `json:"message_id"`
	MsgType    string `json:"msg_type"`
	Content    string `json:"content"`
	CreateTime string `json:"create_time"`
	Sender     *Sender
}

// MessageHandler is the callback for received messages
type MessageHandler func(ctx context.Context, msg *Message)

// Client is the Feishu API client
type Client struct {
	appID     string
	appSecret string
	larkCli   *lark.Client
	wsCli     *larkws.Client
	onMessage MessageHandler
	cancel    context.CancelFunc
}

// NewClient creates a new Feishu client. The REST client is usable right
// away; Start is only needed to receive events.
func NewClient(appID, appSecret string) *Client {
	return &Client{
		appID:     appID,
		appSecret: appSecret,
		larkCli:   lark.NewClient(appID, appSecret),
	}
}

// OnMessage sets the message handler
func (c *Client) OnMessage(handler MessageHandler) {
	c.onMessage = handler
}

// Start connects to Feishu via WebSocket and blocks until ctx is done
func (c *Client) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	// Must return quickly so the SDK can ACK, otherwise Feishu retries the event
	eventHandler := dispatcher.NewEventDispatcher("", "").
		OnP2MessageReceiveV1(func(_ context.Context, event *larkim.P2MessageReceiveV1) error {
			go c.handleMessage(ctx, event)
			return nil
		})

	c.wsCli = larkws.NewClient(c.appID, c.appSecret,
		larkws.WithEventHandler(eventHandler),
		larkws.WithLogLevel(larkcore.LogLevelInfo),
	)

	log.Info(ctx, log.KV{K: "component", V: "feishu"}, log.KV{K: "msg", V: "starting websocket connection"})
	return c.wsCli.Start(ctx)
}

// Stop disconnects from Feishu
func (c *Client) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

// handleMessage processes incoming Feishu messages
func (c *Client) handleMessage(ctx context.Context, event *larkim.P2MessageReceiveV1) {
	msg, ok := messageFromEvent(event)
	if !ok {
		return
	}
	log.Debug(ctx, log.KV{K: "component", V: "feishu"}, log.KV{K: "msg", V: "received message"},
		log.KV{K: "type", V: msg.MsgType}, log.KV{K: "chat", V: msg.ChatID}, log.KV{K: "text", V: truncate(msg.Content, 50)})

	if c.onMessage != nil {
		c.onMessage(ctx, msg)
	}
}

// messageFromEvent converts a receive event. Messages from the bot itself
// and unsupported types are dropped.
func messageFromEvent(event *larkim.P2MessageReceiveV1) (*Message, bool) {
	if event == nil || event.Event == nil || event.Event.Message == nil {
		return nil, false
	}
	rawMsg := event.Event.Message

	// Filter out messages sent by the bot itself to prevent loops
	if s := event.Event.Sender; s != nil && s.SenderType != nil && *s.SenderType == "app" {
		return nil, false
	}

	msg := &Message{
		ChatID:   deref(rawMsg.ChatId),
		MsgID:    deref(rawMsg.MessageId),
		MsgType:  deref(rawMsg.MessageType),
		ChatType: deref(rawMsg.ChatType),
	}
	if msg.ChatID == "" {
		return nil, false
	}

	if rawMsg.CreateTime != nil {
		if ts, err := strconv.ParseInt(*rawMsg.CreateTime, 10, 64); err == nil {
			msg.CreateTime = ts
		}
	}

	if s := event.Event.Sender; s != nil {
		msg.Sender = &Sender{
			SenderType: deref(s.SenderType),
			TenantKey:  deref(s.TenantKey),
		}
		if s.SenderId != nil {
			msg.Sender.SenderID = deref(s.SenderId.OpenId)
		}
	}

	mentionMap := make(map[string]string)
	for _, mention := range rawMsg.Mentions {
		if mention != nil && mention.Key != nil && mention.Name != nil {
			mentionMap[*mention.Key] = *mention.Name
		}
	}

	content := deref(rawMsg.Content)
	switch msg.MsgType {
	case "text":
		msg.Content = parseTextContent(content, mentionMap)
	case "post":
		msg.Content = parsePostContent(content, mentionMap)
	default:
		return nil, false
	}
	return msg, true
}

// parseTextContent extracts text from a text message, replacing mention
// placeholders (@_user_1) with real names
func parseTextContent(content string, mentionMap map[string]string) string {
	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return ""
	}
	return replaceMentions(parsed.Text, mentionMap)
}

// parsePostContent extracts the text of a rich text message
func parsePostContent(content string, mentionMap map[string]string) string {
	var parsed struct {
		Title   string `json:"title"`
		Content [][]struct {
			Tag    string `json:"tag"`
			Text   string `json:"text,omitempty"`
			UserID string `json:"user_id,omitempty"` // for "at" tags
		} `json:"content"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return ""
	}

	var textParts []string
	if parsed.Title != "" {
		textParts = append(textParts, parsed.Title)
	}
	for _, line := range parsed.Content {
		var lineParts []string
		for _, elem := range line {
			switch elem.Tag {
			case "text":
				if elem.Text != "" {
					lineParts = append(lineParts, elem.Text)
				}
			case "at":
				if elem.UserID == "" {
					continue
				}
				if name, ok := mentionMap[elem.UserID]; ok {
					lineParts = append(lineParts, "@"+name)
				} else {
					lineParts = append(lineParts, "@"+elem.UserID)
				}
			}
		}
		if len(lineParts) > 0 {
			textParts = append(textParts, strings.Join(lineParts, ""))
		}
	}
	return replaceMentions(strings.Join(textParts, "\n"), mentionMap)
}

// replaceMentions replaces mention placeholders (@_user_1, @_user_2, etc.) with real names
func replaceMentions(text string, mentionMap map[string]string) string {
	for key, name := range mentionMap {
		text = strings.ReplaceAll(text, key, "@"+name)
	}
	return text
}

// SendText sends a text message to a chat
func (c *Client) SendText(ctx context.Context, chatID, text string) error {
	contentJSON, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(larkim.ReceiveIdTypeChatId).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(chatID).
			MsgType(larkim.MsgTypeText).
			Content(string(contentJSON)).
			Build()).
		Build()

	resp, err := c.larkCli.Im.Message.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("send message failed: %w", err)
	}
	if !resp.Success() {
		return fmt.Errorf("send message error: %s", resp.Msg)
	}

	log.Debug(ctx, log.KV{K: "component", V: "feishu"}, log.KV{K: "msg", V: "message sent"}, log.KV{K: "chat", V: chatID})
	return nil
}

// GetChatHistory returns the latest messages of a chat, oldest first
func (c *Client) GetChatHistory(ctx context.Context, chatID string, pageSize int) ([]*HistoryMessage, error) {
	if pageSize > 50 {
		pageSize = 50
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	// Feishu defaults to ascending order, which would return the oldest messages
	req := larkim.NewListMessageReqBuilder().
		ContainerIdType("chat").
		ContainerId(chatID).
		SortType("ByCreateTimeDesc").
		PageSize(pageSize).
		Build()

	resp, err := c.larkCli.Im.Message.List(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("get chat history failed: %w", err)
	}
	if !resp.Success() {
		return nil, fmt.Errorf("get chat history error: %s", resp.Msg)
	}

	var messages []*HistoryMessage
	for _, item := range resp.Data.Items {
		messages = append(messages, historyFromItem(item))
	}

	// Reverse to chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	log.Debug(ctx, log.KV{K: "component", V: "feishu"}, log.KV{K: "msg", V: "retrieved history"},
		log.KV{K: "chat", V: chatID}, log.KV{K: "count", V: len(messages)})
	return messages, nil
}

func historyFromItem(item *larkim.Message) *HistoryMessage {
	msg := &HistoryMessage{
		MsgID:      deref(item.MessageId),
		MsgType:    deref(item.MsgType),
		CreateTime: deref(item.CreateTime),
	}

	mentionMap := make(map[string]string)
	for _, mention := range item.Mentions {
		if mention != nil && mention.Key != nil && mention.Name != nil {
			mentionMap[*mention.Key] = *mention.Name
		}
	}

	if item.Body != nil && item.Body.Content != nil {
		raw := *item.Body.Content
		switch msg.MsgType {
		case "text":
			msg.Content = parseTextContent(raw, mentionMap)
		case "post":
			msg.Content = parsePostContent(raw, mentionMap)
		default:
			// not useful as conversation context
			msg.Content = ""
		}
	}

	if item.Sender != nil {
		msg.Sender = &Sender{
			SenderID:   deref(item.Sender.Id),
			SenderType: deref(item.Sender.SenderType),
			TenantKey:  deref(item.Sender.TenantKey),
		}
	}
	return msg
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
