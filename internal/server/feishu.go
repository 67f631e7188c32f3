package server

import (
	"context"
	"sync"
	"time"

	"goa.design/clue/log"

	"github.com/DevRickLin/feishu-nudge/internal/biz/domain"
	"github.com/DevRickLin/feishu-nudge/internal/biz/usecase"
	"github.com/DevRickLin/feishu-nudge/internal/infra/feishu"
)

// seenTTL bounds how long a message id is remembered for deduplication
const seenTTL = 5 * time.Minute

// EventSource delivers inbound chat messages
type EventSource interface {
	OnMessage(handler feishu.MessageHandler)
	Start(ctx context.Context) error
	Stop()
}

// InboundObserver records user activity
type InboundObserver interface {
	ObserveInbound(ctx context.Context, msg *domain.InboundMessage) (*domain.SessionState, error)
}

// CommandHandler answers command messages
type CommandHandler interface {
	Handle(ctx context.Context, req usecase.CommandRequest) (string, error)
}

// Replier sends text back to a chat
type Replier interface {
	SendText(ctx context.Context, chatID, text string) error
}

// FeishuServer routes Feishu messages to the command handler or the
// subscription lifecycle
type FeishuServer struct {
	source   EventSource
	observer InboundObserver
	commands CommandHandler
	replier  Replier
	now      func() time.Time

	// Message deduplication cache
	seenMsgsMu sync.Mutex
	seenMsgs   map[string]time.Time // msgID -> timestamp
}

// NewFeishuServer creates a new Feishu server
func NewFeishuServer(source EventSource, observer InboundObserver, commands CommandHandler, replier Replier) *FeishuServer {
	return &FeishuServer{
		source:   source,
		observer: observer,
		commands: commands,
		replier:  replier,
		now:      time.Now,
		seenMsgs: make(map[string]time.Time),
	}
}

// Start registers the handler and blocks receiving events until ctx is done
func (s *FeishuServer) Start(ctx context.Context) error {
	s.source.OnMessage(s.HandleMessage)
	return s.source.Start(ctx)
}

// Stop stops the event source
func (s *FeishuServer) Stop() {
	s.source.Stop()
}

// HandleMessage handles one Feishu message
func (s *FeishuServer) HandleMessage(ctx context.Context, msg *feishu.Message) {
	if msg == nil || msg.ChatID == "" {
		return
	}
	// Feishu redelivers events that were not acknowledged in time
	if msg.MsgID != "" && s.alreadySeen(msg.MsgID) {
		log.Debugf(ctx, "duplicate message ignored: %s", msg.MsgID)
		return
	}

	senderID := ""
	if msg.Sender != nil {
		senderID = msg.Sender.SenderID
	}

	if usecase.IsCommand(msg.Content) {
		reply, err := s.commands.Handle(ctx, usecase.CommandRequest{
			SessionID: msg.ChatID,
			SenderID:  senderID,
			Text:      msg.Content,
		})
		if err != nil {
			log.Errorf(ctx, err, "command failed in %s", msg.ChatID)
		}
		if reply == "" {
			return
		}
		if err := s.replier.SendText(ctx, msg.ChatID, reply); err != nil {
			log.Errorf(ctx, err, "failed to send command reply to %s", msg.ChatID)
		}
		return
	}

	at := s.now()
	if msg.CreateTime > 0 {
		at = time.UnixMilli(msg.CreateTime)
	}
	_, err := s.observer.ObserveInbound(ctx, &domain.InboundMessage{
		SessionID: msg.ChatID,
		MessageID: msg.MsgID,
		SenderID:  senderID,
		Text:      msg.Content,
		At:        at,
	})
	if err != nil {
		log.Errorf(ctx, err, "failed to record inbound message for %s", msg.ChatID)
	}
}

// alreadySeen reports whether msgID was handled recently and marks it seen
func (s *FeishuServer) alreadySeen(msgID string) bool {
	s.seenMsgsMu.Lock()
	defer s.seenMsgsMu.Unlock()

	now := s.now()
	if _, exists := s.seenMsgs[msgID]; exists {
		return true
	}
	s.seenMsgs[msgID] = now

	// Clean up expired message records to prevent memory leaks
	cutoff := now.Add(-seenTTL)
	for id, ts := range s.seenMsgs {
		if ts.Before(cutoff) {
			delete(s.seenMsgs, id)
		}
	}
	return false
}
