package data

import (
	"context"
	"strconv"
	"time"

	"github.com/DevRickLin/feishu-nudge/internal/biz/domain"
	"github.com/DevRickLin/feishu-nudge/internal/biz/repo"
	"github.com/DevRickLin/feishu-nudge/internal/infra/feishu"
)

// ChatClient is the part of the Feishu client the message repository uses
type ChatClient interface {
	SendText(ctx context.Context, chatID, text string) error
	GetChatHistory(ctx context.Context, chatID string, pageSize int) ([]*feishu.HistoryMessage, error)
}

// feishuRepo implements the Feishu message repository
type feishuRepo struct {
	client ChatClient
}

// NewFeishuRepo creates a new Feishu repository
func NewFeishuRepo(client ChatClient) repo.MessageRepo {
	return &feishuRepo{client: client}
}

// SendText sends a text message
func (r *feishuRepo) SendText(ctx context.Context, chatID, text string) error {
	return r.client.SendText(ctx, chatID, text)
}

// GetChatHistory gets chat history, oldest first
func (r *feishuRepo) GetChatHistory(ctx context.Context, chatID string, limit int) ([]domain.Message, error) {
	msgs, err := r.client.GetChatHistory(ctx, chatID, limit)
	if err != nil {
		return nil, err
	}

	result := make([]domain.Message, 0, len(msgs))
	for _, m := range msgs {
		var createTime time.Time
		if m.CreateTime != "" {
			// Feishu timestamp is millisecond string
			if ms, err := strconv.ParseInt(m.CreateTime, 10, 64); err == nil {
				createTime = time.UnixMilli(ms)
			}
		}

		var senderID string
		if m.Sender != nil {
			senderID = m.Sender.SenderID
		}

		result = append(result, domain.Message{
			ID:         m.MsgID,
			ChatID:     chatID,
			Content:    m.Content,
			SenderID:   senderID,
			MsgType:    m.MsgType,
			CreateTime: createTime,
			IsBot:      m.Sender.IsBot(),
		})
	}
	return result, nil
}
