// Package sessions persists conversations and their messages.
package sessions

import (
	"context"
	"time"

	"github.com/haasonsaas/sous/internal/storage"
	"github.com/haasonsaas/sous/pkg/models"
)

// ErrNotFound is returned when a conversation does not exist or is not owned
// by the requesting user. The two cases are indistinguishable to callers.
var ErrNotFound = storage.ErrNotFound

// Store is the interface for conversation persistence.
// Implementations must be safe for concurrent use.
type Store interface {
	// Conversation CRUD
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	GetConversation(ctx context.Context, id, userID string) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID string, opts ListOptions) ([]*models.Conversation, error)
	UpdateTitle(ctx context.Context, id, title string) error
	DeleteConversation(ctx context.Context, id, userID string) error

	// DeleteConversationsBefore removes conversations last updated before cutoff,
	// with their messages, and returns how many were removed.
	DeleteConversationsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Message history, returned in creation order.
	AppendMessage(ctx context.Context, msg *models.Message) error
	ListMessages(ctx context.Context, conversationID string) ([]*models.Message, error)
}

// ListOptions configures conversation listing.
type ListOptions struct {
	Limit  int
	Offset int
}

const defaultListLimit = 50

func (o ListOptions) normalized() ListOptions {
	if o.Limit <= 0 {
		o.Limit = defaultListLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

func cloneConversation(conv *models.Conversation) *models.Conversation {
	if conv == nil {
		return nil
	}
	clone := *conv
	if conv.Title != nil {
		title := *conv.Title
		clone.Title = &title
	}
	return &clone
}

func cloneMessage(msg *models.Message) *models.Message {
	if msg == nil {
		return nil
	}
	clone := *msg
	if len(msg.ToolCalls) > 0 {
		clone.ToolCalls = append([]models.ToolCall{}, msg.ToolCalls...)
	}
	if len(msg.RichBlocks) > 0 {
		clone.RichBlocks = append([]models.RichBlock{}, msg.RichBlocks...)
	}
	return &clone
}
