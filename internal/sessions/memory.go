package sessions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/sous/pkg/models"
)

// MemoryStore provides an in-memory Store implementation for testing and local runs.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*models.Conversation
	messages      map[string][]*models.Message
	now           func() time.Time
}

// NewMemoryStore creates a new in-memory conversation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: map[string]*models.Conversation{},
		messages:      map[string][]*models.Message{},
		now:           time.Now,
	}
}

func (m *MemoryStore) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	if conv == nil {
		return errors.New("conversation is required")
	}
	if conv.UserID == "" {
		return errors.New("conversation user ID is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := cloneConversation(conv)
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if _, exists := m.conversations[clone.ID]; exists {
		return fmt.Errorf("conversation %s already exists", clone.ID)
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = m.now()
	}
	clone.UpdatedAt = clone.CreatedAt
	// Reflect generated fields back to caller.
	conv.ID = clone.ID
	conv.CreatedAt = clone.CreatedAt
	conv.UpdatedAt = clone.UpdatedAt
	m.conversations[clone.ID] = clone
	return nil
}

func (m *MemoryStore) GetConversation(ctx context.Context, id, userID string) (*models.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.conversations[id]
	if !ok || conv.UserID != userID {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return cloneConversation(conv), nil
}

func (m *MemoryStore) ListConversations(ctx context.Context, userID string, opts ListOptions) ([]*models.Conversation, error) {
	opts = opts.normalized()
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Conversation
	for _, conv := range m.conversations {
		if conv.UserID == userID {
			out = append(out, cloneConversation(conv))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})

	if opts.Offset >= len(out) {
		return []*models.Conversation{}, nil
	}
	end := opts.Offset + opts.Limit
	if end > len(out) {
		end = len(out)
	}
	return out[opts.Offset:end], nil
}

func (m *MemoryStore) UpdateTitle(ctx context.Context, id, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[id]
	if !ok {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	conv.Title = &title
	conv.UpdatedAt = m.now()
	return nil
}

func (m *MemoryStore) DeleteConversation(ctx context.Context, id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[id]
	if !ok || conv.UserID != userID {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	delete(m.conversations, id)
	delete(m.messages, id)
	return nil
}

func (m *MemoryStore) DeleteConversationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for id, conv := range m.conversations {
		if conv.UpdatedAt.Before(cutoff) {
			delete(m.conversations, id)
			delete(m.messages, id)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil {
		return errors.New("message is required")
	}
	if !msg.Role.Valid() {
		return fmt.Errorf("invalid message role %q", msg.Role)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	conv, ok := m.conversations[msg.ConversationID]
	if !ok {
		return fmt.Errorf("conversation %s: %w", msg.ConversationID, ErrNotFound)
	}
	clone := cloneMessage(msg)
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = m.now()
	}
	msg.ID = clone.ID
	msg.CreatedAt = clone.CreatedAt
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], clone)
	conv.UpdatedAt = clone.CreatedAt
	return nil
}

// ListMessages returns messages in insertion order, which is creation order.
func (m *MemoryStore) ListMessages(ctx context.Context, conversationID string) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored := m.messages[conversationID]
	out := make([]*models.Message, 0, len(stored))
	for _, msg := range stored {
		out = append(out, cloneMessage(msg))
	}
	return out, nil
}
