package sessions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/sous/internal/storage"
	"github.com/haasonsaas/sous/pkg/models"
)

// SQLStore implements Store on Postgres or SQLite through database/sql.
type SQLStore struct {
	db  *storage.DB
	now func() time.Time
}

// NewSQLStore creates a store on an open database. Run storage migrations first.
func NewSQLStore(db *storage.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

func (s *SQLStore) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	if conv == nil {
		return errors.New("conversation is required")
	}
	if conv.UserID == "" {
		return errors.New("conversation user ID is required")
	}
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = s.now()
	}
	conv.CreatedAt = conv.CreatedAt.UTC()
	conv.UpdatedAt = conv.CreatedAt

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO conversations (id, user_id, title, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`), conv.ID, conv.UserID, nullString(conv.Title), conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	return nil
}

func (s *SQLStore) GetConversation(ctx context.Context, id, userID string) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx, s.db.Rebind(`
		SELECT id, user_id, title, created_at, updated_at
		FROM conversations WHERE id = $1 AND user_id = $2
	`), id, userID)

	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return conv, nil
}

func (s *SQLStore) ListConversations(ctx context.Context, userID string, opts ListOptions) ([]*models.Conversation, error) {
	opts = opts.normalized()
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT id, user_id, title, created_at, updated_at
		FROM conversations WHERE user_id = $1
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3
	`), userID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	out := []*models.Conversation{}
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		out = append(out, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conversations: %w", err)
	}
	return out, nil
}

func (s *SQLStore) UpdateTitle(ctx context.Context, id, title string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE conversations SET title = $1, updated_at = $2 WHERE id = $3
	`), title, s.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update title: %w", err)
	}
	return requireRow(res, id)
}

// DeleteConversation removes a conversation; messages go with it via ON DELETE CASCADE.
func (s *SQLStore) DeleteConversation(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		DELETE FROM conversations WHERE id = $1 AND user_id = $2
	`), id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return requireRow(res, id)
}

func (s *SQLStore) DeleteConversationsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		DELETE FROM conversations WHERE updated_at < $1
	`), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale conversations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted conversations: %w", err)
	}
	return n, nil
}

// AppendMessage inserts a message and bumps the conversation's updated_at in one
// transaction.
func (s *SQLStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil {
		return errors.New("message is required")
	}
	if !msg.Role.Valid() {
		return fmt.Errorf("invalid message role %q", msg.Role)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	msg.CreatedAt = msg.CreatedAt.UTC()

	toolCallsJSON, err := marshalNullable(msg.ToolCalls, len(msg.ToolCalls) == 0)
	if err != nil {
		return fmt.Errorf("failed to marshal tool calls: %w", err)
	}
	richBlocksJSON, err := marshalNullable(msg.RichBlocks, len(msg.RichBlocks) == 0)
	if err != nil {
		return fmt.Errorf("failed to marshal rich blocks: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // Rollback after commit returns ErrTxDone which is expected
	}()

	res, err := tx.ExecContext(ctx, s.db.Rebind(`
		UPDATE conversations SET updated_at = $1 WHERE id = $2
	`), msg.CreatedAt, msg.ConversationID)
	if err != nil {
		return fmt.Errorf("failed to update conversation timestamp: %w", err)
	}
	if err := requireRow(res, msg.ConversationID); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO messages (id, conversation_id, role, content, tool_calls, rich_blocks, token_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`),
		msg.ID,
		msg.ConversationID,
		string(msg.Role),
		msg.Content,
		toolCallsJSON,
		richBlocksJSON,
		msg.TokenCount,
		msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}

	return tx.Commit()
}

func (s *SQLStore) ListMessages(ctx context.Context, conversationID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, s.db.Rebind(`
		SELECT id, conversation_id, role, content, tool_calls, rich_blocks, token_count, created_at
		FROM messages WHERE conversation_id = $1
		ORDER BY created_at ASC, seq ASC
	`), conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := []*models.Message{}
	for rows.Next() {
		msg := &models.Message{}
		var role string
		var toolCallsJSON, richBlocksJSON sql.NullString

		if err := rows.Scan(
			&msg.ID,
			&msg.ConversationID,
			&role,
			&msg.Content,
			&toolCallsJSON,
			&richBlocksJSON,
			&msg.TokenCount,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = models.Role(role)

		if toolCallsJSON.Valid && toolCallsJSON.String != "" && toolCallsJSON.String != "null" {
			if err := json.Unmarshal([]byte(toolCallsJSON.String), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("failed to unmarshal tool calls: %w", err)
			}
		}
		if richBlocksJSON.Valid && richBlocksJSON.String != "" && richBlocksJSON.String != "null" {
			if err := json.Unmarshal([]byte(richBlocksJSON.String), &msg.RichBlocks); err != nil {
				return nil, fmt.Errorf("failed to unmarshal rich blocks: %w", err)
			}
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating messages: %w", err)
	}
	return messages, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (*models.Conversation, error) {
	conv := &models.Conversation{}
	var title sql.NullString
	if err := row.Scan(&conv.ID, &conv.UserID, &title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		return nil, err
	}
	if title.Valid {
		conv.Title = &title.String
	}
	return conv, nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("conversation %s: %w", id, ErrNotFound)
	}
	return nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func marshalNullable(v any, empty bool) (sql.NullString, error) {
	if empty {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
