package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one immutable chat turn. Assistant messages are written exactly
// once, after the stream completes; individual deltas are never persisted.
type Message struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"session_id"`
	Role        Role            `json:"role"`
	Text        string          `json:"text"`
	Attachments json.RawMessage `json:"attachments,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// MessageStore provides operations on the messages table.
type MessageStore struct {
	db *sql.DB
}

// NewMessageStore creates a new MessageStore.
func NewMessageStore(db *sql.DB) *MessageStore {
	return &MessageStore{db: db}
}

// Append inserts a new message for a session.
func (s *MessageStore) Append(ctx context.Context, sessionID string, role Role, text string, attachments json.RawMessage) (*Message, error) {
	now := time.Now().UTC()
	msg := &Message{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		Role:        role,
		Text:        text,
		Attachments: attachments,
		CreatedAt:   now,
	}

	err := withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO messages (id, session_id, role, text, attachments, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			msg.ID, msg.SessionID, string(msg.Role), msg.Text, msg.Attachments,
			now.Format(time.RFC3339Nano),
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return msg, nil
}

// History retrieves a session's messages in chronological order, capped at
// limit (0 means no cap).
func (s *MessageStore) History(ctx context.Context, sessionID string, limit int) ([]*Message, error) {
	query := `SELECT id, session_id, role, text, attachments, created_at
	          FROM messages WHERE session_id = ? ORDER BY created_at ASC`
	args := []any{sessionID}
	if limit > 0 {
		// Take the most recent N, then flip back to chronological order.
		query = `SELECT id, session_id, role, text, attachments, created_at FROM (
		           SELECT id, session_id, role, text, attachments, created_at
		           FROM messages WHERE session_id = ? ORDER BY created_at DESC LIMIT ?
		         ) ORDER BY created_at ASC`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get messages by session: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func scanMessage(sc scanner) (*Message, error) {
	var m Message
	var role string
	var attachments sql.NullString
	var createdAt *string

	err := sc.Scan(&m.ID, &m.SessionID, &role, &m.Text, &attachments, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan message: %w", err)
	}

	m.Role = Role(role)
	if attachments.Valid && attachments.String != "" {
		m.Attachments = json.RawMessage(attachments.String)
	}
	if t := parseTime(createdAt); t != nil {
		m.CreatedAt = *t
	}
	return &m, nil
}
