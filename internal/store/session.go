package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Session is one conversation between a user and a coach. Sessions are never
// deleted outside full user-data erasure; new turns only touch updated_at.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	CoachID   *string   `json:"coach_id,omitempty"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionStore provides CRUD operations on the sessions table.
type SessionStore struct {
	db *sql.DB
}

// NewSessionStore creates a new SessionStore.
func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

// DB returns the underlying database connection.
func (s *SessionStore) DB() *sql.DB {
	return s.db
}

// Create inserts a new session owned by userID.
func (s *SessionStore) Create(ctx context.Context, userID string, coachID *string, title string) (*Session, error) {
	now := time.Now().UTC()
	sess := &Session{
		ID:        uuid.New().String(),
		UserID:    userID,
		CoachID:   coachID,
		Title:     title,
		UpdatedAt: now,
		CreatedAt: now,
	}

	err := withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO sessions (id, user_id, coach_id, title, updated_at, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			sess.ID, sess.UserID, sess.CoachID, sess.Title,
			now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

// GetByID retrieves a session by its ID.
func (s *SessionStore) GetByID(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, coach_id, title, updated_at, created_at FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sess, err
}

// GetOwned retrieves a session and verifies ownership. Returns ErrNotFound
// when the session does not exist and ErrForbidden on a uid mismatch.
func (s *SessionStore) GetOwned(ctx context.Context, id, userID string) (*Session, error) {
	sess, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, ErrForbidden
	}
	return sess, nil
}

// Touch bumps updated_at. Last write wins; the field is advisory metadata
// only, so concurrent producers racing here is accepted.
func (s *SessionStore) Touch(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	err := withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, now, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// SetTitle renames a session.
func (s *SessionStore) SetTitle(ctx context.Context, id, title string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	err := withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE sessions SET title = ?, updated_at = ? WHERE id = ?`, title, now, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("set session title: %w", err)
	}
	return nil
}

func scanSession(sc scanner) (*Session, error) {
	var sess Session
	var coachID sql.NullString
	var updatedAt, createdAt *string

	err := sc.Scan(&sess.ID, &sess.UserID, &coachID, &sess.Title, &updatedAt, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}

	if coachID.Valid {
		v := coachID.String
		sess.CoachID = &v
	}
	if t := parseTime(updatedAt); t != nil {
		sess.UpdatedAt = *t
	}
	if t := parseTime(createdAt); t != nil {
		sess.CreatedAt = *t
	}
	return &sess, nil
}
