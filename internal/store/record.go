package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RecordKind partitions side-effect records by the tool that produced them.
type RecordKind string

const (
	RecordKindCalendar     RecordKind = "calendar"
	RecordKindReminder     RecordKind = "reminder"
	RecordKindNotification RecordKind = "notification"
)

// Display statuses. Computed once at write time, not re-derived on read.
const (
	DisplayUpcoming  = "upcoming"
	DisplayPast      = "past"
	DisplayOpen      = "open"
	DisplayDone      = "done"
	DisplayScheduled = "scheduled"
)

// DefaultPageSize caps record listings.
const DefaultPageSize = 50

// Record is the durable trace of one executed client-owned tool. Its ID is
// the caller-supplied idempotency key, so a retried write overwrites the
// same document instead of duplicating it.
type Record struct {
	Kind          RecordKind `json:"kind"`
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	CoachID       *string    `json:"coach_id,omitempty"`
	SessionID     *string    `json:"session_id,omitempty"`
	ToolRunID     *string    `json:"tool_run_id,omitempty"`
	Title         string     `json:"title"`
	Body          *string    `json:"body,omitempty"`
	StartsAt      *time.Time `json:"starts_at,omitempty"`
	EndsAt        *time.Time `json:"ends_at,omitempty"`
	FireAt        *time.Time `json:"fire_at,omitempty"`
	DisplayStatus string     `json:"display_status"`
	UpdatedAt     time.Time  `json:"updated_at"`
	CreatedAt     time.Time  `json:"created_at"`
}

// RecordFilter narrows List results.
type RecordFilter struct {
	CoachID *string
	Status  *string
	Limit   int
	Offset  int
}

// RecordStore provides operations on the effect_records table.
type RecordStore struct {
	db *sql.DB
}

// NewRecordStore creates a new RecordStore.
func NewRecordStore(db *sql.DB) *RecordStore {
	return &RecordStore{db: db}
}

// Put upserts a record keyed by (kind, idempotency key). The overwrite is
// per owner: the conflict update is guarded on user_id, so reusing another
// user's key cannot take over their record and comes back ErrForbidden.
// Display status is computed here, at write time: calendar records compare
// their end time to now, reminders open, notifications scheduled.
func (s *RecordStore) Put(ctx context.Context, rec *Record) (*Record, error) {
	now := time.Now().UTC()
	rec.DisplayStatus = displayStatusFor(rec, now)
	rec.UpdatedAt = now
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}

	var affected int64
	err := withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO effect_records (kind, id, user_id, coach_id, session_id, tool_run_id, title, body, starts_at, ends_at, fire_at, display_status, updated_at, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(kind, id) DO UPDATE SET
			   coach_id = excluded.coach_id,
			   session_id = excluded.session_id,
			   tool_run_id = excluded.tool_run_id,
			   title = excluded.title,
			   body = excluded.body,
			   starts_at = excluded.starts_at,
			   ends_at = excluded.ends_at,
			   fire_at = excluded.fire_at,
			   display_status = excluded.display_status,
			   updated_at = excluded.updated_at
			 WHERE effect_records.user_id = excluded.user_id`,
			string(rec.Kind), rec.ID, rec.UserID, rec.CoachID, rec.SessionID, rec.ToolRunID,
			rec.Title, rec.Body, formatTime(rec.StartsAt), formatTime(rec.EndsAt), formatTime(rec.FireAt),
			rec.DisplayStatus, now.Format(time.RFC3339Nano), rec.CreatedAt.Format(time.RFC3339Nano),
		)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("upsert effect record: %w", err)
	}
	if affected == 0 {
		return nil, ErrForbidden
	}
	return rec, nil
}

func displayStatusFor(rec *Record, now time.Time) string {
	switch rec.Kind {
	case RecordKindCalendar:
		if rec.EndsAt != nil && rec.EndsAt.Before(now) {
			return DisplayPast
		}
		return DisplayUpcoming
	case RecordKindReminder:
		if rec.DisplayStatus == DisplayDone {
			return DisplayDone
		}
		return DisplayOpen
	default:
		return DisplayScheduled
	}
}

// List retrieves a user's records of one kind. Calendar records are ordered
// by start time ascending, everything else by creation time descending.
func (s *RecordStore) List(ctx context.Context, kind RecordKind, userID string, f RecordFilter) ([]*Record, error) {
	limit := f.Limit
	if limit <= 0 || limit > DefaultPageSize {
		limit = DefaultPageSize
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	query := `SELECT kind, id, user_id, coach_id, session_id, tool_run_id, title, body, starts_at, ends_at, fire_at, display_status, updated_at, created_at
	          FROM effect_records WHERE kind = ? AND user_id = ?`
	args := []any{string(kind), userID}
	if f.CoachID != nil {
		query += ` AND coach_id = ?`
		args = append(args, *f.CoachID)
	}
	if f.Status != nil {
		query += ` AND display_status = ?`
		args = append(args, *f.Status)
	}
	if kind == RecordKindCalendar {
		query += ` ORDER BY starts_at ASC`
	} else {
		query += ` ORDER BY created_at DESC`
	}
	query += ` LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list effect records: %w", err)
	}
	defer rows.Close()

	var recs []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Get retrieves one record by kind and id.
func (s *RecordStore) Get(ctx context.Context, kind RecordKind, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT kind, id, user_id, coach_id, session_id, tool_run_id, title, body, starts_at, ends_at, fire_at, display_status, updated_at, created_at
		 FROM effect_records WHERE kind = ? AND id = ?`, string(kind), id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// CompleteReminder marks a reminder done after re-validating ownership.
func (s *RecordStore) CompleteReminder(ctx context.Context, id, userID string) (*Record, error) {
	rec, err := s.Get(ctx, RecordKindReminder, id)
	if err != nil {
		return nil, err
	}
	if rec.UserID != userID {
		return nil, ErrForbidden
	}

	now := time.Now().UTC()
	err = withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE effect_records SET display_status = ?, updated_at = ? WHERE kind = ? AND id = ? AND user_id = ?`,
			DisplayDone, now.Format(time.RFC3339Nano), string(RecordKindReminder), id, userID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("complete reminder: %w", err)
	}
	rec.DisplayStatus = DisplayDone
	rec.UpdatedAt = now
	return rec, nil
}

// CancelNotification deletes a notification record after re-validating
// ownership.
func (s *RecordStore) CancelNotification(ctx context.Context, id, userID string) error {
	rec, err := s.Get(ctx, RecordKindNotification, id)
	if err != nil {
		return err
	}
	if rec.UserID != userID {
		return ErrForbidden
	}

	err = withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`DELETE FROM effect_records WHERE kind = ? AND id = ? AND user_id = ?`,
			string(RecordKindNotification), id, userID)
		return err
	})
	if err != nil {
		return fmt.Errorf("cancel notification: %w", err)
	}
	return nil
}

func scanRecord(sc scanner) (*Record, error) {
	var rec Record
	var kind string
	var coachID, sessionID, toolRunID, body sql.NullString
	var startsAt, endsAt, fireAt, updatedAt, createdAt *string

	err := sc.Scan(&kind, &rec.ID, &rec.UserID, &coachID, &sessionID, &toolRunID,
		&rec.Title, &body, &startsAt, &endsAt, &fireAt, &rec.DisplayStatus, &updatedAt, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan effect record: %w", err)
	}

	rec.Kind = RecordKind(kind)
	if coachID.Valid {
		v := coachID.String
		rec.CoachID = &v
	}
	if sessionID.Valid {
		v := sessionID.String
		rec.SessionID = &v
	}
	if toolRunID.Valid {
		v := toolRunID.String
		rec.ToolRunID = &v
	}
	if body.Valid {
		v := body.String
		rec.Body = &v
	}
	rec.StartsAt = parseTime(startsAt)
	rec.EndsAt = parseTime(endsAt)
	rec.FireAt = parseTime(fireAt)
	if t := parseTime(updatedAt); t != nil {
		rec.UpdatedAt = *t
	}
	if t := parseTime(createdAt); t != nil {
		rec.CreatedAt = *t
	}
	return &rec, nil
}
