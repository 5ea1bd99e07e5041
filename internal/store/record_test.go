package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/coachloop/coachloop/internal/storage"
)

func openRecordStore(t *testing.T) *RecordStore {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "coachloop.db")
	db, err := storage.OpenSQLite(ctx, dbPath)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewRecordStore(db)
}

func timePtr(t time.Time) *time.Time { return &t }

func TestRecordPutIsIdempotentPerKey(t *testing.T) {
	ctx := context.Background()
	store := openRecordStore(t)

	first, err := store.Put(ctx, &Record{
		Kind:   RecordKindReminder,
		ID:     "idem-1",
		UserID: "user-1",
		Title:  "Drink water",
	})
	if err != nil {
		t.Fatalf("first put: %v", err)
	}

	// A retried handshake re-submits the same idempotency key with the same
	// or updated content; it must overwrite, not duplicate.
	if _, err := store.Put(ctx, &Record{
		Kind:   RecordKindReminder,
		ID:     "idem-1",
		UserID: "user-1",
		Title:  "Drink more water",
	}); err != nil {
		t.Fatalf("second put: %v", err)
	}

	recs, err := store.List(ctx, RecordKindReminder, "user-1", RecordFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("record count = %d, want 1", len(recs))
	}
	if recs[0].Title != "Drink more water" {
		t.Fatalf("title = %q, want the overwritten value", recs[0].Title)
	}
	if recs[0].ID != first.ID {
		t.Fatalf("id changed across upsert")
	}
}

func TestRecordPutForeignKeyReuseForbidden(t *testing.T) {
	ctx := context.Background()
	store := openRecordStore(t)

	if _, err := store.Put(ctx, &Record{
		Kind:   RecordKindReminder,
		ID:     "idem-1",
		UserID: "user-1",
		Title:  "Drink water",
	}); err != nil {
		t.Fatalf("put: %v", err)
	}

	// Another user reusing the same idempotency key must not take over the
	// record.
	if _, err := store.Put(ctx, &Record{
		Kind:   RecordKindReminder,
		ID:     "idem-1",
		UserID: "user-2",
		Title:  "Hijacked",
	}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("foreign put error = %v, want ErrForbidden", err)
	}

	recs, err := store.List(ctx, RecordKindReminder, "user-1", RecordFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 1 || recs[0].Title != "Drink water" || recs[0].UserID != "user-1" {
		t.Fatalf("owner's record changed: %+v", recs)
	}
	foreign, err := store.List(ctx, RecordKindReminder, "user-2", RecordFilter{})
	if err != nil {
		t.Fatalf("list foreign: %v", err)
	}
	if len(foreign) != 0 {
		t.Fatalf("foreign listing = %+v, want empty", foreign)
	}
}

func TestRecordDisplayStatusComputedAtWriteTime(t *testing.T) {
	ctx := context.Background()
	store := openRecordStore(t)
	now := time.Now().UTC()

	past, err := store.Put(ctx, &Record{
		Kind:     RecordKindCalendar,
		ID:       "ev-past",
		UserID:   "user-1",
		Title:    "Yesterday's run",
		StartsAt: timePtr(now.Add(-25 * time.Hour)),
		EndsAt:   timePtr(now.Add(-24 * time.Hour)),
	})
	if err != nil {
		t.Fatalf("put past event: %v", err)
	}
	if past.DisplayStatus != DisplayPast {
		t.Fatalf("past event status = %s, want %s", past.DisplayStatus, DisplayPast)
	}

	upcoming, err := store.Put(ctx, &Record{
		Kind:     RecordKindCalendar,
		ID:       "ev-upcoming",
		UserID:   "user-1",
		Title:    "Tomorrow's run",
		StartsAt: timePtr(now.Add(24 * time.Hour)),
		EndsAt:   timePtr(now.Add(25 * time.Hour)),
	})
	if err != nil {
		t.Fatalf("put upcoming event: %v", err)
	}
	if upcoming.DisplayStatus != DisplayUpcoming {
		t.Fatalf("upcoming event status = %s, want %s", upcoming.DisplayStatus, DisplayUpcoming)
	}

	reminder, err := store.Put(ctx, &Record{Kind: RecordKindReminder, ID: "r1", UserID: "user-1", Title: "Stretch"})
	if err != nil {
		t.Fatalf("put reminder: %v", err)
	}
	if reminder.DisplayStatus != DisplayOpen {
		t.Fatalf("reminder status = %s, want %s", reminder.DisplayStatus, DisplayOpen)
	}

	notif, err := store.Put(ctx, &Record{Kind: RecordKindNotification, ID: "n1", UserID: "user-1", Title: "Check in", FireAt: timePtr(now.Add(time.Hour))})
	if err != nil {
		t.Fatalf("put notification: %v", err)
	}
	if notif.DisplayStatus != DisplayScheduled {
		t.Fatalf("notification status = %s, want %s", notif.DisplayStatus, DisplayScheduled)
	}
}

func TestRecordListCalendarOrderedByStartAscending(t *testing.T) {
	ctx := context.Background()
	store := openRecordStore(t)
	now := time.Now().UTC()

	for i, id := range []string{"ev-c", "ev-a", "ev-b"} {
		offset := time.Duration([]int{3, 1, 2}[i]) * time.Hour
		if _, err := store.Put(ctx, &Record{
			Kind:     RecordKindCalendar,
			ID:       id,
			UserID:   "user-1",
			Title:    id,
			StartsAt: timePtr(now.Add(offset)),
			EndsAt:   timePtr(now.Add(offset + time.Hour)),
		}); err != nil {
			t.Fatalf("put %s: %v", id, err)
		}
	}

	recs, err := store.List(ctx, RecordKindCalendar, "user-1", RecordFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("count = %d, want 3", len(recs))
	}
	want := []string{"ev-a", "ev-b", "ev-c"}
	for i, rec := range recs {
		if rec.ID != want[i] {
			t.Fatalf("position %d = %s, want %s", i, rec.ID, want[i])
		}
	}
}

func TestRecordListFiltersByCoachAndStatus(t *testing.T) {
	ctx := context.Background()
	store := openRecordStore(t)

	coachA := "coach-a"
	coachB := "coach-b"
	if _, err := store.Put(ctx, &Record{Kind: RecordKindReminder, ID: "r1", UserID: "user-1", CoachID: &coachA, Title: "one"}); err != nil {
		t.Fatalf("put r1: %v", err)
	}
	if _, err := store.Put(ctx, &Record{Kind: RecordKindReminder, ID: "r2", UserID: "user-1", CoachID: &coachB, Title: "two"}); err != nil {
		t.Fatalf("put r2: %v", err)
	}
	if _, err := store.CompleteReminder(ctx, "r2", "user-1"); err != nil {
		t.Fatalf("complete r2: %v", err)
	}

	recs, err := store.List(ctx, RecordKindReminder, "user-1", RecordFilter{CoachID: &coachA})
	if err != nil {
		t.Fatalf("list by coach: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != "r1" {
		t.Fatalf("coach filter returned %d records", len(recs))
	}

	done := DisplayDone
	recs, err = store.List(ctx, RecordKindReminder, "user-1", RecordFilter{Status: &done})
	if err != nil {
		t.Fatalf("list by status: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != "r2" {
		t.Fatalf("status filter returned wrong records")
	}
}

func TestRecordListNeverReturnsOtherUsers(t *testing.T) {
	ctx := context.Background()
	store := openRecordStore(t)

	if _, err := store.Put(ctx, &Record{Kind: RecordKindReminder, ID: "r1", UserID: "user-1", Title: "mine"}); err != nil {
		t.Fatalf("put: %v", err)
	}

	recs, err := store.List(ctx, RecordKindReminder, "user-2", RecordFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected no records for other user, got %d", len(recs))
	}
}

func TestCompleteReminderValidatesOwnership(t *testing.T) {
	ctx := context.Background()
	store := openRecordStore(t)

	if _, err := store.Put(ctx, &Record{Kind: RecordKindReminder, ID: "r1", UserID: "user-1", Title: "mine"}); err != nil {
		t.Fatalf("put: %v", err)
	}

	if _, err := store.CompleteReminder(ctx, "r1", "user-2"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	rec, err := store.CompleteReminder(ctx, "r1", "user-1")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if rec.DisplayStatus != DisplayDone {
		t.Fatalf("status = %s, want done", rec.DisplayStatus)
	}
}

func TestCancelNotificationDeletes(t *testing.T) {
	ctx := context.Background()
	store := openRecordStore(t)

	if _, err := store.Put(ctx, &Record{Kind: RecordKindNotification, ID: "n1", UserID: "user-1", Title: "ping"}); err != nil {
		t.Fatalf("put: %v", err)
	}

	if err := store.CancelNotification(ctx, "n1", "user-2"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for other user, got %v", err)
	}
	if err := store.CancelNotification(ctx, "n1", "user-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := store.Get(ctx, RecordKindNotification, "n1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after cancel, got %v", err)
	}
}
