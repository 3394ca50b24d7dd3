package store

import (
	"context"
	"testing"
	"time"
)

func TestAppendNoteBucketsByLocalDay(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tokyo, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	// 2024-03-01 20:00 UTC is already 2024-03-02 in Tokyo.
	at := time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)
	date, err := s.AppendNote(ctx, "alice", "hello", at, tokyo)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if date != "2024-03-02" {
		t.Errorf("expected 2024-03-02, got %s", date)
	}

	date, _ = s.AppendNote(ctx, "alice", "hello", at, time.UTC)
	if date != "2024-03-01" {
		t.Errorf("expected 2024-03-01, got %s", date)
	}
}

func TestAppendNoteRequiresContent(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.AppendNote(context.Background(), "alice", "   ", time.Now(), nil); err == nil {
		t.Error("expected error for empty content")
	}
}

func TestListUnprocessedDaysExcludesToday(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)}
	s := newTestStore(t, WithClock(clock.Now))

	s.AppendNote(ctx, "alice", "way back", time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), time.UTC)
	s.AppendNote(ctx, "alice", "second entry", time.Date(2024, 3, 8, 18, 0, 0, 0, time.UTC), time.UTC)
	s.AppendNote(ctx, "alice", "first entry", time.Date(2024, 3, 8, 9, 0, 0, 0, time.UTC), time.UTC)
	s.AppendNote(ctx, "alice", "yesterday", time.Date(2024, 3, 9, 9, 0, 0, 0, time.UTC), time.UTC)
	s.AppendNote(ctx, "alice", "today", time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC), time.UTC)
	s.AppendNote(ctx, "bob", "not mine", time.Date(2024, 3, 9, 9, 0, 0, 0, time.UTC), time.UTC)

	days, err := s.ListUnprocessedDays(ctx, "alice", 7, time.UTC)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(days) != 2 {
		t.Fatalf("expected 2 days inside the lookback window, got %+v", days)
	}
	if days[0].Date != "2024-03-08" || days[1].Date != "2024-03-09" {
		t.Errorf("unexpected dates: %s, %s", days[0].Date, days[1].Date)
	}
	if len(days[0].Entries) != 2 || days[0].Entries[0].Content != "first entry" {
		t.Errorf("expected entries in timestamp order, got %+v", days[0].Entries)
	}
}

func TestMarkProcessedRemovesDay(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)}
	s := newTestStore(t, WithClock(clock.Now))

	s.AppendNote(ctx, "alice", "a", time.Date(2024, 3, 8, 9, 0, 0, 0, time.UTC), time.UTC)
	s.AppendNote(ctx, "alice", "b", time.Date(2024, 3, 9, 9, 0, 0, 0, time.UTC), time.UTC)

	if err := s.MarkProcessed(ctx, "alice", "2024-03-08"); err != nil {
		t.Fatalf("mark processed: %v", err)
	}
	// Idempotent.
	if err := s.MarkProcessed(ctx, "alice", "2024-03-08"); err != nil {
		t.Fatalf("mark processed twice: %v", err)
	}

	days, _ := s.ListUnprocessedDays(ctx, "alice", 7, time.UTC)
	if len(days) != 1 || days[0].Date != "2024-03-09" {
		t.Fatalf("expected only 2024-03-09 left, got %+v", days)
	}

	ok, _ := s.IsProcessed(ctx, "alice", "2024-03-08")
	if !ok {
		t.Error("expected 2024-03-08 to be processed")
	}

	// A late entry for a processed day does not reopen it.
	s.AppendNote(ctx, "alice", "late", time.Date(2024, 3, 8, 23, 0, 0, 0, time.UTC), time.UTC)
	days, _ = s.ListUnprocessedDays(ctx, "alice", 7, time.UTC)
	if len(days) != 1 {
		t.Errorf("expected processed day to stay closed, got %+v", days)
	}

	if err := s.MarkProcessed(ctx, "alice", "March 8"); err == nil {
		t.Error("expected error for malformed date")
	}
}

func TestPendingUsers(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)}
	s := newTestStore(t, WithClock(clock.Now))

	s.AppendNote(ctx, "alice", "a", time.Date(2024, 3, 9, 9, 0, 0, 0, time.UTC), time.UTC)
	s.AppendNote(ctx, "bob", "only today", time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC), time.UTC)
	s.AppendNote(ctx, "carol", "done", time.Date(2024, 3, 9, 9, 0, 0, 0, time.UTC), time.UTC)
	s.MarkProcessed(ctx, "carol", "2024-03-09")

	users, err := s.PendingUsers(ctx, 7)
	if err != nil {
		t.Fatalf("pending users: %v", err)
	}
	if len(users) != 1 || users[0].UserID != "alice" || users[0].TimeZone != "UTC" {
		t.Errorf("expected only alice pending, got %+v", users)
	}
}

func TestPendingUsersIgnoresDaysPastLookback(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: time.Date(2024, 3, 20, 9, 0, 0, 0, time.UTC)}
	s := newTestStore(t, WithClock(clock.Now))

	s.AppendNote(ctx, "alice", "long ago", time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC), time.UTC)
	s.AppendNote(ctx, "bob", "long ago", time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC), time.UTC)
	s.AppendNote(ctx, "bob", "recent", time.Date(2024, 3, 18, 9, 0, 0, 0, time.UTC), time.UTC)

	users, err := s.PendingUsers(ctx, 7)
	if err != nil {
		t.Fatalf("pending users: %v", err)
	}
	if len(users) != 1 || users[0].UserID != "bob" {
		t.Fatalf("expected only bob pending, got %+v", users)
	}

	// Every pending user has a day the pipeline can list.
	for _, u := range users {
		days, err := s.ListUnprocessedDays(ctx, u.UserID, 7, time.UTC)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(days) == 0 {
			t.Errorf("user %s reported pending with no listable day", u.UserID)
		}
	}

	users, _ = s.PendingUsers(ctx, 14)
	if len(users) != 2 {
		t.Errorf("expected both users with a 14-day window, got %+v", users)
	}
}
