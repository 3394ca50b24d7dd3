// Package store provides the SQLite-backed memory store and daily-note source.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/rcliao/ryos-memory/internal/model"
)

// ErrNotFound is returned when a requested memory does not exist.
var ErrNotFound = errors.New("not found")

// DefaultMaxMemories is the per-user capacity used when none is configured.
const DefaultMaxMemories = 50

// Memories is the long-term memory side of the store.
type Memories interface {
	GetIndex(ctx context.Context, userID string) (*model.MemoryIndex, error)
	GetDetail(ctx context.Context, userID, key string) (*model.MemoryDetail, error)
	Upsert(ctx context.Context, userID string, p model.UpsertParams) (*model.UpsertResult, error)
	Delete(ctx context.Context, userID, key string) (*model.DeleteResult, error)
	CleanupStale(ctx context.Context, userID string) (*model.CleanupResult, error)
}

// Notes is the daily-note side of the store.
type Notes interface {
	AppendNote(ctx context.Context, userID, content string, at time.Time, loc *time.Location) (string, error)
	ListUnprocessedDays(ctx context.Context, userID string, lookbackDays int, loc *time.Location) ([]model.DailyNote, error)
	MarkProcessed(ctx context.Context, userID, date string) error
	PendingUsers(ctx context.Context, lookbackDays int) ([]model.PendingUser, error)
}

// Option customizes a SQLiteStore.
type Option func(*SQLiteStore)

// WithMaxMemories sets the per-user memory capacity.
func WithMaxMemories(n int) Option {
	return func(s *SQLiteStore) {
		if n > 0 {
			s.maxMemories = n
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) {
		if now != nil {
			s.now = now
		}
	}
}
