package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/ryos-memory/internal/model"
)

// GetIndex returns the live memories of a user as key/summary pairs, ordered by key.
// A user without memories gets an empty index.
func (s *SQLiteStore) GetIndex(ctx context.Context, userID string) (*model.MemoryIndex, error) {
	memories, err := s.List(ctx, userID)
	if err != nil {
		return nil, err
	}

	index := &model.MemoryIndex{Entries: make([]model.MemoryIndexEntry, 0, len(memories))}
	for _, m := range memories {
		index.Entries = append(index.Entries, model.MemoryIndexEntry{Key: m.Key, Summary: m.Summary})
	}
	return index, nil
}

// List returns the latest live version of every memory of a user, ordered by key.
func (s *SQLiteStore) List(ctx context.Context, userID string) ([]model.Memory, error) {
	rows, err := s.db.QueryContext(ctx, latestLive+` ORDER BY m.key`, userID, formatTime(s.nowUTC()))
	if err != nil {
		return nil, goerr.Wrap(err, "query memory index", goerr.V("user_id", userID))
	}
	return scanMemories(rows)
}

// GetDetail returns the full text of a live memory, or nil when the key does not exist.
func (s *SQLiteStore) GetDetail(ctx context.Context, userID, key string) (*model.MemoryDetail, error) {
	m, err := s.latest(ctx, s.db, userID, key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &model.MemoryDetail{Key: m.Key, Summary: m.Summary, Content: m.Content}, nil
}

// History returns every non-deleted version of a key, newest first.
func (s *SQLiteStore) History(ctx context.Context, userID, key string) ([]model.Memory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, key, summary, content, version, supersedes, created_at, deleted_at, expires_at
		 FROM memories WHERE user_id = ? AND key = ? AND deleted_at IS NULL
		 ORDER BY version DESC`, userID, key)
	if err != nil {
		return nil, goerr.Wrap(err, "query memory history", goerr.V("key", key))
	}
	memories, err := scanMemories(rows)
	if err != nil {
		return nil, err
	}
	if len(memories) == 0 {
		return nil, goerr.Wrap(ErrNotFound, "memory not found", goerr.V("user_id", userID), goerr.V("key", key))
	}
	return memories, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLiteStore) latest(ctx context.Context, q querier, userID, key string) (*model.Memory, error) {
	row := q.QueryRowContext(ctx,
		`SELECT id, user_id, key, summary, content, version, supersedes, created_at, deleted_at, expires_at
		 FROM memories WHERE user_id = ? AND key = ? AND deleted_at IS NULL
		 ORDER BY version DESC LIMIT 1`, userID, key)
	m, err := scanMemory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, goerr.Wrap(ErrNotFound, "memory not found", goerr.V("user_id", userID), goerr.V("key", key))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "query memory", goerr.V("key", key))
	}
	if m.ExpiresAt != nil && !m.ExpiresAt.After(s.nowUTC()) {
		return nil, goerr.Wrap(ErrNotFound, "memory expired", goerr.V("user_id", userID), goerr.V("key", key))
	}
	return &m, nil
}

// Upsert writes a memory according to p.Mode:
//   - add creates the key; it is rejected when the key exists or the user is at capacity.
//   - update replaces summary and content of an existing key.
//   - merge appends content to an existing key and takes the new summary.
//
// update and merge on a missing key behave like add. Every write creates a new
// version superseding the previous one. Rejections are reported through
// UpsertResult, not as errors.
func (s *SQLiteStore) Upsert(ctx context.Context, userID string, p model.UpsertParams) (*model.UpsertResult, error) {
	if userID == "" {
		return nil, goerr.New("user_id is required")
	}
	if p.Key == "" {
		return nil, goerr.New("key is required", goerr.V("user_id", userID))
	}
	summary := model.Truncate(strings.TrimSpace(p.Summary), model.MaxSummaryLen)
	content := strings.TrimSpace(p.Content)
	if summary == "" || content == "" {
		return &model.UpsertResult{Success: false, Message: "summary and content are required"}, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, goerr.Wrap(err, "begin upsert")
	}
	defer tx.Rollback()

	prev, err := s.latest(ctx, tx, userID, p.Key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	switch p.Mode {
	case model.UpsertAdd, "":
		if prev != nil {
			return &model.UpsertResult{Success: false, Message: fmt.Sprintf("memory %q already exists", p.Key)}, nil
		}
	case model.UpsertUpdate:
	case model.UpsertMerge:
		if prev != nil {
			content = mergeContent(prev.Content, content)
		}
	default:
		return nil, goerr.New("unknown upsert mode", goerr.V("mode", p.Mode))
	}
	content = model.Truncate(content, model.MaxContentLen)

	if prev == nil {
		// Keys folded into this write are deleted right after it, so the
		// write does not grow the user's memory count.
		query := `SELECT COUNT(*) FROM (` + latestLive + `)`
		args := []any{userID, formatTime(s.nowUTC())}
		if folded := foldedKeys(p.Key, p.MergedFrom); len(folded) > 0 {
			query += ` WHERE key NOT IN (` + placeholders(len(folded)) + `)`
			for _, k := range folded {
				args = append(args, k)
			}
		}
		var count int
		if err := tx.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
			return nil, goerr.Wrap(err, "count memories", goerr.V("user_id", userID))
		}
		if count >= s.maxMemories {
			return &model.UpsertResult{
				Success: false,
				Message: fmt.Sprintf("memory limit reached (%d)", s.maxMemories),
			}, nil
		}
	}

	var maxVersion sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(version) FROM memories WHERE user_id = ? AND key = ?`,
		userID, p.Key).Scan(&maxVersion); err != nil {
		return nil, goerr.Wrap(err, "query version", goerr.V("key", p.Key))
	}

	now := s.nowUTC()
	id := s.newID()
	var supersedes *string
	if prev != nil {
		supersedes = &prev.ID
	}
	var expiresAt *string
	if p.TTL > 0 {
		exp := formatTime(now.Add(p.TTL))
		expiresAt = &exp
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO memories (id, user_id, key, summary, content, version, supersedes, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, userID, p.Key, summary, content, maxVersion.Int64+1, supersedes, formatTime(now), expiresAt)
	if err != nil {
		return nil, goerr.Wrap(err, "insert memory", goerr.V("key", p.Key))
	}

	if err := s.linkMergedFrom(ctx, tx, userID, id, p.Key, p.MergedFrom); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, goerr.Wrap(err, "commit upsert")
	}

	msg := "created"
	if prev != nil {
		msg = string(p.Mode) + "d"
		if p.Mode == model.UpsertMerge {
			msg = "merged"
		}
	}
	return &model.UpsertResult{Success: true, Message: msg}, nil
}

func foldedKeys(ownKey string, mergedFrom []string) []string {
	var keys []string
	for _, k := range mergedFrom {
		if k != "" && k != ownKey {
			keys = append(keys, k)
		}
	}
	return keys
}

func mergeContent(existing, incoming string) string {
	if existing == "" {
		return incoming
	}
	if strings.Contains(existing, incoming) {
		return existing
	}
	return existing + "\n" + incoming
}

// Delete soft-deletes every version of a key.
func (s *SQLiteStore) Delete(ctx context.Context, userID, key string) (*model.DeleteResult, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET deleted_at = ? WHERE user_id = ? AND key = ? AND deleted_at IS NULL`,
		formatTime(s.nowUTC()), userID, key)
	if err != nil {
		return nil, goerr.Wrap(err, "delete memory", goerr.V("user_id", userID), goerr.V("key", key))
	}
	n, _ := res.RowsAffected()
	return &model.DeleteResult{Success: n > 0}, nil
}

// CleanupStale hard-deletes temporary memories whose latest version has expired.
func (s *SQLiteStore) CleanupStale(ctx context.Context, userID string) (*model.CleanupResult, error) {
	now := formatTime(s.nowUTC())
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.key FROM memories m
		INNER JOIN (
			SELECT key, MAX(version) AS max_ver FROM memories
			WHERE user_id = ? AND deleted_at IS NULL GROUP BY key
		) latest ON m.key = latest.key AND m.version = latest.max_ver
		WHERE m.user_id = ? AND m.deleted_at IS NULL
		  AND m.expires_at IS NOT NULL AND m.expires_at <= ?
		ORDER BY m.key`, userID, userID, now)
	if err != nil {
		return nil, goerr.Wrap(err, "query stale memories", goerr.V("user_id", userID))
	}

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return nil, goerr.Wrap(err, "scan stale key")
		}
		keys = append(keys, key)
	}
	rows.Close()

	result := &model.CleanupResult{RemovedKeys: []string{}}
	if len(keys) == 0 {
		return result, nil
	}

	args := make([]any, 0, len(keys)+1)
	args = append(args, userID)
	for _, k := range keys {
		args = append(args, k)
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM memories WHERE user_id = ? AND key IN (`+placeholders(len(keys))+`)`, args...); err != nil {
		return nil, goerr.Wrap(err, "delete stale memories", goerr.V("user_id", userID))
	}

	result.Removed = len(keys)
	result.RemovedKeys = keys
	return result, nil
}
