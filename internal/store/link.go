package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/m-mizutani/goerr/v2"
)

// RelMergedFrom links a consolidated memory version to a memory it absorbed.
const RelMergedFrom = "merged_from"

// Link represents a relation between two memory versions.
type Link struct {
	FromID    string `json:"from_id"`
	ToID      string `json:"to_id"`
	ToKey     string `json:"to_key"`
	Rel       string `json:"rel"`
	CreatedAt string `json:"created_at"`
}

// linkMergedFrom records that the version fromID absorbed the latest versions
// of keys. Unknown keys and the memory's own key are ignored.
func (s *SQLiteStore) linkMergedFrom(ctx context.Context, tx *sql.Tx, userID, fromID, ownKey string, keys []string) error {
	now := formatTime(s.nowUTC())
	for _, key := range keys {
		if key == "" || key == ownKey {
			continue
		}
		var toID string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM memories WHERE user_id = ? AND key = ? AND deleted_at IS NULL
			 ORDER BY version DESC LIMIT 1`, userID, key).Scan(&toID)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return goerr.Wrap(err, "resolve merged memory", goerr.V("key", key))
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO memory_links (from_id, to_id, rel, created_at) VALUES (?, ?, ?, ?)`,
			fromID, toID, RelMergedFrom, now); err != nil {
			return goerr.Wrap(err, "insert memory link", goerr.V("from_id", fromID), goerr.V("to_id", toID))
		}
	}
	return nil
}

// Links returns the lineage of the latest version of key: every memory it was
// merged from, including ones that were deleted afterwards.
func (s *SQLiteStore) Links(ctx context.Context, userID, key string) ([]Link, error) {
	m, err := s.latest(ctx, s.db, userID, key)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT l.from_id, l.to_id, m.key, l.rel, l.created_at
		 FROM memory_links l JOIN memories m ON m.id = l.to_id
		 WHERE l.from_id = ? ORDER BY m.key`, m.ID)
	if err != nil {
		return nil, goerr.Wrap(err, "query memory links", goerr.V("key", key))
	}
	defer rows.Close()

	var links []Link
	for rows.Next() {
		var l Link
		if err := rows.Scan(&l.FromID, &l.ToID, &l.ToKey, &l.Rel, &l.CreatedAt); err != nil {
			return nil, goerr.Wrap(err, "scan memory link")
		}
		links = append(links, l)
	}
	return links, rows.Err()
}
