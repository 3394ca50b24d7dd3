package store

import (
	"context"
	"sort"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/ryos-memory/internal/model"
)

// ExportAll returns every non-deleted version of a user's memories, ordered by key and version.
func (s *SQLiteStore) ExportAll(ctx context.Context, userID string) ([]model.Memory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, key, summary, content, version, supersedes, created_at, deleted_at, expires_at
		 FROM memories WHERE user_id = ? AND deleted_at IS NULL ORDER BY key, version`, userID)
	if err != nil {
		return nil, goerr.Wrap(err, "query export", goerr.V("user_id", userID))
	}
	memories, err := scanMemories(rows)
	if err != nil {
		return nil, err
	}
	if memories == nil {
		memories = []model.Memory{}
	}
	return memories, nil
}

// Import replays exported memories for userID. Versions of the same key are
// applied oldest first: the first becomes an add, later ones updates.
// Rejected writes (for example over capacity) are skipped and not counted.
func (s *SQLiteStore) Import(ctx context.Context, userID string, memories []model.Memory) (int, error) {
	sorted := make([]model.Memory, len(memories))
	copy(sorted, memories)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Key != sorted[j].Key {
			return sorted[i].Key < sorted[j].Key
		}
		return sorted[i].Version < sorted[j].Version
	})

	imported := 0
	for _, m := range sorted {
		res, err := s.Upsert(ctx, userID, model.UpsertParams{
			Key:     m.Key,
			Summary: m.Summary,
			Content: m.Content,
			Mode:    model.UpsertUpdate,
		})
		if err != nil {
			return imported, err
		}
		if res.Success {
			imported++
		}
	}
	return imported, nil
}
