package store

import (
	"context"
	"os"

	"github.com/m-mizutani/goerr/v2"
)

// Stats holds database statistics, optionally scoped to one user.
type Stats struct {
	DBPath        string      `json:"db_path"`
	DBSizeBytes   int64       `json:"db_size_bytes"`
	MaxMemories   int         `json:"max_memories"`
	TotalVersions int         `json:"total_versions"`
	PendingDays   int         `json:"pending_days"`
	ProcessedDays int         `json:"processed_days"`
	Users         []UserStats `json:"users"`
}

// UserStats holds per-user counts.
type UserStats struct {
	UserID   string `json:"user_id"`
	Memories int    `json:"memories"`
	Versions int    `json:"versions"`
}

// Stats returns database statistics. An empty userID covers every user.
func (s *SQLiteStore) Stats(ctx context.Context, dbPath, userID string) (*Stats, error) {
	st := &Stats{DBPath: dbPath, MaxMemories: s.maxMemories, Users: []UserStats{}}

	if info, err := os.Stat(dbPath); err == nil {
		st.DBSizeBytes = info.Size()
	}

	filter := ""
	args := []any{}
	if userID != "" {
		filter = " AND user_id = ?"
		args = append(args, userID)
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories WHERE deleted_at IS NULL`+filter, args...).Scan(&st.TotalVersions); err != nil {
		return nil, goerr.Wrap(err, "count versions")
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM note_days WHERE processed_at IS NULL`+filter, args...).Scan(&st.PendingDays); err != nil {
		return nil, goerr.Wrap(err, "count pending days")
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM note_days WHERE processed_at IS NOT NULL`+filter, args...).Scan(&st.ProcessedDays); err != nil {
		return nil, goerr.Wrap(err, "count processed days")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, COUNT(DISTINCT key) AS keys, COUNT(*) AS versions
		FROM memories WHERE deleted_at IS NULL`+filter+`
		GROUP BY user_id ORDER BY keys DESC, user_id`, args...)
	if err != nil {
		return nil, goerr.Wrap(err, "query user stats")
	}
	defer rows.Close()

	for rows.Next() {
		var u UserStats
		if err := rows.Scan(&u.UserID, &u.Memories, &u.Versions); err != nil {
			return nil, goerr.Wrap(err, "scan user stats")
		}
		st.Users = append(st.Users, u)
	}

	return st, rows.Err()
}
