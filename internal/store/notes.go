package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/ryos-memory/internal/model"
)

// AppendNote records a chat note under the local calendar day of at in loc and
// returns that day. Entries added to an already processed day are kept but the
// day is not reopened.
func (s *SQLiteStore) AppendNote(ctx context.Context, userID, content string, at time.Time, loc *time.Location) (string, error) {
	if userID == "" {
		return "", goerr.New("user_id is required")
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return "", goerr.New("note content is required", goerr.V("user_id", userID))
	}
	if loc == nil {
		loc = time.UTC
	}
	if at.IsZero() {
		at = s.now()
	}
	date := at.In(loc).Format(model.DateLayout)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", goerr.Wrap(err, "begin append note")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO note_days (user_id, date, time_zone) VALUES (?, ?, ?)
		 ON CONFLICT(user_id, date) DO UPDATE SET time_zone = excluded.time_zone`,
		userID, date, loc.String()); err != nil {
		return "", goerr.Wrap(err, "upsert note day", goerr.V("date", date))
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO note_entries (id, user_id, date, ts, content) VALUES (?, ?, ?, ?, ?)`,
		s.newID(), userID, date, at.UnixMilli(), content); err != nil {
		return "", goerr.Wrap(err, "insert note entry", goerr.V("date", date))
	}

	if err := tx.Commit(); err != nil {
		return "", goerr.Wrap(err, "commit append note")
	}
	return date, nil
}

// ListUnprocessedDays returns unprocessed days in [today-lookbackDays, today),
// where today is the current calendar day in loc. Days are ordered by date and
// carry their entries in timestamp order. Days without entries are omitted.
func (s *SQLiteStore) ListUnprocessedDays(ctx context.Context, userID string, lookbackDays int, loc *time.Location) ([]model.DailyNote, error) {
	if loc == nil {
		loc = time.UTC
	}
	now := s.now().In(loc)
	today := now.Format(model.DateLayout)
	from := now.AddDate(0, 0, -lookbackDays).Format(model.DateLayout)

	rows, err := s.db.QueryContext(ctx,
		`SELECT date, time_zone FROM note_days
		 WHERE user_id = ? AND processed_at IS NULL AND date >= ? AND date < ?
		 ORDER BY date`, userID, from, today)
	if err != nil {
		return nil, goerr.Wrap(err, "query unprocessed days", goerr.V("user_id", userID))
	}

	var days []model.DailyNote
	for rows.Next() {
		var d model.DailyNote
		if err := rows.Scan(&d.Date, &d.TimeZone); err != nil {
			rows.Close()
			return nil, goerr.Wrap(err, "scan note day")
		}
		days = append(days, d)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, goerr.Wrap(err, "iterate note days")
	}
	rows.Close()

	result := make([]model.DailyNote, 0, len(days))
	for _, d := range days {
		entries, err := s.dayEntries(ctx, userID, d.Date)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			continue
		}
		d.Entries = entries
		result = append(result, d)
	}
	return result, nil
}

func (s *SQLiteStore) dayEntries(ctx context.Context, userID, date string) ([]model.NoteEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, content FROM note_entries WHERE user_id = ? AND date = ? ORDER BY ts, id`,
		userID, date)
	if err != nil {
		return nil, goerr.Wrap(err, "query note entries", goerr.V("date", date))
	}
	defer rows.Close()

	var entries []model.NoteEntry
	for rows.Next() {
		var e model.NoteEntry
		if err := rows.Scan(&e.Timestamp, &e.Content); err != nil {
			return nil, goerr.Wrap(err, "scan note entry")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MarkProcessed stamps a day as consolidated. It is idempotent and creates the
// day row when it does not exist yet.
func (s *SQLiteStore) MarkProcessed(ctx context.Context, userID, date string) error {
	if _, err := time.Parse(model.DateLayout, date); err != nil {
		return goerr.Wrap(err, "invalid date", goerr.V("date", date))
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO note_days (user_id, date, processed_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id, date) DO UPDATE SET processed_at = COALESCE(note_days.processed_at, excluded.processed_at)`,
		userID, date, formatTime(s.nowUTC()))
	if err != nil {
		return goerr.Wrap(err, "mark day processed", goerr.V("user_id", userID), goerr.V("date", date))
	}
	return nil
}

// IsProcessed reports whether a day has been consolidated.
func (s *SQLiteStore) IsProcessed(ctx context.Context, userID, date string) (bool, error) {
	var processedAt sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT processed_at FROM note_days WHERE user_id = ? AND date = ?`, userID, date).Scan(&processedAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, goerr.Wrap(err, "query note day", goerr.V("date", date))
	}
	return processedAt.Valid, nil
}

// PendingUsers lists users that have at least one unprocessed day in
// [today-lookbackDays, today) of their own zone, the window ListUnprocessedDays
// returns. The time zone is the one recorded with the user's newest day.
func (s *SQLiteStore) PendingUsers(ctx context.Context, lookbackDays int) ([]model.PendingUser, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT d.user_id, d.date, latest.time_zone FROM note_days d
		 JOIN (
			SELECT user_id, time_zone FROM note_days n
			WHERE date = (SELECT MAX(date) FROM note_days WHERE user_id = n.user_id)
		 ) latest ON latest.user_id = d.user_id
		 WHERE d.processed_at IS NULL
		 ORDER BY d.user_id, d.date`)
	if err != nil {
		return nil, goerr.Wrap(err, "query pending users")
	}
	defer rows.Close()

	var users []model.PendingUser
	seen := map[string]bool{}
	for rows.Next() {
		var userID, date, tz string
		if err := rows.Scan(&userID, &date, &tz); err != nil {
			return nil, goerr.Wrap(err, "scan pending user")
		}
		if seen[userID] {
			continue
		}
		loc, err := time.LoadLocation(tz)
		if err != nil {
			loc = time.UTC
			tz = "UTC"
		}
		now := s.now().In(loc)
		if date >= now.Format(model.DateLayout) || date < now.AddDate(0, 0, -lookbackDays).Format(model.DateLayout) {
			continue
		}
		seen[userID] = true
		users = append(users, model.PendingUser{UserID: userID, TimeZone: tz})
	}
	return users, rows.Err()
}
