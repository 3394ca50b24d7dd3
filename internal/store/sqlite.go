package store

import (
	"database/sql"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/rcliao/ryos-memory/internal/model"
)

// SQLiteStore implements Memories and Notes using SQLite.
type SQLiteStore struct {
	db          *sql.DB
	entropyMu   sync.Mutex
	entropy     *rand.Rand
	maxMemories int
	now         func() time.Time
}

var (
	_ Memories = (*SQLiteStore)(nil)
	_ Notes    = (*SQLiteStore)(nil)
)

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, goerr.Wrap(err, "create db dir", goerr.V("dir", dir))
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, goerr.Wrap(err, "open db", goerr.V("path", dbPath))
	}

	s := &SQLiteStore{
		db:          db,
		entropy:     rand.New(rand.NewSource(time.Now().UnixNano())),
		maxMemories: DefaultMaxMemories,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, goerr.Wrap(err, "migrate")
	}

	return s, nil
}

// MaxMemories returns the per-user capacity enforced on add.
func (s *SQLiteStore) MaxMemories() int {
	return s.maxMemories
}

func (s *SQLiteStore) newID() string {
	s.entropyMu.Lock()
	defer s.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(s.now()), s.entropy).String()
}

func (s *SQLiteStore) nowUTC() time.Time {
	return s.now().UTC()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id          TEXT PRIMARY KEY,
		user_id     TEXT NOT NULL,
		key         TEXT NOT NULL,
		summary     TEXT NOT NULL,
		content     TEXT NOT NULL,
		version     INTEGER NOT NULL DEFAULT 1,
		supersedes  TEXT,
		created_at  TEXT NOT NULL,
		deleted_at  TEXT,
		expires_at  TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_memories_user_key ON memories(user_id, key);
	CREATE INDEX IF NOT EXISTS idx_memories_deleted ON memories(deleted_at);
	CREATE INDEX IF NOT EXISTS idx_memories_expires ON memories(expires_at);

	CREATE TABLE IF NOT EXISTS memory_links (
		from_id    TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
		to_id      TEXT NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
		rel        TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (from_id, to_id, rel)
	);
	CREATE INDEX IF NOT EXISTS idx_links_to ON memory_links(to_id);

	CREATE TABLE IF NOT EXISTS note_days (
		user_id      TEXT NOT NULL,
		date         TEXT NOT NULL,
		time_zone    TEXT NOT NULL DEFAULT 'UTC',
		processed_at TEXT,
		PRIMARY KEY (user_id, date)
	);
	CREATE INDEX IF NOT EXISTS idx_note_days_pending ON note_days(processed_at, date);

	CREATE TABLE IF NOT EXISTS note_entries (
		id        TEXT PRIMARY KEY,
		user_id   TEXT NOT NULL,
		date      TEXT NOT NULL,
		ts        INTEGER NOT NULL,
		content   TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_note_entries_day ON note_entries(user_id, date, ts);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// latestLive selects the newest non-deleted version of every key; expired rows
// are filtered by the caller-supplied timestamp.
const latestLive = `
	SELECT m.id, m.user_id, m.key, m.summary, m.content, m.version, m.supersedes,
	       m.created_at, m.deleted_at, m.expires_at
	FROM memories m
	INNER JOIN (
		SELECT user_id, key, MAX(version) AS max_ver
		FROM memories WHERE deleted_at IS NULL AND user_id = ?
		GROUP BY user_id, key
	) latest ON m.user_id = latest.user_id AND m.key = latest.key AND m.version = latest.max_ver
	WHERE m.deleted_at IS NULL AND (m.expires_at IS NULL OR m.expires_at > ?)`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(row scanner) (model.Memory, error) {
	var m model.Memory
	var supersedes, deletedAt, expiresAt sql.NullString
	var createdAt string

	err := row.Scan(
		&m.ID, &m.UserID, &m.Key, &m.Summary, &m.Content, &m.Version,
		&supersedes, &createdAt, &deletedAt, &expiresAt,
	)
	if err != nil {
		return m, err
	}

	m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if supersedes.Valid {
		m.Supersedes = supersedes.String
	}
	if deletedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, deletedAt.String)
		m.DeletedAt = &t
	}
	if expiresAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, expiresAt.String)
		m.ExpiresAt = &t
	}
	return m, nil
}

func scanMemories(rows *sql.Rows) ([]model.Memory, error) {
	defer rows.Close()
	var memories []model.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, goerr.Wrap(err, "scan memory")
		}
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "iterate memories")
	}
	return memories, nil
}

// formatTime renders timestamps so that lexical order equals time order.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
