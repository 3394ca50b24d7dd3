// Package model defines the core memory and daily-note data types.
package model

import (
	"time"
)

// Field ceilings shared by the extraction schema and the memory store.
const (
	MaxKeyLen     = 30
	MaxSummaryLen = 180
	MaxContentLen = 2000
)

// Memory represents one stored version of a long-term memory entry.
type Memory struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Key        string     `json:"key"`
	Summary    string     `json:"summary"`
	Content    string     `json:"content"`
	Version    int        `json:"version"`
	Supersedes string     `json:"supersedes,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// MemoryIndexEntry is the compact form of a memory shown to the extraction stage.
type MemoryIndexEntry struct {
	Key     string `json:"key"`
	Summary string `json:"summary"`
}

// MemoryIndex is a user's live memory keys with their summaries.
type MemoryIndex struct {
	Entries []MemoryIndexEntry `json:"memories"`
}

// Len returns the number of indexed memories. A nil index is empty.
func (x *MemoryIndex) Len() int {
	if x == nil {
		return 0
	}
	return len(x.Entries)
}

// Has reports whether key is present in the index.
func (x *MemoryIndex) Has(key string) bool {
	if x == nil {
		return false
	}
	for _, e := range x.Entries {
		if e.Key == key {
			return true
		}
	}
	return false
}

// MemoryDetail carries the full text of a single memory.
type MemoryDetail struct {
	Key     string `json:"key"`
	Summary string `json:"summary"`
	Content string `json:"content"`
}

// UpsertMode selects how a write treats an existing key.
type UpsertMode string

const (
	// UpsertAdd creates a new key and fails if it already exists.
	UpsertAdd UpsertMode = "add"
	// UpsertUpdate replaces summary and content of an existing key.
	UpsertUpdate UpsertMode = "update"
	// UpsertMerge appends new content to an existing key.
	UpsertMerge UpsertMode = "merge"
)

// UpsertParams holds parameters for writing a memory.
type UpsertParams struct {
	Key     string
	Summary string
	Content string
	Mode    UpsertMode
	// TTL makes the memory temporary; zero means permanent.
	TTL time.Duration
	// MergedFrom lists keys whose content was folded into this write.
	MergedFrom []string
}

// UpsertResult reports the outcome of a write. A rejected write is not an error.
type UpsertResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// DeleteResult reports the outcome of a delete.
type DeleteResult struct {
	Success bool `json:"success"`
}

// CleanupResult lists temporary memories removed because they expired.
type CleanupResult struct {
	Removed     int      `json:"removed"`
	RemovedKeys []string `json:"removed_keys"`
}

// Truncate shortens s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
