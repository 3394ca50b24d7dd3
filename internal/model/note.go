package model

import "time"

// DateLayout is the calendar-day format of daily notes.
const DateLayout = "2006-01-02"

// NoteEntry is one raw chat note.
type NoteEntry struct {
	Timestamp int64  `json:"timestamp"` // epoch milliseconds
	Content   string `json:"content"`
}

// Time returns the entry timestamp in loc.
func (e NoteEntry) Time(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.UnixMilli(e.Timestamp).In(loc)
}

// DailyNote groups a user's notes for one local calendar day.
type DailyNote struct {
	Date     string      `json:"date"`
	TimeZone string      `json:"time_zone,omitempty"`
	Entries  []NoteEntry `json:"entries"`
}

// PendingUser is a user with at least one unprocessed past day.
type PendingUser struct {
	UserID   string `json:"user_id"`
	TimeZone string `json:"time_zone"`
}
