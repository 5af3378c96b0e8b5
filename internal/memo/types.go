package memo

import (
	"errors"
	"time"
)

// TimeLayout is the canonical due-time form, e.g. "2024-01-01 10:00".
const TimeLayout = "2006-01-02 15:04"

var (
	ErrNotFound   = errors.New("memo not found")
	ErrEmptyTitle = errors.New("memo title is required")
	ErrPersist    = errors.New("persist memos")
)

// Memo is a reminder derived from a conversation turn. Time is either empty
// (no due time) or, when the model followed instructions, TimeLayout.
type Memo struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Time      string    `json:"time"`
	Notified  bool      `json:"notified"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"created_at"`
}

// Patch lists the fields an Update merges; nil fields are left untouched.
type Patch struct {
	Title     *string `json:"title,omitempty"`
	Time      *string `json:"time,omitempty"`
	Notified  *bool   `json:"notified,omitempty"`
	Completed *bool   `json:"completed,omitempty"`
}

// Pending reports whether the scheduler may still fire for m.
func (m Memo) Pending() bool {
	return !m.Notified && !m.Completed && m.Time != ""
}

func String(v string) *string { return &v }

func Bool(v bool) *bool { return &v }
