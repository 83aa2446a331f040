package message

import "time"

// Session is the metadata record persisted as meta.json alongside a
// session's history.jsonl (spec.md §4.F/§6). The history log, not this
// struct, is the source of truth for conversation content; Session only
// carries the fields needed to resume, fork, or list sessions without
// replaying history. NextCheckpointID/MessagesCount/UserMessagesCount are
// re-derived from history on load rather than trusted blindly, since a
// crash between append_history's jsonl flush and its meta.json rename can
// leave meta one append behind (spec.md §4.F append_history contract).
type Session struct {
	ID                string         `json:"id"`
	ParentSessionID   string         `json:"parent_session_id,omitempty"`
	Title             string         `json:"title,omitempty"`
	Model             string         `json:"model"`
	ThinkingEnabled   bool           `json:"thinking_enabled"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	NextCheckpointID  int            `json:"next_checkpoint_id"`
	HistoryLength     int            `json:"history_length"`
	MessagesCount     int            `json:"messages_count"`
	UserMessagesCount int            `json:"user_messages_count"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}
