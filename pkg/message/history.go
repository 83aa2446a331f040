package message

import "time"

// HistoryEvent is the sealed union of records appended to a session's
// history.jsonl, per spec.md §3/§6. The session store only ever appends;
// it never rewrites or deletes a record.
type HistoryEvent interface {
	isHistoryEvent()
}

// MessageEntry records a single Message exchanged during a turn.
type MessageEntry struct {
	Index     int       `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	TaskID    string    `json:"task_id"`
	Message   Message   `json:"message"`
}

func (MessageEntry) isHistoryEvent() {}

// TaskStartEntry marks the beginning of a task (spec.md §4.E step 1).
type TaskStartEntry struct {
	Index     int       `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	TaskID    string    `json:"task_id"`
}

func (TaskStartEntry) isHistoryEvent() {}

// TaskFinishEntry marks task completion, successful or not.
type TaskFinishEntry struct {
	Index      int        `json:"index"`
	Timestamp  time.Time  `json:"timestamp"`
	TaskID     string     `json:"task_id"`
	StopReason StopReason `json:"stop_reason"`
	Aborted    bool       `json:"aborted"`
}

func (TaskFinishEntry) isHistoryEvent() {}

// CheckpointEntry records a resumable point within a task, captured before
// each turn per spec.md §4.E step 2.
type CheckpointEntry struct {
	Index     int       `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	TaskID    string    `json:"task_id"`
	Label     string    `json:"label,omitempty"`
}

func (CheckpointEntry) isHistoryEvent() {}

// CompactionEntry records that history up to and including EndIndex was
// replaced by Summary. Backtracking past EndIndex is forbidden (spec.md §9
// open question, resolved in SPEC_FULL.md §9.3).
type CompactionEntry struct {
	Index      int       `json:"index"`
	Timestamp  time.Time `json:"timestamp"`
	StartIndex int       `json:"start_index"`
	EndIndex   int       `json:"end_index"`
	Summary    string    `json:"summary"`
	TokensBefore int     `json:"tokens_before"`
}

func (CompactionEntry) isHistoryEvent() {}

// BacktrackEntry records that the session was restored to the state as of
// ToIndex, discarding nothing physically (append-only) but marking every
// entry after ToIndex as superseded for replay purposes.
type BacktrackEntry struct {
	Index     int       `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	ToIndex   int       `json:"to_index"`
	Reason    string    `json:"reason,omitempty"`
}

func (BacktrackEntry) isHistoryEvent() {}
