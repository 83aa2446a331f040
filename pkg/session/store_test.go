package session_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coda-run/coda/pkg/event"
	"github.com/coda-run/coda/pkg/message"
	"github.com/coda-run/coda/pkg/session"
)

func newStore(t *testing.T) *session.Store {
	t.Helper()
	store, err := session.NewStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestStore_CreateAndLoad(t *testing.T) {
	store := newStore(t)
	id := "sess-1"

	require.NoError(t, store.Create(id, message.Session{Model: "claude-sonnet-4"}))

	loaded, err := store.Load(id)
	require.NoError(t, err)
	assert.Equal(t, id, loaded.Meta.ID)
	assert.Equal(t, "claude-sonnet-4", loaded.Meta.Model)
	assert.Empty(t, loaded.History)
	assert.Equal(t, 0, loaded.Meta.HistoryLength)
}

func TestStore_AppendHistory_UpdatesCounters(t *testing.T) {
	store := newStore(t)
	id := "sess-2"
	require.NoError(t, store.Create(id, message.Session{Model: "gpt-5"}))

	now := time.Now()
	events := []message.HistoryEvent{
		message.TaskStartEntry{Index: 0, Timestamp: now, TaskID: "task-1"},
		message.MessageEntry{
			Index: 1, Timestamp: now, TaskID: "task-1",
			Message: message.UserMessage{Parts: []message.Part{message.TextPart{Text: "hi"}}},
		},
		message.MessageEntry{
			Index: 2, Timestamp: now, TaskID: "task-1",
			Message: message.AssistantMessage{
				Parts:      []message.Part{message.TextPart{Text: "hello"}},
				StopReason: message.StopReasonEndTurn,
			},
		},
	}

	meta, err := store.AppendHistory(id, events)
	require.NoError(t, err)
	assert.Equal(t, 3, meta.HistoryLength)
	assert.Equal(t, 2, meta.MessagesCount)
	assert.Equal(t, 1, meta.UserMessagesCount)

	loaded, err := store.Load(id)
	require.NoError(t, err)
	require.Len(t, loaded.History, 3)
	assert.Equal(t, 3, loaded.Meta.HistoryLength)
}

func TestStore_Fork(t *testing.T) {
	store := newStore(t)
	id := "sess-3"
	require.NoError(t, store.Create(id, message.Session{Model: "gpt-5"}))

	now := time.Now()
	events := []message.HistoryEvent{
		message.MessageEntry{Index: 0, Timestamp: now, Message: message.UserMessage{Parts: []message.Part{message.TextPart{Text: "a"}}}},
		message.MessageEntry{Index: 1, Timestamp: now, Message: message.UserMessage{Parts: []message.Part{message.TextPart{Text: "b"}}}},
		message.MessageEntry{Index: 2, Timestamp: now, Message: message.UserMessage{Parts: []message.Part{message.TextPart{Text: "c"}}}},
	}
	_, err := store.AppendHistory(id, events)
	require.NoError(t, err)

	forkID, err := store.Fork(id, 2)
	require.NoError(t, err)
	assert.NotEqual(t, id, forkID)

	loaded, err := store.Load(forkID)
	require.NoError(t, err)
	require.Len(t, loaded.History, 2)
	assert.Equal(t, id, loaded.Meta.ParentSessionID)

	entry, ok := loaded.History[0].(message.MessageEntry)
	require.True(t, ok)
	um, ok := entry.Message.(message.UserMessage)
	require.True(t, ok)
	assert.Equal(t, "a", message.JoinTextParts(um.Parts))
}

func TestStore_IterSessions_SortsByUpdatedAt(t *testing.T) {
	store := newStore(t)

	require.NoError(t, store.Create("older", message.Session{Model: "m"}))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, store.Create("newer", message.Session{Model: "m"}))

	sessions, err := store.IterSessions()
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "newer", sessions[0].ID)
	assert.Equal(t, "older", sessions[1].ID)
}

func TestStore_GetHistoryItem_UserMessage(t *testing.T) {
	store := newStore(t)
	id := "sess-4"
	require.NoError(t, store.Create(id, message.Session{Model: "m"}))

	now := time.Now()
	_, err := store.AppendHistory(id, []message.HistoryEvent{
		message.MessageEntry{
			Index: 0, Timestamp: now,
			Message: message.UserMessage{Parts: []message.Part{message.TextPart{Text: "hello there"}}},
		},
	})
	require.NoError(t, err)

	events, err := store.GetHistoryItem(id, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	um, ok := events[0].(event.UserMessageEvent)
	require.True(t, ok)
	assert.Equal(t, "hello there", um.Text)
}

func TestStore_GetHistoryItem_ToolResultResolvesName(t *testing.T) {
	store := newStore(t)
	id := "sess-5"
	require.NoError(t, store.Create(id, message.Session{Model: "m"}))

	now := time.Now()
	_, err := store.AppendHistory(id, []message.HistoryEvent{
		message.MessageEntry{
			Index: 0, Timestamp: now,
			Message: message.AssistantMessage{
				Parts: []message.Part{
					message.ToolCallPart{ID: "call_1", Name: "bash", Arguments: map[string]any{"command": "ls"}},
				},
				StopReason: message.StopReasonToolCalls,
			},
		},
		message.MessageEntry{
			Index: 1, Timestamp: now,
			Message: message.ToolResultMessage{ToolCallID: "call_1", Status: message.ToolResultSuccess, OutputText: "file1\nfile2"},
		},
	})
	require.NoError(t, err)

	events, err := store.GetHistoryItem(id, 1)
	require.NoError(t, err)
	require.Len(t, events, 1)
	tr, ok := events[0].(event.ToolResultEvent)
	require.True(t, ok)
	assert.Equal(t, "bash", tr.ToolName)
	assert.Equal(t, "file1\nfile2", tr.Content)
}

func TestStore_GetHistoryItem_IndexOutOfRange(t *testing.T) {
	store := newStore(t)
	id := "sess-6"
	require.NoError(t, store.Create(id, message.Session{Model: "m"}))

	_, err := store.GetHistoryItem(id, 0)
	assert.Error(t, err)
}

func TestStore_GetHistoryItem_Compaction(t *testing.T) {
	store := newStore(t)
	id := "sess-7"
	require.NoError(t, store.Create(id, message.Session{Model: "m"}))

	_, err := store.AppendHistory(id, []message.HistoryEvent{
		message.CompactionEntry{Index: 0, Timestamp: time.Now(), StartIndex: 0, EndIndex: 3, Summary: "did some stuff", TokensBefore: 500},
	})
	require.NoError(t, err)

	events, err := store.GetHistoryItem(id, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.IsType(t, event.CompactionStartEvent{}, events[0])
	end, ok := events[1].(event.CompactionEndEvent)
	require.True(t, ok)
	assert.Equal(t, "did some stuff", end.Summary)
}

func TestStore_GetHistoryItem_Backtrack(t *testing.T) {
	store := newStore(t)
	id := "sess-8"
	require.NoError(t, store.Create(id, message.Session{Model: "m"}))

	_, err := store.AppendHistory(id, []message.HistoryEvent{
		message.BacktrackEntry{Index: 0, Timestamp: time.Now(), ToIndex: 2, Reason: "wrong approach"},
	})
	require.NoError(t, err)

	events, err := store.GetHistoryItem(id, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	bt, ok := events[0].(event.BacktrackEvent)
	require.True(t, ok)
	assert.Equal(t, 2, bt.ToIndex)
	assert.Equal(t, "wrong approach", bt.Reason)
}

func TestStore_UpdateMeta(t *testing.T) {
	store := newStore(t)
	id := "sess-9"
	require.NoError(t, store.Create(id, message.Session{Model: "gpt-5"}))

	err := store.UpdateMeta(id, func(m *message.Session) {
		m.Model = "claude-opus-4"
		m.ThinkingEnabled = true
	})
	require.NoError(t, err)

	loaded, err := store.Load(id)
	require.NoError(t, err)
	assert.Equal(t, "claude-opus-4", loaded.Meta.Model)
	assert.True(t, loaded.Meta.ThinkingEnabled)
}
