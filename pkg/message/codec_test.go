package message

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCodecRoundTripParts(t *testing.T) {
	parts := []Part{
		TextPart{Text: "hello"},
		ImageURLPart{URL: "https://example.com/x.png", MimeType: "image/png"},
		ThinkingTextPart{ID: "think_1", Text: "reasoning..."},
		ThinkingSignaturePart{ID: "think_1", Signature: "sig"},
		ToolCallPart{ID: "call_1", Name: "bash", Arguments: map[string]any{"command": "ls"}},
	}

	for _, p := range parts {
		data, err := EncodePart(p)
		require.NoError(t, err)

		got, err := DecodePart(data)
		require.NoError(t, err)
		require.Equal(t, p, got)
	}
}

func TestCodecRoundTripMessages(t *testing.T) {
	msgs := []Message{
		SystemMessage{Parts: []Part{TextPart{Text: "you are a helpful coding assistant"}}},
		DeveloperMessage{Parts: []Part{TextPart{Text: "reminder: stay on task"}}},
		UserMessage{Parts: []Part{TextPart{Text: "list files"}}},
		AssistantMessage{
			Parts:      []Part{TextPart{Text: "ok"}, ToolCallPart{ID: "c1", Name: "bash", Arguments: map[string]any{"command": "ls"}}},
			StopReason: StopReasonToolCalls,
		},
		ToolResultMessage{ToolCallID: "c1", ToolName: "bash", Status: ToolResultSuccess, OutputText: "file1\nfile2\n"},
	}

	for _, m := range msgs {
		data, err := EncodeMessage(m)
		require.NoError(t, err)

		got, err := DecodeMessage(data)
		require.NoError(t, err)
		require.Equal(t, m, got)
	}
}

func TestCodecRoundTripHistoryEvents(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	events := []HistoryEvent{
		TaskStartEntry{Index: 0, Timestamp: now, TaskID: "t1"},
		MessageEntry{Index: 1, Timestamp: now, TaskID: "t1", Message: UserMessage{Parts: []Part{TextPart{Text: "hi"}}}},
		CheckpointEntry{Index: 2, Timestamp: now, TaskID: "t1", Label: "before-turn-1"},
		CompactionEntry{Index: 3, Timestamp: now, StartIndex: 0, EndIndex: 2, Summary: "...", TokensBefore: 90000},
		BacktrackEntry{Index: 4, Timestamp: now, ToIndex: 1, Reason: "user requested redo"},
		TaskFinishEntry{Index: 5, Timestamp: now, TaskID: "t1", StopReason: StopReasonEndTurn},
	}

	for _, e := range events {
		data, err := EncodeHistoryEvent(e)
		require.NoError(t, err)

		got, err := DecodeHistoryEvent(data)
		require.NoError(t, err)
		require.Equal(t, e, got)
	}
}

func TestJoinTextParts(t *testing.T) {
	parts := []Part{
		TextPart{Text: "a"},
		ImageURLPart{URL: "x"},
		TextPart{Text: "b"},
	}
	require.Equal(t, "ab", JoinTextParts(parts))
}

func TestAttachDeveloperMessages(t *testing.T) {
	msgs := []Message{
		SystemMessage{Parts: []Part{TextPart{Text: "sys"}}},
		UserMessage{Parts: []Part{TextPart{Text: "q1"}}},
		AssistantMessage{Parts: []Part{TextPart{Text: "a1"}}, StopReason: StopReasonEndTurn},
		UserMessage{Parts: []Part{TextPart{Text: "q2"}}},
	}
	dev := []DeveloperMessage{{Parts: []Part{TextPart{Text: "reminder"}}}}

	out := AttachDeveloperMessages(msgs, dev)
	require.Len(t, out, 4, "developer message folds into the preceding UserMessage, no new message is added")

	um, ok := out[3].(UserMessage)
	require.True(t, ok)
	require.Equal(t, []Part{TextPart{Text: "q2"}, TextPart{Text: "reminder"}}, um.Parts)
}

func TestAttachDeveloperMessages_NoUserMessageAtAll_Synthesizes(t *testing.T) {
	msgs := []Message{SystemMessage{Parts: []Part{TextPart{Text: "sys"}}}}
	dev := []DeveloperMessage{{Parts: []Part{TextPart{Text: "reminder"}}}}

	out := AttachDeveloperMessages(msgs, dev)
	require.Len(t, out, 2)
	um, ok := out[1].(UserMessage)
	require.True(t, ok)
	require.Equal(t, dev[0].Parts, um.Parts)
}
