package message

// Message is the sealed union of conversation turns sent to or received from
// an LLM: SystemMessage, DeveloperMessage, UserMessage, AssistantMessage,
// ToolResultMessage.
type Message interface {
	isMessage()
}

// SystemMessage carries the top-level system instruction. At most one is
// sent per LLMCallParameter; providers place it according to their own
// wire convention (system field, or first item in an input list).
type SystemMessage struct {
	Parts []Part `json:"parts"`
}

func (SystemMessage) isMessage() {}

// DeveloperMessage is operator-authored guidance attached mid-conversation
// (reminders, compaction notices, stale-file warnings). It carries text
// and/or images as Parts, and is never sent to a provider as its own
// message: attach_developer_messages (spec.md §4.A) folds it into the
// preceding user/tool message as an attachment.
type DeveloperMessage struct {
	Parts []Part `json:"parts"`
}

func (DeveloperMessage) isMessage() {}

// UserMessage is human input, one or more Parts (text and/or images).
type UserMessage struct {
	Parts []Part `json:"parts"`
}

func (UserMessage) isMessage() {}

// AssistantMessage is the model's response: text, thinking, and/or tool
// calls, plus the stop reason the adapter derived from the provider.
type AssistantMessage struct {
	Parts      []Part     `json:"parts"`
	StopReason StopReason `json:"stop_reason"`
}

func (AssistantMessage) isMessage() {}

// ToolResultStatus is the outcome of a single tool invocation, per spec.md
// §4.C. Aborted is reserved strictly for user-interrupt cancellation; a
// tool-reported failure or timeout is always Error, never Aborted, so the
// task loop's retry logic can tell the two apart.
type ToolResultStatus string

const (
	ToolResultSuccess ToolResultStatus = "success"
	ToolResultError   ToolResultStatus = "error"
	ToolResultAborted ToolResultStatus = "aborted"
)

// ToolResultMessage carries the result of executing a single ToolCallPart
// back to the model. Text output always lives in OutputText (the
// tool-text invariant, spec.md §8): Parts never holds a TextPart, only
// non-text content such as images a tool chose to attach.
type ToolResultMessage struct {
	ToolCallID   string           `json:"call_id"`
	ToolName     string           `json:"tool_name"`
	Status       ToolResultStatus `json:"status"`
	OutputText   string           `json:"output_text"`
	Parts        []Part           `json:"parts,omitempty"`
	UIExtra      map[string]any   `json:"ui_extra,omitempty"`
	SideEffects  []string         `json:"side_effects,omitempty"`
	TaskMetadata map[string]any   `json:"task_metadata,omitempty"`
}

func (ToolResultMessage) isMessage() {}

// IsError reports whether the result is anything other than success,
// matching the coarse success/failure split callers outside the tool
// executor (turn/task retry logic) usually care about.
func (t ToolResultMessage) IsError() bool {
	return t.Status == ToolResultError || t.Status == ToolResultAborted
}

// StopReason is why the model stopped generating, per spec.md §4.B.
type StopReason string

const (
	StopReasonEndTurn   StopReason = "end_turn"
	StopReasonToolCalls StopReason = "tool_calls"
	StopReasonLength    StopReason = "length"
	StopReasonStopSeq   StopReason = "stop_sequence"
	StopReasonAborted   StopReason = "aborted"
)

// AttachDeveloperMessages folds each developer-authored message (reminders,
// compaction notices) into the nearest preceding UserMessage or
// ToolResultMessage as an out-of-band attachment, per spec.md §4.A's
// attach_developer_messages contract: a DeveloperMessage is never sent to a
// provider as a message of its own. A DeveloperMessage with no preceding
// user/tool message anywhere in msgs is synthesized as a new trailing
// UserMessage.
func AttachDeveloperMessages(msgs []Message, developer []DeveloperMessage) []Message {
	if len(developer) == 0 {
		return msgs
	}

	out := make([]Message, len(msgs))
	copy(out, msgs)
	for _, d := range developer {
		out = attachOne(out, d)
	}
	return out
}

func attachOne(msgs []Message, d DeveloperMessage) []Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		switch v := msgs[i].(type) {
		case UserMessage:
			v.Parts = append(append([]Part{}, v.Parts...), d.Parts...)
			msgs[i] = v
			return msgs
		case ToolResultMessage:
			v.Parts = append(append([]Part{}, v.Parts...), d.Parts...)
			msgs[i] = v
			return msgs
		}
	}

	return append(msgs, UserMessage{Parts: d.Parts})
}
