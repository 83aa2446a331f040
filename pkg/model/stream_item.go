package model

import "github.com/coda-run/coda/pkg/message"

// StreamItem is the sealed union of the ten stream-item kinds spec.md §4.B
// names. Exactly one concrete type backs each kind; callers type-switch on
// the value returned by the GenerateContent iterator.
type StreamItem interface {
	isStreamItem()
}

// ResponseStart marks the beginning of a new assistant turn.
type ResponseStart struct{}

func (ResponseStart) isStreamItem() {}

// ThinkingDelta is an incremental chunk of reasoning text for the thinking
// block identified by ID.
type ThinkingDelta struct {
	ID    string
	Delta string
}

func (ThinkingDelta) isStreamItem() {}

// ThinkingSignature carries the provider's verification signature for a
// completed thinking block. Always follows that block's ThinkingDelta items.
type ThinkingSignature struct {
	ID        string
	Signature string
}

func (ThinkingSignature) isStreamItem() {}

// AssistantTextDelta is an incremental chunk of visible assistant text.
type AssistantTextDelta struct {
	Delta string
}

func (AssistantTextDelta) isStreamItem() {}

// ImageDelta carries inline image bytes produced by the model (rare, but
// named explicitly so multimodal providers have a home for it).
type ImageDelta struct {
	Data     []byte
	MimeType string
}

func (ImageDelta) isStreamItem() {}

// ToolCallStart announces a new tool call by ID and name, before any
// argument bytes have arrived.
type ToolCallStart struct {
	ID   string
	Name string
}

func (ToolCallStart) isStreamItem() {}

// ToolCallArgsDelta is an incremental chunk of a tool call's JSON arguments.
type ToolCallArgsDelta struct {
	ID    string
	Delta string
}

func (ToolCallArgsDelta) isStreamItem() {}

// ToolCall is the fully-assembled tool call, emitted once its arguments JSON
// is complete and parsed.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

func (ToolCall) isStreamItem() {}

// AssistantMessage is the single terminal item of a successful stream: the
// fully assembled message.AssistantMessage plus usage statistics.
type AssistantMessage struct {
	Message message.AssistantMessage
	Usage   Usage
}

func (AssistantMessage) isStreamItem() {}

// StreamError is the terminal item of a failed or cancelled stream. It is
// mutually exclusive with AssistantMessage: a stream ends with exactly one
// of the two, never both.
type StreamError struct {
	Err error
}

func (StreamError) isStreamItem() {}
