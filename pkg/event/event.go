// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package event defines the UI event sealed union spec.md §4.D/§4.E/§4.G
// describe: the turn executor remaps model.StreamItem into boundary events,
// the task executor adds task-lifecycle events, and the orchestrator adds
// operation-lifecycle events, all flowing through one sink to the terminal
// UI (or the HTTP/SSE bridge in pkg/server). Session replay
// (get_history_item, spec.md §4.F) produces the same Event types from
// stored HistoryEvents, so a terminal renders a live turn and a replayed
// one through one code path.
package event

import (
	"github.com/coda-run/coda/pkg/message"
	"github.com/coda-run/coda/pkg/model"
)

// Event is the sealed union of everything the UI can receive.
type Event interface {
	isEvent()
}

// ThinkingStartEvent marks the first delta of a reasoning block.
type ThinkingStartEvent struct {
	ID string
}

func (ThinkingStartEvent) isEvent() {}

// ThinkingDeltaEvent carries an incremental chunk of reasoning text.
type ThinkingDeltaEvent struct {
	ID    string
	Delta string
}

func (ThinkingDeltaEvent) isEvent() {}

// ThinkingEndEvent marks the end of a reasoning block (signature received,
// or a kind switch/stream end cut it short).
type ThinkingEndEvent struct {
	ID string
}

func (ThinkingEndEvent) isEvent() {}

// AssistantTextStartEvent marks the first delta of visible assistant text.
type AssistantTextStartEvent struct{}

func (AssistantTextStartEvent) isEvent() {}

// AssistantTextDeltaEvent carries an incremental chunk of visible text.
type AssistantTextDeltaEvent struct {
	Delta string
}

func (AssistantTextDeltaEvent) isEvent() {}

// AssistantTextEndEvent marks the end of the visible text block.
type AssistantTextEndEvent struct{}

func (AssistantTextEndEvent) isEvent() {}

// AssistantImageDeltaEvent carries inline image bytes produced by the model.
type AssistantImageDeltaEvent struct {
	Data     []byte
	MimeType string
}

func (AssistantImageDeltaEvent) isEvent() {}

// ToolCallStartEvent announces a tool call the model requested, before its
// arguments have finished streaming. It carries only the call ID and tool
// name: the argument JSON is not forwarded as events, and the matching
// ToolResultEvent carries the tool's output, not its arguments.
type ToolCallStartEvent struct {
	ID   string
	Name string
}

func (ToolCallStartEvent) isEvent() {}

// ToolResultEvent reports a finished tool invocation.
type ToolResultEvent struct {
	ToolCallID string
	ToolName   string
	Content    string
	IsError    bool
	Aborted    bool
}

func (ToolResultEvent) isEvent() {}

// ResponseMetadataEvent carries token usage and the stop reason for a
// completed assistant turn.
type ResponseMetadataEvent struct {
	Usage      model.Usage
	StopReason message.StopReason
}

func (ResponseMetadataEvent) isEvent() {}

// TurnEndEvent marks the end of one turn executor run (spec.md §4.D step 7).
type TurnEndEvent struct {
	HasToolCall bool
}

func (TurnEndEvent) isEvent() {}

// UserMessageEvent echoes the user input that started a task.
type UserMessageEvent struct {
	Text   string
	Images int
}

func (UserMessageEvent) isEvent() {}

// TaskStartEvent marks the beginning of a task (spec.md §4.E).
type TaskStartEvent struct {
	TaskID string
}

func (TaskStartEvent) isEvent() {}

// TaskFinishEvent marks task completion, successful, cancelled, or errored.
type TaskFinishEvent struct {
	TaskID           string
	Result           string
	StructuredOutput any
	Aborted          bool
}

func (TaskFinishEvent) isEvent() {}

// CompactionStartEvent marks the beginning of a compaction pass (spec.md
// §4.F/§6).
type CompactionStartEvent struct{}

func (CompactionStartEvent) isEvent() {}

// CompactionEndEvent marks the end of a compaction pass.
type CompactionEndEvent struct {
	Summary string
}

func (CompactionEndEvent) isEvent() {}

// BacktrackEvent reports a history rewind triggered by the backtrack
// control tool (spec.md §6 Replay: "BacktrackEntry -> BacktrackEvent").
type BacktrackEvent struct {
	ToIndex int
	Reason  string
}

func (BacktrackEvent) isEvent() {}

// InterruptEvent marks a user-initiated cancellation reaching the UI,
// emitted alongside the ToolResultEvent/TaskFinishEvent whose Aborted flag
// it explains (spec.md §6: "internal 'aborted' is surfaced as 'error' plus
// a separate InterruptEvent").
type InterruptEvent struct {
	SessionID string
}

func (InterruptEvent) isEvent() {}

// ErrorEvent reports a non-recoverable failure. Transient is set when the
// task executor's retry budget was exhausted rather than the task itself
// failing outright.
type ErrorEvent struct {
	Err       error
	Transient bool
}

func (ErrorEvent) isEvent() {}
