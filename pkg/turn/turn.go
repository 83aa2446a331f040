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

// Package turn implements the turn executor of spec.md §4.D: one LLM call
// plus zero-or-more tool calls. It forwards every model.StreamItem as a
// boundary-derived event.Event, persists the final AssistantMessage and any
// ToolResultMessages through the caller-supplied Persist callback, and
// reports whether the turn produced tool calls, a report_back result, or a
// transient failure the task executor (pkg/task) should retry.
package turn

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coda-run/coda/pkg/event"
	"github.com/coda-run/coda/pkg/message"
	"github.com/coda-run/coda/pkg/model"
	"github.com/coda-run/coda/pkg/tool"
)

const reportBackToolName = "report_back"

// backtrackSignalKey/backtrackReasonKey mirror controltool.Backtrack's
// signal keys; duplicated here (rather than importing controltool, which
// would cycle back through tool) as the two fixed string constants the two
// packages agree on.
const (
	backtrackSignalKey = "backtrack_to_index"
	backtrackReasonKey = "backtrack_reason"
)

// ExecutionContext is spec.md §4.D's TurnExecutionContext.
type ExecutionContext struct {
	LLM          model.LLM
	Config       *model.GenerateConfig
	Stream       bool
	SystemPrompt string
	Tools        []tool.Definition
	Executor     *tool.Executor

	// History is the session's prior messages, already compaction-substituted
	// by the caller (spec.md §4.F). Reminders is appended after History for
	// this turn only and is never persisted by the turn executor itself.
	History   []message.Message
	Reminders []message.Message

	SessionID  string
	TaskID     string
	WorkingDir string
	FilesDir   string

	// Files tracks content hashes recorded by read-like tools so edit tools
	// can detect a file was modified externally in between (spec.md §4.C
	// file_tracker). Shared across turns of the same task.
	Files *tool.FileTracker

	// Subtask lets a Task-style tool delegate to the sub-agent manager
	// (spec.md §4.C, §4.H). nil when no sub-agent manager is wired in.
	Subtask tool.SubtaskRunner

	// Persist appends one message to the session's durable history. Called
	// once for the assistant message and once per tool result, in order.
	Persist func(message.Message) error

	// Sink receives UI events as they are derived. Its return value is not
	// consulted: the turn executor keeps emitting and persisting either way.
	Sink func(event.Event) bool
}

// Result is spec.md §4.D's TurnResult.
type Result struct {
	TransientError   bool
	HasToolCall      bool
	HasReportBack    bool
	ReportBackResult any

	// HasBacktrack is set when a tool call signaled a pending backtrack
	// (controltool.Backtrack); the task executor (pkg/task) is responsible
	// for reverting history to BacktrackToIndex (spec.md §4.E).
	HasBacktrack     bool
	BacktrackToIndex int
	BacktrackReason  string
}

// Executor runs one turn.
type Executor struct{}

// NewExecutor creates a turn Executor.
func NewExecutor() *Executor {
	return &Executor{}
}

// Run executes one turn against ec, per spec.md §4.D steps 1-7.
func (e *Executor) Run(ctx context.Context, ec *ExecutionContext) (Result, error) {
	req := e.buildRequest(ec)

	finalMsg, usage, err := e.callModel(ctx, ec, req)
	if err != nil {
		return Result{}, err
	}
	if finalMsg == nil {
		// Stream ended without a final AssistantMessage: retry is the task
		// executor's responsibility (spec.md §4.D "Retry").
		return Result{TransientError: true}, nil
	}

	if err := ec.Persist(message.AssistantMessage{Parts: finalMsg.Parts, StopReason: finalMsg.StopReason}); err != nil {
		return Result{}, fmt.Errorf("turn: persist assistant message: %w", err)
	}
	e.emit(ec, event.ResponseMetadataEvent{Usage: usage, StopReason: finalMsg.StopReason})

	calls := extractToolCalls(finalMsg.Parts)
	if len(calls) == 0 {
		e.emit(ec, event.TurnEndEvent{HasToolCall: false})
		return Result{HasToolCall: false}, nil
	}

	result, err := e.runToolCalls(ctx, ec, calls)
	if err != nil {
		return Result{}, err
	}
	result.HasToolCall = true
	e.emit(ec, event.TurnEndEvent{HasToolCall: true})
	return result, nil
}

// buildRequest builds the [Message] input from the system prompt, session
// history, and this turn's reminders (spec.md §4.D step 1). Reminders are
// DeveloperMessages; attach_developer_messages folds them into the
// preceding user/tool message rather than sending them as messages of
// their own (spec.md §4.A, §4.B "never sent as a separate message").
func (e *Executor) buildRequest(ec *ExecutionContext) *model.Request {
	var messages []message.Message
	if ec.SystemPrompt != "" {
		messages = append(messages, message.SystemMessage{Parts: []message.Part{message.TextPart{Text: ec.SystemPrompt}}})
	}
	messages = append(messages, ec.History...)

	var developer []message.DeveloperMessage
	for _, r := range ec.Reminders {
		if d, ok := r.(message.DeveloperMessage); ok {
			developer = append(developer, d)
			continue
		}
		messages = append(messages, r)
	}
	messages = message.AttachDeveloperMessages(messages, developer)

	return &model.Request{
		Messages: messages,
		Tools:    ec.Tools,
		Config:   ec.Config,
	}
}

// streamState tracks which boundary block is currently open so kind
// switches and stream end emit the right …End event (spec.md §4.D step 3).
type streamState struct {
	openThinkingID string
	textOpen       bool
}

func (s *streamState) closeThinking(emit func(event.Event)) {
	if s.openThinkingID != "" {
		emit(event.ThinkingEndEvent{ID: s.openThinkingID})
		s.openThinkingID = ""
	}
}

func (s *streamState) closeText(emit func(event.Event)) {
	if s.textOpen {
		emit(event.AssistantTextEndEvent{})
		s.textOpen = false
	}
}

func (e *Executor) emit(ec *ExecutionContext, ev event.Event) {
	if ec.Sink == nil {
		return
	}
	ec.Sink(ev)
}

// callModel runs the streaming adapter and forwards each item as a UI
// event, returning the terminal AssistantMessage (spec.md §4.D steps 2-3).
func (e *Executor) callModel(ctx context.Context, ec *ExecutionContext, req *model.Request) (*message.AssistantMessage, model.Usage, error) {
	state := &streamState{}

	var finalMsg *message.AssistantMessage
	var usage model.Usage
	var streamErr error

	emit := func(ev event.Event) { e.emit(ec, ev) }

	for item, err := range ec.LLM.GenerateContent(ctx, req, ec.Stream) {
		if err != nil {
			streamErr = err
			continue
		}

		switch v := item.(type) {
		case model.ResponseStart:
			// No UI event; the first delta of any kind implies the turn began.

		case model.ThinkingDelta:
			state.closeText(emit)
			if state.openThinkingID != v.ID {
				state.closeThinking(emit)
				state.openThinkingID = v.ID
				emit(event.ThinkingStartEvent{ID: v.ID})
			}
			emit(event.ThinkingDeltaEvent{ID: v.ID, Delta: v.Delta})

		case model.ThinkingSignature:
			if state.openThinkingID == v.ID {
				emit(event.ThinkingEndEvent{ID: v.ID})
				state.openThinkingID = ""
			}

		case model.AssistantTextDelta:
			state.closeThinking(emit)
			if !state.textOpen {
				emit(event.AssistantTextStartEvent{})
				state.textOpen = true
			}
			emit(event.AssistantTextDeltaEvent{Delta: v.Delta})

		case model.ImageDelta:
			emit(event.AssistantImageDeltaEvent{Data: v.Data, MimeType: v.MimeType})

		case model.ToolCallStart:
			state.closeText(emit)
			state.closeThinking(emit)
			emit(event.ToolCallStartEvent{ID: v.ID, Name: v.Name})

		case model.ToolCallArgsDelta:
			// Internal only: the UI sees the assembled call via
			// ToolCallStartEvent/ToolResultEvent, not the raw JSON stream.

		case model.ToolCall:
			// Assembled into the terminal AssistantMessage's ToolCallPart;
			// nothing further to forward here.

		case model.AssistantMessage:
			state.closeText(emit)
			state.closeThinking(emit)
			msg := v.Message
			finalMsg = &msg
			usage = v.Usage

		case model.StreamError:
			streamErr = v.Err
		}
	}

	if ctx.Err() != nil && finalMsg == nil {
		// The adapter should itself have synthesized this (spec.md §4.B: on
		// cancellation it "must emit a synthetic AssistantMessage ... then
		// terminate"); this is the defensive fallback for an adapter that
		// only yielded a StreamError.
		aborted := message.AssistantMessage{StopReason: message.StopReasonAborted}
		return &aborted, usage, nil
	}
	if streamErr != nil && finalMsg == nil {
		return nil, model.Usage{}, nil
	}

	return finalMsg, usage, nil
}

// extractToolCalls pulls every ToolCallPart out of an assistant message's
// parts, in order (spec.md §4.D step 4).
func extractToolCalls(parts []message.Part) []tool.ToolCall {
	var calls []tool.ToolCall
	for _, p := range parts {
		if tc, ok := p.(message.ToolCallPart); ok {
			calls = append(calls, tool.ToolCall{ID: tc.ID, Name: tc.Name, Args: tc.Arguments})
		}
	}
	return calls
}

// runToolCalls executes calls via ec.Executor, persists each ToolResultMessage,
// and detects a successful report_back call (spec.md §4.D steps 5-6, §4.C).
func (e *Executor) runToolCalls(ctx context.Context, ec *ExecutionContext, calls []tool.ToolCall) (Result, error) {
	contexts := make([]tool.Context, len(calls))
	for i, c := range calls {
		contexts[i] = tool.NewContext(ctx, ec.SessionID, ec.TaskID, c.ID, ec.WorkingDir, ec.FilesDir, ec.Files, ec.Subtask)
	}

	results, err := ec.Executor.Execute(ctx, calls, contexts)
	if err != nil {
		return Result{}, fmt.Errorf("turn: tool execution: %w", err)
	}

	var result Result
	for i, r := range results {
		content := r.Content
		status := r.Status
		if status == "" {
			status = message.ToolResultSuccess
			if r.Error != "" {
				status = message.ToolResultError
			}
		}
		if status != message.ToolResultSuccess {
			content = r.Error
		}
		isError := status != message.ToolResultSuccess

		if err := ec.Persist(message.ToolResultMessage{
			ToolCallID: r.ToolCallID,
			ToolName:   calls[i].Name,
			Status:     status,
			OutputText: content,
		}); err != nil {
			return Result{}, fmt.Errorf("turn: persist tool result: %w", err)
		}

		e.emit(ec, event.ToolResultEvent{
			ToolCallID: r.ToolCallID,
			ToolName:   calls[i].Name,
			Content:    content,
			IsError:    isError,
			Aborted:    status == message.ToolResultAborted,
		})

		if !isError && calls[i].Name == reportBackToolName {
			if signals := contexts[i].Signals(); signals != nil {
				if args, ok := signals[reportBackToolName]; ok {
					result.HasReportBack = true
					result.ReportBackResult = normalizeReportBack(args)
				}
			}
		}

		if !isError && !result.HasBacktrack {
			if signals := contexts[i].Signals(); signals != nil {
				if toIndex, ok := signals[backtrackSignalKey].(int); ok {
					result.HasBacktrack = true
					result.BacktrackToIndex = toIndex
					if reason, ok := signals[backtrackReasonKey].(string); ok {
						result.BacktrackReason = reason
					}
				}
			}
		}
	}

	return result, nil
}

// normalizeReportBack round-trips args through JSON so the task executor
// (pkg/task) can json.Marshal it back out unchanged for task_result
// (spec.md §4.E: "task_result = json.dumps(turn.report_back_result)").
func normalizeReportBack(args any) any {
	b, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return args
	}
	return v
}
