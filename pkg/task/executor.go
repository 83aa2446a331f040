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

package task

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/coda-run/coda/pkg/event"
	"github.com/coda-run/coda/pkg/message"
	"github.com/coda-run/coda/pkg/model"
	"github.com/coda-run/coda/pkg/session"
	"github.com/coda-run/coda/pkg/tool"
	"github.com/coda-run/coda/pkg/turn"
)

// Reminder is one entry of profile.reminders (spec.md §4.E): a developer
// note injected into a turn's input only, never persisted to history,
// conditioned on which iteration of the task loop is about to run.
type Reminder struct {
	Applies func(iteration int) bool
	Text    string
}

// Profile bundles the per-task configuration spec.md §4.E's
// TaskExecutionContext carries alongside the session/LLM/tools.
type Profile struct {
	SystemPrompt string
	Tools        []tool.Definition
	Reminders    []Reminder
}

// Config is the task executor's tunables, all named directly in spec.md
// §4.E/§4.F.
type Config struct {
	CheckpointEnabled        bool
	CompactionTokenThreshold int
	CompactionPrompt         string
	MaxTurnRetries           int
	RetryBackoff             func(attempt int) time.Duration
}

// ExecutionContext is spec.md §4.E's TaskExecutionContext.
type ExecutionContext struct {
	SessionID    string
	TaskID       string
	LLM          model.LLM
	GenConfig    *model.GenerateConfig
	Stream       bool
	Profile      Profile
	ToolExecutor *tool.Executor
	WorkingDir   string
	Files        *tool.FileTracker
	Subtask      tool.SubtaskRunner

	// IsSubAgent suppresses checkpointing for sub-agent tasks, per spec.md
	// §4.E's "if checkpoints-enabled and !sub_agent".
	IsSubAgent bool

	Sink func(event.Event) bool
}

// Result is spec.md §4.E's task result.
type Result struct {
	TaskResult       string
	StructuredOutput any
	Aborted          bool
}

// Executor runs the task loop of spec.md §4.E: one user input through one
// or more turns, to a final result.
type Executor struct {
	Store     *session.Store
	Turn      *turn.Executor
	Compactor *Compactor
	Tokens    *TokenCounter
	Config    Config

	// Sleep backs retry backoff; overridable in tests to avoid real delays.
	Sleep func(time.Duration)
}

// NewExecutor wires the task executor's collaborators.
func NewExecutor(store *session.Store, turnExec *turn.Executor, compactor *Compactor, tokens *TokenCounter, cfg Config) *Executor {
	if cfg.MaxTurnRetries <= 0 {
		cfg.MaxTurnRetries = 3
	}
	if cfg.RetryBackoff == nil {
		cfg.RetryBackoff = func(attempt int) time.Duration {
			return time.Duration(attempt) * 500 * time.Millisecond
		}
	}
	if compactor != nil && compactor.Prompt == "" {
		compactor.Prompt = cfg.CompactionPrompt
	}
	return &Executor{
		Store:     store,
		Turn:      turnExec,
		Compactor: compactor,
		Tokens:    tokens,
		Config:    cfg,
		Sleep:     time.Sleep,
	}
}

// appendState tracks the append-only index counter and the latest assistant
// text seen, across the task's Persist calls (turn-level) and the
// executor's own checkpoint/compaction/backtrack entries.
type appendState struct {
	store              *session.Store
	sessionID          string
	taskID             string
	nextIndex          int
	lastAssistantText  string
	nextCheckpointID   int
}

func (a *appendState) persistMessage(msg message.Message) error {
	entry := message.MessageEntry{Index: a.nextIndex, Timestamp: time.Now(), TaskID: a.taskID, Message: msg}
	if _, err := a.store.AppendHistory(a.sessionID, []message.HistoryEvent{entry}); err != nil {
		return err
	}
	a.nextIndex++
	if am, ok := msg.(message.AssistantMessage); ok {
		a.lastAssistantText = message.JoinTextParts(am.Parts)
	}
	return nil
}

func (a *appendState) appendCheckpoint() error {
	entry := message.CheckpointEntry{
		Index:     a.nextIndex,
		Timestamp: time.Now(),
		TaskID:    a.taskID,
		Label:     fmt.Sprintf("%d", a.nextCheckpointID),
	}
	if _, err := a.store.AppendHistory(a.sessionID, []message.HistoryEvent{entry}); err != nil {
		return err
	}
	a.nextIndex++
	a.nextCheckpointID++
	return nil
}

func (a *appendState) appendCompaction(startIndex, endIndex, tokensBefore int, summary string) error {
	entry := message.CompactionEntry{
		Index: a.nextIndex, Timestamp: time.Now(),
		StartIndex: startIndex, EndIndex: endIndex,
		Summary: summary, TokensBefore: tokensBefore,
	}
	if _, err := a.store.AppendHistory(a.sessionID, []message.HistoryEvent{entry}); err != nil {
		return err
	}
	a.nextIndex++
	return nil
}

func (a *appendState) appendBacktrack(toIndex int, reason string) error {
	entry := message.BacktrackEntry{Index: a.nextIndex, Timestamp: time.Now(), ToIndex: toIndex, Reason: reason}
	if _, err := a.store.AppendHistory(a.sessionID, []message.HistoryEvent{entry}); err != nil {
		return err
	}
	a.nextIndex++
	return nil
}

// Run drives ec.SessionID's task to completion, per spec.md §4.E's
// pseudocode.
func (e *Executor) Run(ctx context.Context, ec *ExecutionContext, userInput message.UserMessage) (Result, error) {
	e.emit(ec, event.TaskStartEvent{TaskID: ec.TaskID})

	loaded, err := e.Store.Load(ec.SessionID)
	if err != nil {
		return Result{}, fmt.Errorf("task: load session %s: %w", ec.SessionID, err)
	}

	a := &appendState{
		store:            e.Store,
		sessionID:        ec.SessionID,
		taskID:           ec.TaskID,
		nextIndex:        loaded.Meta.HistoryLength,
		nextCheckpointID: loaded.Meta.NextCheckpointID,
	}

	e.emit(ec, event.UserMessageEvent{Text: message.JoinTextParts(userInput.Parts), Images: countImages(userInput.Parts)})
	if err := a.persistMessage(userInput); err != nil {
		return Result{}, fmt.Errorf("task: persist user message: %w", err)
	}

	iteration := 0
	attempt := 0
	var result Result

	for {
		if ctx.Err() != nil {
			result.Aborted = true
			break
		}

		if e.Config.CheckpointEnabled && !ec.IsSubAgent {
			if err := a.appendCheckpoint(); err != nil {
				return Result{}, fmt.Errorf("task: checkpoint: %w", err)
			}
		}

		history, err := e.reloadHistory(ec.SessionID)
		if err != nil {
			return Result{}, err
		}

		if e.Config.CompactionTokenThreshold > 0 && e.Tokens != nil && e.Compactor != nil {
			if err := e.maybeCompact(ctx, ec, a, history); err != nil {
				return Result{}, err
			}
			history, err = e.reloadHistory(ec.SessionID)
			if err != nil {
				return Result{}, err
			}
		}

		var reminders []message.Message
		for _, r := range ec.Profile.Reminders {
			if r.Applies != nil && r.Applies(iteration) {
				reminders = append(reminders, message.DeveloperMessage{Parts: []message.Part{message.TextPart{Text: r.Text}}})
			}
		}

		turnResult, err := e.Turn.Run(ctx, &turn.ExecutionContext{
			LLM:          ec.LLM,
			Config:       ec.GenConfig,
			Stream:       ec.Stream,
			SystemPrompt: ec.Profile.SystemPrompt,
			Tools:        ec.Profile.Tools,
			Executor:     ec.ToolExecutor,
			History:      buildMessages(history),
			Reminders:    reminders,
			SessionID:    ec.SessionID,
			TaskID:       ec.TaskID,
			WorkingDir:   ec.WorkingDir,
			FilesDir:     e.Store.FilesDir(ec.SessionID),
			Files:        ec.Files,
			Subtask:      ec.Subtask,
			Persist:      a.persistMessage,
			Sink:         ec.Sink,
		})
		if err != nil {
			return Result{}, fmt.Errorf("task: turn execution: %w", err)
		}

		if ctx.Err() != nil {
			// A turn that completed without reporting TransientError can
			// still straddle a cancellation that landed mid-turn (e.g. the
			// assistant's final aborted message persisted, no tool calls in
			// flight); treat that the same as the top-of-loop check above.
			result.Aborted = true
			break
		}

		if turnResult.TransientError {
			attempt++
			if attempt > e.Config.MaxTurnRetries {
				e.emit(ec, event.ErrorEvent{Err: fmt.Errorf("task: retry budget exhausted"), Transient: true})
				result.Aborted = true
				break
			}
			if e.Sleep != nil {
				e.Sleep(e.Config.RetryBackoff(attempt))
			}
			continue
		}
		attempt = 0

		if turnResult.HasReportBack {
			b, err := json.Marshal(turnResult.ReportBackResult)
			if err != nil {
				return Result{}, fmt.Errorf("task: marshal report_back result: %w", err)
			}
			result.TaskResult = string(b)
			result.StructuredOutput = turnResult.ReportBackResult
			break
		}

		if !turnResult.HasToolCall {
			result.TaskResult = a.lastAssistantText
			break
		}

		if turnResult.HasBacktrack {
			if err := a.appendBacktrack(turnResult.BacktrackToIndex, turnResult.BacktrackReason); err != nil {
				return Result{}, fmt.Errorf("task: backtrack: %w", err)
			}
			iteration++
			continue
		}

		iteration++
	}

	if _, err := e.Store.AppendHistory(ec.SessionID, []message.HistoryEvent{
		message.TaskFinishEntry{
			Index: a.nextIndex, Timestamp: time.Now(), TaskID: ec.TaskID,
			StopReason: finishStopReason(result), Aborted: result.Aborted,
		},
	}); err != nil {
		return Result{}, fmt.Errorf("task: append task finish: %w", err)
	}

	e.emit(ec, event.TaskFinishEvent{
		TaskID: ec.TaskID, Result: result.TaskResult,
		StructuredOutput: result.StructuredOutput, Aborted: result.Aborted,
	})
	return result, nil
}

func finishStopReason(r Result) message.StopReason {
	if r.Aborted {
		return message.StopReasonAborted
	}
	return message.StopReasonEndTurn
}

func (e *Executor) reloadHistory(sessionID string) ([]message.HistoryEvent, error) {
	loaded, err := e.Store.Load(sessionID)
	if err != nil {
		return nil, fmt.Errorf("task: reload session %s: %w", sessionID, err)
	}
	return loaded.History, nil
}

// maybeCompact estimates the token cost of the logical history and, if it
// exceeds the configured threshold, summarizes the older half of history
// and appends a CompactionEntry (spec.md §4.F Compaction).
func (e *Executor) maybeCompact(ctx context.Context, ec *ExecutionContext, a *appendState, history []message.HistoryEvent) error {
	messages := buildMessages(history)
	tokensBefore := e.Tokens.CountHistory(messages)
	if tokensBefore <= e.Config.CompactionTokenThreshold {
		return nil
	}

	endIndex := len(history) / 2
	if endIndex == 0 {
		return nil
	}
	toSummarize := buildMessages(history[:endIndex])
	if len(toSummarize) == 0 {
		return nil
	}

	summary, err := e.Compactor.Summarize(ctx, toSummarize)
	if err != nil {
		return fmt.Errorf("task: compaction: %w", err)
	}

	return a.appendCompaction(0, historyIndex(history[endIndex-1])+1, tokensBefore, summary)
}

// ForceCompact runs a compaction pass for sessionID outside the normal
// threshold check, for the orchestrator's CompactSession operation
// (spec.md §4.G).
func (e *Executor) ForceCompact(ctx context.Context, sessionID string) error {
	if e.Compactor == nil || e.Tokens == nil {
		return fmt.Errorf("task: compaction not configured")
	}

	loaded, err := e.Store.Load(sessionID)
	if err != nil {
		return fmt.Errorf("task: force compact: load session %s: %w", sessionID, err)
	}
	history := loaded.History
	endIndex := len(history) / 2
	if endIndex == 0 {
		return nil
	}
	toSummarize := buildMessages(history[:endIndex])
	if len(toSummarize) == 0 {
		return nil
	}

	summary, err := e.Compactor.Summarize(ctx, toSummarize)
	if err != nil {
		return fmt.Errorf("task: force compaction: %w", err)
	}

	tokensBefore := e.Tokens.CountHistory(buildMessages(history))
	entry := message.CompactionEntry{
		Index: loaded.Meta.HistoryLength, Timestamp: time.Now(),
		StartIndex: 0, EndIndex: historyIndex(history[endIndex-1]) + 1,
		Summary: summary, TokensBefore: tokensBefore,
	}
	if _, err := e.Store.AppendHistory(sessionID, []message.HistoryEvent{entry}); err != nil {
		return fmt.Errorf("task: force compaction: append: %w", err)
	}
	return nil
}

func (e *Executor) emit(ec *ExecutionContext, ev event.Event) {
	if ec.Sink == nil {
		return
	}
	ec.Sink(ev)
}

func countImages(parts []message.Part) int {
	n := 0
	for _, p := range parts {
		switch p.(type) {
		case message.ImageURLPart, message.ImageFilePart:
			n++
		}
	}
	return n
}
