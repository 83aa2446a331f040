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

// Package orchestrator is the central message pump of spec.md §4.G: it
// dequeues Operations, attaches or creates sessions, and drives the task
// executor for each UserInput, serializing all mutation of a given session
// behind that session's own entry rather than a global lock.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/coda-run/coda/pkg/event"
	"github.com/coda-run/coda/pkg/message"
	"github.com/coda-run/coda/pkg/model"
	"github.com/coda-run/coda/pkg/session"
	"github.com/coda-run/coda/pkg/task"
	"github.com/coda-run/coda/pkg/tool"
)

// ErrSessionBusy is returned by Submit/WaitFor when a second UserInput
// arrives for a session that already has an active task (spec.md §5: "the
// orchestrator rejects it with an error event").
var ErrSessionBusy = errors.New("orchestrator: session has an active task")

// ErrUnknownSession is returned when an operation targets a session that
// was never attached via InitAgent.
var ErrUnknownSession = errors.New("orchestrator: unknown session")

// EventSink delivers one event for one session to the UI layer. It returns
// false to request no further events be delivered for that stream (mirrors
// the iterator "stop" convention used by pkg/turn and pkg/model).
type EventSink func(sessionID string, ev event.Event) bool

// SlashDispatcher recognizes and executes slash commands out of band from
// the task executor. A false handled return lets UserInput fall through to
// a normal task run.
type SlashDispatcher func(ctx context.Context, sessionID, text string) (handled bool, err error)

// sessionEntry is the orchestrator's per-session mutable state: the bound
// agent profile/model and the cancellation handle for its current task, if
// any. All fields are guarded by mu so a session's own operations serialize
// without blocking unrelated sessions.
type sessionEntry struct {
	mu           sync.Mutex
	busy         bool
	profile      task.Profile
	llm          model.LLM
	toolExecutor *tool.Executor
	cancel       context.CancelFunc
}

// pendingTask tracks one in-flight operation for WaitFor.
type pendingTask struct {
	done chan struct{}
	err  error
}

// Orchestrator is spec.md §4.G's central message pump.
type Orchestrator struct {
	store *session.Store
	exec  *task.Executor
	sink  EventSink
	slash SlashDispatcher

	// WorkingDir is the directory file tools resolve relative paths
	// against for every task this orchestrator drives.
	WorkingDir string

	// Subtask delegates a Task tool call to the sub-agent manager (spec.md
	// §4.H). nil disables sub-agent delegation entirely; a Task tool call
	// then reports an error instead of running.
	Subtask tool.SubtaskRunner

	// files tracks file content hashes across every session this
	// orchestrator drives (spec.md §4.C file_tracker); keyed internally by
	// session ID, so one instance safely serves every session.
	files *tool.FileTracker

	mu       sync.Mutex
	sessions map[string]*sessionEntry
	tasks    map[string]*pendingTask
	pending  map[string]chan any // request_id -> UserInteractionRespond delivery
}

// New builds an Orchestrator. sink and slash may be nil (no UI delivery, no
// slash-command handling, respectively).
func New(store *session.Store, exec *task.Executor, sink EventSink, slash SlashDispatcher) *Orchestrator {
	return &Orchestrator{
		store:    store,
		exec:     exec,
		sink:     sink,
		slash:    slash,
		files:    tool.NewFileTracker(),
		sessions: make(map[string]*sessionEntry),
		tasks:    make(map[string]*pendingTask),
		pending:  make(map[string]chan any),
	}
}

// Submit enqueues op for dispatch and returns its operation id immediately;
// it does not wait for the operation (or any task it starts) to finish. Use
// WaitFor to block on completion, mirroring the UI's "this round is done"
// contract from spec.md §4.G.
func (o *Orchestrator) Submit(ctx context.Context, op Operation) string {
	id := uuid.NewString()
	pt := &pendingTask{done: make(chan struct{})}

	o.mu.Lock()
	o.tasks[id] = pt
	o.mu.Unlock()

	go o.dispatch(ctx, id, pt, op)
	return id
}

// WaitFor blocks until the operation identified by opID (and any task it
// started) completes, or ctx is cancelled first.
func (o *Orchestrator) WaitFor(ctx context.Context, opID string) error {
	o.mu.Lock()
	pt, ok := o.tasks[opID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("orchestrator: unknown operation %s", opID)
	}

	select {
	case <-pt.done:
		return pt.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) complete(pt *pendingTask, err error) {
	pt.err = err
	close(pt.done)
}

func (o *Orchestrator) entry(sessionID string) (*sessionEntry, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	e, ok := o.sessions[sessionID]
	return e, ok
}

func (o *Orchestrator) dispatch(ctx context.Context, id string, pt *pendingTask, op Operation) {
	switch v := op.(type) {
	case InitAgent:
		o.handleInitAgent(v)
		o.complete(pt, nil)

	case UserInput:
		o.handleUserInput(ctx, id, pt, v)
		// handleUserInput completes pt itself, synchronously on rejection or
		// asynchronously once the background task finishes.

	case Interrupt:
		o.complete(pt, o.handleInterrupt(v))

	case UserInteractionRespond:
		o.complete(pt, o.handleRespond(v))

	case ChangeModel:
		o.complete(pt, o.handleChangeModel(v))

	case ChangeThinking:
		o.complete(pt, o.handleChangeThinking(v))

	case CompactSession:
		o.complete(pt, o.handleCompact(ctx, v))

	case Fork:
		o.complete(pt, o.handleFork(v))

	case End:
		o.complete(pt, o.handleEnd(v))

	default:
		o.complete(pt, fmt.Errorf("orchestrator: unknown operation type %T", op))
	}
}

func (o *Orchestrator) handleInitAgent(v InitAgent) {
	o.mu.Lock()
	e, ok := o.sessions[v.SessionID]
	if !ok {
		e = &sessionEntry{}
		o.sessions[v.SessionID] = e
	}
	o.mu.Unlock()

	e.mu.Lock()
	e.profile = v.Profile
	if v.LLM != nil {
		e.llm = v.LLM
	}
	if v.ToolExecutor != nil {
		e.toolExecutor = v.ToolExecutor
	}
	e.mu.Unlock()

	if _, err := o.store.Load(v.SessionID); err != nil {
		_ = o.store.Create(v.SessionID, message.Session{Model: v.Model})
	}
}

func (o *Orchestrator) handleUserInput(ctx context.Context, id string, pt *pendingTask, v UserInput) {
	e, ok := o.entry(v.SessionID)
	if !ok {
		o.complete(pt, ErrUnknownSession)
		return
	}

	e.mu.Lock()
	if e.busy {
		e.mu.Unlock()
		o.emit(v.SessionID, event.ErrorEvent{Err: ErrSessionBusy, Transient: false})
		o.complete(pt, ErrSessionBusy)
		return
	}
	e.busy = true
	taskCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	profile := e.profile
	llm := e.llm
	toolExecutor := e.toolExecutor
	e.mu.Unlock()

	o.emit(v.SessionID, event.UserMessageEvent{Text: v.Input.Text, Images: len(v.Input.Images)})

	if o.slash != nil {
		handled, err := o.slash(taskCtx, v.SessionID, v.Input.Text)
		if err != nil {
			o.finishUserInput(v.SessionID, e)
			o.complete(pt, err)
			return
		}
		if handled {
			err := o.appendPlainUserMessage(v.SessionID, v.Input)
			o.finishUserInput(v.SessionID, e)
			o.complete(pt, err)
			return
		}
	}

	if llm == nil {
		o.finishUserInput(v.SessionID, e)
		o.complete(pt, fmt.Errorf("orchestrator: session %s has no bound model", v.SessionID))
		return
	}

	go func() {
		defer o.finishUserInput(v.SessionID, e)

		ec := &task.ExecutionContext{
			SessionID:    v.SessionID,
			TaskID:       uuid.NewString(),
			LLM:          llm,
			Profile:      profile,
			ToolExecutor: toolExecutor,
			WorkingDir:   o.WorkingDir,
			Files:        o.files,
			Subtask:      o.Subtask,
			Sink:         func(ev event.Event) bool { return o.emit(v.SessionID, ev) },
		}

		parts := append([]message.Part{message.TextPart{Text: v.Input.Text}}, v.Input.Images...)
		_, err := o.exec.Run(taskCtx, ec, message.UserMessage{Parts: parts})
		o.complete(pt, err)
	}()
}

// appendPlainUserMessage persists a command-only UserInput (one the slash
// dispatcher fully handled) without starting a task.
func (o *Orchestrator) appendPlainUserMessage(sessionID string, input UserInputPayload) error {
	loaded, err := o.store.Load(sessionID)
	if err != nil {
		return fmt.Errorf("orchestrator: append user message: %w", err)
	}
	entry := message.MessageEntry{
		Index: loaded.Meta.HistoryLength, Timestamp: time.Now(),
		Message: message.UserMessage{Parts: append([]message.Part{message.TextPart{Text: input.Text}}, input.Images...)},
	}
	_, err = o.store.AppendHistory(sessionID, []message.HistoryEvent{entry})
	return err
}

func (o *Orchestrator) finishUserInput(sessionID string, e *sessionEntry) {
	e.mu.Lock()
	e.busy = false
	e.cancel = nil
	e.mu.Unlock()
}

func (o *Orchestrator) handleInterrupt(v Interrupt) error {
	e, ok := o.entry(v.SessionID)
	if !ok {
		return ErrUnknownSession
	}
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

func (o *Orchestrator) handleRespond(v UserInteractionRespond) error {
	o.mu.Lock()
	ch, ok := o.pending[v.RequestID]
	if ok {
		delete(o.pending, v.RequestID)
	}
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("orchestrator: no pending interaction %s", v.RequestID)
	}
	ch <- v.Response
	return nil
}

// RegisterInteraction installs a future for requestID and returns the
// channel it will be delivered on; a UserInteractionRespond operation
// carrying the same requestID resolves it. No event type announces such a
// request to the UI.
func (o *Orchestrator) RegisterInteraction(requestID string) <-chan any {
	ch := make(chan any, 1)
	o.mu.Lock()
	o.pending[requestID] = ch
	o.mu.Unlock()
	return ch
}

func (o *Orchestrator) handleChangeModel(v ChangeModel) error {
	e, ok := o.entry(v.SessionID)
	if !ok {
		return ErrUnknownSession
	}
	e.mu.Lock()
	if v.LLM != nil {
		e.llm = v.LLM
	}
	e.mu.Unlock()
	return o.store.UpdateMeta(v.SessionID, func(m *message.Session) {
		m.Model = v.Model
	})
}

func (o *Orchestrator) handleChangeThinking(v ChangeThinking) error {
	if _, ok := o.entry(v.SessionID); !ok {
		return ErrUnknownSession
	}
	return o.store.UpdateMeta(v.SessionID, func(m *message.Session) {
		m.ThinkingEnabled = v.Enabled
	})
}

func (o *Orchestrator) handleCompact(ctx context.Context, v CompactSession) error {
	if _, ok := o.entry(v.SessionID); !ok {
		return ErrUnknownSession
	}
	if o.exec.Compactor == nil || o.exec.Tokens == nil {
		return fmt.Errorf("orchestrator: compaction not configured")
	}
	o.emit(v.SessionID, event.CompactionStartEvent{})
	err := o.exec.ForceCompact(ctx, v.SessionID)
	o.emit(v.SessionID, event.CompactionEndEvent{})
	return err
}

func (o *Orchestrator) handleFork(v Fork) error {
	if _, ok := o.entry(v.SessionID); !ok {
		return ErrUnknownSession
	}
	_, err := o.store.Fork(v.SessionID, v.AtIndex)
	return err
}

func (o *Orchestrator) handleEnd(v End) error {
	e, ok := o.entry(v.SessionID)
	if !ok {
		return ErrUnknownSession
	}
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	o.mu.Lock()
	delete(o.sessions, v.SessionID)
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) emit(sessionID string, ev event.Event) bool {
	if o.sink == nil {
		return true
	}
	return o.sink(sessionID, ev)
}
