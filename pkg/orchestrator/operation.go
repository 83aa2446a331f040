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

package orchestrator

import (
	"github.com/coda-run/coda/pkg/message"
	"github.com/coda-run/coda/pkg/model"
	"github.com/coda-run/coda/pkg/task"
	"github.com/coda-run/coda/pkg/tool"
)

// Operation is the UI-to-core wire protocol's input half (spec.md §4.G):
// input-only, never persisted to session history.
type Operation interface {
	isOperation()
}

// UserInputPayload is a UserInput operation's content.
type UserInputPayload struct {
	Text   string
	Images []message.Part
}

// InitAgent creates or attaches to a session and binds the agent profile and
// model it should run with.
type InitAgent struct {
	SessionID    string
	Profile      task.Profile
	LLM          model.LLM
	Model        string
	ToolExecutor *tool.Executor
}

// UserInput is a user turn for an existing session.
type UserInput struct {
	SessionID string
	Input     UserInputPayload
}

// Interrupt cancels the session's active task, if any.
type Interrupt struct {
	SessionID string
}

// UserInteractionRespond resolves a pending interaction future raised by a
// human-in-the-loop tool (e.g. approval request).
type UserInteractionRespond struct {
	RequestID string
	Response  any
}

// ChangeModel swaps the LLM bound to a session for subsequent turns.
type ChangeModel struct {
	SessionID string
	LLM       model.LLM
	Model     string
}

// ChangeThinking toggles extended-thinking mode for a session.
type ChangeThinking struct {
	SessionID string
	Enabled   bool
}

// CompactSession forces a compaction pass outside the normal threshold check.
type CompactSession struct {
	SessionID string
}

// Fork branches a new session from an existing one at a given history index.
type Fork struct {
	SessionID string
	AtIndex   int
}

// End retires a session: cancels any active task and drops it from memory.
type End struct {
	SessionID string
}

func (InitAgent) isOperation()              {}
func (UserInput) isOperation()              {}
func (Interrupt) isOperation()              {}
func (UserInteractionRespond) isOperation() {}
func (ChangeModel) isOperation()            {}
func (ChangeThinking) isOperation()         {}
func (CompactSession) isOperation()         {}
func (Fork) isOperation()                   {}
func (End) isOperation()                    {}

var (
	_ Operation = InitAgent{}
	_ Operation = UserInput{}
	_ Operation = Interrupt{}
	_ Operation = UserInteractionRespond{}
	_ Operation = ChangeModel{}
	_ Operation = ChangeThinking{}
	_ Operation = CompactSession{}
	_ Operation = Fork{}
	_ Operation = End{}
)
