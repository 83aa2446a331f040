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

// Package subagent implements the sub-agent manager of spec.md §4.H: a
// delegated task runs in its own child session, against a restricted tool
// set, with a report_back tool dynamically injected for the duration of
// that one invocation only.
package subagent

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/coda-run/coda/pkg/message"
	"github.com/coda-run/coda/pkg/model"
	"github.com/coda-run/coda/pkg/session"
	"github.com/coda-run/coda/pkg/task"
	"github.com/coda-run/coda/pkg/tool"
	"github.com/coda-run/coda/pkg/tool/controltool"
)

// Manager runs sub-agent delegations on behalf of a Task-style tool
// (spec.md §4.H). One Manager is shared across every session; each Run call
// creates its own child session, so concurrent delegations from different
// parent tasks don't interfere with each other.
type Manager struct {
	Store    *session.Store
	Task     *task.Executor
	Registry *tool.Registry
	LLM      model.LLM
	Config   *model.GenerateConfig
	Stream   bool

	// WorkingDir is the directory child sessions' file tools resolve
	// relative paths against; sub-agents share the parent's working tree.
	WorkingDir string

	// MaxDepth bounds how many levels deep delegation may go, preventing a
	// profile that re-delegates to itself from recursing forever. 0 refuses
	// every delegation; 1 allows sub-agents but no delegation from within
	// a sub-agent.
	MaxDepth int
}

// depthKey is the context key Run stashes the current delegation depth
// under, so a nested Run call can refuse once MaxDepth is reached.
type depthKey struct{}

// Run executes profile as a child session/task, per spec.md §4.H. It
// satisfies tool.SubtaskRunner and is installed as ExecutionContext.Subtask
// so a tasktool.Tool call reaches it through tool.Context.RunSubtask.
func (m *Manager) Run(ctx context.Context, profile tool.SubAgentProfile, prompt string) (tool.SubAgentResult, error) {
	depth, _ := ctx.Value(depthKey{}).(int)
	if depth >= m.MaxDepth {
		return tool.SubAgentResult{}, fmt.Errorf("subagent: max delegation depth %d reached", m.MaxDepth)
	}

	childID := uuid.NewString()
	if err := m.Store.Create(childID, message.Session{Model: m.LLM.Name()}); err != nil {
		return tool.SubAgentResult{}, fmt.Errorf("subagent: create child session: %w", err)
	}

	// report_back joins the allow-list so the tool registered just below is
	// visible to the child whatever AllowedTools names.
	allowed := append(append([]string(nil), profile.AllowedTools...), "report_back")
	registry := m.Registry.WithFilter(tool.StringPredicate(allowed))
	registry.Register(controltool.ReportBack(profile.OutputSchema))

	genConfig := m.Config.Clone()
	if profile.OutputSchema != nil {
		if genConfig == nil {
			genConfig = &model.GenerateConfig{}
		}
		genConfig.ResponseSchema = profile.OutputSchema
		genConfig.ResponseSchemaName = profile.Name
	}

	defs, err := registry.Definitions(ctx)
	if err != nil {
		return tool.SubAgentResult{}, fmt.Errorf("subagent: resolve tool definitions: %w", err)
	}

	childCtx := context.WithValue(ctx, depthKey{}, depth+1)

	result, err := m.Task.Run(childCtx, &task.ExecutionContext{
		SessionID: childID,
		TaskID:    uuid.NewString(),
		LLM:       m.LLM,
		GenConfig: genConfig,
		Stream:    m.Stream,
		Profile: task.Profile{
			SystemPrompt: profile.SystemPrompt,
			Tools:        defs,
		},
		ToolExecutor: tool.NewExecutor(registry),
		WorkingDir:   m.WorkingDir,
		Files:        tool.NewFileTracker(),
		Subtask:      m.Run,
		IsSubAgent:   true,
	}, message.UserMessage{Parts: []message.Part{message.TextPart{Text: prompt}}})
	if err != nil {
		return tool.SubAgentResult{SessionID: childID, Error: err.Error()}, nil
	}

	return tool.SubAgentResult{
		TaskResult:       result.TaskResult,
		SessionID:        childID,
		StructuredOutput: result.StructuredOutput,
	}, nil
}

// Ensure Manager.Run satisfies tool.SubtaskRunner's signature.
var _ tool.SubtaskRunner = (*Manager)(nil).Run
