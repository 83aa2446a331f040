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

// Package tasktool provides the "task" tool a running agent calls to
// delegate a piece of work to a sub-agent (spec.md §4.C, §4.H). The tool
// itself only validates the requested profile name and args and forwards to
// tool.Context.RunSubtask; pkg/subagent supplies the actual RunSubtask
// implementation.
package tasktool

import (
	"fmt"
	"sort"

	"github.com/coda-run/coda/pkg/tool"
)

// New creates the task tool, restricted to delegating to one of the named
// profiles. profiles maps a profile name (as the LLM will refer to it) to
// its tool.SubAgentProfile.
func New(profiles map[string]tool.SubAgentProfile) tool.CallableTool {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return &taskTool{profiles: profiles, names: names}
}

type taskTool struct {
	profiles map[string]tool.SubAgentProfile
	names    []string
}

func (t *taskTool) Name() string { return "task" }

func (t *taskTool) Description() string {
	return "Delegates a piece of work to a sub-agent running with its own restricted tool set and system prompt. Use this for a self-contained sub-task whose result you need back, not for work you can do directly."
}

func (t *taskTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agent": map[string]any{
				"type":        "string",
				"description": "Which sub-agent profile to delegate to",
				"enum":        t.names,
			},
			"prompt": map[string]any{
				"type":        "string",
				"description": "The task to hand off, in enough detail for the sub-agent to complete it without further context",
			},
		},
		"required": []string{"agent", "prompt"},
	}
}

func (t *taskTool) Call(ctx tool.Context, args map[string]any) (map[string]any, error) {
	agentName, _ := args["agent"].(string)
	prompt, _ := args["prompt"].(string)

	profile, ok := t.profiles[agentName]
	if !ok {
		return nil, fmt.Errorf("tasktool: unknown sub-agent profile %q", agentName)
	}
	if prompt == "" {
		return nil, fmt.Errorf("tasktool: prompt is required")
	}

	result, err := ctx.RunSubtask(ctx, profile, prompt)
	if err != nil {
		return nil, fmt.Errorf("tasktool: delegate to %q: %w", agentName, err)
	}
	if result.Error != "" {
		return map[string]any{"status": "error", "error": result.Error}, nil
	}

	out := map[string]any{
		"status":     "completed",
		"session_id": result.SessionID,
		"result":     result.TaskResult,
	}
	if result.StructuredOutput != nil {
		out["structured_output"] = result.StructuredOutput
	}
	return out, nil
}

func (t *taskTool) IsLongRunning() bool    { return true }
func (t *taskTool) RequiresApproval() bool { return false }
func (t *taskTool) ParallelSafe() bool     { return false }

var _ tool.CallableTool = (*taskTool)(nil)
