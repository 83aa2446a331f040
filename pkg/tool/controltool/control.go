// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package controltool provides control flow tools for agent reasoning loops.
//
// These tools let agents signal control-flow intent for the reasoning loop:
//   - exit_loop: Signal task completion and exit the loop
//   - escalate: Escalate to a parent agent when stuck or needing help
//   - transfer_to: Transfer control to another agent
//
// Following adk-go patterns, these tools work by setting signals on the
// tool.Context. pkg/turn acts only on the report_back and backtrack
// signals; the exit_loop, escalate and transfer_to signals are recorded but
// nothing in this module reads them.
package controltool

import (
	"github.com/coda-run/coda/pkg/tool"
)

// ExitLoop creates a tool that allows the agent to explicitly exit the reasoning loop.
// When called, it records the skip_summarization and exit_loop signals;
// pkg/turn does not act on either, so the call itself does not end the loop.
//
// Usage in instruction:
//
//	Call `exit_loop` when your task is complete and you have a final answer.
func ExitLoop() tool.CallableTool {
	return &exitLoopTool{}
}

type exitLoopTool struct{}

func (t *exitLoopTool) Name() string {
	return "exit_loop"
}

func (t *exitLoopTool) Description() string {
	return "Exits the reasoning loop. Call this when your task is complete and you have a final answer to provide."
}

func (t *exitLoopTool) Schema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func (t *exitLoopTool) Call(ctx tool.Context, args map[string]any) (map[string]any, error) {
	ctx.Signal("skip_summarization", true)
	ctx.Signal("exit_loop", true)
	return map[string]any{
		"status":  "completed",
		"message": "Task marked as complete. Exiting reasoning loop.",
	}, nil
}

func (t *exitLoopTool) IsLongRunning() bool {
	return false
}

func (t *exitLoopTool) RequiresApproval() bool {
	return false
}

func (t *exitLoopTool) ParallelSafe() bool {
	return false
}

// Escalate creates a tool that allows the agent to escalate to a parent agent.
// When called, it records the escalate, skip_summarization and
// escalate_reason signals; pkg/turn does not act on them.
//
// Usage in instruction:
//
//	Call `escalate` if you need help, are stuck, or the task is outside your capabilities.
func Escalate() tool.CallableTool {
	return &escalateTool{}
}

type escalateTool struct{}

func (t *escalateTool) Name() string {
	return "escalate"
}

func (t *escalateTool) Description() string {
	return "Escalates to a higher-level agent. Call this when you need help, are stuck, or the task is outside your capabilities."
}

func (t *escalateTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"reason": map[string]any{
				"type":        "string",
				"description": "Why you are escalating (what help you need or what you're stuck on)",
			},
		},
		"required": []string{"reason"},
	}
}

func (t *escalateTool) Call(ctx tool.Context, args map[string]any) (map[string]any, error) {
	reason, _ := args["reason"].(string)
	if reason == "" {
		reason = "No reason provided"
	}

	ctx.Signal("escalate", true)
	ctx.Signal("skip_summarization", true)
	ctx.Signal("escalate_reason", reason)

	return map[string]any{
		"status":    "escalated",
		"reason":    reason,
		"message":   "Escalating to parent agent.",
		"escalated": true,
	}, nil
}

func (t *escalateTool) IsLongRunning() bool {
	return false
}

func (t *escalateTool) RequiresApproval() bool {
	return false
}

func (t *escalateTool) ParallelSafe() bool {
	return false
}

// TransferTo creates a tool that transfers control to a specific agent.
// When called, it records the transfer_to and skip_summarization signals;
// pkg/turn does not act on them.
//
// Parameters:
//   - agentName: The name of the agent to transfer to
//   - description: Description of what this agent does (for LLM context)
//
// Usage in instruction:
//
//	Transfer to the researcher agent for information gathering tasks.
func TransferTo(agentName, description string) tool.CallableTool {
	return &transferTool{
		agentName:   agentName,
		description: description,
	}
}

type transferTool struct {
	agentName   string
	description string
}

func (t *transferTool) Name() string {
	return "transfer_to_" + t.agentName
}

func (t *transferTool) Description() string {
	if t.description != "" {
		return t.description
	}
	return "Transfers control to the " + t.agentName + " agent."
}

func (t *transferTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"request": map[string]any{
				"type":        "string",
				"description": "What you want the " + t.agentName + " agent to do",
			},
		},
		"required": []string{"request"},
	}
}

func (t *transferTool) Call(ctx tool.Context, args map[string]any) (map[string]any, error) {
	request, _ := args["request"].(string)

	ctx.Signal("transfer_to", t.agentName)
	ctx.Signal("skip_summarization", true)

	return map[string]any{
		"status":         "transferred",
		"transferred_to": t.agentName,
		"request":        request,
		"message":        "Transferring to " + t.agentName + " agent.",
	}, nil
}

func (t *transferTool) IsLongRunning() bool {
	return false
}

func (t *transferTool) RequiresApproval() bool {
	return false
}

func (t *transferTool) ParallelSafe() bool {
	return false
}

// ReportBack creates the tool a sub-agent calls to return its final
// structured result to the parent task, per spec.md §4.H's dynamic
// report_back tool injection: the sub-agent manager registers one of these,
// scoped to the parent's expected schema, only for the duration of a
// delegated sub-task.
func ReportBack(schema map[string]any) tool.CallableTool {
	return &reportBackTool{schema: schema}
}

type reportBackTool struct {
	schema map[string]any
}

func (t *reportBackTool) Name() string { return "report_back" }

func (t *reportBackTool) Description() string {
	return "Reports the final structured result back to the parent task and ends this sub-agent's turn."
}

func (t *reportBackTool) Schema() map[string]any {
	if t.schema != nil {
		return t.schema
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"result": map[string]any{"type": "string", "description": "The final result to report back"},
		},
		"required": []string{"result"},
	}
}

func (t *reportBackTool) Call(ctx tool.Context, args map[string]any) (map[string]any, error) {
	ctx.Signal("skip_summarization", true)
	ctx.Signal("report_back", args)
	return map[string]any{"status": "reported"}, nil
}

func (t *reportBackTool) IsLongRunning() bool   { return false }
func (t *reportBackTool) RequiresApproval() bool { return false }
func (t *reportBackTool) ParallelSafe() bool     { return false }

// Backtrack creates the tool that lets the model revert the session to an
// earlier checkpoint when it recognizes a line of work went wrong (spec.md
// §4.E's backtrack_manager). Calling it does not mutate history itself —
// it signals the pending revert so the task executor can apply it between
// turns, append a BacktrackEntry, and restart the loop.
func Backtrack() tool.CallableTool {
	return &backtrackTool{}
}

type backtrackTool struct{}

func (t *backtrackTool) Name() string { return "backtrack" }

func (t *backtrackTool) Description() string {
	return "Reverts the session history to an earlier checkpoint, discarding everything after it. Use this when a prior approach needs to be abandoned."
}

func (t *backtrackTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"to_index": map[string]any{"type": "integer", "description": "History index to revert to (from a prior checkpoint)"},
			"reason":   map[string]any{"type": "string", "description": "Why this revert is needed"},
		},
		"required": []string{"to_index"},
	}
}

func (t *backtrackTool) Call(ctx tool.Context, args map[string]any) (map[string]any, error) {
	toIndex, _ := args["to_index"].(float64)
	reason, _ := args["reason"].(string)

	ctx.Signal("skip_summarization", true)
	ctx.Signal("backtrack_to_index", int(toIndex))
	ctx.Signal("backtrack_reason", reason)

	return map[string]any{"status": "backtrack_pending", "to_index": int(toIndex)}, nil
}

func (t *backtrackTool) IsLongRunning() bool    { return false }
func (t *backtrackTool) RequiresApproval() bool { return false }
func (t *backtrackTool) ParallelSafe() bool     { return false }

// Verify interface compliance
var (
	_ tool.CallableTool = (*exitLoopTool)(nil)
	_ tool.CallableTool = (*reportBackTool)(nil)
	_ tool.CallableTool = (*escalateTool)(nil)
	_ tool.CallableTool = (*transferTool)(nil)
	_ tool.CallableTool = (*backtrackTool)(nil)
)
