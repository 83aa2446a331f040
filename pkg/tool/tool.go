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

// Package tool defines the tool registry & executor contract (spec.md §4.C).
//
// # Tool Interface Hierarchy
//
//	Tool (base)
//	  ├── CallableTool       - simple synchronous execution
//	  ├── StreamingTool       - real-time incremental output
//	  ├── IsLongRunning()    - async operations
//	  └── RequiresApproval() - HITL pattern (human approval before execution)
package tool

import (
	"context"
	"iter"

	"github.com/coda-run/coda/pkg/message"
)

// Tool defines the base interface for a callable tool.
type Tool interface {
	// Name returns the unique name of the tool.
	Name() string

	// Description returns a human-readable description of what the tool does.
	Description() string

	// IsLongRunning marks a tool as a long-running operation. Executor does
	// not consult it: every call is awaited inline.
	IsLongRunning() bool

	// RequiresApproval indicates whether this tool needs human approval
	// before execution (HITL). When true, Executor calls RequestApproval on
	// the call's Context and returns a success result reading "awaiting
	// approval" without running the tool; nothing waits for or acts on the
	// approval afterwards.
	RequiresApproval() bool

	// ParallelSafe reports whether this tool may run concurrently with other
	// tool calls in the same batch (spec.md §4.C execution policy). Tools
	// that mutate shared state outside their own arguments (working tree
	// edits, todo-list updates) return false and force serialized execution
	// for that batch.
	ParallelSafe() bool
}

// CallableTool extends Tool with synchronous execution capability.
type CallableTool interface {
	Tool

	// Call executes the tool with the given arguments, blocking until done.
	Call(ctx Context, args map[string]any) (map[string]any, error)

	// Schema returns the JSON schema for the tool's parameters.
	Schema() map[string]any
}

// StreamingTool extends Tool with incremental output capability.
type StreamingTool interface {
	Tool

	// CallStreaming executes the tool and yields incremental results.
	CallStreaming(ctx Context, args map[string]any) iter.Seq2[*Result, error]

	// Schema returns the JSON schema for the tool's parameters.
	Schema() map[string]any
}

// Result represents the output of a tool execution.
type Result struct {
	// Content is the output content, typically a string or structured data.
	Content any

	// Streaming indicates this is an intermediate chunk, not the final result.
	Streaming bool

	// Error is set if an error occurred during execution.
	Error string

	// Metadata contains optional additional data about this result.
	Metadata map[string]any
}

// Context provides the execution context for a single tool invocation: the
// ToolContext of spec.md §4.C.
type Context interface {
	context.Context

	// SessionID identifies the owning session.
	SessionID() string

	// TaskID identifies the owning task.
	TaskID() string

	// ToolCallID is this invocation's unique ID (matches the ToolCallPart.ID
	// that triggered it).
	ToolCallID() string

	// WorkingDir is the directory file-touching tools resolve relative
	// paths against.
	WorkingDir() string

	// RequestApproval records that this call needs human approval, with
	// prompt explaining why. Only meaningful when RequiresApproval() is true.
	RequestApproval(prompt string)

	// Offload writes content too large to inline into the tool result to a
	// side file under the session's files/ directory and returns its path,
	// per spec.md §4.C's output truncation/offload policy.
	Offload(content string) (path string, err error)

	// Signal records a control-flow side effect for the turn executor to
	// inspect once the call returns, replacing the teacher's
	// agent.EventActions flags with a plain key/value channel scoped to
	// pkg/tool. pkg/turn acts on the report_back and backtrack signals;
	// other keys (e.g. "escalate", "transfer_to") are recorded only.
	Signal(key string, value any)

	// Signals returns every control-flow signal recorded during this
	// invocation, for the turn executor to inspect once the call returns.
	Signals() map[string]any

	// RecordFileHash stores path's current content hash after a tool reads
	// it, so a later edit through CheckFileHash can detect the file was
	// modified externally in between (spec.md §4.C file_tracker).
	RecordFileHash(path, hash string)

	// CheckFileHash reports whether path's content hash still matches what
	// RecordFileHash last recorded for it. recorded is false if the file
	// was never read through this tracker, in which case matches is
	// meaningless and the caller should proceed as if unstaled.
	CheckFileHash(path, hash string) (matches, recorded bool)

	// RunSubtask delegates to the sub-agent manager (spec.md §4.C, §4.H):
	// it runs profile as a child session/task and returns its result to the
	// calling tool (e.g. the Task tool). When no sub-agent manager is wired
	// into this invocation it returns an error.
	RunSubtask(ctx context.Context, profile SubAgentProfile, prompt string) (SubAgentResult, error)
}

// SubAgentProfile names a registered sub-agent configuration a Task tool
// call can delegate to (spec.md §4.H): a restricted tool set and a
// dedicated system prompt, distinct from the parent session's own profile.
type SubAgentProfile struct {
	Name         string
	SystemPrompt string
	AllowedTools []string
	OutputSchema map[string]any
}

// SubAgentResult is what a delegated sub-agent invocation reports back to
// the calling tool (spec.md §4.H).
type SubAgentResult struct {
	TaskResult       string
	SessionID        string
	Error            string
	TaskMetadata     map[string]any
	StructuredOutput any
}

// SubtaskRunner runs a sub-agent profile/prompt to completion and returns
// its result. Implemented by pkg/subagent and injected into every tool
// Context so a Task-style tool can call ctx.RunSubtask without importing
// pkg/subagent directly (which itself depends on pkg/tool).
type SubtaskRunner func(ctx context.Context, profile SubAgentProfile, prompt string) (SubAgentResult, error)

// Toolset groups related tools and provides dynamic, possibly lazy,
// resolution (e.g. an MCP server connected on first use).
type Toolset interface {
	// Name returns the name of this toolset.
	Name() string

	// Tools returns the available tools.
	Tools(ctx context.Context) ([]Tool, error)
}

// Predicate determines whether a tool should be available to the LLM.
type Predicate func(tool Tool) bool

// StringPredicate creates a Predicate that allows only named tools.
func StringPredicate(allowedTools []string) Predicate {
	allowed := make(map[string]bool, len(allowedTools))
	for _, name := range allowedTools {
		allowed[name] = true
	}
	return func(t Tool) bool { return allowed[t.Name()] }
}

// AllowAll returns a Predicate that allows all tools.
func AllowAll() Predicate { return func(Tool) bool { return true } }

// DenyAll returns a Predicate that denies all tools.
func DenyAll() Predicate { return func(Tool) bool { return false } }

// Combine combines multiple predicates with AND logic.
func Combine(predicates ...Predicate) Predicate {
	return func(t Tool) bool {
		for _, p := range predicates {
			if !p(t) {
				return false
			}
		}
		return true
	}
}

// Or combines multiple predicates with OR logic.
func Or(predicates ...Predicate) Predicate {
	return func(t Tool) bool {
		for _, p := range predicates {
			if p(t) {
				return true
			}
		}
		return false
	}
}

// Not negates a predicate.
func Not(p Predicate) Predicate {
	return func(t Tool) bool { return !p(t) }
}

// Definition represents a tool definition for LLM function calling.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ToDefinition converts a tool to a Definition.
func ToDefinition(t Tool) Definition {
	def := Definition{Name: t.Name(), Description: t.Description()}

	if ct, ok := t.(CallableTool); ok {
		def.Parameters = ct.Schema()
	} else if st, ok := t.(StreamingTool); ok {
		def.Parameters = st.Schema()
	}

	return def
}

// ToolCall represents an LLM's request to invoke a tool.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// ToolResult represents the result of a tool invocation.
type ToolResult struct {
	ToolCallID string
	Content    string
	Error      string
	Metadata   map[string]any

	// Status is success/error/aborted (spec.md §4.C). Aborted is set only
	// when the invocation was cut short by context cancellation, never for
	// a tool-reported failure or timeout.
	Status message.ToolResultStatus
}

// RequestProcessor is an optional interface tools can implement to modify
// the LLM request before it's sent (RAG-style context injection).
type RequestProcessor interface {
	ProcessRequest(ctx Context, req *Request) error
}

// Request is a simplified view of the LLM request for tool preprocessing.
type Request struct {
	SystemInstruction string
	Messages          any
	Config            any
	Metadata          map[string]any
}
