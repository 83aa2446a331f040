package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// toolContext is the concrete Context every tool invocation runs against.
type toolContext struct {
	context.Context
	sessionID  string
	taskID     string
	toolCallID string
	workingDir string
	filesDir   string
	tracker    *FileTracker
	subtask    SubtaskRunner

	approvalRequested *bool
	approvalPrompt    *string
	signals           map[string]any
}

// NewContext builds a Context for one tool invocation. filesDir is the
// session's files/ directory (spec.md §6), used for output offload.
// tracker may be nil (stale-file detection disabled); subtask may be nil
// (RunSubtask then reports a descriptive error rather than panicking).
func NewContext(ctx context.Context, sessionID, taskID, toolCallID, workingDir, filesDir string, tracker *FileTracker, subtask ...SubtaskRunner) Context {
	var requested bool
	var prompt string
	var runner SubtaskRunner
	if len(subtask) > 0 {
		runner = subtask[0]
	}
	return &toolContext{
		Context:           ctx,
		sessionID:         sessionID,
		taskID:            taskID,
		toolCallID:        toolCallID,
		workingDir:        workingDir,
		filesDir:          filesDir,
		tracker:           tracker,
		subtask:           runner,
		approvalRequested: &requested,
		approvalPrompt:    &prompt,
		signals:           make(map[string]any),
	}
}

func (c *toolContext) SessionID() string  { return c.sessionID }
func (c *toolContext) TaskID() string     { return c.taskID }
func (c *toolContext) ToolCallID() string { return c.toolCallID }
func (c *toolContext) WorkingDir() string { return c.workingDir }

func (c *toolContext) RequestApproval(prompt string) {
	*c.approvalRequested = true
	*c.approvalPrompt = prompt
}

// ApprovalRequested reports whether RequestApproval was called during this
// invocation, and the prompt it was called with.
func (c *toolContext) ApprovalRequested() (bool, string) {
	return *c.approvalRequested, *c.approvalPrompt
}

func (c *toolContext) Signal(key string, value any) {
	c.signals[key] = value
}

// Signals returns every control-flow signal recorded during this invocation.
func (c *toolContext) Signals() map[string]any {
	return c.signals
}

func (c *toolContext) RecordFileHash(path, hash string) {
	if c.tracker == nil {
		return
	}
	c.tracker.Record(c.sessionID, path, hash)
}

func (c *toolContext) CheckFileHash(path, hash string) (matches, recorded bool) {
	if c.tracker == nil {
		return true, false
	}
	return c.tracker.Check(c.sessionID, path, hash)
}

func (c *toolContext) RunSubtask(ctx context.Context, profile SubAgentProfile, prompt string) (SubAgentResult, error) {
	if c.subtask == nil {
		return SubAgentResult{}, fmt.Errorf("tool: no sub-agent manager configured for this invocation")
	}
	return c.subtask(ctx, profile, prompt)
}

func (c *toolContext) Offload(content string) (string, error) {
	if err := os.MkdirAll(c.filesDir, 0o755); err != nil {
		return "", fmt.Errorf("tool: offload: %w", err)
	}
	path := filepath.Join(c.filesDir, c.toolCallID+".txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("tool: offload: %w", err)
	}
	return path, nil
}
