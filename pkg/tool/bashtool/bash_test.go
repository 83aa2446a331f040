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

package bashtool_test

import (
	"context"
	"strings"
	"testing"

	"github.com/coda-run/coda/pkg/tool"
	"github.com/coda-run/coda/pkg/tool/bashtool"
)

type mockContext struct {
	context.Context
	approvalPrompt string
}

func newMockContext() *mockContext { return &mockContext{Context: context.Background()} }

func (m *mockContext) SessionID() string                      { return "test-session" }
func (m *mockContext) TaskID() string                          { return "test-task" }
func (m *mockContext) ToolCallID() string                      { return "test-call" }
func (m *mockContext) WorkingDir() string                      { return "." }
func (m *mockContext) RequestApproval(prompt string)           { m.approvalPrompt = prompt }
func (m *mockContext) Offload(content string) (string, error)  { return "", nil }
func (m *mockContext) Signal(key string, value any)             {}
func (m *mockContext) Signals() map[string]any                  { return nil }
func (m *mockContext) RecordFileHash(path, hash string)         {}
func (m *mockContext) CheckFileHash(path, hash string) (matches, recorded bool) {
	return false, false
}
func (m *mockContext) RunSubtask(ctx context.Context, profile tool.SubAgentProfile, prompt string) (tool.SubAgentResult, error) {
	return tool.SubAgentResult{}, nil
}

var _ tool.Context = (*mockContext)(nil)

func drain(t *testing.T, seq func(func(*tool.Result, error) bool)) []*tool.Result {
	t.Helper()
	var results []*tool.Result
	var callErr error
	seq(func(r *tool.Result, err error) bool {
		if err != nil {
			callErr = err
			return false
		}
		results = append(results, r)
		return true
	})
	if callErr != nil {
		t.Fatalf("unexpected error: %v", callErr)
	}
	return results
}

func TestBashToolEchoOutput(t *testing.T) {
	bt := bashtool.New(bashtool.Config{})

	results := drain(t, bt.CallStreaming(newMockContext(), map[string]any{
		"command": "echo hello",
	}))

	if len(results) == 0 {
		t.Fatal("expected at least one result")
	}

	final := results[len(results)-1]
	if final.Streaming {
		t.Error("expected final result to have Streaming=false")
	}
	if !strings.Contains(final.Content.(string), "hello") {
		t.Errorf("expected output to contain 'hello', got %q", final.Content)
	}

	if bt.Name() != "bash" {
		t.Errorf("expected default name 'bash', got %q", bt.Name())
	}
}

func TestBashToolDeniedCommand(t *testing.T) {
	bt := bashtool.New(bashtool.Config{})

	var callErr error
	bt.CallStreaming(newMockContext(), map[string]any{
		"command": "sudo reboot",
	})(func(r *tool.Result, err error) bool {
		callErr = err
		return false
	})

	if callErr == nil {
		t.Fatal("expected denied command to error")
	}
}

func TestBashToolDeniedPattern(t *testing.T) {
	bt := bashtool.New(bashtool.Config{})

	var callErr error
	bt.CallStreaming(newMockContext(), map[string]any{
		"command": "rm -rf /",
	})(func(r *tool.Result, err error) bool {
		callErr = err
		return false
	})

	if callErr == nil {
		t.Fatal("expected rm -rf to be denied by pattern")
	}
}

func TestBashToolAllowList(t *testing.T) {
	bt := bashtool.New(bashtool.Config{
		AllowedCommands: []string{"echo"},
		DenyByDefault:   true,
	})

	var callErr error
	bt.CallStreaming(newMockContext(), map[string]any{
		"command": "cat /etc/passwd",
	})(func(r *tool.Result, err error) bool {
		callErr = err
		return false
	})

	if callErr == nil {
		t.Fatal("expected command outside allow list to error")
	}
}

func TestBashToolRequiresApproval(t *testing.T) {
	bt := bashtool.New(bashtool.Config{RequireApproval: true})
	mctx := newMockContext()

	results := drain(t, bt.CallStreaming(mctx, map[string]any{
		"command": "echo hello",
	}))

	if len(results) != 1 {
		t.Fatalf("expected exactly one pending result, got %d", len(results))
	}
	if results[0].Metadata["status"] != "pending_approval" {
		t.Errorf("expected pending_approval status, got %v", results[0].Metadata["status"])
	}
	if mctx.approvalPrompt == "" {
		t.Error("expected RequestApproval to be called with a non-empty prompt")
	}
	if !bt.RequiresApproval() {
		t.Error("expected RequiresApproval() to be true")
	}
	if bt.ParallelSafe() {
		t.Error("expected ParallelSafe() to be false")
	}
}
