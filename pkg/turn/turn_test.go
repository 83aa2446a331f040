package turn

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/coda-run/coda/pkg/event"
	"github.com/coda-run/coda/pkg/message"
	"github.com/coda-run/coda/pkg/model"
	"github.com/coda-run/coda/pkg/tool"
	"github.com/coda-run/coda/pkg/tool/controltool"
)

// fakeLLM replays a fixed sequence of StreamItems, ignoring the request.
type fakeLLM struct {
	items []model.StreamItem
	err   error
}

func (f *fakeLLM) Name() string            { return "fake-model" }
func (f *fakeLLM) Provider() model.Provider { return model.ProviderUnknown }
func (f *fakeLLM) Close() error            { return nil }

func (f *fakeLLM) GenerateContent(ctx context.Context, req *model.Request, stream bool) iter.Seq2[model.StreamItem, error] {
	return func(yield func(model.StreamItem, error) bool) {
		for _, item := range f.items {
			if !yield(item, nil) {
				return
			}
		}
		if f.err != nil {
			yield(nil, f.err)
		}
	}
}

var _ model.LLM = (*fakeLLM)(nil)

// echoTool returns its "text" argument as the result content.
type echoTool struct{}

func (echoTool) Name() string            { return "echo" }
func (echoTool) Description() string     { return "echoes input" }
func (echoTool) IsLongRunning() bool      { return false }
func (echoTool) RequiresApproval() bool   { return false }
func (echoTool) ParallelSafe() bool       { return true }
func (echoTool) Schema() map[string]any {
	return map[string]any{"type": "object"}
}
func (echoTool) Call(ctx tool.Context, args map[string]any) (map[string]any, error) {
	return map[string]any{"content": args["text"]}, nil
}

var _ tool.CallableTool = echoTool{}

func newExecutor(t *testing.T) *tool.Executor {
	t.Helper()
	reg := tool.NewRegistry()
	reg.Register(echoTool{})
	reg.Register(controltool.ReportBack(nil))
	return tool.NewExecutor(reg)
}

func TestRun_NoToolCalls(t *testing.T) {
	llm := &fakeLLM{items: []model.StreamItem{
		model.ResponseStart{},
		model.AssistantTextDelta{Delta: "hello"},
		model.AssistantMessage{
			Message: message.AssistantMessage{
				Parts:      []message.Part{message.TextPart{Text: "hello"}},
				StopReason: message.StopReasonEndTurn,
			},
			Usage: model.Usage{TotalTokens: 10},
		},
	}}

	var persisted []message.Message
	var events []event.Event

	ec := &ExecutionContext{
		LLM:      llm,
		Executor: newExecutor(t),
		History:  []message.Message{message.UserMessage{Parts: []message.Part{message.TextPart{Text: "hi"}}}},
		Persist: func(m message.Message) error {
			persisted = append(persisted, m)
			return nil
		},
		Sink: func(e event.Event) bool {
			events = append(events, e)
			return true
		},
	}

	result, err := NewExecutor().Run(context.Background(), ec)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if result.HasToolCall {
		t.Errorf("expected HasToolCall false")
	}
	if result.TransientError {
		t.Errorf("expected no transient error")
	}
	if len(persisted) != 1 {
		t.Fatalf("expected 1 persisted message, got %d", len(persisted))
	}
	if _, ok := persisted[0].(message.AssistantMessage); !ok {
		t.Errorf("expected persisted message to be AssistantMessage, got %T", persisted[0])
	}

	foundTurnEnd := false
	for _, e := range events {
		if te, ok := e.(event.TurnEndEvent); ok {
			foundTurnEnd = true
			if te.HasToolCall {
				t.Errorf("TurnEndEvent.HasToolCall should be false")
			}
		}
	}
	if !foundTurnEnd {
		t.Errorf("expected a TurnEndEvent")
	}
}

func TestRun_ToolCall(t *testing.T) {
	llm := &fakeLLM{items: []model.StreamItem{
		model.ResponseStart{},
		model.ToolCallStart{ID: "call_1", Name: "echo"},
		model.ToolCallArgsDelta{ID: "call_1", Delta: `{"text":"hi"}`},
		model.ToolCall{ID: "call_1", Name: "echo", Arguments: map[string]any{"text": "hi"}},
		model.AssistantMessage{
			Message: message.AssistantMessage{
				Parts: []message.Part{
					message.ToolCallPart{ID: "call_1", Name: "echo", Arguments: map[string]any{"text": "hi"}},
				},
				StopReason: message.StopReasonToolCalls,
			},
		},
	}}

	var persisted []message.Message
	var toolResultEvents []event.ToolResultEvent

	ec := &ExecutionContext{
		LLM:      llm,
		Executor: newExecutor(t),
		Persist: func(m message.Message) error {
			persisted = append(persisted, m)
			return nil
		},
		Sink: func(e event.Event) bool {
			if tr, ok := e.(event.ToolResultEvent); ok {
				toolResultEvents = append(toolResultEvents, tr)
			}
			return true
		},
	}

	result, err := NewExecutor().Run(context.Background(), ec)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !result.HasToolCall {
		t.Errorf("expected HasToolCall true")
	}
	if len(persisted) != 2 {
		t.Fatalf("expected 2 persisted messages (assistant + tool result), got %d", len(persisted))
	}
	toolResult, ok := persisted[1].(message.ToolResultMessage)
	if !ok {
		t.Fatalf("expected second persisted message to be ToolResultMessage, got %T", persisted[1])
	}
	if toolResult.OutputText != "hi" {
		t.Errorf("expected tool result content %q, got %q", "hi", toolResult.OutputText)
	}
	if toolResult.ToolName != "echo" {
		t.Errorf("expected tool result tool_name %q, got %q", "echo", toolResult.ToolName)
	}
	if toolResult.Status != message.ToolResultSuccess {
		t.Errorf("expected tool result status %q, got %q", message.ToolResultSuccess, toolResult.Status)
	}
	if len(toolResultEvents) != 1 || toolResultEvents[0].ToolName != "echo" {
		t.Errorf("expected one echo ToolResultEvent, got %+v", toolResultEvents)
	}
}

func TestRun_ReportBack(t *testing.T) {
	llm := &fakeLLM{items: []model.StreamItem{
		model.AssistantMessage{
			Message: message.AssistantMessage{
				Parts: []message.Part{
					message.ToolCallPart{ID: "call_1", Name: "report_back", Arguments: map[string]any{"result": "done"}},
				},
				StopReason: message.StopReasonToolCalls,
			},
		},
	}}

	ec := &ExecutionContext{
		LLM:      llm,
		Executor: newExecutor(t),
		Persist:  func(message.Message) error { return nil },
	}

	result, err := NewExecutor().Run(context.Background(), ec)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !result.HasReportBack {
		t.Fatalf("expected HasReportBack true")
	}
	m, ok := result.ReportBackResult.(map[string]any)
	if !ok {
		t.Fatalf("expected ReportBackResult to be a map, got %T", result.ReportBackResult)
	}
	if m["result"] != "done" {
		t.Errorf("expected report_back result %q, got %v", "done", m["result"])
	}
}

func TestRun_TransientErrorOnStreamFailure(t *testing.T) {
	llm := &fakeLLM{
		items: []model.StreamItem{model.ResponseStart{}},
		err:   errors.New("connection reset"),
	}

	persistCalled := false
	ec := &ExecutionContext{
		LLM:      llm,
		Executor: newExecutor(t),
		Persist: func(message.Message) error {
			persistCalled = true
			return nil
		},
	}

	result, err := NewExecutor().Run(context.Background(), ec)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !result.TransientError {
		t.Errorf("expected TransientError true")
	}
	if persistCalled {
		t.Errorf("expected no persist call on transient failure")
	}
}

func TestRun_StreamErrorEmittedAsItem(t *testing.T) {
	llm := &fakeLLM{items: []model.StreamItem{
		model.ResponseStart{},
		model.StreamError{Err: errors.New("upstream exploded")},
	}}

	ec := &ExecutionContext{
		LLM:      llm,
		Executor: newExecutor(t),
		Persist:  func(message.Message) error { return nil },
	}

	result, err := NewExecutor().Run(context.Background(), ec)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !result.TransientError {
		t.Errorf("expected TransientError true when stream ends with StreamError and no AssistantMessage")
	}
}
