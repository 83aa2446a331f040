package task_test

import (
	"context"
	"errors"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coda-run/coda/pkg/event"
	"github.com/coda-run/coda/pkg/message"
	"github.com/coda-run/coda/pkg/model"
	"github.com/coda-run/coda/pkg/session"
	"github.com/coda-run/coda/pkg/task"
	"github.com/coda-run/coda/pkg/tool"
	"github.com/coda-run/coda/pkg/tool/controltool"
	"github.com/coda-run/coda/pkg/turn"
)

// scriptedLLM replays one []model.StreamItem per call to GenerateContent,
// advancing through responses in order and replaying the last one if
// called more times than scripted (so a test needn't script every retry).
type scriptedLLM struct {
	responses [][]model.StreamItem
	errs      []error
	calls     int
}

func (f *scriptedLLM) Name() string            { return "fake-model" }
func (f *scriptedLLM) Provider() model.Provider { return model.ProviderUnknown }
func (f *scriptedLLM) Close() error            { return nil }

func (f *scriptedLLM) GenerateContent(ctx context.Context, req *model.Request, stream bool) iter.Seq2[model.StreamItem, error] {
	i := f.calls
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	f.calls++

	items := f.responses[i]
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}

	return func(yield func(model.StreamItem, error) bool) {
		for _, item := range items {
			if !yield(item, nil) {
				return
			}
		}
		if err != nil {
			yield(nil, err)
		}
	}
}

type echoTool struct{}

func (echoTool) Name() string            { return "echo" }
func (echoTool) Description() string     { return "echoes text" }
func (echoTool) IsLongRunning() bool     { return false }
func (echoTool) RequiresApproval() bool  { return false }
func (echoTool) ParallelSafe() bool      { return true }
func (echoTool) Schema() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{"text": map[string]any{"type": "string"}}}
}
func (echoTool) Call(ctx tool.Context, args map[string]any) (map[string]any, error) {
	return map[string]any{"content": args["text"]}, nil
}

func newRegistry(t *testing.T) *tool.Executor {
	t.Helper()
	reg := tool.NewRegistry()
	reg.Register(echoTool{})
	reg.Register(controltool.ReportBack(nil))
	reg.Register(controltool.Backtrack())
	return tool.NewExecutor(reg)
}

func newStore(t *testing.T) *session.Store {
	t.Helper()
	store, err := session.NewStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func newExecutor(t *testing.T, llm model.LLM, cfg task.Config) (*task.Executor, *session.Store) {
	t.Helper()
	store := newStore(t)
	exec := task.NewExecutor(store, turn.NewExecutor(), nil, nil, cfg)
	exec.Sleep = func(d time.Duration) {}
	return exec, store
}

func baseExecContext(sessionID string, llm model.LLM, toolExec *tool.Executor) *task.ExecutionContext {
	return &task.ExecutionContext{
		SessionID:    sessionID,
		TaskID:       "task-1",
		LLM:          llm,
		Stream:       false,
		Profile:      task.Profile{SystemPrompt: "you are a test agent"},
		ToolExecutor: toolExec,
		Sink:         func(event.Event) bool { return true },
	}
}

func userMsg(text string) message.UserMessage {
	return message.UserMessage{Parts: []message.Part{message.TextPart{Text: text}}}
}

func TestExecutor_NoToolCall_ReturnsTaskResult(t *testing.T) {
	llm := &scriptedLLM{responses: [][]model.StreamItem{
		{
			model.ResponseStart{},
			model.AssistantTextDelta{Delta: "hello"},
			model.AssistantMessage{
				Message: message.AssistantMessage{Parts: []message.Part{message.TextPart{Text: "hello"}}, StopReason: message.StopReasonEndTurn},
			},
		},
	}}

	exec, store := newExecutor(t, llm, task.Config{})
	require.NoError(t, store.Create("sess-1", message.Session{Model: "fake-model"}))

	ec := baseExecContext("sess-1", llm, newRegistry(t))
	result, err := exec.Run(context.Background(), ec, userMsg("hi"))
	require.NoError(t, err)
	assert.Equal(t, "hello", result.TaskResult)
	assert.False(t, result.Aborted)

	loaded, err := store.Load("sess-1")
	require.NoError(t, err)
	require.Len(t, loaded.History, 3) // user message, assistant message, task finish
}

func TestExecutor_ToolCallLoop_ThenFinal(t *testing.T) {
	llm := &scriptedLLM{responses: [][]model.StreamItem{
		{
			model.ToolCallStart{ID: "call_1", Name: "echo"},
			model.ToolCall{ID: "call_1", Name: "echo", Arguments: map[string]any{"text": "hi"}},
			model.AssistantMessage{
				Message: message.AssistantMessage{
					Parts:      []message.Part{message.ToolCallPart{ID: "call_1", Name: "echo", Arguments: map[string]any{"text": "hi"}}},
					StopReason: message.StopReasonToolCalls,
				},
			},
		},
		{
			model.AssistantMessage{
				Message: message.AssistantMessage{Parts: []message.Part{message.TextPart{Text: "done"}}, StopReason: message.StopReasonEndTurn},
			},
		},
	}}

	exec, store := newExecutor(t, llm, task.Config{CheckpointEnabled: true})
	require.NoError(t, store.Create("sess-2", message.Session{Model: "fake-model"}))

	ec := baseExecContext("sess-2", llm, newRegistry(t))
	result, err := exec.Run(context.Background(), ec, userMsg("use echo"))
	require.NoError(t, err)
	assert.Equal(t, "done", result.TaskResult)

	loaded, err := store.Load("sess-2")
	require.NoError(t, err)

	var checkpoints, toolResults int
	for _, e := range loaded.History {
		switch v := e.(type) {
		case message.CheckpointEntry:
			checkpoints++
		case message.MessageEntry:
			if _, ok := v.Message.(message.ToolResultMessage); ok {
				toolResults++
			}
		}
	}
	assert.Equal(t, 2, checkpoints) // one per loop iteration
	assert.Equal(t, 1, toolResults)
}

func TestExecutor_ReportBack(t *testing.T) {
	llm := &scriptedLLM{responses: [][]model.StreamItem{
		{
			model.AssistantMessage{
				Message: message.AssistantMessage{
					Parts: []message.Part{message.ToolCallPart{
						ID: "call_1", Name: "report_back", Arguments: map[string]any{"result": "42"},
					}},
					StopReason: message.StopReasonToolCalls,
				},
			},
		},
	}}

	exec, store := newExecutor(t, llm, task.Config{})
	require.NoError(t, store.Create("sess-3", message.Session{Model: "fake-model"}))

	ec := baseExecContext("sess-3", llm, newRegistry(t))
	result, err := exec.Run(context.Background(), ec, userMsg("delegate"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"result":"42"}`, result.TaskResult)
	assert.Equal(t, map[string]any{"result": "42"}, result.StructuredOutput)
}

func TestExecutor_Backtrack(t *testing.T) {
	llm := &scriptedLLM{responses: [][]model.StreamItem{
		{
			model.AssistantMessage{
				Message: message.AssistantMessage{
					Parts: []message.Part{message.ToolCallPart{
						ID: "call_1", Name: "backtrack",
						Arguments: map[string]any{"to_index": float64(0), "reason": "wrong path"},
					}},
					StopReason: message.StopReasonToolCalls,
				},
			},
		},
		{
			model.AssistantMessage{
				Message: message.AssistantMessage{Parts: []message.Part{message.TextPart{Text: "recovered"}}, StopReason: message.StopReasonEndTurn},
			},
		},
	}}

	exec, store := newExecutor(t, llm, task.Config{})
	require.NoError(t, store.Create("sess-4", message.Session{Model: "fake-model"}))

	ec := baseExecContext("sess-4", llm, newRegistry(t))
	result, err := exec.Run(context.Background(), ec, userMsg("try something"))
	require.NoError(t, err)
	assert.Equal(t, "recovered", result.TaskResult)

	loaded, err := store.Load("sess-4")
	require.NoError(t, err)

	var found bool
	for _, e := range loaded.History {
		if bt, ok := e.(message.BacktrackEntry); ok {
			found = true
			assert.Equal(t, 0, bt.ToIndex)
			assert.Equal(t, "wrong path", bt.Reason)
		}
	}
	assert.True(t, found, "expected a BacktrackEntry in history")
}

func TestExecutor_RetryBudgetExhausted(t *testing.T) {
	llm := &scriptedLLM{
		responses: [][]model.StreamItem{{model.ResponseStart{}}, {model.ResponseStart{}}},
		errs:      []error{errors.New("boom"), errors.New("boom")},
	}

	exec, store := newExecutor(t, llm, task.Config{MaxTurnRetries: 1})
	require.NoError(t, store.Create("sess-5", message.Session{Model: "fake-model"}))

	ec := baseExecContext("sess-5", llm, newRegistry(t))
	result, err := exec.Run(context.Background(), ec, userMsg("hi"))
	require.NoError(t, err)
	assert.True(t, result.Aborted)
	assert.Empty(t, result.TaskResult)
}
