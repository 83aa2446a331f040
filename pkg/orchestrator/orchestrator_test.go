package orchestrator_test

import (
	"context"
	"iter"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coda-run/coda/pkg/message"
	"github.com/coda-run/coda/pkg/model"
	"github.com/coda-run/coda/pkg/orchestrator"
	"github.com/coda-run/coda/pkg/session"
	"github.com/coda-run/coda/pkg/task"
	"github.com/coda-run/coda/pkg/tool"
	"github.com/coda-run/coda/pkg/turn"
)

type fakeLLM struct {
	text string
	hang chan struct{} // if non-nil, blocks until ctx is cancelled
}

func (f *fakeLLM) Name() string             { return "fake-model" }
func (f *fakeLLM) Provider() model.Provider { return model.ProviderUnknown }
func (f *fakeLLM) Close() error             { return nil }

func (f *fakeLLM) GenerateContent(ctx context.Context, req *model.Request, stream bool) iter.Seq2[model.StreamItem, error] {
	return func(yield func(model.StreamItem, error) bool) {
		if f.hang != nil {
			<-ctx.Done()
			yield(nil, ctx.Err())
			return
		}
		yield(model.AssistantMessage{
			Message: message.AssistantMessage{Parts: []message.Part{message.TextPart{Text: f.text}}, StopReason: message.StopReasonEndTurn},
		}, nil)
	}
}

func newOrchestrator(t *testing.T) (*orchestrator.Orchestrator, *session.Store) {
	t.Helper()
	store, err := session.NewStore(t.TempDir())
	require.NoError(t, err)
	exec := task.NewExecutor(store, turn.NewExecutor(), nil, nil, task.Config{})
	exec.Sleep = func(time.Duration) {}
	o := orchestrator.New(store, exec, nil, nil)
	return o, store
}

func newToolExecutor() *tool.Executor {
	return tool.NewExecutor(tool.NewRegistry())
}

func TestOrchestrator_UserInput_RunsTaskAndWaits(t *testing.T) {
	o, store := newOrchestrator(t)
	llm := &fakeLLM{text: "hi there"}

	initID := o.Submit(context.Background(), orchestrator.InitAgent{
		SessionID: "sess-1", LLM: llm, Model: "fake-model", ToolExecutor: newToolExecutor(),
	})
	require.NoError(t, o.WaitFor(context.Background(), initID))

	opID := o.Submit(context.Background(), orchestrator.UserInput{
		SessionID: "sess-1", Input: orchestrator.UserInputPayload{Text: "hello"},
	})
	require.NoError(t, o.WaitFor(context.Background(), opID))

	loaded, err := store.Load("sess-1")
	require.NoError(t, err)
	require.Len(t, loaded.History, 3) // user message, assistant message, task finish
}

func TestOrchestrator_UserInput_RejectsWhenSessionUnknown(t *testing.T) {
	o, _ := newOrchestrator(t)
	opID := o.Submit(context.Background(), orchestrator.UserInput{SessionID: "ghost", Input: orchestrator.UserInputPayload{Text: "hi"}})
	err := o.WaitFor(context.Background(), opID)
	assert.ErrorIs(t, err, orchestrator.ErrUnknownSession)
}

func TestOrchestrator_UserInput_RejectsWhenBusy(t *testing.T) {
	o, _ := newOrchestrator(t)
	hang := &fakeLLM{hang: make(chan struct{})}

	initID := o.Submit(context.Background(), orchestrator.InitAgent{
		SessionID: "sess-2", LLM: hang, Model: "fake-model", ToolExecutor: newToolExecutor(),
	})
	require.NoError(t, o.WaitFor(context.Background(), initID))

	first := o.Submit(context.Background(), orchestrator.UserInput{SessionID: "sess-2", Input: orchestrator.UserInputPayload{Text: "one"}})

	// Give the background task a moment to mark the session busy.
	time.Sleep(20 * time.Millisecond)

	second := o.Submit(context.Background(), orchestrator.UserInput{SessionID: "sess-2", Input: orchestrator.UserInputPayload{Text: "two"}})
	err := o.WaitFor(context.Background(), second)
	assert.ErrorIs(t, err, orchestrator.ErrSessionBusy)

	interruptID := o.Submit(context.Background(), orchestrator.Interrupt{SessionID: "sess-2"})
	require.NoError(t, o.WaitFor(context.Background(), interruptID))
	_ = o.WaitFor(context.Background(), first)
}

func TestOrchestrator_SlashCommand_HandledWithoutTask(t *testing.T) {
	store, err := session.NewStore(t.TempDir())
	require.NoError(t, err)
	exec := task.NewExecutor(store, turn.NewExecutor(), nil, nil, task.Config{})

	var sawCommand string
	o := orchestrator.New(store, exec, nil, func(ctx context.Context, sessionID, text string) (bool, error) {
		sawCommand = text
		return true, nil
	})

	initID := o.Submit(context.Background(), orchestrator.InitAgent{
		SessionID: "sess-3", LLM: &fakeLLM{text: "unused"}, Model: "fake-model", ToolExecutor: newToolExecutor(),
	})
	require.NoError(t, o.WaitFor(context.Background(), initID))

	opID := o.Submit(context.Background(), orchestrator.UserInput{SessionID: "sess-3", Input: orchestrator.UserInputPayload{Text: "/help"}})
	require.NoError(t, o.WaitFor(context.Background(), opID))

	assert.Equal(t, "/help", sawCommand)
	loaded, err := store.Load("sess-3")
	require.NoError(t, err)
	require.Len(t, loaded.History, 1) // plain user message only, no task
}

func TestOrchestrator_ChangeModel_UpdatesMeta(t *testing.T) {
	o, store := newOrchestrator(t)
	initID := o.Submit(context.Background(), orchestrator.InitAgent{SessionID: "sess-4", Model: "model-a"})
	require.NoError(t, o.WaitFor(context.Background(), initID))

	opID := o.Submit(context.Background(), orchestrator.ChangeModel{SessionID: "sess-4", Model: "model-b"})
	require.NoError(t, o.WaitFor(context.Background(), opID))

	loaded, err := store.Load("sess-4")
	require.NoError(t, err)
	assert.Equal(t, "model-b", loaded.Meta.Model)
}

func TestOrchestrator_Fork(t *testing.T) {
	o, store := newOrchestrator(t)
	initID := o.Submit(context.Background(), orchestrator.InitAgent{SessionID: "sess-5", Model: "fake-model"})
	require.NoError(t, o.WaitFor(context.Background(), initID))

	_, err := store.AppendHistory("sess-5", []message.HistoryEvent{
		message.MessageEntry{Index: 0, Timestamp: time.Now(), Message: message.UserMessage{Parts: []message.Part{message.TextPart{Text: "hi"}}}},
	})
	require.NoError(t, err)

	opID := o.Submit(context.Background(), orchestrator.Fork{SessionID: "sess-5", AtIndex: 1})
	require.NoError(t, o.WaitFor(context.Background(), opID))
}
