package openai

import (
	"encoding/json"
	"testing"

	"github.com/coda-run/coda/pkg/message"
	"github.com/coda-run/coda/pkg/model"
)

func TestReproConversationConversion(t *testing.T) {
	cfg := Config{
		APIKey: "sk-test",
		Model:  "gpt-4",
	}
	client, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	// History: User -> Assistant(ToolCall) -> ToolResult.
	messages := []message.Message{
		message.UserMessage{Parts: []message.Part{message.TextPart{Text: "Find eggs"}}},
		message.AssistantMessage{
			Parts: []message.Part{
				message.ToolCallPart{ID: "call_123", Name: "search", Arguments: map[string]any{"query": "eggs"}},
			},
			StopReason: message.StopReasonToolCalls,
		},
		message.ToolResultMessage{ToolCallID: "call_123", ToolName: "search", Status: message.ToolResultSuccess, OutputText: "Eggs usage found"},
	}

	req := &model.Request{Messages: messages}

	apiReq := client.buildRequest(req, false)

	inputs, ok := apiReq.Input.([]inputItem)
	if !ok {
		t.Fatalf("Input is not []inputItem")
	}

	// Expect 3 items: message(user), function_call(search), function_call_output(result).
	if len(inputs) != 3 {
		js, _ := json.MarshalIndent(inputs, "", "  ")
		t.Fatalf("Expected 3 input items, got %d:\n%s", len(inputs), string(js))
	}

	if inputs[0].Type != "message" {
		t.Errorf("Item 0 type mismatch: %s", inputs[0].Type)
	}
	if inputs[1].Type != "function_call" {
		t.Errorf("Item 1 type mismatch: %s", inputs[1].Type)
	}
	if inputs[2].Type != "function_call_output" {
		t.Errorf("Item 2 type mismatch: %s", inputs[2].Type)
	}

	if inputs[1].CallID != "call_123" {
		t.Errorf("Item 1 CallID mismatch: %s", inputs[1].CallID)
	}
	if inputs[2].CallID != "call_123" {
		t.Errorf("Item 2 CallID mismatch: %s", inputs[2].CallID)
	}

	if inputs[2].Output == nil || *inputs[2].Output != "Eggs usage found" {
		t.Errorf("Item 2 Output mismatch")
	}
}

func TestMaxTokensOmitted(t *testing.T) {
	cfg := Config{
		APIKey: "sk-test",
		Model:  "gpt-4",
		// MaxTokens: 0 (implicit)
	}
	client, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	req := &model.Request{
		Messages: []message.Message{
			message.UserMessage{Parts: []message.Part{message.TextPart{Text: "Hello"}}},
		},
	}

	apiReq := client.buildRequest(req, false)

	if apiReq.MaxOutputTokens != nil {
		t.Errorf("Expected MaxOutputTokens to be nil (unlimited), got %d", *apiReq.MaxOutputTokens)
	}
}
