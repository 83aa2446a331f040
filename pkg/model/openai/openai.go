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

// Package openai provides an OpenAI LLM implementation using the Responses API.
//
//   - Uses OpenAI's Responses API (/v1/responses)
//   - Unified GenerateContent method with a stream boolean
//   - Returns iter.Seq2[model.StreamItem, error], the ten stream-item kinds
//   - Uses model.Aggregator to assemble the final AssistantMessage
//   - Proper handling of reasoning/thinking for o1/o3/o4/gpt-5 models
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/coda-run/coda/pkg/httpclient"
	"github.com/coda-run/coda/pkg/message"
	"github.com/coda-run/coda/pkg/model"
	"github.com/coda-run/coda/pkg/tool"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o"
	defaultTimeout = 120 * time.Second

	reasoningEffortLowThreshold    = 1024
	reasoningEffortMediumThreshold = 8192

	maxImageSize = 20 * 1024 * 1024
)

// SSE event types for the Responses API.
const (
	eventResponseCreated           = "response.created"
	eventOutputItemAdded           = "response.output_item.added"
	eventOutputItemDone            = "response.output_item.done"
	eventOutputTextDelta           = "response.output_text.delta"
	eventFunctionCallArgsDelta     = "response.function_call_arguments.delta"
	eventFunctionCallArgsDone      = "response.function_call_arguments.done"
	eventReasoningSummaryTextDelta = "response.reasoning_summary_text.delta"
	eventResponseCompleted         = "response.completed"
)

// Config configures the OpenAI client.
type Config struct {
	APIKey          string
	Model           string
	MaxTokens       int
	Temperature     *float64
	BaseURL         string
	Timeout         time.Duration
	MaxRetries      int
	EnableReasoning bool
	ReasoningBudget int // Maps to reasoning.effort: low/medium/high
}

// Client is an OpenAI model.LLM implementation using the Responses API.
type Client struct {
	httpClient      *httpclient.Client
	apiKey          string
	baseURL         string
	modelName       string
	maxTokens       int
	temperature     *float64
	enableReasoning bool
	reasoningBudget int
}

// New creates a new OpenAI client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultModel
	}

	maxTokens := cfg.MaxTokens

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 5
	}

	httpClient := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
		httpclient.WithMaxRetries(maxRetries),
		httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
	)

	reasoningBudget := cfg.ReasoningBudget
	if reasoningBudget == 0 {
		reasoningBudget = 8192
	}

	return &Client{
		httpClient:      httpClient,
		apiKey:          cfg.APIKey,
		baseURL:         baseURL,
		modelName:       modelName,
		maxTokens:       maxTokens,
		temperature:     cfg.Temperature,
		enableReasoning: cfg.EnableReasoning,
		reasoningBudget: reasoningBudget,
	}, nil
}

// Name returns the model identifier.
func (c *Client) Name() string {
	return c.modelName
}

// Provider returns the provider type.
func (c *Client) Provider() model.Provider {
	return model.ProviderOpenAI
}

// Close releases resources.
func (c *Client) Close() error {
	return nil
}

// GenerateContent produces a single assistant turn for req.
func (c *Client) GenerateContent(ctx context.Context, req *model.Request, stream bool) iter.Seq2[model.StreamItem, error] {
	if stream {
		return c.generateStream(ctx, req)
	}

	return func(yield func(model.StreamItem, error) bool) {
		if !yield(model.ResponseStart{}, nil) {
			return
		}

		msg, usage, err := c.generate(ctx, req)
		if err != nil {
			yield(model.StreamError{Err: err}, nil)
			return
		}

		yield(model.AssistantMessage{Message: msg, Usage: usage}, nil)
	}
}

// generate performs non-streaming generation.
func (c *Client) generate(ctx context.Context, req *model.Request) (message.AssistantMessage, model.Usage, error) {
	apiReq := c.buildRequest(req, false)

	body, err := json.Marshal(apiReq)
	if err != nil {
		return message.AssistantMessage{}, model.Usage{}, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.responsesURL(), bytes.NewReader(body))
	if err != nil {
		return message.AssistantMessage{}, model.Usage{}, fmt.Errorf("openai: build request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return message.AssistantMessage{}, model.Usage{}, fmt.Errorf("openai: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return message.AssistantMessage{}, model.Usage{}, fmt.Errorf("openai: API error (status %d): %s", resp.StatusCode, string(b))
	}

	var apiResp responsesResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return message.AssistantMessage{}, model.Usage{}, fmt.Errorf("openai: decode response: %w", err)
	}

	if apiResp.Error != nil {
		return message.AssistantMessage{}, model.Usage{}, fmt.Errorf("openai: API error: %s", apiResp.Error.Message)
	}

	return c.parseResponse(&apiResp)
}

// streamState holds state accumulated while walking the SSE event stream.
type streamState struct {
	thinkingID       string
	functionCallID   string
	functionCallName string
	functionCallArgs strings.Builder
	emittedCallIDs   map[string]bool
	usage            model.Usage
}

func newStreamState() *streamState {
	return &streamState{emittedCallIDs: make(map[string]bool)}
}

func (s *streamState) resetFunctionCall() {
	s.functionCallID = ""
	s.functionCallName = ""
	s.functionCallArgs.Reset()
}

// generateStream performs streaming generation, yielding each stream item as
// it arrives and a terminal AssistantMessage or StreamError.
func (c *Client) generateStream(ctx context.Context, req *model.Request) iter.Seq2[model.StreamItem, error] {
	return func(yield func(model.StreamItem, error) bool) {
		apiReq := c.buildRequest(req, true)

		body, err := json.Marshal(apiReq)
		if err != nil {
			yield(model.StreamError{Err: fmt.Errorf("openai: marshal request: %w", err)}, nil)
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, "POST", c.responsesURL(), bytes.NewReader(body))
		if err != nil {
			yield(model.StreamError{Err: fmt.Errorf("openai: build request: %w", err)}, nil)
			return
		}
		c.setHeaders(httpReq)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				yield(model.AssistantMessage{Message: abortedMessage()}, nil)
			} else {
				yield(model.StreamError{Err: fmt.Errorf("openai: request failed: %w", err)}, nil)
			}
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			yield(model.StreamError{Err: fmt.Errorf("openai: API error (status %d): %s", resp.StatusCode, string(b))}, nil)
			return
		}

		if !yield(model.ResponseStart{}, nil) {
			return
		}

		agg := model.NewAggregator()
		state := newStreamState()
		reader := bufio.NewReader(resp.Body)
		var currentEventType string

		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				if err == io.EOF {
					break
				}
				if ctx.Err() != nil {
					yield(model.AssistantMessage{Message: abortedMessage()}, nil)
				} else {
					yield(model.StreamError{Err: fmt.Errorf("openai: stream read: %w", err)}, nil)
				}
				return
			}

			line = bytes.TrimSpace(line)
			if len(line) == 0 {
				continue
			}

			if bytes.HasPrefix(line, []byte("event: ")) {
				currentEventType = string(bytes.TrimSpace(line[7:]))
				continue
			}
			if !bytes.HasPrefix(line, []byte("data: ")) {
				continue
			}

			var event map[string]any
			if err := json.Unmarshal(line[6:], &event); err != nil {
				currentEventType = ""
				continue
			}

			eventType := currentEventType
			if eventType == "" {
				eventType, _ = event["type"].(string)
			}
			currentEventType = ""

			stop := false
			for item := range c.processStreamEvent(event, eventType, state, agg) {
				if !yield(item, nil) {
					stop = true
					break
				}
			}
			if stop {
				return
			}
		}

		if ctx.Err() != nil {
			yield(model.AssistantMessage{Message: abortedMessage()}, nil)
			return
		}

		agg.SetUsage(state.usage)

		msg, err := agg.Close(decodeToolArgs)
		if err != nil {
			yield(model.StreamError{Err: fmt.Errorf("openai: %w", err)}, nil)
			return
		}

		yield(model.AssistantMessage{Message: msg, Usage: state.usage}, nil)
	}
}

// processStreamEvent translates a single SSE event into zero or more
// StreamItems, folding state into agg along the way.
func (c *Client) processStreamEvent(event map[string]any, eventType string, state *streamState, agg *model.Aggregator) iter.Seq[model.StreamItem] {
	return func(yield func(model.StreamItem) bool) {
		switch eventType {
		case eventResponseCreated:
			// no-op, ResponseStart already yielded

		case eventOutputItemAdded:
			item, ok := event["item"].(map[string]any)
			if !ok {
				return
			}
			switch itemType, _ := item["type"].(string); itemType {
			case "reasoning":
				if id, ok := item["id"].(string); ok {
					state.thinkingID = id
				}
			case "function_call":
				callID, _ := item["call_id"].(string)
				if callID == "" {
					callID, _ = item["id"].(string)
				}
				name, _ := item["name"].(string)
				state.functionCallID = callID
				state.functionCallName = name
				state.functionCallArgs.Reset()
				agg.ProcessToolCallStart(callID, name)
				yield(model.ToolCallStart{ID: callID, Name: name})
			}

		case eventOutputTextDelta:
			delta, _ := event["delta"].(string)
			if delta == "" {
				return
			}
			agg.ProcessTextDelta(delta)
			yield(model.AssistantTextDelta{Delta: delta})

		case eventReasoningSummaryTextDelta:
			delta, _ := event["delta"].(string)
			if delta == "" {
				return
			}
			agg.ProcessThinkingDelta(state.thinkingID, delta)
			yield(model.ThinkingDelta{ID: state.thinkingID, Delta: delta})

		case eventFunctionCallArgsDelta:
			delta, _ := event["delta"].(string)
			if delta == "" {
				return
			}
			state.functionCallArgs.WriteString(delta)
			agg.ProcessToolCallArgsDelta(state.functionCallID, delta)
			yield(model.ToolCallArgsDelta{ID: state.functionCallID, Delta: delta})

		case eventFunctionCallArgsDone:
			if state.functionCallID == "" || state.emittedCallIDs[state.functionCallID] {
				return
			}
			var args map[string]any
			_ = json.Unmarshal([]byte(state.functionCallArgs.String()), &args)
			state.emittedCallIDs[state.functionCallID] = true
			yield(model.ToolCall{ID: state.functionCallID, Name: state.functionCallName, Arguments: args})
			state.resetFunctionCall()

		case eventOutputItemDone:
			item, ok := event["item"].(map[string]any)
			if !ok {
				return
			}
			switch itemType, _ := item["type"].(string); itemType {
			case "reasoning":
				signature := ""
				if enc, ok := item["encrypted_content"].(map[string]any); ok {
					signature, _ = enc["data"].(string)
				}
				if state.thinkingID != "" {
					agg.ProcessThinkingSignature(state.thinkingID, signature)
					yield(model.ThinkingSignature{ID: state.thinkingID, Signature: signature})
					state.thinkingID = ""
				}
			case "function_call":
				callID, _ := item["call_id"].(string)
				if callID == "" {
					callID, _ = item["id"].(string)
				}
				if callID == "" || state.emittedCallIDs[callID] {
					return
				}
				name, _ := item["name"].(string)
				argsStr, _ := item["arguments"].(string)
				var args map[string]any
				_ = json.Unmarshal([]byte(argsStr), &args)
				state.emittedCallIDs[callID] = true
				yield(model.ToolCall{ID: callID, Name: name, Arguments: args})
			}

		case eventResponseCompleted:
			response, ok := event["response"].(map[string]any)
			if !ok {
				return
			}
			usage, ok := response["usage"].(map[string]any)
			if !ok {
				return
			}
			in, _ := usage["input_tokens"].(float64)
			out, _ := usage["output_tokens"].(float64)
			total, _ := usage["total_tokens"].(float64)
			state.usage = model.Usage{PromptTokens: int(in), CompletionTokens: int(out), TotalTokens: int(total)}
		}
	}
}

// abortedMessage is the synthetic terminal AssistantMessage every adapter
// must emit on context cancellation (spec.md §4.B), in place of a
// StreamError a caller would otherwise have to retry.
func abortedMessage() message.AssistantMessage {
	return message.AssistantMessage{StopReason: message.StopReasonAborted}
}

func decodeToolArgs(jsonArgs string) (map[string]any, error) {
	if jsonArgs == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(jsonArgs), &args); err != nil {
		return nil, fmt.Errorf("unmarshal tool args: %w", err)
	}
	return args, nil
}

// responsesURL returns the URL for the OpenAI Responses API.
func (c *Client) responsesURL() string {
	return c.baseURL + "/responses"
}

// setHeaders sets the required HTTP headers.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}

// buildRequest creates an API request from a model.Request.
func (c *Client) buildRequest(req *model.Request, stream bool) *responsesRequest {
	enableReasoning := c.enableReasoning || (req.Config != nil && req.Config.EnableThinking)

	apiReq := &responsesRequest{
		Model:  c.modelName,
		Stream: stream,
	}

	if c.maxTokens > 0 {
		apiReq.MaxOutputTokens = &c.maxTokens
	}
	if req.Config != nil && req.Config.MaxTokens != nil {
		apiReq.MaxOutputTokens = req.Config.MaxTokens
	}

	if !enableReasoning && !c.isReasoningModel() {
		if req.Config != nil && req.Config.Temperature != nil {
			apiReq.Temperature = req.Config.Temperature
		} else if c.temperature != nil {
			apiReq.Temperature = c.temperature
		}
	}

	if enableReasoning && c.isReasoningModel() {
		budget := c.reasoningBudget
		if req.Config != nil && req.Config.ThinkingBudget > 0 {
			budget = req.Config.ThinkingBudget
		}
		apiReq.Reasoning = &reasoningConfig{Effort: c.mapBudgetToEffort(budget), Summary: "auto"}
		apiReq.Include = []string{"reasoning.encrypted_content"}
	}

	instructions, items := c.convertMessages(req.Messages)
	apiReq.Instructions = instructions
	if len(items) > 0 {
		apiReq.Input = items
	}

	if len(req.Tools) > 0 {
		apiReq.Tools = c.convertTools(req.Tools)
		apiReq.ToolChoice = "auto"
	}

	if req.Config != nil && req.Config.ResponseSchema != nil {
		schemaName := req.Config.ResponseSchemaName
		if schemaName == "" {
			schemaName = "response"
		}
		strict := true
		if req.Config.ResponseSchemaStrict != nil {
			strict = *req.Config.ResponseSchemaStrict
		}
		apiReq.Text = &textFormat{Format: &jsonSchemaFormat{
			Type:   "json_schema",
			Name:   schemaName,
			Strict: strict,
			Schema: req.Config.ResponseSchema,
		}}
	}

	return apiReq
}

// convertMessages converts the session's messages into Responses API input
// items, pulling the leading SystemMessage out as top-level instructions.
func (c *Client) convertMessages(messages []message.Message) (string, []inputItem) {
	var instructions string
	var items []inputItem

	for _, msg := range messages {
		switch v := msg.(type) {
		case message.SystemMessage:
			instructions = message.JoinTextParts(v.Parts)

		case message.DeveloperMessage:
			// Reaches here only for a caller that bypasses
			// AttachDeveloperMessages (e.g. the compaction summarizer's
			// direct GenerateContent call); the Responses API does have a
			// native developer role, so send it as one rather than folding
			// it into a user turn.
			items = append(items, inputItem{
				Type:    "message",
				Role:    "developer",
				Content: []map[string]any{{"type": "input_text", "text": message.JoinTextParts(v.Parts)}},
			})

		case message.UserMessage:
			content := convertParts(v.Parts, "input_text")
			if len(content) > 0 {
				items = append(items, inputItem{Type: "message", Role: "user", Content: content})
			}

		case message.AssistantMessage:
			var textContent []map[string]any
			for _, p := range v.Parts {
				switch tp := p.(type) {
				case message.TextPart:
					if tp.Text != "" {
						textContent = append(textContent, map[string]any{"type": "output_text", "text": tp.Text})
					}
				case message.ImageURLPart, message.ImageFilePart:
					// OpenAI doesn't accept assistant-authored images back as input.
				case message.ThinkingTextPart, message.ThinkingSignaturePart:
					// Reasoning replay needs the encrypted_content blob, which this
					// simplified assistant history does not retain per-message.
				case message.ToolCallPart:
					argsJSON, _ := json.Marshal(tp.Arguments)
					items = append(items, inputItem{
						Type:      "function_call",
						CallID:    tp.ID,
						Name:      tp.Name,
						Arguments: string(argsJSON),
					})
				}
			}
			if len(textContent) > 0 {
				items = append(items, inputItem{Type: "message", Role: "assistant", Content: textContent})
			}

		case message.ToolResultMessage:
			output := v.OutputText
			items = append(items, inputItem{
				Type:   "function_call_output",
				CallID: v.ToolCallID,
				Output: &output,
			})
		}
	}

	return instructions, items
}

// convertParts converts message parts to Responses API content blocks.
// textType is "input_text" for user turns.
func convertParts(parts []message.Part, textType string) []map[string]any {
	var content []map[string]any
	for _, p := range parts {
		switch v := p.(type) {
		case message.TextPart:
			if v.Text != "" {
				content = append(content, map[string]any{"type": textType, "text": v.Text})
			}
		case message.ImageURLPart:
			content = append(content, map[string]any{"type": "input_image", "image_url": v.URL})
		case message.ImageFilePart:
			if len(v.Data) <= maxImageSize {
				url := fmt.Sprintf("data:%s;base64,%s", v.MimeType, base64.StdEncoding.EncodeToString(v.Data))
				content = append(content, map[string]any{"type": "input_image", "image_url": url})
			}
		}
	}
	return content
}

// convertTools converts tool definitions to OpenAI format.
func (c *Client) convertTools(tools []tool.Definition) []apiTool {
	result := make([]apiTool, len(tools))
	for i, t := range tools {
		result[i] = apiTool{Type: "function", Name: t.Name, Description: t.Description, Parameters: t.Parameters}
	}
	return result
}

// parseResponse converts a non-streaming API response to an AssistantMessage.
func (c *Client) parseResponse(resp *responsesResponse) (message.AssistantMessage, model.Usage, error) {
	if resp.Status != "completed" && resp.Status != "" {
		reason := ""
		if resp.IncompleteDetails != nil {
			reason = resp.IncompleteDetails.Reason
		}
		if reason == "" {
			return message.AssistantMessage{}, model.Usage{}, fmt.Errorf("openai: response incomplete: status=%s", resp.Status)
		}
	}

	var parts []message.Part
	hasToolCalls := false

	for _, item := range resp.Output {
		switch item.Type {
		case "message":
			if text := extractTextFromOutput(item); text != "" {
				parts = append(parts, message.TextPart{Text: text})
			}

		case "function_call":
			var args map[string]any
			if item.Arguments != "" {
				_ = json.Unmarshal([]byte(item.Arguments), &args)
			}
			callID := item.CallID
			if callID == "" {
				callID = item.ID
			}
			parts = append(parts, message.ToolCallPart{ID: callID, Name: item.Name, Arguments: args})
			hasToolCalls = true

		case "reasoning":
			text := extractReasoningFromOutput(item)
			if text != "" {
				id := item.ID
				parts = append(parts, message.ThinkingTextPart{ID: id, Text: text})
				if item.EncryptedContent != nil && item.EncryptedContent.Data != "" {
					parts = append(parts, message.ThinkingSignaturePart{ID: id, Signature: item.EncryptedContent.Data})
				}
			}
		}
	}

	stopReason := message.StopReasonEndTurn
	if hasToolCalls {
		stopReason = message.StopReasonToolCalls
	} else if resp.Status == "incomplete" {
		stopReason = message.StopReasonLength
	}

	usage := model.Usage{
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}

	return message.AssistantMessage{Parts: parts, StopReason: stopReason}, usage, nil
}

func extractTextFromOutput(item outputItem) string {
	contentArray, ok := item.Content.([]any)
	if !ok {
		return ""
	}
	var text strings.Builder
	for _, part := range contentArray {
		partMap, ok := part.(map[string]any)
		if !ok {
			continue
		}
		if partType, _ := partMap["type"].(string); partType == "output_text" {
			if t, ok := partMap["text"].(string); ok {
				text.WriteString(t)
			}
		}
	}
	return text.String()
}

func extractReasoningFromOutput(item outputItem) string {
	var text strings.Builder
	for _, s := range item.Summary {
		if s.Type == "summary_text" && s.Text != "" {
			text.WriteString(s.Text)
			text.WriteString("\n")
		}
	}
	return strings.TrimSpace(text.String())
}

// isReasoningModel checks if the current model supports reasoning.
func (c *Client) isReasoningModel() bool {
	modelLower := strings.ToLower(c.modelName)
	if modelLower == "o1" || modelLower == "o3" || modelLower == "o4" || modelLower == "gpt-5" {
		return true
	}
	for _, prefix := range []string{"o1-", "o3-", "o4-", "gpt-5-"} {
		if strings.HasPrefix(modelLower, prefix) {
			return true
		}
	}
	return false
}

// mapBudgetToEffort maps thinking budget tokens to OpenAI reasoning effort.
func (c *Client) mapBudgetToEffort(budget int) string {
	if budget <= reasoningEffortLowThreshold {
		return "low"
	}
	if budget <= reasoningEffortMediumThreshold {
		return "medium"
	}
	return "high"
}

// API wire types

type responsesRequest struct {
	Model           string           `json:"model"`
	Input           any              `json:"input,omitempty"`
	Instructions    string           `json:"instructions,omitempty"`
	MaxOutputTokens *int             `json:"max_output_tokens,omitempty"`
	Temperature     *float64         `json:"temperature,omitempty"`
	Tools           []apiTool        `json:"tools,omitempty"`
	ToolChoice      any              `json:"tool_choice,omitempty"`
	Reasoning       *reasoningConfig `json:"reasoning,omitempty"`
	Include         []string         `json:"include,omitempty"`
	Stream          bool             `json:"stream,omitempty"`
	Text            *textFormat      `json:"text,omitempty"`
}

type reasoningConfig struct {
	Effort  string `json:"effort,omitempty"`
	Summary string `json:"summary,omitempty"`
}

type textFormat struct {
	Format *jsonSchemaFormat `json:"format,omitempty"`
}

type jsonSchemaFormat struct {
	Type   string         `json:"type"`
	Name   string         `json:"name"`
	Strict bool           `json:"strict"`
	Schema map[string]any `json:"schema"`
}

type inputItem struct {
	Type      string           `json:"type"`
	ID        string           `json:"id,omitempty"`
	Role      string           `json:"role,omitempty"`
	Content   []map[string]any `json:"content,omitempty"`
	CallID    string           `json:"call_id,omitempty"`
	Name      string           `json:"name,omitempty"`
	Arguments string           `json:"arguments,omitempty"`
	Output    *string          `json:"output,omitempty"`
}

type apiTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type responsesResponse struct {
	ID                string             `json:"id"`
	Status            string             `json:"status"`
	Error             *apiError          `json:"error,omitempty"`
	IncompleteDetails *incompleteDetails `json:"incomplete_details,omitempty"`
	Model             string             `json:"model"`
	Output            []outputItem       `json:"output"`
	Usage             apiUsage           `json:"usage"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
}

type incompleteDetails struct {
	Reason string `json:"reason,omitempty"`
}

type outputItem struct {
	Type             string            `json:"type"`
	ID               string            `json:"id,omitempty"`
	Status           string            `json:"status,omitempty"`
	Role             string            `json:"role,omitempty"`
	Content          any               `json:"content,omitempty"`
	Summary          []summaryItem     `json:"summary,omitempty"`
	EncryptedContent *encryptedContent `json:"encrypted_content,omitempty"`
	CallID           string            `json:"call_id,omitempty"`
	Name             string            `json:"name,omitempty"`
	Arguments        string            `json:"arguments,omitempty"`
}

type summaryItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type encryptedContent struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

type apiUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Ensure Client implements model.LLM
var _ model.LLM = (*Client)(nil)
