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

// Package anthropic provides an Anthropic Claude model.LLM implementation.
//
//   - Unified GenerateContent method with a stream boolean
//   - Returns iter.Seq2[model.StreamItem, error], the ten stream-item kinds
//   - Uses model.Aggregator to assemble the final AssistantMessage
//   - Handles extended-thinking blocks and their verification signatures
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/coda-run/coda/pkg/httpclient"
	"github.com/coda-run/coda/pkg/message"
	"github.com/coda-run/coda/pkg/model"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	apiVersion       = "2023-06-01"
	betaThinking     = "interleaved-thinking-2025-05-14"
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 4096
	defaultTimeout   = 120 * time.Second

	// Temperature when thinking is enabled (Anthropic requirement)
	thinkingTemperature = 1.0
)

// Config configures the Anthropic client.
type Config struct {
	APIKey         string
	Model          string
	MaxTokens      int
	Temperature    *float64
	BaseURL        string
	Timeout        time.Duration
	MaxRetries     int
	EnableThinking bool
	ThinkingBudget int
}

// Client is an Anthropic model.LLM implementation.
type Client struct {
	httpClient     *httpclient.Client
	apiKey         string
	baseURL        string
	model          string
	maxTokens      int
	temperature    *float64
	enableThinking bool
	thinkingBudget int
}

// New creates a new Anthropic client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultModel
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

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
		httpclient.WithHeaderParser(httpclient.ParseAnthropicHeaders),
	)

	thinkingBudget := cfg.ThinkingBudget
	if thinkingBudget == 0 {
		thinkingBudget = 10000
	}

	return &Client{
		httpClient:     httpClient,
		apiKey:         cfg.APIKey,
		baseURL:        baseURL,
		model:          modelName,
		maxTokens:      maxTokens,
		temperature:    cfg.Temperature,
		enableThinking: cfg.EnableThinking,
		thinkingBudget: thinkingBudget,
	}, nil
}

// Name returns the model identifier.
func (c *Client) Name() string {
	return c.model
}

// Provider returns the provider type.
func (c *Client) Provider() model.Provider {
	return model.ProviderAnthropic
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

// Close releases resources.
func (c *Client) Close() error {
	return nil
}

// generate performs non-streaming generation.
func (c *Client) generate(ctx context.Context, req *model.Request) (message.AssistantMessage, model.Usage, error) {
	apiReq := c.buildRequest(req, false)

	body, err := json.Marshal(apiReq)
	if err != nil {
		return message.AssistantMessage{}, model.Usage{}, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return message.AssistantMessage{}, model.Usage{}, fmt.Errorf("anthropic: build request: %w", err)
	}

	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return message.AssistantMessage{}, model.Usage{}, fmt.Errorf("anthropic: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return message.AssistantMessage{}, model.Usage{}, fmt.Errorf("anthropic: API error (status %d): %s", resp.StatusCode, string(b))
	}

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return message.AssistantMessage{}, model.Usage{}, fmt.Errorf("anthropic: decode response: %w", err)
	}

	msg, usage := c.parseResponse(&apiResp)
	return msg, usage, nil
}

// streamState holds state accumulated while walking the SSE event stream.
type streamState struct {
	toolIDs            map[int]string
	toolNames          map[int]string
	toolJSONBuffers    map[int]string
	thinkingIDs        map[int]string
	thinkingSignatures map[int]string
	usage              model.Usage
	stopReason         message.StopReason
}

func newStreamState() *streamState {
	return &streamState{
		toolIDs:            make(map[int]string),
		toolNames:          make(map[int]string),
		toolJSONBuffers:    make(map[int]string),
		thinkingIDs:        make(map[int]string),
		thinkingSignatures: make(map[int]string),
	}
}

// generateStream performs streaming generation, yielding each stream item as
// it arrives and a terminal AssistantMessage or StreamError.
func (c *Client) generateStream(ctx context.Context, req *model.Request) iter.Seq2[model.StreamItem, error] {
	return func(yield func(model.StreamItem, error) bool) {
		apiReq := c.buildRequest(req, true)

		body, err := json.Marshal(apiReq)
		if err != nil {
			yield(model.StreamError{Err: fmt.Errorf("anthropic: marshal request: %w", err)}, nil)
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/messages", bytes.NewReader(body))
		if err != nil {
			yield(model.StreamError{Err: fmt.Errorf("anthropic: build request: %w", err)}, nil)
			return
		}

		c.setHeaders(httpReq)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				yield(model.AssistantMessage{Message: abortedMessage()}, nil)
			} else {
				yield(model.StreamError{Err: fmt.Errorf("anthropic: request failed: %w", err)}, nil)
			}
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			yield(model.StreamError{Err: fmt.Errorf("anthropic: API error (status %d): %s", resp.StatusCode, string(b))}, nil)
			return
		}

		if !yield(model.ResponseStart{}, nil) {
			return
		}

		agg := model.NewAggregator()
		state := newStreamState()
		reader := bufio.NewReader(resp.Body)

		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err == io.EOF {
					break
				}
				if ctx.Err() != nil {
					yield(model.AssistantMessage{Message: abortedMessage()}, nil)
				} else {
					yield(model.StreamError{Err: fmt.Errorf("anthropic: stream read: %w", err)}, nil)
				}
				return
			}

			line = strings.TrimSpace(line)
			if line == "" || !strings.HasPrefix(line, "data: ") {
				continue
			}

			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				break
			}

			var event streamEvent
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				continue
			}

			stop := false
			for item := range c.processStreamEvent(&event, state, agg) {
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
		agg.SetStopReason(state.stopReason)

		msg, err := agg.Close(decodeToolArgs)
		if err != nil {
			yield(model.StreamError{Err: fmt.Errorf("anthropic: %w", err)}, nil)
			return
		}

		yield(model.AssistantMessage{Message: msg, Usage: state.usage}, nil)
	}
}

// processStreamEvent translates a single SSE event into zero or more
// StreamItems, folding state into agg along the way.
func (c *Client) processStreamEvent(event *streamEvent, state *streamState, agg *model.Aggregator) iter.Seq[model.StreamItem] {
	return func(yield func(model.StreamItem) bool) {
		switch event.Type {
		case "content_block_start":
			if event.ContentBlock == nil {
				return
			}
			switch event.ContentBlock.Type {
			case "tool_use":
				state.toolIDs[event.Index] = event.ContentBlock.ID
				state.toolNames[event.Index] = event.ContentBlock.Name
				state.toolJSONBuffers[event.Index] = ""
				agg.ProcessToolCallStart(event.ContentBlock.ID, event.ContentBlock.Name)
				yield(model.ToolCallStart{ID: event.ContentBlock.ID, Name: event.ContentBlock.Name})
			case "thinking":
				state.thinkingIDs[event.Index] = model.NewThinkingID()
			}

		case "content_block_delta":
			if event.Delta == nil {
				return
			}
			switch event.Delta.Type {
			case "text_delta":
				agg.ProcessTextDelta(event.Delta.Text)
				yield(model.AssistantTextDelta{Delta: event.Delta.Text})
			case "thinking_delta":
				id := state.thinkingIDs[event.Index]
				agg.ProcessThinkingDelta(id, event.Delta.Thinking)
				yield(model.ThinkingDelta{ID: id, Delta: event.Delta.Thinking})
			case "input_json_delta":
				id := state.toolIDs[event.Index]
				state.toolJSONBuffers[event.Index] += event.Delta.PartialJSON
				agg.ProcessToolCallArgsDelta(id, event.Delta.PartialJSON)
				yield(model.ToolCallArgsDelta{ID: id, Delta: event.Delta.PartialJSON})
			case "signature_delta":
				state.thinkingSignatures[event.Index] += event.Delta.Signature
			}

		case "content_block_stop":
			if id, ok := state.toolIDs[event.Index]; ok {
				var args map[string]any
				_ = json.Unmarshal([]byte(state.toolJSONBuffers[event.Index]), &args)
				if !yield(model.ToolCall{ID: id, Name: state.toolNames[event.Index], Arguments: args}) {
					return
				}
			}
			if id, ok := state.thinkingIDs[event.Index]; ok {
				sig := state.thinkingSignatures[event.Index]
				agg.ProcessThinkingSignature(id, sig)
				yield(model.ThinkingSignature{ID: id, Signature: sig})
			}

		case "message_delta":
			if event.Delta != nil && event.Delta.StopReason != "" {
				switch event.Delta.StopReason {
				case "tool_use":
					state.stopReason = message.StopReasonToolCalls
				case "max_tokens":
					state.stopReason = message.StopReasonLength
				case "stop_sequence":
					state.stopReason = message.StopReasonStopSeq
				default:
					state.stopReason = message.StopReasonEndTurn
				}
			}
			if event.Usage != nil {
				state.usage = model.Usage{
					PromptTokens:     event.Usage.InputTokens,
					CompletionTokens: event.Usage.OutputTokens,
					TotalTokens:      event.Usage.InputTokens + event.Usage.OutputTokens,
				}
			}
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

// setHeaders sets the required HTTP headers.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)
	if c.enableThinking {
		req.Header.Set("anthropic-beta", betaThinking)
	}
}

// buildRequest creates an API request from a model.Request.
func (c *Client) buildRequest(req *model.Request, stream bool) *apiRequest {
	thinkingEnabled := c.enableThinking || (req.Config != nil && req.Config.EnableThinking)

	apiReq := &apiRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Stream:    stream,
	}

	if thinkingEnabled {
		apiReq.Temperature = thinkingTemperature
	} else if c.temperature != nil {
		apiReq.Temperature = *c.temperature
	}

	if thinkingEnabled {
		budget := c.thinkingBudget
		if req.Config != nil && req.Config.ThinkingBudget > 0 {
			budget = req.Config.ThinkingBudget
		}
		apiReq.Thinking = &thinkingSettings{
			Type:         "enabled",
			BudgetTokens: budget,
		}
	}

	if req.Config != nil {
		if req.Config.MaxTokens != nil {
			apiReq.MaxTokens = *req.Config.MaxTokens
		}
		if !thinkingEnabled && req.Config.Temperature != nil {
			apiReq.Temperature = *req.Config.Temperature
		}
		if req.Config.TopP != nil {
			apiReq.TopP = *req.Config.TopP
		}
		if req.Config.TopK != nil {
			apiReq.TopK = *req.Config.TopK
		}
		if len(req.Config.StopSequences) > 0 {
			apiReq.StopSequences = req.Config.StopSequences
		}
	}

	for _, msg := range req.Messages {
		switch v := msg.(type) {
		case message.SystemMessage:
			apiReq.System = message.JoinTextParts(v.Parts)

		case message.DeveloperMessage:
			// Reaches here only for a caller that bypasses
			// AttachDeveloperMessages (e.g. the compaction summarizer's
			// direct GenerateContent call); fold it into a tagged user turn
			// rather than drop it, since Anthropic has no developer role.
			apiReq.Messages = append(apiReq.Messages, apiMessage{
				Role:    "user",
				Content: []apiContent{{Type: "text", Text: "<developer_message>\n" + message.JoinTextParts(v.Parts) + "\n</developer_message>"}},
			})

		case message.UserMessage:
			var content []apiContent
			for _, p := range v.Parts {
				if c, ok := convertPart(p, nil); ok {
					content = append(content, c)
				}
			}
			if len(content) > 0 {
				apiReq.Messages = append(apiReq.Messages, apiMessage{Role: "user", Content: content})
			}

		case message.AssistantMessage:
			sigs := make(map[string]string)
			for _, p := range v.Parts {
				if sp, ok := p.(message.ThinkingSignaturePart); ok {
					sigs[sp.ID] = sp.Signature
				}
			}
			var content []apiContent
			for _, p := range v.Parts {
				if c, ok := convertPart(p, sigs); ok {
					content = append(content, c)
				}
			}
			if len(content) > 0 {
				apiReq.Messages = append(apiReq.Messages, apiMessage{Role: "assistant", Content: content})
			}

		case message.ToolResultMessage:
			if v.ToolCallID == "" {
				slog.Warn("anthropic: tool result missing tool_call_id, skipping")
				continue
			}
			contentStr := v.OutputText
			if contentStr == "" {
				contentStr = "(no output)"
			}
			apiReq.Messages = append(apiReq.Messages, apiMessage{
				Role: "user",
				Content: []apiContent{{
					Type:      "tool_result",
					ToolUseID: v.ToolCallID,
					Content:   contentStr,
					IsError:   v.IsError(),
				}},
			})
		}
	}

	for _, t := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, apiTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}

	return apiReq
}

// convertPart converts a single message.Part to an apiContent block.
// thinkingSigs maps thinking-block ID to its signature, collected from
// sibling ThinkingSignaturePart entries; pass nil outside assistant turns,
// where thinking blocks never occur. ThinkingSignaturePart itself never
// emits a block of its own - it is folded into the preceding ThinkingTextPart.
func convertPart(p message.Part, thinkingSigs map[string]string) (apiContent, bool) {
	switch v := p.(type) {
	case message.TextPart:
		return apiContent{Type: "text", Text: v.Text}, true
	case message.ImageURLPart:
		return apiContent{Type: "image", Source: &apiImageSource{Type: "url", URL: v.URL}}, true
	case message.ImageFilePart:
		return apiContent{Type: "image", Source: &apiImageSource{
			Type:      "base64",
			MediaType: v.MimeType,
			Data:      base64.StdEncoding.EncodeToString(v.Data),
		}}, true
	case message.ThinkingTextPart:
		return apiContent{Type: "thinking", Thinking: v.Text, Signature: thinkingSigs[v.ID]}, true
	case message.ThinkingSignaturePart:
		return apiContent{}, false
	case message.ToolCallPart:
		return apiContent{Type: "tool_use", ID: v.ID, Name: v.Name, Input: v.Arguments}, true
	}
	return apiContent{}, false
}

// parseResponse converts a non-streaming API response to an AssistantMessage.
func (c *Client) parseResponse(resp *apiResponse) (message.AssistantMessage, model.Usage) {
	var parts []message.Part

	for _, content := range resp.Content {
		switch content.Type {
		case "text":
			parts = append(parts, message.TextPart{Text: content.Text})
		case "thinking":
			id := model.NewThinkingID()
			parts = append(parts, message.ThinkingTextPart{ID: id, Text: content.Thinking})
			if content.Signature != "" {
				parts = append(parts, message.ThinkingSignaturePart{ID: id, Signature: content.Signature})
			}
		case "tool_use":
			parts = append(parts, message.ToolCallPart{ID: content.ID, Name: content.Name, Arguments: content.Input})
		}
	}

	stopReason := message.StopReasonEndTurn
	switch resp.StopReason {
	case "tool_use":
		stopReason = message.StopReasonToolCalls
	case "max_tokens":
		stopReason = message.StopReasonLength
	case "stop_sequence":
		stopReason = message.StopReasonStopSeq
	}

	usage := model.Usage{
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
		TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}

	return message.AssistantMessage{Parts: parts, StopReason: stopReason}, usage
}

// API wire types

type apiRequest struct {
	Model         string            `json:"model"`
	Messages      []apiMessage      `json:"messages"`
	MaxTokens     int               `json:"max_tokens"`
	Temperature   float64           `json:"temperature,omitempty"`
	TopP          float64           `json:"top_p,omitempty"`
	TopK          int               `json:"top_k,omitempty"`
	StopSequences []string          `json:"stop_sequences,omitempty"`
	Stream        bool              `json:"stream"`
	System        string            `json:"system,omitempty"`
	Tools         []apiTool         `json:"tools,omitempty"`
	Thinking      *thinkingSettings `json:"thinking,omitempty"`
}

type thinkingSettings struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

type apiMessage struct {
	Role    string       `json:"role"`
	Content []apiContent `json:"content"`
}

type apiImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

type apiContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     map[string]any  `json:"input,omitempty"`
	Source    *apiImageSource `json:"source,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	Signature string          `json:"signature,omitempty"`
}

type apiTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type apiResponse struct {
	ID         string       `json:"id"`
	Type       string       `json:"type"`
	Role       string       `json:"role"`
	Content    []apiContent `json:"content"`
	StopReason string       `json:"stop_reason"`
	Usage      apiUsage     `json:"usage"`
}

type apiUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type streamEvent struct {
	Type         string      `json:"type"`
	Index        int         `json:"index"`
	Delta        *apiDelta   `json:"delta,omitempty"`
	ContentBlock *apiContent `json:"content_block,omitempty"`
	Usage        *apiUsage   `json:"usage,omitempty"`
}

type apiDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	Signature   string `json:"signature,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

// Ensure Client implements model.LLM
var _ model.LLM = (*Client)(nil)
