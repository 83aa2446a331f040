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

// Package ollama provides an Ollama model.LLM implementation.
//
//   - Uses Ollama's Chat API (/api/chat)
//   - Unified GenerateContent method with a stream boolean
//   - Returns iter.Seq2[model.StreamItem, error], the ten stream-item kinds
//   - Uses model.Aggregator to assemble the final AssistantMessage
//   - Support for thinking models via the `think` parameter
package ollama

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
	defaultBaseURL   = "http://localhost:11434"
	defaultModel     = "llama3.2"
	defaultTimeout   = 300 * time.Second
	defaultKeepAlive = "5m"
)

// Config configures the Ollama client.
type Config struct {
	BaseURL        string
	Model          string
	Temperature    *float64
	TopP           *float64
	TopK           *int
	NumPredict     *int
	NumCtx         *int
	Seed           *int
	KeepAlive      string
	Timeout        time.Duration
	MaxRetries     int
	EnableThinking bool
}

// Client is an Ollama model.LLM implementation.
type Client struct {
	httpClient     *httpclient.Client
	baseURL        string
	modelName      string
	temperature    *float64
	topP           *float64
	topK           *int
	numPredict     *int
	numCtx         *int
	seed           *int
	keepAlive      string
	enableThinking bool
}

// New creates a new Ollama client.
func New(cfg Config) (*Client, error) {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultModel
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	keepAlive := cfg.KeepAlive
	if keepAlive == "" {
		keepAlive = defaultKeepAlive
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}

	hc := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
		httpclient.WithMaxRetries(maxRetries),
		httpclient.WithBaseDelay(2*time.Second),
	)

	return &Client{
		httpClient:     hc,
		baseURL:        baseURL,
		modelName:      modelName,
		temperature:    cfg.Temperature,
		topP:           cfg.TopP,
		topK:           cfg.TopK,
		numPredict:     cfg.NumPredict,
		numCtx:         cfg.NumCtx,
		seed:           cfg.Seed,
		keepAlive:      keepAlive,
		enableThinking: cfg.EnableThinking,
	}, nil
}

// Name returns the model identifier.
func (c *Client) Name() string {
	return c.modelName
}

// Provider returns the provider type.
func (c *Client) Provider() model.Provider {
	return model.ProviderOllama
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
		return message.AssistantMessage{}, model.Usage{}, fmt.Errorf("ollama: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return message.AssistantMessage{}, model.Usage{}, fmt.Errorf("ollama: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return message.AssistantMessage{}, model.Usage{}, fmt.Errorf("ollama: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return message.AssistantMessage{}, model.Usage{}, fmt.Errorf("ollama: API error (status %d): %s", resp.StatusCode, string(b))
	}

	var apiResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return message.AssistantMessage{}, model.Usage{}, fmt.Errorf("ollama: decode response: %w", err)
	}

	return c.parseResponse(&apiResp)
}

// ollamaStreamState holds state accumulated while walking the chat stream.
// toolCalls is index-keyed since Ollama reports parallel tool calls by index
// and may send a call's arguments split across more than one chunk.
type ollamaStreamState struct {
	thinkingID string
	toolCalls  map[int]*tool.ToolCall
	toolOrder  []int
	usage      model.Usage
	stopReason message.StopReason
}

func newOllamaStreamState() *ollamaStreamState {
	return &ollamaStreamState{toolCalls: make(map[int]*tool.ToolCall)}
}

// generateStream performs streaming generation, yielding each stream item as
// it arrives and a terminal AssistantMessage or StreamError.
func (c *Client) generateStream(ctx context.Context, req *model.Request) iter.Seq2[model.StreamItem, error] {
	return func(yield func(model.StreamItem, error) bool) {
		apiReq := c.buildRequest(req, true)

		body, err := json.Marshal(apiReq)
		if err != nil {
			yield(model.StreamError{Err: fmt.Errorf("ollama: marshal request: %w", err)}, nil)
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/chat", bytes.NewReader(body))
		if err != nil {
			yield(model.StreamError{Err: fmt.Errorf("ollama: build request: %w", err)}, nil)
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				yield(model.AssistantMessage{Message: abortedMessage()}, nil)
			} else {
				yield(model.StreamError{Err: fmt.Errorf("ollama: request failed: %w", err)}, nil)
			}
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			yield(model.StreamError{Err: fmt.Errorf("ollama: API error (status %d): %s", resp.StatusCode, string(b))}, nil)
			return
		}

		if !yield(model.ResponseStart{}, nil) {
			return
		}

		agg := model.NewAggregator()
		state := newOllamaStreamState()
		reader := bufio.NewReader(resp.Body)

		for {
			line, err := reader.ReadBytes('\n')
			if err != nil {
				if err == io.EOF {
					break
				}
				if ctx.Err() != nil {
					yield(model.AssistantMessage{Message: abortedMessage()}, nil)
				} else {
					yield(model.StreamError{Err: fmt.Errorf("ollama: stream read: %w", err)}, nil)
				}
				return
			}

			line = bytes.TrimSpace(line)
			if len(line) == 0 {
				continue
			}

			var chunk chatResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				continue
			}

			stop := false
			for item := range c.processStreamChunk(&chunk, agg, state) {
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
			yield(model.StreamError{Err: fmt.Errorf("ollama: %w", err)}, nil)
			return
		}

		yield(model.AssistantMessage{Message: msg, Usage: state.usage}, nil)
	}
}

// processStreamChunk translates a single chat chunk into zero or more
// StreamItems. Tool calls are accumulated by index as they arrive and only
// emitted once the response reaches done, since Ollama may split a single
// call's arguments across several chunks.
func (c *Client) processStreamChunk(chunk *chatResponse, agg *model.Aggregator, state *ollamaStreamState) iter.Seq[model.StreamItem] {
	return func(yield func(model.StreamItem) bool) {
		if chunk.Message != nil {
			if chunk.Message.Thinking != "" {
				if state.thinkingID == "" {
					state.thinkingID = model.NewThinkingID()
				}
				agg.ProcessThinkingDelta(state.thinkingID, chunk.Message.Thinking)
				if !yield(model.ThinkingDelta{ID: state.thinkingID, Delta: chunk.Message.Thinking}) {
					return
				}
			}

			if chunk.Message.Content != "" {
				agg.ProcessTextDelta(chunk.Message.Content)
				if !yield(model.AssistantTextDelta{Delta: chunk.Message.Content}) {
					return
				}
			}

			for _, tc := range chunk.Message.ToolCalls {
				if tc.Function == nil {
					continue
				}
				idx := tc.Function.Index
				if idx < 0 {
					idx = len(state.toolCalls)
				}
				if existing, ok := state.toolCalls[idx]; ok {
					for k, v := range tc.Function.Arguments {
						existing.Args[k] = v
					}
					continue
				}
				args := tc.Function.Arguments
				if args == nil {
					args = make(map[string]any)
				}
				state.toolOrder = append(state.toolOrder, idx)
				state.toolCalls[idx] = &tool.ToolCall{
					ID:   fmt.Sprintf("call_%d", idx),
					Name: tc.Function.Name,
					Args: args,
				}
			}
		}

		if chunk.Done {
			for _, idx := range state.toolOrder {
				tc := state.toolCalls[idx]
				argsJSON, _ := json.Marshal(tc.Args)

				agg.ProcessToolCallStart(tc.ID, tc.Name)
				if !yield(model.ToolCallStart{ID: tc.ID, Name: tc.Name}) {
					return
				}
				agg.ProcessToolCallArgsDelta(tc.ID, string(argsJSON))
				if !yield(model.ToolCallArgsDelta{ID: tc.ID, Delta: string(argsJSON)}) {
					return
				}
				if !yield(model.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Args}) {
					return
				}
			}

			state.usage = model.Usage{
				PromptTokens:     chunk.PromptEvalCount,
				CompletionTokens: chunk.EvalCount,
				TotalTokens:      chunk.PromptEvalCount + chunk.EvalCount,
			}
			if len(state.toolOrder) > 0 {
				state.stopReason = message.StopReasonToolCalls
			} else if chunk.DoneReason == "length" {
				state.stopReason = message.StopReasonLength
			} else {
				state.stopReason = message.StopReasonEndTurn
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

// buildRequest creates an API request from a model.Request.
func (c *Client) buildRequest(req *model.Request, stream bool) *chatRequest {
	enableThinking := c.enableThinking || (req.Config != nil && req.Config.EnableThinking)

	apiReq := &chatRequest{
		Model:     c.modelName,
		Stream:    stream,
		KeepAlive: c.keepAlive,
	}
	if enableThinking {
		apiReq.Think = true
	}

	options := make(map[string]any)

	if c.temperature != nil {
		options["temperature"] = *c.temperature
	} else if req.Config != nil && req.Config.Temperature != nil {
		options["temperature"] = *req.Config.Temperature
	}

	if c.topP != nil {
		options["top_p"] = *c.topP
	} else if req.Config != nil && req.Config.TopP != nil {
		options["top_p"] = *req.Config.TopP
	}

	if c.topK != nil {
		options["top_k"] = *c.topK
	} else if req.Config != nil && req.Config.TopK != nil {
		options["top_k"] = *req.Config.TopK
	}

	if c.numPredict != nil {
		options["num_predict"] = *c.numPredict
	} else if req.Config != nil && req.Config.MaxTokens != nil {
		options["num_predict"] = *req.Config.MaxTokens
	}

	if c.numCtx != nil {
		options["num_ctx"] = *c.numCtx
	}
	if c.seed != nil {
		options["seed"] = *c.seed
	}
	if req.Config != nil && len(req.Config.StopSequences) > 0 {
		options["stop"] = req.Config.StopSequences
	}
	if len(options) > 0 {
		apiReq.Options = options
	}

	if req.Config != nil && req.Config.ResponseSchema != nil {
		apiReq.Format = req.Config.ResponseSchema
	} else if req.Config != nil && req.Config.ResponseMIMEType == "application/json" {
		apiReq.Format = "json"
	}

	var systemText string
	var messages []*chatMessage
	for _, msg := range req.Messages {
		if sm, ok := msg.(message.SystemMessage); ok {
			systemText = message.JoinTextParts(sm.Parts)
			continue
		}
		if cm := convertMessage(msg); cm != nil {
			messages = append(messages, cm)
		}
	}
	if systemText != "" {
		messages = append([]*chatMessage{{Role: "system", Content: systemText}}, messages...)
	}
	apiReq.Messages = messages

	if len(req.Tools) > 0 {
		apiReq.Tools = c.convertTools(req.Tools)
	}

	return apiReq
}

// convertMessage converts a session message to Ollama's chat format.
func convertMessage(msg message.Message) *chatMessage {
	switch v := msg.(type) {
	case message.DeveloperMessage:
		// Reaches here only for a caller that bypasses
		// AttachDeveloperMessages; Ollama has no developer role, so fold it
		// into a tagged user turn.
		return &chatMessage{Role: "user", Content: "<developer_message>\n" + message.JoinTextParts(v.Parts) + "\n</developer_message>"}

	case message.UserMessage:
		return partsToChatMessage("user", v.Parts)

	case message.AssistantMessage:
		cm := partsToChatMessage("assistant", v.Parts)
		if cm == nil {
			cm = &chatMessage{Role: "assistant"}
		}
		var thinking strings.Builder
		for _, p := range v.Parts {
			if tp, ok := p.(message.ThinkingTextPart); ok {
				thinking.WriteString(tp.Text)
			}
			if tc, ok := p.(message.ToolCallPart); ok {
				cm.ToolCalls = append(cm.ToolCalls, &toolCall{Function: &functionCall{Name: tc.Name, Arguments: tc.Arguments}})
			}
		}
		if thinking.Len() > 0 {
			cm.Thinking = thinking.String()
		}
		if cm.Content == "" && len(cm.ToolCalls) == 0 && len(cm.Images) == 0 && cm.Thinking == "" {
			return nil
		}
		return cm

	case message.ToolResultMessage:
		content := v.OutputText
		if content == "" {
			content = "(no output)"
		}
		return &chatMessage{Role: "tool", Content: content}
	}
	return nil
}

// partsToChatMessage converts parts (text and/or images) to a chatMessage.
// Ollama's chat API takes only inline base64 images, so ImageURLPart has no
// home here and is dropped.
func partsToChatMessage(role string, parts []message.Part) *chatMessage {
	cm := &chatMessage{Role: role}
	var textParts []string
	var images []string

	for _, p := range parts {
		switch v := p.(type) {
		case message.TextPart:
			if v.Text != "" {
				textParts = append(textParts, v.Text)
			}
		case message.ImageFilePart:
			images = append(images, base64.StdEncoding.EncodeToString(v.Data))
		}
	}

	if len(textParts) > 0 {
		cm.Content = strings.Join(textParts, "\n")
	}
	if len(images) > 0 {
		cm.Images = images
	}
	if cm.Content == "" && len(cm.Images) == 0 {
		return nil
	}
	return cm
}

// convertTools converts tool definitions to Ollama format.
func (c *Client) convertTools(tools []tool.Definition) []*apiTool {
	result := make([]*apiTool, len(tools))
	for i, t := range tools {
		result[i] = &apiTool{
			Type: "function",
			Function: &functionDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		}
	}
	return result
}

// parseResponse converts a non-streaming API response to an AssistantMessage.
func (c *Client) parseResponse(resp *chatResponse) (message.AssistantMessage, model.Usage, error) {
	var parts []message.Part
	hasToolCalls := false

	if resp.Message != nil {
		if resp.Message.Thinking != "" {
			id := model.NewThinkingID()
			parts = append(parts, message.ThinkingTextPart{ID: id, Text: resp.Message.Thinking})
		}
		if resp.Message.Content != "" {
			parts = append(parts, message.TextPart{Text: resp.Message.Content})
		}
		for i, tc := range resp.Message.ToolCalls {
			if tc.Function == nil {
				continue
			}
			parts = append(parts, message.ToolCallPart{
				ID:        fmt.Sprintf("call_%d", i),
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			})
			hasToolCalls = true
		}
	}

	stopReason := message.StopReasonEndTurn
	if hasToolCalls {
		stopReason = message.StopReasonToolCalls
	} else if resp.DoneReason == "length" {
		stopReason = message.StopReasonLength
	}

	usage := model.Usage{
		PromptTokens:     resp.PromptEvalCount,
		CompletionTokens: resp.EvalCount,
		TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
	}

	return message.AssistantMessage{Parts: parts, StopReason: stopReason}, usage, nil
}

// API types

type chatRequest struct {
	Model     string         `json:"model"`
	Messages  []*chatMessage `json:"messages"`
	Tools     []*apiTool     `json:"tools,omitempty"`
	Format    any            `json:"format,omitempty"`
	Options   map[string]any `json:"options,omitempty"`
	Stream    bool           `json:"stream"`
	KeepAlive string         `json:"keep_alive,omitempty"`
	Think     bool           `json:"think,omitempty"`
}

type chatMessage struct {
	Role      string      `json:"role"`
	Content   string      `json:"content"`
	Images    []string    `json:"images,omitempty"`
	ToolCalls []*toolCall `json:"tool_calls,omitempty"`
	ToolName  string      `json:"tool_name,omitempty"`
	Thinking  string      `json:"thinking,omitempty"`
}

type toolCall struct {
	Function *functionCall `json:"function,omitempty"`
}

type functionCall struct {
	Index     int            `json:"index,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type apiTool struct {
	Type     string       `json:"type"`
	Function *functionDef `json:"function"`
}

type functionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type chatResponse struct {
	Model              string       `json:"model"`
	CreatedAt          string       `json:"created_at"`
	Message            *chatMessage `json:"message,omitempty"`
	Done               bool         `json:"done"`
	DoneReason         string       `json:"done_reason,omitempty"`
	TotalDuration      int64        `json:"total_duration,omitempty"`
	LoadDuration       int64        `json:"load_duration,omitempty"`
	PromptEvalCount    int          `json:"prompt_eval_count,omitempty"`
	PromptEvalDuration int64        `json:"prompt_eval_duration,omitempty"`
	EvalCount          int          `json:"eval_count,omitempty"`
	EvalDuration       int64        `json:"eval_duration,omitempty"`
}

// Ensure Client implements model.LLM
var _ model.LLM = (*Client)(nil)
