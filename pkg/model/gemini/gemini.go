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

// Package gemini implements the model.LLM interface for Google Gemini models.
//
//   - Uses the official google.golang.org/genai SDK
//   - Unified GenerateContent method with a stream boolean
//   - Returns iter.Seq2[model.StreamItem, error], the ten stream-item kinds
//   - Uses model.Aggregator to assemble the final AssistantMessage
package gemini

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"iter"

	"google.golang.org/genai"

	"github.com/coda-run/coda/pkg/message"
	"github.com/coda-run/coda/pkg/model"
	"github.com/coda-run/coda/pkg/tool"
)

// Config contains configuration for the Gemini model.
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	TopP        float64
	TopK        int
}

// geminiModel implements model.LLM for Gemini.
type geminiModel struct {
	client *genai.Client
	name   string
	config Config
}

// New creates a new Gemini model instance.
func New(cfg Config) (model.LLM, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: cfg.APIKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &geminiModel{client: client, name: cfg.Model, config: cfg}, nil
}

// Name returns the model identifier.
func (m *geminiModel) Name() string {
	return m.name
}

// Provider returns the provider type.
func (m *geminiModel) Provider() model.Provider {
	return model.ProviderGemini
}

// Close releases resources.
func (m *geminiModel) Close() error {
	return nil
}

// GenerateContent produces a single assistant turn for req.
func (m *geminiModel) GenerateContent(ctx context.Context, req *model.Request, stream bool) iter.Seq2[model.StreamItem, error] {
	if stream {
		return m.generateStream(ctx, req)
	}

	return func(yield func(model.StreamItem, error) bool) {
		if !yield(model.ResponseStart{}, nil) {
			return
		}

		msg, usage, err := m.generate(ctx, req)
		if err != nil {
			yield(model.StreamError{Err: err}, nil)
			return
		}

		yield(model.AssistantMessage{Message: msg, Usage: usage}, nil)
	}
}

// generate performs non-streaming generation.
func (m *geminiModel) generate(ctx context.Context, req *model.Request) (message.AssistantMessage, model.Usage, error) {
	contents, systemInstruction := m.buildRequest(req)
	config := m.buildConfig(req.Config, systemInstruction, req.Tools)

	genResp, err := m.client.Models.GenerateContent(ctx, m.name, contents, config)
	if err != nil {
		return message.AssistantMessage{}, model.Usage{}, fmt.Errorf("gemini: generation failed: %w", err)
	}

	return m.parseResponse(genResp)
}

// geminiStreamState holds state accumulated while walking the Gemini stream.
type geminiStreamState struct {
	emittedCallIDs map[string]bool
	thinkingID     string
	usage          model.Usage
	stopReason     message.StopReason
}

// generateStream performs streaming generation, yielding each stream item as
// it arrives and a terminal AssistantMessage or StreamError.
func (m *geminiModel) generateStream(ctx context.Context, req *model.Request) iter.Seq2[model.StreamItem, error] {
	return func(yield func(model.StreamItem, error) bool) {
		contents, systemInstruction := m.buildRequest(req)
		config := m.buildConfig(req.Config, systemInstruction, req.Tools)

		if !yield(model.ResponseStart{}, nil) {
			return
		}

		agg := model.NewAggregator()
		state := &geminiStreamState{emittedCallIDs: make(map[string]bool)}

		for genResp, err := range m.client.Models.GenerateContentStream(ctx, m.name, contents, config) {
			if err != nil {
				if ctx.Err() != nil {
					yield(model.AssistantMessage{Message: abortedMessage()}, nil)
				} else {
					yield(model.StreamError{Err: fmt.Errorf("gemini: streaming error: %w", err)}, nil)
				}
				return
			}

			stop := false
			for item := range m.processStreamChunk(genResp, state, agg) {
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
			yield(model.StreamError{Err: fmt.Errorf("gemini: %w", err)}, nil)
			return
		}

		yield(model.AssistantMessage{Message: msg, Usage: state.usage}, nil)
	}
}

// processStreamChunk translates a single streaming chunk into zero or more
// StreamItems, folding state into agg along the way. Gemini delivers each
// function call whole rather than incrementally, so ToolCallStart,
// ToolCallArgsDelta and ToolCall are all emitted for the same part.
func (m *geminiModel) processStreamChunk(genResp *genai.GenerateContentResponse, state *geminiStreamState, agg *model.Aggregator) iter.Seq[model.StreamItem] {
	return func(yield func(model.StreamItem) bool) {
		if len(genResp.Candidates) == 0 {
			return
		}
		candidate := genResp.Candidates[0]

		if candidate.FinishReason != "" {
			state.stopReason = mapFinishReason(candidate.FinishReason)
		}
		if genResp.UsageMetadata != nil {
			state.usage = model.Usage{
				PromptTokens:     int(genResp.UsageMetadata.PromptTokenCount),
				CompletionTokens: int(genResp.UsageMetadata.CandidatesTokenCount),
				TotalTokens:      int(genResp.UsageMetadata.TotalTokenCount),
			}
		}

		if candidate.Content == nil {
			return
		}

		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				if part.Thought {
					if state.thinkingID == "" {
						state.thinkingID = model.NewThinkingID()
					}
					agg.ProcessThinkingDelta(state.thinkingID, part.Text)
					if !yield(model.ThinkingDelta{ID: state.thinkingID, Delta: part.Text}) {
						return
					}
				} else {
					agg.ProcessTextDelta(part.Text)
					if !yield(model.AssistantTextDelta{Delta: part.Text}) {
						return
					}
				}
			}

			if len(part.ThoughtSignature) > 0 && state.thinkingID != "" {
				sig := string(part.ThoughtSignature)
				agg.ProcessThinkingSignature(state.thinkingID, sig)
				if !yield(model.ThinkingSignature{ID: state.thinkingID, Signature: sig}) {
					return
				}
				state.thinkingID = ""
			}

			if part.FunctionCall != nil {
				callID := part.FunctionCall.ID
				if callID == "" {
					callID = generateStableFunctionCallID(part.FunctionCall.Name, part.FunctionCall.Args)
				}
				if state.emittedCallIDs[callID] {
					continue
				}
				state.emittedCallIDs[callID] = true

				agg.ProcessToolCallStart(callID, part.FunctionCall.Name)
				if !yield(model.ToolCallStart{ID: callID, Name: part.FunctionCall.Name}) {
					return
				}
				argsJSON, _ := json.Marshal(part.FunctionCall.Args)
				agg.ProcessToolCallArgsDelta(callID, string(argsJSON))
				if !yield(model.ToolCallArgsDelta{ID: callID, Delta: string(argsJSON)}) {
					return
				}
				if !yield(model.ToolCall{ID: callID, Name: part.FunctionCall.Name, Arguments: part.FunctionCall.Args}) {
					return
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

// generateStableFunctionCallID creates a stable ID for a function call based
// on name and args, for providers (Gemini) that don't always assign one -
// ensures the same call gets the same ID if sent again across chunks.
func generateStableFunctionCallID(name string, args map[string]any) string {
	data := map[string]any{"name": name, "args": args}
	jsonBytes, _ := json.Marshal(data)
	hash := sha256.Sum256(jsonBytes)
	return fmt.Sprintf("call_%x", hash[:8])
}

// buildRequest converts a model.Request to Gemini contents plus a separate
// system instruction content, pulling the leading SystemMessage out of the
// message list the way Gemini's API expects.
func (m *geminiModel) buildRequest(req *model.Request) ([]*genai.Content, *genai.Content) {
	var contents []*genai.Content
	var systemText string

	for _, msg := range req.Messages {
		switch v := msg.(type) {
		case message.SystemMessage:
			systemText = message.JoinTextParts(v.Parts)

		case message.DeveloperMessage:
			// Reaches here only for a caller that bypasses
			// AttachDeveloperMessages; Gemini has no developer role, so fold
			// it into a tagged user turn.
			contents = append(contents, &genai.Content{
				Role:  "user",
				Parts: []*genai.Part{{Text: "<developer_message>\n" + message.JoinTextParts(v.Parts) + "\n</developer_message>"}},
			})

		case message.UserMessage:
			if c := partsToContent(v.Parts, "user"); c != nil {
				contents = append(contents, c)
			}

		case message.AssistantMessage:
			if c := assistantToContent(v); c != nil {
				contents = append(contents, c)
			}

		case message.ToolResultMessage:
			result := v.OutputText
			if result == "" {
				result = "(no output)"
			}
			contents = append(contents, &genai.Content{
				Role: "function",
				Parts: []*genai.Part{{FunctionResponse: &genai.FunctionResponse{
					ID:       v.ToolCallID,
					Response: map[string]any{"result": result, "is_error": v.IsError()},
				}}},
			})
		}
	}

	var systemInstruction *genai.Content
	if systemText != "" {
		systemInstruction = &genai.Content{Parts: []*genai.Part{{Text: systemText}}, Role: "user"}
	}

	return contents, systemInstruction
}

// partsToContent converts user-turn message parts to a genai.Content.
func partsToContent(parts []message.Part, role string) *genai.Content {
	var gp []*genai.Part
	for _, p := range parts {
		switch v := p.(type) {
		case message.TextPart:
			gp = append(gp, &genai.Part{Text: v.Text})
		case message.ImageURLPart:
			gp = append(gp, &genai.Part{FileData: &genai.FileData{MIMEType: v.MimeType, FileURI: v.URL}})
		case message.ImageFilePart:
			gp = append(gp, &genai.Part{InlineData: &genai.Blob{MIMEType: v.MimeType, Data: v.Data}})
		}
	}
	if len(gp) == 0 {
		return nil
	}
	return &genai.Content{Parts: gp, Role: role}
}

// assistantToContent converts a prior AssistantMessage to a genai.Content,
// replaying thinking blocks with their thought signature so multi-turn
// function calling continuity is preserved.
func assistantToContent(v message.AssistantMessage) *genai.Content {
	sigs := make(map[string]string)
	for _, p := range v.Parts {
		if sp, ok := p.(message.ThinkingSignaturePart); ok {
			sigs[sp.ID] = sp.Signature
		}
	}

	var gp []*genai.Part
	for _, p := range v.Parts {
		switch tp := p.(type) {
		case message.TextPart:
			gp = append(gp, &genai.Part{Text: tp.Text})
		case message.ThinkingTextPart:
			part := &genai.Part{Text: tp.Text, Thought: true}
			if sig, ok := sigs[tp.ID]; ok {
				part.ThoughtSignature = []byte(sig)
			}
			gp = append(gp, part)
		case message.ThinkingSignaturePart:
			// folded into the preceding ThinkingTextPart above
		case message.ToolCallPart:
			gp = append(gp, &genai.Part{FunctionCall: &genai.FunctionCall{ID: tp.ID, Name: tp.Name, Args: tp.Arguments}})
		}
	}
	if len(gp) == 0 {
		return nil
	}
	return &genai.Content{Parts: gp, Role: "model"}
}

// buildConfig creates the Gemini generation config for a request.
func (m *geminiModel) buildConfig(cfg *model.GenerateConfig, systemInstruction *genai.Content, tools []tool.Definition) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{SystemInstruction: systemInstruction}

	if cfg != nil {
		if cfg.Temperature != nil {
			config.Temperature = genai.Ptr(float32(*cfg.Temperature))
		}
		if cfg.MaxTokens != nil {
			config.MaxOutputTokens = int32(*cfg.MaxTokens)
		}
		if cfg.TopP != nil {
			config.TopP = genai.Ptr(float32(*cfg.TopP))
		}
		if cfg.TopK != nil {
			config.TopK = genai.Ptr(float32(*cfg.TopK))
		}
		if len(cfg.StopSequences) > 0 {
			config.StopSequences = cfg.StopSequences
		}
		if cfg.ResponseMIMEType != "" {
			config.ResponseMIMEType = cfg.ResponseMIMEType
		}
		if cfg.ResponseSchema != nil {
			config.ResponseSchema = toGenaiSchema(cfg.ResponseSchema)
			if config.ResponseMIMEType == "" {
				config.ResponseMIMEType = "application/json"
			}
		}
		if cfg.EnableThinking {
			thinkingConfig := &genai.ThinkingConfig{IncludeThoughts: true}
			if cfg.ThinkingBudget > 0 {
				budget := int32(cfg.ThinkingBudget)
				thinkingConfig.ThinkingBudget = &budget
			}
			config.ThinkingConfig = thinkingConfig
		}
	}

	if config.Temperature == nil && m.config.Temperature > 0 {
		config.Temperature = genai.Ptr(float32(m.config.Temperature))
	}
	if config.MaxOutputTokens == 0 && m.config.MaxTokens > 0 {
		config.MaxOutputTokens = int32(m.config.MaxTokens)
	}

	if len(tools) > 0 {
		config.Tools = m.buildTools(tools)
	}

	return config
}

// buildTools converts tool definitions to Gemini tools.
func (m *geminiModel) buildTools(tools []tool.Definition) []*genai.Tool {
	var genaiTools []*genai.Tool
	for _, t := range tools {
		genaiTools = append(genaiTools, &genai.Tool{
			FunctionDeclarations: []*genai.FunctionDeclaration{{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  toGenaiSchema(t.Parameters),
			}},
		})
	}
	return genaiTools
}

// toGenaiSchema converts a JSON schema to a Gemini schema.
func toGenaiSchema(schema map[string]any) *genai.Schema {
	if schema == nil {
		return nil
	}

	s := &genai.Schema{}
	if t, ok := schema["type"].(string); ok {
		s.Type = genai.Type(t)
	}
	if desc, ok := schema["description"].(string); ok {
		s.Description = desc
	}
	if props, ok := schema["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				s.Properties[name] = toGenaiSchema(propMap)
			}
		}
	}
	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			if rs, ok := r.(string); ok {
				s.Required = append(s.Required, rs)
			}
		}
	}
	if items, ok := schema["items"].(map[string]any); ok {
		s.Items = toGenaiSchema(items)
	}
	if enum, ok := schema["enum"].([]any); ok {
		for _, e := range enum {
			if es, ok := e.(string); ok {
				s.Enum = append(s.Enum, es)
			}
		}
	}

	return s
}

// parseResponse converts a non-streaming Gemini response to an
// AssistantMessage.
func (m *geminiModel) parseResponse(genResp *genai.GenerateContentResponse) (message.AssistantMessage, model.Usage, error) {
	if len(genResp.Candidates) == 0 {
		return message.AssistantMessage{}, model.Usage{}, fmt.Errorf("gemini: empty response")
	}
	candidate := genResp.Candidates[0]

	var parts []message.Part
	hasToolCalls := false

	if candidate.Content != nil {
		var thinkingID string
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				if part.Thought {
					if thinkingID == "" {
						thinkingID = model.NewThinkingID()
					}
					parts = append(parts, message.ThinkingTextPart{ID: thinkingID, Text: part.Text})
				} else {
					parts = append(parts, message.TextPart{Text: part.Text})
				}
			}
			if len(part.ThoughtSignature) > 0 && thinkingID != "" {
				parts = append(parts, message.ThinkingSignaturePart{ID: thinkingID, Signature: string(part.ThoughtSignature)})
				thinkingID = ""
			}
			if part.FunctionCall != nil {
				id := part.FunctionCall.ID
				if id == "" {
					id = generateStableFunctionCallID(part.FunctionCall.Name, part.FunctionCall.Args)
				}
				parts = append(parts, message.ToolCallPart{ID: id, Name: part.FunctionCall.Name, Arguments: part.FunctionCall.Args})
				hasToolCalls = true
			}
		}
	}

	stopReason := mapFinishReason(candidate.FinishReason)
	if hasToolCalls {
		stopReason = message.StopReasonToolCalls
	}

	var usage model.Usage
	if genResp.UsageMetadata != nil {
		usage = model.Usage{
			PromptTokens:     int(genResp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(genResp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(genResp.UsageMetadata.TotalTokenCount),
		}
	}

	return message.AssistantMessage{Parts: parts, StopReason: stopReason}, usage, nil
}

// mapFinishReason converts a Gemini finish reason to a message.StopReason.
func mapFinishReason(reason genai.FinishReason) message.StopReason {
	switch reason {
	case genai.FinishReasonStop:
		return message.StopReasonEndTurn
	case genai.FinishReasonMaxTokens:
		return message.StopReasonLength
	default:
		return message.StopReasonEndTurn
	}
}

// Ensure geminiModel implements model.LLM
var _ model.LLM = (*geminiModel)(nil)
