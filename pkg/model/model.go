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

// Package model defines the streaming LLM adapter contract (spec.md §4.B).
//
// Every provider package (anthropic, openai, gemini, ollama) implements LLM.
// GenerateContent returns iter.Seq2[StreamItem, error]: a single ordered
// stream of the ten item kinds spec.md §4.B names, not a Partial-bool
// collapsed Response. Callers that only need the final aggregated message
// drive the iterator through an Aggregator.
package model

import (
	"context"
	"iter"

	"github.com/coda-run/coda/pkg/message"
	"github.com/coda-run/coda/pkg/tool"
)

// LLM is the interface every provider adapter implements.
type LLM interface {
	// Name returns the model identifier (e.g. "claude-sonnet-4-20250514").
	Name() string

	// Provider returns the provider type.
	Provider() Provider

	// GenerateContent streams a single assistant turn for req. The returned
	// iterator is ordered per spec.md §4.B's ordering contract: any
	// ThinkingDelta items for a given block precede its ThinkingSignature;
	// ToolCallStart precedes that call's ToolCallArgsDelta items, which
	// precede its ToolCall; the stream ends with exactly one AssistantMessage
	// or exactly one StreamError, never both.
	//
	// Cancelling ctx stops the stream. A streaming call then ends with an
	// AssistantMessage whose StopReason is StopReasonAborted; a non-streaming
	// call ends with a StreamError wrapping the context error.
	GenerateContent(ctx context.Context, req *Request, stream bool) iter.Seq2[StreamItem, error]

	// Close releases resources held by the adapter (HTTP connections, etc).
	Close() error
}

// Provider identifies the LLM provider, used for message-shape translation.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
	ProviderOllama    Provider = "ollama"
	ProviderUnknown   Provider = "unknown"
)

// Request is the LLMCallParameter of spec.md §4.B.
type Request struct {
	// Messages is the conversation, already codec-neutral.
	Messages []message.Message

	// Tools available for the model to call this turn.
	Tools []tool.Definition

	// Config contains generation parameters.
	Config *GenerateConfig
}

// GenerateConfig contains configuration for generation.
type GenerateConfig struct {
	Temperature *float64
	MaxTokens   *int
	TopP        *float64
	TopK        *int

	StopSequences []string

	ResponseMIMEType     string
	ResponseSchema       map[string]any
	ResponseSchemaName   string
	ResponseSchemaStrict *bool

	EnableThinking bool
	ThinkingBudget int

	Metadata map[string]string
}

// Clone creates a deep copy of the GenerateConfig so callers can mutate a
// per-request copy without affecting a shared agent profile.
func (c *GenerateConfig) Clone() *GenerateConfig {
	if c == nil {
		return nil
	}

	clone := *c

	if c.Temperature != nil {
		v := *c.Temperature
		clone.Temperature = &v
	}
	if c.MaxTokens != nil {
		v := *c.MaxTokens
		clone.MaxTokens = &v
	}
	if c.TopP != nil {
		v := *c.TopP
		clone.TopP = &v
	}
	if c.TopK != nil {
		v := *c.TopK
		clone.TopK = &v
	}
	if c.StopSequences != nil {
		clone.StopSequences = append([]string(nil), c.StopSequences...)
	}
	if c.ResponseSchema != nil {
		clone.ResponseSchema = deepCopyMap(c.ResponseSchema)
	}
	if c.ResponseSchemaStrict != nil {
		v := *c.ResponseSchemaStrict
		clone.ResponseSchemaStrict = &v
	}
	if c.Metadata != nil {
		clone.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			clone.Metadata[k] = v
		}
	}

	return &clone
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	result := make(map[string]any, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case map[string]any:
			result[k] = deepCopyMap(val)
		case []any:
			result[k] = deepCopySlice(val)
		default:
			result[k] = v
		}
	}
	return result
}

func deepCopySlice(s []any) []any {
	if s == nil {
		return nil
	}
	result := make([]any, len(s))
	for i, v := range s {
		switch val := v.(type) {
		case map[string]any:
			result[i] = deepCopyMap(val)
		case []any:
			result[i] = deepCopySlice(val)
		default:
			result[i] = v
		}
	}
	return result
}

// Usage contains token usage statistics for one assistant turn.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	ThinkingTokens   int
}
