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

package task

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/coda-run/coda/pkg/message"
)

// TokenCounter estimates the size of session history for the compaction
// trigger in spec.md §4.F ("total estimated token count exceeds
// threshold"). Encodings are cached per model, following the teacher's
// pkg/utils.TokenCounter.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
}

var (
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	encodingMu    sync.RWMutex
)

// NewTokenCounter returns a counter for model, falling back to cl100k_base
// when the model has no registered encoding (unrecognized or non-OpenAI
// model names, e.g. Claude/Gemini, which have no published tokenizer).
func NewTokenCounter(model string) (*TokenCounter, error) {
	encodingMu.RLock()
	cached, ok := encodingCache[model]
	encodingMu.RUnlock()
	if ok {
		return &TokenCounter{encoding: cached}, nil
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, err
		}
	}

	encodingMu.Lock()
	encodingCache[model] = enc
	encodingMu.Unlock()
	return &TokenCounter{encoding: enc}, nil
}

// CountText returns the token count of a single string.
func (tc *TokenCounter) CountText(text string) int {
	return len(tc.encoding.Encode(text, nil, nil))
}

// CountHistory estimates the token cost of a logical message list, adding
// the same per-message role/framing overhead the teacher's CountMessages
// applies for OpenAI-style chat formatting.
func (tc *TokenCounter) CountHistory(messages []message.Message) int {
	const tokensPerMessage = 3
	total := 3 // reply priming
	for _, m := range messages {
		total += tokensPerMessage
		total += tc.CountText(messageText(m))
	}
	return total
}

// messageText extracts the text content used for token estimation; tool
// call arguments and binary parts contribute their JSON/placeholder size
// rather than being fully encoded, which is an acceptable approximation for
// a trigger threshold rather than a billing figure.
func messageText(m message.Message) string {
	switch v := m.(type) {
	case message.SystemMessage:
		return message.JoinTextParts(v.Parts)
	case message.DeveloperMessage:
		return message.JoinTextParts(v.Parts)
	case message.UserMessage:
		return message.JoinTextParts(v.Parts)
	case message.AssistantMessage:
		return message.JoinTextParts(v.Parts)
	case message.ToolResultMessage:
		return v.OutputText
	default:
		return ""
	}
}
