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
	"context"
	"fmt"

	"github.com/coda-run/coda/pkg/message"
	"github.com/coda-run/coda/pkg/model"
)

// defaultCompactionPrompt is the system message for the dedicated
// compaction LLM call (spec.md §4.F). Overridable via Config.CompactionPrompt.
const defaultCompactionPrompt = `Summarize the conversation below into a concise brief that preserves every decision, constraint, and outstanding task a continuation would need. Do not include pleasantries or restate the instructions. Write only the summary.`

// Compactor runs the dedicated summarization call spec.md §4.F describes:
// "the task executor runs a dedicated compaction LLM call that summarizes
// history up to index k". It is a distinct, single-purpose LLM call rather
// than part of the turn executor's loop, mirroring the teacher's
// SummarizationService being a standalone collaborator of ContextManager
// rather than folded into the main reasoning flow.
type Compactor struct {
	LLM    model.LLM
	Prompt string
}

// Summarize produces a compaction summary for messages, driving the LLM
// non-streaming and collecting the final assistant text.
func (c *Compactor) Summarize(ctx context.Context, messages []message.Message) (string, error) {
	prompt := c.Prompt
	if prompt == "" {
		prompt = defaultCompactionPrompt
	}

	req := &model.Request{
		Messages: append([]message.Message{message.SystemMessage{Parts: []message.Part{message.TextPart{Text: prompt}}}}, messages...),
	}

	var finalText string
	for item, err := range c.LLM.GenerateContent(ctx, req, false) {
		if err != nil {
			return "", fmt.Errorf("task: compaction call: %w", err)
		}
		if am, ok := item.(model.AssistantMessage); ok {
			finalText = message.JoinTextParts(am.Message.Parts)
		}
	}
	if finalText == "" {
		return "", fmt.Errorf("task: compaction call produced no summary")
	}
	return finalText, nil
}
