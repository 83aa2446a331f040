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
	"fmt"

	"github.com/coda-run/coda/pkg/message"
)

// buildMessages turns the physical, append-only history.jsonl record into
// the logical message list a turn executor sees: a BacktrackEntry elides
// the events between its ToIndex and itself rather than deleting them (the
// log never shrinks, per spec.md §4.F), and the latest CompactionEntry
// substitutes everything up to its EndIndex with one DeveloperMessage
// summary, exactly as spec.md §4.F's "LLM input builders must substitute"
// rule requires.
func buildMessages(history []message.HistoryEvent) []message.Message {
	excluded := make(map[int]bool)
	compactEnd, compactSummary := -1, ""
	for _, e := range history {
		switch v := e.(type) {
		case message.BacktrackEntry:
			for i := v.ToIndex; i < v.Index; i++ {
				excluded[i] = true
			}
		case message.CompactionEntry:
			if v.EndIndex > compactEnd {
				compactEnd = v.EndIndex
				compactSummary = v.Summary
			}
		}
	}

	var out []message.Message
	substituted := false
	for _, e := range history {
		idx := historyIndex(e)
		if compactEnd >= 0 && idx < compactEnd {
			if !substituted {
				out = append(out, message.DeveloperMessage{Parts: []message.Part{message.TextPart{Text: compactSummary}}})
				substituted = true
			}
			continue
		}
		if excluded[idx] {
			continue
		}

		switch v := e.(type) {
		case message.MessageEntry:
			out = append(out, v.Message)
		case message.CheckpointEntry:
			out = append(out, message.DeveloperMessage{Parts: []message.Part{message.TextPart{Text: checkpointNote(v)}}})
		case message.BacktrackEntry:
			out = append(out, message.DeveloperMessage{Parts: []message.Part{message.TextPart{Text: backtrackNote(v)}}})
		case message.TaskStartEntry, message.TaskFinishEntry, message.CompactionEntry:
			// No LLM-visible content of their own.
		}
	}
	return out
}

func historyIndex(e message.HistoryEvent) int {
	switch v := e.(type) {
	case message.MessageEntry:
		return v.Index
	case message.TaskStartEntry:
		return v.Index
	case message.TaskFinishEntry:
		return v.Index
	case message.CheckpointEntry:
		return v.Index
	case message.CompactionEntry:
		return v.Index
	case message.BacktrackEntry:
		return v.Index
	default:
		return -1
	}
}

func checkpointNote(c message.CheckpointEntry) string {
	if c.Label != "" {
		return fmt.Sprintf("<system>Checkpoint %s</system>", c.Label)
	}
	return fmt.Sprintf("<system>Checkpoint %d</system>", c.Index)
}

func backtrackNote(b message.BacktrackEntry) string {
	if b.Reason != "" {
		return fmt.Sprintf("<system>Backtracked to entry %d: %s</system>", b.ToIndex, b.Reason)
	}
	return fmt.Sprintf("<system>Backtracked to entry %d</system>", b.ToIndex)
}
