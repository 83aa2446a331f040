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

package session

import (
	"fmt"

	"github.com/coda-run/coda/pkg/event"
	"github.com/coda-run/coda/pkg/message"
)

// GetHistoryItem translates the HistoryEvent at index i of session id into
// the UI replay-event sequence (spec.md §4.F get_history_item, §6 Replay),
// using the same event.Event vocabulary a live turn emits so a terminal
// renders a replayed session through the code path it already has for a
// live one.
func (s *Store) GetHistoryItem(id string, i int) ([]event.Event, error) {
	loaded, err := s.Load(id)
	if err != nil {
		return nil, fmt.Errorf("session: get history item %s: %w", id, err)
	}
	if i < 0 || i >= len(loaded.History) {
		return nil, fmt.Errorf("session: get history item %s: index %d out of range [0,%d)", id, i, len(loaded.History))
	}
	return translate(loaded.History, i)
}

// translate converts history[i] into zero or more replay events, resolving
// tool names for ToolResultMessage entries by scanning backward through
// history for the matching ToolCallPart (the entry itself only carries the
// call id, per spec.md §6's history.jsonl schema).
func translate(history []message.HistoryEvent, i int) ([]event.Event, error) {
	switch v := history[i].(type) {
	case message.MessageEntry:
		return translateMessage(history, i, v.Message)

	case message.TaskStartEntry:
		return []event.Event{event.TaskStartEvent{TaskID: v.TaskID}}, nil

	case message.TaskFinishEntry:
		return []event.Event{event.TaskFinishEvent{TaskID: v.TaskID, Aborted: v.Aborted}}, nil

	case message.CheckpointEntry:
		// Internal bookkeeping; carries no UI-visible replay event.
		return nil, nil

	case message.CompactionEntry:
		return []event.Event{
			event.CompactionStartEvent{},
			event.CompactionEndEvent{Summary: v.Summary},
		}, nil

	case message.BacktrackEntry:
		return []event.Event{event.BacktrackEvent{ToIndex: v.ToIndex, Reason: v.Reason}}, nil

	default:
		return nil, fmt.Errorf("session: replay: unknown history event %T", v)
	}
}

func translateMessage(history []message.HistoryEvent, i int, msg message.Message) ([]event.Event, error) {
	switch m := msg.(type) {
	case message.UserMessage:
		text := message.JoinTextParts(m.Parts)
		images := 0
		for _, p := range m.Parts {
			switch p.(type) {
			case message.ImageURLPart, message.ImageFilePart:
				images++
			}
		}
		return []event.Event{event.UserMessageEvent{Text: text, Images: images}}, nil

	case message.AssistantMessage:
		return translateAssistantParts(m.Parts), nil

	case message.ToolResultMessage:
		toolName := m.ToolName
		if toolName == "" {
			toolName = findToolName(history, i, m.ToolCallID)
		}
		aborted := m.Status == message.ToolResultAborted
		events := []event.Event{event.ToolResultEvent{
			ToolCallID: m.ToolCallID,
			ToolName:   toolName,
			Content:    m.OutputText,
			IsError:    m.IsError(),
			Aborted:    aborted,
		}}
		if aborted {
			events = append(events, event.InterruptEvent{})
		}
		return events, nil

	case message.SystemMessage, message.DeveloperMessage:
		// Not rendered; these shape the LLM request, not the UI transcript.
		return nil, nil

	default:
		return nil, fmt.Errorf("session: replay: unknown message type %T", m)
	}
}

// translateAssistantParts reconstructs the thinking/text/tool-call block
// boundaries a live turn would have emitted, from the final assembled Parts
// (spec.md §4.D step 3's ThinkingStart/Delta/End and AssistantTextStart/
// Delta/End pairing, collapsed here to one Delta per part since the
// intermediate deltas were never persisted).
func translateAssistantParts(parts []message.Part) []event.Event {
	var events []event.Event
	for _, p := range parts {
		switch v := p.(type) {
		case message.ThinkingTextPart:
			events = append(events,
				event.ThinkingStartEvent{ID: v.ID},
				event.ThinkingDeltaEvent{ID: v.ID, Delta: v.Text},
				event.ThinkingEndEvent{ID: v.ID},
			)
		case message.ThinkingSignaturePart:
			// The signature carries no UI-visible content of its own; the
			// matching ThinkingTextPart already closed its block above.
		case message.TextPart:
			events = append(events,
				event.AssistantTextStartEvent{},
				event.AssistantTextDeltaEvent{Delta: v.Text},
				event.AssistantTextEndEvent{},
			)
		case message.ToolCallPart:
			events = append(events, event.ToolCallStartEvent{ID: v.ID, Name: v.Name})
		}
	}
	return events
}

// findToolName scans backward from index i for the AssistantMessage entry
// whose ToolCallPart.ID matches callID, returning its Name.
func findToolName(history []message.HistoryEvent, i int, callID string) string {
	for j := i - 1; j >= 0; j-- {
		entry, ok := history[j].(message.MessageEntry)
		if !ok {
			continue
		}
		am, ok := entry.Message.(message.AssistantMessage)
		if !ok {
			continue
		}
		for _, p := range am.Parts {
			if tc, ok := p.(message.ToolCallPart); ok && tc.ID == callID {
				return tc.Name
			}
		}
	}
	return ""
}
