package message

import (
	"encoding/json"
	"fmt"
)

// envelope is the on-wire shape for every Part/Message/HistoryEvent: a
// "type" discriminator plus the concrete type's own fields, JSON-encoded
// under a nested "body" key.
type envelope struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body"`
}

func encode(typ string, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("message: encode %s: %w", typ, err)
	}
	return json.Marshal(envelope{Type: typ, Body: body})
}

// EncodePart serializes a Part to its envelope form.
func EncodePart(p Part) ([]byte, error) {
	switch v := p.(type) {
	case TextPart:
		return encode("text", v)
	case ImageURLPart:
		return encode("image_url", v)
	case ImageFilePart:
		return encode("image_file", v)
	case ThinkingTextPart:
		return encode("thinking_text", v)
	case ThinkingSignaturePart:
		return encode("thinking_signature", v)
	case ToolCallPart:
		return encode("tool_call", v)
	default:
		return nil, fmt.Errorf("message: unknown part type %T", p)
	}
}

// DecodePart deserializes a Part from its envelope form.
func DecodePart(data []byte) (Part, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("message: decode part envelope: %w", err)
	}
	switch env.Type {
	case "text":
		var v TextPart
		return v, unmarshalBody(env.Body, &v)
	case "image_url":
		var v ImageURLPart
		return v, unmarshalBody(env.Body, &v)
	case "image_file":
		var v ImageFilePart
		return v, unmarshalBody(env.Body, &v)
	case "thinking_text":
		var v ThinkingTextPart
		return v, unmarshalBody(env.Body, &v)
	case "thinking_signature":
		var v ThinkingSignaturePart
		return v, unmarshalBody(env.Body, &v)
	case "tool_call":
		var v ToolCallPart
		return v, unmarshalBody(env.Body, &v)
	default:
		return nil, fmt.Errorf("message: unknown part type %q", env.Type)
	}
}

func unmarshalBody(body json.RawMessage, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("message: decode part body: %w", err)
	}
	return nil
}

// rawParts and the *Wire structs below let Message variants carrying []Part
// round-trip through their own struct shape while still dispatching each
// Part through EncodePart/DecodePart.
type rawParts []json.RawMessage

func encodeParts(parts []Part) (rawParts, error) {
	out := make(rawParts, 0, len(parts))
	for _, p := range parts {
		b, err := EncodePart(p)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

func decodeParts(raw rawParts) ([]Part, error) {
	out := make([]Part, 0, len(raw))
	for _, b := range raw {
		p, err := DecodePart(b)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

type partsMessageWire struct {
	Parts rawParts `json:"parts"`
}

type assistantMessageWire struct {
	Parts      rawParts   `json:"parts"`
	StopReason StopReason `json:"stop_reason"`
}

type toolResultMessageWire struct {
	ToolCallID   string           `json:"call_id"`
	ToolName     string           `json:"tool_name"`
	Status       ToolResultStatus `json:"status"`
	OutputText   string           `json:"output_text"`
	Parts        rawParts         `json:"parts,omitempty"`
	UIExtra      map[string]any   `json:"ui_extra,omitempty"`
	SideEffects  []string         `json:"side_effects,omitempty"`
	TaskMetadata map[string]any   `json:"task_metadata,omitempty"`
}

// EncodeMessage serializes a Message to its envelope form.
func EncodeMessage(m Message) ([]byte, error) {
	switch v := m.(type) {
	case SystemMessage:
		parts, err := encodeParts(v.Parts)
		if err != nil {
			return nil, err
		}
		return encode("system", partsMessageWire{Parts: parts})
	case DeveloperMessage:
		parts, err := encodeParts(v.Parts)
		if err != nil {
			return nil, err
		}
		return encode("developer", partsMessageWire{Parts: parts})
	case UserMessage:
		parts, err := encodeParts(v.Parts)
		if err != nil {
			return nil, err
		}
		return encode("user", partsMessageWire{Parts: parts})
	case AssistantMessage:
		parts, err := encodeParts(v.Parts)
		if err != nil {
			return nil, err
		}
		return encode("assistant", assistantMessageWire{Parts: parts, StopReason: v.StopReason})
	case ToolResultMessage:
		parts, err := encodeParts(v.Parts)
		if err != nil {
			return nil, err
		}
		return encode("tool_result", toolResultMessageWire{
			ToolCallID:   v.ToolCallID,
			ToolName:     v.ToolName,
			Status:       v.Status,
			OutputText:   v.OutputText,
			Parts:        parts,
			UIExtra:      v.UIExtra,
			SideEffects:  v.SideEffects,
			TaskMetadata: v.TaskMetadata,
		})
	default:
		return nil, fmt.Errorf("message: unknown message type %T", m)
	}
}

// DecodeMessage deserializes a Message from its envelope form.
func DecodeMessage(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("message: decode message envelope: %w", err)
	}
	switch env.Type {
	case "system":
		var wire partsMessageWire
		if err := unmarshalBody(env.Body, &wire); err != nil {
			return nil, err
		}
		parts, err := decodeParts(wire.Parts)
		if err != nil {
			return nil, err
		}
		return SystemMessage{Parts: parts}, nil
	case "developer":
		var wire partsMessageWire
		if err := unmarshalBody(env.Body, &wire); err != nil {
			return nil, err
		}
		parts, err := decodeParts(wire.Parts)
		if err != nil {
			return nil, err
		}
		return DeveloperMessage{Parts: parts}, nil
	case "user":
		var wire partsMessageWire
		if err := unmarshalBody(env.Body, &wire); err != nil {
			return nil, err
		}
		parts, err := decodeParts(wire.Parts)
		if err != nil {
			return nil, err
		}
		return UserMessage{Parts: parts}, nil
	case "assistant":
		var wire assistantMessageWire
		if err := unmarshalBody(env.Body, &wire); err != nil {
			return nil, err
		}
		parts, err := decodeParts(wire.Parts)
		if err != nil {
			return nil, err
		}
		return AssistantMessage{Parts: parts, StopReason: wire.StopReason}, nil
	case "tool_result":
		var wire toolResultMessageWire
		if err := unmarshalBody(env.Body, &wire); err != nil {
			return nil, err
		}
		parts, err := decodeParts(wire.Parts)
		if err != nil {
			return nil, err
		}
		return ToolResultMessage{
			ToolCallID:   wire.ToolCallID,
			ToolName:     wire.ToolName,
			Status:       wire.Status,
			OutputText:   wire.OutputText,
			Parts:        parts,
			UIExtra:      wire.UIExtra,
			SideEffects:  wire.SideEffects,
			TaskMetadata: wire.TaskMetadata,
		}, nil
	default:
		return nil, fmt.Errorf("message: unknown message type %q", env.Type)
	}
}

type messageEntryWire struct {
	Index     int             `json:"index"`
	Timestamp json.RawMessage `json:"timestamp"`
	TaskID    string          `json:"task_id"`
	Message   json.RawMessage `json:"message"`
}

// EncodeHistoryEvent serializes a HistoryEvent to its envelope form.
func EncodeHistoryEvent(e HistoryEvent) ([]byte, error) {
	switch v := e.(type) {
	case MessageEntry:
		msg, err := EncodeMessage(v.Message)
		if err != nil {
			return nil, err
		}
		ts, err := json.Marshal(v.Timestamp)
		if err != nil {
			return nil, err
		}
		return encode("message", messageEntryWire{Index: v.Index, Timestamp: ts, TaskID: v.TaskID, Message: msg})
	case TaskStartEntry:
		return encode("task_start", v)
	case TaskFinishEntry:
		return encode("task_finish", v)
	case CheckpointEntry:
		return encode("checkpoint", v)
	case CompactionEntry:
		return encode("compaction", v)
	case BacktrackEntry:
		return encode("backtrack", v)
	default:
		return nil, fmt.Errorf("message: unknown history event type %T", e)
	}
}

// DecodeHistoryEvent deserializes a HistoryEvent from its envelope form.
func DecodeHistoryEvent(data []byte) (HistoryEvent, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("message: decode history envelope: %w", err)
	}
	switch env.Type {
	case "message":
		var wire messageEntryWire
		if err := unmarshalBody(env.Body, &wire); err != nil {
			return nil, err
		}
		msg, err := DecodeMessage(wire.Message)
		if err != nil {
			return nil, err
		}
		var entry MessageEntry
		entry.Index = wire.Index
		entry.TaskID = wire.TaskID
		entry.Message = msg
		if err := json.Unmarshal(wire.Timestamp, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("message: decode history timestamp: %w", err)
		}
		return entry, nil
	case "task_start":
		var v TaskStartEntry
		return v, unmarshalBody(env.Body, &v)
	case "task_finish":
		var v TaskFinishEntry
		return v, unmarshalBody(env.Body, &v)
	case "checkpoint":
		var v CheckpointEntry
		return v, unmarshalBody(env.Body, &v)
	case "compaction":
		var v CompactionEntry
		return v, unmarshalBody(env.Body, &v)
	case "backtrack":
		var v BacktrackEntry
		return v, unmarshalBody(env.Body, &v)
	default:
		return nil, fmt.Errorf("message: unknown history event type %q", env.Type)
	}
}
