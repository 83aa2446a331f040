package event

import (
	"encoding/json"
	"fmt"
)

// envelope is the on-wire shape for every Event: a "type" discriminator plus
// the concrete type's own fields, JSON-encoded under a nested "body" key,
// mirroring pkg/message/codec.go's envelope convention.
type envelope struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body"`
}

func encode(typ string, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("event: encode %s: %w", typ, err)
	}
	return json.Marshal(envelope{Type: typ, Body: body})
}

// Encode serializes an Event to its envelope form for transport (pkg/server's
// SSE data frames and history-item response).
func Encode(e Event) ([]byte, error) {
	switch v := e.(type) {
	case ThinkingStartEvent:
		return encode("thinking_start", v)
	case ThinkingDeltaEvent:
		return encode("thinking_delta", v)
	case ThinkingEndEvent:
		return encode("thinking_end", v)
	case AssistantTextStartEvent:
		return encode("assistant_text_start", v)
	case AssistantTextDeltaEvent:
		return encode("assistant_text_delta", v)
	case AssistantTextEndEvent:
		return encode("assistant_text_end", v)
	case AssistantImageDeltaEvent:
		return encode("assistant_image_delta", v)
	case ToolCallStartEvent:
		return encode("tool_call_start", v)
	case ToolResultEvent:
		return encode("tool_result", v)
	case ResponseMetadataEvent:
		return encode("response_metadata", v)
	case TurnEndEvent:
		return encode("turn_end", v)
	case UserMessageEvent:
		return encode("user_message", v)
	case TaskStartEvent:
		return encode("task_start", v)
	case TaskFinishEvent:
		return encode("task_finish", v)
	case CompactionStartEvent:
		return encode("compaction_start", v)
	case CompactionEndEvent:
		return encode("compaction_end", v)
	case BacktrackEvent:
		return encode("backtrack", v)
	case InterruptEvent:
		return encode("interrupt", v)
	case ErrorEvent:
		return encode("error", errorWire{Message: v.Err.Error(), Transient: v.Transient})
	default:
		return nil, fmt.Errorf("event: unknown event type %T", e)
	}
}

// errorWire is ErrorEvent's wire shape: error is not itself JSON-serializable,
// so it travels as a plain message string.
type errorWire struct {
	Message   string `json:"message"`
	Transient bool   `json:"transient"`
}

// Decode deserializes an Event from its envelope form; it is the inverse of
// Encode.
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("event: decode envelope: %w", err)
	}
	switch env.Type {
	case "thinking_start":
		var v ThinkingStartEvent
		return v, unmarshalBody(env.Body, &v)
	case "thinking_delta":
		var v ThinkingDeltaEvent
		return v, unmarshalBody(env.Body, &v)
	case "thinking_end":
		var v ThinkingEndEvent
		return v, unmarshalBody(env.Body, &v)
	case "assistant_text_start":
		var v AssistantTextStartEvent
		return v, unmarshalBody(env.Body, &v)
	case "assistant_text_delta":
		var v AssistantTextDeltaEvent
		return v, unmarshalBody(env.Body, &v)
	case "assistant_text_end":
		var v AssistantTextEndEvent
		return v, unmarshalBody(env.Body, &v)
	case "assistant_image_delta":
		var v AssistantImageDeltaEvent
		return v, unmarshalBody(env.Body, &v)
	case "tool_call_start":
		var v ToolCallStartEvent
		return v, unmarshalBody(env.Body, &v)
	case "tool_result":
		var v ToolResultEvent
		return v, unmarshalBody(env.Body, &v)
	case "response_metadata":
		var v ResponseMetadataEvent
		return v, unmarshalBody(env.Body, &v)
	case "turn_end":
		var v TurnEndEvent
		return v, unmarshalBody(env.Body, &v)
	case "user_message":
		var v UserMessageEvent
		return v, unmarshalBody(env.Body, &v)
	case "task_start":
		var v TaskStartEvent
		return v, unmarshalBody(env.Body, &v)
	case "task_finish":
		var v TaskFinishEvent
		return v, unmarshalBody(env.Body, &v)
	case "compaction_start":
		var v CompactionStartEvent
		return v, unmarshalBody(env.Body, &v)
	case "compaction_end":
		var v CompactionEndEvent
		return v, unmarshalBody(env.Body, &v)
	case "backtrack":
		var v BacktrackEvent
		return v, unmarshalBody(env.Body, &v)
	case "interrupt":
		var v InterruptEvent
		return v, unmarshalBody(env.Body, &v)
	case "error":
		var w errorWire
		if err := unmarshalBody(env.Body, &w); err != nil {
			return nil, err
		}
		return ErrorEvent{Err: fmt.Errorf("%s", w.Message), Transient: w.Transient}, nil
	default:
		return nil, fmt.Errorf("event: unknown event type %q", env.Type)
	}
}

func unmarshalBody(body json.RawMessage, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("event: decode body: %w", err)
	}
	return nil
}
