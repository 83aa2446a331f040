package model

import (
	"strings"

	"github.com/google/uuid"

	"github.com/coda-run/coda/pkg/message"
)

// Aggregator accumulates a GenerateContent stream into a single
// message.AssistantMessage, grounded on v2/model/aggregator.go's
// StreamingAggregator but split to match the ten stream-item kinds instead
// of collapsing everything behind a Partial bool. Provider adapters each
// own one Aggregator per call and drive it from their SSE/chunk loop;
// callers that only want the final message range over GenerateContent and
// ignore every item except the terminal AssistantMessage/StreamError.
type Aggregator struct {
	text []string

	thinkingOrder []string
	thinkingText  map[string]*strings.Builder
	thinkingSig   map[string]string

	toolOrder []string
	toolName  map[string]string
	toolArgs  map[string]*strings.Builder

	usage      Usage
	stopReason message.StopReason
}

// NewAggregator creates an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		thinkingText: make(map[string]*strings.Builder),
		thinkingSig:  make(map[string]string),
		toolName:     make(map[string]string),
		toolArgs:     make(map[string]*strings.Builder),
	}
}

// ProcessTextDelta folds an AssistantTextDelta into the running text.
func (a *Aggregator) ProcessTextDelta(delta string) {
	a.text = append(a.text, delta)
}

// ProcessThinkingDelta folds a ThinkingDelta into the thinking block keyed by
// id, opening a new block the first time id is seen. id is used as given: an
// empty id is a key like any other, and no ID is generated here (adapters
// call NewThinkingID themselves).
func (a *Aggregator) ProcessThinkingDelta(id, delta string) {
	b, ok := a.thinkingText[id]
	if !ok {
		b = &strings.Builder{}
		a.thinkingText[id] = b
		a.thinkingOrder = append(a.thinkingOrder, id)
	}
	b.WriteString(delta)
}

// ProcessThinkingSignature records the verification signature for id.
func (a *Aggregator) ProcessThinkingSignature(id, signature string) {
	if _, ok := a.thinkingText[id]; !ok {
		a.thinkingText[id] = &strings.Builder{}
		a.thinkingOrder = append(a.thinkingOrder, id)
	}
	a.thinkingSig[id] = signature
}

// ProcessToolCallStart registers a new tool call by ID/name.
func (a *Aggregator) ProcessToolCallStart(id, name string) {
	if _, ok := a.toolArgs[id]; !ok {
		a.toolArgs[id] = &strings.Builder{}
		a.toolOrder = append(a.toolOrder, id)
	}
	a.toolName[id] = name
}

// ProcessToolCallArgsDelta folds an argument JSON chunk into the named call.
func (a *Aggregator) ProcessToolCallArgsDelta(id, delta string) {
	b, ok := a.toolArgs[id]
	if !ok {
		b = &strings.Builder{}
		a.toolArgs[id] = b
		a.toolOrder = append(a.toolOrder, id)
	}
	b.WriteString(delta)
}

// SetUsage records token usage reported by the provider.
func (a *Aggregator) SetUsage(u Usage) { a.usage = u }

// SetStopReason records the provider's stop/finish reason, translated to
// message.StopReason by the caller.
func (a *Aggregator) SetStopReason(r message.StopReason) { a.stopReason = r }

// NewThinkingID generates a fresh thinking-block ID, matching the teacher's
// "thinking_" + short-uuid convention (v2/model/aggregator.go).
func NewThinkingID() string {
	return "thinking_" + uuid.NewString()[:8]
}

// NewToolCallID generates a fresh tool-call ID for providers that don't
// assign one themselves.
func NewToolCallID() string {
	return "call_" + uuid.NewString()[:8]
}

// Close assembles the final message.AssistantMessage from everything
// accumulated so far. toolArgsDecoder parses each tool call's accumulated
// JSON-argument string into a map; adapters pass their own json.Unmarshal
// wrapper since argument decoding failures are provider-specific to report.
func (a *Aggregator) Close(toolArgsDecoder func(jsonArgs string) (map[string]any, error)) (message.AssistantMessage, error) {
	var parts []message.Part

	for _, id := range a.thinkingOrder {
		parts = append(parts, message.ThinkingTextPart{ID: id, Text: a.thinkingText[id].String()})
		if sig, ok := a.thinkingSig[id]; ok {
			parts = append(parts, message.ThinkingSignaturePart{ID: id, Signature: sig})
		}
	}

	if text := strings.Join(a.text, ""); text != "" {
		parts = append(parts, message.TextPart{Text: text})
	}

	for _, id := range a.toolOrder {
		args, err := toolArgsDecoder(a.toolArgs[id].String())
		if err != nil {
			return message.AssistantMessage{}, err
		}
		parts = append(parts, message.ToolCallPart{ID: id, Name: a.toolName[id], Arguments: args})
	}

	stopReason := a.stopReason
	if stopReason == "" {
		if len(a.toolOrder) > 0 {
			stopReason = message.StopReasonToolCalls
		} else {
			stopReason = message.StopReasonEndTurn
		}
	}

	return message.AssistantMessage{Parts: parts, StopReason: stopReason}, nil
}

// Usage returns the usage recorded via SetUsage.
func (a *Aggregator) Usage() Usage { return a.usage }
