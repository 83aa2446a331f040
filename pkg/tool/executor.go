package tool

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/coda-run/coda/pkg/message"
)

// maxInlineOutput is the byte threshold past which a tool's result is
// truncated and offloaded to a side file (spec.md §4.C output truncation).
const maxInlineOutput = 16 * 1024

// Executor runs a batch of tool calls against a Registry, applying the
// execution policy of spec.md §4.C:
//  1. A call whose tool RequiresApproval is not run: RequestApproval is
//     called on its Context and its result is a success reading "awaiting
//     approval". The rest of the batch still runs; nothing pauses or
//     resumes it.
//  2. Remaining calls that are all ParallelSafe run concurrently.
//  3. Any call that is not ParallelSafe forces the rest of its batch to run
//     serially, in call order, to avoid interleaved shared-state mutation.
//  4. Output over maxInlineOutput is truncated and offloaded; the inline
//     result carries a pointer to the offload file.
type Executor struct {
	Registry *Registry
}

// NewExecutor creates an Executor bound to registry.
func NewExecutor(registry *Registry) *Executor {
	return &Executor{Registry: registry}
}

// Execute runs every call in calls and returns one ToolResult per call, in
// the same order, grounded on the teacher's errgroup fan-out pattern used
// for concurrent work elsewhere in the corpus (golang.org/x/sync/errgroup).
func (e *Executor) Execute(ctx context.Context, calls []ToolCall, contexts []Context) ([]ToolResult, error) {
	if len(calls) != len(contexts) {
		return nil, fmt.Errorf("tool: Execute: %d calls but %d contexts", len(calls), len(contexts))
	}

	results := make([]ToolResult, len(calls))

	allParallelSafe := true
	for _, c := range calls {
		t, err := e.Registry.Get(ctx, c.Name)
		if err != nil {
			allParallelSafe = false
			break
		}
		if !t.ParallelSafe() {
			allParallelSafe = false
			break
		}
	}

	if allParallelSafe && len(calls) > 1 {
		g, gctx := errgroup.WithContext(ctx)
		for i := range calls {
			i := i
			g.Go(func() error {
				results[i] = e.executeOne(gctx, calls[i], contexts[i])
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return results, nil
	}

	for i := range calls {
		results[i] = e.executeOne(ctx, calls[i], contexts[i])
	}
	return results, nil
}

func (e *Executor) executeOne(ctx context.Context, call ToolCall, tc Context) ToolResult {
	t, err := e.Registry.Get(ctx, call.Name)
	if err != nil {
		return ToolResult{ToolCallID: call.ID, Status: message.ToolResultError, Error: err.Error()}
	}

	if t.RequiresApproval() {
		tc.RequestApproval(fmt.Sprintf("Approve %s(%v)?", call.Name, call.Args))
		return ToolResult{ToolCallID: call.ID, Status: message.ToolResultSuccess, Content: "awaiting approval"}
	}

	switch impl := t.(type) {
	case CallableTool:
		out, err := impl.Call(tc, call.Args)
		if aborted(ctx) {
			return ToolResult{ToolCallID: call.ID, Status: message.ToolResultAborted, Error: "cancelled"}
		}
		if err != nil {
			return ToolResult{ToolCallID: call.ID, Status: message.ToolResultError, Error: err.Error()}
		}
		return e.finalize(call.ID, tc, fmt.Sprintf("%v", out["content"]))
	case StreamingTool:
		var last *Result
		for r, err := range impl.CallStreaming(tc, call.Args) {
			if err != nil {
				if aborted(ctx) {
					return ToolResult{ToolCallID: call.ID, Status: message.ToolResultAborted, Error: "cancelled"}
				}
				return ToolResult{ToolCallID: call.ID, Status: message.ToolResultError, Error: err.Error()}
			}
			if !r.Streaming {
				last = r
			}
		}
		if aborted(ctx) {
			return ToolResult{ToolCallID: call.ID, Status: message.ToolResultAborted, Error: "cancelled"}
		}
		if last == nil {
			return ToolResult{ToolCallID: call.ID, Status: message.ToolResultError, Error: "tool produced no final result"}
		}
		if last.Error != "" {
			return ToolResult{ToolCallID: call.ID, Status: message.ToolResultError, Error: last.Error}
		}
		return e.finalize(call.ID, tc, fmt.Sprintf("%v", last.Content))
	default:
		return ToolResult{ToolCallID: call.ID, Status: message.ToolResultError, Error: fmt.Sprintf("tool %q is neither callable nor streaming", call.Name)}
	}
}

// aborted reports whether ctx was cancelled, the sole condition spec.md
// §4.C reserves status="aborted" for — a tool-reported error or timeout is
// always status="error", never "aborted".
func aborted(ctx context.Context) bool {
	return ctx.Err() != nil
}

func (e *Executor) finalize(callID string, tc Context, content string) ToolResult {
	if len(content) <= maxInlineOutput {
		return ToolResult{ToolCallID: callID, Status: message.ToolResultSuccess, Content: content}
	}

	path, err := tc.Offload(content)
	if err != nil {
		return ToolResult{ToolCallID: callID, Status: message.ToolResultSuccess, Content: content[:maxInlineOutput]}
	}

	truncated := fmt.Sprintf("%s\n... [truncated, %d bytes total, full output at %s]", content[:maxInlineOutput], len(content), path)
	return ToolResult{
		ToolCallID: callID,
		Status:     message.ToolResultSuccess,
		Content:    truncated,
		Metadata:   map[string]any{"offload_path": path},
	}
}
