// Package llm defines the Provider interface for the language model that
// answers a transcribed utterance.
//
// Implementors must be safe for concurrent use. Channels returned by
// StreamCompletion are closed by the implementation when the stream ends or
// the context is cancelled.
package llm

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"

	"github.com/MrWong99/earshot/pkg/types"
)

// FinishError is the FinishReason of a chunk that reports a mid-stream
// failure. Its Text carries the error message.
const FinishError = "error"

// Usage holds token accounting returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a reply.
// Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history.
	Messages []types.Message

	// Tools offered to the model. Ignored by providers whose model lacks
	// tool calling.
	Tools []types.ToolDefinition

	// Temperature in [0, 2]. Zero selects the provider default.
	Temperature float64

	// MaxTokens caps completion tokens. Zero selects the provider default.
	MaxTokens int

	// SystemPrompt is prepended as a system message.
	SystemPrompt string
}

// Chunk is a fragment of a streaming completion. A chunk may carry text, tool
// calls, a finish reason, or any combination.
type Chunk struct {
	Text string

	// FinishReason is empty on non-final chunks. Common values are "stop",
	// "length", "tool_calls" and FinishError.
	FinishReason string

	// ToolCalls are complete (fully accumulated) invocations, delivered on
	// the final chunk.
	ToolCalls []types.ToolCall
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	Content   string
	ToolCalls []types.ToolCall
	Usage     Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// StreamCompletion starts a completion and returns a channel of chunks.
	// The returned error is non-nil only when the stream could not start;
	// later failures arrive as a chunk with FinishReason FinishError. The
	// channel is never nil when the error is nil.
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// Complete waits for the full reply.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates the context-window cost of messages. It may
	// overcount but should not undercount.
	CountTokens(messages []types.Message) (int, error)

	// Capabilities reports static metadata about the underlying model.
	Capabilities() types.ModelCapabilities
}

// Split fans a chunk stream out into a text-only channel suitable for TTS
// and a result that becomes available once the stream ends. The text channel
// is closed when chunks closes or ctx is cancelled.
func Split(ctx context.Context, chunks <-chan Chunk) (<-chan string, <-chan *StreamResult) {
	text := make(chan string, 32)
	done := make(chan *StreamResult, 1)
	go func() {
		defer close(done)
		defer close(text)
		res := &StreamResult{}
		var sb strings.Builder
		defer func() {
			res.Text = sb.String()
			done <- res
		}()
		for {
			select {
			case <-ctx.Done():
				res.Err = ctx.Err()
				return
			case c, ok := <-chunks:
				if !ok {
					return
				}
				if c.FinishReason == FinishError {
					res.Err = errors.New(c.Text)
					continue
				}
				res.ToolCalls = append(res.ToolCalls, c.ToolCalls...)
				if c.FinishReason != "" {
					res.FinishReason = c.FinishReason
				}
				if c.Text == "" {
					continue
				}
				sb.WriteString(c.Text)
				select {
				case text <- c.Text:
				case <-ctx.Done():
					res.Err = ctx.Err()
					return
				}
			}
		}
	}()
	return text, done
}

// StreamResult summarises a completed stream.
type StreamResult struct {
	// Text is the full assistant reply.
	Text string

	// ToolCalls requested by the model.
	ToolCalls []types.ToolCall

	FinishReason string

	// Err is set if the stream reported an error or ctx was cancelled.
	Err error
}

// ToolCallAccumulator reassembles tool calls that a backend streams in
// fragments keyed by call index. The zero value is ready to use; it is not
// safe for concurrent use.
type ToolCallAccumulator struct {
	calls map[int]*types.ToolCall
}

// Add merges one fragment. Non-empty id and name replace earlier values;
// args is appended verbatim.
func (a *ToolCallAccumulator) Add(idx int, id, name, args string) {
	if a.calls == nil {
		a.calls = make(map[int]*types.ToolCall)
	}
	tc, ok := a.calls[idx]
	if !ok {
		tc = &types.ToolCall{}
		a.calls[idx] = tc
	}
	if id != "" {
		tc.ID = id
	}
	if name != "" {
		tc.Name = name
	}
	tc.Arguments += args
}

// Drain returns the collected calls in index order and resets a.
func (a *ToolCallAccumulator) Drain() []types.ToolCall {
	if len(a.calls) == 0 {
		return nil
	}
	out := make([]types.ToolCall, 0, len(a.calls))
	for _, idx := range slices.Sorted(maps.Keys(a.calls)) {
		out = append(out, *a.calls[idx])
	}
	clear(a.calls)
	return out
}
