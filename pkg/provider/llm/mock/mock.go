// Package mock provides a test double for the llm.Provider interface.
//
// Example:
//
//	p := &mock.Provider{
//	    StreamScript: [][]llm.Chunk{
//	        {{FinishReason: "tool_calls", ToolCalls: []types.ToolCall{call}}},
//	        {{Text: "Timer set.", FinishReason: "stop"}},
//	    },
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/earshot/pkg/provider/llm"
	"github.com/MrWong99/earshot/pkg/types"
)

// Call records a single StreamCompletion or Complete invocation.
type Call struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider is a mock implementation of llm.Provider. Zero values make every
// method return zero values and nil errors.
type Provider struct {
	mu sync.Mutex

	// StreamScript holds the chunks for successive StreamCompletion calls.
	// Once exhausted, StreamChunks is used.
	StreamScript [][]llm.Chunk

	// StreamChunks is emitted by every StreamCompletion call not covered by
	// StreamScript.
	StreamChunks []llm.Chunk

	// StreamErr, if non-nil, is returned by StreamCompletion.
	StreamErr error

	CompleteResponse *llm.CompletionResponse
	CompleteErr      error

	TokenCount     int
	CountTokensErr error

	ModelCapabilities types.ModelCapabilities

	StreamCalls   []Call
	CompleteCalls []Call
}

// StreamCompletion records the call and emits the next scripted chunks.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	p.mu.Lock()
	p.StreamCalls = append(p.StreamCalls, Call{Ctx: ctx, Req: req})
	if p.StreamErr != nil {
		err := p.StreamErr
		p.mu.Unlock()
		return nil, err
	}
	var chunks []llm.Chunk
	if len(p.StreamScript) > 0 {
		chunks, p.StreamScript = p.StreamScript[0], p.StreamScript[1:]
	} else {
		chunks = append([]llm.Chunk(nil), p.StreamChunks...)
	}
	p.mu.Unlock()

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
	}()
	return ch, nil
}

// Complete records the call and returns CompleteResponse, CompleteErr.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = append(p.CompleteCalls, Call{Ctx: ctx, Req: req})
	return p.CompleteResponse, p.CompleteErr
}

// CountTokens returns TokenCount, CountTokensErr.
func (p *Provider) CountTokens(_ []types.Message) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.TokenCount, p.CountTokensErr
}

// Capabilities returns ModelCapabilities.
func (p *Provider) Capabilities() types.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelCapabilities
}

// Streams returns a copy of the recorded StreamCompletion calls.
func (p *Provider) Streams() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.StreamCalls...)
}

var _ llm.Provider = (*Provider)(nil)
