// Package mock provides a test double for [stt.Provider].
//
// Example:
//
//	p := &mock.Provider{Result: stt.Transcript{Text: "set a timer"}}
//	tr, _ := p.Transcribe(ctx, req)
package mock

import (
	"context"
	"io"
	"sync"

	"github.com/MrWong99/earshot/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Req is the request passed to Transcribe.
	Req stt.Request

	// WAV is the content of Req.WAV at call time, if it was set.
	WAV []byte
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Result is returned by every successful Transcribe call.
	Result stt.Transcript

	// Err, if non-nil, is returned by Transcribe.
	Err error

	// Hook, if set, runs before Transcribe returns. Tests use it to block
	// or to observe side effects at call time.
	Hook func(ctx context.Context, req stt.Request)

	// Calls records every call to Transcribe in order.
	Calls []TranscribeCall
}

// Transcribe records the call and returns Result, Err.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	var wav []byte
	if req.WAV != nil {
		if _, err := req.WAV.Seek(0, io.SeekStart); err == nil {
			wav, _ = io.ReadAll(req.WAV)
		}
	}
	p.mu.Lock()
	p.Calls = append(p.Calls, TranscribeCall{Req: req, WAV: wav})
	hook, res, err := p.Hook, p.Result, p.Err
	p.mu.Unlock()

	if hook != nil {
		hook(ctx, req)
	}
	return res, err
}

// CallCount returns the number of Transcribe calls so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

var _ stt.Provider = (*Provider)(nil)
