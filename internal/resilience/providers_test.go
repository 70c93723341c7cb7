package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/llm"
	llmmock "github.com/MrWong99/earshot/pkg/provider/llm/mock"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	sttmock "github.com/MrWong99/earshot/pkg/provider/stt/mock"
	ttsmock "github.com/MrWong99/earshot/pkg/provider/tts/mock"
	"github.com/MrWong99/earshot/pkg/types"
)

var testCfg = FallbackConfig{CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3}}

func TestSTTFallback_Failover(t *testing.T) {
	primary := &sttmock.Provider{Err: errors.New("primary down")}
	secondary := &sttmock.Provider{Result: stt.Transcript{Text: "hello"}}
	fb := NewSTTFallback(primary, "primary", testCfg)
	fb.AddFallback("secondary", secondary)

	tr, err := fb.Transcribe(context.Background(), stt.Request{Segment: &audio.Segment{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Text != "hello" {
		t.Errorf("Text = %q", tr.Text)
	}
	if primary.CallCount() != 1 || secondary.CallCount() != 1 {
		t.Errorf("calls primary=%d secondary=%d", primary.CallCount(), secondary.CallCount())
	}
}

func TestSTTFallback_AllFail(t *testing.T) {
	fb := NewSTTFallback(&sttmock.Provider{Err: errors.New("down")}, "only", testCfg)
	if _, err := fb.Transcribe(context.Background(), stt.Request{}); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestTTSFallback_ConvertsToPrimaryFormat(t *testing.T) {
	primary := &ttsmock.Provider{
		SynthesizeErr: errors.New("primary down"),
		FormatResult:  audio.Format{SampleRate: 16000, Channels: 1, BitDepth: 16},
	}
	// Stereo fallback; each 4-byte frame collapses to one mono sample.
	secondary := &ttsmock.Provider{
		SynthesizeChunks: [][]byte{{1, 0, 3, 0, 5, 0, 7, 0}},
		FormatResult:     audio.Format{SampleRate: 16000, Channels: 2, BitDepth: 16},
	}
	fb := NewTTSFallback(primary, "primary", testCfg)
	fb.AddFallback("secondary", secondary)

	text := make(chan string, 1)
	text <- "hello"
	close(text)
	out, err := fb.SynthesizeStream(context.Background(), text, types.VoiceProfile{ID: "v1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var total int
	for chunk := range out {
		total += len(chunk)
	}
	if total != 4 {
		t.Errorf("got %d bytes, want 4 after stereo to mono", total)
	}
	if fb.Format() != primary.FormatResult {
		t.Errorf("Format = %v", fb.Format())
	}
	if calls := secondary.Calls(); len(calls) != 1 || calls[0].Text != "hello" || calls[0].Voice.ID != "v1" {
		t.Errorf("secondary calls = %+v", calls)
	}
}

func TestTTSFallback_ListVoices(t *testing.T) {
	fb := NewTTSFallback(&ttsmock.Provider{ListVoicesResult: []types.VoiceProfile{{ID: "a"}}}, "p", testCfg)
	voices, err := fb.ListVoices(context.Background())
	if err != nil || len(voices) != 1 {
		t.Fatalf("ListVoices = %v, %v", voices, err)
	}
}

func TestLLMFallback(t *testing.T) {
	primary := &llmmock.Provider{
		StreamErr:         errors.New("primary down"),
		TokenCount:        42,
		ModelCapabilities: types.ModelCapabilities{ContextWindow: 1000},
	}
	secondary := &llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "hi", FinishReason: "stop"}}}
	fb := NewLLMFallback(primary, "primary", testCfg)
	fb.AddFallback("secondary", secondary)

	ch, err := fb.StreamCompletion(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var text string
	for c := range ch {
		text += c.Text
	}
	if text != "hi" {
		t.Errorf("text = %q", text)
	}
	if n, _ := fb.CountTokens(nil); n != 42 {
		t.Errorf("CountTokens = %d, want primary's 42", n)
	}
	if fb.Capabilities().ContextWindow != 1000 {
		t.Errorf("Capabilities = %+v", fb.Capabilities())
	}
}
