package openai

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/earshot/pkg/provider/llm"
	"github.com/MrWong99/earshot/pkg/types"
)

func TestConvertMessage(t *testing.T) {
	tests := []struct {
		name  string
		msg   types.Message
		check func(t *testing.T, m types.Message)
	}{
		{"system", types.Message{Role: "system", Content: "You are helpful."}, func(t *testing.T, m types.Message) {
			p, _ := convertMessage(m)
			if p.OfSystem == nil {
				t.Fatal("expected OfSystem to be set")
			}
		}},
		{"user", types.Message{Role: "user", Content: "Hello!"}, func(t *testing.T, m types.Message) {
			p, _ := convertMessage(m)
			if p.OfUser == nil {
				t.Fatal("expected OfUser to be set")
			}
		}},
		{"assistant with tool calls", types.Message{
			Role:      "assistant",
			ToolCalls: []types.ToolCall{{ID: "call_1", Name: "set_timer", Arguments: `{"seconds":60}`}},
		}, func(t *testing.T, m types.Message) {
			p, _ := convertMessage(m)
			if p.OfAssistant == nil || len(p.OfAssistant.ToolCalls) != 1 {
				t.Fatalf("expected one assistant tool call, got %+v", p.OfAssistant)
			}
			tc := p.OfAssistant.ToolCalls[0]
			if tc.ID != "call_1" || tc.Function.Name != "set_timer" || tc.Function.Arguments != `{"seconds":60}` {
				t.Errorf("unexpected tool call %+v", tc)
			}
		}},
		{"tool", types.Message{Role: "tool", Content: "ok", ToolCallID: "call_1"}, func(t *testing.T, m types.Message) {
			p, _ := convertMessage(m)
			if p.OfTool == nil || p.OfTool.ToolCallID != "call_1" {
				t.Fatalf("expected tool message for call_1, got %+v", p.OfTool)
			}
		}},
		{"unknown", types.Message{Role: "narrator"}, func(t *testing.T, m types.Message) {
			if _, err := convertMessage(m); err == nil {
				t.Fatal("expected error for unknown role")
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) { tt.check(t, tt.msg) })
	}
}

func TestBuildParams_DropsToolsForModelsWithoutToolCalling(t *testing.T) {
	req := llm.CompletionRequest{
		Messages: []types.Message{{Role: "user", Content: "hi"}},
		Tools:    []types.ToolDefinition{{Name: "set_timer"}},
	}
	with, _ := (&Provider{model: "gpt-4o"}).buildParams(req)
	without, _ := (&Provider{model: "o1-mini"}).buildParams(req)
	if len(with.Tools) != 1 || len(without.Tools) != 0 {
		t.Errorf("tools: gpt-4o=%d o1-mini=%d", len(with.Tools), len(without.Tools))
	}
}

func TestCountTokens(t *testing.T) {
	p := &Provider{model: "gpt-4o"}
	count, err := p.CountTokens([]types.Message{{Role: "user", Content: "Hello world"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 7 {
		t.Errorf("count = %d, want 7", count)
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("expected error for empty API key")
	}
	if _, err := New("sk-test", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("sk-test", "gpt-4o", WithBaseURL("https://custom.example.com"), WithOrganization("org-123")); err != nil {
		t.Errorf("unexpected error with valid options: %v", err)
	}
}

// sseChunk renders one chat.completion.chunk event.
func sseChunk(delta, finish string) string {
	fr := "null"
	if finish != "" {
		fr = fmt.Sprintf("%q", finish)
	}
	return fmt.Sprintf(`data: {"id":"c","object":"chat.completion.chunk","created":1,"model":"gpt-4o","choices":[{"index":0,"delta":%s,"finish_reason":%s}]}`+"\n\n", delta, fr)
}

func TestStreamCompletion_AccumulatesToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseChunk(`{"content":"On it."}`, ""))
		fmt.Fprint(w, sseChunk(`{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"set_timer","arguments":"{\"sec"}}]}`, ""))
		fmt.Fprint(w, sseChunk(`{"tool_calls":[{"index":0,"function":{"arguments":"onds\":5}"}}]}`, ""))
		fmt.Fprint(w, sseChunk(`{}`, "tool_calls"))
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p, err := New("sk-test", "gpt-4o", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ch, err := p.StreamCompletion(context.Background(), llm.CompletionRequest{
		Messages: []types.Message{{Role: "user", Content: "set a timer for five seconds"}},
	})
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}

	var text string
	var calls []types.ToolCall
	for c := range ch {
		if c.FinishReason == llm.FinishError {
			t.Fatalf("stream error: %s", c.Text)
		}
		text += c.Text
		calls = append(calls, c.ToolCalls...)
	}
	if text != "On it." {
		t.Errorf("text = %q", text)
	}
	want := types.ToolCall{ID: "call_1", Name: "set_timer", Arguments: `{"seconds":5}`}
	if len(calls) != 1 || calls[0] != want {
		t.Errorf("tool calls = %+v, want [%+v]", calls, want)
	}
}

func TestNew_BaseURLWithoutKey(t *testing.T) {
	if _, err := New("", "llama-3.2", WithBaseURL("http://localhost:8081/v1")); err != nil {
		t.Errorf("local server without key: %v", err)
	}
}

func TestBuildParams_MaxTokensDefault(t *testing.T) {
	p := &Provider{model: "gpt-4o", maxTokens: 200}
	req := llm.CompletionRequest{Messages: []types.Message{{Role: "user", Content: "hi"}}}

	params, err := p.buildParams(req)
	if err != nil {
		t.Fatalf("buildParams: %v", err)
	}
	if got := params.MaxCompletionTokens.Value; got != 200 {
		t.Errorf("default max tokens = %d, want 200", got)
	}

	req.MaxTokens = 50
	params, _ = p.buildParams(req)
	if got := params.MaxCompletionTokens.Value; got != 50 {
		t.Errorf("request max tokens = %d, want 50", got)
	}
}
