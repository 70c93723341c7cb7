package llm_test

import (
	"context"
	"testing"

	"github.com/MrWong99/earshot/pkg/provider/llm"
	"github.com/MrWong99/earshot/pkg/types"
)

func feed(chunks ...llm.Chunk) <-chan llm.Chunk {
	ch := make(chan llm.Chunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch
}

func TestSplit_TextAndToolCalls(t *testing.T) {
	call := types.ToolCall{ID: "c1", Name: "set_timer", Arguments: `{"seconds":5}`}
	text, done := llm.Split(context.Background(), feed(
		llm.Chunk{Text: "Sure, "},
		llm.Chunk{Text: "setting it."},
		llm.Chunk{FinishReason: "tool_calls", ToolCalls: []types.ToolCall{call}},
	))

	var got string
	for s := range text {
		got += s
	}
	res := <-done
	if got != "Sure, setting it." || res.Text != got {
		t.Errorf("text = %q, result text = %q", got, res.Text)
	}
	if res.Err != nil {
		t.Errorf("Err = %v", res.Err)
	}
	if res.FinishReason != "tool_calls" || len(res.ToolCalls) != 1 || res.ToolCalls[0] != call {
		t.Errorf("result = %+v", res)
	}
}

func TestSplit_ErrorChunk(t *testing.T) {
	text, done := llm.Split(context.Background(), feed(
		llm.Chunk{Text: "partial"},
		llm.Chunk{FinishReason: llm.FinishError, Text: "connection reset"},
	))
	for range text {
	}
	res := <-done
	if res.Err == nil || res.Err.Error() != "connection reset" {
		t.Errorf("Err = %v, want connection reset", res.Err)
	}
	if res.Text != "partial" {
		t.Errorf("Text = %q", res.Text)
	}
}

func TestSplit_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	chunks := make(chan llm.Chunk)
	text, done := llm.Split(ctx, chunks)
	cancel()
	for range text {
	}
	if res := <-done; res.Err == nil {
		t.Error("expected context error")
	}
}

func TestToolCallAccumulator_DrainOrdersByIndex(t *testing.T) {
	var acc llm.ToolCallAccumulator
	acc.Add(2, "call_c", "set_timer", `{"seconds":`)
	acc.Add(0, "call_a", "set_timer", `{}`)
	acc.Add(2, "", "", `30}`)

	got := acc.Drain()
	want := []types.ToolCall{
		{ID: "call_a", Name: "set_timer", Arguments: `{}`},
		{ID: "call_c", Name: "set_timer", Arguments: `{"seconds":30}`},
	}
	if len(got) != len(want) {
		t.Fatalf("Drain() = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if again := acc.Drain(); again != nil {
		t.Errorf("second Drain() = %+v, want nil", again)
	}
}
