package llm

import (
	"strings"

	"github.com/MrWong99/earshot/pkg/types"
)

type modelFamily struct {
	match           func(model string) bool
	context, output int
	tools           bool
}

func prefix(p string) func(string) bool   { return func(m string) bool { return strings.HasPrefix(m, p) } }
func contains(s string) func(string) bool { return func(m string) bool { return strings.Contains(m, s) } }

// families is searched in order; more specific names come first.
var families = []modelFamily{
	{prefix("gpt-4.1"), 1_047_576, 32_768, true},
	{prefix("gpt-4o"), 128_000, 16_384, true},
	{prefix("gpt-4-turbo"), 128_000, 4_096, true},
	{prefix("gpt-4"), 8_192, 4_096, true},
	{prefix("gpt-3.5-turbo"), 16_385, 4_096, true},
	{prefix("o1-mini"), 128_000, 65_536, false},
	{prefix("o1"), 200_000, 100_000, true},
	{prefix("o3"), 200_000, 100_000, true},
	{prefix("o4-mini"), 200_000, 100_000, true},
	{contains("claude-3-opus"), 200_000, 4_096, true},
	{prefix("claude"), 200_000, 8_192, true},
	{contains("gemini-1.5-pro"), 2_097_152, 8_192, true},
	{contains("gemini-2"), 1_048_576, 8_192, true},
	{contains("gemini-1.5-flash"), 1_048_576, 8_192, true},
	{prefix("gemini"), 128_000, 8_192, true},
}

// LookupCapabilities returns the limits of a known model family, matched
// case-insensitively by name. Unknown models get a 128k context, 4k output
// and tool calling.
func LookupCapabilities(model string) types.ModelCapabilities {
	caps := types.ModelCapabilities{
		SupportsToolCalling: true,
		SupportsStreaming:   true,
		ContextWindow:       128_000,
		MaxOutputTokens:     4_096,
	}
	lower := strings.ToLower(model)
	for _, f := range families {
		if f.match(lower) {
			caps.ContextWindow = f.context
			caps.MaxOutputTokens = f.output
			caps.SupportsToolCalling = f.tools
			break
		}
	}
	return caps
}

// EstimateTokens approximates token usage at four characters per token plus
// a fixed framing cost per message and tool call.
func EstimateTokens(messages []types.Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content)+3)/4 + 4
		for _, tc := range m.ToolCalls {
			total += (len(tc.Name)+len(tc.Arguments)+3)/4 + 2
		}
	}
	return total
}
