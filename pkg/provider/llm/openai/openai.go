// Package openai provides an LLM provider backed by the OpenAI chat
// completions API or any server that speaks its wire protocol (llama.cpp,
// vLLM, LM Studio). Against a custom base URL the API key may be empty.
package openai

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/earshot/pkg/provider/llm"
	"github.com/MrWong99/earshot/pkg/types"
)

var _ llm.Provider = (*Provider)(nil)

// Provider implements [llm.Provider] over chat completions.
type Provider struct {
	client    oai.Client
	model     string
	maxTokens int
}

type settings struct {
	baseURL      string
	organization string
	timeout      time.Duration
	maxRetries   int
	maxTokens    int
}

// Option configures a [Provider].
type Option func(*settings)

// WithBaseURL points the client at an OpenAI-compatible server.
func WithBaseURL(url string) Option { return func(s *settings) { s.baseURL = url } }

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option { return func(s *settings) { s.organization = org } }

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option { return func(s *settings) { s.timeout = d } }

// WithMaxRetries sets how often the SDK retries a failed request. Negative
// values keep the SDK default.
func WithMaxRetries(n int) Option { return func(s *settings) { s.maxRetries = n } }

// WithMaxTokens caps completion length when a request does not set its own
// limit. Spoken replies rarely need more than a few hundred tokens.
func WithMaxTokens(n int) Option { return func(s *settings) { s.maxTokens = n } }

// New constructs a Provider for model. apiKey is required unless a base URL
// is given.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	s := settings{maxRetries: -1}
	for _, o := range opts {
		o(&s)
	}
	if apiKey == "" && s.baseURL == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, errors.New("openai: model must not be empty")
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if s.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(s.baseURL))
	}
	if s.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(s.organization))
	}
	if s.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: s.timeout}))
	}
	if s.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(s.maxRetries))
	}

	return &Provider{
		client:    oai.NewClient(reqOpts...),
		model:     model,
		maxTokens: s.maxTokens,
	}, nil
}

// StreamCompletion implements [llm.Provider]. Tool call fragments are
// accumulated and delivered whole on the final chunk; their arguments are
// passed through untouched.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("openai: build params: %w", err)
	}

	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("openai: start stream: %w", err)
	}

	ch := make(chan llm.Chunk, 32)
	go pump(ctx, stream, ch)
	return ch, nil
}

func pump(ctx context.Context, stream *ssestream.Stream[oai.ChatCompletionChunk], ch chan<- llm.Chunk) {
	defer close(ch)
	defer stream.Close()

	send := func(c llm.Chunk) bool {
		select {
		case ch <- c:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var calls llm.ToolCallAccumulator
	for stream.Next() {
		cur := stream.Current()
		if len(cur.Choices) == 0 {
			continue
		}
		choice := cur.Choices[0]
		for _, tc := range choice.Delta.ToolCalls {
			calls.Add(int(tc.Index), tc.ID, tc.Function.Name, tc.Function.Arguments)
		}

		out := llm.Chunk{Text: choice.Delta.Content, FinishReason: choice.FinishReason}
		if choice.FinishReason != "" {
			out.ToolCalls = calls.Drain()
		}
		if out.Text == "" && out.FinishReason == "" {
			continue
		}
		if !send(out) {
			return
		}
	}

	if err := stream.Err(); err != nil {
		send(llm.Chunk{FinishReason: llm.FinishError, Text: err.Error()})
	}
}

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("openai: build params: %w", err)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: empty choices in response")
	}

	msg := resp.Choices[0].Message
	out := &llm.CompletionResponse{
		Content: msg.Content,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, types.ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments})
	}
	return out, nil
}

// CountTokens implements [llm.Provider].
func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	return llm.EstimateTokens(messages), nil
}

// Capabilities implements [llm.Provider].
func (p *Provider) Capabilities() types.ModelCapabilities {
	return llm.LookupCapabilities(p.model)
}

func (p *Provider) buildParams(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	messages := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, oai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, msg)
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: messages,
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if n := cmp.Or(req.MaxTokens, p.maxTokens); n > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(n))
	}

	if p.Capabilities().SupportsToolCalling {
		for _, td := range req.Tools {
			params.Tools = append(params.Tools, oai.ChatCompletionToolParam{
				Function: shared.FunctionDefinitionParam{
					Name:        td.Name,
					Description: param.NewOpt(td.Description),
					Parameters:  shared.FunctionParameters(td.Parameters),
				},
			})
		}
	}
	return params, nil
}

func convertMessage(m types.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case "system":
		return oai.SystemMessage(m.Content), nil
	case "user":
		return oai.UserMessage(m.Content), nil
	case "tool":
		return oai.ToolMessage(m.Content, m.ToolCallID), nil
	case "assistant":
		asst := oai.ChatCompletionAssistantMessageParam{}
		if m.Content != "" {
			asst.Content.OfString = oai.String(m.Content)
		}
		if m.Name != "" {
			asst.Name = oai.String(m.Name)
		}
		for _, tc := range m.ToolCalls {
			asst.ToolCalls = append(asst.ToolCalls, oai.ChatCompletionMessageToolCallParam{
				ID: tc.ID,
				Function: oai.ChatCompletionMessageToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}, nil
	}
	return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unknown message role %q", m.Role)
}
