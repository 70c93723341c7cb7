// Package deepgram provides an STT provider backed by Deepgram's
// pre-recorded transcription endpoint. Each finalized segment is uploaded as
// a WAV body in a single request.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/earshot/pkg/provider/stt"
)

const (
	defaultBaseURL  = "https://api.deepgram.com"
	defaultModel    = "nova-3"
	defaultLanguage = "en"
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model (e.g. "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithLanguage sets the default BCP-47 language code (e.g. "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		if language != "" {
			p.language = language
		}
	}
}

// WithBaseURL overrides the API origin.
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		if u != "" {
			p.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithKeyterms boosts recognition of the given terms, typically the wake
// phrase and domain vocabulary.
func WithKeyterms(terms ...string) Option {
	return func(p *Provider) { p.keyterms = append(p.keyterms, terms...) }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// Provider implements stt.Provider backed by Deepgram.
type Provider struct {
	apiKey   string
	baseURL  string
	model    string
	language string
	keyterms []string
	client   *http.Client
}

// New creates a Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		baseURL:  defaultBaseURL,
		model:    defaultModel,
		language: defaultLanguage,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// listenResponse is the subset of the /v1/listen response we read.
type listenResponse struct {
	Results struct {
		Channels []struct {
			DetectedLanguage string `json:"detected_language"`
			Alternatives     []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	wav, err := stt.OpenWAV(req)
	if err != nil {
		return stt.Transcript{}, err
	}
	lang := req.Language
	if lang == "" {
		lang = p.language
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.buildURL(lang), wav)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Token "+p.apiKey)
	httpReq.Header.Set("Content-Type", "audio/wav")

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: transcribe: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return stt.Transcript{}, fmt.Errorf("deepgram: transcribe: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var lr listenResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: decode response: %w", err)
	}

	out := stt.Transcript{
		Language: lang,
		Audio:    req.Segment.Duration(),
		Latency:  time.Since(start),
	}
	if ch := lr.Results.Channels; len(ch) > 0 {
		if ch[0].DetectedLanguage != "" {
			out.Language = ch[0].DetectedLanguage
		}
		if alts := ch[0].Alternatives; len(alts) > 0 {
			out.Text = strings.TrimSpace(alts[0].Transcript)
		}
	}
	return out, nil
}

// buildURL assembles the listen endpoint with query parameters. The WAV
// header carries sample rate and channel count, so neither is sent.
func (p *Provider) buildURL(lang string) string {
	q := url.Values{}
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	for _, k := range p.keyterms {
		if k = strings.TrimSpace(k); k != "" {
			q.Add("keyterm", k)
		}
	}
	return p.baseURL + "/v1/listen?" + q.Encode()
}
