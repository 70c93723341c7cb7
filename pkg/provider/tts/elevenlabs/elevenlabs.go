// Package elevenlabs provides a TTS provider backed by the ElevenLabs
// stream-input WebSocket API. Text is sent sentence by sentence while the
// model is still answering and raw PCM is streamed back.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/tts"
	"github.com/MrWong99/earshot/pkg/types"
)

const (
	defaultBaseURL   = "https://api.elevenlabs.io"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_16000"
)

var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g. "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		if model != "" {
			p.model = model
		}
	}
}

// WithOutputFormat sets the PCM output format: pcm_16000, pcm_22050,
// pcm_24000 or pcm_44100.
func WithOutputFormat(format string) Option {
	return func(p *Provider) { p.outputFormat = format }
}

// WithBaseURL overrides the API origin. The WebSocket URL is derived from it.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(u, "/") }
}

// WithVoice sets the voice used when a request carries no voice ID.
func WithVoice(id string) Option {
	return func(p *Provider) { p.voice = id }
}

// Provider implements tts.Provider backed by ElevenLabs.
type Provider struct {
	apiKey       string
	baseURL      string
	model        string
	outputFormat string
	voice        string
	format       audio.Format
	httpClient   *http.Client
}

// New creates an ElevenLabs Provider. apiKey must be non-empty and the output
// format must be a raw PCM format.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		baseURL:      defaultBaseURL,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		httpClient:   &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	f, err := parseOutputFormat(p.outputFormat)
	if err != nil {
		return nil, err
	}
	p.format = f
	return p, nil
}

func parseOutputFormat(s string) (audio.Format, error) {
	rate, ok := strings.CutPrefix(s, "pcm_")
	if !ok {
		return audio.Format{}, fmt.Errorf("elevenlabs: output format %q is not raw PCM", s)
	}
	n, err := strconv.Atoi(rate)
	if err != nil || n <= 0 {
		return audio.Format{}, fmt.Errorf("elevenlabs: invalid output format %q", s)
	}
	return audio.Format{SampleRate: n, Channels: 1, BitDepth: 16}, nil
}

// Format implements tts.Provider.
func (p *Provider) Format() audio.Format { return p.format }

// textMessage is one client frame on the stream-input socket. An empty Text
// closes the input.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// audioMessage is one server frame.
type audioMessage struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// streamURL returns the WebSocket endpoint for voiceID.
func (p *Provider) streamURL(voiceID string) (string, error) {
	u, err := url.Parse(p.baseURL)
	if err != nil {
		return "", fmt.Errorf("elevenlabs: base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path += "/v1/text-to-speech/" + url.PathEscape(voiceID) + "/stream-input"
	q := url.Values{}
	q.Set("model_id", p.model)
	q.Set("output_format", p.outputFormat)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// SynthesizeStream implements tts.Provider. Text fragments are regrouped into
// sentences before sending so the model gets natural prosody units.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	if voice.ID == "" {
		voice.ID = p.voice
	}
	if voice.ID == "" {
		return nil, errors.New("elevenlabs: voice ID must not be empty")
	}
	wsURL, err := p.streamURL(voice.ID)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("xi-api-key", p.apiKey)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}

	vs := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75, Speed: voice.SpeedFactor}
	// The first frame must carry non-empty text.
	if err := writeJSON(ctx, conn, textMessage{Text: " ", VoiceSettings: vs}); err != nil {
		conn.Close(websocket.StatusInternalError, "init failed")
		return nil, fmt.Errorf("elevenlabs: init stream: %w", err)
	}

	out := make(chan []byte, 64)
	readDone := make(chan struct{})
	go p.read(ctx, conn, out, readDone)
	go func() {
		defer conn.Close(websocket.StatusNormalClosure, "done")
		for sentence := range tts.Sentences(ctx, text) {
			if err := writeJSON(ctx, conn, textMessage{Text: sentence + " "}); err != nil {
				if ctx.Err() == nil {
					slog.Warn("elevenlabs: send text failed", "err", err)
				}
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
		if err := writeJSON(ctx, conn, textMessage{Text: ""}); err != nil {
			slog.Warn("elevenlabs: close input failed", "err", err)
			return
		}
		<-readDone
	}()
	return out, nil
}

// read forwards decoded audio until the server marks the stream final, the
// connection closes, or ctx is cancelled. Chunks are even-sized so no sample
// straddles two sends.
func (p *Provider) read(ctx context.Context, conn *websocket.Conn, out chan<- []byte, done chan<- struct{}) {
	defer close(done)
	defer close(out)

	var carry []byte
	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				slog.Debug("elevenlabs: read ended", "err", err)
			}
			return
		}
		var msg audioMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			slog.Debug("elevenlabs: undecodable frame", "err", err)
			continue
		}
		if msg.Error != "" {
			slog.Warn("elevenlabs: server error", "error", msg.Error, "message", msg.Message)
			return
		}
		if msg.Audio != "" {
			pcm, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				slog.Debug("elevenlabs: bad audio payload", "err", err)
				continue
			}
			data := append(carry, pcm...)
			whole := len(data) &^ 1
			carry = append([]byte(nil), data[whole:]...)
			if whole > 0 {
				select {
				case out <- data[:whole]:
				case <-ctx.Done():
					return
				}
			}
		}
		if msg.IsFinal {
			return
		}
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

type voicesResponse struct {
	Voices []struct {
		VoiceID  string `json:"voice_id"`
		Name     string `json:"name"`
		Category string `json:"category"`
	} `json:"voices"`
}

// ListVoices implements tts.Provider.
func (p *Provider) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: list voices: unexpected status %d", resp.StatusCode)
	}

	var vr voicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices decode: %w", err)
	}
	profiles := make([]types.VoiceProfile, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		profiles = append(profiles, types.VoiceProfile{ID: v.VoiceID, Name: v.Name, Provider: "elevenlabs"})
	}
	return profiles, nil
}
