package whisper_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/provider/stt/whisper"
)

// ---- helpers ----------------------------------------------------------------

// upload captures what the fake server received.
type upload struct {
	mu       sync.Mutex
	filename string
	file     []byte
	fields   map[string]string
}

// newMockServer creates a test server that answers POST /inference with a
// JSON body containing responseText and records the multipart upload.
func newMockServer(t *testing.T, responseText string, got *upload) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		if got != nil {
			got.mu.Lock()
			got.filename = hdr.Filename
			got.file = data
			got.fields = map[string]string{}
			for k, v := range r.MultipartForm.Value {
				got.fields[k] = v[0]
			}
			got.mu.Unlock()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testSegment() *audio.Segment {
	return &audio.Segment{
		ID:     "seg-1",
		Format: audio.DefaultFormat,
		PCM:    audio.Int16ToBytes(make([]int16, 1600)),
		Frames: 1,
	}
}

// ---- construction -----------------------------------------------------------

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	_, err := whisper.New("")
	if err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

// ---- transcription ----------------------------------------------------------

func TestTranscribe_EncodesSegmentWhenNoWAV(t *testing.T) {
	var got upload
	srv := newMockServer(t, "  hello world ", &got)
	p, err := whisper.New(srv.URL+"/", whisper.WithModel("base.en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tr, err := p.Transcribe(context.Background(), stt.Request{Segment: testSegment(), Prompt: "hey computer"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "hello world" {
		t.Errorf("Text = %q, want %q", tr.Text, "hello world")
	}
	if tr.Language != "en" {
		t.Errorf("Language = %q, want en", tr.Language)
	}
	if tr.Audio.Milliseconds() != 100 {
		t.Errorf("Audio = %v, want 100ms", tr.Audio)
	}

	got.mu.Lock()
	defer got.mu.Unlock()
	if !bytes.HasPrefix(got.file, []byte("RIFF")) {
		t.Error("uploaded file is not a RIFF container")
	}
	if got.fields["model"] != "base.en" || got.fields["language"] != "en" || got.fields["prompt"] != "hey computer" {
		t.Errorf("fields = %v", got.fields)
	}
}

func TestTranscribe_StreamsProvidedWAV(t *testing.T) {
	var got upload
	srv := newMockServer(t, "ok", &got)
	p, _ := whisper.New(srv.URL, whisper.WithLanguage("de"))

	wav := bytes.NewReader([]byte("RIFF-prepared-content"))
	_, _ = wav.Seek(5, io.SeekStart) // Transcribe must rewind
	tr, err := p.Transcribe(context.Background(), stt.Request{Segment: testSegment(), WAV: wav})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Language != "de" {
		t.Errorf("Language = %q, want de", tr.Language)
	}

	got.mu.Lock()
	defer got.mu.Unlock()
	if string(got.file) != "RIFF-prepared-content" {
		t.Errorf("uploaded %q", got.file)
	}
	if got.filename != "audio.wav" {
		t.Errorf("filename = %q", got.filename)
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()
	p, _ := whisper.New(srv.URL)

	_, err := p.Transcribe(context.Background(), stt.Request{Segment: testSegment()})
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Errorf("err = %v, want HTTP 500 error", err)
	}
}

func TestTranscribe_NoSegment(t *testing.T) {
	p, _ := whisper.New("http://127.0.0.1:1")
	if _, err := p.Transcribe(context.Background(), stt.Request{}); err == nil {
		t.Error("expected error for missing segment")
	}
}

func TestTranscribe_CancelledContext(t *testing.T) {
	srv := newMockServer(t, "never", nil)
	p, _ := whisper.New(srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Transcribe(ctx, stt.Request{Segment: testSegment()}); err == nil {
		t.Error("expected error for cancelled context")
	}
}
