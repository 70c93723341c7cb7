package openai_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/stt"
	"github.com/MrWong99/earshot/pkg/provider/stt/openai"
)

func segment() *audio.Segment {
	return &audio.Segment{
		ID:         "seg-1",
		Format:     audio.DefaultFormat,
		PCM:        make([]byte, 3200),
		Frames:     3,
		CapturedAt: time.Now(),
	}
}

func TestTranscribe_UploadsWAV(t *testing.T) {
	type captured struct {
		filename, model, language, prompt string
		header                            []byte
	}
	got := make(chan captured, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			http.NotFound(w, r)
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
		head := make([]byte, 4)
		_, _ = io.ReadFull(f, head)
		got <- captured{
			filename: hdr.Filename,
			model:    r.FormValue("model"),
			language: r.FormValue("language"),
			prompt:   r.FormValue("prompt"),
			header:   head,
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":"  set a timer for two minutes "}`)
	}))
	defer srv.Close()

	p, err := openai.New("sk-test", "", openai.WithBaseURL(srv.URL), openai.WithLanguage("en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tr, err := p.Transcribe(context.Background(), stt.Request{Segment: segment(), Prompt: "hey earshot"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "set a timer for two minutes" {
		t.Errorf("Text = %q", tr.Text)
	}
	if tr.Language != "en" || tr.Audio != 100*time.Millisecond {
		t.Errorf("Transcript = %+v", tr)
	}

	c := <-got
	if string(c.header) != "RIFF" {
		t.Errorf("upload header = %q, want RIFF", c.header)
	}
	if c.model != "whisper-1" || c.language != "en" || c.prompt != "hey earshot" {
		t.Errorf("form fields = %+v", c)
	}
	if c.filename == "" {
		t.Error("expected a filename on the upload")
	}
}

func TestTranscribe_NoSegment(t *testing.T) {
	p, _ := openai.New("sk-test", "whisper-1")
	_, err := p.Transcribe(context.Background(), stt.Request{})
	if !errors.Is(err, stt.ErrNoSegment) {
		t.Errorf("err = %v, want ErrNoSegment", err)
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"bad"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()
	p, _ := openai.New("sk-test", "", openai.WithBaseURL(srv.URL))
	if _, err := p.Transcribe(context.Background(), stt.Request{Segment: segment()}); err == nil {
		t.Fatal("expected error")
	}
}
