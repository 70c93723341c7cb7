package deepgram

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/stt"
)

func segment() *audio.Segment {
	return &audio.Segment{
		ID:     "seg-1",
		PCM:    make([]byte, 3200),
		Format: audio.Format{SampleRate: 16000, Channels: 1, BitDepth: 16},
	}
}

func TestNew_RequiresKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestBuildURL(t *testing.T) {
	p, err := New("key", WithModel("base"), WithKeyterms("earshot", " ", "Eldrinax"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	u, err := url.Parse(p.buildURL("de"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	q := u.Query()
	if u.Path != "/v1/listen" {
		t.Errorf("path = %q", u.Path)
	}
	if q.Get("model") != "base" || q.Get("language") != "de" || q.Get("smart_format") != "true" {
		t.Errorf("query = %v", q)
	}
	if got := q["keyterm"]; len(got) != 2 || got[0] != "earshot" || got[1] != "Eldrinax" {
		t.Errorf("keyterm = %v", got)
	}
}

func TestTranscribe(t *testing.T) {
	var gotAuth, gotType, gotLang string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		gotLang = r.URL.Query().Get("language")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"results":{"channels":[{"alternatives":[{"transcript":" what time is it ","confidence":0.97}]}]}}`)
	}))
	defer srv.Close()

	p, err := New("dg-key", WithBaseURL(srv.URL+"/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tr, err := p.Transcribe(context.Background(), stt.Request{Segment: segment(), Language: "en"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "what time is it" {
		t.Errorf("Text = %q", tr.Text)
	}
	if tr.Language != "en" || gotLang != "en" {
		t.Errorf("language = %q / query %q", tr.Language, gotLang)
	}
	if gotAuth != "Token dg-key" || gotType != "audio/wav" {
		t.Errorf("headers: auth=%q type=%q", gotAuth, gotType)
	}
	if !strings.HasPrefix(string(gotBody), "RIFF") {
		t.Errorf("body is not a WAV container: % x", gotBody[:min(len(gotBody), 8)])
	}
}

func TestTranscribe_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"err_msg":"bad key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, _ := New("dg-key", WithBaseURL(srv.URL))
	_, err := p.Transcribe(context.Background(), stt.Request{Segment: segment()})
	if err == nil || !strings.Contains(err.Error(), "401") {
		t.Fatalf("err = %v, want status 401", err)
	}
}

func TestTranscribe_NoSegment(t *testing.T) {
	p, _ := New("dg-key")
	if _, err := p.Transcribe(context.Background(), stt.Request{}); err != stt.ErrNoSegment {
		t.Fatalf("err = %v, want ErrNoSegment", err)
	}
}
