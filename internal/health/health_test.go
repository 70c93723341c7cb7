package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) result {
	t.Helper()
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return body
}

func TestHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	New().Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if body := decode(t, rec); body.Status != "ok" {
		t.Errorf("status = %q", body.Status)
	}
}

func TestReadyz(t *testing.T) {
	ok := func(context.Context) error { return nil }
	tests := []struct {
		name       string
		checkers   []Checker
		wantCode   int
		wantStatus string
		wantChecks map[string]string
	}{
		{"no checkers", nil, http.StatusOK, "ok", nil},
		{"all pass", []Checker{{"capture", ok}, {"pipeline", ok}}, http.StatusOK, "ok",
			map[string]string{"capture": "ok", "pipeline": "ok"}},
		{"one fails", []Checker{
			{"capture", ok},
			{"pipeline", func(context.Context) error { return errors.New("queue full") }},
		}, http.StatusServiceUnavailable, "fail",
			map[string]string{"capture": "ok", "pipeline": "fail: queue full"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			New(tt.checkers...).Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))
			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			body := decode(t, rec)
			if body.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tt.wantStatus)
			}
			for k, v := range tt.wantChecks {
				if body.Checks[k] != v {
					t.Errorf("checks[%q] = %q, want %q", k, body.Checks[k], v)
				}
			}
		})
	}
}

func TestReadyz_ChecksRunConcurrently(t *testing.T) {
	slow := func(context.Context) error { time.Sleep(100 * time.Millisecond); return nil }
	h := New(Checker{"a", slow}, Checker{"b", slow}, Checker{"c", slow})
	start := time.Now()
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))
	if elapsed := time.Since(start); elapsed > 250*time.Millisecond {
		t.Errorf("readyz took %v; checks should overlap", elapsed)
	}
}

func TestReadyz_CheckerReceivesDeadline(t *testing.T) {
	var hasDeadline bool
	h := New(Checker{"x", func(ctx context.Context) error {
		_, hasDeadline = ctx.Deadline()
		return nil
	}})
	h.Readyz(httptest.NewRecorder(), httptest.NewRequest("GET", "/readyz", nil))
	if !hasDeadline {
		t.Error("checker context has no deadline")
	}
}

func TestReadyz_IncludesStatus(t *testing.T) {
	h := New().WithStatus(func() map[string]any {
		return map[string]any{"mode": "RECORDING", "buffered_frames": 3}
	})
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))
	if !strings.Contains(rec.Body.String(), `"mode":"RECORDING"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestRegister(t *testing.T) {
	mux := http.NewServeMux()
	New().Register(mux)
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s = %d", path, rec.Code)
		}
	}
}
