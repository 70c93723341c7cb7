package observe

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// logCapture is a slog.Handler that keeps every record, debug included.
type logCapture struct {
	mu      sync.Mutex
	records []slog.Record
}

func (c *logCapture) Enabled(context.Context, slog.Level) bool { return true }

func (c *logCapture) Handle(_ context.Context, r slog.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, r)
	return nil
}

func (c *logCapture) WithAttrs([]slog.Attr) slog.Handler { return c }
func (c *logCapture) WithGroup(string) slog.Handler      { return c }

// completion returns the level and status of the "request completed" record
// for path.
func (c *logCapture) completion(path string) (slog.Level, int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range c.records {
		if r.Message != "request completed" {
			continue
		}
		var p string
		var status int64
		r.Attrs(func(a slog.Attr) bool {
			switch a.Key {
			case "path":
				p = a.Value.String()
			case "status":
				status = a.Value.Int64()
			}
			return true
		})
		if p == path {
			return r.Level, status, true
		}
	}
	return 0, 0, false
}

type middlewareEnv struct {
	metrics *Metrics
	reader  *sdkmetric.ManualReader
	spans   *tracetest.InMemoryExporter
	logs    *logCapture
}

// newMiddlewareEnv installs an in-memory tracer provider and a capturing
// default logger for the duration of the test. Tests using it must not run
// in parallel.
func newMiddlewareEnv(t *testing.T) *middlewareEnv {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	logs := &logCapture{}
	origLog := slog.Default()
	slog.SetDefault(slog.New(logs))
	t.Cleanup(func() { slog.SetDefault(origLog) })

	return &middlewareEnv{metrics: m, reader: reader, spans: exp, logs: logs}
}

func TestMiddleware_HealthPathsLogAtDebug(t *testing.T) {
	env := newMiddlewareEnv(t)
	handler := Middleware(env.metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/readyz" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))

	tests := []struct {
		path       string
		wantLevel  slog.Level
		wantStatus int64
	}{
		{"/healthz", slog.LevelDebug, http.StatusOK},
		{"/readyz", slog.LevelDebug, http.StatusServiceUnavailable},
		{"/metrics", slog.LevelDebug, http.StatusOK},
		{"/events", slog.LevelInfo, http.StatusOK},
	}
	for _, tt := range tests {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", tt.path, nil))
		level, status, ok := env.logs.completion(tt.path)
		if !ok {
			t.Errorf("%s: no completion record", tt.path)
			continue
		}
		if level != tt.wantLevel || status != tt.wantStatus {
			t.Errorf("%s: logged at %v with status %d, want %v with %d", tt.path, level, status, tt.wantLevel, tt.wantStatus)
		}
	}
}

func TestMiddleware_TraceAndCorrelation(t *testing.T) {
	const traceID = "4bf92f3577b34da6a3ce929d0e0e4736"

	tests := []struct {
		name        string
		traceparent string
		wantCID     string
	}{
		{name: "fresh trace"},
		{name: "incoming traceparent", traceparent: "00-" + traceID + "-00f067aa0ba902b7-01", wantCID: traceID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newMiddlewareEnv(t)
			var seen string
			handler := Middleware(env.metrics)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
				seen = CorrelationID(r.Context())
			}))

			req := httptest.NewRequest("GET", "/healthz", nil)
			if tt.traceparent != "" {
				req.Header.Set("traceparent", tt.traceparent)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if len(seen) != 32 {
				t.Fatalf("correlation ID %q is not a trace ID", seen)
			}
			if tt.wantCID != "" && seen != tt.wantCID {
				t.Errorf("correlation ID = %q, want %q", seen, tt.wantCID)
			}
			if got := rec.Header().Get("X-Correlation-ID"); got != seen {
				t.Errorf("X-Correlation-ID = %q, want %q", got, seen)
			}
			if rec.Header().Get("traceparent") == "" {
				t.Error("trace context not injected into response")
			}
			spans := env.spans.GetSpans()
			if len(spans) != 1 || spans[0].Name != "HTTP GET /healthz" {
				t.Errorf("spans = %d, want one named HTTP GET /healthz", len(spans))
			}
		})
	}
}

func TestMiddleware_RecordsDurationPerPath(t *testing.T) {
	env := newMiddlewareEnv(t)
	handler := Middleware(env.metrics)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	for _, path := range []string{"/healthz", "/healthz", "/events"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", path, nil))
	}

	var rm metricdata.ResourceMetrics
	if err := env.reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	met := findMetric(rm, "earshot.http.request.duration")
	if met == nil {
		t.Fatal("earshot.http.request.duration not recorded")
	}
	hist, ok := met.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("metric data is %T, want histogram", met.Data)
	}
	counts := map[string]uint64{}
	for _, dp := range hist.DataPoints {
		if v, ok := dp.Attributes.Value("path"); ok {
			counts[v.AsString()] += dp.Count
		}
	}
	if counts["/healthz"] != 2 || counts["/events"] != 1 {
		t.Errorf("samples per path = %v, want /healthz:2 /events:1", counts)
	}
}

func TestMiddleware_HijackIsSwitchingProtocols(t *testing.T) {
	env := newMiddlewareEnv(t)

	// The recorder cannot hijack; the error must come from the underlying
	// writer rather than the wrapper hiding the method.
	var hijackErr error
	recHandler := Middleware(env.metrics)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _, hijackErr = http.NewResponseController(w).Hijack()
	}))
	recHandler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/events", nil))
	if hijackErr == nil {
		t.Fatal("expected hijack error from recorder")
	}

	srv := httptest.NewServer(Middleware(env.metrics)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		conn, buf, err := http.NewResponseController(w).Hijack()
		if err != nil {
			t.Errorf("Hijack: %v", err)
			return
		}
		_, _ = buf.WriteString("HTTP/1.1 204 No Content\r\n\r\n")
		_ = buf.Flush()
		_ = conn.Close()
	})))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/stream")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("client status = %d, want 204", resp.StatusCode)
	}

	// The handler outlives the hijacked connection, so wait for its log.
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, status, ok := env.logs.completion("/stream")
		if ok {
			if status != http.StatusSwitchingProtocols {
				t.Errorf("logged status = %d, want 101", status)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no completion record for hijacked request")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
