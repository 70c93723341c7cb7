package listen

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/earshot/internal/observe"
	"github.com/MrWong99/earshot/internal/resilience"
	"github.com/MrWong99/earshot/pkg/audio"
	"github.com/MrWong99/earshot/pkg/provider/wake"
)

// classifierBreaker returns the breaker defaults used for per-frame
// classifiers. Frames arrive every few tens of milliseconds, so the breaker
// probes again after one second instead of the provider default.
func classifierBreaker(name string) *resilience.CircuitBreaker {
	return resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         name,
		MaxFailures:  5,
		ResetTimeout: time.Second,
		HalfOpenMax:  1,
	})
}

// WakeScanner feeds frames to a [wake.Scorer] and reports the first frame in
// which the wake phrase is recognized. Detection is edge-triggered: after a
// hit the scanner is disarmed and returns false without consulting the scorer
// until [WakeScanner.Arm] is called.
//
// Not safe for concurrent use.
type WakeScanner struct {
	scorer  wake.Scorer
	breaker *resilience.CircuitBreaker
	metrics *observe.Metrics

	armed   bool
	keyword int
}

// ScannerOption configures a [WakeScanner].
type ScannerOption func(*WakeScanner)

// WithScannerBreaker replaces the default circuit breaker around the scorer.
func WithScannerBreaker(cb *resilience.CircuitBreaker) ScannerOption {
	return func(w *WakeScanner) { w.breaker = cb }
}

// WithScannerMetrics records classifier failures on m.
func WithScannerMetrics(m *observe.Metrics) ScannerOption {
	return func(w *WakeScanner) { w.metrics = m }
}

// NewWakeScanner returns an armed scanner over scorer.
func NewWakeScanner(scorer wake.Scorer, opts ...ScannerOption) *WakeScanner {
	w := &WakeScanner{
		scorer:  scorer,
		armed:   true,
		keyword: wake.NotDetected,
	}
	for _, o := range opts {
		o(w)
	}
	if w.breaker == nil {
		w.breaker = classifierBreaker("wake")
	}
	if w.metrics == nil {
		w.metrics = observe.DefaultMetrics()
	}
	return w
}

// Scan reports whether the wake phrase was recognized in frame. A scorer
// failure counts as not detected.
func (w *WakeScanner) Scan(ctx context.Context, frame audio.Frame) bool {
	if !w.armed {
		return false
	}
	idx := wake.NotDetected
	err := w.breaker.Execute(func() error {
		var err error
		idx, err = w.scorer.Process(frame.Samples())
		return err
	})
	if err != nil {
		w.metrics.RecordClassifierFailure(ctx, "wake")
		slog.Debug("listen: wake scorer failed, treating frame as not detected",
			"seq", frame.Seq, "err", fmt.Errorf("%w: %w", ErrClassifierUnavailable, err))
		return false
	}
	if idx < 0 {
		return false
	}
	w.armed = false
	w.keyword = idx
	return true
}

// Arm re-enables detection. The machine calls it when it returns to
// Listening.
func (w *WakeScanner) Arm() { w.armed = true }

// Armed reports whether the next Scan consults the scorer.
func (w *WakeScanner) Armed() bool { return w.armed }

// Keyword returns the index of the most recently detected keyword, or
// [wake.NotDetected].
func (w *WakeScanner) Keyword() int { return w.keyword }
