package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newGroup(maxFailures int) *FallbackGroup[string] {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: maxFailures, ResetTimeout: time.Hour},
	})
	fg.AddFallback("secondary", "secondary")
	return fg
}

func TestFallbackGroup_Execute(t *testing.T) {
	tests := []struct {
		name       string
		failing    map[string]bool
		wantCalled string
		wantErr    error
	}{
		{"primary succeeds", nil, "primary", nil},
		{"failover", map[string]bool{"primary": true}, "secondary", nil},
		{"all fail", map[string]bool{"primary": true, "secondary": true}, "", ErrAllFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fg := newGroup(3)
			var called string
			err := fg.Execute(context.Background(), func(v string) error {
				if tt.failing[v] {
					return errTest
				}
				called = v
				return nil
			})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil && !errors.Is(err, errTest) {
				t.Errorf("err = %v should wrap the last failure", err)
			}
			if called != tt.wantCalled {
				t.Errorf("called = %q, want %q", called, tt.wantCalled)
			}
		})
	}
}

func TestFallbackGroup_SkipsOpenBreaker(t *testing.T) {
	fg := newGroup(2)
	for range 2 {
		_ = fg.Execute(context.Background(), func(v string) error {
			if v == "primary" {
				return errTest
			}
			return nil
		})
	}
	var tried []string
	_ = fg.Execute(context.Background(), func(v string) error {
		tried = append(tried, v)
		return nil
	})
	if len(tried) != 1 || tried[0] != "secondary" {
		t.Fatalf("tried = %v, want [secondary]", tried)
	}
}

func TestFallbackGroup_StopsOnCancel(t *testing.T) {
	fg := newGroup(3)
	ctx, cancel := context.WithCancel(context.Background())
	var tried []string
	err := fg.Execute(ctx, func(v string) error {
		tried = append(tried, v)
		cancel()
		return context.Canceled
	})
	if !errors.Is(err, context.Canceled) || errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want bare context.Canceled", err)
	}
	if len(tried) != 1 {
		t.Errorf("tried = %v, want only the primary", tried)
	}
}

func TestExecuteWithResult(t *testing.T) {
	fg := NewFallbackGroup(10, "ten", FallbackConfig{})
	fg.AddFallback("twenty", 20)
	got, err := ExecuteWithResult(context.Background(), fg, func(v int) (int, error) {
		if v == 10 {
			return 0, errTest
		}
		return v * 2, nil
	})
	if err != nil || got != 40 {
		t.Fatalf("got %d, %v; want 40, nil", got, err)
	}
	if names := fg.Names(); len(names) != 2 || names[0] != "ten" || names[1] != "twenty" {
		t.Errorf("Names = %v", names)
	}
	if fg.Primary() != 10 {
		t.Errorf("Primary = %d", fg.Primary())
	}
}
