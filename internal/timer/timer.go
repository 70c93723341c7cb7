// Package timer implements the set_timer tool offered to the reasoning step.
//
// The model forwards its arguments as a JSON object; the scheduler parses
// them, arms an in-process timer and calls the announce callback when it
// fires. Timers live in memory only and are lost on restart.
package timer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/earshot/pkg/types"
)

// ToolName is the function name the model calls.
const ToolName = "set_timer"

const defaultMaxDuration = 24 * time.Hour

var (
	// ErrInvalidArguments is returned by [Scheduler.Call] for arguments that
	// are not a JSON object with a positive duration.
	ErrInvalidArguments = errors.New("timer: invalid arguments")

	// ErrTooLong is returned when the requested duration exceeds the limit.
	ErrTooLong = errors.New("timer: duration exceeds limit")
)

// Timer is one scheduled alarm.
type Timer struct {
	ID       string
	Label    string
	Duration time.Duration
	Due      time.Time
}

// args is the JSON shape of the set_timer arguments.
type args struct {
	Hours   number `json:"hours"`
	Minutes number `json:"minutes"`
	Seconds number `json:"seconds"`
	Label   string `json:"label"`
}

func (a args) duration() time.Duration {
	d := float64(a.Hours)*float64(time.Hour) +
		float64(a.Minutes)*float64(time.Minute) +
		float64(a.Seconds)*float64(time.Second)
	return time.Duration(d).Round(time.Second)
}

// number accepts a JSON number or a string holding one; models are not
// consistent about quoting numeric arguments. An empty string is zero.
type number float64

func (n *number) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*n = number(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("not a number: %s", data)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*n = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %q", s)
	}
	*n = number(f)
	return nil
}

// Option configures a [Scheduler].
type Option func(*Scheduler)

// WithMaxDuration sets the longest timer accepted. Default: 24h.
func WithMaxDuration(d time.Duration) Option {
	return func(s *Scheduler) { s.maxDuration = d }
}

// WithAfterFunc replaces [time.AfterFunc]. The returned function stops the
// timer and reports whether it was still pending.
func WithAfterFunc(fn func(d time.Duration, f func()) (stop func() bool)) Option {
	return func(s *Scheduler) { s.afterFunc = fn }
}

// WithNow overrides the clock used to compute due times.
func WithNow(fn func() time.Time) Option {
	return func(s *Scheduler) { s.now = fn }
}

// Scheduler owns the active timers. Safe for concurrent use.
type Scheduler struct {
	announce    func(Timer)
	maxDuration time.Duration
	afterFunc   func(time.Duration, func()) func() bool
	now         func() time.Time

	mu     sync.Mutex
	nextID int
	timers map[string]entry
}

type entry struct {
	timer Timer
	stop  func() bool
}

// New returns a Scheduler that calls announce from the timer goroutine when a
// timer expires.
func New(announce func(Timer), opts ...Option) *Scheduler {
	s := &Scheduler{
		announce:    announce,
		maxDuration: defaultMaxDuration,
		afterFunc: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
		now:    time.Now,
		timers: make(map[string]entry),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Definition describes the tool to the model.
func (s *Scheduler) Definition() types.ToolDefinition {
	return types.ToolDefinition{
		Name:        ToolName,
		Description: "Start a countdown timer. When it expires the assistant announces it out loud.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"hours": map[string]any{
					"type":        "number",
					"description": "Hours until the timer goes off.",
				},
				"minutes": map[string]any{
					"type":        "number",
					"description": "Additional minutes until the timer goes off.",
				},
				"seconds": map[string]any{
					"type":        "number",
					"description": "Additional seconds until the timer goes off.",
				},
				"label": map[string]any{
					"type":        "string",
					"description": "Optional short name for the timer, e.g. \"pasta\".",
				},
			},
		},
	}
}

// Call parses the JSON arguments, schedules the timer and returns a short
// confirmation for the model.
func (s *Scheduler) Call(_ context.Context, arguments string) (string, error) {
	var a args
	if err := json.Unmarshal([]byte(arguments), &a); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidArguments, err)
	}
	d := a.duration()
	if d <= 0 {
		return "", fmt.Errorf("%w: duration must be positive", ErrInvalidArguments)
	}
	if d > s.maxDuration {
		return "", fmt.Errorf("%w: %s > %s", ErrTooLong, d, s.maxDuration)
	}

	t := s.schedule(d, a.Label)
	slog.Info("timer: scheduled", "id", t.ID, "label", t.Label, "duration", d, "due", t.Due)
	return fmt.Sprintf("Timer %s set for %s.", t.ID, d), nil
}

func (s *Scheduler) schedule(d time.Duration, label string) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	t := Timer{
		ID:       strconv.Itoa(s.nextID),
		Label:    label,
		Duration: d,
		Due:      s.now().Add(d),
	}
	stop := s.afterFunc(d, func() { s.fire(t.ID) })
	s.timers[t.ID] = entry{timer: t, stop: stop}
	return t
}

func (s *Scheduler) fire(id string) {
	s.mu.Lock()
	e, ok := s.timers[id]
	delete(s.timers, id)
	s.mu.Unlock()
	if !ok {
		return
	}
	slog.Info("timer: expired", "id", id, "label", e.timer.Label)
	if s.announce != nil {
		s.announce(e.timer)
	}
}

// Active returns the pending timers ordered by due time.
func (s *Scheduler) Active() []Timer {
	s.mu.Lock()
	out := make([]Timer, 0, len(s.timers))
	for _, e := range s.timers {
		out = append(out, e.timer)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Due.Before(out[j].Due) })
	return out
}

// Cancel stops the timer with the given ID. It reports whether the timer was
// still pending.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	e, ok := s.timers[id]
	delete(s.timers, id)
	s.mu.Unlock()
	return ok && e.stop()
}

// Stop cancels every pending timer.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	pending := s.timers
	s.timers = make(map[string]entry)
	s.mu.Unlock()
	for _, e := range pending {
		e.stop()
	}
}

// Announcement returns the sentence spoken when t expires.
func Announcement(t Timer) string {
	if t.Label != "" {
		return fmt.Sprintf("Your %s timer is done.", t.Label)
	}
	return fmt.Sprintf("Your %s timer is done.", t.Duration)
}
