// Package session holds the per-editor execution state: the current source
// text, the output log of the latest run, and the last structured error.
//
// A session is Idle or Running. Run is rejected with ErrBusy while a run is in
// flight. Edit and Reset are always allowed; they bump the session generation
// so that output still arriving from an older run is dropped.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/petasbytes/codeplayground/internal/interp"
	"github.com/petasbytes/codeplayground/internal/metrics"
	"github.com/petasbytes/codeplayground/internal/telemetry"
	"github.com/petasbytes/codeplayground/internal/traceback"
)

// ErrBusy is returned by Run while the session already has a run in flight.
var ErrBusy = errors.New("session: run already in progress")

var (
	meter          = otel.Meter("github.com/petasbytes/codeplayground/internal/session")
	runCount, _    = meter.Int64Counter("playground.session.runs", metric.WithDescription("Finished runs by status."))
	runDuration, _ = meter.Float64Histogram("playground.session.run.duration", metric.WithUnit("ms"))
)

// Runner executes source text, streaming output chunks to sink. *interp.Manager
// satisfies it.
type Runner interface {
	Run(ctx context.Context, code string, sink interp.Sink) error
}

// Status is the run state of a session.
type Status int

const (
	Idle Status = iota
	Running
)

func (s Status) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// Listener observes a session's runs. Calls happen on the running goroutine,
// in emission order.
type Listener interface {
	OnLine(sessionID, line string)
	OnFinished(sessionID string, out Outcome)
}

// Outcome is the result of one run.
type Outcome struct {
	RunID string           `json:"runId"`
	Lines []string         `json:"lines"`
	Error *traceback.Error `json:"error,omitempty"`
	// Passed reports that the run succeeded and its output matched the
	// session's expected pattern. Always false without a pattern.
	Passed bool `json:"passed"`
	// Stale reports that the source was edited or reset while the run was in
	// flight; none of its results were applied to the session.
	Stale bool `json:"stale"`
}

// Failed reports whether the run ended with a diagnostic.
func (o Outcome) Failed() bool { return o.Error != nil }

// Options configure a Session.
type Options struct {
	// ID identifies the session; empty means a random UUID.
	ID string
	// ModuleID is the curriculum module the session belongs to, if any.
	ModuleID string
	// Expected, when set, is matched against the joined output of successful runs.
	Expected *regexp.Regexp
	Listener Listener
	Logger   *slog.Logger
}

// Session is safe for concurrent use.
type Session struct {
	id       string
	moduleID string
	initial  string
	expected *regexp.Regexp
	runner   Runner
	listener Listener
	logger   *slog.Logger

	mu     sync.Mutex
	text   string
	output []string
	err    *traceback.Error
	status Status
	gen    uint64
}

// New returns an Idle session holding initial as its source text.
func New(runner Runner, initial string, opts Options) *Session {
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		id:       id,
		moduleID: opts.ModuleID,
		initial:  initial,
		expected: opts.Expected,
		runner:   runner,
		listener: opts.Listener,
		logger:   logger.With("session_id", id),
		text:     initial,
	}
}

func (s *Session) ID() string       { return s.id }
func (s *Session) ModuleID() string { return s.moduleID }

// Expected returns the expected-output pattern, or nil.
func (s *Session) Expected() *regexp.Regexp { return s.expected }

// Text returns the current source text.
func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text
}

// Output returns a copy of the output log.
func (s *Session) Output() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.output...)
}

// Err returns the last structured error, or nil.
func (s *Session) Err() *traceback.Error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		return nil
	}
	e := *s.err
	return &e
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Snapshot is a consistent read of the session state.
type Snapshot struct {
	ID       string           `json:"id"`
	ModuleID string           `json:"moduleId,omitempty"`
	Text     string           `json:"text"`
	Output   []string         `json:"output"`
	Error    *traceback.Error `json:"error,omitempty"`
	Status   string           `json:"status"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ID:       s.id,
		ModuleID: s.moduleID,
		Text:     s.text,
		Output:   append([]string{}, s.output...),
		Status:   s.status.String(),
	}
	if s.err != nil {
		e := *s.err
		snap.Error = &e
	}
	return snap
}

// Edit replaces the source text and clears the output log and error. An
// in-flight run keeps going but its results are discarded.
func (s *Session) Edit(text string) {
	s.mu.Lock()
	s.replaceLocked(text)
	s.mu.Unlock()
}

// Reset restores the source text the session was created with.
func (s *Session) Reset() {
	s.mu.Lock()
	s.replaceLocked(s.initial)
	s.mu.Unlock()
}

// Replace edits the source to next only if it still equals base. It reports
// whether the edit happened. Used to apply an assistant fix computed against
// base without clobbering a concurrent user edit.
func (s *Session) Replace(base, next string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.text != base {
		return false
	}
	s.replaceLocked(next)
	return true
}

func (s *Session) replaceLocked(text string) {
	s.text = text
	s.output = nil
	s.err = nil
	s.gen++
}

// Run executes the current source. The output log and error are cleared at
// start; output lines are appended as they arrive. An execution failure is
// reported in Outcome.Error, not as a Go error. Run returns ErrBusy if a run is
// already in flight, interp.ErrNotReady if the runtime is unavailable (the
// previous output and error are kept), and the context error if ctx ends
// while the run is in flight.
func (s *Session) Run(ctx context.Context) (Outcome, error) {
	s.mu.Lock()
	if s.status == Running {
		s.mu.Unlock()
		return Outcome{}, ErrBusy
	}
	s.status = Running
	s.gen++
	gen := s.gen
	code := s.text
	prevOutput, prevErr := s.output, s.err
	s.output = nil
	s.err = nil
	s.mu.Unlock()

	runID := uuid.NewString()
	ctx = telemetry.WithRunID(telemetry.WithSessionID(ctx, s.id), runID)
	out := Outcome{RunID: runID}
	start := time.Now()

	lb := &lineBuffer{}
	emit := func(lines []string) {
		for _, line := range lines {
			out.Lines = append(out.Lines, line)
			s.mu.Lock()
			current := s.gen == gen
			if current {
				s.output = append(s.output, line)
			}
			s.mu.Unlock()
			if current && s.listener != nil {
				s.listener.OnLine(s.id, line)
			}
		}
	}
	runErr := s.runner.Run(ctx, code, func(chunk string) { emit(lb.Write(chunk)) })
	emit(lb.Flush())

	if errors.Is(runErr, interp.ErrNotReady) {
		// Nothing ran: put back what the previous run left, unless the
		// source changed meanwhile.
		s.mu.Lock()
		s.status = Idle
		if s.gen == gen {
			s.output, s.err = prevOutput, prevErr
		}
		s.mu.Unlock()
		s.finish(ctx, out, "not_ready", start)
		return Outcome{}, fmt.Errorf("run session %s: %w", s.id, runErr)
	}
	if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
		// An aborted run is not a script failure; no error is stored.
		s.mu.Lock()
		s.status = Idle
		out.Stale = s.gen != gen
		s.mu.Unlock()
		s.finish(ctx, out, "canceled", start)
		return out, fmt.Errorf("run session %s: %w", s.id, runErr)
	}
	if runErr != nil {
		var diag *interp.DiagnosticError
		text := runErr.Error()
		if errors.As(runErr, &diag) {
			text = diag.Text
		}
		te := traceback.Parse(text)
		out.Error = &te
	} else if s.expected != nil {
		out.Passed = s.expected.MatchString(strings.Join(out.Lines, "\n"))
	}

	s.mu.Lock()
	s.status = Idle
	out.Stale = s.gen != gen
	if !out.Stale && out.Error != nil {
		e := *out.Error
		s.err = &e
	}
	s.mu.Unlock()

	status := "ok"
	switch {
	case out.Stale:
		status = "stale"
	case out.Failed():
		status = "failed"
	}
	s.finish(ctx, out, status, start)
	if s.listener != nil {
		s.listener.OnFinished(s.id, out)
	}
	return out, nil
}

func (s *Session) finish(ctx context.Context, out Outcome, status string, start time.Time) {
	elapsed := time.Since(start)
	attrs := metric.WithAttributes(attribute.String("status", status))
	runCount.Add(ctx, 1, attrs)
	runDuration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)

	fields := map[string]any{
		"status":      status,
		"duration_ms": elapsed.Milliseconds(),
		"passed":      out.Passed,
	}
	for k, v := range metrics.Measure(strings.Join(out.Lines, "\n")).Fields() {
		fields["output_"+k] = v
	}
	if out.Error != nil {
		fields["error_kind"] = out.Error.Kind
	}
	telemetry.EmitContext(ctx, "run_finished", fields)
	s.logger.Debug("Run finished", "run_id", out.RunID, "status", status, "lines", len(out.Lines))
}
