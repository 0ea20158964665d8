// Package interp owns the single embedded interpreter shared by every
// playground session.
//
// Lifecycle:
//
//	Uninitialized -> Initializing -> Ready
//
// Initialize is idempotent: concurrent and repeated calls collapse into the
// one in-flight or completed setup. A failed setup is logged and the manager
// returns to Uninitialized, so a later Initialize may retry.
package interp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/petasbytes/codeplayground/internal/telemetry"
)

// ErrNotReady is returned by Run when the interpreter never reached Ready.
// It is retryable: call Initialize again.
var ErrNotReady = errors.New("interpreter not ready")

// State is the lifecycle state of the interpreter handle.
type State int

const (
	Uninitialized State = iota
	Initializing
	Ready
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Ready:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Sink receives output text as the interpreter produces it. Chunks are not
// necessarily line-delimited.
type Sink func(text string)

// DiagnosticError carries the interpreter's failure report verbatim.
type DiagnosticError struct {
	Text string
}

func (e *DiagnosticError) Error() string { return e.Text }

// Interpreter executes source text. Output is written to stdout as it is
// produced; a script failure is reported as a *DiagnosticError.
type Interpreter interface {
	Exec(ctx context.Context, code string, stdout io.Writer) error
}

// Loader performs the expensive one-time setup of an Interpreter.
type Loader interface {
	Load(ctx context.Context) (Interpreter, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context) (Interpreter, error)

func (f LoaderFunc) Load(ctx context.Context) (Interpreter, error) { return f(ctx) }

var tracer = otel.Tracer("github.com/petasbytes/codeplayground/internal/interp")

// Manager holds the process-wide interpreter handle.
type Manager struct {
	loader Loader
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	interp   Interpreter
	inflight chan struct{} // closed when the current setup finishes
	sink     Sink
}

// NewManager returns an uninitialized manager. A nil logger means slog.Default().
func NewManager(loader Loader, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{loader: loader, logger: logger}
}

// State reports the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Ready reports whether the interpreter is usable.
func (m *Manager) Ready() bool { return m.State() == Ready }

// Initialize brings the interpreter to Ready. If a setup is already running
// the caller waits for it (or for ctx) instead of starting another. Setup
// failures are logged, not returned; check Ready afterwards.
func (m *Manager) Initialize(ctx context.Context) {
	m.mu.Lock()
	switch m.state {
	case Ready:
		m.mu.Unlock()
		return
	case Initializing:
		ch := m.inflight
		m.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
		}
		return
	}
	ch := make(chan struct{})
	m.state = Initializing
	m.inflight = ch
	m.mu.Unlock()

	// Other callers may be waiting on this setup; it must not die with ours.
	it, err := m.load(context.WithoutCancel(ctx))

	m.mu.Lock()
	if err != nil {
		m.state = Uninitialized
	} else {
		m.state = Ready
		m.interp = it
	}
	m.inflight = nil
	close(ch)
	m.mu.Unlock()
}

func (m *Manager) load(ctx context.Context) (Interpreter, error) {
	ctx, span := tracer.Start(ctx, "interp.initialize")
	defer span.End()

	start := time.Now()
	it, err := m.loader.Load(ctx)
	if err == nil && it == nil {
		err = errors.New("loader returned no interpreter")
	}
	telemetry.Emit("runtime_init", map[string]any{
		"duration_ms": time.Since(start).Milliseconds(),
		"ok":          err == nil,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		m.logger.Error("Failed to load interpreter", "err", err)
		return nil, err
	}
	m.logger.Info("Interpreter ready", "duration", time.Since(start))
	return it, nil
}

// SetOutputSink installs the fallback sink used by runs that pass none. A
// later call replaces the previous sink.
func (m *Manager) SetOutputSink(sink Sink) {
	m.mu.Lock()
	m.sink = sink
	m.mu.Unlock()
}

// Run executes code, streaming output chunks to sink in emission order. A nil
// sink falls back to the one installed with SetOutputSink. Run initializes the
// interpreter first when needed and returns ErrNotReady if that fails. A
// script failure is returned as *DiagnosticError; if ctx ends first, ctx.Err()
// is returned instead.
//
// Run does not serialize callers; overlapping runs from one session must be
// prevented by the session.
func (m *Manager) Run(ctx context.Context, code string, sink Sink) error {
	if !m.Ready() {
		m.Initialize(ctx)
	}
	m.mu.Lock()
	it := m.interp
	ready := m.state == Ready
	if sink == nil {
		sink = m.sink
	}
	m.mu.Unlock()
	if !ready {
		return ErrNotReady
	}

	runID, _ := telemetry.RunIDFromContext(ctx)
	ctx, span := tracer.Start(ctx, "interp.run")
	span.SetAttributes(attribute.String("run.id", runID))
	defer span.End()

	w := &sinkWriter{sink: sink}
	err := it.Exec(ctx, code, w)
	span.SetAttributes(attribute.Int("run.output_bytes", w.n))
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		// The process was killed with the context; whatever it printed is
		// not a script failure.
		span.SetStatus(codes.Error, "canceled")
		return ctxErr
	}
	var diag *DiagnosticError
	if !errors.As(err, &diag) {
		diag = &DiagnosticError{Text: err.Error()}
	}
	span.SetStatus(codes.Error, "execution failed")
	return diag
}

// sinkWriter forwards each write to a Sink and counts bytes written.
type sinkWriter struct {
	sink Sink
	n    int
}

func (w *sinkWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	w.n += len(p)
	if w.sink != nil {
		w.sink(string(p))
	}
	return len(p), nil
}
