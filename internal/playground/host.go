// Package playground is the host application: it owns the session registry
// and glues sessions to the assistant, the progress tracker and the
// workspace.
package playground

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/petasbytes/codeplayground/internal/assistant"
	"github.com/petasbytes/codeplayground/internal/progress"
	"github.com/petasbytes/codeplayground/internal/session"
	"github.com/petasbytes/codeplayground/internal/workspace"
)

var (
	ErrNotFound  = errors.New("session not found")
	ErrNoError   = errors.New("session has no error to fix")
	ErrDisabled  = errors.New("assistant is not configured")
	ErrEmptyTask = errors.New("generate: empty task description")
	ErrNoStorage = errors.New("feature needs storage that is not configured")
)

// Presentation strings shown to the user.
const (
	TitleAutofixApplied  = "Auto-Fix Applied"
	TitleFixNotApplied   = "Fix Not Applied"
	TitleExplanation     = "Explanation"
	TitleGenerated       = "Code Generated"
	UnparsedPrefix       = "Could not automatically apply fix. Here is the AI response:\n\n"
	NoResponse           = "No response."
	NoCodeGenerated      = "The assistant returned no code; the source is unchanged."
	ServiceFailureNotice = "Error connecting to AI service."
	ChangedDuringRequest = "The source changed while the assistant was working; the fix was not applied.\n\n"
)

// Notice is the user-facing result of an assistant request.
type Notice struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body"`
	// Applied reports that the session source was replaced.
	Applied bool `json:"applied"`
}

type Options struct {
	// Assistant nil disables explain, autofix and generate.
	Assistant *assistant.Assistant
	Progress  *progress.Tracker
	Workspace *workspace.Root
	// Listener is attached to every session created by the host.
	Listener session.Listener
	Logger   *slog.Logger
}

type Host struct {
	runner    session.Runner
	assistant *assistant.Assistant
	progress  *progress.Tracker
	workspace *workspace.Root
	listener  session.Listener
	logger    *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*session.Session
}

func New(runner session.Runner, opts Options) *Host {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{
		runner:    runner,
		assistant: opts.Assistant,
		progress:  opts.Progress,
		workspace: opts.Workspace,
		listener:  opts.Listener,
		logger:    logger,
		sessions:  make(map[string]*session.Session),
	}
}

// SessionSpec describes a new session.
type SessionSpec struct {
	// InitialCode is used unless Path is set.
	InitialCode string `json:"initialCode"`
	// Path loads the initial code from the workspace.
	Path string `json:"path,omitempty"`
	// ExpectedOutput is a regular expression checked after successful runs.
	ExpectedOutput string `json:"expectedOutput,omitempty"`
	ModuleID       string `json:"moduleId,omitempty"`
}

// Create registers a new session.
func (h *Host) Create(spec SessionSpec) (*session.Session, error) {
	code := spec.InitialCode
	if spec.Path != "" {
		if h.workspace == nil {
			return nil, ErrNoStorage
		}
		src, err := h.workspace.ReadFile(spec.Path)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", spec.Path, err)
		}
		code = src
	}
	var expected *regexp.Regexp
	if spec.ExpectedOutput != "" {
		re, err := regexp.Compile(spec.ExpectedOutput)
		if err != nil {
			return nil, fmt.Errorf("expected output pattern: %w", err)
		}
		expected = re
	}
	s := session.New(h.runner, code, session.Options{
		ModuleID: spec.ModuleID,
		Expected: expected,
		Listener: h.listener,
		Logger:   h.logger,
	})
	h.mu.Lock()
	h.sessions[s.ID()] = s
	h.mu.Unlock()
	h.logger.Debug("Session created", "session_id", s.ID(), "module_id", spec.ModuleID)
	return s, nil
}

func (h *Host) Get(id string) (*session.Session, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// Sessions returns the ids of all registered sessions, sorted.
func (h *Host) Sessions() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Remove drops a session from the registry. It reports whether it existed.
func (h *Host) Remove(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.sessions[id]
	delete(h.sessions, id)
	return ok
}

// Run runs the session and, when the outcome passes its expected-output
// check, marks its module complete. A progress failure is logged; it does
// not fail the run.
func (h *Host) Run(ctx context.Context, id string) (session.Outcome, error) {
	s, err := h.Get(id)
	if err != nil {
		return session.Outcome{}, err
	}
	out, err := s.Run(ctx)
	if err != nil {
		return out, err
	}
	if out.Passed && !out.Stale && s.ModuleID() != "" && h.progress != nil {
		if _, err := h.progress.Complete(ctx, s.ModuleID()); err != nil {
			h.logger.Error("Failed to record progress", "module_id", s.ModuleID(), "err", err)
		}
	}
	return out, nil
}

// Explain asks the assistant about the session's current source.
func (h *Host) Explain(ctx context.Context, id string) (Notice, error) {
	s, a, err := h.assisted(id)
	if err != nil {
		return Notice{}, err
	}
	text, err := a.Explain(ctx, s.Text())
	if err != nil {
		return failure(err)
	}
	if strings.TrimSpace(text) == "" {
		text = NoResponse
	}
	return Notice{Title: TitleExplanation, Body: text}, nil
}

// Autofix sends the source and its raw diagnostic to the assistant. A parsed
// fix replaces the source and clears the error; an unparsed reply is shown
// in full and leaves the session untouched.
func (h *Host) Autofix(ctx context.Context, id string) (Notice, error) {
	s, a, err := h.assisted(id)
	if err != nil {
		return Notice{}, err
	}
	diag := s.Err()
	if diag == nil {
		return Notice{}, ErrNoError
	}
	base := s.Text()
	res, err := a.Autofix(ctx, base, diag.Raw)
	if err != nil {
		return failure(err)
	}
	switch r := res.(type) {
	case assistant.Fix:
		if !s.Replace(base, r.Code) {
			return Notice{Title: TitleFixNotApplied, Body: ChangedDuringRequest + r.Explanation + "\n\n" + r.Code}, nil
		}
		return Notice{Title: TitleAutofixApplied, Body: r.Explanation, Applied: true}, nil
	case assistant.Unparsed:
		return Notice{Body: UnparsedPrefix + r.Raw}, nil
	default:
		return Notice{}, fmt.Errorf("autofix: unexpected result %T", res)
	}
}

// Generate replaces the session source with code for task. An empty reply
// leaves the source unchanged.
func (h *Host) Generate(ctx context.Context, id, task string) (Notice, error) {
	if strings.TrimSpace(task) == "" {
		return Notice{}, ErrEmptyTask
	}
	s, a, err := h.assisted(id)
	if err != nil {
		return Notice{}, err
	}
	code, err := a.Generate(ctx, task)
	if err != nil {
		return failure(err)
	}
	if code == "" {
		return Notice{Body: NoCodeGenerated}, nil
	}
	s.Edit(code)
	return Notice{Title: TitleGenerated, Body: code, Applied: true}, nil
}

// failure maps a service failure to the generic notice. Other errors, such
// as an over-budget prompt, carry no notice.
func failure(err error) (Notice, error) {
	if errors.Is(err, assistant.ErrService) {
		return Notice{Body: ServiceFailureNotice}, err
	}
	return Notice{}, err
}

func (h *Host) assisted(id string) (*session.Session, *assistant.Assistant, error) {
	s, err := h.Get(id)
	if err != nil {
		return nil, nil, err
	}
	if h.assistant == nil {
		return nil, nil, ErrDisabled
	}
	return s, h.assistant, nil
}

// Load replaces the session source with a workspace file.
func (h *Host) Load(id, path string) error {
	s, err := h.Get(id)
	if err != nil {
		return err
	}
	if h.workspace == nil {
		return ErrNoStorage
	}
	src, err := h.workspace.ReadFile(path)
	if err != nil {
		return err
	}
	s.Edit(src)
	return nil
}

// Save writes the session source to a workspace file.
func (h *Host) Save(id, path string) error {
	s, err := h.Get(id)
	if err != nil {
		return err
	}
	if h.workspace == nil {
		return ErrNoStorage
	}
	return h.workspace.WriteFile(path, s.Text())
}

// Files lists the workspace directory dir; empty means the root.
func (h *Host) Files(dir string) ([]string, error) {
	if h.workspace == nil {
		return nil, ErrNoStorage
	}
	return h.workspace.List(dir)
}

// CompleteModule marks moduleID complete regardless of any run.
func (h *Host) CompleteModule(ctx context.Context, moduleID string) (bool, error) {
	if h.progress == nil {
		return false, ErrNoStorage
	}
	return h.progress.Complete(ctx, moduleID)
}

// Progress returns completed module ids, or nil without a tracker.
func (h *Host) Progress() []string {
	if h.progress == nil {
		return nil
	}
	return h.progress.Completed()
}

// AssistantEnabled reports whether assistant requests can be served.
func (h *Host) AssistantEnabled() bool { return h.assistant != nil }
