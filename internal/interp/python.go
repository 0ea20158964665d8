package interp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// DefaultPython is the interpreter binary looked up on PATH when none is configured.
const DefaultPython = "python3"

// PythonLoader locates a CPython binary and verifies it starts.
type PythonLoader struct {
	// Path is the interpreter binary; empty means DefaultPython on PATH.
	Path string
	// Args are passed before the program flag, e.g. ["-I"] for isolated mode.
	Args []string
	// Env, when non-nil, replaces the child environment.
	Env []string
}

// Load resolves the binary and runs a version probe. The probe is the
// expensive part of setup and happens once per Manager.
func (l PythonLoader) Load(ctx context.Context) (Interpreter, error) {
	path := l.Path
	if path == "" {
		path = DefaultPython
	}
	resolved, err := exec.LookPath(path)
	if err != nil {
		return nil, fmt.Errorf("locate interpreter %q: %w", path, err)
	}

	args := append(append([]string{}, l.Args...), "-c", "import sys; print('%d.%d.%d' % sys.version_info[:3])")
	cmd := exec.CommandContext(ctx, resolved, args...)
	cmd.Env = l.Env
	out, err := cmd.Output()
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) && len(ee.Stderr) > 0 {
			return nil, fmt.Errorf("probe interpreter: %w: %s", err, strings.TrimSpace(string(ee.Stderr)))
		}
		return nil, fmt.Errorf("probe interpreter: %w", err)
	}
	return &Python{
		path:    resolved,
		args:    l.Args,
		env:     l.Env,
		version: strings.TrimSpace(string(out)),
	}, nil
}

// Python runs each program in a fresh unbuffered interpreter process reading
// the source from stdin, so tracebacks reference File "<stdin>".
type Python struct {
	path    string
	args    []string
	env     []string
	version string
}

// Version is the interpreter version reported by the probe.
func (p *Python) Version() string { return p.version }

// Exec runs code. Stdout is streamed as the child flushes it; stderr is
// collected and returned verbatim as a *DiagnosticError on non-zero exit.
func (p *Python) Exec(ctx context.Context, code string, stdout io.Writer) error {
	args := append(append([]string{}, p.args...), "-u", "-")
	cmd := exec.CommandContext(ctx, p.path, args...)
	cmd.Env = p.env
	cmd.Stdin = strings.NewReader(code)
	cmd.Stdout = stdout
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}
	var ee *exec.ExitError
	if errors.As(err, &ee) && stderr.Len() > 0 {
		return &DiagnosticError{Text: stderr.String()}
	}
	return err
}

var _ Interpreter = (*Python)(nil)
var _ Loader = PythonLoader{}
