// Package workspace provides sandboxed file access for loading and saving
// playground sources.
//
// All paths are relative to one root. Absolute inputs, parent traversal and
// symlink escapes are rejected, and .git/ plus any configured directories are
// denied for both reads and writes.
package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Error codes carried by PathError.
const (
	CodeOutside  = "ERR_PATH_OUTSIDE_SANDBOX"
	CodeDenied   = "ERR_DENIED"
	CodeNotAFile = "ERR_NOT_A_FILE"
)

// PathError is a machine-readable policy violation.
type PathError struct {
	Code    string `json:"code"`
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Error returns a compact, single-line JSON string.
func (e *PathError) Error() string {
	b, _ := json.Marshal(e)
	return string(b)
}

// Root is a sandbox directory.
type Root struct {
	abs  string
	deny []string // slash-separated, relative to abs
}

// Open resolves dir (empty means the working directory) to an absolute,
// symlink-free root. deny lists extra directories to block; entries outside
// the root are ignored.
func Open(dir string, deny ...string) (*Root, error) {
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("getwd: %w", err)
		}
		dir = cwd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("abs(%s): %w", dir, err)
	}
	// Resolve symlinks where possible so boundary checks are reliable.
	if r, err := filepath.EvalSymlinks(abs); err == nil {
		abs = r
	}

	root := &Root{abs: abs, deny: []string{".git"}}
	for _, d := range deny {
		if d == "" {
			continue
		}
		if filepath.IsAbs(d) {
			rel, err := filepath.Rel(abs, d)
			if err != nil || outside(rel) {
				continue
			}
			d = rel
		}
		d = filepath.ToSlash(filepath.Clean(d))
		if d != "." && !outside(d) {
			root.deny = append(root.deny, d)
		}
	}
	return root, nil
}

// Dir returns the absolute root directory.
func (r *Root) Dir() string { return r.abs }

func outside(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) ||
		strings.HasPrefix(rel, "../") || filepath.IsAbs(rel)
}

// Resolve returns the absolute path for relPath inside the root.
func (r *Root) Resolve(relPath string) (string, error) {
	if filepath.IsAbs(relPath) {
		return "", &PathError{Code: CodeOutside, Path: relPath, Message: "absolute paths are not allowed"}
	}
	cleaned := filepath.Clean(relPath)
	candidate := filepath.Join(r.abs, cleaned)

	// Resolve the whole candidate if it exists, otherwise its parent. The
	// parent check catches escapes through a symlinked directory when the
	// leaf does not exist yet.
	if resolved, err := filepath.EvalSymlinks(candidate); err == nil {
		candidate = resolved
	} else if parent, err := filepath.EvalSymlinks(filepath.Dir(candidate)); err == nil {
		candidate = filepath.Join(parent, filepath.Base(candidate))
	}

	rel, err := filepath.Rel(r.abs, candidate)
	if err != nil || outside(rel) {
		return "", &PathError{Code: CodeOutside, Path: relPath, Message: "path resolves outside the workspace root"}
	}
	slash := filepath.ToSlash(rel)
	for _, d := range r.deny {
		if slash == d || strings.HasPrefix(slash, d+"/") {
			return "", &PathError{Code: CodeDenied, Path: relPath, Message: "access under " + d + "/ is not allowed"}
		}
	}
	return candidate, nil
}

// ReadFile returns the contents of a file under the root.
func (r *Root) ReadFile(relPath string) (string, error) {
	abs, err := r.Resolve(relPath)
	if err != nil {
		return "", err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	if fi.IsDir() {
		return "", &PathError{Code: CodeNotAFile, Path: relPath, Message: "path is a directory"}
	}
	b, err := os.ReadFile(abs)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// WriteFile writes content under the root, creating parent directories.
func (r *Root) WriteFile(relPath, content string) error {
	abs, err := r.Resolve(relPath)
	if err != nil {
		return err
	}
	if abs == r.abs {
		return &PathError{Code: CodeNotAFile, Path: relPath, Message: "path is the workspace root"}
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return err
	}
	return os.WriteFile(abs, []byte(content), 0o644)
}

// List returns the non-recursive entries of relDir, directories suffixed
// with "/". Denied entries are omitted.
func (r *Root) List(relDir string) ([]string, error) {
	if relDir == "" {
		relDir = "."
	}
	abs, err := r.Resolve(relDir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if _, err := r.Resolve(filepath.Join(relDir, e.Name())); err != nil {
			continue
		}
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	return names, nil
}
