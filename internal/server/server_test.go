package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/petasbytes/codeplayground/internal/assistant"
	"github.com/petasbytes/codeplayground/internal/interp"
	"github.com/petasbytes/codeplayground/internal/playground"
	"github.com/petasbytes/codeplayground/internal/progress"
	"github.com/petasbytes/codeplayground/internal/server"
	"github.com/petasbytes/codeplayground/internal/session"
	"github.com/petasbytes/codeplayground/internal/workspace"
)

const diag = "Traceback (most recent call last):\n  File \"<stdin>\", line 1, in <module>\nNameError: name 'x' is not defined"

// fakeRuntime echoes code line by line, fails on "x", and blocks on "block"
// until release is closed.
type fakeRuntime struct {
	mu      sync.Mutex
	state   interp.State
	release chan struct{}
	started chan struct{}
}

func (f *fakeRuntime) State() interp.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeRuntime) Initialize(context.Context) {
	f.mu.Lock()
	f.state = interp.Ready
	f.mu.Unlock()
}

func (f *fakeRuntime) Run(_ context.Context, code string, sink interp.Sink) error {
	if f.State() != interp.Ready {
		return interp.ErrNotReady
	}
	if code == "block" {
		close(f.started)
		<-f.release
		return nil
	}
	if strings.Contains(code, "x") {
		return &interp.DiagnosticError{Text: diag}
	}
	for _, line := range strings.Split(code, ";") {
		sink(line + "\n")
	}
	return nil
}

type fixedGen struct {
	reply string
	err   error
}

func (g fixedGen) Generate(context.Context, string, string) (string, error) { return g.reply, g.err }

func newTestServer(t *testing.T, gen assistant.Generator) (*httptest.Server, *fakeRuntime) {
	t.Helper()
	rt := &fakeRuntime{state: interp.Ready}
	tr, err := progress.Open(context.Background(), progress.FileStore{Path: filepath.Join(t.TempDir(), "p.json")})
	if err != nil {
		t.Fatal(err)
	}
	hub := server.NewHub(nil)
	opts := playground.Options{Progress: tr, Listener: hub}
	if gen != nil {
		opts.Assistant = assistant.New(gen, assistant.Options{})
	}
	host := playground.New(rt, opts)
	ts := httptest.NewServer(server.New(host, rt, hub, nil))
	t.Cleanup(ts.Close)
	return ts, rt
}

func do(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

func createSession(t *testing.T, base string, spec playground.SessionSpec) session.Snapshot {
	t.Helper()
	var snap session.Snapshot
	if code := do(t, http.MethodPost, base+"/api/sessions", spec, &snap); code != http.StatusCreated {
		t.Fatalf("create: status %d", code)
	}
	return snap
}

func TestSessionLifecycle(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	snap := createSession(t, ts.URL, playground.SessionSpec{InitialCode: "a;b", ExpectedOutput: "a\nb", ModuleID: "1"})
	base := ts.URL + "/api/sessions/" + snap.ID

	var out session.Outcome
	if code := do(t, http.MethodPost, base+"/run", nil, &out); code != http.StatusOK {
		t.Fatalf("run: %d", code)
	}
	if len(out.Lines) != 2 || !out.Passed {
		t.Fatalf("unexpected outcome: %+v", out)
	}

	var progressBody struct {
		Completed []string `json:"completed"`
	}
	do(t, http.MethodGet, ts.URL+"/api/progress", nil, &progressBody)
	if len(progressBody.Completed) != 1 || progressBody.Completed[0] != "1" {
		t.Fatalf("progress: %+v", progressBody)
	}

	var edited session.Snapshot
	if code := do(t, http.MethodPut, base+"/source", map[string]string{"text": "print(x)"}, &edited); code != http.StatusOK {
		t.Fatalf("edit: %d", code)
	}
	if edited.Text != "print(x)" || len(edited.Output) != 0 {
		t.Fatalf("edit snapshot: %+v", edited)
	}

	do(t, http.MethodPost, base+"/run", nil, &out)
	if out.Error == nil || out.Error.Kind != "NameError" {
		t.Fatalf("want NameError, got %+v", out.Error)
	}

	var reset session.Snapshot
	do(t, http.MethodPost, base+"/reset", nil, &reset)
	if reset.Text != "a;b" || reset.Error != nil {
		t.Fatalf("reset: %+v", reset)
	}

	if code := do(t, http.MethodDelete, base, nil, nil); code != http.StatusNoContent {
		t.Fatalf("delete: %d", code)
	}
	if code := do(t, http.MethodGet, base, nil, nil); code != http.StatusNotFound {
		t.Fatalf("get after delete: %d", code)
	}
}

func TestRun_StatusCodes(t *testing.T) {
	ts, rt := newTestServer(t, nil)

	if code := do(t, http.MethodPost, ts.URL+"/api/sessions/nope/run", nil, nil); code != http.StatusNotFound {
		t.Fatalf("missing session: %d", code)
	}

	rt.mu.Lock()
	rt.state = interp.Uninitialized
	rt.mu.Unlock()
	snap := createSession(t, ts.URL, playground.SessionSpec{InitialCode: "a"})
	if code := do(t, http.MethodPost, ts.URL+"/api/sessions/"+snap.ID+"/run", nil, nil); code != http.StatusServiceUnavailable {
		t.Fatalf("not ready: want 503, got %d", code)
	}

	var state map[string]string
	if code := do(t, http.MethodPost, ts.URL+"/api/runtime/init", nil, &state); code != http.StatusAccepted {
		t.Fatalf("init: %d", code)
	}
	deadline := time.Now().Add(time.Second)
	for rt.State() != interp.Ready && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	do(t, http.MethodGet, ts.URL+"/api/runtime", nil, &state)
	if state["state"] != "ready" {
		t.Fatalf("runtime state: %v", state)
	}

	if code := do(t, http.MethodPost, ts.URL+"/api/sessions", map[string]string{"expectedOutput": "("}, nil); code != http.StatusBadRequest {
		t.Fatalf("bad pattern: want 400, got %d", code)
	}
}

func TestRun_BusyIsConflict(t *testing.T) {
	ts, rt := newTestServer(t, nil)
	rt.started = make(chan struct{})
	rt.release = make(chan struct{})
	snap := createSession(t, ts.URL, playground.SessionSpec{InitialCode: "block"})
	url := ts.URL + "/api/sessions/" + snap.ID + "/run"

	done := make(chan int)
	go func() { done <- do(t, http.MethodPost, url, nil, nil) }()
	<-rt.started
	if code := do(t, http.MethodPost, url, nil, nil); code != http.StatusConflict {
		t.Fatalf("overlapping run: want 409, got %d", code)
	}
	close(rt.release)
	if code := <-done; code != http.StatusOK {
		t.Fatalf("first run: %d", code)
	}
}

func TestAssistantRoutes(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		ts, _ := newTestServer(t, nil)
		snap := createSession(t, ts.URL, playground.SessionSpec{})
		if code := do(t, http.MethodPost, ts.URL+"/api/sessions/"+snap.ID+"/explain", nil, nil); code != http.StatusNotImplemented {
			t.Fatalf("want 501, got %d", code)
		}
	})
	t.Run("service failure", func(t *testing.T) {
		ts, _ := newTestServer(t, fixedGen{err: context.DeadlineExceeded})
		snap := createSession(t, ts.URL, playground.SessionSpec{})
		var n playground.Notice
		if code := do(t, http.MethodPost, ts.URL+"/api/sessions/"+snap.ID+"/explain", nil, &n); code != http.StatusBadGateway {
			t.Fatalf("want 502, got %d", code)
		}
		if n.Body != playground.ServiceFailureNotice {
			t.Fatalf("notice: %+v", n)
		}
	})
	t.Run("autofix", func(t *testing.T) {
		ts, _ := newTestServer(t, fixedGen{reply: "---EXPLANATION---\nfixed\n---CODE---\nok"})
		snap := createSession(t, ts.URL, playground.SessionSpec{InitialCode: "x"})
		base := ts.URL + "/api/sessions/" + snap.ID
		if code := do(t, http.MethodPost, base+"/autofix", nil, nil); code != http.StatusConflict {
			t.Fatalf("autofix without error: want 409, got %d", code)
		}
		do(t, http.MethodPost, base+"/run", nil, nil)
		var n playground.Notice
		if code := do(t, http.MethodPost, base+"/autofix", nil, &n); code != http.StatusOK || !n.Applied {
			t.Fatalf("autofix: %d %+v", code, n)
		}
		var snap2 session.Snapshot
		do(t, http.MethodGet, base, nil, &snap2)
		if snap2.Text != "ok" || snap2.Error != nil {
			t.Fatalf("fix not reflected: %+v", snap2)
		}
	})
	t.Run("generate empty task", func(t *testing.T) {
		ts, _ := newTestServer(t, fixedGen{reply: "print(1)"})
		snap := createSession(t, ts.URL, playground.SessionSpec{})
		if code := do(t, http.MethodPost, ts.URL+"/api/sessions/"+snap.ID+"/generate", map[string]string{"task": ""}, nil); code != http.StatusBadRequest {
			t.Fatalf("want 400, got %d", code)
		}
	})
}

func TestWebsocketStreamsOutput(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	snap := createSession(t, ts.URL, playground.SessionSpec{InitialCode: "one;two"})

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/sessions/" + snap.ID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var ev server.Event
	if err := conn.ReadJSON(&ev); err != nil || ev.Type != "snapshot" || ev.Session == nil {
		t.Fatalf("want snapshot first, got %+v, %v", ev, err)
	}

	if code := do(t, http.MethodPost, ts.URL+"/api/sessions/"+snap.ID+"/run", nil, nil); code != http.StatusOK {
		t.Fatalf("run: %d", code)
	}

	var lines []string
	for {
		var ev server.Event
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read: %v", err)
		}
		if ev.Type == "output" {
			lines = append(lines, ev.Line)
			continue
		}
		if ev.Type != "finished" || ev.Outcome == nil {
			t.Fatalf("unexpected event %+v", ev)
		}
		break
	}
	if strings.Join(lines, ",") != "one,two" {
		t.Fatalf("streamed lines: %q", lines)
	}
}

func TestWebsocketUnknownSession(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/sessions/missing"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("expected dial failure")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("want 404 response, got %+v", resp)
	}
}

func TestWorkspaceLoadSave(t *testing.T) {
	dir := t.TempDir()
	root, err := workspace.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := root.WriteFile("lesson.py", "a;b"); err != nil {
		t.Fatal(err)
	}
	rt := &fakeRuntime{state: interp.Ready}
	host := playground.New(rt, playground.Options{Workspace: root})
	ts := httptest.NewServer(server.New(host, rt, nil, nil))
	defer ts.Close()

	snap := createSession(t, ts.URL, playground.SessionSpec{})
	base := ts.URL + "/api/sessions/" + snap.ID

	var loaded session.Snapshot
	if code := do(t, http.MethodPost, base+"/load", map[string]string{"path": "lesson.py"}, &loaded); code != http.StatusOK {
		t.Fatalf("load: %d", code)
	}
	if loaded.Text != "a;b" {
		t.Fatalf("loaded text: %q", loaded.Text)
	}

	do(t, http.MethodPut, base+"/source", map[string]string{"text": "c"}, nil)
	if code := do(t, http.MethodPost, base+"/save", map[string]string{"path": "out/saved.py"}, nil); code != http.StatusNoContent {
		t.Fatalf("save: %d", code)
	}
	got, err := root.ReadFile("out/saved.py")
	if err != nil || got != "c" {
		t.Fatalf("saved file: %q, %v", got, err)
	}

	var files struct {
		Files []string `json:"files"`
	}
	if code := do(t, http.MethodGet, ts.URL+"/api/files", nil, &files); code != http.StatusOK {
		t.Fatalf("files: %d", code)
	}
	if strings.Join(files.Files, ",") != "lesson.py,out/" {
		t.Fatalf("files: %q", files.Files)
	}

	if code := do(t, http.MethodPost, base+"/load", map[string]string{"path": "../escape.py"}, nil); code != http.StatusBadRequest {
		t.Fatalf("escape: want 400, got %d", code)
	}
	if code := do(t, http.MethodPost, base+"/load", map[string]string{"path": "missing.py"}, nil); code != http.StatusNotFound {
		t.Fatalf("missing file: want 404, got %d", code)
	}
}
