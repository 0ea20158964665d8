package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/petasbytes/codeplayground/internal/config"
)

func TestParseConfig_FullFile(t *testing.T) {
	t.Setenv("TEST_PLAYGROUND_KEY", "sekret")
	t.Setenv("TEST_PLAYGROUND_HOME", "/data")
	yml := `
logLevel: debug
language: Python
interpreter:
  path: python3.12
  args: ["-I"]
assistant:
  provider: anthropic
  model: claude-test
  apiKey: ${TEST_PLAYGROUND_KEY}
  maxTokens: 2048
  tokenBudget: 6000
progress:
  backend: sqlite
  path: ${TEST_PLAYGROUND_HOME}/progress.db
server:
  address: 127.0.0.1:9000
telemetry:
  observe: true
  dir: .events
  tracing: true
workspace:
  root: ${TEST_PLAYGROUND_HOME}/labs
`
	c, err := config.ParseConfig([]byte(yml))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.LogLevel != "debug" || c.Interpreter.Path != "python3.12" || len(c.Interpreter.Args) != 1 {
		t.Fatalf("unexpected top-level fields: %+v", c)
	}
	if c.Assistant.APIKey != "sekret" || c.Assistant.Model != "claude-test" || c.Assistant.MaxTokens != 2048 || c.Assistant.TokenBudget != 6000 {
		t.Fatalf("assistant: %+v", c.Assistant)
	}
	if c.Progress.Backend != "sqlite" || c.Progress.Path != "/data/progress.db" {
		t.Fatalf("progress: %+v", c.Progress)
	}
	if c.Workspace.Root != "/data/labs" || c.Server.Address != "127.0.0.1:9000" {
		t.Fatalf("workspace/server: %+v %+v", c.Workspace, c.Server)
	}
	if !c.Telemetry.Observe || !c.Telemetry.Tracing || c.Telemetry.Dir != ".events" {
		t.Fatalf("telemetry: %+v", c.Telemetry)
	}
}

func TestDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("PORT", "")
	c := config.Default()
	if c.LogLevel != "info" || c.Language != "Python" || c.Assistant.Provider != "gemini" {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if c.Assistant.APIKey != "g-key" {
		t.Fatalf("env key fallback not applied: %q", c.Assistant.APIKey)
	}
	if c.Server.Address != ":8080" {
		t.Fatalf("address: %q", c.Server.Address)
	}
	if c.Progress.Backend != "json" || c.Progress.Path != filepath.Join(".playground", "progress.json") {
		t.Fatalf("progress: %+v", c.Progress)
	}
}

func TestDefaults_PortAndAnthropicKey(t *testing.T) {
	t.Setenv("PORT", "3000")
	t.Setenv("ANTHROPIC_API_KEY", "a-key")
	c, err := config.ParseConfig([]byte("assistant:\n  provider: anthropic\nprogress:\n  backend: sqlite\n"))
	if err != nil {
		t.Fatal(err)
	}
	if c.Server.Address != ":3000" || c.Assistant.APIKey != "a-key" {
		t.Fatalf("got address=%q key=%q", c.Server.Address, c.Assistant.APIKey)
	}
	if filepath.Base(c.Progress.Path) != "progress.db" {
		t.Fatalf("sqlite default path: %q", c.Progress.Path)
	}
}

func TestFromFile_MissingMeansDefaults(t *testing.T) {
	c, err := config.FromFile(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if c.LogLevel != config.DefaultLogLevel {
		t.Fatalf("expected defaults, got %+v", c)
	}
}

func TestFromFile_InvalidYAML(t *testing.T) {
	p := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(p, []byte("logLevel: [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := config.FromFile(p); err == nil {
		t.Fatal("expected parse error")
	}
}
