package telemetry

import (
	"os"
	"sync"
)

const (
	// EnvObserve enables JSONL emission when set to "1", regardless of Configure.
	EnvObserve = "PLAYGROUND_OBSERVE_JSON"
	// EnvEventsDir overrides the directory events.jsonl is written to.
	EnvEventsDir = "PLAYGROUND_EVENTS_DIR"
	// DefaultDir is used when neither Configure nor EnvEventsDir name a directory.
	DefaultDir = ".playground"
)

var (
	cfgMu          sync.RWMutex
	observeEnabled bool
	eventsDir      string
)

func init() {
	// Startup defaults; Configure replaces them once the config file is read.
	observeEnabled = os.Getenv(EnvObserve) == "1"
	eventsDir = os.Getenv(EnvEventsDir)
}

// Configure sets the observe flag and events directory from loaded config.
func Configure(observe bool, dir string) {
	cfgMu.Lock()
	defer cfgMu.Unlock()
	observeEnabled = observe
	eventsDir = dir
}

// ObserveEnabled reports whether JSONL emission is on.
func ObserveEnabled() bool {
	// Allow tests to enable mid-run via env override.
	if os.Getenv(EnvObserve) == "1" {
		return true
	}
	cfgMu.RLock()
	defer cfgMu.RUnlock()
	return observeEnabled
}

// Dir is the directory holding events.jsonl.
func Dir() string {
	if d := os.Getenv(EnvEventsDir); d != "" {
		return d
	}
	cfgMu.RLock()
	defer cfgMu.RUnlock()
	if eventsDir != "" {
		return eventsDir
	}
	return DefaultDir
}
