package telemetry_test

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/petasbytes/codeplayground/internal/telemetry"
)

func readEvents(t *testing.T, dir string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, telemetry.EventsFile))
	if err != nil {
		t.Fatalf("read events: %v", err)
	}
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("invalid JSON line %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func observeInto(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(telemetry.EnvObserve, "1")
	t.Setenv(telemetry.EnvEventsDir, dir)
	return dir
}

func TestEmit_HappyPath(t *testing.T) {
	dir := observeInto(t)
	telemetry.Emit("test_event", map[string]any{"foo": "bar", "num": 42})

	events := readEvents(t, dir)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	ev := events[0]
	if ev["event"] != "test_event" || ev["foo"] != "bar" || ev["num"] != float64(42) {
		t.Fatalf("unexpected event: %#v", ev)
	}
	ts, ok := ev["time"].(string)
	if !ok {
		t.Fatal("expected time field as string")
	}
	if _, err := time.Parse(time.RFC3339Nano, ts); err != nil {
		t.Errorf("time field not valid RFC3339Nano: %v", err)
	}
}

func TestEmit_MultipleEmissionsInOrder(t *testing.T) {
	dir := observeInto(t)
	for _, name := range []string{"event1", "event2", "event3"} {
		telemetry.Emit(name, nil)
	}
	events := readEvents(t, dir)
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, want := range []string{"event1", "event2", "event3"} {
		if events[i]["event"] != want {
			t.Errorf("line %d: want %s, got %v", i+1, want, events[i]["event"])
		}
	}
}

func TestEmit_MapIsolation(t *testing.T) {
	observeInto(t)
	fields := map[string]any{"key": "value"}
	telemetry.Emit("test", fields)
	if len(fields) != 1 {
		t.Fatalf("caller map mutated: %#v", fields)
	}
}

func TestEmit_DisabledWritesNothing(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(telemetry.EnvObserve, "0")
	t.Setenv(telemetry.EnvEventsDir, dir)
	telemetry.Configure(false, "")

	telemetry.Emit("test", map[string]any{"a": 1})
	if _, err := os.Stat(filepath.Join(dir, telemetry.EventsFile)); !os.IsNotExist(err) {
		t.Fatalf("expected no events file when observation is off, got err=%v", err)
	}
}

func TestEmit_ConfigureEnables(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(telemetry.EnvObserve, "")
	t.Setenv(telemetry.EnvEventsDir, "")
	telemetry.Configure(true, dir)
	t.Cleanup(func() { telemetry.Configure(false, "") })

	telemetry.Emit("configured", nil)
	if got := readEvents(t, dir); len(got) != 1 || got[0]["event"] != "configured" {
		t.Fatalf("unexpected events: %#v", got)
	}
}

func TestEmit_MarshalErrorWritesNothing(t *testing.T) {
	dir := observeInto(t)
	telemetry.Emit("bad", map[string]any{"x": math.NaN()})
	if _, err := os.Stat(filepath.Join(dir, telemetry.EventsFile)); !os.IsNotExist(err) {
		t.Fatalf("expected no events file on marshal error, got err=%v", err)
	}
}

func TestEmitContext_AddsIdentifiers(t *testing.T) {
	dir := observeInto(t)
	ctx := telemetry.WithRunID(telemetry.WithSessionID(context.Background(), "s-1"), "r-1")
	telemetry.EmitContext(ctx, "run_finished", map[string]any{"status": "ok"})

	ev := readEvents(t, dir)[0]
	if ev["session_id"] != "s-1" || ev["run_id"] != "r-1" || ev["status"] != "ok" {
		t.Fatalf("unexpected event: %#v", ev)
	}
}

func TestSetup_ExportsSpans(t *testing.T) {
	var buf bytes.Buffer
	ctx := context.Background()
	shutdown, err := telemetry.Setup(ctx, telemetry.WithWriter(&buf), telemetry.WithVersion("test"))
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	_, span := otel.Tracer("test").Start(ctx, "probe-span")
	span.End()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !strings.Contains(buf.String(), "probe-span") {
		t.Fatalf("span not exported: %s", buf.String())
	}
}

func TestSetup_ExportsMetrics(t *testing.T) {
	var spans, metrics bytes.Buffer
	ctx := context.Background()
	shutdown, err := telemetry.Setup(ctx, telemetry.WithWriter(&spans), telemetry.WithMetricsWriter(&metrics))
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	counter, err := otel.Meter("test").Int64Counter("probe.counter")
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	counter.Add(ctx, 3)
	// Shutdown forces a final collection.
	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if !strings.Contains(metrics.String(), "probe.counter") {
		t.Fatalf("metric not exported: %s", metrics.String())
	}
}
