package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	slogotel "github.com/remychantenay/slog-otel"

	"github.com/petasbytes/codeplayground/internal/assistant"
	"github.com/petasbytes/codeplayground/internal/config"
	"github.com/petasbytes/codeplayground/internal/interp"
	"github.com/petasbytes/codeplayground/internal/playground"
	"github.com/petasbytes/codeplayground/internal/progress"
	"github.com/petasbytes/codeplayground/internal/provider"
	"github.com/petasbytes/codeplayground/internal/server"
	"github.com/petasbytes/codeplayground/internal/session"
	"github.com/petasbytes/codeplayground/internal/telemetry"
	"github.com/petasbytes/codeplayground/internal/workspace"
)

var version = "0.0.0-dev"

func main() {
	os.Exit(run())
}

// run returns the process exit code so deferred cleanup, such as closing the
// progress store, happens before the process exits.
func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	var (
		configFile string
		serve      bool
		file       string
		moduleID   string
		expect     string
	)
	flag.StringVar(&configFile, "config-file", "playground.yaml", "path to config file")
	flag.BoolVar(&serve, "serve", false, "serve the HTTP API instead of the interactive prompt")
	flag.StringVar(&file, "file", "", "workspace file to open in the interactive prompt")
	flag.StringVar(&moduleID, "module", "", "module id completed when -expect matches")
	flag.StringVar(&expect, "expect", "", "expected output pattern for the interactive session")
	flag.Parse()

	// A missing .env is normal.
	_ = godotenv.Load()

	c, err := config.FromFile(configFile)
	if err != nil {
		slog.Error("Failed to load config", "err", err)
		return 1
	}

	logLevel := new(slog.Level)
	if err := logLevel.UnmarshalText([]byte(c.LogLevel)); err != nil {
		slog.Error("Failed to parse log level", "err", err)
		return 1
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(slogotel.OtelHandler{Next: handler})
	slog.SetDefault(logger)

	telemetry.Configure(c.Telemetry.Observe, c.Telemetry.Dir)
	telShutdown := func(context.Context) error { return nil }
	if c.Telemetry.Tracing {
		telShutdown, err = setupTracing(ctx, c.Telemetry.Dir)
		if err != nil {
			slog.Error("Failed to set up tracing", "err", err)
			return 1
		}
	}

	manager := interp.NewManager(interp.PythonLoader{Path: c.Interpreter.Path, Args: c.Interpreter.Args}, logger)
	// Start the expensive setup now; runs wait for it.
	go manager.Initialize(ctx)

	tracker, err := openProgress(ctx, c.Progress)
	if err != nil {
		slog.Error("Failed to open progress", "err", err)
		return 1
	}
	defer func() {
		if err := tracker.Close(); err != nil {
			slog.Error("Failed to close progress", "err", err)
		}
	}()

	root, err := workspace.Open(c.Workspace.Root, c.Telemetry.Dir)
	if err != nil {
		slog.Error("Failed to open workspace", "err", err)
		return 1
	}

	opts := playground.Options{
		Assistant: newAssistant(c, logger),
		Progress:  tracker,
		Workspace: root,
		Logger:    logger,
	}

	if serve {
		err = runServer(ctx, c, manager, opts, logger)
	} else {
		err = runREPL(ctx, manager, opts, playground.SessionSpec{Path: file, ModuleID: moduleID, ExpectedOutput: expect})
	}
	if err != nil {
		slog.Error("Exiting", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := telShutdown(shutdownCtx); err != nil {
		slog.Error("Failed to shutdown telemetry", "err", err)
	}
	if err != nil {
		return 1
	}
	return 0
}

func setupTracing(ctx context.Context, dir string) (func(context.Context) error, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	traces, err := os.OpenFile(filepath.Join(dir, "traces.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	metrics, err := os.OpenFile(filepath.Join(dir, "metrics.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		traces.Close()
		return nil, err
	}
	shutdown, err := telemetry.Setup(ctx,
		telemetry.WithVersion(version),
		telemetry.WithInstanceID(os.Getenv("SERVICE_INSTANCE_ID")),
		telemetry.WithWriter(traces),
		telemetry.WithMetricsWriter(metrics),
	)
	if err != nil {
		traces.Close()
		metrics.Close()
		return nil, err
	}
	return func(ctx context.Context) error {
		return errors.Join(shutdown(ctx), traces.Close(), metrics.Close())
	}, nil
}

func openProgress(ctx context.Context, c config.Progress) (*progress.Tracker, error) {
	store, err := progress.OpenStore(c.Backend, c.Path)
	if err != nil {
		return nil, err
	}
	tracker, err := progress.Open(ctx, store)
	if err != nil {
		store.Close()
		return nil, err
	}
	return tracker, nil
}

// newAssistant returns nil when no provider is usable; assistant requests
// then report playground.ErrDisabled.
func newAssistant(c *config.Config, logger *slog.Logger) *assistant.Assistant {
	gen, err := provider.New(provider.Config{
		Name:      c.Assistant.Provider,
		APIKey:    c.Assistant.APIKey,
		BaseURL:   c.Assistant.BaseURL,
		MaxTokens: c.Assistant.MaxTokens,
	})
	if err != nil {
		if errors.Is(err, provider.ErrDisabled) {
			logger.Info("Assistant disabled")
		} else {
			logger.Warn("Assistant unavailable", "provider", c.Assistant.Provider, "err", err)
		}
		return nil
	}
	model := c.Assistant.Model
	if model == "" {
		model = provider.DefaultModel(c.Assistant.Provider)
	}
	return assistant.New(gen, assistant.Options{
		Model:       model,
		Language:    c.Language,
		TokenBudget: c.Assistant.TokenBudget,
		Logger:      logger,
	})
}

func runServer(ctx context.Context, c *config.Config, manager *interp.Manager, opts playground.Options, logger *slog.Logger) error {
	hub := server.NewHub(logger)
	opts.Listener = hub
	host := playground.New(manager, opts)

	srv := &http.Server{
		Addr:              c.Server.Address,
		Handler:           server.New(host, manager, hub, logger),
		ReadHeaderTimeout: 15 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Listening on", "addr", srv.Addr, "version", version)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("Shutdown signal received")

	shutdownPeriod := 30
	if sdp, ok := os.LookupEnv("TERMINATION_GRACE_PERIOD"); ok {
		if v, err := strconv.Atoi(sdp); err == nil {
			shutdownPeriod = v
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(shutdownPeriod)*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runREPL(ctx context.Context, manager *interp.Manager, opts playground.Options, spec playground.SessionSpec) error {
	p := &printer{w: os.Stdout}
	opts.Listener = p
	host := playground.New(manager, opts)
	sess, err := host.Create(spec)
	if err != nil {
		return err
	}
	r := &repl{host: host, sess: sess, runtime: manager, out: os.Stdout}
	return r.loop(ctx, os.Stdin)
}

var _ session.Listener = (*printer)(nil)
