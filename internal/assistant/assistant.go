// Package assistant builds prompts for the three assistance requests
// (generate, explain, autofix) and parses the free-text replies.
//
// The service is asked for a two-section autofix reply delimited by
// ExplanationMarker and CodeMarker. Nothing enforces that shape, so
// ParseAutofix falls back to Unparsed and callers must handle both results.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/petasbytes/codeplayground/internal/metrics"
	"github.com/petasbytes/codeplayground/internal/telemetry"
)

// ErrService marks a failure of the generative-text service. The request is
// not retried.
var ErrService = errors.New("assistant service failure")

// ErrPromptTooLarge is returned, without contacting the service, when a
// prompt's estimated size exceeds the configured token budget.
var ErrPromptTooLarge = errors.New("assistant prompt exceeds token budget")

// DefaultLanguage names the source language in prompts.
const DefaultLanguage = "Python"

// Generator is the generative-text service boundary.
type Generator interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, model, prompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, model, prompt string) (string, error) {
	return f(ctx, model, prompt)
}

type Options struct {
	// Model is passed through to the Generator.
	Model string
	// Language names the source language in prompts; empty means DefaultLanguage.
	Language string
	// TokenBudget caps the estimated prompt size; 0 means no limit.
	TokenBudget int
	Logger      *slog.Logger
}

type Assistant struct {
	gen      Generator
	model    string
	language string
	budget   int
	logger   *slog.Logger
}

func New(gen Generator, opts Options) *Assistant {
	lang := opts.Language
	if lang == "" {
		lang = DefaultLanguage
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Assistant{gen: gen, model: opts.Model, language: lang, budget: opts.TokenBudget, logger: logger}
}

// Model returns the configured model id.
func (a *Assistant) Model() string { return a.model }

var (
	tracer          = otel.Tracer("github.com/petasbytes/codeplayground/internal/assistant")
	meter           = otel.Meter("github.com/petasbytes/codeplayground/internal/assistant")
	requestCount, _ = meter.Int64Counter("playground.assistant.requests", metric.WithDescription("Assistant requests by kind and result."))
)

func countRequest(ctx context.Context, kind, result string) {
	requestCount.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind), attribute.String("result", result)))
}

// Generate asks for source code implementing task and returns it with fences
// stripped. An empty result means the service gave nothing and the caller
// should leave the source unchanged.
func (a *Assistant) Generate(ctx context.Context, task string) (string, error) {
	text, err := a.ask(ctx, "generate", generatePrompt(a.language, task), nil)
	if err != nil {
		return "", err
	}
	return StripFences(text), nil
}

// Explain returns the service's plain-language explanation of source verbatim.
func (a *Assistant) Explain(ctx context.Context, source string) (string, error) {
	return a.ask(ctx, "explain", explainPrompt(a.language, source), nil)
}

// Autofix presents source and its raw diagnostic to the service and parses
// the reply. A reply without CodeMarker yields Unparsed.
func (a *Assistant) Autofix(ctx context.Context, source, diagnostic string) (AutofixResult, error) {
	var res AutofixResult
	_, err := a.ask(ctx, "autofix", autofixPrompt(a.language, source, diagnostic), func(text string) map[string]any {
		res = ParseAutofix(text)
		_, ok := res.(Fix)
		return map[string]any{"parsed": ok}
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ask performs one exchange and records an assist_request event. parse, when
// set, runs on the reply and may contribute extra event fields.
func (a *Assistant) ask(ctx context.Context, kind, prompt string, parse func(string) map[string]any) (string, error) {
	ctx, span := tracer.Start(ctx, "assistant."+kind)
	span.SetAttributes(attribute.String("assist.kind", kind), attribute.String("assist.model", a.model))
	defer span.End()

	est := metrics.EstimateTokens(prompt)
	fields := map[string]any{
		"kind":              kind,
		"model":             a.model,
		"prompt_est_tokens": est,
		"error":             nil,
	}
	for k, v := range metrics.Measure(prompt).Fields() {
		fields["prompt_"+k] = v
	}
	if a.budget > 0 && est > a.budget {
		fields["error"] = "over budget"
		telemetry.EmitContext(ctx, "assist_request", fields)
		countRequest(ctx, kind, "over_budget")
		span.SetStatus(codes.Error, "over budget")
		return "", fmt.Errorf("%w: %s: estimated %d tokens, budget %d", ErrPromptTooLarge, kind, est, a.budget)
	}

	start := time.Now()
	text, err := a.gen.Generate(ctx, a.model, prompt)
	fields["duration_ms"] = time.Since(start).Milliseconds()
	if err != nil {
		// Service errors may echo request content; only the class is recorded.
		fields["error"] = "service error"
		telemetry.EmitContext(ctx, "assist_request", fields)
		countRequest(ctx, kind, "service_error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "service error")
		a.logger.Warn("Assistant request failed", "kind", kind, "err", err)
		return "", fmt.Errorf("%w: %s: %w", ErrService, kind, err)
	}
	for k, v := range metrics.Measure(text).Fields() {
		fields["response_"+k] = v
	}
	if parse != nil {
		for k, v := range parse(text) {
			fields[k] = v
		}
	}
	telemetry.EmitContext(ctx, "assist_request", fields)
	countRequest(ctx, kind, "ok")
	return text, nil
}
