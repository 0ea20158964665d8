// Package provider implements the generative-text service boundary for the
// Anthropic Messages API and the Gemini REST API.
package provider

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/petasbytes/codeplayground/internal/assistant"
)

// Provider names accepted by New.
const (
	NameAnthropic = "anthropic"
	NameGemini    = "gemini"
	NameNone      = "none"
)

var (
	// ErrDisabled is returned by New for NameNone.
	ErrDisabled = errors.New("assistant provider disabled")
	// ErrNoAPIKey is returned when the chosen provider has no key.
	ErrNoAPIKey = errors.New("assistant provider: missing API key")
)

type Config struct {
	Name      string
	APIKey    string
	BaseURL   string
	MaxTokens int64
	// HTTPClient replaces the default transport; tests use it.
	HTTPClient *http.Client
}

// New returns the Generator named by cfg.Name.
func New(cfg Config) (assistant.Generator, error) {
	switch cfg.Name {
	case NameNone, "":
		return nil, ErrDisabled
	case NameAnthropic:
		if cfg.APIKey == "" {
			return nil, ErrNoAPIKey
		}
		opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
		if cfg.HTTPClient != nil {
			opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
		}
		return NewAnthropic(NewAnthropicClient(opts...), cfg.MaxTokens), nil
	case NameGemini:
		if cfg.APIKey == "" {
			return nil, ErrNoAPIKey
		}
		return &Gemini{APIKey: cfg.APIKey, BaseURL: cfg.BaseURL, HTTPClient: cfg.HTTPClient}, nil
	default:
		return nil, fmt.Errorf("unknown assistant provider %q", cfg.Name)
	}
}

// DefaultModel returns the model used for name when none is configured.
func DefaultModel(name string) string {
	switch name {
	case NameGemini:
		return DefaultGeminiModel
	case NameAnthropic:
		return DefaultAnthropicModel
	}
	return ""
}

var (
	_ assistant.Generator = (*Anthropic)(nil)
	_ assistant.Generator = (*Gemini)(nil)
)
