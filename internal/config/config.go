package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/drone/envsubst"
	"gopkg.in/yaml.v3"

	"github.com/petasbytes/codeplayground/internal/telemetry"
)

type Config struct {
	LogLevel    string      `yaml:"logLevel"`
	Language    string      `yaml:"language"`
	Interpreter Interpreter `yaml:"interpreter"`
	Assistant   Assistant   `yaml:"assistant"`
	Progress    Progress    `yaml:"progress"`
	Server      Server      `yaml:"server"`
	Telemetry   Telemetry   `yaml:"telemetry"`
	Workspace   Workspace   `yaml:"workspace"`
}

type Interpreter struct {
	Path string   `yaml:"path"` // binary name or path; empty means python3 on PATH
	Args []string `yaml:"args"` // extra flags before the program, e.g. [-I]
}

type Assistant struct {
	Provider    string `yaml:"provider"` // anthropic, gemini or none
	Model       string `yaml:"model"`
	APIKey      string `yaml:"apiKey"` // supports ${ENV_VAR} substitution
	MaxTokens   int64  `yaml:"maxTokens"`
	BaseURL     string `yaml:"baseURL"`
	TokenBudget int    `yaml:"tokenBudget"` // estimated prompt tokens; 0 means no limit
}

type Progress struct {
	Backend string `yaml:"backend"` // json, sqlite or docstore
	Path    string `yaml:"path"`    // supports ${ENV_VAR} substitution
}

type Server struct {
	Address string `yaml:"address"`
}

type Telemetry struct {
	Observe bool   `yaml:"observe"`
	Dir     string `yaml:"dir"`
	Tracing bool   `yaml:"tracing"`
}

type Workspace struct {
	Root string `yaml:"root"` // supports ${ENV_VAR} substitution
}

const (
	DefaultLogLevel = "info"
	DefaultLanguage = "Python"
	DefaultProvider = "gemini"
	DefaultAddress  = ":8080"
)

// Default returns the configuration used when no file is present.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Language == "" {
		c.Language = DefaultLanguage
	}
	if c.Assistant.Provider == "" {
		c.Assistant.Provider = DefaultProvider
	}
	if c.Assistant.APIKey == "" {
		switch c.Assistant.Provider {
		case "anthropic":
			c.Assistant.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case "gemini":
			c.Assistant.APIKey = os.Getenv("GEMINI_API_KEY")
		}
	}
	if c.Telemetry.Dir == "" {
		c.Telemetry.Dir = telemetry.DefaultDir
	}
	if c.Progress.Backend == "" {
		c.Progress.Backend = "json"
	}
	if c.Progress.Path == "" {
		name := "progress.json"
		switch c.Progress.Backend {
		case "sqlite":
			name = "progress.db"
		case "docstore":
			name = "progress.docstore"
		}
		c.Progress.Path = filepath.Join(c.Telemetry.Dir, name)
	}
	if c.Server.Address == "" {
		if port := os.Getenv("PORT"); port != "" {
			c.Server.Address = ":" + port
		} else {
			c.Server.Address = DefaultAddress
		}
	}
}

func ParseConfig(b []byte) (*Config, error) {
	c := &Config{}
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, err
	}
	var err error
	for _, field := range []*string{&c.Assistant.APIKey, &c.Assistant.BaseURL, &c.Progress.Path, &c.Workspace.Root, &c.Interpreter.Path} {
		if *field, err = envsubst.EvalEnv(*field); err != nil {
			return nil, err
		}
	}
	c.applyDefaults()
	return c, nil
}

// FromFile reads f. A missing file yields Default().
func FromFile(f string) (*Config, error) {
	b, err := os.ReadFile(f)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	return ParseConfig(b)
}
