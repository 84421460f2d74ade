// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads assistant settings from YAML and the environment.
//
// Priority is env > file > defaults. Command line flags are applied by the
// CLI on top of the loaded Config.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianAssist/services/assistant/datatypes"
	"github.com/AleutianAI/AleutianAssist/services/assistant/stream"
)

// =============================================================================
// Environment Variables
// =============================================================================

const (
	EnvEndpoint     = "ASSISTANT_ENDPOINT"
	EnvModel        = "ASSISTANT_MODEL"
	EnvAPIKey       = "ASSISTANT_API_KEY"
	EnvHistoryLimit = "ASSISTANT_HISTORY_LIMIT"
	EnvLogLevel     = "ASSISTANT_LOG_LEVEL"
)

// Extraction presets accepted by extraction_preset.
const (
	PresetOpenAI = "openai"
	PresetOllama = "ollama"
)

// =============================================================================
// Types
// =============================================================================

// Config contains all assistant settings.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after creation.
type Config struct {
	// Endpoint is the chat-completions URL.
	Endpoint string `yaml:"endpoint" validate:"required,url"`

	// Model is the model identifier sent upstream.
	Model string `yaml:"model" validate:"required"`

	Temperature float64 `yaml:"temperature" validate:"gte=0,lte=2"`
	TopP        float64 `yaml:"top_p" validate:"gte=0,lte=1"`

	// Stream asks the upstream for an incremental response.
	Stream bool `yaml:"stream"`

	// HistoryLimit bounds the conversation window. 0 disables windowing.
	HistoryLimit int `yaml:"history_limit" validate:"gte=0"`

	// SystemPrompt seeds the conversation as its pinned system message.
	SystemPrompt string `yaml:"system_prompt"`

	// DefaultRole is used for inputs that do not name a role.
	DefaultRole string `yaml:"default_role" validate:"oneof=system user assistant tool"`

	// FallbackContent replaces missing message content.
	FallbackContent string `yaml:"fallback_content"`

	// ExtractionPreset selects stream field paths. When set it wins over
	// Extraction.
	ExtractionPreset string            `yaml:"extraction_preset" validate:"omitempty,oneof=openai ollama"`
	Extraction       stream.Extraction `yaml:"extraction"`

	Transport TransportConfig `yaml:"transport"`
	Guardrail GuardrailConfig `yaml:"guardrail"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Log       LogConfig       `yaml:"log"`
}

// TransportConfig configures the HTTP transport.
type TransportConfig struct {
	// Timeout bounds the wait for response headers, not the stream.
	Timeout      time.Duration     `yaml:"timeout" validate:"gte=0"`
	Retries      int               `yaml:"retries" validate:"gte=0,lte=10"`
	RetryWait    time.Duration     `yaml:"retry_wait" validate:"gte=0"`
	RetryMaxWait time.Duration     `yaml:"retry_max_wait" validate:"gte=0"`
	Headers      map[string]string `yaml:"headers"`
}

// GuardrailConfig configures the policy guardrail.
type GuardrailConfig struct {
	Enabled bool `yaml:"enabled"`

	// PolicyFile replaces the embedded classification patterns.
	PolicyFile string `yaml:"policy_file"`
}

// RetrievalConfig configures Weaviate retrieval. Retrieval is off when
// WeaviateURL is empty.
type RetrievalConfig struct {
	WeaviateURL     string  `yaml:"weaviate_url" validate:"omitempty,url"`
	ClassName       string  `yaml:"class_name"`
	ContentProperty string  `yaml:"content_property"`
	SourceProperty  string  `yaml:"source_property"`
	Limit           int     `yaml:"limit" validate:"gte=0,lte=100"`
	MinScore        float32 `yaml:"min_score" validate:"gte=0"`
	MaxChars        int     `yaml:"max_chars" validate:"gte=0"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
	Dir   string `yaml:"dir"`

	// Audit writes one "Audit event" record per submission.
	Audit bool `yaml:"audit"`
}

// =============================================================================
// Defaults
// =============================================================================

// Default returns the built-in configuration. It targets a local Ollama
// OpenAI-compatible endpoint.
func Default() Config {
	return Config{
		Endpoint:        "http://localhost:11434/v1/chat/completions",
		Model:           "llama3.2",
		Temperature:     0.7,
		TopP:            1,
		Stream:          true,
		HistoryLimit:    20,
		DefaultRole:     string(datatypes.RoleUser),
		FallbackContent: "",
		Extraction:      stream.DefaultExtraction(),
		Transport: TransportConfig{
			Timeout:      60 * time.Second,
			Retries:      2,
			RetryWait:    500 * time.Millisecond,
			RetryMaxWait: 5 * time.Second,
		},
		Guardrail: GuardrailConfig{Enabled: true},
		Log:       LogConfig{Level: "info"},
	}
}

// DefaultPath returns ~/.aleutian/assistant.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".aleutian", "assistant.yaml"), nil
}

// applyDefaults fills fields a config file blanked out.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Endpoint == "" {
		c.Endpoint = def.Endpoint
	}
	if c.Model == "" {
		c.Model = def.Model
	}
	if c.DefaultRole == "" {
		c.DefaultRole = def.DefaultRole
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	c.Log.Level = strings.ToLower(c.Log.Level)

	switch c.ExtractionPreset {
	case PresetOpenAI:
		c.Extraction = stream.DefaultExtraction()
	case PresetOllama:
		c.Extraction = stream.OllamaExtraction()
	}
	if c.Extraction == (stream.Extraction{}) {
		c.Extraction = def.Extraction
	}
}

// =============================================================================
// Loading
// =============================================================================

// Load loads configuration with priority: env > file > defaults.
//
// # Inputs
//
//   - path: YAML file. Empty or missing means defaults only.
//
// # Outputs
//
//   - Config: Merged configuration.
//   - error: Non-nil if the file exists but is invalid, or the merged
//     result fails validation.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	loadFromEnv(&cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func loadFromEnv(cfg *Config) {
	if v := os.Getenv(EnvEndpoint); v != "" {
		cfg.Endpoint = v
	}
	if v := os.Getenv(EnvModel); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv(EnvAPIKey); v != "" {
		if cfg.Transport.Headers == nil {
			cfg.Transport.Headers = make(map[string]string)
		}
		cfg.Transport.Headers["Authorization"] = "Bearer " + v
	}
	if v := os.Getenv(EnvHistoryLimit); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.HistoryLimit = i
		}
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = v
	}
}

// WriteDefault writes Default() to path, creating parent directories. An
// existing file is left alone.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// =============================================================================
// Validation
// =============================================================================

var configValidate = validator.New()

// Validate checks the configuration against its struct tags.
func (c Config) Validate() error {
	return configValidate.Struct(c)
}

// Role returns DefaultRole as a datatypes.Role.
func (c Config) Role() datatypes.Role {
	return datatypes.Role(c.DefaultRole)
}

// InitialHistory returns the seed conversation: the system prompt, if any.
func (c Config) InitialHistory() []datatypes.Message {
	if strings.TrimSpace(c.SystemPrompt) == "" {
		return nil
	}
	return []datatypes.Message{datatypes.NewMessage(datatypes.RoleSystem, c.SystemPrompt)}
}
