// Package config loads the fabula configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all fabula configuration.
type Config struct {
	LLM      LLMConfig      `yaml:"llm"`
	Store    StoreConfig    `yaml:"store"`
	Matching MatchingConfig `yaml:"matching"`
	Cache    CacheConfig    `yaml:"cache"`
	Engine   EngineConfig   `yaml:"engine"`
}

// LLMConfig configures the completion boundary.
type LLMConfig struct {
	Provider string `yaml:"provider"` // openai, anthropic, gemini
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// StoreConfig configures the world-model database.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// MatchingConfig configures fuzzy entity/event resolution.
type MatchingConfig struct {
	Threshold float64 `yaml:"threshold"`
}

// CacheConfig configures the read cache.
type CacheConfig struct {
	TTL string `yaml:"ttl"`
}

// EngineConfig configures the extraction orchestrator.
type EngineConfig struct {
	AgentTimeout string `yaml:"agent_timeout"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LLM: LLMConfig{
			Provider: "gemini",
			Model:    "gemini-2.5-flash",
			Timeout:  "120s",
		},
		Store:    StoreConfig{DatabasePath: "fabula.db"},
		Matching: MatchingConfig{Threshold: 0.7},
		Cache:    CacheConfig{TTL: "5m"},
		Engine:   EngineConfig{AgentTimeout: "90s"},
	}
}

// Load reads a YAML config file, layering it over the defaults. The
// FABULA_API_KEY environment variable overrides the configured key.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	if key := os.Getenv("FABULA_API_KEY"); key != "" {
		cfg.LLM.APIKey = key
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for structural problems.
func (c Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "anthropic", "gemini":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	if c.Store.DatabasePath == "" {
		return fmt.Errorf("store.database_path is required")
	}
	if c.Matching.Threshold < 0 || c.Matching.Threshold > 1 {
		return fmt.Errorf("matching.threshold %v outside [0,1]", c.Matching.Threshold)
	}
	for _, d := range []struct {
		name  string
		value string
	}{
		{"llm.timeout", c.LLM.Timeout},
		{"cache.ttl", c.Cache.TTL},
		{"engine.agent_timeout", c.Engine.AgentTimeout},
	} {
		if d.value == "" {
			continue
		}
		if _, err := time.ParseDuration(d.value); err != nil {
			return fmt.Errorf("invalid %s: %w", d.name, err)
		}
	}
	return nil
}

// Duration parses a duration field, returning fallback for empty or
// unparseable values.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// Write marshals the config to a YAML file.
func (c Config) Write(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
