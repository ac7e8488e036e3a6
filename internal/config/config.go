// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string

	// SoulPath is the markdown file holding the long-term identity document.
	SoulPath string
	// WorkspaceDir confines the filesystem tools.
	WorkspaceDir string

	LLM LLMConfig

	// AgentMaxSteps bounds the tool-calling loop per turn.
	AgentMaxSteps int

	// ConsolidationThreshold is the user/assistant message count at which a
	// consolidation pass is scheduled after a turn.
	ConsolidationThreshold int
	// ConsolidationMinTurns is the minimum message count below which
	// consolidation skips without calling the model.
	ConsolidationMinTurns int

	// InsightExpiry bounds how long a queued insight stays deliverable.
	InsightExpiry time.Duration
}

// LLMConfig controls the model client used for the agent, title
// generation, and consolidation.
type LLMConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:         getEnv("PORT", "8080"),
		FrontendURL:  getEnv("FRONTEND_URL", ""),
		DBPath:       getEnv("DB_PATH", "./data/seraph.db"),
		SoulPath:     getEnv("SOUL_PATH", "./data/soul.md"),
		WorkspaceDir: getEnv("WORKSPACE_DIR", "./data/workspace"),
		LLM: LLMConfig{
			BaseURL: getEnv("LLM_BASE_URL", "https://openrouter.ai/api/v1"),
			APIKey:  getEnv("OPENROUTER_API_KEY", ""),
			Model:   getEnv("LLM_MODEL", "anthropic/claude-sonnet-4"),
		},
		AgentMaxSteps:          getEnvInt("AGENT_MAX_STEPS", 10),
		ConsolidationThreshold: getEnvInt("CONSOLIDATION_THRESHOLD", 6),
		ConsolidationMinTurns:  getEnvInt("CONSOLIDATION_MIN_TURNS", 2),
		InsightExpiry:          getEnvDuration("INSIGHT_EXPIRY", 24*time.Hour),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.SoulPath == "" {
		return fmt.Errorf("SOUL_PATH cannot be empty")
	}
	if c.AgentMaxSteps <= 0 {
		return fmt.Errorf("AGENT_MAX_STEPS must be > 0")
	}
	if c.ConsolidationMinTurns <= 0 {
		return fmt.Errorf("CONSOLIDATION_MIN_TURNS must be > 0")
	}
	if c.InsightExpiry <= 0 {
		return fmt.Errorf("INSIGHT_EXPIRY must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
