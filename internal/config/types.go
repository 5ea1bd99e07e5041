package config

import (
	"time"

	"github.com/coachloop/coachloop/internal/coach"
)

// Config represents the complete coachloop configuration.
type Config struct {
	Service  ServiceConfig     `yaml:"service"`
	Database DatabaseConfig    `yaml:"database"`
	API      APIConfig         `yaml:"api"`
	LLM      LLMConfig         `yaml:"llm"`
	Coaches  []coach.Blueprint `yaml:"coaches"`
	Tools    ToolsConfig       `yaml:"tools"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
}

// DatabaseConfig defines SQLite storage settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Listen    string       `yaml:"listen"`
	JWTSecret string       `yaml:"jwt_secret"`
	Stream    StreamConfig `yaml:"stream"`
}

// StreamConfig bounds the event-stream connections.
type StreamConfig struct {
	KeepAlive time.Duration `yaml:"keepalive"`
	Budget    time.Duration `yaml:"budget"`
}

// LLMConfig defines the LLM provider settings.
type LLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url,omitempty"`
	// HistoryLimit caps how many persisted messages are replayed into the
	// model prompt per turn.
	HistoryLimit int `yaml:"history_limit"`
}

// ToolsConfig defines tool execution limits.
type ToolsConfig struct {
	// RatePerMinute is the per-user, per-tool execute rate. Zero means the
	// catalog default.
	RatePerMinute int `yaml:"rate_per_minute"`
}
