package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "coachloop"
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./data/coachloop.db"
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = "127.0.0.1:8090"
	}
	if cfg.API.Stream.KeepAlive == 0 {
		cfg.API.Stream.KeepAlive = 15 * time.Second
	}
	if cfg.API.Stream.Budget == 0 {
		cfg.API.Stream.Budget = 5 * time.Minute
	}
	if cfg.LLM.HistoryLimit == 0 {
		cfg.LLM.HistoryLimit = 40
	}
	if cfg.Tools.RatePerMinute == 0 {
		cfg.Tools.RatePerMinute = 10
	}
}

func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.API.JWTSecret == "" {
		return fmt.Errorf("api.jwt_secret is required")
	}
	if envVarPattern.MatchString(cfg.API.JWTSecret) {
		matches := envVarPattern.FindStringSubmatch(cfg.API.JWTSecret)
		if len(matches) > 1 {
			return fmt.Errorf("api.jwt_secret: environment variable ${%s} is not set", matches[1])
		}
	}
	if cfg.LLM.Provider == "" {
		return fmt.Errorf("llm.provider is required")
	}
	if cfg.LLM.Provider != "ollama" && cfg.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required")
	}
	if envVarPattern.MatchString(cfg.LLM.APIKey) {
		matches := envVarPattern.FindStringSubmatch(cfg.LLM.APIKey)
		if len(matches) > 1 {
			return fmt.Errorf("llm.api_key: environment variable ${%s} is not set", matches[1])
		}
	}
	if cfg.API.Stream.KeepAlive <= 0 || cfg.API.Stream.Budget <= 0 {
		return fmt.Errorf("api.stream.keepalive and api.stream.budget must be positive")
	}
	for i, b := range cfg.Coaches {
		if b.ID == "" {
			return fmt.Errorf("coaches[%d].id is required", i)
		}
		if b.Persona == "" {
			return fmt.Errorf("coaches[%d].persona is required", i)
		}
	}
	return nil
}

// interpolateEnv replaces ${VAR} with environment variable values.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}
