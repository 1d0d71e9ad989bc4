package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/marcozac/go-jsonc"
)

var envTemplateRe = regexp.MustCompile(`\$\{\{\s*\.Env\.(\w+)\s*\}\}`)

// Load reads a JSONC config file, strips comments, expands ${{ .Env.VAR }} templates,
// unmarshals it into Config, and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variable templates (before stripping, since templates are in strings)
	expanded := expandEnvTemplates(string(data))

	// Strip JSONC comments and unmarshal
	var cfg Config
	if err := jsonc.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns a Config with all defaults applied, for running without a config file.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// expandEnvTemplates replaces ${{ .Env.VAR }} with the env var value.
func expandEnvTemplates(s string) string {
	return envTemplateRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envTemplateRe.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		return os.Getenv(parts[1])
	})
}

// applyDefaults fills in zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = "127.0.0.1"
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 18530
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(SkillhubPath(), "catalog.db")
	}
	if cfg.Store.VectorDir == "" {
		cfg.Store.VectorDir = filepath.Join(SkillhubPath(), "vectors")
	}
	if cfg.Search.DefaultLimit <= 0 {
		cfg.Search.DefaultLimit = 5
	}
	if cfg.Search.MinScore == 0 {
		cfg.Search.MinScore = 0.05
	}
	if cfg.Ingest.Root == "" {
		cfg.Ingest.Root = filepath.Join(SkillhubPath(), "skills")
	}
	if len(cfg.Ingest.Exclude) == 0 {
		cfg.Ingest.Exclude = []string{
			"**/__pycache__/**",
			"**/*.pyc",
			"**/.git/**",
			"**/node_modules/**",
			"**/.DS_Store",
		}
	}
	if cfg.Exec.Timeout == 0 {
		cfg.Exec.Timeout = Duration(10 * time.Second)
	}
	if cfg.Sessions.Timeout == 0 {
		cfg.Sessions.Timeout = Duration(30 * time.Minute)
	}
	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = 1024
	}
}
