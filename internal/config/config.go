package config

import "time"

// Config is the root configuration for Skillhub.
type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Store     StoreConfig     `json:"store"`
	Embedding EmbeddingConfig `json:"embedding"`
	Search    SearchConfig    `json:"search"`
	Ingest    IngestConfig    `json:"ingest"`
	Exec      ExecConfig      `json:"exec"`
	Sessions  SessionsConfig  `json:"sessions"`
	Events    EventsConfig    `json:"events"`
}

// GatewayConfig holds the gateway server settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// StoreConfig configures the record stores.
type StoreConfig struct {
	// Path is the SQLite database file holding the metadata and file stores.
	Path string `json:"path"`
	// VectorDir is the directory for the persistent semantic index.
	VectorDir string `json:"vector_dir"`
}

// EmbeddingConfig configures the semantic index embedder.
// An empty driver disables the similarity search mode.
type EmbeddingConfig struct {
	Driver  string     `json:"driver"` // "openai", "ollama" or "" (disabled)
	Model   string     `json:"model"`
	BaseURL string     `json:"base_url,omitempty"`
	Dims    int        `json:"dims,omitempty"`
	Auth    AuthConfig `json:"auth"`
}

// AuthConfig configures API key resolution.
type AuthConfig struct {
	APIKey string `json:"api_key,omitempty"` // Direct API key or ${{ .Env.VAR }} template
}

// SearchConfig tunes the search router.
type SearchConfig struct {
	DefaultLimit int     `json:"default_limit"`
	MinScore     float64 `json:"min_score"`
}

// IngestConfig configures skill ingestion.
type IngestConfig struct {
	// Root is the directory scanned by the setup job; each subdirectory is one skill.
	Root string `json:"root"`
	// Exclude holds doublestar patterns never materialized as file records.
	Exclude []string `json:"exclude"`
	// RefreshCron, when set, re-ingests Root on a cron schedule.
	RefreshCron string `json:"refresh_cron,omitempty"`
}

// ExecConfig configures the execution adapter.
type ExecConfig struct {
	Timeout Duration `json:"timeout"`
}

// SessionsConfig configures parameter collection sessions.
type SessionsConfig struct {
	Timeout Duration `json:"timeout"`
}

// EventsConfig holds event bus settings.
type EventsConfig struct {
	BufferSize int `json:"buffer_size"`
}

// Duration wraps time.Duration for JSON unmarshaling.
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	// Remove quotes
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}
