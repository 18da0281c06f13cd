// Package config provides configuration loading for loomd.
//
// Configuration is resolved in three layers: built-in defaults, an optional
// YAML file, and LOOM_-prefixed environment variables, highest last.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// Config holds the complete loomd configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Store     StoreConfig     `koanf:"store"`
	Cache     CacheConfig     `koanf:"cache"`
	LLM       LLMConfig       `koanf:"llm"`
	Retrieval RetrievalConfig `koanf:"retrieval"`
	Events    EventsConfig    `koanf:"events"`
	Security  SecurityConfig  `koanf:"security"`
	Ingest    IngestConfig    `koanf:"ingest"`
	GitHub    GitHubConfig    `koanf:"github"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// StoreConfig holds the relational store configuration.
type StoreConfig struct {
	// Path is the SQLite database file. Empty selects the default under
	// the loom config directory.
	Path string `koanf:"path"`
}

// CacheConfig holds the lookup cache configuration.
// MaxEntries 0 disables caching entirely.
type CacheConfig struct {
	TTL        time.Duration `koanf:"ttl"`
	MaxEntries int           `koanf:"max_entries"`
}

// LLMConfig holds the local inference server client configuration.
type LLMConfig struct {
	BaseURL           string        `koanf:"base_url"`
	Model             string        `koanf:"model"`
	APIKey            Secret        `koanf:"api_key"`
	Timeout           time.Duration `koanf:"timeout"`
	RequestsPerSecond float64       `koanf:"requests_per_second"`
	Burst             int           `koanf:"burst"`
	MaxRetries        int           `koanf:"max_retries"`
	MaxTokens         int           `koanf:"max_tokens"`
	Temperature       float64       `koanf:"temperature"`
	// HistoryLimit caps how many recent messages are replayed to the
	// model when assembling a chat prompt.
	HistoryLimit int `koanf:"history_limit"`
}

// RetrievalConfig holds document retrieval configuration.
type RetrievalConfig struct {
	Enabled      bool             `koanf:"enabled"`
	Provider     string           `koanf:"provider"` // "chromem" or "qdrant"
	Path         string           `koanf:"path"`     // chromem persistence directory
	QdrantHost   string           `koanf:"qdrant_host"`
	QdrantPort   int              `koanf:"qdrant_port"`
	Embeddings   EmbeddingsConfig `koanf:"embeddings"`
	ChunkSize    int              `koanf:"chunk_size"`
	ChunkOverlap int              `koanf:"chunk_overlap"`
	TopK         int              `koanf:"top_k"`
	MinScore     float32          `koanf:"min_score"`
}

// EmbeddingsConfig holds embedding provider configuration.
type EmbeddingsConfig struct {
	Provider string `koanf:"provider"` // "openai" or "local"
	BaseURL  string `koanf:"base_url"`
	Model    string `koanf:"model"`
	APIKey   Secret `koanf:"api_key"`
	CacheDir string `koanf:"cache_dir"` // local provider model cache
}

// EventsConfig holds the embedded event bus configuration.
type EventsConfig struct {
	Enabled bool `koanf:"enabled"`
	// Port for the embedded NATS listener. 0 picks a random free port;
	// the listener binds loopback only either way.
	Port int `koanf:"port"`
}

// SecurityConfig holds HTTP hardening configuration.
type SecurityConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
	CSRFEnabled    bool     `koanf:"csrf_enabled"`
	BodyLimit      string   `koanf:"body_limit"`   // echo size string, e.g. "1M"
	UploadLimit    string   `koanf:"upload_limit"` // document upload routes
	RateLimit      float64  `koanf:"rate_limit"`   // requests/second, 0 disables
	RateBurst      int      `koanf:"rate_burst"`
	AuthToken      Secret   `koanf:"auth_token"` // empty disables bearer auth
	ScrubOutbound  bool     `koanf:"scrub_outbound"`
	ScrubAllowlist string   `koanf:"scrub_allowlist"` // optional TOML allowlist path
}

// IngestConfig holds the document inbox watcher configuration.
type IngestConfig struct {
	InboxDir     string `koanf:"inbox_dir"` // empty disables the watcher
	InboxProject string `koanf:"inbox_project"`
}

// GitHubConfig holds the optional GitHub API token used to enrich
// projects created from a repository checkout.
type GitHubConfig struct {
	Token Secret `koanf:"token"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // "json" or "console"
}

// TelemetryConfig holds OpenTelemetry configuration.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	ServiceName string  `koanf:"service_name"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"` // "grpc" or "http/protobuf"
	Insecure    bool    `koanf:"insecure"`
	SampleRatio float64 `koanf:"sample_ratio"`
}

// DefaultConfig returns a fully populated configuration. The loader
// unmarshals file and environment values on top of it, so absent keys
// keep these values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8760,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Path: "", // resolved against the config dir in applyDefaults
		},
		Cache: CacheConfig{
			TTL:        5 * time.Minute,
			MaxEntries: 256,
		},
		LLM: LLMConfig{
			BaseURL:           "http://localhost:8080",
			Model:             "",
			Timeout:           120 * time.Second,
			RequestsPerSecond: 5,
			Burst:             10,
			MaxRetries:        3,
			MaxTokens:         1024,
			Temperature:       0.7,
			HistoryLimit:      40,
		},
		Retrieval: RetrievalConfig{
			Enabled:  false,
			Provider: "chromem",
			Embeddings: EmbeddingsConfig{
				Provider: "openai",
				BaseURL:  "http://localhost:8080",
				Model:    "BAAI/bge-small-en-v1.5",
			},
			QdrantHost:   "localhost",
			QdrantPort:   6334,
			ChunkSize:    1000,
			ChunkOverlap: 200,
			TopK:         4,
			MinScore:     0.3,
		},
		Events: EventsConfig{
			Enabled: true,
			Port:    0,
		},
		Security: SecurityConfig{
			AllowedOrigins: []string{"http://localhost:3000"},
			CSRFEnabled:    true,
			BodyLimit:      "1M",
			UploadLimit:    "25M",
			RateLimit:      20,
			RateBurst:      40,
			ScrubOutbound:  true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Enabled:     false,
			ServiceName: "loomd",
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			Insecure:    true,
			SampleRatio: 1.0,
		},
	}
}

// applyDefaults fills values that depend on the runtime environment.
func applyDefaults(cfg *Config) {
	dir := DataDir()
	if cfg.Store.Path == "" {
		cfg.Store.Path = filepath.Join(dir, "loom.db")
	}
	if cfg.Retrieval.Path == "" {
		cfg.Retrieval.Path = filepath.Join(dir, "vectorstore")
	}
	if cfg.Retrieval.Embeddings.CacheDir == "" {
		cfg.Retrieval.Embeddings.CacheDir = filepath.Join(dir, "models")
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "loomd"
	}
}

// DataDir returns the loom data directory (~/.config/loom). Falls back to
// the working directory when the home directory cannot be resolved.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "loom")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Store.Path == "" {
		return errors.New("store path cannot be empty")
	}
	if c.Cache.TTL < 0 {
		return errors.New("cache ttl cannot be negative")
	}
	if c.Cache.MaxEntries < 0 {
		return errors.New("cache max_entries cannot be negative")
	}

	if err := validateBaseURL("llm.base_url", c.LLM.BaseURL); err != nil {
		return err
	}
	if c.LLM.Timeout <= 0 {
		return errors.New("llm timeout must be positive")
	}
	if c.LLM.RequestsPerSecond < 0 {
		return errors.New("llm requests_per_second cannot be negative")
	}
	if c.LLM.MaxRetries < 0 {
		return errors.New("llm max_retries cannot be negative")
	}
	if c.LLM.HistoryLimit < 1 {
		return errors.New("llm history_limit must be at least 1")
	}

	if c.Retrieval.Enabled {
		switch c.Retrieval.Provider {
		case "chromem", "qdrant":
		default:
			return fmt.Errorf("unknown retrieval provider: %q (must be chromem or qdrant)", c.Retrieval.Provider)
		}
		switch c.Retrieval.Embeddings.Provider {
		case "openai", "local":
		default:
			return fmt.Errorf("unknown embeddings provider: %q (must be openai or local)", c.Retrieval.Embeddings.Provider)
		}
		if c.Retrieval.Embeddings.Provider == "openai" {
			if err := validateBaseURL("retrieval.embeddings.base_url", c.Retrieval.Embeddings.BaseURL); err != nil {
				return err
			}
		}
		if c.Retrieval.ChunkSize < 1 {
			return errors.New("retrieval chunk_size must be positive")
		}
		if c.Retrieval.ChunkOverlap < 0 || c.Retrieval.ChunkOverlap >= c.Retrieval.ChunkSize {
			return fmt.Errorf("retrieval chunk_overlap must be in [0, chunk_size): got %d with chunk_size %d",
				c.Retrieval.ChunkOverlap, c.Retrieval.ChunkSize)
		}
		if c.Retrieval.TopK < 1 {
			return errors.New("retrieval top_k must be at least 1")
		}
	}

	if c.Events.Port < 0 || c.Events.Port > 65535 {
		return fmt.Errorf("invalid events port: %d", c.Events.Port)
	}

	if c.Security.BodyLimit == "" {
		return errors.New("security body_limit cannot be empty")
	}
	if c.Security.UploadLimit == "" {
		return errors.New("security upload_limit cannot be empty")
	}
	if c.Security.RateLimit < 0 {
		return errors.New("security rate_limit cannot be negative")
	}
	for _, origin := range c.Security.AllowedOrigins {
		if origin == "*" {
			return errors.New("wildcard CORS origin is not allowed; list origins explicitly")
		}
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging format must be 'json' or 'console', got %q", c.Logging.Format)
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.ServiceName == "" {
			return errors.New("telemetry service_name required when telemetry is enabled")
		}
		switch c.Telemetry.Protocol {
		case "grpc", "http/protobuf":
		default:
			return fmt.Errorf("telemetry protocol must be 'grpc' or 'http/protobuf', got %q", c.Telemetry.Protocol)
		}
		if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
			return fmt.Errorf("telemetry sample_ratio must be in [0, 1], got %v", c.Telemetry.SampleRatio)
		}
	}

	if c.Ingest.InboxDir != "" && c.Ingest.InboxProject == "" {
		return errors.New("ingest inbox_project required when inbox_dir is set")
	}

	return nil
}

func validateBaseURL(field, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s cannot be empty", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https, got %q", field, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s is missing a host", field)
	}
	return nil
}
