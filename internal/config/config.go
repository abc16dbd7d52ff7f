// Package config loads workmind configuration from YAML with environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file looked up when --config is not given.
const DefaultPath = "workmind.yaml"

// Config holds all workmind configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	LLM        LLMConfig        `yaml:"llm"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Storage    StorageConfig    `yaml:"storage"`
	Knowledge  KnowledgeConfig  `yaml:"knowledge"`
	Turn       TurnConfig       `yaml:"turn"`
	Escalation EscalationConfig `yaml:"escalation"`
	Evidence   EvidenceConfig   `yaml:"evidence"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr            string `yaml:"addr"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// LLMConfig selects and configures the completion backend.
type LLMConfig struct {
	Provider string `yaml:"provider"` // ollama, gemini
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
}

// EmbeddingConfig configures relevance ranking. Disabled leaves evidence
// ordered by pinning and recency.
type EmbeddingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
}

// StorageConfig selects the ledger, evidence and profile store.
type StorageConfig struct {
	Driver string `yaml:"driver"` // sqlite, memory
	Path   string `yaml:"path"`
}

// KnowledgeConfig points at a governance corpus; empty uses the embedded one.
type KnowledgeConfig struct {
	CorpusPath string `yaml:"corpus_path"`
}

// TurnConfig bounds each turn.
type TurnConfig struct {
	MaxEvidenceChars     int    `yaml:"max_evidence_chars"`
	MaxHistoryTurns      int    `yaml:"max_history_turns"`
	MaxEvidenceDocuments int    `yaml:"max_evidence_documents"`
	Deadline             string `yaml:"deadline"`
}

// EscalationConfig holds the ordered trigger phrases.
type EscalationConfig struct {
	Triggers []string `yaml:"triggers"`
}

// EvidenceConfig configures uploads and the inbox watcher.
type EvidenceConfig struct {
	MaxUploadBytes int    `yaml:"max_upload_bytes"`
	InboxDir       string `yaml:"inbox_dir"`
	InboxSettle    string `yaml:"inbox_settle"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: "10s",
		},
		LLM: LLMConfig{
			Provider: "ollama",
			Model:    "llama3.2",
			BaseURL:  "http://localhost:11434",
		},
		Embedding: EmbeddingConfig{
			Provider: "ollama",
			Model:    "nomic-embed-text",
			BaseURL:  "http://localhost:11434",
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   filepath.Join("data", "workmind.db"),
		},
		Turn: TurnConfig{
			MaxEvidenceChars: 4000,
			MaxHistoryTurns:  10,
			Deadline:         "60s",
		},
		Escalation: EscalationConfig{
			Triggers: []string{"escalate", "approval required", "outside my scope", "requires approval"},
		},
		Evidence: EvidenceConfig{
			MaxUploadBytes: 5 << 20,
			InboxSettle:    "500ms",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file over the defaults.
// A missing file yields the defaults; environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "gemini"
		if c.LLM.Model == "" || c.LLM.Model == DefaultConfig().LLM.Model {
			c.LLM.Model = "gemini-2.5-flash"
		}
	}
	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
			host = "http://" + host
		}
		c.LLM.BaseURL = host
		c.Embedding.BaseURL = host
	}
	if path := os.Getenv("WORKMIND_DB"); path != "" {
		c.Storage.Path = path
	}
	if addr := os.Getenv("WORKMIND_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if level := os.Getenv("WORKMIND_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// Validate rejects settings no component can run with.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "ollama":
	case "gemini":
		if c.LLM.APIKey == "" {
			return fmt.Errorf("llm provider gemini requires an api key (GEMINI_API_KEY)")
		}
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	if c.Embedding.Enabled {
		switch c.Embedding.Provider {
		case "ollama":
		case "gemini":
			if c.LLM.APIKey == "" {
				return fmt.Errorf("embedding provider gemini requires an api key (GEMINI_API_KEY)")
			}
		default:
			return fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider)
		}
	}
	switch c.Storage.Driver {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage driver sqlite requires a path")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Turn.MaxEvidenceChars < 0 || c.Turn.MaxHistoryTurns < 0 || c.Turn.MaxEvidenceDocuments < 0 {
		return fmt.Errorf("turn bounds must not be negative")
	}
	return nil
}

// GetTurnDeadline returns the per-turn completion deadline.
func (c *Config) GetTurnDeadline() time.Duration {
	d, err := time.ParseDuration(c.Turn.Deadline)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// GetShutdownTimeout returns how long the server waits for in-flight requests.
func (c *Config) GetShutdownTimeout() time.Duration {
	d, err := time.ParseDuration(c.Server.ShutdownTimeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// GetInboxSettle returns the quiet period before an inbox file is ingested.
func (c *Config) GetInboxSettle() time.Duration {
	d, err := time.ParseDuration(c.Evidence.InboxSettle)
	if err != nil || d <= 0 {
		return 500 * time.Millisecond
	}
	return d
}
