// Package config provides configuration loading and structs for the parenting Q&A service.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug   bool          `yaml:"debug"`
	Server  ServerConfig  `yaml:"server"`
	LLM     LLMConfig     `yaml:"llm"`
	Search  SearchConfig  `yaml:"search"`
	Storage StorageConfig `yaml:"storage"`
	Ask     AskConfig     `yaml:"ask"`
	Prompts PromptsConfig `yaml:"prompts"`
	Client  ClientConfig  `yaml:"client"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// FrontendURL is the single origin allowed by CORS.
	FrontendURL string `yaml:"frontend_url"`
	// RequestTimeout bounds JSON routes. Streaming routes are bounded by Ask timeouts instead.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// LLMConfig selects and configures the answer model.
type LLMConfig struct {
	// Provider is one of "openai", "ollama", "gemini", "mock".
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float64 `yaml:"temperature"`
}

// SearchConfig configures the web-search provider.
type SearchConfig struct {
	// Provider is "google" or "none".
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key"`
	EngineID string `yaml:"engine_id"`
	// Endpoint overrides the provider base URL.
	Endpoint string `yaml:"endpoint"`
}

// StorageConfig selects the conversation store and the recall index location.
type StorageConfig struct {
	// Driver is one of "sqlite", "mongo", "postgres".
	Driver          string `yaml:"driver"`
	DatabasePath    string `yaml:"database_path"`
	MongoURI        string `yaml:"mongo_uri"`
	MongoDatabase   string `yaml:"mongo_database"`
	PostgresDSN     string `yaml:"postgres_dsn"`
	RecallIndexPath string `yaml:"recall_index_path"`
	// QueryLog enables SQL query logging for the postgres driver.
	QueryLog bool `yaml:"query_log"`
}

// AskConfig bounds the external calls of one turn.
type AskConfig struct {
	KeywordTimeout    time.Duration `yaml:"keyword_timeout"`
	SearchTimeout     time.Duration `yaml:"search_timeout"`
	TitleTimeout      time.Duration `yaml:"title_timeout"`
	AnswerTimeout     time.Duration `yaml:"answer_timeout"`
	FollowUpTimeout   time.Duration `yaml:"follow_up_timeout"`
	PersistTimeout    time.Duration `yaml:"persist_timeout"`
	Retries           *int          `yaml:"retries"`
	CitationCacheSize int           `yaml:"citation_cache_size"`
}

// RetriesOrDefault returns the retry count; defaults to 1 when unset.
func (a *AskConfig) RetriesOrDefault() int {
	if a.Retries != nil {
		return *a.Retries
	}
	return 1
}

// PromptsConfig points at an optional prompt template file.
type PromptsConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// ClientConfig configures the terminal client.
type ClientConfig struct {
	ServerURL    string `yaml:"server_url"`
	IdentityPath string `yaml:"identity_path"`
	// Style is the glamour style name used for answers ("auto", "dark", "light", "notty").
	Style string `yaml:"style"`
}

// Load reads and parses the config file at path, expands paths, applies defaults, and then
// applies environment overrides. Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)
	ApplyEnv(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.RecallIndexPath = expandPath(cfg.Storage.RecallIndexPath, configDir)
	cfg.Client.IdentityPath = expandPath(cfg.Client.IdentityPath, configDir)
	if cfg.Prompts.Path != "" {
		cfg.Prompts.Path = expandPath(cfg.Prompts.Path, configDir)
	}

	return &cfg, nil
}

// Default returns a configuration built from defaults and environment overrides only, used
// when no config file exists.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	ApplyEnv(&cfg)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, ".")
	cfg.Storage.RecallIndexPath = expandPath(cfg.Storage.RecallIndexPath, ".")
	cfg.Client.IdentityPath = expandPath(cfg.Client.IdentityPath, ".")
	return &cfg
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate reports configuration that cannot serve requests.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "gemini":
		if c.LLM.APIKey == "" {
			return fmt.Errorf("llm.api_key is required for provider %q", c.LLM.Provider)
		}
	case "ollama", "mock":
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}
	switch c.Search.Provider {
	case "google":
		if c.Search.APIKey == "" || c.Search.EngineID == "" {
			return fmt.Errorf("search.api_key and search.engine_id are required for google search")
		}
	case "none":
	default:
		return fmt.Errorf("unknown search provider %q", c.Search.Provider)
	}
	switch c.Storage.Driver {
	case "sqlite":
	case "mongo":
		if c.Storage.MongoURI == "" {
			return fmt.Errorf("storage.mongo_uri is required for the mongo driver")
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
