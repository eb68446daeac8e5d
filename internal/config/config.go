// Package config provides configuration loading and structs for the HiddenThread server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Engine    EngineConfig    `yaml:"engine"`
	Watch     WatchConfig     `yaml:"watch"`
}

// WatchConfig holds inbox directory watch settings.
type WatchConfig struct {
	// Directories are document inboxes; files are chunked into the graph.
	Directories []string `yaml:"directories"`
	// NoteDirectories are note inboxes; each file is one note for extraction and matching.
	NoteDirectories []string `yaml:"note_directories"`
	Extensions      []string `yaml:"extensions"`
	Recursive       *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port" validate:"gte=1,lte=65535"`
}

// StorageConfig holds paths for the database and indices.
type StorageConfig struct {
	DatabasePath     string        `yaml:"database_path" validate:"required"`
	IndexPath        string        `yaml:"index_path"`
	KeywordIndexPath string        `yaml:"keyword_index_path"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
}

// EmbeddingConfig selects and configures the embedder.
type EmbeddingConfig struct {
	Provider   string        `yaml:"provider" validate:"oneof=onnx openai mock"`
	ModelPath  string        `yaml:"model_path"`
	Model      string        `yaml:"model"`
	BaseURL    string        `yaml:"base_url"`
	APIKeyEnv  string        `yaml:"api_key_env"`
	Dimensions int           `yaml:"dimensions" validate:"gt=0"`
	MaxTokens  int           `yaml:"max_tokens" validate:"gt=1"`
	CacheSize  int           `yaml:"cache_size" validate:"gt=0"`
	Timeout    time.Duration `yaml:"timeout"`
}

// LLMConfig configures the summarizer used for extraction, suggestions and answers.
type LLMConfig struct {
	Provider          string        `yaml:"provider" validate:"oneof=openai none"`
	BaseURL           string        `yaml:"base_url"`
	APIKeyEnv         string        `yaml:"api_key_env"`
	Model             string        `yaml:"model"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute" validate:"gte=0"`
	Burst             int           `yaml:"burst" validate:"gte=0"`
	BreakerFailures   uint32        `yaml:"breaker_failures"`
	BreakerTimeout    time.Duration `yaml:"breaker_timeout"`
}

// EngineConfig holds matching, graph and chunking settings. MatchThreshold and
// SimilarityThreshold are independent: the first pairs needs with availabilities,
// the second decides graph connectivity.
type EngineConfig struct {
	MatchThreshold      float64 `yaml:"match_threshold" validate:"gte=-1,lte=1"`
	SimilarityThreshold float64 `yaml:"similarity_threshold" validate:"gte=-1,lte=1"`
	DefaultTopK         int     `yaml:"default_top_k" validate:"gt=0"`
	DefaultMaxDepth     int     `yaml:"default_max_depth" validate:"gte=0"`
	MaxContextFragments int     `yaml:"max_context_fragments" validate:"gt=0"`
	ChunkSize           int     `yaml:"chunk_size" validate:"gt=0"`
	ChunkOverlap        int     `yaml:"chunk_overlap" validate:"gte=0,ltfield=ChunkSize"`
	DraftConcurrency    int     `yaml:"draft_concurrency" validate:"gt=0"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// A .env file next to the config (if present) is loaded into the environment first
// so API keys can be resolved with APIKey.
// Returns an error if the file cannot be read, parsed or validated.
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

	configDir := filepath.Dir(path)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	cfg.Storage.IndexPath = expandPath(cfg.Storage.IndexPath, configDir)
	cfg.Storage.KeywordIndexPath = expandPath(cfg.Storage.KeywordIndexPath, configDir)
	if cfg.Embedding.ModelPath != "" {
		cfg.Embedding.ModelPath = expandPath(cfg.Embedding.ModelPath, configDir)
	}
	for i := range cfg.Watch.NoteDirectories {
		cfg.Watch.NoteDirectories[i] = expandPath(cfg.Watch.NoteDirectories[i], configDir)
	}
	for i := range cfg.Watch.Directories {
		cfg.Watch.Directories[i] = expandPath(cfg.Watch.Directories[i], configDir)
	}

	if err := LoadEnv(filepath.Join(configDir, ".env")); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadEnv loads KEY=VALUE pairs from the given .env files without overriding variables
// that are already set. Missing files are ignored.
func LoadEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Validate checks value ranges after defaults have been applied.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return fmt.Errorf("invalid config: %s failed %q", fe.Namespace(), fe.Tag())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// APIKey returns the value of the environment variable named by envName.
func APIKey(envName string) string {
	if envName == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(envName))
}

// Save writes the config to path. Used for persisting watch directory add/remove.
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

// expandPath converts a path to absolute. Relative paths, with or without a leading "./",
// are relative to configDir; "~/" paths are relative to the home directory. ":memory:"
// is kept for in-memory SQLite.
func expandPath(path string, configDir string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
		return path
	}
	return filepath.Join(configDir, path)
}
