package config

import "time"

// DefaultDataDir is the root for the default database, index and model paths.
const DefaultDataDir = "/usr/local/var/hiddenthread/data"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3001
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = DefaultDataDir + "/db/hiddenthread.db"
	}
	if cfg.Storage.IndexPath == "" {
		cfg.Storage.IndexPath = DefaultDataDir + "/indices/vectors.bin"
	}
	if cfg.Storage.KeywordIndexPath == "" {
		cfg.Storage.KeywordIndexPath = DefaultDataDir + "/indices/bleve"
	}
	if cfg.Storage.SnapshotInterval == 0 {
		cfg.Storage.SnapshotInterval = 5 * time.Minute
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "onnx"
	}
	if cfg.Embedding.Provider == "onnx" && cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = DefaultDataDir + "/models/all-MiniLM-L6-v2.onnx"
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
	if cfg.Embedding.APIKeyEnv == "" {
		cfg.Embedding.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30 * time.Second
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.LLM.APIKeyEnv == "" {
		cfg.LLM.APIKeyEnv = "OPENAI_API_KEY"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o-mini"
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 60 * time.Second
	}
	if cfg.LLM.RequestsPerMinute == 0 {
		cfg.LLM.RequestsPerMinute = 20
	}
	if cfg.LLM.Burst == 0 {
		cfg.LLM.Burst = 2
	}
	if cfg.LLM.BreakerFailures == 0 {
		cfg.LLM.BreakerFailures = 5
	}
	if cfg.LLM.BreakerTimeout == 0 {
		cfg.LLM.BreakerTimeout = 60 * time.Second
	}

	if cfg.Engine.MatchThreshold == 0 {
		cfg.Engine.MatchThreshold = 0.3
	}
	if cfg.Engine.SimilarityThreshold == 0 {
		cfg.Engine.SimilarityThreshold = 0.2
	}
	if cfg.Engine.DefaultTopK == 0 {
		cfg.Engine.DefaultTopK = 5
	}
	if cfg.Engine.DefaultMaxDepth == 0 {
		cfg.Engine.DefaultMaxDepth = 2
	}
	if cfg.Engine.MaxContextFragments == 0 {
		cfg.Engine.MaxContextFragments = 10
	}
	if cfg.Engine.ChunkSize == 0 {
		cfg.Engine.ChunkSize = 300
	}
	if cfg.Engine.ChunkOverlap == 0 {
		cfg.Engine.ChunkOverlap = 50
	}
	if cfg.Engine.DraftConcurrency == 0 {
		cfg.Engine.DraftConcurrency = 4
	}

	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".txt", ".md", ".pdf", ".docx", ".xlsx", ".odt", ".rtf"}
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories)+len(cfg.Watch.NoteDirectories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
