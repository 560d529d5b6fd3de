package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"supportrag/internal/domain"
)

// Config holds all configuration for the support-docs assistant.
type Config struct {
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Generation GenerationConfig `yaml:"generation"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Ingest     IngestConfig     `yaml:"ingest"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider    string `yaml:"provider"`    // "openai", "ollama", "local", "mock"
	Model       string `yaml:"model"`       // e.g., "text-embedding-3-small"
	APIKeyEnv   string `yaml:"api_key_env"` // Environment variable for API key
	BaseURL     string `yaml:"base_url"`
	Dimension   int    `yaml:"dimension"` // Required when the model is not a known one
	BatchSize   int    `yaml:"batch_size"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// GenerationConfig configures the answer-generation model.
type GenerationConfig struct {
	Model           string  `yaml:"model"`
	APIKeyEnv       string  `yaml:"api_key_env"`
	BaseURL         string  `yaml:"base_url"`
	MaxContextChars int     `yaml:"max_context_chars"`
	MaxTokens       int     `yaml:"max_tokens"`
	Temperature     float64 `yaml:"temperature"`
	TimeoutSecs     int     `yaml:"timeout_secs"`
}

// ChunkingConfig configures how documents are split.
type ChunkingConfig struct {
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
}

// RetrievalConfig configures semantic retrieval.
type RetrievalConfig struct {
	TopK          int     `yaml:"top_k"`
	MinConfidence float64 `yaml:"min_confidence"` // Filter results below this confidence (0 = disabled)
}

// IngestConfig holds document discovery patterns.
type IngestConfig struct {
	Includes []string `yaml:"includes"`
	Excludes []string `yaml:"excludes"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Embedding: EmbeddingConfig{
			Provider:    "openai",
			Model:       "text-embedding-3-small",
			APIKeyEnv:   "OPENAI_API_KEY",
			Dimension:   0, // Resolved from the model table
			BatchSize:   64,
			TimeoutSecs: 60,
		},
		Generation: GenerationConfig{
			Model:           "gpt-4o-mini",
			APIKeyEnv:       "OPENAI_API_KEY",
			MaxContextChars: 6000,
			MaxTokens:       768,
			Temperature:     0.3,
			TimeoutSecs:     60,
		},
		Chunking: ChunkingConfig{
			ChunkSize:    1500,
			ChunkOverlap: 300,
		},
		Retrieval: RetrievalConfig{
			TopK: 5,
		},
		Ingest: IngestConfig{
			Includes: []string{"**/*.txt", "**/*.md"},
			Excludes: []string{"**/.supportrag/**", "**/.git/**", "**/node_modules/**"},
		},
	}
}

// Validate range-checks every recognized option. Invalid values are fatal at
// startup, never discovered deep in the call stack.
func (c *Config) Validate() error {
	if c.Chunking.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be > 0 (got %d)", domain.ErrInvalidConfig, c.Chunking.ChunkSize)
	}
	if c.Chunking.ChunkOverlap < 0 || c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap must satisfy 0 <= overlap < chunk_size (got overlap=%d, size=%d)",
			domain.ErrInvalidConfig, c.Chunking.ChunkOverlap, c.Chunking.ChunkSize)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("%w: top_k must be > 0 (got %d)", domain.ErrInvalidConfig, c.Retrieval.TopK)
	}
	if c.Retrieval.MinConfidence < 0 || c.Retrieval.MinConfidence > 1 {
		return fmt.Errorf("%w: min_confidence must be in [0,1] (got %g)", domain.ErrInvalidConfig, c.Retrieval.MinConfidence)
	}
	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("%w: embedding batch_size must be > 0 (got %d)", domain.ErrInvalidConfig, c.Embedding.BatchSize)
	}
	switch c.Embedding.Provider {
	case "openai", "ollama", "local", "mock":
	default:
		return fmt.Errorf("%w: unknown embedding provider %q", domain.ErrInvalidConfig, c.Embedding.Provider)
	}
	if c.Generation.MaxContextChars <= 0 {
		return fmt.Errorf("%w: max_context_chars must be > 0 (got %d)", domain.ErrInvalidConfig, c.Generation.MaxContextChars)
	}
	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		return fmt.Errorf("%w: temperature must be in [0,2] (got %g)", domain.ErrInvalidConfig, c.Generation.Temperature)
	}
	return nil
}

// Load loads configuration from a YAML file. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for
// supportrag.yaml, then .supportrag/config.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "supportrag.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".supportrag", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// StorageDir returns the knowledge-base storage directory.
func StorageDir(dir string) string {
	return filepath.Join(dir, ".supportrag")
}

// VectorDBPath returns the path to the vector index file.
func VectorDBPath(dir string) string {
	return filepath.Join(dir, ".supportrag", "vectors.db")
}

// MetaDBPath returns the path to the document metadata file.
func MetaDBPath(dir string) string {
	return filepath.Join(dir, ".supportrag", "meta.db")
}

// EnsureStorageDir ensures the storage directory exists.
func EnsureStorageDir(dir string) error {
	return os.MkdirAll(StorageDir(dir), 0755)
}
