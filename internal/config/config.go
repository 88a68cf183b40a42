package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Ollama    OllamaConfig    `mapstructure:"ollama"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Vector    VectorConfig    `mapstructure:"vector"`
	Indexer   IndexerConfig   `mapstructure:"indexer"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
}

// EmbeddingConfig holds embedding service configuration
type EmbeddingConfig struct {
	Provider string `mapstructure:"provider"` // ollama, openai, hugot, service
	Model    string `mapstructure:"model"`    // model identity, drives the collection name
	Host     string `mapstructure:"host"`     // For the remote embedding service
	Timeout  int    `mapstructure:"timeout"`  // seconds, per call

	OpenAI OpenAIConfig `mapstructure:"openai"`
	Hugot  HugotConfig  `mapstructure:"hugot"`
}

// OpenAIConfig configures an OpenAI-compatible embeddings endpoint
type OpenAIConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	APIKeyEnv string `mapstructure:"api_key_env"`
}

// HugotConfig configures the in-process sentence transformer
type HugotConfig struct {
	ModelDir string `mapstructure:"model_dir"`
}

// OllamaConfig holds Ollama-related configuration
type OllamaConfig struct {
	Host string `mapstructure:"host"`
}

// VectorConfig holds vector database configuration
type VectorConfig struct {
	Type     string `mapstructure:"type"` // qdrant, pgvector, memory
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	APIKey   string `mapstructure:"api_key"`
	DSN      string `mapstructure:"dsn"`       // pgvector connection string
	DataPath string `mapstructure:"data_path"` // memory store persistence, optional
	Timeout  int    `mapstructure:"timeout"`   // seconds, per call
}

// IndexerConfig holds segmentation and indexing configuration
type IndexerConfig struct {
	ChunkSize       int      `mapstructure:"chunk_size"`    // bytes
	ChunkOverlap    int      `mapstructure:"chunk_overlap"` // bytes
	UpsertBatchSize int      `mapstructure:"upsert_batch_size"`
	Extensions      []string `mapstructure:"extensions"`
	IgnoreDirs      []string `mapstructure:"ignore_dirs"`
}

// RetrievalConfig holds the retrieval funnel parameters
type RetrievalConfig struct {
	K                int     `mapstructure:"k"`
	FetchK           int     `mapstructure:"fetch_k"`
	MinScore         float64 `mapstructure:"min_score"`
	MaxChunksPerFile int     `mapstructure:"max_chunks_per_file"`
	DiversityLambda  float64 `mapstructure:"diversity_lambda"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Ollama: OllamaConfig{
			Host: "http://localhost:11434",
		},
		Embedding: EmbeddingConfig{
			Provider: "ollama",
			Model:    "nomic-embed-text:latest",
			Host:     "http://localhost:8001",
			Timeout:  120,
			OpenAI: OpenAIConfig{
				BaseURL:   "https://api.openai.com/v1",
				APIKeyEnv: "OPENAI_API_KEY",
			},
			Hugot: HugotConfig{
				ModelDir: "./models",
			},
		},
		Vector: VectorConfig{
			Type:    "qdrant",
			Host:    "localhost",
			Port:    6333,
			Timeout: 10,
		},
		Indexer: IndexerConfig{
			ChunkSize:       4096,
			ChunkOverlap:    128,
			UpsertBatchSize: 128,
			Extensions: []string{
				".go", ".py", ".js", ".ts", ".tsx", ".jsx", ".java", ".kt", ".rs", ".rb", ".php",
				".cpp", ".c", ".h", ".cs", ".sh", ".sql", ".yaml", ".yml", ".json", ".toml",
				".txt", ".md", ".rst", ".pdf", ".docx", ".pptx", ".rtf", ".epub",
			},
			IgnoreDirs: []string{".git", "node_modules", "vendor", "__pycache__", ".idea", ".vscode"},
		},
		Retrieval: RetrievalConfig{
			K:                8,
			FetchK:           15,
			MinScore:         0.2,
			MaxChunksPerFile: 2,
			DiversityLambda:  0.5,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from file and environment
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config in default locations
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".ragindex"))
		}
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.SetConfigName("ragindex")
		v.SetConfigType("yaml")
	}

	// Environment variable overrides, e.g. RAGINDEX_VECTOR_HOST
	v.SetEnvPrefix("RAGINDEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only applies to keys viper already knows about
	for _, key := range []string{
		"ollama.host",
		"embedding.provider", "embedding.model", "embedding.host", "embedding.timeout",
		"embedding.openai.base_url", "embedding.openai.api_key_env", "embedding.hugot.model_dir",
		"vector.type", "vector.host", "vector.port", "vector.api_key", "vector.dsn", "vector.data_path", "vector.timeout",
		"indexer.chunk_size", "indexer.chunk_overlap", "indexer.upsert_batch_size",
		"retrieval.k", "retrieval.fetch_k", "retrieval.min_score", "retrieval.max_chunks_per_file", "retrieval.diversity_lambda",
		"server.host", "server.port",
		"log.level",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		// Config file not found, use defaults
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the invariants the segmenter and retriever rely on
func (c *Config) Validate() error {
	if c.Indexer.ChunkSize <= 0 {
		return fmt.Errorf("indexer.chunk_size must be positive, got %d", c.Indexer.ChunkSize)
	}
	if c.Indexer.ChunkOverlap < 0 || c.Indexer.ChunkOverlap >= c.Indexer.ChunkSize {
		return fmt.Errorf("indexer.chunk_overlap must be in [0, %d), got %d", c.Indexer.ChunkSize, c.Indexer.ChunkOverlap)
	}
	if c.Indexer.UpsertBatchSize <= 0 {
		return fmt.Errorf("indexer.upsert_batch_size must be positive, got %d", c.Indexer.UpsertBatchSize)
	}
	if c.Retrieval.K <= 0 {
		return fmt.Errorf("retrieval.k must be positive, got %d", c.Retrieval.K)
	}
	if c.Retrieval.FetchK <= c.Retrieval.K {
		return fmt.Errorf("retrieval.fetch_k (%d) must be greater than retrieval.k (%d)", c.Retrieval.FetchK, c.Retrieval.K)
	}
	if c.Retrieval.MaxChunksPerFile <= 0 {
		return fmt.Errorf("retrieval.max_chunks_per_file must be positive, got %d", c.Retrieval.MaxChunksPerFile)
	}
	if c.Retrieval.DiversityLambda < 0 || c.Retrieval.DiversityLambda > 1 {
		return fmt.Errorf("retrieval.diversity_lambda must be in [0, 1], got %v", c.Retrieval.DiversityLambda)
	}
	return nil
}

// QdrantURL returns the REST endpoint of the Qdrant server
func (c VectorConfig) QdrantURL() string {
	if strings.HasPrefix(c.Host, "http://") || strings.HasPrefix(c.Host, "https://") {
		return fmt.Sprintf("%s:%d", strings.TrimSuffix(c.Host, "/"), c.Port)
	}
	return fmt.Sprintf("http://%s:%d", c.Host, c.Port)
}

// CallTimeout returns the per-call timeout of the vector store
func (c VectorConfig) CallTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// CallTimeout returns the per-call timeout of the embedding provider
func (c EmbeddingConfig) CallTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}
