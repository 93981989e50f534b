package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AppInfo holds basic application metadata.
type AppInfo struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"` // "development" or "production"
}

// LoggerConfig configures the structured logger.
type LoggerConfig struct {
	Level string `yaml:"level"` // "debug", "info", "warn", "error"
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Address        string `yaml:"address"`        // e.g. ":8080"
	MaxUploadBytes int64  `yaml:"maxUploadBytes"` // reject larger uploads
}

// MilvusConfig holds the vector index connection and collection settings.
type MilvusConfig struct {
	Address    string `yaml:"address"`
	Collection string `yaml:"collection"`
	Dimension  int    `yaml:"dimension"` // embedding dimension of the collection
}

// MySQLConfig holds the relational metadata store settings.
type MySQLConfig struct {
	Address         string `yaml:"address"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	Database        string `yaml:"database"`
	MaxOpenConns    int    `yaml:"maxOpenConns"`
	MaxIdleConns    int    `yaml:"maxIdleConns"`
	ConnMaxLifetime int    `yaml:"connMaxLifetime"` // seconds
}

// MongoConfig holds the chunk store settings. The same collection carries
// the text index used for keyword search.
type MongoConfig struct {
	Address    string `yaml:"address"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// RedisConfig holds the distributed lock store settings.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MinIOConfig holds the source-bytes object storage settings.
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	Secure    bool   `yaml:"secure"`
}

// KafkaConfig holds the ingestion work queue settings.
type KafkaConfig struct {
	Brokers       []string `yaml:"brokers"`
	IngestTopic   string   `yaml:"ingestTopic"`
	ConsumerGroup string   `yaml:"consumerGroup"`
}

// DatabaseConfigs groups all external store configurations.
type DatabaseConfigs struct {
	Milvus MilvusConfig `yaml:"milvus"`
	MySQL  MySQLConfig  `yaml:"mysql"`
	Mongo  MongoConfig  `yaml:"mongodb"`
	Redis  RedisConfig  `yaml:"redis"`
	MinIO  MinIOConfig  `yaml:"minio"`
	Kafka  KafkaConfig  `yaml:"kafka"`
}

// EmbeddingConfig selects and configures the embedding provider.
type EmbeddingConfig struct {
	Provider     string  `yaml:"provider"` // "openai", "google", "ollama"
	APIKey       string  `yaml:"apiKey"`
	Model        string  `yaml:"model"`
	BaseURL      string  `yaml:"baseURL"`      // for ollama / self-hosted endpoints
	MaxBatchSize int     `yaml:"maxBatchSize"` // cap per provider request
	MaxAttempts  int     `yaml:"maxAttempts"`  // retry ceiling for transient failures
	RatePerSec   float64 `yaml:"ratePerSec"`   // token bucket refill rate
	Burst        int     `yaml:"burst"`        // token bucket capacity
}

// LLMConfig selects the answer generation provider. Generation is
// optional; when disabled the answer endpoint reports itself unavailable
// and retrieval still works.
type LLMConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider"` // "openai", "google", "ollama"
	APIKey   string `yaml:"apiKey"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"baseURL"` // for ollama / self-hosted endpoints
}

// ChunkingConfig bounds the chunking engine. Sizes are measured in runes;
// UseTokens switches the assembler's context budget to tiktoken tokens.
type ChunkingConfig struct {
	TargetSize int  `yaml:"targetSize"` // preferred chunk size
	MinSize    int  `yaml:"minSize"`    // chunks below this are merged forward
	MaxSize    int  `yaml:"maxSize"`    // hard upper bound outside structural regions
	Overlap    int  `yaml:"overlap"`    // carried from the tail of the previous chunk
	UseTokens  bool `yaml:"useTokens"`  // measure in tiktoken tokens instead of runes
}

// SearchConfig tunes hybrid retrieval and fusion.
type SearchConfig struct {
	SemanticWeight float64 `yaml:"semanticWeight"` // weight of the vector half after normalisation
	KeywordWeight  float64 `yaml:"keywordWeight"`  // weight of the keyword half
	PoolFactor     int     `yaml:"poolFactor"`     // candidate pool = PoolFactor * topK
	DefaultTopK    int     `yaml:"defaultTopK"`
	CacheSize      int     `yaml:"cacheSize"` // query embedding LRU entries, 0 disables
}

// AssemblerConfig tunes context assembly.
type AssemblerConfig struct {
	DefaultBudget int     `yaml:"defaultBudget"` // context size when the caller passes none
	DedupOverlap  float64 `yaml:"dedupOverlap"`  // fraction of shared text treated as duplicate
	SnippetLength int     `yaml:"snippetLength"` // citation snippet size in runes
}

// IngestConfig tunes the ingestion orchestrator.
type IngestConfig struct {
	DropThreshold float64       `yaml:"dropThreshold"` // dropped-chunk fraction above which the pass fails
	LockTTL       time.Duration `yaml:"lockTTL"`       // distributed lock expiry
	IndexAttempts int           `yaml:"indexAttempts"` // retries against an unavailable index
}

// UnmarshalYAML accepts the lock TTL as a duration string ("5m") while
// keeping the field a time.Duration for callers. Absent keys keep their
// defaults.
func (c *IngestConfig) UnmarshalYAML(value *yaml.Node) error {
	raw := struct {
		DropThreshold *float64 `yaml:"dropThreshold"`
		LockTTL       string   `yaml:"lockTTL"`
		IndexAttempts *int     `yaml:"indexAttempts"`
	}{}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.DropThreshold != nil {
		c.DropThreshold = *raw.DropThreshold
	}
	if raw.IndexAttempts != nil {
		c.IndexAttempts = *raw.IndexAttempts
	}
	if raw.LockTTL != "" {
		ttl, err := time.ParseDuration(raw.LockTTL)
		if err != nil {
			return fmt.Errorf("ingest lockTTL: %w", err)
		}
		c.LockTTL = ttl
	}
	return nil
}

// BreakerConfig configures the circuit breaker guarding the index client.
type BreakerConfig struct {
	Enabled          bool   `yaml:"enabled"`
	FailureThreshold uint32 `yaml:"failureThreshold"`
	SuccessThreshold uint32 `yaml:"successThreshold"`
	Timeout          string `yaml:"timeout"` // e.g. "30s"
}

// AppConfig is the root of the YAML configuration file.
type AppConfig struct {
	App       AppInfo         `yaml:"app"`
	Logger    LoggerConfig    `yaml:"logger"`
	Server    ServerConfig    `yaml:"server"`
	Databases DatabaseConfigs `yaml:"databases"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Search    SearchConfig    `yaml:"search"`
	Assembler AssemblerConfig `yaml:"assembler"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Breaker   BreakerConfig   `yaml:"circuitBreaker"`
}

// LoadConfig reads, parses and validates the YAML configuration at path.
func LoadConfig(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with documented defaults. Values mirror
// the ranges validated below.
func Default() *AppConfig {
	return &AppConfig{
		App:    AppInfo{Name: "docqa", Version: "0.1.0", Environment: "development"},
		Logger: LoggerConfig{Level: "info"},
		Server: ServerConfig{Address: ":8080", MaxUploadBytes: 50 << 20},
		Embedding: EmbeddingConfig{
			Provider:     "openai",
			Model:        "text-embedding-3-small",
			MaxBatchSize: 64,
			MaxAttempts:  4,
			RatePerSec:   10,
			Burst:        20,
		},
		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
		},
		Chunking: ChunkingConfig{
			TargetSize: 1000,
			MinSize:    100,
			MaxSize:    2000,
			Overlap:    200,
		},
		Search: SearchConfig{
			SemanticWeight: 0.5,
			KeywordWeight:  0.5,
			PoolFactor:     3,
			DefaultTopK:    10,
			CacheSize:      256,
		},
		Assembler: AssemblerConfig{
			DefaultBudget: 4000,
			DedupOverlap:  0.8,
			SnippetLength: 200,
		},
		Ingest: IngestConfig{
			DropThreshold: 0.5,
			LockTTL:       5 * time.Minute,
			IndexAttempts: 3,
		},
		Breaker: BreakerConfig{
			Enabled:          true,
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          "30s",
		},
	}
}

// Validate checks tunables against their documented valid ranges.
func (c *AppConfig) Validate() error {
	ch := c.Chunking
	if ch.MinSize <= 0 || ch.MaxSize <= 0 || ch.TargetSize <= 0 {
		return fmt.Errorf("chunking sizes must be positive (min=%d target=%d max=%d)", ch.MinSize, ch.TargetSize, ch.MaxSize)
	}
	if ch.MinSize > ch.TargetSize || ch.TargetSize > ch.MaxSize {
		return fmt.Errorf("chunking sizes must satisfy min <= target <= max (min=%d target=%d max=%d)", ch.MinSize, ch.TargetSize, ch.MaxSize)
	}
	if ch.Overlap < 0 || ch.Overlap >= ch.TargetSize {
		return fmt.Errorf("chunking overlap must be in [0, targetSize) (overlap=%d target=%d)", ch.Overlap, ch.TargetSize)
	}

	s := c.Search
	if s.SemanticWeight < 0 || s.KeywordWeight < 0 || s.SemanticWeight+s.KeywordWeight == 0 {
		return fmt.Errorf("fusion weights must be non-negative and not both zero (semantic=%v keyword=%v)", s.SemanticWeight, s.KeywordWeight)
	}
	if s.PoolFactor < 1 {
		return fmt.Errorf("search poolFactor must be >= 1, got %d", s.PoolFactor)
	}

	a := c.Assembler
	if a.DedupOverlap < 0 || a.DedupOverlap > 1 {
		return fmt.Errorf("assembler dedupOverlap must be in [0,1], got %v", a.DedupOverlap)
	}

	if c.Ingest.DropThreshold < 0 || c.Ingest.DropThreshold > 1 {
		return fmt.Errorf("ingest dropThreshold must be in [0,1], got %v", c.Ingest.DropThreshold)
	}

	if c.Embedding.MaxBatchSize <= 0 {
		return fmt.Errorf("embedding maxBatchSize must be positive, got %d", c.Embedding.MaxBatchSize)
	}
	if c.Embedding.MaxAttempts <= 0 {
		return fmt.Errorf("embedding maxAttempts must be positive, got %d", c.Embedding.MaxAttempts)
	}

	return nil
}
