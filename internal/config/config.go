package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Env          string                  `yaml:"env"`
	LogLevel     string                  `yaml:"log_level"`
	InferenceLLM LLMConfig               `yaml:"inference_llm"`
	EmbedLLM     LLMConfig               `yaml:"embed_llm"`
	Database     DatabaseConfig          `yaml:"database"`
	Blob         BlobConfig              `yaml:"blob"`
	Vector       VectorConfig            `yaml:"vector"`
	RAG          RAGConfig               `yaml:"rag"`
	Thresholds   ThresholdConfig         `yaml:"thresholds"`
	Library      LibraryConfig           `yaml:"library"`
	Budgets      map[string]BudgetConfig `yaml:"budgets"`
}

// LLMConfig describes one model endpoint. Provider is openai, ollama or gemini.
type LLMConfig struct {
	Provider string `yaml:"provider"`
	BaseURL  string `yaml:"base_url"`
	Key      string `yaml:"key"`
	Model    string `yaml:"model"`
}

type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	Password string `yaml:"password"`
	Debug    bool   `yaml:"debug"`
	// InMemory swaps Postgres for the in-process store; used for local runs.
	InMemory bool `yaml:"in_memory"`
}

type BlobConfig struct {
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	InMemory  bool   `yaml:"in_memory"`
}

type VectorConfig struct {
	Path          string `yaml:"path"`
	InMemory      bool   `yaml:"in_memory"`
	Compress      bool   `yaml:"compress"`
	EncryptionKey string `yaml:"encryption_key"`
}

type RAGConfig struct {
	ChunkSize     int `yaml:"chunk_size"`
	ChunkOverlap  int `yaml:"chunk_overlap"`
	TopK          int `yaml:"top_k"`
	MinChunkChars int `yaml:"min_chunk_chars"`
	// EmbedMaxChars is the safe input length of the embedding model.
	EmbedMaxChars  int `yaml:"embed_max_chars"`
	EmbedCacheSize int `yaml:"embed_cache_size"`
}

// ThresholdConfig holds minimum similarity per source family. The values are
// tuned for the current embedding model.
type ThresholdConfig struct {
	KnowledgeBase   float64 `yaml:"knowledge_base"`
	PastPerformance float64 `yaml:"past_performance"`
	ContentLibrary  float64 `yaml:"content_library"`
}

type LibraryConfig struct {
	TopN          int     `yaml:"top_n"`
	MinScore      float64 `yaml:"min_score"`
	FallbackScore float64 `yaml:"fallback_score"`
	ListingChars  int     `yaml:"listing_chars"`
}

// BudgetConfig is the per-category character allocation for one task type.
type BudgetConfig struct {
	Solicitation    int `yaml:"solicitation"`
	KnowledgeBase   int `yaml:"knowledge_base"`
	PastPerformance int `yaml:"past_performance"`
	ContentLibrary  int `yaml:"content_library"`
	Total           int `yaml:"total"`
}

const (
	defaultChunkSize      = 1000
	defaultChunkOverlap   = 200
	defaultTopK           = 8
	defaultMinChunkChars  = 400
	defaultEmbedMaxChars  = 4000
	defaultEmbedCacheSize = 512
	defaultLibraryTopN    = 10
)

// LoadConfig reads the YAML file at path, overlays environment variables
// (a .env file is loaded first when present) and fills defaults.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Env = firstNonEmpty(strings.TrimSpace(os.Getenv("APP_ENV")), cfg.Env, "local")
	cfg.LogLevel = firstNonEmpty(strings.TrimSpace(os.Getenv("LOG_LEVEL")), cfg.LogLevel, "info")

	cfg.InferenceLLM.Key = firstNonEmpty(os.Getenv("LLM_API_KEY"), cfg.InferenceLLM.Key)
	cfg.InferenceLLM.BaseURL = firstNonEmpty(os.Getenv("LLM_BASE_URL"), cfg.InferenceLLM.BaseURL)
	cfg.InferenceLLM.Model = firstNonEmpty(os.Getenv("LLM_MODEL"), cfg.InferenceLLM.Model)
	cfg.EmbedLLM.Key = firstNonEmpty(os.Getenv("EMBED_API_KEY"), cfg.EmbedLLM.Key, cfg.InferenceLLM.Key)
	cfg.EmbedLLM.BaseURL = firstNonEmpty(os.Getenv("EMBED_BASE_URL"), cfg.EmbedLLM.BaseURL)

	cfg.Database.DSN = firstNonEmpty(os.Getenv("DATABASE_URL"), cfg.Database.DSN)
	cfg.Database.Password = firstNonEmpty(os.Getenv("DATABASE_PASSWORD"), cfg.Database.Password)

	cfg.Blob.Endpoint = firstNonEmpty(os.Getenv("BLOB_S3_ENDPOINT"), cfg.Blob.Endpoint)
	cfg.Blob.AccessKey = firstNonEmpty(os.Getenv("BLOB_S3_ACCESS_KEY"), os.Getenv("MINIO_ROOT_USER"), cfg.Blob.AccessKey)
	cfg.Blob.SecretKey = firstNonEmpty(os.Getenv("BLOB_S3_SECRET_KEY"), os.Getenv("MINIO_ROOT_PASSWORD"), cfg.Blob.SecretKey)
	cfg.Blob.Bucket = firstNonEmpty(os.Getenv("BLOB_S3_BUCKET"), cfg.Blob.Bucket)
	if raw := strings.TrimSpace(os.Getenv("BLOB_S3_USE_SSL")); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			cfg.Blob.UseSSL = v
		}
	}

	cfg.Vector.EncryptionKey = firstNonEmpty(os.Getenv("VECTOR_ENCRYPTION_KEY"), cfg.Vector.EncryptionKey)
}

func applyDefaults(cfg *Config) {
	if cfg.InferenceLLM.Provider == "" {
		cfg.InferenceLLM.Provider = "openai"
	}
	if cfg.EmbedLLM.Provider == "" {
		cfg.EmbedLLM.Provider = "ollama"
	}
	if cfg.Blob.Region == "" {
		cfg.Blob.Region = "us-east-1"
	}
	if cfg.Blob.Bucket == "" {
		cfg.Blob.Bucket = "brief-documents"
	}
	if cfg.Vector.Path == "" {
		cfg.Vector.Path = "./chromemdb"
	}

	if cfg.RAG.ChunkSize <= 0 || cfg.RAG.ChunkOverlap < 0 {
		cfg.RAG.ChunkSize = defaultChunkSize
		cfg.RAG.ChunkOverlap = defaultChunkOverlap
	}
	if cfg.RAG.TopK <= 0 {
		cfg.RAG.TopK = defaultTopK
	}
	if cfg.RAG.MinChunkChars <= 0 {
		cfg.RAG.MinChunkChars = defaultMinChunkChars
	}
	if cfg.RAG.EmbedMaxChars <= 0 {
		cfg.RAG.EmbedMaxChars = defaultEmbedMaxChars
	}
	if cfg.RAG.EmbedCacheSize <= 0 {
		cfg.RAG.EmbedCacheSize = defaultEmbedCacheSize
	}

	if cfg.Thresholds == (ThresholdConfig{}) {
		cfg.Thresholds = ThresholdConfig{
			KnowledgeBase:   0.35,
			PastPerformance: 0.30,
			ContentLibrary:  0.40,
		}
	}

	if cfg.Library.TopN <= 0 {
		cfg.Library.TopN = defaultLibraryTopN
	}
	if cfg.Library.MinScore <= 0 {
		cfg.Library.MinScore = 0.70
	}
	if cfg.Library.FallbackScore <= 0 {
		cfg.Library.FallbackScore = 0.85
	}
	if cfg.Library.ListingChars <= 0 {
		cfg.Library.ListingChars = 600
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
